// Package integrity seals onboarding events with content hashes and folds a
// tenant's log into a single digest. All functions are pure and deterministic.
package integrity

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ashita-ai/concierge/internal/model"
)

const hashPrefix = "v1:"

// EventHash returns the content hash of e. Every field except ID and
// ContentHash is covered, so a rewritten payload or a shuffled version
// breaks verification.
func EventHash(e model.OnboardingEvent) (string, error) {
	payload, err := canonicalPayload(e.Payload)
	if err != nil {
		return "", fmt.Errorf("integrity: encode payload: %w", err)
	}

	h := sha256.New()
	writeField := func(s string) {
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(s))) //nolint:gosec // bounded by request body limits
		h.Write(lenBuf[:])
		h.Write([]byte(s))
	}
	writeField(e.TenantID.String())
	writeField(strconv.FormatInt(e.Version, 10))
	writeField(string(e.Type))
	writeField(e.OccurredAt.UTC().Format(time.RFC3339Nano))
	writeField(string(payload))
	return hashPrefix + hex.EncodeToString(h.Sum(nil)), nil
}

// Seal sets e.ContentHash.
func Seal(e *model.OnboardingEvent) error {
	sum, err := EventHash(*e)
	if err != nil {
		return err
	}
	e.ContentHash = sum
	return nil
}

// Verify reports whether e carries a hash matching its content.
func Verify(e model.OnboardingEvent) bool {
	if !strings.HasPrefix(e.ContentHash, hashPrefix) {
		return false
	}
	sum, err := EventHash(e)
	return err == nil && sum == e.ContentHash
}

// canonicalPayload encodes the payload the way it reads back from storage:
// numbers become float64 and map keys are sorted.
func canonicalPayload(p map[string]any) ([]byte, error) {
	if p == nil {
		p = map[string]any{}
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	return json.Marshal(generic)
}

// hashPair produces SHA-256(0x01 || a || b) as a hex string. The 0x01 prefix
// separates internal nodes from leaves (RFC 6962).
func hashPair(a, b string) string {
	h := sha256.New()
	h.Write([]byte{0x01})
	h.Write([]byte(a))
	h.Write([]byte(b))
	return hex.EncodeToString(h.Sum(nil))
}

// Digest folds the content hashes of events, in version order, into a Merkle
// root. An empty log has an empty digest. A single event's digest is its
// hash. Odd nodes are paired with themselves.
func Digest(events []model.OnboardingEvent) string {
	if len(events) == 0 {
		return ""
	}
	level := make([]string, len(events))
	for i, e := range events {
		level[i] = e.ContentHash
	}
	for len(level) > 1 {
		next := make([]string, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 < len(level) {
				next = append(next, hashPair(level[i], level[i+1]))
			} else {
				next = append(next, hashPair(level[i], level[i]))
			}
		}
		level = next
	}
	return level[0]
}
