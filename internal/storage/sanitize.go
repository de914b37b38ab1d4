package storage

import (
	"strings"

	"github.com/ashita-ai/concierge/internal/model"
)

// Postgres rejects U+0000 in text and jsonb values, so it is removed from
// everything written. Both backends strip it so content hashes agree.

// StripNULPayload returns p with NUL removed from every string and map key,
// at any depth. p is not modified.
func StripNULPayload(p map[string]any) map[string]any {
	if p == nil {
		return nil
	}
	return stripNULMap(p)
}

// StripNULMessages returns msgs with NUL removed from roles and part text.
// msgs is not modified.
func StripNULMessages(msgs []model.Message) []model.Message {
	if msgs == nil {
		return nil
	}
	out := make([]model.Message, len(msgs))
	for i, m := range msgs {
		m.Role = stripNUL(m.Role)
		if m.Parts != nil {
			parts := make([]model.Part, len(m.Parts))
			for j, p := range m.Parts {
				p.Text = stripNUL(p.Text)
				parts[j] = p
			}
			m.Parts = parts
		}
		out[i] = m
	}
	return out
}

func stripNUL(s string) string {
	if !strings.ContainsRune(s, 0) {
		return s
	}
	return strings.ReplaceAll(s, "\x00", "")
}

func stripNULMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[stripNUL(k)] = stripNULValue(v)
	}
	return out
}

func stripNULValue(v any) any {
	switch t := v.(type) {
	case string:
		return stripNUL(t)
	case map[string]any:
		return stripNULMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = stripNULValue(e)
		}
		return out
	case []string:
		out := make([]string, len(t))
		for i, e := range t {
			out[i] = stripNUL(e)
		}
		return out
	case map[string]string:
		out := make(map[string]string, len(t))
		for k, e := range t {
			out[stripNUL(k)] = stripNUL(e)
		}
		return out
	default:
		return v
	}
}
