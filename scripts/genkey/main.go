// genkey manages concierge JWT signing material.
//
// Usage (run from the repo root):
//
//	go run ./scripts/genkey                      # write data/jwt_{private,public}.pem
//	go run ./scripts/genkey -dir secrets
//	go run ./scripts/genkey -token -tenant <uuid> # mint a tenant token from existing keys
//
// Key files are written with mode 0600 and never overwritten. Without
// persistent keys the server signs with an ephemeral pair and every restart
// invalidates outstanding tokens.
package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/concierge/internal/auth"
)

func main() {
	dir := flag.String("dir", "data", "directory holding the key pair")
	mint := flag.Bool("token", false, "mint a token instead of generating keys")
	tenant := flag.String("tenant", "", "tenant ID for -token")
	subject := flag.String("subject", "dashboard", "token subject for -token")
	role := flag.String("role", auth.RoleTenant, "token role for -token")
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime for -token")
	flag.Parse()

	privPath := filepath.Join(*dir, "jwt_private.pem")
	pubPath := filepath.Join(*dir, "jwt_public.pem")

	var err error
	if *mint {
		err = mintToken(privPath, pubPath, *tenant, *subject, *role, *ttl)
	} else {
		err = writeKeys(*dir, privPath, pubPath)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func writeKeys(dir, privPath, pubPath string) error {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	for _, path := range []string{privPath, pubPath} {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists, delete it first to rotate keys", path)
		}
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return fmt.Errorf("generate key: %w", err)
	}
	privDER, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return fmt.Errorf("marshal private key: %w", err)
	}
	pubDER, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return fmt.Errorf("marshal public key: %w", err)
	}

	if err := writePEM(privPath, "PRIVATE KEY", privDER); err != nil {
		return err
	}
	if err := writePEM(pubPath, "PUBLIC KEY", pubDER); err != nil {
		return err
	}
	fmt.Printf("wrote %s\n", privPath)
	fmt.Printf("wrote %s\n", pubPath)
	fmt.Println("Set CONCIERGE_JWT_PRIVATE_KEY and CONCIERGE_JWT_PUBLIC_KEY to these paths.")
	return nil
}

func writePEM(path, blockType string, der []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := pem.Encode(f, &pem.Block{Type: blockType, Bytes: der}); err != nil {
		_ = f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

func mintToken(privPath, pubPath, tenant, subject, role string, ttl time.Duration) error {
	if tenant == "" {
		return errors.New("-tenant is required with -token")
	}
	tenantID, err := uuid.Parse(tenant)
	if err != nil {
		return fmt.Errorf("-tenant: %w", err)
	}
	mgr, err := auth.NewJWTManager(privPath, pubPath, ttl)
	if err != nil {
		return err
	}
	token, exp, err := mgr.IssueToken(tenantID, subject, role)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "expires %s\n", exp.Format(time.RFC3339))
	fmt.Println(token)
	return nil
}
