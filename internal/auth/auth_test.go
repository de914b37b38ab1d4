package auth_test

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/concierge/internal/auth"
)

// writeKeyPair writes an Ed25519 pair as PEM files and returns their paths
// and the raw private key for forging tokens.
func writeKeyPair(t *testing.T) (privPath, pubPath string, priv ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	dir := t.TempDir()

	privBytes, err := x509.MarshalPKCS8PrivateKey(priv)
	require.NoError(t, err)
	privPath = filepath.Join(dir, "priv.pem")
	require.NoError(t, os.WriteFile(privPath, pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privBytes}), 0o600))

	pubBytes, err := x509.MarshalPKIXPublicKey(pub)
	require.NoError(t, err)
	pubPath = filepath.Join(dir, "pub.pem")
	require.NoError(t, os.WriteFile(pubPath, pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubBytes}), 0o600))
	return privPath, pubPath, priv
}

func forge(t *testing.T, key ed25519.PrivateKey, claims auth.Claims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(key)
	require.NoError(t, err)
	return s
}

func validClaims(tenantID uuid.UUID) auth.Claims {
	now := time.Now()
	return auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "dashboard",
			Issuer:    auth.Issuer,
			Audience:  jwt.ClaimStrings{auth.Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
		TenantID: tenantID,
		Role:     auth.RoleTenant,
	}
}

func TestIssueAndValidate(t *testing.T) {
	mgr, err := auth.NewJWTManager("", "", time.Hour)
	require.NoError(t, err)
	tenantID := uuid.New()

	token, exp, err := mgr.IssueToken(tenantID, "user-1", auth.RoleTenant)
	require.NoError(t, err)
	assert.True(t, exp.After(time.Now()))

	claims, err := mgr.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, tenantID, claims.TenantID)
	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, auth.RoleTenant, claims.Role)
}

func TestIssueRequiresTenant(t *testing.T) {
	mgr, err := auth.NewJWTManager("", "", time.Hour)
	require.NoError(t, err)
	_, _, err = mgr.IssueToken(uuid.Nil, "x", auth.RoleTenant)
	require.Error(t, err)
}

func TestKeysFromFiles(t *testing.T) {
	privPath, pubPath, priv := writeKeyPair(t)
	mgr, err := auth.NewJWTManager(privPath, pubPath, time.Hour)
	require.NoError(t, err)

	tenantID := uuid.New()
	claims, err := mgr.ValidateToken(forge(t, priv, validClaims(tenantID)))
	require.NoError(t, err)
	assert.Equal(t, tenantID, claims.TenantID)
}

func TestMismatchedKeyFiles(t *testing.T) {
	privPath, _, _ := writeKeyPair(t)
	_, otherPub, _ := writeKeyPair(t)
	_, err := auth.NewJWTManager(privPath, otherPub, time.Hour)
	require.ErrorContains(t, err, "does not match")
}

func TestValidateRejects(t *testing.T) {
	privPath, pubPath, priv := writeKeyPair(t)
	mgr, err := auth.NewJWTManager(privPath, pubPath, time.Hour)
	require.NoError(t, err)
	_, _, stranger := writeKeyPair(t)
	tenantID := uuid.New()

	tests := []struct {
		name  string
		token func() string
	}{
		{"garbage", func() string { return "not.a.jwt" }},
		{"foreign key", func() string { return forge(t, stranger, validClaims(tenantID)) }},
		{"expired", func() string {
			c := validClaims(tenantID)
			c.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
			return forge(t, priv, c)
		}},
		{"no expiry", func() string {
			c := validClaims(tenantID)
			c.ExpiresAt = nil
			return forge(t, priv, c)
		}},
		{"wrong audience", func() string {
			c := validClaims(tenantID)
			c.Audience = jwt.ClaimStrings{"someone-else"}
			return forge(t, priv, c)
		}},
		{"wrong issuer", func() string {
			c := validClaims(tenantID)
			c.Issuer = "evil"
			return forge(t, priv, c)
		}},
		{"no tenant", func() string { return forge(t, priv, validClaims(uuid.Nil)) }},
		{"unknown role", func() string {
			c := validClaims(tenantID)
			c.Role = "superuser"
			return forge(t, priv, c)
		}},
		{"hmac alg", func() string {
			s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, validClaims(tenantID)).SignedString([]byte("secret"))
			require.NoError(t, err)
			return s
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := mgr.ValidateToken(tt.token())
			require.Error(t, err)
		})
	}
}
