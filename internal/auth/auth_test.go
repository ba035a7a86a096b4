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

	"github.com/jb-612/dox-asdlc-sub004/internal/auth"
)

func TestJWTIssueAndValidate(t *testing.T) {
	mgr, err := auth.NewJWTManager("", "", time.Hour)
	require.NoError(t, err)

	token, expiresAt, err := mgr.IssueToken("ci-bot", auth.RoleEditor)
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.True(t, expiresAt.After(time.Now()))

	claims, err := mgr.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "ci-bot", claims.Subject)
	assert.Equal(t, auth.RoleEditor, claims.Role)
}

func TestIssueToken_RejectsBadInput(t *testing.T) {
	mgr, err := auth.NewJWTManager("", "", time.Hour)
	require.NoError(t, err)

	_, _, err = mgr.IssueToken("", auth.RoleReader)
	assert.Error(t, err)
	_, _, err = mgr.IssueToken("someone", auth.Role("root"))
	assert.Error(t, err)
}

func TestNewJWTManager_RejectsZeroExpiration(t *testing.T) {
	_, err := auth.NewJWTManager("", "", 0)
	assert.Error(t, err)
}

func TestRoleAtLeast(t *testing.T) {
	tests := []struct {
		role, min auth.Role
		want      bool
	}{
		{auth.RoleAdmin, auth.RoleEditor, true},
		{auth.RoleEditor, auth.RoleEditor, true},
		{auth.RoleReader, auth.RoleEditor, false},
		{auth.RoleReader, auth.RoleReader, true},
		{auth.Role("unknown"), auth.RoleReader, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.role)+">="+string(tt.min), func(t *testing.T) {
			assert.Equal(t, tt.want, auth.RoleAtLeast(tt.role, tt.min))
		})
	}
}

// writeKeyPair writes an Ed25519 key pair to temp PEM files.
func writeKeyPair(t *testing.T) (privPath, pubPath string, priv ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	dir := t.TempDir()

	privBytes, err := x509.MarshalPKCS8PrivateKey(priv)
	require.NoError(t, err)
	privPath = filepath.Join(dir, "priv.pem")
	require.NoError(t, os.WriteFile(privPath, pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privBytes}), 0600))

	pubBytes, err := x509.MarshalPKIXPublicKey(pub)
	require.NoError(t, err)
	pubPath = filepath.Join(dir, "pub.pem")
	require.NoError(t, os.WriteFile(pubPath, pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubBytes}), 0600))
	return privPath, pubPath, priv
}

// newTestJWTManagerWithKey returns a manager loaded from PEM files and the
// raw private key for forging tokens.
func newTestJWTManagerWithKey(t *testing.T) (*auth.JWTManager, ed25519.PrivateKey) {
	t.Helper()
	privPath, pubPath, priv := writeKeyPair(t)
	mgr, err := auth.NewJWTManager(privPath, pubPath, time.Hour)
	require.NoError(t, err)
	return mgr, priv
}

func forgeToken(t *testing.T, privKey ed25519.PrivateKey, claims jwt.Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	signed, err := token.SignedString(privKey)
	require.NoError(t, err)
	return signed
}

func registered(issuer string) jwt.RegisteredClaims {
	now := time.Now().UTC()
	return jwt.RegisteredClaims{
		Subject:   "ci-bot",
		Issuer:    issuer,
		Audience:  jwt.ClaimStrings{"guidelines"},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		ID:        uuid.New().String(),
	}
}

func TestValidateToken_WrongIssuer(t *testing.T) {
	mgr, privKey := newTestJWTManagerWithKey(t)
	token := forgeToken(t, privKey, &auth.Claims{RegisteredClaims: registered("someone-else"), Role: auth.RoleAdmin})

	_, err := mgr.ValidateToken(token)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid issuer")
}

func TestValidateToken_UnknownRole(t *testing.T) {
	mgr, privKey := newTestJWTManagerWithKey(t)
	token := forgeToken(t, privKey, &auth.Claims{RegisteredClaims: registered("guidelines"), Role: "superuser"})

	_, err := mgr.ValidateToken(token)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid role")
}

func TestValidateToken_Expired(t *testing.T) {
	mgr, privKey := newTestJWTManagerWithKey(t)
	rc := registered("guidelines")
	rc.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
	token := forgeToken(t, privKey, &auth.Claims{RegisteredClaims: rc, Role: auth.RoleReader})

	_, err := mgr.ValidateToken(token)
	assert.Error(t, err)
}

func TestValidateToken_OtherKey(t *testing.T) {
	mgr, _ := newTestJWTManagerWithKey(t)
	_, otherPriv := newTestJWTManagerWithKey(t)
	token := forgeToken(t, otherPriv, &auth.Claims{RegisteredClaims: registered("guidelines"), Role: auth.RoleReader})

	_, err := mgr.ValidateToken(token)
	assert.Error(t, err)
}

func TestNewJWTManager_MismatchedKeys(t *testing.T) {
	privPath, _, _ := writeKeyPair(t)
	_, otherPub, _ := writeKeyPair(t)

	_, err := auth.NewJWTManager(privPath, otherPub, time.Hour)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not match")
}
