package auth_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jb-612/dox-asdlc-sub004/internal/auth"
)

func TestWriteKeyPair_LoadsIntoManager(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "keys")
	privPath := filepath.Join(dir, "jwt_private.pem")
	pubPath := filepath.Join(dir, "jwt_public.pem")

	require.NoError(t, auth.WriteKeyPair(privPath, pubPath))

	info, err := os.Stat(privPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	mgr, err := auth.NewJWTManager(privPath, pubPath, time.Hour)
	require.NoError(t, err)
	tok, _, err := mgr.IssueToken("ci", auth.RoleEditor)
	require.NoError(t, err)
	claims, err := mgr.ValidateToken(tok)
	require.NoError(t, err)
	assert.Equal(t, "ci", claims.Subject)
}

func TestWriteKeyPair_RefusesOverwrite(t *testing.T) {
	dir := t.TempDir()
	privPath := filepath.Join(dir, "priv.pem")
	pubPath := filepath.Join(dir, "pub.pem")
	require.NoError(t, os.WriteFile(pubPath, []byte("keep me"), 0o600))

	err := auth.WriteKeyPair(privPath, pubPath)
	require.ErrorIs(t, err, auth.ErrKeyExists)

	_, err = os.Stat(privPath)
	assert.True(t, os.IsNotExist(err))
	raw, err := os.ReadFile(pubPath)
	require.NoError(t, err)
	assert.Equal(t, "keep me", string(raw))
}
