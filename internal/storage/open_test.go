package storage_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jb-612/dox-asdlc-sub004/internal/storage"
	"github.com/jb-612/dox-asdlc-sub004/internal/testutil"
)

const unreachableDSN = "postgres://u:p@127.0.0.1:1/db?sslmode=disable&connect_timeout=1"

func TestOpen_NothingConfigured(t *testing.T) {
	_, err := storage.Open(context.Background(), storage.OpenConfig{}, testutil.TestLogger())
	require.Error(t, err)
}

func TestOpen_StaticOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "g.yaml")
	repo, err := storage.Open(context.Background(), storage.OpenConfig{StaticFile: path}, testutil.TestLogger())
	require.NoError(t, err)
	defer func() { _ = repo.Close() }()

	static, ok := repo.(*storage.StaticRepository)
	require.True(t, ok)
	assert.Equal(t, path, static.Path())
}

func TestOpen_UnreachableStore(t *testing.T) {
	cfg := storage.OpenConfig{DatabaseURL: unreachableDSN, PingTimeout: 2 * time.Second}

	_, err := storage.Open(context.Background(), cfg, testutil.TestLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no static fallback")

	cfg.StaticFile = filepath.Join(t.TempDir(), "g.yaml")
	repo, err := storage.Open(context.Background(), cfg, testutil.TestLogger())
	require.NoError(t, err)
	_, ok := repo.(*storage.StaticRepository)
	assert.True(t, ok)
}

func TestOpen_BadPrefix(t *testing.T) {
	_, err := storage.Open(context.Background(), storage.OpenConfig{
		DatabaseURL: unreachableDSN,
		IndexPrefix: "no spaces",
	}, testutil.TestLogger())
	require.Error(t, err)
}

func TestOpen_ReachableStore(t *testing.T) {
	if container == nil {
		t.Skip("integration test: requires Docker (run without -short)")
	}
	repo, err := storage.Open(context.Background(), storage.OpenConfig{
		DatabaseURL: container.DSN,
		IndexPrefix: "open",
		StaticFile:  filepath.Join(t.TempDir(), "g.yaml"),
	}, testutil.TestLogger())
	require.NoError(t, err)
	defer func() { _ = repo.Close() }()
	_, ok := repo.(*storage.Store)
	assert.True(t, ok)
}
