package guidelines_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	guidelines "github.com/jb-612/dox-asdlc-sub004"
	"github.com/jb-612/dox-asdlc-sub004/internal/config"
	"github.com/jb-612/dox-asdlc-sub004/internal/model"
	"github.com/jb-612/dox-asdlc-sub004/internal/seed"
	"github.com/jb-612/dox-asdlc-sub004/internal/storage"
	"github.com/jb-612/dox-asdlc-sub004/internal/testutil"
)

func baseConfig() config.Config {
	return config.Config{
		Port:                8080,
		ReadTimeout:         5 * time.Second,
		WriteTimeout:        5 * time.Second,
		MaxRequestBodyBytes: 1 << 20,
		PrimaryTerm:         1,
		CacheTTL:            time.Minute,
		FetchPageSize:       100,
		JWTExpiration:       time.Hour,
		ServiceName:         "guidelines",
		LogLevel:            "info",
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}

func TestNew_StaticOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "guidelines.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
- id: static-rule
  name: Static rule
  category: security
  priority: 700
  action:
    instruction: From the file.
`), 0o600))

	cfg := baseConfig()
	cfg.StaticFile = path
	app, err := guidelines.New(context.Background(),
		guidelines.WithConfig(cfg),
		guidelines.WithLogger(testutil.TestLogger()),
		guidelines.WithVersion("1.2.3"),
	)
	require.NoError(t, err)
	t.Cleanup(app.Close)
	assert.Equal(t, guidelines.RepositoryStatic, app.RepositoryName())

	ec, err := app.Evaluator().GetContext(context.Background(), model.TaskContext{Agent: "any"})
	require.NoError(t, err)
	assert.Equal(t, "From the file.", ec.CombinedInstruction)

	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"degraded"`)
	assert.Contains(t, rec.Body.String(), `"1.2.3"`)
}

func TestNew_UnreachableStoreFallsBackToStatic(t *testing.T) {
	cfg := baseConfig()
	// Nothing listens on port 1; the startup ping fails fast.
	cfg.DatabaseURL = "postgres://u:p@127.0.0.1:1/db?sslmode=disable&connect_timeout=1"
	cfg.StaticFile = filepath.Join(t.TempDir(), "absent.yaml")

	app, err := guidelines.New(context.Background(),
		guidelines.WithConfig(cfg),
		guidelines.WithLogger(testutil.TestLogger()),
	)
	require.NoError(t, err)
	t.Cleanup(app.Close)
	assert.Equal(t, guidelines.RepositoryStatic, app.RepositoryName())

	// A missing fallback file fails open to an empty guideline set.
	ec, err := app.Evaluator().GetContext(context.Background(), model.TaskContext{Agent: "backend"})
	require.NoError(t, err)
	assert.Empty(t, ec.MatchedGuidelines)
}

func TestNew_UnreachableStoreWithoutFallback(t *testing.T) {
	cfg := baseConfig()
	cfg.DatabaseURL = "postgres://u:p@127.0.0.1:1/db?sslmode=disable&connect_timeout=1"

	_, err := guidelines.New(context.Background(),
		guidelines.WithConfig(cfg),
		guidelines.WithLogger(testutil.TestLogger()),
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no static fallback")
}

func TestNew_CustomRepositoryWithSeed(t *testing.T) {
	repo := testutil.NewMemoryRepository()
	cfg := baseConfig()
	cfg.SeedOnStart = true
	cfg.AuthEnabled = true

	app, err := guidelines.New(context.Background(),
		guidelines.WithConfig(cfg),
		guidelines.WithRepository(repo),
		guidelines.WithLogger(testutil.TestLogger()),
	)
	require.NoError(t, err)
	t.Cleanup(app.Close)
	assert.Equal(t, guidelines.RepositoryCustom, app.RepositoryName())

	_, total, err := repo.ListGuidelines(context.Background(), storage.GuidelineFilter{})
	require.NoError(t, err)
	assert.Equal(t, len(seed.Defaults()), total)

	// Auth is on: the API refuses anonymous callers but health stays open.
	rec := httptest.NewRecorder()
	body, _ := json.Marshal(map[string]any{"agent": "backend"})
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/context", bytes.NewReader(body)))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRun_StopsOnCancel(t *testing.T) {
	cfg := baseConfig()
	cfg.Port = freePort(t)
	app, err := guidelines.New(context.Background(),
		guidelines.WithConfig(cfg),
		guidelines.WithRepository(testutil.NewMemoryRepository()),
		guidelines.WithLogger(testutil.TestLogger()),
	)
	require.NoError(t, err)
	t.Cleanup(app.Close)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
