package app

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/viewing-server/internal/config"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Addr = "127.0.0.1:0"
	cfg.Metrics.Enabled = false
	return cfg
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	logger := zerolog.Nop()
	cfg := testConfig(t)
	cfg.Presence.HeartbeatInterval = 20 * time.Second

	_, err := New(&cfg, &logger)
	require.ErrorContains(t, err, "invalid config")
}

func TestDrivers(t *testing.T) {
	for _, driver := range []string{config.DriverMemory, config.DriverSQLite} {
		t.Run(driver, func(t *testing.T) {
			logger := zerolog.Nop()
			cfg := testConfig(t)
			cfg.Store.Driver = driver
			cfg.Store.SQLitePath = filepath.Join(t.TempDir(), "viewing.db")

			a, err := New(&cfg, &logger)
			require.NoError(t, err)
			t.Cleanup(a.cleanup)

			body := `{"username":"alice","orgId":"org1","issueUrl":"https://github.com/acme/widget/issues/42"}`
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/api/viewing", bytes.NewBufferString(body))
			req.Header.Set("Content-Type", "application/json")
			a.Handler().ServeHTTP(rec, req)

			require.Equal(t, http.StatusOK, rec.Code)
			require.JSONEq(t, `{"success":true,"viewers":["alice"]}`, rec.Body.String())

			rec = httptest.NewRecorder()
			a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
			require.Equal(t, http.StatusOK, rec.Code)
		})
	}
}

func TestPushOnlyHasNoStore(t *testing.T) {
	logger := zerolog.Nop()
	cfg := testConfig(t)
	cfg.Backend = config.BackendPush

	a, err := New(&cfg, &logger)
	require.NoError(t, err)
	require.Nil(t, a.store)

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/viewing", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRunStopsOnCancel(t *testing.T) {
	logger := zerolog.Nop()
	cfg := testConfig(t)

	a, err := New(&cfg, &logger)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
