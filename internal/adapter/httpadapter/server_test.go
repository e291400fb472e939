package httpadapter_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/flood-risk-service/internal/adapter/httpadapter"
	"github.com/couchcryptid/flood-risk-service/internal/domain"
)

type mockReadiness struct {
	err   error
	calls int
}

func (m *mockReadiness) CheckReadiness(_ context.Context) error {
	m.calls++
	return m.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func get(t *testing.T, srv *httpadapter.Server, path string) (*httptest.ResponseRecorder, map[string]string) {
	t.Helper()
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	if path == "/metrics" {
		return rec, nil
	}
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec, body
}

func TestHealthzReturns200(t *testing.T) {
	srv := httpadapter.NewServer(":0", discardLogger(), &mockReadiness{err: domain.ErrModelsNotLoaded})

	rec, body := get(t, srv, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code, "liveness ignores readiness")
	assert.Equal(t, "healthy", body["status"])
}

func TestReadyzReturns200WhenAllReady(t *testing.T) {
	models, db := &mockReadiness{}, &mockReadiness{}
	srv := httpadapter.NewServer(":0", discardLogger(), models, db)

	rec, body := get(t, srv, "/readyz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ready", body["status"])
	assert.Equal(t, 1, models.calls)
	assert.Equal(t, 1, db.calls)
}

func TestReadyzReturns503UntilModelsLoad(t *testing.T) {
	models, db := &mockReadiness{err: domain.ErrModelsNotLoaded}, &mockReadiness{}
	srv := httpadapter.NewServer(":0", discardLogger(), models, db)

	rec, body := get(t, srv, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "not ready", body["status"])
	assert.Equal(t, domain.ErrModelsNotLoaded.Error(), body["error"])
	assert.Zero(t, db.calls, "checks stop at the first failure")

	models.err = nil
	rec, _ = get(t, srv, "/readyz")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	srv := httpadapter.NewServer(":0", discardLogger())

	rec, _ := get(t, srv, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
