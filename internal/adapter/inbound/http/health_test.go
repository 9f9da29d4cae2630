package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/partsbay/sessiond/internal/adapter/outbound/memory"
	"github.com/partsbay/sessiond/internal/domain/session"
)

// downStore simulates an unreachable backend.
type downStore struct{}

var errStoreDown = errors.New("connection refused")

func (downStore) Put(context.Context, *session.Session) error { return errStoreDown }
func (downStore) Get(context.Context, string) (*session.Session, error) {
	return nil, errStoreDown
}
func (downStore) Delete(context.Context, string) error { return errStoreDown }
func (downStore) Scan(context.Context, string) ([]*session.Session, error) {
	return nil, errStoreDown
}
func (downStore) ScanAll(context.Context) ([]*session.Session, error) {
	return nil, errStoreDown
}
func (downStore) Watch(context.Context, string) (<-chan session.WatchEvent, error) {
	return nil, errStoreDown
}

func TestHealthChecker_Healthy(t *testing.T) {
	t.Parallel()

	checker := NewHealthChecker(memory.NewSessionStore(), nil, "1.2.3")

	rec := httptest.NewRecorder()
	checker.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp HealthResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "healthy" {
		t.Errorf("Status = %q, want healthy", resp.Status)
	}
	if resp.Checks["store"] != "ok" {
		t.Errorf("store check = %q, want ok", resp.Checks["store"])
	}
	if resp.Version != "1.2.3" {
		t.Errorf("Version = %q", resp.Version)
	}
}

func TestHealthChecker_StoreDown(t *testing.T) {
	t.Parallel()

	checker := NewHealthChecker(downStore{}, nil, "")

	rec := httptest.NewRecorder()
	checker.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}

	var resp HealthResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "unhealthy" {
		t.Errorf("Status = %q, want unhealthy", resp.Status)
	}
}

func TestHealthChecker_NothingConfigured(t *testing.T) {
	t.Parallel()

	resp := NewHealthChecker(nil, nil, "").Check(context.Background())

	if resp.Status != "healthy" {
		t.Errorf("Status = %q, want healthy", resp.Status)
	}
	if resp.Checks["store"] != "not configured" {
		t.Errorf("store check = %q", resp.Checks["store"])
	}
	if resp.Checks["lifecycle"] != "not configured" {
		t.Errorf("lifecycle check = %q", resp.Checks["lifecycle"])
	}
}
