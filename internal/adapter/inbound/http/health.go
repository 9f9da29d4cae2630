package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/partsbay/sessiond/internal/domain/session"
	"github.com/partsbay/sessiond/internal/service"
)

// HealthResponse is the JSON response from the /health endpoint.
type HealthResponse struct {
	Status  string            `json:"status"`            // "healthy" or "unhealthy"
	Checks  map[string]string `json:"checks"`            // Component check results
	Version string            `json:"version,omitempty"` // Optional version info
}

// HealthChecker verifies component health.
type HealthChecker struct {
	store     session.Store
	lifecycle *service.Lifecycle
	version   string
}

// NewHealthChecker creates a HealthChecker with optional components.
// Pass nil for components that aren't available.
func NewHealthChecker(store session.Store, lifecycle *service.Lifecycle, version string) *HealthChecker {
	return &HealthChecker{
		store:     store,
		lifecycle: lifecycle,
		version:   version,
	}
}

// Check performs health checks on all components.
func (h *HealthChecker) Check(ctx context.Context) HealthResponse {
	checks := make(map[string]string)
	healthy := true

	// Probe the store with a read of a key that cannot exist. Not-found
	// is the healthy answer; anything else means the backend is down.
	if h.store != nil {
		probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		_, err := h.store.Get(probeCtx, "healthcheck-probe")
		cancel()
		switch {
		case errors.Is(err, session.ErrSessionNotFound):
			checks["store"] = "ok"
		case err == nil:
			checks["store"] = "ok"
		default:
			checks["store"] = fmt.Sprintf("unreachable: %v", err)
			healthy = false
		}
	} else {
		checks["store"] = "not configured"
	}

	if h.lifecycle != nil {
		checks["lifecycle"] = h.lifecycle.State().String()
	} else {
		checks["lifecycle"] = "not configured"
	}

	checks["goroutines"] = fmt.Sprintf("%d", runtime.NumGoroutine())

	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}

	return HealthResponse{
		Status:  status,
		Checks:  checks,
		Version: h.version,
	}
}

// Handler returns an HTTP handler for the health endpoint.
func (h *HealthChecker) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		health := h.Check(r.Context())

		w.Header().Set("Content-Type", "application/json")
		if health.Status != "healthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}

		_ = json.NewEncoder(w).Encode(health)
	})
}
