package handler

import (
	"context"
	"net/http"
	"time"
)

// Pinger is anything whose reachability the health check reports.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler handles the health check endpoint.
type HealthHandler struct {
	store   Pinger
	storage string
}

// NewHealthHandler creates a new HealthHandler. storage names the backend in
// the response ("postgres" or "memory").
func NewHealthHandler(store Pinger, storage string) *HealthHandler {
	return &HealthHandler{store: store, storage: storage}
}

// Check handles GET /health.
func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := map[string]interface{}{
		"status":  "ok",
		"storage": h.storage,
	}

	// Check DB
	if err := h.store.Ping(ctx); err != nil {
		status["database"] = "error"
		status["status"] = "degraded"
	} else {
		status["database"] = "ok"
	}

	code := http.StatusOK
	if status["status"] == "degraded" {
		code = http.StatusServiceUnavailable
	}

	JSON(w, code, status)
}
