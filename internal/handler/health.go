// Package handler contains the HTTP handlers of the quiz API.
//
// Handlers parse requests, call a service and write JSON. They hold no
// business rules; status codes come from the apperror kind (see writeError).
package handler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// pingTimeout bounds the store check so a hung store cannot hang the probe.
const pingTimeout = 2 * time.Second

// HealthHandler serves the status endpoints and the JSON 404/405 fallbacks.
type HealthHandler struct {
	store  Pinger
	logger *slog.Logger
	now    func() time.Time
}

func NewHealthHandler(store Pinger, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		store:  store,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// StatusResponse reports the server and store state.
type StatusResponse struct {
	Success   bool      `json:"success"`
	Message   string    `json:"message"`
	Database  string    `json:"database"`
	Timestamp time.Time `json:"timestamp"`
}

// HandleRoot handles GET /.
func (h *HealthHandler) HandleRoot(w http.ResponseWriter, r *http.Request) {
	h.writeStatus(w, r, "Backend server is running")
}

// HandleTest handles GET /api/test.
func (h *HealthHandler) HandleTest(w http.ResponseWriter, r *http.Request) {
	h.writeStatus(w, r, "API is working")
}

// The endpoint answers 200 even when the store is down; "database" carries
// the store state.
func (h *HealthHandler) writeStatus(w http.ResponseWriter, r *http.Request, message string) {
	ctx, cancel := context.WithTimeout(r.Context(), pingTimeout)
	defer cancel()

	database := "connected"
	if err := h.store.Ping(ctx); err != nil {
		h.logger.Warn("store ping failed", slog.String("error", err.Error()))
		database = "disconnected"
	}

	writeJSON(w, http.StatusOK, StatusResponse{
		Success:   true,
		Message:   message,
		Database:  database,
		Timestamp: h.now(),
	})
}

// HandleNotFound answers unknown routes.
func (h *HealthHandler) HandleNotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, ErrorResponse{
		Error:   "not_found",
		Message: fmt.Sprintf("Route not found: %s %s", r.Method, r.URL.RequestURI()),
	})
}

// HandleMethodNotAllowed answers known routes hit with the wrong method.
func (h *HealthHandler) HandleMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusMethodNotAllowed, ErrorResponse{
		Error:   "method_not_allowed",
		Message: fmt.Sprintf("Method %s not allowed on %s", r.Method, r.URL.Path),
	})
}
