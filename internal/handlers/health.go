package handlers

import (
	"net/http"
)

// HealthHandler responds with service health information.
type HealthHandler struct{}

// Handle implements GET /healthz.
func (HealthHandler) Handle(w http.ResponseWriter, r *http.Request) {
	respondJSON(r.Context(), w, http.StatusOK, map[string]string{"status": "ok"})
}

// Root implements GET /api/.
func (HealthHandler) Root(w http.ResponseWriter, r *http.Request) {
	respondJSON(r.Context(), w, http.StatusOK, messageResponse{Message: "Video Recording API"})
}
