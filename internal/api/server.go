package api

import (
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/bladewing/XSS-Validator/internal/ratelimit"
	"github.com/bladewing/XSS-Validator/pkg/models"
)

// SetupRoutes configures all HTTP routes
func (h *Handler) SetupRoutes(rateLimiter *ratelimit.Limiter) *mux.Router {
	r := mux.NewRouter()

	// Liveness (not rate limited)
	r.HandleFunc("/", h.Root).Methods("GET", "OPTIONS")

	// Check endpoints (rate limited per client)
	checks := r.PathPrefix("/check").Subrouter()
	checks.Use(RateLimitMiddleware(rateLimiter))
	checks.HandleFunc("/input", h.CheckInput).Methods("GET", "OPTIONS")
	checks.HandleFunc("/url", h.CheckURL).Methods("GET", "OPTIONS")

	r.NotFoundHandler = http.HandlerFunc(notFound)
	// Router middleware does not run for method mismatches.
	r.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowed)

	r.Use(recoveryMiddleware(h.logger))
	r.Use(checkIDMiddleware)
	r.Use(accessLogMiddleware(h.logger))
	r.Use(corsMiddleware)

	return r
}

func notFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Allow", "GET, OPTIONS")
	writeJSON(w, http.StatusMethodNotAllowed, models.ErrorResponse{
		Message: fmt.Sprintf("method %s is not allowed on %s", r.Method, r.URL.Path),
		Error:   models.ErrorInvalidRequest,
	})
}
