package proxy

import (
	"net/http"
	"time"

	"github.com/ccbridge/ccbridge/internal/openaiadapter"
)

// livenessHandler handles liveness probe requests.
// Always returns 200 OK to indicate the process is alive.
func livenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-cache")
		w.WriteHeader(http.StatusOK)
	}
}

// readinessHandler handles readiness probe requests.
// Returns 200 OK if the application is ready to serve traffic, 503 otherwise.
func readinessHandler(checker ReadinessChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-cache")
		if checker.IsReady() {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}
}

type healthResponse struct {
	Status           string `json:"status"`
	Timestamp        string `json:"timestamp"`
	APIKeyConfigured bool   `json:"apiKeyConfigured"`
}

// healthHandler reports process health and whether upstream credentials are present.
// Missing credentials do not fail the check; requests report them individually.
func healthHandler(upstream Upstream, now func() time.Time) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-cache")
		writeJSON(r.Context(), w, healthResponse{
			Status:           "ok",
			Timestamp:        now().UTC().Format(time.RFC3339Nano),
			APIKeyConfigured: upstream.Configured() == nil,
		}, http.StatusOK)
	}
}

type statusResponse struct {
	Status     string   `json:"status"`
	Name       string   `json:"name"`
	Version    string   `json:"version"`
	Configured bool     `json:"configured"`
	Endpoints  []string `json:"endpoints"`
}

var publicEndpoints = []string{"/v1/chat/completions", "/v1/messages", "/v1/models", "/health"}

func statusHandler(info Info, upstream Upstream) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(r.Context(), w, statusResponse{
			Status:     "running",
			Name:       info.Name,
			Version:    info.Version,
			Configured: upstream.Configured() == nil,
			Endpoints:  publicEndpoints,
		}, http.StatusOK)
	}
}

func notFoundHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONOpenAIError(r.Context(), w, openaiadapter.NewError(http.StatusNotFound, openaiadapter.ErrorTypeNotFound,
		"Not found. Use /v1/chat/completions or /v1/models"))
}
