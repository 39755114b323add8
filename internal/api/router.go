package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// registerAPIRoutes registers all API endpoints on the given router
func registerAPIRoutes(r *mux.Router, h *Handler) {
	api := r.PathPrefix("/api").Subrouter()

	// Recordings
	api.HandleFunc("/recordings", h.ListRecordings).Methods("GET")
	api.HandleFunc("/recordings", h.CreateRecording).Methods("POST")
	api.HandleFunc("/recordings/{id}", h.GetRecording).Methods("GET")
	api.HandleFunc("/recordings/{id}", h.DeleteRecording).Methods("DELETE")

	// Batches and jobs
	api.HandleFunc("/batches", h.SubmitBatch).Methods("POST")
	api.HandleFunc("/jobs", h.ListJobs).Methods("GET")
	api.HandleFunc("/jobs/{id}", h.GetJob).Methods("GET")
	api.HandleFunc("/jobs/{id}", h.DeleteJob).Methods("DELETE")
	api.HandleFunc("/jobs/{id}/cancel", h.CancelJob).Methods("POST")
	api.HandleFunc("/events", h.Events).Methods("GET")

	// Misc
	api.HandleFunc("/stats", h.Stats).Methods("GET")
	api.HandleFunc("/config", h.GetConfig).Methods("GET")
	api.HandleFunc("/config", h.UpdateConfig).Methods("PUT")
}

// NewRouter creates a new HTTP router with all API endpoints
func NewRouter(h *Handler) *mux.Router {
	r := mux.NewRouter()
	r.Use(instrument)

	r.HandleFunc("/health", h.Health).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")
	registerAPIRoutes(r, h)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	return r
}
