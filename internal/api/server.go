// Package api exposes a small HTTP status surface for a running
// measurement, so operators can watch progress without touching the
// output file.
package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"github.com/gorilla/mux"
)

// Status is a point-in-time snapshot of the run.
type Status struct {
	Plugin         string `json:"plugin"`
	Phase          int    `json:"phase"`
	JobsDispatched uint64 `json:"jobs_dispatched"`
	JobsCompleted  uint64 `json:"jobs_completed"`
	FlowsTracked   int    `json:"flows_tracked"`
	FlowsEmitted   uint64 `json:"flows_emitted"`
	RecordsMerged  uint64 `json:"records_merged"`
}

// Server serves the status endpoint.
type Server struct {
	srv    *http.Server
	status func() Status
}

// New builds a server on addr; status is called on every request.
func New(addr string, status func() Status) *Server {
	s := &Server{status: status}

	r := mux.NewRouter()
	r.HandleFunc("/api/v1/status", s.statusHandler).Methods("GET")
	r.HandleFunc("/api/v1/healthz", s.healthzHandler).Methods("GET")

	s.srv = &http.Server{Addr: addr, Handler: r}
	return s
}

// Start serves in the background.
func (s *Server) Start() {
	go func() {
		log.Printf("Status API listening on %s", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("Status API error: %v", err)
		}
	}()
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.status()); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (s *Server) healthzHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}
