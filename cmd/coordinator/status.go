package main

import (
	"encoding/json"
	"net/http"

	"golang.org/x/exp/slices"

	"github.com/dreamware/rti/internal/coordinator"
)

// statusServer exposes a read-only view of one coordination run over HTTP.
type statusServer struct {
	srv *coordinator.Server
}

func newStatusServer(srv *coordinator.Server) *statusServer {
	return &statusServer{srv: srv}
}

func (s *statusServer) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/federates", s.handleFederates)
	return mux
}

type barrierStatus struct {
	Max      *int64 `json:"max,omitempty"` // Unset until the first proposal
	Error    string `json:"error,omitempty"`
	Expected int    `json:"expected"`
	Arrived  int    `json:"arrived"`
	Released bool   `json:"released"`
	Aborted  bool   `json:"aborted"`
}

// handleStatus returns the barrier state and every federate's status.
func (s *statusServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	snap := s.srv.Barrier().Snapshot()
	b := barrierStatus{
		Expected: snap.Expected,
		Arrived:  snap.Arrived,
		Released: snap.Released,
		Aborted:  snap.Aborted,
	}
	if snap.Arrived > 0 {
		b.Max = &snap.Max
	}
	if snap.Err != nil {
		b.Error = snap.Err.Error()
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(struct {
		Barrier   barrierStatus                `json:"barrier"`
		Federates []coordinator.FederateStatus `json:"federates"`
	}{Barrier: b, Federates: s.srv.Tracker().List()})
}

// handleFederates lists federates, optionally filtered with ?state=.
func (s *statusServer) handleFederates(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	federates := s.srv.Tracker().List()
	if state := r.URL.Query().Get("state"); state != "" {
		federates = slices.DeleteFunc(federates, func(f coordinator.FederateStatus) bool {
			return string(f.State) != state
		})
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(struct {
		Federates []coordinator.FederateStatus `json:"federates"`
		Count     int                          `json:"count"`
	}{Federates: federates, Count: len(federates)})
}
