// Package intake exposes a node's HTTP surface: event ingestion and the
// read-only state endpoints the gateway's fleet poller and operators
// consume (gossip between peers runs over UDP, not through this surface).
package intake

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/decub/edgemesh/internal/replica"
)

// Service is the node's HTTP server.
type Service struct {
	store    *replica.ReplicaStore
	selfNode string
	peers    []string
	isolated func() bool

	router     *mux.Router
	httpServer *http.Server
}

// NewService builds a Service wired to store, ready to Start. isolated
// reports the node's current gossip isolation state for /status; it may be
// nil if the caller never wires a gossip service (e.g. in unit tests).
func NewService(store *replica.ReplicaStore, selfNode string, peers []string, isolated func() bool) *Service {
	s := &Service{
		store:    store,
		selfNode: selfNode,
		peers:    peers,
		isolated: isolated,
		router:   mux.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Service) routes() {
	s.router.HandleFunc("/event", s.handlePostEvent).Methods("POST")
	s.router.HandleFunc("/status", s.handleStatus).Methods("GET")
	s.router.HandleFunc("/state/merkle", s.handleStateMerkle).Methods("GET")
	s.router.HandleFunc("/state/snapshot", s.handleStateSnapshot).Methods("GET")
	s.router.HandleFunc("/state/log", s.handleStateLog).Methods("GET")
	s.router.HandleFunc("/state/verify", s.handleStateVerify).Methods("GET")
}

// Start begins serving HTTP on addr. It blocks until the server stops.
func (s *Service) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.router,
	}
	log.Printf("intake: node %s listening on %s", s.selfNode, addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("intake: listen: %w", err)
	}
	return nil
}

// Stop gracefully shuts the HTTP server down.
func (s *Service) Stop() error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

func (s *Service) respond(w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			log.Printf("intake: encode response: %v", err)
		}
	}
}

func (s *Service) error(w http.ResponseWriter, err error, status int) {
	s.respond(w, map[string]string{"error": err.Error()}, status)
}

func (s *Service) handlePostEvent(w http.ResponseWriter, r *http.Request) {
	var req EventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.error(w, fmt.Errorf("intake: decode body: %w", err), http.StatusBadRequest)
		return
	}
	if err := req.Validate(); err != nil {
		s.error(w, err, http.StatusBadRequest)
		return
	}

	ev, err := s.store.IngestEvent(req.Type, req.Value, req.Location, req.Metadata)
	if err != nil {
		s.error(w, fmt.Errorf("intake: ingest: %w", err), http.StatusInternalServerError)
		return
	}

	s.respond(w, map[string]string{
		"event_id":    ev.EventID,
		"merkle_root": s.store.MerkleRoot(),
	}, http.StatusOK)
}

func (s *Service) handleStatus(w http.ResponseWriter, r *http.Request) {
	root := s.store.MerkleRoot()
	prefix := root
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	isolated := false
	if s.isolated != nil {
		isolated = s.isolated()
	}
	s.respond(w, map[string]any{
		"node_id":            s.selfNode,
		"peers":              s.peers,
		"event_count":        s.store.EventCount(),
		"merkle_root_prefix": prefix,
		"isolated":           isolated,
	}, http.StatusOK)
}

func (s *Service) handleStateMerkle(w http.ResponseWriter, r *http.Request) {
	s.respond(w, map[string]string{"merkle_root": s.store.MerkleRoot()}, http.StatusOK)
}

func (s *Service) handleStateSnapshot(w http.ResponseWriter, r *http.Request) {
	s.respond(w, s.store.Snapshot(), http.StatusOK)
}

func (s *Service) handleStateLog(w http.ResponseWriter, r *http.Request) {
	n := 100
	if raw := r.URL.Query().Get("n"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			n = parsed
		}
	}
	s.respond(w, map[string]any{"records": s.store.LogTail(n)}, http.StatusOK)
}

func (s *Service) handleStateVerify(w http.ResponseWriter, r *http.Request) {
	result, err := s.store.VerifyLog()
	if err != nil {
		s.error(w, fmt.Errorf("intake: verify log: %w", err), http.StatusInternalServerError)
		return
	}
	resp := map[string]any{"valid": result.Valid}
	if !result.Valid {
		resp["first_bad_seq"] = result.FirstBadSeq
	}
	s.respond(w, resp, http.StatusOK)
}
