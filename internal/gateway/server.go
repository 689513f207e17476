package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"runtime"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/gorilla/mux"
)

// Server is the gateway's HTTP surface: fleet roster management, chaos
// operations, scripted scenarios, and observability endpoints.
type Server struct {
	gw *Gateway

	router     *mux.Router
	httpServer *http.Server
}

// NewServer builds a Server routed against gw's components.
func NewServer(gw *Gateway) *Server {
	s := &Server{gw: gw, router: mux.NewRouter()}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router
	r.HandleFunc("/nodes", s.handleListNodes).Methods("GET")
	r.HandleFunc("/nodes", s.handleCreateNode).Methods("POST")
	r.HandleFunc("/nodes/batch", s.handleCreateNodesBatch).Methods("POST")
	r.HandleFunc("/nodes/{id}", s.handleDeleteNode).Methods("DELETE")
	r.HandleFunc("/nodes/{id}/partition", s.handleIsolateNode).Methods("POST")
	r.HandleFunc("/nodes/{id}/partition", s.handleHealNode).Methods("DELETE")

	r.HandleFunc("/partition/split-brain", s.handleSplitBrain).Methods("POST")
	r.HandleFunc("/partition/heal-all", s.handleHealAll).Methods("POST")

	r.HandleFunc("/gateway/status", s.handleGatewayStatus).Methods("GET")
	r.HandleFunc("/gateway/poll", s.handlePoll).Methods("POST")
	r.HandleFunc("/gateway/merged-state", s.handleMergedState).Methods("GET")
	r.HandleFunc("/gateway/divergence", s.handleDivergence).Methods("GET")
	r.HandleFunc("/gateway/metrics", s.handleMetrics).Methods("GET")
	r.HandleFunc("/gateway/runtime-metrics", s.handleRuntimeMetrics).Methods("GET")

	r.HandleFunc("/scenarios/split-brain-heal", s.handleScenarioSplitBrainHeal).Methods("POST")
	r.HandleFunc("/scenarios/bootstrap-converge", s.handleScenarioBootstrapConverge).Methods("POST")
}

// Start begins serving HTTP on addr. It blocks until the server stops.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.router}
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop gracefully shuts the HTTP server down.
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) respond(w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

func (s *Server) errorResponse(w http.ResponseWriter, err error, status int) {
	s.respond(w, map[string]string{"status": "failed", "message": err.Error()}, status)
}

// chaosError maps a ChaosController error to the HTTP status §7 assigns:
// ErrBusy -> 409, anything else -> 502 (OrchestratorFailure).
func (s *Server) chaosError(w http.ResponseWriter, err error) {
	if errors.Is(err, ErrBusy) {
		s.respond(w, map[string]string{"status": "busy"}, http.StatusConflict)
		return
	}
	s.errorResponse(w, err, http.StatusBadGateway)
}

func (s *Server) handleListNodes(w http.ResponseWriter, r *http.Request) {
	s.respond(w, s.gw.roster.All(), http.StatusOK)
}

func (s *Server) handleCreateNode(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("node_id")
	nd, err := s.gw.chaos.CreateNode(r.Context(), id)
	if err != nil {
		s.chaosError(w, err)
		return
	}
	s.respond(w, nd, http.StatusOK)
}

func (s *Server) handleCreateNodesBatch(w http.ResponseWriter, r *http.Request) {
	count, err := strconv.Atoi(r.URL.Query().Get("count"))
	if err != nil || count <= 0 {
		s.errorResponse(w, errors.New("gateway: count must be a positive integer"), http.StatusBadRequest)
		return
	}
	result, err := s.gw.chaos.CreateNodesBatch(r.Context(), count)
	if err != nil {
		s.chaosError(w, err)
		return
	}
	s.respond(w, result, http.StatusOK)
}

func (s *Server) handleDeleteNode(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.gw.chaos.DeleteNode(r.Context(), id); err != nil {
		s.chaosError(w, err)
		return
	}
	s.respond(w, nil, http.StatusNoContent)
}

func (s *Server) handleIsolateNode(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.gw.chaos.Isolate(r.Context(), id); err != nil {
		s.chaosError(w, err)
		return
	}
	s.respond(w, map[string]string{"status": "ok"}, http.StatusOK)
}

func (s *Server) handleHealNode(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.gw.chaos.Heal(r.Context(), id); err != nil {
		s.chaosError(w, err)
		return
	}
	s.respond(w, map[string]string{"status": "ok"}, http.StatusOK)
}

func (s *Server) handleSplitBrain(w http.ResponseWriter, r *http.Request) {
	if err := s.gw.chaos.SplitBrain(r.Context()); err != nil {
		s.chaosError(w, err)
		return
	}
	s.respond(w, map[string]string{"status": "ok"}, http.StatusOK)
}

func (s *Server) handleHealAll(w http.ResponseWriter, r *http.Request) {
	errs := s.gw.chaos.HealAll(r.Context())
	if len(errs) > 0 {
		messages := make([]string, len(errs))
		for i, e := range errs {
			messages[i] = e.Error()
		}
		s.respond(w, map[string]any{"status": "partial", "failures": messages}, http.StatusOK)
		return
	}
	s.respond(w, map[string]string{"status": "ok"}, http.StatusOK)
}

func (s *Server) handleGatewayStatus(w http.ResponseWriter, r *http.Request) {
	s.respond(w, map[string]any{
		"node_count": s.gw.roster.Len(),
		"nodes":      s.gw.roster.All(),
		"counters":   s.gw.metrics.Counters(),
	}, http.StatusOK)
}

func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	merged := s.gw.pollOnce(r.Context())
	s.respond(w, merged, http.StatusOK)
}

func (s *Server) handleMergedState(w http.ResponseWriter, r *http.Request) {
	s.respond(w, s.gw.LastMerge(), http.StatusOK)
}

func (s *Server) handleDivergence(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			limit = parsed
		}
	}
	s.respond(w, map[string]any{
		"log":                         s.gw.divergence.Log(limit),
		"divergence_duration_seconds": s.gw.divergence.DurationSinceSynced(time.Now()),
	}, http.StatusOK)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		s.respond(w, s.gw.metrics.Counters(), http.StatusOK)
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			limit = parsed
		}
	}
	s.respond(w, map[string]any{"name": name, "samples": s.gw.metrics.Series(name, limit)}, http.StatusOK)
}

func (s *Server) handleRuntimeMetrics(w http.ResponseWriter, r *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	gc := debug.GCStats{}
	debug.ReadGCStats(&gc)
	s.respond(w, map[string]any{
		"num_goroutine": runtime.NumGoroutine(),
		"alloc_bytes":   mem.Alloc,
		"num_gc":        mem.NumGC,
	}, http.StatusOK)
}

func (s *Server) handleScenarioSplitBrainHeal(w http.ResponseWriter, r *http.Request) {
	isolateSeconds := queryInt(r, "isolate_seconds", 6)
	verifyPolls := queryInt(r, "verify_polls", 2)
	result := s.gw.chaos.SplitBrainHeal(r.Context(), time.Duration(isolateSeconds)*time.Second, verifyPolls)
	s.respondScenario(w, result)
}

func (s *Server) handleScenarioBootstrapConverge(w http.ResponseWriter, r *http.Request) {
	createNodes := queryInt(r, "create_nodes", 3)
	eventsPerNode := queryInt(r, "events_per_node", 5)
	verifyPolls := queryInt(r, "verify_polls", 5)
	result := s.gw.chaos.BootstrapConverge(r.Context(), createNodes, eventsPerNode, verifyPolls)
	s.respondScenario(w, result)
}

// respondScenario returns 200 for ok/partial (something executed) and 409
// for busy (nothing executed), per §7's "non-2xx only when nothing executed".
func (s *Server) respondScenario(w http.ResponseWriter, result ScenarioResult) {
	status := http.StatusOK
	if result.Status == "busy" {
		status = http.StatusConflict
	}
	s.respond(w, result, status)
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}
