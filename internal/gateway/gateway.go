// Package gateway implements the fleet-observing process: it polls every
// known edge node's replica, merges them into a consolidated view, tracks
// divergence between polls, and exposes chaos-testing scenarios over HTTP.
package gateway

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/decub/edgemesh/internal/config"
)

// Gateway wires together the roster, poller, merger, divergence tracker,
// chaos controller and HTTP server, and runs the periodic poll loop.
type Gateway struct {
	cfg *config.GatewayConfig

	roster       *Roster
	orchestrator OrchestratorPort
	poller       *FleetPoller
	merger       *Merger
	divergence   *DivergenceTracker
	metrics      *MetricsRegistry
	chaos        *ChaosController

	server *Server

	lastMergeMu sync.Mutex
	lastMerge   MergeResult

	quit chan struct{}
	wg   sync.WaitGroup
}

// New constructs a Gateway from cfg, choosing the orchestrator backend
// ("docker" or "fake") named in cfg.Orchestrator.
func New(cfg *config.GatewayConfig) (*Gateway, error) {
	orch, err := newOrchestrator(cfg)
	if err != nil {
		return nil, err
	}

	metrics := NewMetricsRegistry()
	roster := NewRoster()
	poller := NewFleetPoller(cfg.FetchTimeout, cfg.MaxRetries, cfg.ConsecutiveFailures, metrics)
	merger := NewMerger(metrics)
	divergence := NewDivergenceTracker(cfg.DivergenceRingSize)
	chaos := NewChaosController(roster, orch, poller, merger, divergence, metrics)

	g := &Gateway{
		cfg:          cfg,
		roster:       roster,
		orchestrator: orch,
		poller:       poller,
		merger:       merger,
		divergence:   divergence,
		metrics:      metrics,
		chaos:        chaos,
		quit:         make(chan struct{}),
	}
	g.server = NewServer(g)
	return g, nil
}

func newOrchestrator(cfg *config.GatewayConfig) (OrchestratorPort, error) {
	switch cfg.Orchestrator {
	case "docker":
		return NewOrchestratorDocker(cfg.DockerNetwork, cfg.NodeImage, 9000)
	case "fake", "":
		return NewOrchestratorFake("./data", 18000, 19000), nil
	default:
		return nil, &unknownOrchestratorError{cfg.Orchestrator}
	}
}

type unknownOrchestratorError struct{ name string }

func (e *unknownOrchestratorError) Error() string {
	return "gateway: unknown orchestrator backend " + e.name
}

// Start launches the periodic poll loop in the background and serves HTTP,
// blocking until the server stops.
func (g *Gateway) Start() error {
	g.wg.Add(1)
	go g.pollLoop()
	log.Printf("gateway: listening on %s", g.cfg.HTTPAddress)
	return g.server.Start(g.cfg.HTTPAddress)
}

// Stop shuts the HTTP server down and stops the poll loop.
func (g *Gateway) Stop() {
	close(g.quit)
	if err := g.server.Stop(); err != nil {
		log.Printf("gateway: stop server: %v", err)
	}
	g.wg.Wait()
	if fake, ok := g.orchestrator.(*OrchestratorFake); ok {
		fake.Shutdown()
	}
}

func (g *Gateway) pollLoop() {
	defer g.wg.Done()
	ticker := time.NewTicker(g.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-g.quit:
			return
		case <-ticker.C:
			g.pollOnce(context.Background())
		}
	}
}

// pollOnce runs one fetch+merge+divergence cycle and returns the merge
// result, used by both the background loop and the POST /gateway/poll
// handler for an on-demand tick.
func (g *Gateway) pollOnce(ctx context.Context) MergeResult {
	results := g.poller.Poll(ctx, g.roster.All())
	for _, r := range results {
		if !r.Reachable && g.poller.UnreachableStatus(r.NodeID) {
			g.roster.SetStatus(r.NodeID, StatusUnreachable)
		}
	}
	merged := g.merger.Merge(results)
	g.divergence.Observe(time.Now().UnixMilli(), merged.PerNodeRoots, g.metrics)

	g.lastMergeMu.Lock()
	g.lastMerge = merged
	g.lastMergeMu.Unlock()

	return merged
}

// LastMerge returns the most recently computed merge result without
// triggering a new poll.
func (g *Gateway) LastMerge() MergeResult {
	g.lastMergeMu.Lock()
	defer g.lastMergeMu.Unlock()
	return g.lastMerge
}
