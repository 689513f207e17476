package gateway

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"
)

// ErrBusy is returned when a chaos operation or scenario cannot acquire the
// gateway-wide operation_mutex because another one is already running.
var ErrBusy = errors.New("gateway: another operation is in progress")

// scenarioDeadline bounds how long a scripted scenario may run before it is
// abandoned with status "partial" and the operation_mutex released.
const scenarioDeadline = 60 * time.Second

// ChaosController exposes the fleet's imperative chaos operations
// (isolate/heal/split-brain/create/delete) and the two scripted scenarios,
// serialized through a single gateway-wide mutex so scenarios never
// interleave with each other or with a concurrent bulk operation.
type ChaosController struct {
	roster       *Roster
	orchestrator OrchestratorPort
	poller       *FleetPoller
	merger       *Merger
	divergence   *DivergenceTracker
	metrics      *MetricsRegistry

	opMu sync.Mutex
}

// NewChaosController wires a ChaosController to the gateway's shared
// components.
func NewChaosController(roster *Roster, orch OrchestratorPort, poller *FleetPoller, merger *Merger, divergence *DivergenceTracker, metrics *MetricsRegistry) *ChaosController {
	return &ChaosController{
		roster:       roster,
		orchestrator: orch,
		poller:       poller,
		merger:       merger,
		divergence:   divergence,
		metrics:      metrics,
	}
}

// withLock runs fn while holding the operation_mutex, returning ErrBusy
// instead of blocking if another operation already holds it.
func (c *ChaosController) withLock(fn func() error) error {
	if !c.opMu.TryLock() {
		return ErrBusy
	}
	defer c.opMu.Unlock()
	return fn()
}

// Isolate drops the node's gossip traffic in both directions.
func (c *ChaosController) Isolate(ctx context.Context, nodeID string) error {
	return c.withLock(func() error {
		if _, ok := c.roster.Get(nodeID); !ok {
			return fmt.Errorf("gateway: unknown node %s", nodeID)
		}
		if err := c.orchestrator.Isolate(ctx, nodeID); err != nil {
			return fmt.Errorf("gateway: isolate %s: %w", nodeID, err)
		}
		c.roster.SetIsolated(nodeID, true)
		return nil
	})
}

// Heal removes isolation rules from the node.
func (c *ChaosController) Heal(ctx context.Context, nodeID string) error {
	return c.withLock(func() error {
		if _, ok := c.roster.Get(nodeID); !ok {
			return fmt.Errorf("gateway: unknown node %s", nodeID)
		}
		if err := c.orchestrator.Heal(ctx, nodeID); err != nil {
			return fmt.Errorf("gateway: heal %s: %w", nodeID, err)
		}
		c.roster.SetIsolated(nodeID, false)
		return nil
	})
}

// HealAll heals every roster member in parallel, collecting any failures.
func (c *ChaosController) HealAll(ctx context.Context) []error {
	var errs []error
	_ = c.withLock(func() error {
		errs = c.healAllLocked(ctx)
		return nil
	})
	return errs
}

func (c *ChaosController) healAllLocked(ctx context.Context) []error {
	roster := c.roster.All()
	var wg sync.WaitGroup
	errCh := make(chan error, len(roster))
	for _, nd := range roster {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if err := c.orchestrator.Heal(ctx, id); err != nil {
				errCh <- fmt.Errorf("gateway: heal %s: %w", id, err)
				return
			}
			c.roster.SetIsolated(id, false)
		}(nd.NodeID)
	}
	wg.Wait()
	close(errCh)
	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}
	return errs
}

// SplitBrain partitions the current roster into two halves — the first
// ceil(N/2) nodes and the rest — and isolates each half from the other,
// while intra-half gossip keeps working.
func (c *ChaosController) SplitBrain(ctx context.Context) error {
	return c.withLock(func() error {
		return c.splitBrainLocked(ctx)
	})
}

func (c *ChaosController) splitBrainLocked(ctx context.Context) error {
	roster := c.roster.All()
	if len(roster) < 2 {
		return fmt.Errorf("gateway: split-brain requires at least 2 nodes, have %d", len(roster))
	}
	mid := (len(roster) + 1) / 2
	first := roster[:mid]
	second := roster[mid:]

	ids := func(nds []NodeDescriptor) []string {
		out := make([]string, len(nds))
		for i, nd := range nds {
			out[i] = nd.NodeID
		}
		return out
	}
	firstIDs, secondIDs := ids(first), ids(second)

	for _, nd := range first {
		if err := c.orchestrator.IsolateFrom(ctx, nd.NodeID, secondIDs); err != nil {
			return fmt.Errorf("gateway: isolate %s from second half: %w", nd.NodeID, err)
		}
		c.roster.SetIsolated(nd.NodeID, true)
	}
	for _, nd := range second {
		if err := c.orchestrator.IsolateFrom(ctx, nd.NodeID, firstIDs); err != nil {
			return fmt.Errorf("gateway: isolate %s from first half: %w", nd.NodeID, err)
		}
		c.roster.SetIsolated(nd.NodeID, true)
	}
	return nil
}

// CreateNode asks the orchestrator to spawn a node and registers it.
func (c *ChaosController) CreateNode(ctx context.Context, id string) (NodeDescriptor, error) {
	var nd NodeDescriptor
	err := c.withLock(func() error {
		var err error
		nd, err = c.orchestrator.CreateNode(ctx, id)
		if err != nil {
			return fmt.Errorf("gateway: create node: %w", err)
		}
		c.roster.Put(nd)
		return nil
	})
	return nd, err
}

// DeleteNode asks the orchestrator to stop and remove a node, dropping it
// from the roster.
func (c *ChaosController) DeleteNode(ctx context.Context, id string) error {
	return c.withLock(func() error {
		if err := c.orchestrator.DeleteNode(ctx, id); err != nil {
			return fmt.Errorf("gateway: delete node %s: %w", id, err)
		}
		c.roster.Remove(id)
		return nil
	})
}

// BatchResult is the outcome of CreateNodesBatch.
type BatchResult struct {
	Requested    int      `json:"requested"`
	CreatedCount int      `json:"created_count"`
	Failures     []string `json:"failures,omitempty"`
}

// CreateNodesBatch best-effort creates count nodes, continuing past
// individual failures and reporting them rather than aborting the batch.
func (c *ChaosController) CreateNodesBatch(ctx context.Context, count int) (BatchResult, error) {
	result := BatchResult{Requested: count}
	err := c.withLock(func() error {
		for i := 0; i < count; i++ {
			nd, err := c.orchestrator.CreateNode(ctx, "")
			if err != nil {
				result.Failures = append(result.Failures, err.Error())
				continue
			}
			c.roster.Put(nd)
			result.CreatedCount++
		}
		return nil
	})
	return result, err
}

// ScenarioResult is the structured outcome every scripted scenario returns.
type ScenarioResult struct {
	Action           string   `json:"action"`
	Status           string   `json:"status"` // ok, partial, failed, busy
	Message          string   `json:"message,omitempty"`
	Converged        bool     `json:"converged"`
	SuccessfulEvents int      `json:"successful_events,omitempty"`
	FailedEvents     int      `json:"failed_events,omitempty"`
	States           []string `json:"states"`
}

// SplitBrainHeal runs the scripted split-brain-then-heal scenario:
// START -> PARTITIONING -> PARTITIONED -> HEALING -> VERIFYING -> DONE.
func (c *ChaosController) SplitBrainHeal(ctx context.Context, isolateSeconds time.Duration, verifyPolls int) ScenarioResult {
	result := ScenarioResult{Action: "split-brain-then-heal"}
	err := c.withLock(func() error {
		ctx, cancel := context.WithTimeout(ctx, scenarioDeadline)
		defer cancel()

		result.States = append(result.States, "START")

		result.States = append(result.States, "PARTITIONING")
		if err := c.splitBrainLocked(ctx); err != nil {
			result.Status = "failed"
			result.Message = err.Error()
			return nil
		}

		result.States = append(result.States, "PARTITIONED")
		select {
		case <-time.After(isolateSeconds):
		case <-ctx.Done():
			result.States = append(result.States, "DONE")
			result.Status = "partial"
			result.Message = "deadline exceeded while partitioned"
			return nil
		}

		result.States = append(result.States, "HEALING")
		if errs := c.healAllLocked(ctx); len(errs) > 0 {
			result.Status = "partial"
			result.Message = fmt.Sprintf("%d node(s) failed to heal", len(errs))
		}

		result.States = append(result.States, "VERIFYING")
		converged := c.pollUntilConverged(ctx, verifyPolls)
		result.Converged = converged

		result.States = append(result.States, "DONE")
		if result.Status == "" {
			if converged {
				result.Status = "ok"
			} else {
				result.Status = "partial"
			}
		}
		return nil
	})
	if errors.Is(err, ErrBusy) {
		return ScenarioResult{Action: "split-brain-then-heal", Status: "busy", States: []string{"START"}}
	}
	return result
}

// pollUntilConverged polls the fleet up to verifyPolls times, returning
// true as soon as a poll finds every reachable node on the same root. With
// verifyPolls <= 0 it does not poll at all and returns false.
func (c *ChaosController) pollUntilConverged(ctx context.Context, verifyPolls int) bool {
	for i := 0; i < verifyPolls; i++ {
		results := c.poller.Poll(ctx, c.roster.All())
		merged := c.merger.Merge(results)
		rec := c.divergence.Observe(time.Now().UnixMilli(), merged.PerNodeRoots, c.metrics)
		if !rec.IsDivergent && len(rec.ReachableNodeIDs) > 0 {
			return true
		}
		if i < verifyPolls-1 {
			time.Sleep(c.poller.fetchTimeout)
		}
	}
	return false
}

// BootstrapConverge runs the scripted bootstrap-converge scenario: creates
// createNodes fresh nodes, injects eventsPerNode synthetic events into each
// round-robin across a small set of event types, then polls until every
// node's root agrees.
func (c *ChaosController) BootstrapConverge(ctx context.Context, createNodes, eventsPerNode, verifyPolls int) ScenarioResult {
	result := ScenarioResult{Action: "bootstrap-converge"}
	err := c.withLock(func() error {
		ctx, cancel := context.WithTimeout(ctx, scenarioDeadline)
		defer cancel()

		result.States = append(result.States, "START")

		result.States = append(result.States, "CREATING")
		created := make([]NodeDescriptor, 0, createNodes)
		for i := 0; i < createNodes; i++ {
			nd, err := c.orchestrator.CreateNode(ctx, "")
			if err != nil {
				log.Printf("gateway: bootstrap-converge: create node failed: %v", err)
				continue
			}
			c.roster.Put(nd)
			created = append(created, nd)
		}

		result.States = append(result.States, "INJECTING")
		successful, failed := injectSyntheticEvents(ctx, created, eventsPerNode)
		result.SuccessfulEvents = successful
		result.FailedEvents = failed

		result.States = append(result.States, "VERIFYING")
		result.Converged = c.pollUntilConverged(ctx, verifyPolls)

		result.States = append(result.States, "DONE")
		switch {
		case result.Converged:
			result.Status = "ok"
		case failed > 0:
			result.Status = "partial"
		default:
			result.Status = "partial"
		}
		return nil
	})
	if errors.Is(err, ErrBusy) {
		return ScenarioResult{Action: "bootstrap-converge", Status: "busy", States: []string{"START"}}
	}
	return result
}
