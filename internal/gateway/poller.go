package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/decub/edgemesh/internal/replica"
)

// pollResult is one node's outcome for a single poll tick.
type pollResult struct {
	NodeID     string
	Reachable  bool
	Snapshot   replica.ReplicaWire
}

// FleetPoller concurrently fetches /state/snapshot from every roster
// member on a fixed interval, retrying transient failures with a bounded
// exponential backoff before marking a node unreachable for the tick.
type FleetPoller struct {
	client              *http.Client
	fetchTimeout        time.Duration
	maxRetries          int
	consecutiveFailures int
	metrics             *MetricsRegistry

	mu       sync.Mutex
	failures map[string]int // node_id -> consecutive failure count
}

// NewFleetPoller builds a poller that bounds each fetch attempt to
// fetchTimeout, retries up to maxRetries times, and marks a node
// unreachable once it has failed consecutiveFailures polls in a row.
func NewFleetPoller(fetchTimeout time.Duration, maxRetries, consecutiveFailures int, metrics *MetricsRegistry) *FleetPoller {
	return &FleetPoller{
		client:              &http.Client{},
		fetchTimeout:        fetchTimeout,
		maxRetries:          maxRetries,
		consecutiveFailures: consecutiveFailures,
		metrics:             metrics,
		failures:            make(map[string]int),
	}
}

// Poll fetches every descriptor's /state/snapshot concurrently, bounded to
// one in-flight fetch per node (the roster is already the concurrency
// bound — there is no further fan-in limit needed at N <= ~20).
func (p *FleetPoller) Poll(ctx context.Context, roster []NodeDescriptor) []pollResult {
	results := make([]pollResult, len(roster))
	var wg sync.WaitGroup
	for i, nd := range roster {
		wg.Add(1)
		go func(i int, nd NodeDescriptor) {
			defer wg.Done()
			results[i] = p.fetchOne(ctx, nd)
		}(i, nd)
	}
	wg.Wait()

	p.metrics.Incr("polls_completed", 1)
	reachable := 0
	for _, r := range results {
		if r.Reachable {
			reachable++
		}
	}
	p.metrics.Set("last_reachable_nodes", int64(reachable))
	return results
}

func (p *FleetPoller) fetchOne(ctx context.Context, nd NodeDescriptor) pollResult {
	backoff := 100 * time.Millisecond
	var lastErr error

	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		if attempt > 0 {
			p.metrics.Incr("http_retries", 1)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				p.metrics.Incr("total_http_failures", 1)
				p.recordFailure(nd.NodeID)
				return pollResult{NodeID: nd.NodeID, Reachable: false}
			}
			backoff = 300 * time.Millisecond
		}

		snap, err := p.fetch(ctx, nd.URL)
		if err == nil {
			p.metrics.Incr("total_http_success", 1)
			p.recordSuccess(nd.NodeID)
			return pollResult{NodeID: nd.NodeID, Reachable: true, Snapshot: snap}
		}
		lastErr = err
	}

	p.metrics.Incr("total_http_failures", 1)
	p.recordFailure(nd.NodeID)
	log.Printf("gateway: poll %s unreachable: %v", nd.NodeID, lastErr)
	return pollResult{NodeID: nd.NodeID, Reachable: false}
}

func (p *FleetPoller) fetch(ctx context.Context, baseURL string) (replica.ReplicaWire, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, p.fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, baseURL+"/state/snapshot", nil)
	if err != nil {
		return replica.ReplicaWire{}, fmt.Errorf("gateway: build request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return replica.ReplicaWire{}, fmt.Errorf("gateway: fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return replica.ReplicaWire{}, fmt.Errorf("gateway: fetch: status %d", resp.StatusCode)
	}

	var wire replica.ReplicaWire
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return replica.ReplicaWire{}, fmt.Errorf("gateway: decode snapshot: %w", err)
	}
	return wire, nil
}

func (p *FleetPoller) recordSuccess(nodeID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures[nodeID] = 0
}

func (p *FleetPoller) recordFailure(nodeID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures[nodeID]++
}

// UnreachableStatus reports whether nodeID has now failed
// consecutiveFailures polls in a row.
func (p *FleetPoller) UnreachableStatus(nodeID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.failures[nodeID] >= p.consecutiveFailures
}
