package gateway

import (
	"time"

	"github.com/decub/edgemesh/internal/replica"
)

// MergeResult is what one Merger.Merge call produces: the consolidated
// replica, each reachable node's own reported root, and the root of the
// consolidated replica itself.
type MergeResult struct {
	MergedState  replica.ReplicaWire
	PerNodeRoots map[string]string
	MergedRoot   string
	MergeTimeMS  float64
}

// Merger folds a batch of fetched node snapshots into one consolidated
// replica using the same CRDT merge semantics every node uses, then records
// how long that took into the metrics registry's merge_time_ms series.
type Merger struct {
	metrics *MetricsRegistry
}

// NewMerger returns a Merger that publishes timing samples to metrics.
func NewMerger(metrics *MetricsRegistry) *Merger {
	return &Merger{metrics: metrics}
}

// Merge consolidates every reachable result's snapshot. Unreachable results
// are skipped entirely — their last-known root from a prior poll is not
// carried forward, since the consolidated replica is rebuilt from scratch
// each tick.
func (m *Merger) Merge(results []pollResult) MergeResult {
	start := time.Now()

	consolidator := replica.NewConsolidator()
	perNodeRoots := make(map[string]string, len(results))
	for _, r := range results {
		if !r.Reachable {
			continue
		}
		perNodeRoots[r.NodeID] = r.Snapshot.MerkleRoot
		_ = consolidator.Absorb(r.Snapshot) // wires already validated by the poller's JSON decode
	}

	merged := consolidator.Snapshot("consolidated")
	elapsed := float64(time.Since(start).Microseconds()) / 1000.0

	m.metrics.Observe("merge_time_ms", elapsed)
	m.metrics.Set("last_merge_duration_ms", int64(elapsed))

	return MergeResult{
		MergedState:  merged,
		PerNodeRoots: perNodeRoots,
		MergedRoot:   merged.MerkleRoot,
		MergeTimeMS:  elapsed,
	}
}
