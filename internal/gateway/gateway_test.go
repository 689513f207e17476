package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/decub/edgemesh/internal/config"
)

func newTestGateway(t *testing.T) *Gateway {
	t.Helper()
	cfg := config.DefaultGatewayConfig()
	cfg.Orchestrator = "fake"
	cfg.FetchTimeout = 500 * time.Millisecond
	cfg.MaxRetries = 1

	gw, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		if fake, ok := gw.orchestrator.(*OrchestratorFake); ok {
			fake.Shutdown()
		}
	})
	// Route the fake orchestrator's node logs under a private temp dir.
	if fake, ok := gw.orchestrator.(*OrchestratorFake); ok {
		fake.dataDir = t.TempDir()
	}
	return gw
}

func TestBootstrapConvergeScenarioReachesOK(t *testing.T) {
	gw := newTestGateway(t)

	result := gw.chaos.BootstrapConverge(context.Background(), 3, 2, 8)
	assert.Equal(t, "bootstrap-converge", result.Action)
	assert.Contains(t, result.States, "DONE")
	assert.Equal(t, 3, gw.roster.Len())
	assert.True(t, result.Converged, "expected fleet to converge within the poll budget, got status %q", result.Status)
	assert.Equal(t, "ok", result.Status)
}

func TestSplitBrainHealScenarioReconverges(t *testing.T) {
	gw := newTestGateway(t)
	gw.chaos.CreateNodesBatch(context.Background(), 4)

	result := gw.chaos.SplitBrainHeal(context.Background(), 200*time.Millisecond, 10)
	assert.Contains(t, result.States, "PARTITIONED")
	assert.Contains(t, result.States, "HEALING")
	assert.True(t, result.Converged)
	assert.Equal(t, "ok", result.Status)
}

func TestGatewayPollOnceMergesReachableNodes(t *testing.T) {
	gw := newTestGateway(t)
	gw.chaos.CreateNodesBatch(context.Background(), 2)

	// Allow the in-process nodes' HTTP listeners a moment to be ready.
	time.Sleep(50 * time.Millisecond)

	merged := gw.pollOnce(context.Background())
	assert.Len(t, merged.PerNodeRoots, 2)
	assert.Equal(t, merged, gw.LastMerge())
}

func TestScenariosSerializeThroughOperationMutex(t *testing.T) {
	gw := newTestGateway(t)
	gw.chaos.CreateNodesBatch(context.Background(), 2)

	done := make(chan struct{})
	go func() {
		gw.chaos.SplitBrainHeal(context.Background(), 500*time.Millisecond, 1)
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)

	result := gw.chaos.BootstrapConverge(context.Background(), 1, 1, 1)
	assert.Equal(t, "busy", result.Status)

	<-done
}
