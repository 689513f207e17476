package gossip

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/decub/edgemesh/internal/replica"
	"github.com/decub/edgemesh/testutil"
)

func newTestStore(t *testing.T, nodeID string) *replica.ReplicaStore {
	t.Helper()
	env := testutil.NewTestEnvironment(t, nodeID)
	t.Cleanup(env.Close)
	return env.Store
}

// waitForCondition polls cond every tick until it is true or the deadline
// passes, failing the test if it never becomes true. Gossip convergence is
// inherently timer-driven, so tests poll rather than sleep a fixed amount.
func waitForCondition(t *testing.T, deadline time.Duration, tick time.Duration, cond func() bool) {
	t.Helper()
	end := time.Now().Add(deadline)
	for time.Now().Before(end) {
		if cond() {
			return
		}
		time.Sleep(tick)
	}
	if !cond() {
		t.Fatalf("condition not met within %s", deadline)
	}
}

func TestGossipConverges(t *testing.T) {
	storeA := newTestStore(t, "node1")
	storeB := newTestStore(t, "node2")

	portA := 30100 + int(time.Now().UnixNano()%500)
	portB := portA + 1

	svcA, err := NewService(storeA, "node1", portA, []string{"127.0.0.1:" + strconv.Itoa(portB)}, 50*time.Millisecond, time.Second)
	require.NoError(t, err)
	defer svcA.Stop()

	svcB, err := NewService(storeB, "node2", portB, []string{"127.0.0.1:" + strconv.Itoa(portA)}, 50*time.Millisecond, time.Second)
	require.NoError(t, err)
	defer svcB.Stop()

	svcA.Start()
	svcB.Start()

	_, err = storeA.IngestEvent("water_level", 1.0, "sector-1", nil)
	require.NoError(t, err)
	_, err = storeB.IngestEvent("injured_count", 2, "sector-2", nil)
	require.NoError(t, err)

	waitForCondition(t, 5*time.Second, 50*time.Millisecond, func() bool {
		return storeA.MerkleRoot() == storeB.MerkleRoot()
	})
}

func TestGossipIsolatedNodeDoesNotConverge(t *testing.T) {
	storeA := newTestStore(t, "node1")
	storeB := newTestStore(t, "node2")

	portA := 30600 + int(time.Now().UnixNano()%500)
	portB := portA + 1

	svcA, err := NewService(storeA, "node1", portA, []string{"127.0.0.1:" + strconv.Itoa(portB)}, 30*time.Millisecond, time.Second)
	require.NoError(t, err)
	defer svcA.Stop()

	svcB, err := NewService(storeB, "node2", portB, []string{"127.0.0.1:" + strconv.Itoa(portA)}, 30*time.Millisecond, time.Second)
	require.NoError(t, err)
	defer svcB.Stop()

	svcB.SetIsolated(true)
	svcA.Start()
	svcB.Start()

	_, err = storeA.IngestEvent("water_level", 1.0, "sector-1", nil)
	require.NoError(t, err)

	// Give several gossip intervals a chance to fire; the isolated node must
	// not pick up the change.
	time.Sleep(400 * time.Millisecond)
	require.NotEqual(t, storeA.MerkleRoot(), storeB.MerkleRoot())

	svcB.SetIsolated(false)
	waitForCondition(t, 5*time.Second, 50*time.Millisecond, func() bool {
		return storeA.MerkleRoot() == storeB.MerkleRoot()
	})
}

