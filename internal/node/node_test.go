package node

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/decub/edgemesh/internal/config"
)

func startTestNode(t *testing.T, id string, httpPort, gossipPort int, peers []string) *Node {
	t.Helper()
	cfg := config.DefaultNodeConfig()
	cfg.NodeID = id
	cfg.DataDir = t.TempDir()
	cfg.HTTPAddress = "127.0.0.1:" + strconv.Itoa(httpPort)
	cfg.GossipPort = gossipPort
	cfg.Peers = peers
	cfg.GossipInterval = 40 * time.Millisecond

	n, err := New(cfg)
	require.NoError(t, err)

	go n.Start()
	t.Cleanup(n.Stop)
	time.Sleep(30 * time.Millisecond) // let the HTTP listener bind
	return n
}

func TestThreeNodeConvergenceOverHTTPAndGossip(t *testing.T) {
	base := 31000 + int(time.Now().UnixNano()%1000)

	n1 := startTestNode(t, "node1", base, base+100,
		[]string{"127.0.0.1:" + strconv.Itoa(base + 101), "127.0.0.1:" + strconv.Itoa(base + 102)})
	n2 := startTestNode(t, "node2", base+1, base+101,
		[]string{"127.0.0.1:" + strconv.Itoa(base + 100), "127.0.0.1:" + strconv.Itoa(base + 102)})
	n3 := startTestNode(t, "node3", base+2, base+102,
		[]string{"127.0.0.1:" + strconv.Itoa(base + 100), "127.0.0.1:" + strconv.Itoa(base + 101)})

	postEvent(t, n1.cfg.HTTPAddress, "water_level", 1.0, "sector-1")
	postEvent(t, n2.cfg.HTTPAddress, "injured_count", 2.0, "sector-2")
	postEvent(t, n3.cfg.HTTPAddress, "road_status", "blocked", "sector-3")

	deadline := time.Now().Add(8 * time.Second)
	for time.Now().Before(deadline) {
		if n1.store.MerkleRoot() == n2.store.MerkleRoot() && n2.store.MerkleRoot() == n3.store.MerkleRoot() {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("nodes did not converge: %s %s %s", n1.store.MerkleRoot(), n2.store.MerkleRoot(), n3.store.MerkleRoot())
}

func TestIsolatedNodeReportsStatus(t *testing.T) {
	base := 31500 + int(time.Now().UnixNano()%1000)
	n := startTestNode(t, "node1", base, base+100, nil)

	require.False(t, n.Isolated())
	n.SetIsolated(true)
	require.True(t, n.Isolated())

	resp, err := http.Get("http://" + n.cfg.HTTPAddress + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()

	var status map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	require.Equal(t, true, status["isolated"])
}

func postEvent(t *testing.T, addr, eventType string, value any, location string) {
	t.Helper()
	body, _ := json.Marshal(map[string]any{"type": eventType, "value": value, "location": location})
	resp, err := http.Post("http://"+addr+"/event", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}
