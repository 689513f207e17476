package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultNodeConfig(t *testing.T) {
	cfg := DefaultNodeConfig()
	assert.Equal(t, "0.0.0.0:8000", cfg.HTTPAddress)
	assert.Equal(t, 9000, cfg.GossipPort)
	assert.Equal(t, 5*time.Second, cfg.GossipInterval)
	assert.Empty(t, cfg.Peers)
}

func TestLoadNodeConfigWithoutFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadNodeConfig("")
	require.NoError(t, err)
	assert.Equal(t, DefaultNodeConfig(), cfg)
}

func TestLoadNodeConfigEnvironmentOverride(t *testing.T) {
	t.Setenv("EDGENODE_HTTP_ADDRESS", "127.0.0.1:9100")
	t.Setenv("EDGENODE_GOSSIP_PORT", "9200")

	cfg, err := LoadNodeConfig("")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9100", cfg.HTTPAddress)
	assert.Equal(t, 9200, cfg.GossipPort)
	// Unset fields still fall back to the default.
	assert.Equal(t, "./data", cfg.DataDir)
}

func TestLoadNodeConfigFromFile(t *testing.T) {
	path := writeTempConfig(t, `
node_id: edge-7
http_address: 127.0.0.1:8700
gossip_port: 9700
peers:
  - 127.0.0.1:9701
  - 127.0.0.1:9702
`)

	cfg, err := LoadNodeConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "edge-7", cfg.NodeID)
	assert.Equal(t, "127.0.0.1:8700", cfg.HTTPAddress)
	assert.Equal(t, 9700, cfg.GossipPort)
	assert.Equal(t, []string{"127.0.0.1:9701", "127.0.0.1:9702"}, cfg.Peers)
}

func TestDefaultGatewayConfig(t *testing.T) {
	cfg := DefaultGatewayConfig()
	assert.Equal(t, "fake", cfg.Orchestrator)
	assert.Equal(t, 200, cfg.DivergenceRingSize)
	assert.Equal(t, 3, cfg.ConsecutiveFailures)
}

func TestLoadGatewayConfigEnvironmentOverride(t *testing.T) {
	t.Setenv("EDGEGATEWAY_ORCHESTRATOR", "docker")
	t.Setenv("EDGEGATEWAY_MAX_RETRIES", "5")

	cfg, err := LoadGatewayConfig("")
	require.NoError(t, err)
	assert.Equal(t, "docker", cfg.Orchestrator)
	assert.Equal(t, 5, cfg.MaxRetries)
}

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "config-*.yaml")
	require.NoError(t, err)
	defer f.Close()
	_, err = f.WriteString(contents)
	require.NoError(t, err)
	return f.Name()
}
