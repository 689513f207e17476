// Package config loads node and gateway configuration from file and
// environment, defaulting every field so a bare `--config ""` invocation
// still produces a usable single-node configuration.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// NodeConfig configures one edge node process: its HTTP intake surface,
// UDP gossip surface, peer list and on-disk log path.
type NodeConfig struct {
	NodeID      string        `mapstructure:"node_id"`
	DataDir     string        `mapstructure:"data_dir"`
	HTTPAddress string        `mapstructure:"http_address"`
	GossipPort  int           `mapstructure:"gossip_port"`
	Peers       []string      `mapstructure:"peers"`
	GossipInterval   time.Duration `mapstructure:"gossip_interval"`
	ReassembleTimeout time.Duration `mapstructure:"reassemble_timeout"`
	LogLevel    string        `mapstructure:"log_level"`
}

// GatewayConfig configures the gateway process: its HTTP address, polling
// cadence and retry policy, divergence ring capacity and orchestrator
// backend. The fleet roster is not configured here; it starts empty.
type GatewayConfig struct {
	HTTPAddress         string        `mapstructure:"http_address"`
	PollInterval        time.Duration `mapstructure:"poll_interval"`
	FetchTimeout        time.Duration `mapstructure:"fetch_timeout"`
	MaxRetries          int           `mapstructure:"max_retries"`
	ConsecutiveFailures int           `mapstructure:"consecutive_failures"`
	DivergenceRingSize  int           `mapstructure:"divergence_ring_size"`
	Orchestrator        string        `mapstructure:"orchestrator"` // "docker" or "fake"
	DockerNetwork       string        `mapstructure:"docker_network"`
	NodeImage           string        `mapstructure:"node_image"`
	LogLevel            string        `mapstructure:"log_level"`
}

// DefaultNodeConfig returns the configuration a node starts with absent
// any file or environment override.
func DefaultNodeConfig() *NodeConfig {
	return &NodeConfig{
		NodeID:            "",
		DataDir:           "./data",
		HTTPAddress:       "0.0.0.0:8000",
		GossipPort:        9000,
		Peers:             []string{},
		GossipInterval:    5 * time.Second,
		ReassembleTimeout: 5 * time.Second,
		LogLevel:          "info",
	}
}

// DefaultGatewayConfig returns the configuration a gateway starts with
// absent any file or environment override.
func DefaultGatewayConfig() *GatewayConfig {
	return &GatewayConfig{
		HTTPAddress:         "0.0.0.0:8500",
		PollInterval:        2 * time.Second,
		FetchTimeout:        1500 * time.Millisecond,
		MaxRetries:          2,
		ConsecutiveFailures: 3,
		DivergenceRingSize:  200,
		Orchestrator:        "fake",
		DockerNetwork:       "edgemesh",
		NodeImage:           "edgemesh/edgenode:latest",
		LogLevel:            "info",
	}
}

// LoadNodeConfig loads a NodeConfig from configPath (if non-empty) layered
// over the defaults, with EDGENODE_-prefixed environment overrides.
func LoadNodeConfig(configPath string) (*NodeConfig, error) {
	cfg := DefaultNodeConfig()
	v := viper.New()

	v.SetDefault("node_id", cfg.NodeID)
	v.SetDefault("data_dir", cfg.DataDir)
	v.SetDefault("http_address", cfg.HTTPAddress)
	v.SetDefault("gossip_port", cfg.GossipPort)
	v.SetDefault("peers", cfg.Peers)
	v.SetDefault("gossip_interval", cfg.GossipInterval)
	v.SetDefault("reassemble_timeout", cfg.ReassembleTimeout)
	v.SetDefault("log_level", cfg.LogLevel)

	v.SetEnvPrefix("EDGENODE")
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", configPath, err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal node config: %w", err)
	}
	return cfg, nil
}

// LoadGatewayConfig loads a GatewayConfig from configPath (if non-empty)
// layered over the defaults, with EDGEGATEWAY_-prefixed environment
// overrides.
func LoadGatewayConfig(configPath string) (*GatewayConfig, error) {
	cfg := DefaultGatewayConfig()
	v := viper.New()

	v.SetDefault("http_address", cfg.HTTPAddress)
	v.SetDefault("poll_interval", cfg.PollInterval)
	v.SetDefault("fetch_timeout", cfg.FetchTimeout)
	v.SetDefault("max_retries", cfg.MaxRetries)
	v.SetDefault("consecutive_failures", cfg.ConsecutiveFailures)
	v.SetDefault("divergence_ring_size", cfg.DivergenceRingSize)
	v.SetDefault("orchestrator", cfg.Orchestrator)
	v.SetDefault("docker_network", cfg.DockerNetwork)
	v.SetDefault("node_image", cfg.NodeImage)
	v.SetDefault("log_level", cfg.LogLevel)

	v.SetEnvPrefix("EDGEGATEWAY")
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", configPath, err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal gateway config: %w", err)
	}
	return cfg, nil
}
