// Package node wires together one edge node's three components — the
// replica store, the HTTP intake service, and the UDP gossip service —
// and gives them an ordered start/stop sequence.
package node

import (
	"fmt"
	"log"
	"path/filepath"

	"github.com/decub/edgemesh/internal/config"
	"github.com/decub/edgemesh/internal/gossip"
	"github.com/decub/edgemesh/internal/intake"
	"github.com/decub/edgemesh/internal/replica"
)

// Node owns one edge node's full runtime.
type Node struct {
	cfg    *config.NodeConfig
	store  *replica.ReplicaStore
	intake *intake.Service
	gossip *gossip.Service
}

// New constructs a Node from cfg, opening its hash-chain log under
// cfg.DataDir.
func New(cfg *config.NodeConfig) (*Node, error) {
	if cfg.NodeID == "" {
		return nil, fmt.Errorf("node: node_id must be set")
	}

	logPath := filepath.Join(cfg.DataDir, cfg.NodeID+".log")
	store, err := replica.NewReplicaStore(cfg.NodeID, logPath)
	if err != nil {
		return nil, fmt.Errorf("node: new replica store: %w", err)
	}

	gossipSvc, err := gossip.NewService(store, cfg.NodeID, cfg.GossipPort, cfg.Peers, cfg.GossipInterval, cfg.ReassembleTimeout)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("node: new gossip service: %w", err)
	}

	intakeSvc := intake.NewService(store, cfg.NodeID, cfg.Peers, gossipSvc.Isolated)

	return &Node{cfg: cfg, store: store, intake: intakeSvc, gossip: gossipSvc}, nil
}

// Start launches gossip in the background and blocks serving HTTP intake
// until Stop is called (via the HTTP server shutting down) or the server
// errors.
func (n *Node) Start() error {
	n.gossip.Start()
	log.Printf("node: %s starting intake on %s", n.cfg.NodeID, n.cfg.HTTPAddress)
	return n.intake.Start(n.cfg.HTTPAddress)
}

// SetIsolated toggles the node's gossip isolation state.
func (n *Node) SetIsolated(isolated bool) {
	n.gossip.SetIsolated(isolated)
}

// Isolated reports the node's current gossip isolation state.
func (n *Node) Isolated() bool {
	return n.gossip.Isolated()
}

// Store returns the node's replica store, for callers that need direct
// access to it without going through HTTP intake.
func (n *Node) Store() *replica.ReplicaStore {
	return n.store
}

// Stop shuts the node down in the reverse order components were started:
// intake HTTP first (stop accepting new ingestion), then gossip, then the
// replica store's log file.
func (n *Node) Stop() {
	if err := n.intake.Stop(); err != nil {
		log.Printf("node: stop intake: %v", err)
	}
	if err := n.gossip.Stop(); err != nil {
		log.Printf("node: stop gossip: %v", err)
	}
	if err := n.store.Close(); err != nil {
		log.Printf("node: close store: %v", err)
	}
}
