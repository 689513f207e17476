package gateway

import "context"

// NodeDescriptor is the gateway's view of one fleet member.
type NodeDescriptor struct {
	NodeID   string `json:"node_id"`
	Name     string `json:"name"` // "edge-<id>"
	URL      string `json:"url"`
	Status   string `json:"status"` // running, isolated, stopped, unreachable
	Managed  bool   `json:"managed"`
	Isolated bool   `json:"isolated"`
}

const (
	StatusRunning     = "running"
	StatusIsolated    = "isolated"
	StatusStopped     = "stopped"
	StatusUnreachable = "unreachable"
)

// OrchestratorPort is the seam between chaos operations and whatever
// actually runs edge-node processes. A Docker-backed implementation
// manipulates real containers and their network namespaces; a fake
// implementation flips in-memory flags for tests.
type OrchestratorPort interface {
	// CreateNode spawns a new node, returning its descriptor. If id is
	// empty, the orchestrator assigns one.
	CreateNode(ctx context.Context, id string) (NodeDescriptor, error)
	// DeleteNode stops and removes a managed node.
	DeleteNode(ctx context.Context, id string) error
	// Isolate inserts UDP-direction DROP rules inside the node's network
	// namespace so it can neither send nor receive gossip traffic.
	Isolate(ctx context.Context, id string) error
	// Heal removes any isolation rules on the node.
	Heal(ctx context.Context, id string) error
	// IsolateFrom inserts directional DROP rules so id cannot exchange
	// UDP traffic with any node in peers, without affecting traffic to
	// nodes outside that set.
	IsolateFrom(ctx context.Context, id string, peers []string) error
}
