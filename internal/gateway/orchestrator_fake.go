package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/decub/edgemesh/internal/config"
	"github.com/decub/edgemesh/internal/node"
)

// OrchestratorFake runs real edgenode processes in-process, bound to
// ephemeral localhost ports, instead of spawning containers. It backs
// tests and local demos so chaos scenarios exercise real HTTP traffic
// without a Docker daemon. Each node runs its gossip service with the
// default node config: an empty peer list and the default gossip interval,
// so nodes created by the fake do not gossip with one another.
type OrchestratorFake struct {
	mu        sync.Mutex
	nextHTTP  int
	nextUDP   int
	dataDir   string
	nodes     map[string]*node.Node
}

// NewOrchestratorFake returns a fake orchestrator that allocates node
// ports starting at httpBase/udpBase and writes hash-chain logs under
// dataDir.
func NewOrchestratorFake(dataDir string, httpBase, udpBase int) *OrchestratorFake {
	return &OrchestratorFake{
		nextHTTP: httpBase,
		nextUDP:  udpBase,
		dataDir:  dataDir,
		nodes:    make(map[string]*node.Node),
	}
}

func (f *OrchestratorFake) CreateNode(ctx context.Context, id string) (NodeDescriptor, error) {
	if id == "" {
		id = "edge-" + uuid.NewString()[:8]
	}

	f.mu.Lock()
	if _, exists := f.nodes[id]; exists {
		f.mu.Unlock()
		return NodeDescriptor{}, fmt.Errorf("gateway: node %s already exists", id)
	}
	httpPort := f.nextHTTP
	udpPort := f.nextUDP
	f.nextHTTP++
	f.nextUDP++
	f.mu.Unlock()

	cfg := config.DefaultNodeConfig()
	cfg.NodeID = id
	cfg.DataDir = f.dataDir
	cfg.HTTPAddress = fmt.Sprintf("127.0.0.1:%d", httpPort)
	cfg.GossipPort = udpPort

	n, err := node.New(cfg)
	if err != nil {
		return NodeDescriptor{}, fmt.Errorf("gateway: create node %s: %w", id, err)
	}

	go func() {
		if err := n.Start(); err != nil {
			// Start returns once the HTTP listener stops; nothing further
			// to do here, Stop() already logs shutdown errors.
			_ = err
		}
	}()
	// Give the listener a moment to bind before the poller's first tick.
	time.Sleep(20 * time.Millisecond)

	f.mu.Lock()
	f.nodes[id] = n
	f.mu.Unlock()

	return NodeDescriptor{
		NodeID:  id,
		Name:    "edge-" + id,
		URL:     "http://" + cfg.HTTPAddress,
		Status:  StatusRunning,
		Managed: true,
	}, nil
}

func (f *OrchestratorFake) DeleteNode(ctx context.Context, id string) error {
	f.mu.Lock()
	n, ok := f.nodes[id]
	delete(f.nodes, id)
	f.mu.Unlock()
	if !ok {
		return fmt.Errorf("gateway: unknown node %s", id)
	}
	n.Stop()
	return nil
}

func (f *OrchestratorFake) Isolate(ctx context.Context, id string) error {
	n, err := f.node(id)
	if err != nil {
		return err
	}
	n.SetIsolated(true)
	return nil
}

func (f *OrchestratorFake) Heal(ctx context.Context, id string) error {
	n, err := f.node(id)
	if err != nil {
		return err
	}
	n.SetIsolated(false)
	return nil
}

// IsolateFrom is approximated in the fake as full isolation: the fake has
// no per-peer packet filter, only an all-or-nothing gossip gate, so a
// directional split is indistinguishable from full isolation for any node
// it is applied to.
func (f *OrchestratorFake) IsolateFrom(ctx context.Context, id string, peers []string) error {
	return f.Isolate(ctx, id)
}

func (f *OrchestratorFake) node(id string) (*node.Node, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.nodes[id]
	if !ok {
		return nil, fmt.Errorf("gateway: unknown node %s", id)
	}
	return n, nil
}

// NodeByID exposes the in-process node for callers that need direct
// access to it without a network hop.
func (f *OrchestratorFake) NodeByID(id string) (*node.Node, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.nodes[id]
	return n, ok
}

// Shutdown stops every node the fake has created.
func (f *OrchestratorFake) Shutdown() {
	f.mu.Lock()
	nodes := make([]*node.Node, 0, len(f.nodes))
	for _, n := range f.nodes {
		nodes = append(nodes, n)
	}
	f.nodes = make(map[string]*node.Node)
	f.mu.Unlock()

	for _, n := range nodes {
		n.Stop()
	}
}
