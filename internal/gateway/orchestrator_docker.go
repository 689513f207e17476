package gateway

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	"github.com/google/uuid"
)

// OrchestratorDocker runs edge nodes as real Docker containers on a shared
// bridge network, and applies isolation with iptables rules executed
// inside each container via docker exec.
type OrchestratorDocker struct {
	cli     *client.Client
	network string
	image   string

	mu        sync.Mutex
	nextPort  int
	containers map[string]string // node_id -> container ID
}

// NewOrchestratorDocker connects to the Docker daemon using the standard
// environment-derived configuration (DOCKER_HOST, TLS certs, etc.).
func NewOrchestratorDocker(network, image string, httpPortBase int) (*OrchestratorDocker, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("gateway: docker client: %w", err)
	}
	return &OrchestratorDocker{
		cli:        cli,
		network:    network,
		image:      image,
		nextPort:   httpPortBase,
		containers: make(map[string]string),
	}, nil
}

func containerName(nodeID string) string { return "edgenode-" + nodeID }

func (o *OrchestratorDocker) CreateNode(ctx context.Context, id string) (NodeDescriptor, error) {
	if id == "" {
		id = "edge-" + uuid.NewString()[:8]
	}

	o.mu.Lock()
	hostPort := o.nextPort
	o.nextPort++
	o.mu.Unlock()

	exposedPorts, portBindings, err := nat.ParsePortSpecs([]string{
		fmt.Sprintf("%d:8000/tcp", hostPort),
	})
	if err != nil {
		return NodeDescriptor{}, fmt.Errorf("gateway: parse port spec: %w", err)
	}

	cfg := &container.Config{
		Image:        o.image,
		Env:          []string{"EDGENODE_NODE_ID=" + id},
		ExposedPorts: exposedPorts,
	}
	hostCfg := &container.HostConfig{
		PortBindings: portBindings,
		NetworkMode:  container.NetworkMode(o.network),
	}

	resp, err := o.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, containerName(id))
	if err != nil {
		return NodeDescriptor{}, fmt.Errorf("gateway: create container for %s: %w", id, err)
	}
	if err := o.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return NodeDescriptor{}, fmt.Errorf("gateway: start container for %s: %w", id, err)
	}

	o.mu.Lock()
	o.containers[id] = resp.ID
	o.mu.Unlock()

	return NodeDescriptor{
		NodeID:  id,
		Name:    "edge-" + id,
		URL:     "http://127.0.0.1:" + strconv.Itoa(hostPort),
		Status:  StatusRunning,
		Managed: true,
	}, nil
}

func (o *OrchestratorDocker) DeleteNode(ctx context.Context, id string) error {
	containerID, err := o.containerID(id)
	if err != nil {
		return err
	}
	if err := o.cli.ContainerStop(ctx, containerID, container.StopOptions{}); err != nil {
		return fmt.Errorf("gateway: stop container for %s: %w", id, err)
	}
	if err := o.cli.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true}); err != nil {
		return fmt.Errorf("gateway: remove container for %s: %w", id, err)
	}
	o.mu.Lock()
	delete(o.containers, id)
	o.mu.Unlock()
	return nil
}

func (o *OrchestratorDocker) Isolate(ctx context.Context, id string) error {
	return o.exec(ctx, id, []string{
		"sh", "-c",
		"iptables -I INPUT -p udp --dport 9000 -j DROP; iptables -I OUTPUT -p udp --dport 9000 -j DROP",
	})
}

func (o *OrchestratorDocker) Heal(ctx context.Context, id string) error {
	return o.exec(ctx, id, []string{
		"sh", "-c",
		"iptables -F INPUT; iptables -F OUTPUT",
	})
}

func (o *OrchestratorDocker) IsolateFrom(ctx context.Context, id string, peers []string) error {
	rule := "sh -c 'true"
	for _, peer := range peers {
		host := containerName(peer)
		rule += fmt.Sprintf("; iptables -I INPUT -p udp -s %s -j DROP; iptables -I OUTPUT -p udp -d %s -j DROP", host, host)
	}
	rule += "'"
	return o.exec(ctx, id, []string{"sh", "-c", rule})
}

func (o *OrchestratorDocker) exec(ctx context.Context, id string, cmd []string) error {
	containerID, err := o.containerID(id)
	if err != nil {
		return err
	}
	execResp, err := o.cli.ContainerExecCreate(ctx, containerID, container.ExecOptions{
		Cmd:          cmd,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return fmt.Errorf("gateway: exec create on %s: %w", id, err)
	}
	attach, err := o.cli.ContainerExecAttach(ctx, execResp.ID, container.ExecAttachOptions{})
	if err != nil {
		return fmt.Errorf("gateway: exec attach on %s: %w", id, err)
	}
	attach.Close()
	return nil
}

func (o *OrchestratorDocker) containerID(id string) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	containerID, ok := o.containers[id]
	if !ok {
		return "", fmt.Errorf("gateway: unknown node %s", id)
	}
	return containerID, nil
}
