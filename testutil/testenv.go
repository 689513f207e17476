// Package testutil provides shared test scaffolding for spinning up a
// replica store backed by a temp-dir hash-chain log, mirroring the shape of
// a real node's on-disk state without the HTTP or gossip surface around it.
package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/decub/edgemesh/internal/config"
	"github.com/decub/edgemesh/internal/replica"
)

// TestEnvironment owns a temp directory and a replica store rooted in it,
// torn down together via Close.
type TestEnvironment struct {
	T       *testing.T
	TempDir string
	Config  *config.NodeConfig
	Store   *replica.ReplicaStore
}

// NewTestEnvironment creates a fresh node config and hash-chain-backed
// replica store under a new temp directory.
func NewTestEnvironment(t *testing.T, nodeID string) *TestEnvironment {
	t.Helper()

	tempDir, err := os.MkdirTemp("", "edgemesh-test-*")
	if err != nil {
		t.Fatalf("testutil: create temp dir: %v", err)
	}

	cfg := config.DefaultNodeConfig()
	cfg.NodeID = nodeID
	cfg.DataDir = tempDir

	store, err := replica.NewReplicaStore(nodeID, filepath.Join(tempDir, nodeID+".jsonl"))
	if err != nil {
		os.RemoveAll(tempDir)
		t.Fatalf("testutil: open replica store: %v", err)
	}

	return &TestEnvironment{
		T:       t,
		TempDir: tempDir,
		Config:  cfg,
		Store:   store,
	}
}

// Close shuts the store down and removes the temp directory.
func (env *TestEnvironment) Close() {
	env.T.Helper()
	if err := env.Store.Close(); err != nil {
		env.T.Logf("testutil: close store: %v", err)
	}
	if err := os.RemoveAll(env.TempDir); err != nil {
		env.T.Logf("testutil: remove temp dir: %v", err)
	}
}
