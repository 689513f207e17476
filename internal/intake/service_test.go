package intake

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/decub/edgemesh/internal/replica"
)

func newTestService(t *testing.T, nodeID string, isolated func() bool) (*Service, *replica.ReplicaStore) {
	t.Helper()
	path := filepath.Join(t.TempDir(), nodeID+".jsonl")
	store, err := replica.NewReplicaStore(nodeID, path)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return NewService(store, nodeID, []string{"peer-1"}, isolated), store
}

func (s *Service) serveHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func TestHandlePostEventIngestsAndReturnsRoot(t *testing.T) {
	svc, _ := newTestService(t, "node1", nil)

	body, _ := json.Marshal(map[string]any{"type": "water_level", "value": 2.0, "location": "sector-1"})
	req := httptest.NewRequest(http.MethodPost, "/event", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	svc.serveHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp["event_id"])
	assert.NotEmpty(t, resp["merkle_root"])
}

func TestHandlePostEventRejectsInvalidBody(t *testing.T) {
	svc, _ := newTestService(t, "node1", nil)

	body, _ := json.Marshal(map[string]any{"type": "", "value": 1.0})
	req := httptest.NewRequest(http.MethodPost, "/event", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	svc.serveHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleStatusReportsIsolation(t *testing.T) {
	isolated := true
	svc, _ := newTestService(t, "node1", func() bool { return isolated })

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	svc.serveHTTP(rec, req)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["isolated"])
}

func TestHandleStateSnapshotRoundTrips(t *testing.T) {
	svc, store := newTestService(t, "node1", nil)
	_, err := store.IngestEvent("water_level", 1.0, "sector-1", nil)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/state/snapshot", nil)
	rec := httptest.NewRecorder()
	svc.serveHTTP(rec, req)

	var wire replica.ReplicaWire
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &wire))
	assert.Equal(t, "node1", wire.NodeID)
	assert.Len(t, wire.Events.Adds, 1)
}

func TestHandleStateVerifyReportsValid(t *testing.T) {
	svc, store := newTestService(t, "node1", nil)
	_, err := store.IngestEvent("water_level", 1.0, "sector-1", nil)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/state/verify", nil)
	rec := httptest.NewRecorder()
	svc.serveHTTP(rec, req)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["valid"])
	assert.NotContains(t, resp, "first_bad_seq")
}

func TestHandleStateLogRespectsN(t *testing.T) {
	svc, store := newTestService(t, "node1", nil)
	for i := 0; i < 5; i++ {
		_, err := store.IngestEvent("water_level", float64(i), "sector-1", nil)
		require.NoError(t, err)
	}

	req := httptest.NewRequest(http.MethodGet, "/state/log?n=2", nil)
	rec := httptest.NewRecorder()
	svc.serveHTTP(rec, req)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	records := resp["records"].([]any)
	assert.Len(t, records, 2)
}
