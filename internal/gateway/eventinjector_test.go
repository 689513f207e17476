package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInjectSyntheticEventsCountsSuccessesAndFailures(t *testing.T) {
	var received int
	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received++
		w.WriteHeader(http.StatusOK)
	}))
	defer ok.Close()

	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer failing.Close()

	nodes := []NodeDescriptor{
		{NodeID: "a", URL: ok.URL},
		{NodeID: "b", URL: failing.URL},
	}

	successful, failed := injectSyntheticEvents(context.Background(), nodes, 3)
	assert.Equal(t, 3, successful)
	assert.Equal(t, 3, failed)
	assert.Equal(t, 3, received)
}

func TestInjectSyntheticEventsCyclesThroughTypes(t *testing.T) {
	var seenTypes []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		seenTypes = append(seenTypes, body["type"].(string))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	nodes := []NodeDescriptor{{NodeID: "a", URL: srv.URL}}
	successful, failed := injectSyntheticEvents(context.Background(), nodes, len(syntheticEventTypes))
	assert.Equal(t, len(syntheticEventTypes), successful)
	assert.Equal(t, 0, failed)

	for i, kind := range syntheticEventTypes {
		assert.Equal(t, kind.Type, seenTypes[i])
	}
}
