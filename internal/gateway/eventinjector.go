package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// syntheticEventTypes is the round-robin set bootstrap-converge cycles
// through when injecting test traffic, echoing the three event kinds named
// in the seed convergence scenario (water level, injured count, road
// status).
var syntheticEventTypes = []struct {
	Type     string
	Location string
	Value    func(i int) any
}{
	{Type: "water_level", Location: "bridge_north", Value: func(i int) any { return 1.0 + float64(i%10)*0.3 }},
	{Type: "injured_count", Location: "shelter_east", Value: func(i int) any { return i % 50 }},
	{Type: "road_status", Location: "highway_101", Value: func(i int) any {
		statuses := []string{"clear", "blocked", "congested"}
		return statuses[i%len(statuses)]
	}},
}

// injectSyntheticEvents posts eventsPerNode synthetic events, round-robin
// across syntheticEventTypes, to every node in nodes. It returns the count
// that succeeded and the count that failed.
func injectSyntheticEvents(ctx context.Context, nodes []NodeDescriptor, eventsPerNode int) (successful, failed int) {
	client := &http.Client{Timeout: 2 * time.Second}
	for _, nd := range nodes {
		for i := 0; i < eventsPerNode; i++ {
			kind := syntheticEventTypes[i%len(syntheticEventTypes)]
			body, _ := json.Marshal(map[string]any{
				"type":     kind.Type,
				"value":    kind.Value(i),
				"location": kind.Location,
			})
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, nd.URL+"/event", bytes.NewReader(body))
			if err != nil {
				failed++
				continue
			}
			req.Header.Set("Content-Type", "application/json")
			resp, err := client.Do(req)
			if err != nil {
				failed++
				continue
			}
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				successful++
			} else {
				failed++
			}
		}
	}
	return successful, failed
}
