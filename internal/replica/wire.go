package replica

import "github.com/decub/edgemesh/internal/crdt"

// RegisterValue is the wire shape of one LWWRegister entry.
type RegisterValue struct {
	Value  any    `json:"value"`
	TSMS   int64  `json:"ts_ms"`
	NodeID string `json:"node_id"`
}

// EventsWire is the wire shape of the ORSet: explicit adds (tag, event
// pairs) and removes (bare tags), matching the canonical ReplicaWire format.
type EventsWire struct {
	Adds    [][2]any `json:"adds"`
	Removes []string `json:"removes"`
}

// ReplicaWire is the canonical, transport-ready serialization of a
// replica's full semantic state, sent as the body of GET /state/snapshot
// and as the payload of a gossip STATE message.
type ReplicaWire struct {
	NodeID     string                       `json:"node_id"`
	Version    int64                        `json:"version"`
	Events     EventsWire                   `json:"events"`
	Counters   map[string]map[string]int64  `json:"counters"`
	Registers  map[string]RegisterValue     `json:"registers"`
	MerkleRoot string                       `json:"merkle_root"`
}

// registerKey builds the (type, location) composite key registers are
// published under.
func registerKey(eventType, location string) string {
	return eventType + "|" + location
}

// eventTag is the ORSet add-witness string "<event_id>@<node_id>".
func eventTag(eventID, nodeID string) string {
	return crdt.Tag{ElementID: eventID, NodeID: nodeID}.String()
}
