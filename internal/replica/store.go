// Package replica owns a node's full CRDT state — the observed-remove set
// of Events, the per-key LWWRegisters, and the named GCounters — together
// with the hash-chained append log that records every ingestion and merge,
// and the cached Merkle digest over the semantic state.
package replica

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/decub/edgemesh/internal/crdt"
	"github.com/decub/edgemesh/internal/hashchain"
	"github.com/decub/edgemesh/internal/merkle"
)

// EventsTotalCounter is the GCounter name incremented once per locally
// ingested event.
const EventsTotalCounter = "events_total"

// logTailCap bounds the in-memory tail hashchain.Log keeps for LogTail.
const logTailCap = 256

// MergeReport summarizes the effect of a Merge call, used by callers that
// want to log or count newly-observed events.
type MergeReport struct {
	NewEventIDs []string
	Changed     bool
}

// ReplicaStore is the single mutex-guarded owner of one node's semantic
// state. Every public method is safe for concurrent use.
type ReplicaStore struct {
	selfNode string

	mu        sync.Mutex
	events    *crdt.ORSet[Event]
	counters  map[string]*crdt.GCounter
	registers map[string]*crdt.LWWRegister
	version   int64

	digestDirty bool
	cachedRoot  string

	log *hashchain.Log
}

// logEntry is the JSON shape appended to the hash-chained log.
type logEntry struct {
	Op      string `json:"op"`
	EventID string `json:"event_id,omitempty"`
	Type    string `json:"type,omitempty"`
	Node    string `json:"node,omitempty"`
	Count   int    `json:"count,omitempty"`
}

// NewReplicaStore opens (or resumes) the hash-chained log at logPath and
// returns an empty replica ready to ingest and merge.
func NewReplicaStore(selfNode, logPath string) (*ReplicaStore, error) {
	l, err := hashchain.Open(logPath, logTailCap)
	if err != nil {
		return nil, fmt.Errorf("replica: open log: %w", err)
	}
	return &ReplicaStore{
		selfNode:    selfNode,
		events:      crdt.NewORSet[Event](),
		counters:    make(map[string]*crdt.GCounter),
		registers:   make(map[string]*crdt.LWWRegister),
		digestDirty: true,
		log:         l,
	}, nil
}

func (s *ReplicaStore) counterLocked(name string) *crdt.GCounter {
	c, ok := s.counters[name]
	if !ok {
		c = crdt.NewGCounter(s.selfNode)
		s.counters[name] = c
	}
	return c
}

func (s *ReplicaStore) registerLocked(key string) *crdt.LWWRegister {
	r, ok := s.registers[key]
	if !ok {
		r = crdt.NewLWWRegister()
		s.registers[key] = r
	}
	return r
}

// IngestEvent assigns event_id and timestamp, adds the Event to the ORSet
// under tag (event_id, self_node), updates the (type, location)
// LWWRegister, increments events_total, appends an EVENT_INGESTED log
// record, and returns the Event.
func (s *ReplicaStore) IngestEvent(eventType string, value any, location string, metadata map[string]any) (Event, error) {
	now := time.Now().UnixMilli()
	ev := Event{
		EventID:     uuid.NewString(),
		NodeOrigin:  s.selfNode,
		Type:        eventType,
		Value:       value,
		Location:    location,
		Metadata:    metadata,
		TimestampMS: now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.events.Add(ev, s.selfNode)
	s.registerLocked(registerKey(eventType, location)).Set(value, crdt.Timestamp{WallMS: now, NodeID: s.selfNode})
	s.counterLocked(EventsTotalCounter).Increment(1)
	s.version++
	s.digestDirty = true

	if _, err := s.log.Append(now, logEntry{Op: "EVENT_INGESTED", EventID: ev.EventID, Type: eventType, Node: s.selfNode}); err != nil {
		return Event{}, fmt.Errorf("replica: log append: %w", err)
	}
	return ev, nil
}

// Merge folds a remote ReplicaWire into this replica using the matching
// CRDT merge for each field, appends one MERGE_APPLIED log record per
// newly-observed event, and returns a MergeReport.
func (s *ReplicaStore) Merge(wire ReplicaWire) (MergeReport, error) {
	foreignEvents, err := wireToForeignORSet(wire)
	if err != nil {
		return MergeReport{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	newIDs, err := s.events.MergeReport(foreignEvents)
	if err != nil {
		return MergeReport{}, fmt.Errorf("replica: merge events: %w", err)
	}

	changed := len(newIDs) > 0
	for key, entries := range wire.Counters {
		foreign := crdt.NewGCounter(wire.NodeID)
		foreign.LoadEntries(entries)
		before := s.counterLocked(key).Value()
		if err := s.counterLocked(key).Merge(foreign); err != nil {
			return MergeReport{}, fmt.Errorf("replica: merge counter %s: %w", key, err)
		}
		if s.counterLocked(key).Value() != before {
			changed = true
		}
	}
	for key, rv := range wire.Registers {
		foreign := crdt.NewLWWRegister()
		foreign.Set(rv.Value, crdt.Timestamp{WallMS: rv.TSMS, NodeID: rv.NodeID})
		_, beforeTS := s.registerLocked(key).Get()
		if err := s.registerLocked(key).Merge(foreign); err != nil {
			return MergeReport{}, fmt.Errorf("replica: merge register %s: %w", key, err)
		}
		_, afterTS := s.registerLocked(key).Get()
		if afterTS != beforeTS {
			changed = true
		}
	}

	if changed {
		s.digestDirty = true
		now := time.Now().UnixMilli()
		for _, id := range newIDs {
			if _, err := s.log.Append(now, logEntry{Op: "MERGE_APPLIED", EventID: id, Node: wire.NodeID}); err != nil {
				return MergeReport{}, fmt.Errorf("replica: log append: %w", err)
			}
		}
	}

	return MergeReport{NewEventIDs: newIDs, Changed: changed}, nil
}

func wireToForeignORSet(wire ReplicaWire) (*crdt.ORSet[Event], error) {
	foreign := crdt.NewORSet[Event]()
	for _, pair := range wire.Events.Adds {
		tag, ok := pair[0].(string)
		if !ok {
			return nil, fmt.Errorf("replica: malformed add tag: %w", crdt.ErrInvalidReplica)
		}
		eventID, nodeID, ok := splitTag(tag)
		if !ok {
			return nil, fmt.Errorf("replica: malformed add tag %q: %w", tag, crdt.ErrInvalidReplica)
		}
		ev, err := decodeEvent(pair[1])
		if err != nil {
			return nil, err
		}
		if ev.EventID == "" {
			ev.EventID = eventID
		}
		foreign.Add(ev, nodeID)
	}
	for _, tag := range wire.Events.Removes {
		eventID, nodeID, ok := splitTag(tag)
		if !ok {
			return nil, fmt.Errorf("replica: malformed remove tag %q: %w", tag, crdt.ErrInvalidReplica)
		}
		foreign.RemoveTag(crdt.Tag{ElementID: eventID, NodeID: nodeID})
	}
	return foreign, nil
}

// decodeEvent converts the generic any produced by unmarshaling a
// ReplicaWire's events.adds[i][1] (a map[string]interface{} after JSON
// decoding) back into a concrete Event.
func decodeEvent(raw any) (Event, error) {
	if ev, ok := raw.(Event); ok {
		return ev, nil
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return Event{}, fmt.Errorf("replica: encode event: %w", err)
	}
	var ev Event
	if err := json.Unmarshal(b, &ev); err != nil {
		return Event{}, fmt.Errorf("replica: decode event: %w: %w", crdt.ErrInvalidReplica, err)
	}
	return ev, nil
}

func splitTag(tag string) (eventID, nodeID string, ok bool) {
	i := strings.LastIndex(tag, "@")
	if i < 0 {
		return "", "", false
	}
	return tag[:i], tag[i+1:], true
}

// Snapshot returns the deterministic, canonical wire serialization of the
// current semantic state.
func (s *ReplicaStore) Snapshot() ReplicaWire {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *ReplicaStore) snapshotLocked() ReplicaWire {
	wire := ReplicaWire{
		NodeID:    s.selfNode,
		Version:   s.version,
		Counters:  make(map[string]map[string]int64, len(s.counters)),
		Registers: make(map[string]RegisterValue, len(s.registers)),
	}

	for _, pair := range s.events.SnapshotAdds() {
		wire.Events.Adds = append(wire.Events.Adds, [2]any{eventTag(pair.Tag.ElementID, pair.Tag.NodeID), pair.Value})
	}
	wire.Events.Removes = s.events.SnapshotRemoves()

	for key, c := range s.counters {
		wire.Counters[key] = c.Entries()
	}
	for key, r := range s.registers {
		value, ts := r.Get()
		wire.Registers[key] = RegisterValue{Value: value, TSMS: ts.WallMS, NodeID: ts.NodeID}
	}

	wire.MerkleRoot = s.merkleRootLocked()
	return wire
}

// MerkleRoot recomputes the digest if the replica has mutated since the
// last computation, and returns the cached value otherwise.
func (s *ReplicaStore) MerkleRoot() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.merkleRootLocked()
}

func (s *ReplicaStore) merkleRootLocked() string {
	if !s.digestDirty {
		return s.cachedRoot
	}
	s.cachedRoot = merkle.Digest(s.canonicalLeavesLocked())
	s.digestDirty = false
	return s.cachedRoot
}

// canonicalLeavesLocked builds the Merkle input: one leaf per visible
// event (keyed "event/<event_id>"), one per counter entry (keyed
// "counter/<counter>/<node_id>"), one per register (keyed
// "register/<register key>").
// The log itself is deliberately excluded so two replicas that reach the
// same semantic state via different ingestion orders still fingerprint
// the same.
func (s *ReplicaStore) canonicalLeavesLocked() map[string][]byte {
	leaves := make(map[string][]byte)

	for _, ev := range s.events.Elements() {
		b, _ := json.Marshal(ev)
		leaves["event/"+ev.EventID] = b
	}
	for name, c := range s.counters {
		for node, v := range c.Entries() {
			b, _ := json.Marshal(v)
			leaves["counter/"+name+"/"+node] = b
		}
	}
	for key, r := range s.registers {
		value, ts := r.Get()
		b, _ := json.Marshal(struct {
			Value any          `json:"value"`
			TS    crdt.Timestamp `json:"ts"`
		}{value, ts})
		leaves["register/"+key] = b
	}
	return leaves
}

// VerifyLog confirms the hash chain backing this replica has not been
// tampered with, reporting the first seq at which the chain breaks.
func (s *ReplicaStore) VerifyLog() (hashchain.VerifyResult, error) {
	return s.log.Verify()
}

// LogTail returns the n most recently appended log records, oldest first.
func (s *ReplicaStore) LogTail(n int) []hashchain.Record {
	return s.log.Tail(n)
}

// EventCount returns the number of currently-visible events.
func (s *ReplicaStore) EventCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events.Elements())
}

// Close releases the underlying log file.
func (s *ReplicaStore) Close() error {
	return s.log.Close()
}
