package replica

import (
	"encoding/json"

	"github.com/decub/edgemesh/internal/crdt"
	"github.com/decub/edgemesh/internal/merkle"
)

// Consolidator folds a batch of ReplicaWire snapshots into one in-memory
// semantic state using the same CRDT merges as ReplicaStore, but with no
// hash-chain log and no identity of its own — the gateway rebuilds one from
// scratch on every poll tick rather than keeping a persistent consolidated
// replica across ticks (there is no cross-poll ownership to manage).
type Consolidator struct {
	events    *crdt.ORSet[Event]
	counters  map[string]*crdt.GCounter
	registers map[string]*crdt.LWWRegister
}

// NewConsolidator returns an empty Consolidator ready to absorb snapshots.
func NewConsolidator() *Consolidator {
	return &Consolidator{
		events:    crdt.NewORSet[Event](),
		counters:  make(map[string]*crdt.GCounter),
		registers: make(map[string]*crdt.LWWRegister),
	}
}

func (c *Consolidator) counter(name string) *crdt.GCounter {
	g, ok := c.counters[name]
	if !ok {
		g = crdt.NewGCounter("")
		c.counters[name] = g
	}
	return g
}

func (c *Consolidator) register(key string) *crdt.LWWRegister {
	r, ok := c.registers[key]
	if !ok {
		r = crdt.NewLWWRegister()
		c.registers[key] = r
	}
	return r
}

// Absorb merges one node's ReplicaWire into the consolidated state.
func (c *Consolidator) Absorb(wire ReplicaWire) error {
	foreignEvents, err := wireToForeignORSet(wire)
	if err != nil {
		return err
	}
	if err := c.events.Merge(foreignEvents); err != nil {
		return err
	}

	for key, entries := range wire.Counters {
		foreign := crdt.NewGCounter(wire.NodeID)
		foreign.LoadEntries(entries)
		if err := c.counter(key).Merge(foreign); err != nil {
			return err
		}
	}
	for key, rv := range wire.Registers {
		foreign := crdt.NewLWWRegister()
		foreign.Set(rv.Value, crdt.Timestamp{WallMS: rv.TSMS, NodeID: rv.NodeID})
		if err := c.register(key).Merge(foreign); err != nil {
			return err
		}
	}
	return nil
}

// Snapshot returns the consolidated ReplicaWire. NodeID identifies the
// consolidated view itself, not any single fleet member.
func (c *Consolidator) Snapshot(nodeID string) ReplicaWire {
	wire := ReplicaWire{
		NodeID:    nodeID,
		Counters:  make(map[string]map[string]int64, len(c.counters)),
		Registers: make(map[string]RegisterValue, len(c.registers)),
	}
	for _, pair := range c.events.SnapshotAdds() {
		wire.Events.Adds = append(wire.Events.Adds, [2]any{eventTag(pair.Tag.ElementID, pair.Tag.NodeID), pair.Value})
	}
	wire.Events.Removes = c.events.SnapshotRemoves()
	for key, g := range c.counters {
		wire.Counters[key] = g.Entries()
	}
	for key, r := range c.registers {
		value, ts := r.Get()
		wire.Registers[key] = RegisterValue{Value: value, TSMS: ts.WallMS, NodeID: ts.NodeID}
	}
	wire.MerkleRoot = c.merkleRoot()
	return wire
}

// merkleRoot computes the digest over the consolidated semantic state, using
// the same canonical leaf layout as ReplicaStore so a consolidated replica
// and a single converged node's replica fingerprint identically.
func (c *Consolidator) merkleRoot() string {
	leaves := make(map[string][]byte)
	for _, ev := range c.events.Elements() {
		b, _ := json.Marshal(ev)
		leaves["event/"+ev.EventID] = b
	}
	for name, g := range c.counters {
		for node, v := range g.Entries() {
			b, _ := json.Marshal(v)
			leaves["counter/"+name+"/"+node] = b
		}
	}
	for key, r := range c.registers {
		value, ts := r.Get()
		b, _ := json.Marshal(struct {
			Value any            `json:"value"`
			TS    crdt.Timestamp `json:"ts"`
		}{value, ts})
		leaves["register/"+key] = b
	}
	return merkle.Digest(leaves)
}
