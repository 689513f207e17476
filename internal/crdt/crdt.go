// Package crdt implements the conflict-free replicated data types used as
// the per-node replica state: GCounter, LWWRegister, and ORSet.
package crdt

import "errors"

// Type identifies one of the closed set of CRDT variants this package
// implements. A tagged union is preferable here to open polymorphism: the
// gossip wire format and the gateway merger only ever need to dispatch on
// these three kinds.
type Type string

const (
	TypeGCounter     Type = "gcounter"
	TypeLWWRegister  Type = "lww"
	TypeORSet        Type = "orset"
)

// CRDT is the common capability every variant in this package satisfies.
type CRDT interface {
	Type() Type
	Merge(other CRDT) error
}

var (
	// ErrIncompatibleTypes is returned when Merge is called with a value of
	// the wrong concrete type.
	ErrIncompatibleTypes = errors.New("crdt: incompatible types")
	// ErrInvalidReplica is returned when a merge input fails basic shape
	// validation (malformed snapshot wire data).
	ErrInvalidReplica = errors.New("crdt: invalid replica")
)
