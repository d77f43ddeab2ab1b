package ot

import (
	"github.com/goccy/go-json"
)

// the editing surface a type supports. Contexts are selected by this tag.
type Capability string

const (
	CapabilityNone Capability = ""
	CapabilityText Capability = "text"
	CapabilityJson Capability = "json"
)

// tie break side for directional transforms.
// `SideLeft` wins ties (e.g. inserts at the same position go first)
type Side string

const (
	SideLeft  Side = "left"
	SideRight Side = "right"
)

// Type is a pluggable document type. Snapshots and ops are opaque to the engine;
// each type defines its own Go representation.
type Type interface {
	Name() string
	URI() string
	Capability() Capability

	// returns the initial snapshot. `data` may be nil.
	Create(data any) (any, error)
	// returns the new snapshot. Must not mutate `snapshot`.
	Apply(snapshot any, op any) (any, error)

	DecodeOp(raw json.RawMessage) (any, error)
	DecodeSnapshot(raw json.RawMessage) (any, error)
}

// optional
type Composer interface {
	Compose(op1 any, op2 any) (any, error)
}

// optional, preferred over `Transformer`
type TransformerX interface {
	TransformX(clientOp any, serverOp any) (clientOp_ any, serverOp_ any, err error)
}

// optional
type Transformer interface {
	Transform(op any, otherOp any, side Side) (any, error)
}

func CanCompose(t Type) bool {
	_, ok := t.(Composer)
	return ok
}

func CanTransform(t Type) bool {
	switch t.(type) {
	case TransformerX, Transformer:
		return true
	default:
		return false
	}
}
