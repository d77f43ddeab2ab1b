package ot

import (
	"errors"
	"fmt"
)

// client and server both created the same document
var ErrInvalidState = errors.New("Invalid state. This is a bug.")

// CreateData is the payload of a create envelope.
type CreateData struct {
	// type name or uri
	Type string
	Data any
}

// OpData is the envelope around one logical change: exactly one of create, del, op,
// or none for a no-op. `Type` pins the type the op was written against.
type OpData struct {
	Create *CreateData
	Del    bool
	Op     any

	Type Type
}

func (self *OpData) String() string {
	switch {
	case self.Create != nil:
		return fmt.Sprintf("create(%s)", self.Create.Type)
	case self.Del:
		return "del"
	case self.Op != nil:
		return fmt.Sprintf("op(%v)", self.Op)
	default:
		return "noop"
	}
}

// shallow copy. Ops are treated as immutable values.
func (self *OpData) Clone() *OpData {
	clone := *self
	if self.Create != nil {
		create := *self.Create
		clone.Create = &create
	}
	return &clone
}

func SetNoOp(opData *OpData) {
	opData.Op = nil
	opData.Create = nil
	opData.Del = false
}

func IsNoOp(opData *OpData) bool {
	return opData.Op == nil && opData.Create == nil && !opData.Del
}

// TryCompose folds `b` into `a` in place. Returns false when the pair cannot be
// composed and `b` must be queued separately.
func TryCompose(t Type, a *OpData, b *OpData) (bool, error) {
	switch {
	case a.Create != nil && b.Del:
		SetNoOp(a)
	case a.Create != nil && b.Op != nil:
		createType := t
		if b.Type != nil {
			createType = b.Type
		}
		if createType == nil {
			return false, nil
		}
		data := a.Create.Data
		if data == nil {
			var err error
			data, err = createType.Create(nil)
			if err != nil {
				return false, err
			}
		}
		data, err := createType.Apply(data, b.Op)
		if err != nil {
			return false, err
		}
		a.Create.Data = data
	case IsNoOp(a):
		a.Create = b.Create
		a.Del = b.Del
		a.Op = b.Op
		if b.Type != nil {
			a.Type = b.Type
		}
	case a.Op != nil && b.Op != nil && t != nil:
		composer, ok := t.(Composer)
		if !ok {
			return false, nil
		}
		op, err := composer.Compose(a.Op, b.Op)
		if err != nil {
			return false, err
		}
		a.Op = op
	default:
		return false, nil
	}
	return true, nil
}

// Transform rewrites a concurrent local (`client`) and remote (`server`) envelope
// against each other, in place.
func Transform(client *OpData, server *OpData) error {
	if server.Create != nil || server.Del {
		if client.Create != nil && server.Create != nil {
			return fmt.Errorf("%w create vs create", ErrInvalidState)
		}
		SetNoOp(client)
	}

	if client.Del {
		SetNoOp(server)
		return nil
	}

	if client.Op == nil || server.Op == nil {
		return nil
	}

	// an old op may predate a type change on the document,
	// so the client envelope's type is authoritative
	t := client.Type
	if t == nil {
		return fmt.Errorf("%w op without a type", ErrInvalidState)
	}
	switch v := t.(type) {
	case TransformerX:
		clientOp, serverOp, err := v.TransformX(client.Op, server.Op)
		if err != nil {
			return err
		}
		client.Op = clientOp
		server.Op = serverOp
	case Transformer:
		clientOp, err := v.Transform(client.Op, server.Op, SideLeft)
		if err != nil {
			return err
		}
		serverOp, err := v.Transform(server.Op, client.Op, SideRight)
		if err != nil {
			return err
		}
		client.Op = clientOp
		server.Op = serverOp
	default:
		return fmt.Errorf("Type %s does not support transform", t.Name())
	}
	return nil
}
