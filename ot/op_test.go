package ot

import (
	"errors"
	"testing"

	"github.com/go-playground/assert/v2"
	"github.com/goccy/go-json"
)

func TestNoOp(t *testing.T) {
	opData := &OpData{
		Op:   TextOp{TextInsert("a")},
		Type: TextType,
	}
	assert.Equal(t, false, IsNoOp(opData))
	SetNoOp(opData)
	assert.Equal(t, true, IsNoOp(opData))
	// the type survives
	assert.Equal(t, TextType, opData.Type)

	assert.Equal(t, false, IsNoOp(&OpData{Del: true}))
	assert.Equal(t, false, IsNoOp(&OpData{Create: &CreateData{Type: TextTypeName}}))
}

func TestTryComposeCreateDel(t *testing.T) {
	a := &OpData{Create: &CreateData{Type: TextTypeName, Data: "hi"}}
	b := &OpData{Del: true}

	composed, err := TryCompose(TextType, a, b)
	assert.Equal(t, nil, err)
	assert.Equal(t, true, composed)
	assert.Equal(t, true, IsNoOp(a))
}

func TestTryComposeCreateOp(t *testing.T) {
	a := &OpData{Create: &CreateData{Type: TextTypeName, Data: "ab"}}
	b := &OpData{Op: TextOp{TextSkip(2), TextInsert("c")}, Type: TextType}

	composed, err := TryCompose(nil, a, b)
	assert.Equal(t, nil, err)
	assert.Equal(t, true, composed)
	assert.Equal(t, "abc", a.Create.Data)

	// create without data starts from the type's empty snapshot
	a = &OpData{Create: &CreateData{Type: TextTypeName}}
	b = &OpData{Op: TextOp{TextInsert("x")}, Type: TextType}
	composed, err = TryCompose(TextType, a, b)
	assert.Equal(t, nil, err)
	assert.Equal(t, true, composed)
	assert.Equal(t, "x", a.Create.Data)
}

func TestTryComposeNoOp(t *testing.T) {
	a := &OpData{}
	b := &OpData{Op: TextOp{TextInsert("x")}, Type: TextType}

	composed, err := TryCompose(TextType, a, b)
	assert.Equal(t, nil, err)
	assert.Equal(t, true, composed)
	assert.Equal(t, b.Op, a.Op)
	assert.Equal(t, TextType, a.Type)
}

func TestTryComposeOps(t *testing.T) {
	a := &OpData{Op: TextOp{TextInsert("ab")}, Type: TextType}
	b := &OpData{Op: TextOp{TextSkip(2), TextInsert("c")}, Type: TextType}

	composed, err := TryCompose(TextType, a, b)
	assert.Equal(t, nil, err)
	assert.Equal(t, true, composed)
	assert.Equal(t, TextOp{TextInsert("abc")}, a.Op)
}

func TestTryComposeRefused(t *testing.T) {
	op := TextOp{TextInsert("a")}

	// del then op
	a := &OpData{Del: true}
	composed, err := TryCompose(TextType, a, &OpData{Op: op, Type: TextType})
	assert.Equal(t, nil, err)
	assert.Equal(t, false, composed)
	assert.Equal(t, true, a.Del)

	// no type to compose with
	a = &OpData{Op: op}
	composed, err = TryCompose(nil, a, &OpData{Op: op})
	assert.Equal(t, nil, err)
	assert.Equal(t, false, composed)

	// type without compose
	a = &OpData{Op: op}
	composed, err = TryCompose(&plainType{}, a, &OpData{Op: op})
	assert.Equal(t, nil, err)
	assert.Equal(t, false, composed)
	assert.Equal(t, op, a.Op)
}

func TestTransformServerDel(t *testing.T) {
	client := &OpData{Op: TextOp{TextInsert("a")}, Type: TextType}
	server := &OpData{Del: true}

	err := Transform(client, server)
	assert.Equal(t, nil, err)
	assert.Equal(t, true, IsNoOp(client))
	assert.Equal(t, true, server.Del)
}

func TestTransformServerCreate(t *testing.T) {
	client := &OpData{Del: true}
	server := &OpData{Create: &CreateData{Type: TextTypeName}}

	err := Transform(client, server)
	assert.Equal(t, nil, err)
	assert.Equal(t, true, IsNoOp(client))
	assert.NotEqual(t, nil, server.Create)
}

func TestTransformClientDel(t *testing.T) {
	client := &OpData{Del: true}
	server := &OpData{Op: TextOp{TextInsert("a")}, Type: TextType}

	err := Transform(client, server)
	assert.Equal(t, nil, err)
	assert.Equal(t, true, client.Del)
	assert.Equal(t, true, IsNoOp(server))
}

func TestTransformCreateCreate(t *testing.T) {
	client := &OpData{Create: &CreateData{Type: TextTypeName}}
	server := &OpData{Create: &CreateData{Type: TextTypeName}}

	err := Transform(client, server)
	assert.Equal(t, true, errors.Is(err, ErrInvalidState))
}

func TestTransformNoOpPassThrough(t *testing.T) {
	client := &OpData{Type: TextType}
	server := &OpData{Op: TextOp{TextInsert("a")}, Type: TextType}

	err := Transform(client, server)
	assert.Equal(t, nil, err)
	assert.Equal(t, true, IsNoOp(client))
	assert.Equal(t, TextOp{TextInsert("a")}, server.Op)
}

func TestTransformOps(t *testing.T) {
	client := &OpData{Op: TextOp{TextSkip(1), TextInsert("X")}, Type: TextType}
	server := &OpData{Op: TextOp{TextSkip(1), TextInsert("Y")}, Type: TextType}

	err := Transform(client, server)
	assert.Equal(t, nil, err)
	// the client wins the tie
	assert.Equal(t, TextOp{TextSkip(1), TextInsert("X")}, client.Op)
	assert.Equal(t, TextOp{TextSkip(2), TextInsert("Y")}, server.Op)
}

// a type with apply only
type plainType struct {
}

func (self *plainType) Name() string {
	return "plain"
}

func (self *plainType) URI() string {
	return ""
}

func (self *plainType) Capability() Capability {
	return CapabilityNone
}

func (self *plainType) Create(data any) (any, error) {
	return data, nil
}

func (self *plainType) Apply(snapshot any, op any) (any, error) {
	return op, nil
}

func (self *plainType) DecodeOp(raw json.RawMessage) (any, error) {
	return string(raw), nil
}

func (self *plainType) DecodeSnapshot(raw json.RawMessage) (any, error) {
	return string(raw), nil
}
