package ot

import (
	"errors"
	"testing"

	"github.com/go-playground/assert/v2"
)

type namelessType struct {
	plainType
}

func (self *namelessType) Name() string {
	return ""
}

func TestRegistry(t *testing.T) {
	registry := NewDefaultRegistry()

	textType, ok := registry.Get(TextTypeName)
	assert.Equal(t, true, ok)
	assert.Equal(t, TextType, textType)

	textType, ok = registry.Get(TextTypeUri)
	assert.Equal(t, true, ok)
	assert.Equal(t, TextType, textType)

	jsonType, err := registry.Require(Json0TypeUri)
	assert.Equal(t, nil, err)
	assert.Equal(t, CapabilityJson, jsonType.Capability())

	_, err = registry.Require("nope")
	assert.NotEqual(t, nil, err)

	err = registry.Register(&namelessType{})
	assert.Equal(t, true, errors.Is(err, ErrTypeMissingName))

	err = registry.Register(&plainType{})
	assert.Equal(t, nil, err)
	plain, ok := registry.Get("plain")
	assert.Equal(t, true, ok)
	assert.Equal(t, false, CanCompose(plain))
	assert.Equal(t, false, CanTransform(plain))
	assert.Equal(t, true, CanTransform(Json0Type))

	// registries are independent
	_, ok = NewDefaultRegistry().Get("plain")
	assert.Equal(t, false, ok)
}
