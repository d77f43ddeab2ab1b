package ot

import (
	"errors"
	"fmt"
	"sync"
)

var ErrTypeMissingName = errors.New("Type must have a name or uri.")

// Registry maps type names and uris to types.
// Each connection owns (or shares explicitly) a registry. There is no process-wide registry.
type Registry struct {
	stateLock sync.Mutex
	// name or uri -> type
	types map[string]Type
}

func NewRegistry() *Registry {
	return &Registry{
		types: map[string]Type{},
	}
}

// a new registry with the built-in `text` and `json0` types
func NewDefaultRegistry() *Registry {
	registry := NewRegistry()
	registry.Register(TextType)
	registry.Register(Json0Type)
	return registry
}

func (self *Registry) Register(t Type) error {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	name := t.Name()
	uri := t.URI()
	if name == "" && uri == "" {
		return fmt.Errorf("%w (%T)", ErrTypeMissingName, t)
	}
	if name != "" {
		self.types[name] = t
	}
	if uri != "" {
		self.types[uri] = t
	}
	return nil
}

// looks up by name or uri
func (self *Registry) Get(nameOrUri string) (Type, bool) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	t, ok := self.types[nameOrUri]
	return t, ok
}

func (self *Registry) Require(nameOrUri string) (Type, error) {
	t, ok := self.Get(nameOrUri)
	if !ok {
		return nil, fmt.Errorf("Unknown type %q", nameOrUri)
	}
	return t, nil
}
