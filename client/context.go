package client

import (
	"errors"
	"fmt"
	"weak"

	"github.com/bringyour/sharedoc/ot"
)

var ErrCapability = errors.New("Type does not provide the capability.")
var ErrContextDetached = errors.New("Context document was released.")

// Context is an editing surface on a document, selected by the type's capability.
type Context interface {
	// nil once the document is released
	Doc() *Doc
	Snapshot() any
	SubmitOp(op any, callback OpCallback) error
	// true once destroyed. The context is dropped after the next op.
	ShouldRemove() bool
	Destroy()
	Provides() ot.Capability

	// every op applied to the document, after the snapshot is updated.
	// `origin` is true for ops submitted through this context.
	onOp(op any, origin bool)
}

type baseContext struct {
	doc      weak.Pointer[Doc]
	provides ot.Capability
	removed  bool
	// called once on the first destroy
	detach func()
	// the concrete context, passed as the op origin
	owner Context
}

func newBaseContext(doc *Doc, owner Context) baseContext {
	return baseContext{
		doc:      weak.Make(doc),
		provides: doc.otType.Capability(),
		owner:    owner,
	}
}

func (self *baseContext) Doc() *Doc {
	return self.doc.Value()
}

func (self *baseContext) Snapshot() any {
	doc := self.Doc()
	if doc == nil {
		return nil
	}
	return doc.snapshot
}

func (self *baseContext) SubmitOp(op any, callback OpCallback) error {
	doc := self.Doc()
	if doc == nil {
		return ErrContextDetached
	}
	return doc.SubmitOp(op, self.owner, callback)
}

func (self *baseContext) ShouldRemove() bool {
	return self.removed
}

// SetDetach sets a hook called once when the context is destroyed.
func (self *baseContext) SetDetach(detach func()) {
	self.detach = detach
}

func (self *baseContext) Destroy() {
	if self.removed {
		return
	}
	self.removed = true
	if detach := self.detach; detach != nil {
		self.detach = nil
		HandleError(detach)
	}
}

func (self *baseContext) Provides() ot.Capability {
	return self.provides
}

func (self *baseContext) String() string {
	doc := self.Doc()
	if doc == nil {
		return fmt.Sprintf("context(%s, detached)", self.provides)
	}
	return fmt.Sprintf("context(%s, %s)", self.provides, doc)
}

// PlainContext is the context for types without an editing capability.
type PlainContext struct {
	baseContext
}

func newPlainContext(doc *Doc) *PlainContext {
	context := &PlainContext{}
	context.baseContext = newBaseContext(doc, context)
	return context
}

func (self *PlainContext) onOp(op any, origin bool) {
}
