package client

import (
	"fmt"
	"slices"
	"unicode/utf8"

	"github.com/golang/glog"

	"github.com/bringyour/sharedoc/ot"
)

type JsonEventKind string

const (
	JsonEventInsert  JsonEventKind = "insert"
	JsonEventDelete  JsonEventKind = "delete"
	JsonEventReplace JsonEventKind = "replace"
	JsonEventMove    JsonEventKind = "move"
	JsonEventAdd     JsonEventKind = "add"
	// any component that can affect the value at the listener path
	JsonEventChildOp JsonEventKind = "child op"
)

type JsonEvent struct {
	Kind JsonEventKind
	// last segment of the component path. The moved index for move.
	Key ot.Segment
	// inserted or deleted value, or the new value of a replace
	Value any
	// the old value of a replace
	Previous any
	// move target index
	To     int
	Amount float64
	// for child op, the component path relative to the listener path
	Path      ot.Path
	Component ot.Json0Component
}

type JsonEventFunction func(event *JsonEvent)

// Listener receives events for one path. The path follows structural changes
// and the listener is dropped when the value at its path is removed.
type Listener struct {
	path ot.Path
	kind JsonEventKind
	fn   JsonEventFunction
}

func (self *Listener) Path() ot.Path {
	return self.path.Clone()
}

func (self *Listener) Kind() JsonEventKind {
	return self.kind
}

// JsonContext edits a `json0` document.
type JsonContext struct {
	baseContext

	listeners []*Listener
	subDocs   []*SubDoc
}

func newJsonContext(doc *Doc) *JsonContext {
	context := &JsonContext{}
	context.baseContext = newBaseContext(doc, context)
	return context
}

func jsonLookup(root any, path ot.Path) (any, error) {
	node := root
	for i, segment := range path {
		switch v := node.(type) {
		case map[string]any:
			if segment.IsIndex() {
				return nil, fmt.Errorf("%w index into object at %s", ot.ErrJson0BadPath, path[:i+1])
			}
			child, ok := v[segment.Key()]
			if !ok {
				return nil, fmt.Errorf("%w missing %s", ot.ErrJson0BadPath, path[:i+1])
			}
			node = child
		case []any:
			if !segment.IsIndex() {
				return nil, fmt.Errorf("%w key into list at %s", ot.ErrJson0BadPath, path[:i+1])
			}
			index := segment.Index()
			if index < 0 || len(v) <= index {
				return nil, fmt.Errorf("%w missing %s", ot.ErrJson0BadPath, path[:i+1])
			}
			node = v[index]
		default:
			return nil, fmt.Errorf("%w %T at %s", ot.ErrJson0BadPath, node, path[:i])
		}
	}
	return node, nil
}

// Get returns the value at `path`. The empty path is the whole snapshot.
func (self *JsonContext) Get(path ot.Path) (any, error) {
	return jsonLookup(self.Snapshot(), path)
}

// Set replaces or inserts the value at `path`.
func (self *JsonContext) Set(path ot.Path, value any, callback OpCallback) error {
	last, ok := path.Last()
	if !ok {
		previous := self.Snapshot()
		if previous == nil {
			return self.submit(ot.Json0Op{ot.ObjectInsert(ot.Path{}, value)}, callback)
		}
		return self.submit(ot.Json0Op{ot.ObjectReplace(ot.Path{}, previous, value)}, callback)
	}
	parent, err := self.Get(path.Parent())
	if err != nil {
		return err
	}
	switch v := parent.(type) {
	case []any:
		if !last.IsIndex() {
			return fmt.Errorf("%w key into list at %s", ot.ErrJson0BadPath, path)
		}
		index := last.Index()
		if 0 <= index && index < len(v) {
			return self.submit(ot.Json0Op{ot.ListReplace(path, v[index], value)}, callback)
		}
		return self.submit(ot.Json0Op{ot.ListInsert(path, value)}, callback)
	case map[string]any:
		if last.IsIndex() {
			return fmt.Errorf("%w index into object at %s", ot.ErrJson0BadPath, path)
		}
		if previous, ok := v[last.Key()]; ok {
			return self.submit(ot.Json0Op{ot.ObjectReplace(path, previous, value)}, callback)
		}
		return self.submit(ot.Json0Op{ot.ObjectInsert(path, value)}, callback)
	default:
		return fmt.Errorf("%w %T at %s", ot.ErrJson0BadPath, parent, path.Parent())
	}
}

// Insert inserts into a list, or a string (`value` must be a string) at the last path index.
func (self *JsonContext) Insert(path ot.Path, value any, callback OpCallback) error {
	last, ok := path.Last()
	if !ok || !last.IsIndex() {
		return fmt.Errorf("%w insert needs an index at %s", ot.ErrJson0BadPath, path)
	}
	parent, err := self.Get(path.Parent())
	if err != nil {
		return err
	}
	switch parent.(type) {
	case []any:
		return self.submit(ot.Json0Op{ot.ListInsert(path, value)}, callback)
	case string:
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("%w insert %T into string at %s", ot.ErrJson0BadPath, value, path)
		}
		return self.submit(ot.Json0Op{ot.StringInsert(path, s)}, callback)
	default:
		return fmt.Errorf("%w insert into %T at %s", ot.ErrJson0BadPath, parent, path)
	}
}

// Remove deletes the list element or object key at `path`.
func (self *JsonContext) Remove(path ot.Path, callback OpCallback) error {
	if len(path) == 0 {
		return fmt.Errorf("%w cannot remove the root", ot.ErrJson0BadPath)
	}
	parent, err := self.Get(path.Parent())
	if err != nil {
		return err
	}
	value, err := self.Get(path)
	if err != nil {
		return err
	}
	switch parent.(type) {
	case []any:
		return self.submit(ot.Json0Op{ot.ListDelete(path, value)}, callback)
	case map[string]any:
		return self.submit(ot.Json0Op{ot.ObjectDelete(path, value)}, callback)
	default:
		return fmt.Errorf("%w remove from %T at %s", ot.ErrJson0BadPath, parent, path)
	}
}

// RemoveRange deletes `length` list elements or runes starting at the last path index.
func (self *JsonContext) RemoveRange(path ot.Path, length int, callback OpCallback) error {
	last, ok := path.Last()
	if !ok || !last.IsIndex() {
		return fmt.Errorf("%w range needs an index at %s", ot.ErrJson0BadPath, path)
	}
	pos := last.Index()
	parent, err := self.Get(path.Parent())
	if err != nil {
		return err
	}
	switch v := parent.(type) {
	case string:
		runes := []rune(v)
		if pos < 0 || length < 0 || len(runes) < pos+length {
			return fmt.Errorf("%w range %d at %s", ot.ErrJson0BadPath, length, path)
		}
		return self.submit(ot.Json0Op{ot.StringDelete(path, string(runes[pos:pos+length]))}, callback)
	case []any:
		if pos < 0 || length < 0 || len(v) < pos+length {
			return fmt.Errorf("%w range %d at %s", ot.ErrJson0BadPath, length, path)
		}
		// each delete shifts the next element to `pos`
		op := ot.Json0Op{}
		for i := 0; i < length; i += 1 {
			op = append(op, ot.ListDelete(path, v[pos+i]))
		}
		return self.submit(op, callback)
	default:
		return fmt.Errorf("%w range on %T at %s", ot.ErrJson0BadPath, parent, path)
	}
}

// Move moves the list element at `from` to `to` in the list at `path`.
func (self *JsonContext) Move(path ot.Path, from int, to int, callback OpCallback) error {
	return self.submit(ot.Json0Op{ot.ListMove(path.Concat(ot.Index(from)), to)}, callback)
}

// Push appends to the list at `path`.
func (self *JsonContext) Push(path ot.Path, value any, callback OpCallback) error {
	length, err := self.Length(path)
	if err != nil {
		return err
	}
	return self.Insert(path.Concat(ot.Index(length)), value, callback)
}

// Add adds `amount` to the number at `path`.
func (self *JsonContext) Add(path ot.Path, amount float64, callback OpCallback) error {
	return self.submit(ot.Json0Op{ot.NumberAdd(path, amount)}, callback)
}

// Length of the string (in runes), list, or object at `path`.
func (self *JsonContext) Length(path ot.Path) (int, error) {
	value, err := self.Get(path)
	if err != nil {
		return 0, err
	}
	switch v := value.(type) {
	case string:
		return utf8.RuneCountInString(v), nil
	case []any:
		return len(v), nil
	case map[string]any:
		return len(v), nil
	default:
		return 0, fmt.Errorf("%w no length for %T at %s", ot.ErrJson0BadPath, value, path)
	}
}

func (self *JsonContext) submit(op ot.Json0Op, callback OpCallback) error {
	return self.SubmitOp(op, callback)
}

// CreateContextAt returns a handle on the value at `path`.
// The handle's path follows structural changes to the document.
func (self *JsonContext) CreateContextAt(path ...ot.Segment) *SubDoc {
	subDoc := &SubDoc{
		context: self,
		path:    ot.Path(path).Clone(),
	}
	self.subDocs = append(self.subDocs, subDoc)
	return subDoc
}

func (self *JsonContext) removeSubDoc(subDoc *SubDoc) {
	self.subDocs = slices.DeleteFunc(self.subDocs, func(s *SubDoc) bool {
		return s == subDoc
	})
}

func (self *JsonContext) AddListener(path ot.Path, kind JsonEventKind, fn JsonEventFunction) *Listener {
	listener := &Listener{
		path: path.Clone(),
		kind: kind,
		fn:   fn,
	}
	self.listeners = append(self.listeners, listener)
	return listener
}

// returns false if the listener was not registered
func (self *JsonContext) RemoveListener(listener *Listener) bool {
	i := slices.Index(self.listeners, listener)
	if i < 0 {
		return false
	}
	self.listeners = slices.Delete(self.listeners, i, i+1)
	return true
}

// moves listener and handle paths through a structural component
func (self *JsonContext) fixComponentPaths(c ot.Json0Component) {
	if c.Na != nil || c.Si != nil || c.Sd != nil {
		return
	}

	listeners := make([]*Listener, 0, len(self.listeners))
	for _, listener := range self.listeners {
		path, ok := ot.TransformPath(listener.path, c)
		if !ok {
			glog.V(LogLevelTrace).Infof("[t]drop listener at removed %s\n", listener.path)
			continue
		}
		listener.path = path
		listeners = append(listeners, listener)
	}
	self.listeners = listeners

	for _, subDoc := range self.subDocs {
		if len(subDoc.path) == 0 {
			continue
		}
		// a handle on a removed value keeps its last path
		if path, ok := ot.TransformPath(subDoc.path, c); ok {
			subDoc.path = path
		}
	}
}

func (self *JsonContext) onOp(op any, origin bool) {
	jsonOp, ok := op.(ot.Json0Op)
	if !ok {
		glog.Infof("[t]json context got %T\n", op)
		return
	}
	for _, c := range jsonOp {
		self.fixComponentPaths(c)
		if origin || self.removed {
			continue
		}
		self.emit(c)
	}
}

func (self *JsonContext) emit(c ot.Json0Component) {
	matchPath := c.P
	if c.Na == nil {
		matchPath = c.P.Parent()
	}
	key, _ := c.P.Last()

	for _, listener := range slices.Clone(self.listeners) {
		if listener.path.Equal(matchPath) {
			var event *JsonEvent
			switch listener.kind {
			case JsonEventInsert:
				switch {
				case c.Li != nil && c.Ld == nil:
					event = &JsonEvent{Value: *c.Li}
				case c.Oi != nil && c.Od == nil:
					event = &JsonEvent{Value: *c.Oi}
				case c.Si != nil:
					event = &JsonEvent{Value: *c.Si}
				}
			case JsonEventDelete:
				switch {
				case c.Li == nil && c.Ld != nil:
					event = &JsonEvent{Value: *c.Ld}
				case c.Oi == nil && c.Od != nil:
					event = &JsonEvent{Value: *c.Od}
				case c.Sd != nil:
					event = &JsonEvent{Value: *c.Sd}
				}
			case JsonEventReplace:
				switch {
				case c.Li != nil && c.Ld != nil:
					event = &JsonEvent{Value: *c.Li, Previous: *c.Ld}
				case c.Oi != nil && c.Od != nil:
					event = &JsonEvent{Value: *c.Oi, Previous: *c.Od}
				}
			case JsonEventMove:
				if c.Lm != nil {
					event = &JsonEvent{To: *c.Lm}
				}
			case JsonEventAdd:
				if c.Na != nil {
					event = &JsonEvent{Amount: *c.Na}
				}
			}
			if event != nil {
				event.Kind = listener.kind
				event.Key = key
				event.Component = c
				HandleError(func() {
					listener.fn(event)
				})
			}
		}

		if listener.kind == JsonEventChildOp && ot.CanOpAffectPath(c, listener.path) {
			var suffix ot.Path
			if len(listener.path) <= len(c.P) {
				suffix = c.P[len(listener.path):].Clone()
			} else {
				suffix = ot.Path{}
			}
			event := &JsonEvent{
				Kind:      JsonEventChildOp,
				Key:       key,
				Path:      suffix,
				Component: c,
			}
			HandleError(func() {
				listener.fn(event)
			})
		}
	}
}

// SubDoc is a handle on a value inside a json document.
// All paths are relative to the handle's path.
type SubDoc struct {
	context *JsonContext
	path    ot.Path
}

func (self *SubDoc) Path() ot.Path {
	return self.path.Clone()
}

func (self *SubDoc) prefixPath(path ot.Path) ot.Path {
	return self.path.Concat(path...)
}

func (self *SubDoc) CreateContextAt(path ...ot.Segment) *SubDoc {
	return self.context.CreateContextAt(self.prefixPath(path)...)
}

func (self *SubDoc) Get(path ot.Path) (any, error) {
	return self.context.Get(self.prefixPath(path))
}

func (self *SubDoc) Set(path ot.Path, value any, callback OpCallback) error {
	return self.context.Set(self.prefixPath(path), value, callback)
}

func (self *SubDoc) Insert(path ot.Path, value any, callback OpCallback) error {
	return self.context.Insert(self.prefixPath(path), value, callback)
}

func (self *SubDoc) Remove(path ot.Path, callback OpCallback) error {
	return self.context.Remove(self.prefixPath(path), callback)
}

func (self *SubDoc) RemoveRange(path ot.Path, length int, callback OpCallback) error {
	return self.context.RemoveRange(self.prefixPath(path), length, callback)
}

func (self *SubDoc) Push(path ot.Path, value any, callback OpCallback) error {
	return self.context.Push(self.prefixPath(path), value, callback)
}

func (self *SubDoc) Move(path ot.Path, from int, to int, callback OpCallback) error {
	return self.context.Move(self.prefixPath(path), from, to, callback)
}

func (self *SubDoc) Add(path ot.Path, amount float64, callback OpCallback) error {
	return self.context.Add(self.prefixPath(path), amount, callback)
}

func (self *SubDoc) Length(path ot.Path) (int, error) {
	return self.context.Length(self.prefixPath(path))
}

// On listens at the handle's path.
func (self *SubDoc) On(kind JsonEventKind, fn JsonEventFunction) *Listener {
	return self.context.AddListener(self.path, kind, fn)
}

func (self *SubDoc) RemoveListener(listener *Listener) bool {
	return self.context.RemoveListener(listener)
}

func (self *SubDoc) Destroy() {
	self.context.removeSubDoc(self)
}
