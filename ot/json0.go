package ot

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/goccy/go-json"
	"github.com/tiendc/go-deepcopy"
)

const Json0TypeName = "json0"
const Json0TypeUri = "http://sharejs.org/types/JSONv0"

var ErrJson0BadPath = errors.New("Json op path does not exist.")

// the json type. Snapshots are decoded json values
// (`map[string]any`, `[]any`, `string`, `float64`, `bool`, nil), ops are `Json0Op`.
var Json0Type = &json0Type{}

// Json0Component is one json0 change at `P`. Set exactly one group:
// `Na`; `Li` and/or `Ld`; `Lm`; `Oi` and/or `Od`; `Si`; `Sd`.
// For `Si`/`Sd` the last path segment is the rune offset in the string.
type Json0Component struct {
	P Path

	Na *float64

	Li *any
	Ld *any
	Lm *int

	Oi *any
	Od *any

	Si *string
	Sd *string
}

// wraps a value so that an inserted nil is distinct from no insert
func Value(v any) *any {
	return &v
}

func NumberAdd(path Path, n float64) Json0Component {
	return Json0Component{P: path, Na: &n}
}

func ListInsert(path Path, v any) Json0Component {
	return Json0Component{P: path, Li: Value(v)}
}

func ListDelete(path Path, v any) Json0Component {
	return Json0Component{P: path, Ld: Value(v)}
}

func ListReplace(path Path, before any, after any) Json0Component {
	return Json0Component{P: path, Ld: Value(before), Li: Value(after)}
}

func ListMove(path Path, to int) Json0Component {
	return Json0Component{P: path, Lm: &to}
}

func ObjectInsert(path Path, v any) Json0Component {
	return Json0Component{P: path, Oi: Value(v)}
}

func ObjectDelete(path Path, v any) Json0Component {
	return Json0Component{P: path, Od: Value(v)}
}

func ObjectReplace(path Path, before any, after any) Json0Component {
	return Json0Component{P: path, Od: Value(before), Oi: Value(after)}
}

func StringInsert(path Path, s string) Json0Component {
	return Json0Component{P: path, Si: &s}
}

func StringDelete(path Path, s string) Json0Component {
	return Json0Component{P: path, Sd: &s}
}

func (self Json0Component) clone() Json0Component {
	c := self
	c.P = self.P.Clone()
	if self.Na != nil {
		na := *self.Na
		c.Na = &na
	}
	if self.Lm != nil {
		lm := *self.Lm
		c.Lm = &lm
	}
	return c
}

func (self Json0Component) isString() bool {
	return self.Si != nil || self.Sd != nil
}

// length of the path to the container the component operates on.
// `na` targets the number itself.
func (self Json0Component) operandLength() int {
	if self.Na != nil {
		return len(self.P) + 1
	}
	return len(self.P)
}

func (self Json0Component) String() string {
	b, err := json.Marshal(self)
	if err != nil {
		return fmt.Sprintf("<%s>", err)
	}
	return string(b)
}

func (self Json0Component) MarshalJSON() ([]byte, error) {
	p := self.P
	if p == nil {
		p = Path{}
	}
	m := map[string]any{"p": p}
	if self.Na != nil {
		m["na"] = *self.Na
	}
	if self.Li != nil {
		m["li"] = *self.Li
	}
	if self.Ld != nil {
		m["ld"] = *self.Ld
	}
	if self.Lm != nil {
		m["lm"] = *self.Lm
	}
	if self.Oi != nil {
		m["oi"] = *self.Oi
	}
	if self.Od != nil {
		m["od"] = *self.Od
	}
	if self.Si != nil {
		m["si"] = *self.Si
	}
	if self.Sd != nil {
		m["sd"] = *self.Sd
	}
	return json.Marshal(m)
}

// key presence matters: `{"li": null}` inserts null
func (self *Json0Component) UnmarshalJSON(b []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(b, &fields); err != nil {
		return err
	}
	*self = Json0Component{}

	if raw, ok := fields["p"]; ok {
		if err := json.Unmarshal(raw, &self.P); err != nil {
			return err
		}
	}
	if self.P == nil {
		self.P = Path{}
	}

	value := func(key string) (*any, error) {
		raw, ok := fields[key]
		if !ok {
			return nil, nil
		}
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		return &v, nil
	}
	var err error
	if self.Li, err = value("li"); err != nil {
		return err
	}
	if self.Ld, err = value("ld"); err != nil {
		return err
	}
	if self.Oi, err = value("oi"); err != nil {
		return err
	}
	if self.Od, err = value("od"); err != nil {
		return err
	}
	if raw, ok := fields["na"]; ok {
		var na float64
		if err := json.Unmarshal(raw, &na); err != nil {
			return err
		}
		self.Na = &na
	}
	if raw, ok := fields["lm"]; ok {
		var lm int
		if err := json.Unmarshal(raw, &lm); err != nil {
			return err
		}
		self.Lm = &lm
	}
	if raw, ok := fields["si"]; ok {
		var si string
		if err := json.Unmarshal(raw, &si); err != nil {
			return err
		}
		self.Si = &si
	}
	if raw, ok := fields["sd"]; ok {
		var sd string
		if err := json.Unmarshal(raw, &sd); err != nil {
			return err
		}
		self.Sd = &sd
	}
	return nil
}

type Json0Op []Json0Component

func (self Json0Op) String() string {
	parts := make([]string, len(self))
	for i, c := range self {
		parts[i] = c.String()
	}
	return fmt.Sprintf("[%s]", strings.Join(parts, ","))
}

// appends a copy of `c`, merging adjacent number adds and dropping no-op moves.
// `self` must not be shared.
func (self Json0Op) append(c Json0Component) Json0Op {
	c = c.clone()
	if c.Lm != nil {
		if last, ok := c.P.Last(); ok && last.IsIndex() && last.Index() == *c.Lm {
			return self
		}
	}
	if 0 < len(self) {
		last := &self[len(self)-1]
		if last.P.Equal(c.P) && last.Na != nil && c.Na != nil {
			na := *last.Na + *c.Na
			last.Na = &na
			return self
		}
	}
	return append(self, c)
}

type json0Type struct {
}

func (self *json0Type) Name() string {
	return Json0TypeName
}

func (self *json0Type) URI() string {
	return Json0TypeUri
}

func (self *json0Type) Capability() Capability {
	return CapabilityJson
}

func (self *json0Type) Create(data any) (any, error) {
	return CloneJson(data)
}

func (self *json0Type) Apply(snapshot any, op any) (any, error) {
	json0Op, err := requireJson0Op(op)
	if err != nil {
		return nil, err
	}
	return json0Apply(snapshot, json0Op)
}

func (self *json0Type) Compose(op1 any, op2 any) (any, error) {
	a, err := requireJson0Op(op1)
	if err != nil {
		return nil, err
	}
	b, err := requireJson0Op(op2)
	if err != nil {
		return nil, err
	}
	out := Json0Op{}
	for _, c := range a {
		out = out.append(c)
	}
	for _, c := range b {
		out = out.append(c)
	}
	return out, nil
}

func (self *json0Type) TransformX(clientOp any, serverOp any) (any, any, error) {
	a, err := requireJson0Op(clientOp)
	if err != nil {
		return nil, nil, err
	}
	b, err := requireJson0Op(serverOp)
	if err != nil {
		return nil, nil, err
	}
	a_, b_ := json0TransformX(a, b)
	return a_, b_, nil
}

func (self *json0Type) Transform(op any, otherOp any, side Side) (any, error) {
	a, err := requireJson0Op(op)
	if err != nil {
		return nil, err
	}
	b, err := requireJson0Op(otherOp)
	if err != nil {
		return nil, err
	}
	if side == SideLeft {
		a_, _ := json0TransformX(a, b)
		return a_, nil
	}
	_, a_ := json0TransformX(b, a)
	return a_, nil
}

func (self *json0Type) DecodeOp(raw json.RawMessage) (any, error) {
	var op Json0Op
	if err := json.Unmarshal(raw, &op); err != nil {
		return nil, err
	}
	return op, nil
}

func (self *json0Type) DecodeSnapshot(raw json.RawMessage) (any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// TransformComponent transforms `c` against the concurrent `otherC` and appends
// the result (zero, one, or two components) to `dest`.
func (self *json0Type) TransformComponent(dest Json0Op, c Json0Component, otherC Json0Component, side Side) Json0Op {
	return json0TransformComponent(dest, c, otherC, side)
}

// CanOpAffectPath is true when applying `c` may change the value at `path`
// or any of its ancestors.
func CanOpAffectPath(c Json0Component, path Path) bool {
	if c.operandLength() == 0 {
		// replaces the root
		return true
	}
	_, ok := json0CommonLength(Json0Component{P: path}, c)
	return ok
}

// TransformPath moves a path through a concurrent component.
// Returns false when the component removes the value at the path.
func TransformPath(path Path, c Json0Component) (Path, bool) {
	dummy := Json0Component{P: path.Clone(), Na: new(float64)}
	out := json0TransformComponent(Json0Op{}, dummy, c, SideLeft)
	if len(out) == 0 {
		return nil, false
	}
	return out[0].P, true
}

func requireJson0Op(op any) (Json0Op, error) {
	switch v := op.(type) {
	case Json0Op:
		return v, nil
	case []Json0Component:
		return Json0Op(v), nil
	case Json0Component:
		return Json0Op{v}, nil
	default:
		return nil, fmt.Errorf("Not a json0 op (%T)", op)
	}
}

// CloneJson deep copies a decoded json value.
func CloneJson(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	var out any
	if err := deepcopy.Copy(&out, v); err != nil {
		return nil, err
	}
	return out, nil
}

func json0Apply(snapshot any, op Json0Op) (any, error) {
	root, err := CloneJson(snapshot)
	if err != nil {
		return nil, err
	}
	// the root is addressed through a container so that it can be replaced
	container := map[string]any{"data": root}
	for _, c := range op {
		path := Path{Key("data")}.Concat(c.P...)
		if _, err := json0Update(container, path, c); err != nil {
			return nil, fmt.Errorf("%w at %s: %s", err, c.P, c)
		}
	}
	return container["data"], nil
}

// returns the replacement for `node`
func json0Update(node any, path Path, c Json0Component) (any, error) {
	segment := path[0]
	if 1 < len(path) {
		child, err := json0Child(node, segment)
		if err != nil {
			return nil, err
		}
		child, err = json0Update(child, path[1:], c)
		if err != nil {
			return nil, err
		}
		return json0SetChild(node, segment, child)
	}
	return json0Operate(node, segment, c)
}

func json0Child(node any, segment Segment) (any, error) {
	switch v := node.(type) {
	case map[string]any:
		if segment.IsIndex() {
			return nil, ErrJson0BadPath
		}
		child, ok := v[segment.Key()]
		if !ok {
			return nil, ErrJson0BadPath
		}
		return child, nil
	case []any:
		if !segment.IsIndex() || segment.Index() < 0 || len(v) <= segment.Index() {
			return nil, ErrJson0BadPath
		}
		return v[segment.Index()], nil
	default:
		return nil, ErrJson0BadPath
	}
}

func json0SetChild(node any, segment Segment, child any) (any, error) {
	switch v := node.(type) {
	case map[string]any:
		v[segment.Key()] = child
		return v, nil
	case []any:
		v[segment.Index()] = child
		return v, nil
	default:
		return nil, ErrJson0BadPath
	}
}

func json0Operate(node any, segment Segment, c Json0Component) (any, error) {
	switch {
	case c.Na != nil:
		n, err := json0Child(node, segment)
		if err != nil {
			return nil, err
		}
		var sum float64
		switch v := n.(type) {
		case float64:
			sum = v + *c.Na
		case int:
			sum = float64(v) + *c.Na
		default:
			return nil, fmt.Errorf("Number add on %T", n)
		}
		return json0SetChild(node, segment, sum)

	case c.Si != nil || c.Sd != nil:
		s, ok := node.(string)
		if !ok || !segment.IsIndex() {
			return nil, fmt.Errorf("%w string op on %T", ErrJson0BadPath, node)
		}
		runes := []rune(s)
		offset := segment.Index()
		if offset < 0 || len(runes) < offset {
			return nil, ErrJson0BadPath
		}
		if c.Si != nil {
			return string(runes[:offset]) + *c.Si + string(runes[offset:]), nil
		}
		n := utf8.RuneCountInString(*c.Sd)
		if len(runes) < offset+n {
			return nil, ErrJson0BadPath
		}
		if string(runes[offset:offset+n]) != *c.Sd {
			return nil, fmt.Errorf("Deleted string does not match")
		}
		return string(runes[:offset]) + string(runes[offset+n:]), nil

	case c.Li != nil || c.Ld != nil || c.Lm != nil:
		list, ok := node.([]any)
		if !ok || !segment.IsIndex() {
			return nil, fmt.Errorf("%w list op on %T", ErrJson0BadPath, node)
		}
		i := segment.Index()
		switch {
		case c.Lm != nil:
			to := *c.Lm
			if i < 0 || len(list) <= i || to < 0 || len(list) <= to {
				return nil, ErrJson0BadPath
			}
			v := list[i]
			list = slices.Delete(list, i, i+1)
			return slices.Insert(list, to, v), nil
		case c.Li != nil && c.Ld != nil:
			if i < 0 || len(list) <= i {
				return nil, ErrJson0BadPath
			}
			list[i] = *c.Li
			return list, nil
		case c.Li != nil:
			if i < 0 || len(list) < i {
				return nil, ErrJson0BadPath
			}
			return slices.Insert(list, i, *c.Li), nil
		default:
			if i < 0 || len(list) <= i {
				return nil, ErrJson0BadPath
			}
			return slices.Delete(list, i, i+1), nil
		}

	case c.Oi != nil || c.Od != nil:
		obj, ok := node.(map[string]any)
		if !ok || segment.IsIndex() {
			return nil, fmt.Errorf("%w object op on %T", ErrJson0BadPath, node)
		}
		if c.Oi != nil {
			obj[segment.Key()] = *c.Oi
		} else {
			delete(obj, segment.Key())
		}
		return obj, nil

	default:
		return nil, fmt.Errorf("Invalid json0 component %s", c)
	}
}

// the length of the shared container path when `b` operates inside the container
// `a` operates on. Returns -1 when `a` is at the root.
func json0CommonLength(a Json0Component, b Json0Component) (int, bool) {
	alen := a.operandLength()
	blen := b.operandLength()
	if alen == 0 {
		return -1, true
	}
	if blen == 0 {
		return 0, false
	}
	alen -= 1
	for i := 0; i < alen; i += 1 {
		if len(b.P) <= i || a.P[i] != b.P[i] {
			return 0, false
		}
	}
	return alen, true
}

func json0SegmentAt(path Path, i int) (Segment, bool) {
	if i < 0 || len(path) <= i {
		return Segment{}, false
	}
	return path[i], true
}

func json0IndexAt(path Path, i int) (int, bool) {
	segment, ok := json0SegmentAt(path, i)
	if !ok || !segment.IsIndex() {
		return 0, false
	}
	return segment.Index(), true
}

// two missing segments compare equal
func json0SegmentEqual(a Path, b Path, i int) bool {
	sa, oka := json0SegmentAt(a, i)
	sb, okb := json0SegmentAt(b, i)
	if oka != okb {
		return false
	}
	return !oka || sa == sb
}

func json0TransformComponent(dest Json0Op, c Json0Component, otherC Json0Component, side Side) Json0Op {
	c = c.clone()

	common, hasCommon := json0CommonLength(otherC, c)
	common2, hasCommon2 := json0CommonLength(c, otherC)
	cplength := c.operandLength()
	otherCplength := otherC.operandLength()

	// keep deletes invertible: apply the other change to the deleted value
	if hasCommon2 && cplength < otherCplength && json0SegmentEqual(c.P, otherC.P, common2) {
		inner := otherC.clone()
		inner.P = inner.P[cplength:]
		if c.Ld != nil {
			if v, err := json0Apply(*c.Ld, Json0Op{inner}); err == nil {
				c.Ld = &v
			}
		} else if c.Od != nil {
			if v, err := json0Apply(*c.Od, Json0Op{inner}); err == nil {
				c.Od = &v
			}
		}
	}

	if !hasCommon {
		return dest.append(c)
	}

	commonOperand := cplength == otherCplength
	same := func() bool {
		return json0SegmentEqual(c.P, otherC.P, common)
	}
	setIndex := func(i int) {
		c.P[common] = Index(i)
	}

	cIndex, cIsIndex := json0IndexAt(c.P, common)
	otherIndex, otherIsIndex := json0IndexAt(otherC.P, common)
	bothIndex := cIsIndex && otherIsIndex

	switch {
	case c.isString() && otherC.isString():
		return json0TransformString(dest, c, otherC, side)

	case otherC.Na != nil:
		// number adds commute

	case otherC.Li != nil && otherC.Ld != nil:
		if same() {
			if !commonOperand {
				return dest
			} else if c.Ld != nil {
				if c.Li != nil && side == SideLeft {
					c.Ld = Value(*otherC.Li)
				} else {
					return dest
				}
			}
		}

	case otherC.Li != nil:
		if c.Li != nil && c.Ld == nil && commonOperand && same() {
			if side == SideRight {
				setIndex(cIndex + 1)
			}
		} else if bothIndex && otherIndex <= cIndex {
			setIndex(cIndex + 1)
		}
		if c.Lm != nil && commonOperand && otherIsIndex {
			if otherIndex <= *c.Lm {
				*c.Lm += 1
			}
		}

	case otherC.Ld != nil:
		if c.Lm != nil && commonOperand {
			if same() {
				return dest
			}
			if bothIndex {
				to := *c.Lm
				if otherIndex < to || (otherIndex == to && cIndex < to) {
					*c.Lm -= 1
				}
			}
		}
		if bothIndex && otherIndex < cIndex {
			setIndex(cIndex - 1)
		} else if same() {
			if otherCplength < cplength {
				// inside the deleted element
				return dest
			} else if c.Ld != nil {
				if c.Li != nil {
					c.Ld = nil
				} else {
					return dest
				}
			}
		}

	case otherC.Lm != nil:
		if !bothIndex {
			break
		}
		otherFrom := otherIndex
		otherTo := *otherC.Lm
		if c.Lm != nil && cplength == otherCplength {
			from := cIndex
			to := *c.Lm
			if otherFrom != otherTo {
				if from == otherFrom {
					// both moved the same element
					if side == SideLeft {
						setIndex(otherTo)
						if from == to {
							*c.Lm = otherTo
						}
					} else {
						return dest
					}
				} else {
					p := from
					if from > otherFrom {
						p -= 1
					}
					if from > otherTo {
						p += 1
					} else if from == otherTo {
						if otherFrom > otherTo {
							p += 1
							if from == to {
								*c.Lm += 1
							}
						}
					}
					setIndex(p)

					if to > otherFrom {
						*c.Lm -= 1
					} else if to == otherFrom {
						if to > from {
							*c.Lm -= 1
						}
					}
					if to > otherTo {
						*c.Lm += 1
					} else if to == otherTo {
						if (otherTo > otherFrom && to > from) || (otherTo < otherFrom && to < from) {
							if side == SideRight {
								*c.Lm += 1
							}
						} else {
							if to > from {
								*c.Lm += 1
							} else if to == otherFrom {
								*c.Lm -= 1
							}
						}
					}
				}
			}
		} else if c.Li != nil && c.Ld == nil && commonOperand {
			p := cIndex
			if p > otherFrom {
				p -= 1
			}
			if cIndex > otherTo {
				p += 1
			}
			setIndex(p)
		} else {
			p := cIndex
			if p == otherFrom {
				setIndex(otherTo)
			} else {
				if p > otherFrom {
					p -= 1
				}
				if cIndex > otherTo {
					p += 1
				} else if cIndex == otherTo && otherFrom > otherTo {
					p += 1
				}
				setIndex(p)
			}
		}

	case otherC.Oi != nil && otherC.Od != nil:
		if same() {
			if c.Oi != nil && commonOperand {
				if side == SideRight {
					return dest
				}
				c.Od = Value(*otherC.Oi)
			} else {
				return dest
			}
		}

	case otherC.Oi != nil:
		if c.Oi != nil && same() {
			if side == SideLeft {
				dest = dest.append(Json0Component{P: c.P.Clone(), Od: Value(*otherC.Oi)})
			} else {
				return dest
			}
		}

	case otherC.Od != nil:
		if same() {
			if !commonOperand {
				return dest
			}
			if c.Oi != nil {
				c.Od = nil
			} else {
				return dest
			}
		}
	}

	return dest.append(c)
}

// string inserts and deletes on the same string
func json0TransformString(dest Json0Op, c Json0Component, otherC Json0Component, side Side) Json0Op {
	prefix := c.P.Parent()
	pos, _ := json0IndexAt(c.P, len(c.P)-1)
	otherPos, _ := json0IndexAt(otherC.P, len(otherC.P)-1)

	at := func(p int) Path {
		return prefix.Concat(Index(p))
	}

	transformPosition := func(p int, insertAfter bool) int {
		if otherC.Si != nil {
			if otherPos < p || (otherPos == p && insertAfter) {
				return p + utf8.RuneCountInString(*otherC.Si)
			}
			return p
		}
		otherLen := utf8.RuneCountInString(*otherC.Sd)
		if p <= otherPos {
			return p
		} else if p <= otherPos+otherLen {
			return otherPos
		}
		return p - otherLen
	}

	if c.Si != nil {
		return dest.append(StringInsert(at(transformPosition(pos, side == SideRight)), *c.Si))
	}

	runes := []rune(*c.Sd)
	if otherC.Si != nil {
		if pos < otherPos {
			split := min(otherPos-pos, len(runes))
			dest = dest.append(StringDelete(at(pos), string(runes[:split])))
			runes = runes[split:]
		}
		if 0 < len(runes) {
			dest = dest.append(StringDelete(at(pos+utf8.RuneCountInString(*otherC.Si)), string(runes)))
		}
		return dest
	}

	otherLen := utf8.RuneCountInString(*otherC.Sd)
	if otherPos+otherLen <= pos {
		return dest.append(StringDelete(at(pos-otherLen), string(runes)))
	} else if pos+len(runes) <= otherPos {
		return dest.append(c)
	}
	// overlapping deletes keep only what the other did not delete
	remaining := []rune{}
	if pos < otherPos {
		remaining = append(remaining, runes[:otherPos-pos]...)
	}
	if otherPos+otherLen < pos+len(runes) {
		remaining = append(remaining, runes[otherPos+otherLen-pos:]...)
	}
	if 0 < len(remaining) {
		dest = dest.append(StringDelete(at(transformPosition(pos, false)), string(remaining)))
	}
	return dest
}

// left wins ties
func json0TransformX(leftOp Json0Op, rightOp Json0Op) (Json0Op, Json0Op) {
	newRightOp := Json0Op{}
	for _, rightComponent := range rightOp {
		newLeftOp := Json0Op{}
		consumed := false
		for k := 0; k < len(leftOp); {
			leftComponent := leftOp[k]
			newLeftOp = json0TransformComponent(newLeftOp, leftComponent, rightComponent, SideLeft)
			nextC := json0TransformComponent(Json0Op{}, rightComponent, leftComponent, SideRight)
			k += 1

			if len(nextC) == 1 {
				rightComponent = nextC[0]
			} else if len(nextC) == 0 {
				for _, l := range leftOp[k:] {
					newLeftOp = newLeftOp.append(l)
				}
				consumed = true
				break
			} else {
				l_, r_ := json0TransformX(leftOp[k:], nextC)
				for _, l := range l_ {
					newLeftOp = newLeftOp.append(l)
				}
				for _, r := range r_ {
					newRightOp = newRightOp.append(r)
				}
				consumed = true
				break
			}
		}
		if !consumed {
			newRightOp = newRightOp.append(rightComponent)
		}
		leftOp = newLeftOp
	}
	return leftOp, newRightOp
}
