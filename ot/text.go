package ot

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/goccy/go-json"
)

const TextTypeName = "text"
const TextTypeUri = "http://sharejs.org/types/textv1"

var ErrTextOpOutOfBounds = errors.New("Text op out of bounds.")

// the plain text type. Snapshots are `string`, ops are `TextOp`.
// Offsets count runes.
var TextType = &textType{}

type textKind int

const (
	textKindNone textKind = iota
	textKindSkip
	textKindInsert
	textKindDelete
)

// TextComponent is one of skip, insert, or delete.
// On the wire: a number (skip), a string (insert), or `{"d": n}` (delete).
type TextComponent struct {
	Skip   int
	Insert string
	Delete int
}

func TextSkip(n int) TextComponent {
	return TextComponent{Skip: n}
}

func TextInsert(s string) TextComponent {
	return TextComponent{Insert: s}
}

func TextDelete(n int) TextComponent {
	return TextComponent{Delete: n}
}

func (self TextComponent) kind() textKind {
	switch {
	case 0 < self.Skip:
		return textKindSkip
	case self.Insert != "":
		return textKindInsert
	case 0 < self.Delete:
		return textKindDelete
	default:
		return textKindNone
	}
}

// length in the document the component is applied to, or inserted length
func (self TextComponent) length() int {
	switch self.kind() {
	case textKindSkip:
		return self.Skip
	case textKindInsert:
		return utf8.RuneCountInString(self.Insert)
	case textKindDelete:
		return self.Delete
	default:
		return 0
	}
}

func (self TextComponent) MarshalJSON() ([]byte, error) {
	switch self.kind() {
	case textKindInsert:
		return json.Marshal(self.Insert)
	case textKindDelete:
		return json.Marshal(map[string]int{"d": self.Delete})
	default:
		return json.Marshal(self.Skip)
	}
}

func (self *TextComponent) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return errors.New("Empty text component.")
	}
	*self = TextComponent{}
	switch b[0] {
	case '"':
		return json.Unmarshal(b, &self.Insert)
	case '{':
		var d struct {
			D int `json:"d"`
		}
		if err := json.Unmarshal(b, &d); err != nil {
			return err
		}
		self.Delete = d.D
		return nil
	default:
		return json.Unmarshal(b, &self.Skip)
	}
}

func (self TextComponent) String() string {
	switch self.kind() {
	case textKindInsert:
		return fmt.Sprintf("%q", self.Insert)
	case textKindDelete:
		return fmt.Sprintf("{d:%d}", self.Delete)
	default:
		return fmt.Sprintf("%d", self.Skip)
	}
}

type TextOp []TextComponent

func (self TextOp) String() string {
	parts := make([]string, len(self))
	for i, c := range self {
		parts[i] = c.String()
	}
	return fmt.Sprintf("[%s]", strings.Join(parts, ","))
}

// merges with the last component when the kinds match; drops empty components
func (self TextOp) append(c TextComponent) TextOp {
	k := c.kind()
	if k == textKindNone {
		return self
	}
	if 0 < len(self) {
		last := &self[len(self)-1]
		if last.kind() == k {
			switch k {
			case textKindSkip:
				last.Skip += c.Skip
			case textKindInsert:
				last.Insert += c.Insert
			case textKindDelete:
				last.Delete += c.Delete
			}
			return self
		}
	}
	return append(self, c)
}

// a trailing skip is implied
func (self TextOp) trim() TextOp {
	if 0 < len(self) && self[len(self)-1].kind() == textKindSkip {
		return self[:len(self)-1]
	}
	return self
}

func (self TextOp) normalize() TextOp {
	out := TextOp{}
	for _, c := range self {
		out = out.append(c)
	}
	return out.trim()
}

// walks an op, splitting components as needed
type textTaker struct {
	op     TextOp
	idx    int
	offset int
}

// takes up to `n` (-1 for the rest of the current component).
// Past the end of the op, a skip of `n` is implied.
func (self *textTaker) take(n int, indivisible textKind) (TextComponent, bool) {
	if self.idx == len(self.op) {
		if n == -1 {
			return TextComponent{}, false
		}
		return TextSkip(n), true
	}
	c := self.op[self.idx]
	switch c.kind() {
	case textKindSkip:
		if n == -1 || c.Skip-self.offset <= n {
			part := TextSkip(c.Skip - self.offset)
			self.idx += 1
			self.offset = 0
			return part, true
		}
		self.offset += n
		return TextSkip(n), true
	case textKindInsert:
		runes := []rune(c.Insert)
		if n == -1 || indivisible == textKindInsert || len(runes)-self.offset <= n {
			part := TextInsert(string(runes[self.offset:]))
			self.idx += 1
			self.offset = 0
			return part, true
		}
		part := TextInsert(string(runes[self.offset : self.offset+n]))
		self.offset += n
		return part, true
	default:
		if n == -1 || indivisible == textKindDelete || c.Delete-self.offset <= n {
			part := TextDelete(c.Delete - self.offset)
			self.idx += 1
			self.offset = 0
			return part, true
		}
		self.offset += n
		return TextDelete(n), true
	}
}

func (self *textTaker) peekKind() textKind {
	if self.idx == len(self.op) {
		return textKindNone
	}
	return self.op[self.idx].kind()
}

type textType struct {
}

func (self *textType) Name() string {
	return TextTypeName
}

func (self *textType) URI() string {
	return TextTypeUri
}

func (self *textType) Capability() Capability {
	return CapabilityText
}

func (self *textType) Create(data any) (any, error) {
	switch v := data.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	default:
		return nil, fmt.Errorf("Text snapshot must be a string (%T)", data)
	}
}

func (self *textType) Apply(snapshot any, op any) (any, error) {
	s, ok := snapshot.(string)
	if !ok {
		return nil, fmt.Errorf("Text snapshot must be a string (%T)", snapshot)
	}
	textOp, err := asTextOp(op)
	if err != nil {
		return nil, err
	}
	runes := []rune(s)
	out := make([]rune, 0, len(runes))
	pos := 0
	for _, c := range textOp {
		switch c.kind() {
		case textKindSkip:
			if len(runes) < pos+c.Skip {
				return nil, fmt.Errorf("%w skip %d past %d", ErrTextOpOutOfBounds, c.Skip, len(runes)-pos)
			}
			out = append(out, runes[pos:pos+c.Skip]...)
			pos += c.Skip
		case textKindInsert:
			out = append(out, []rune(c.Insert)...)
		case textKindDelete:
			if len(runes) < pos+c.Delete {
				return nil, fmt.Errorf("%w delete %d past %d", ErrTextOpOutOfBounds, c.Delete, len(runes)-pos)
			}
			pos += c.Delete
		}
	}
	out = append(out, runes[pos:]...)
	return string(out), nil
}

func (self *textType) Compose(op1 any, op2 any) (any, error) {
	a, err := requireTextOp(op1)
	if err != nil {
		return nil, err
	}
	b, err := requireTextOp(op2)
	if err != nil {
		return nil, err
	}

	result := TextOp{}
	taker := &textTaker{op: a}
	for _, c := range b {
		switch c.kind() {
		case textKindSkip:
			for length := c.Skip; 0 < length; {
				chunk, _ := taker.take(length, textKindDelete)
				result = result.append(chunk)
				if chunk.kind() != textKindDelete {
					length -= chunk.length()
				}
			}
		case textKindInsert:
			result = result.append(c)
		case textKindDelete:
			for length := c.Delete; 0 < length; {
				chunk, _ := taker.take(length, textKindDelete)
				switch chunk.kind() {
				case textKindSkip:
					result = result.append(TextDelete(chunk.Skip))
					length -= chunk.Skip
				case textKindInsert:
					// inserted then deleted
					length -= chunk.length()
				case textKindDelete:
					result = result.append(chunk)
				}
			}
		}
	}
	for {
		chunk, ok := taker.take(-1, textKindNone)
		if !ok {
			break
		}
		result = result.append(chunk)
	}
	return result.trim(), nil
}

func (self *textType) Transform(op any, otherOp any, side Side) (any, error) {
	a, err := requireTextOp(op)
	if err != nil {
		return nil, err
	}
	b, err := requireTextOp(otherOp)
	if err != nil {
		return nil, err
	}

	result := TextOp{}
	taker := &textTaker{op: a}
	for _, c := range b {
		switch c.kind() {
		case textKindSkip:
			for length := c.Skip; 0 < length; {
				chunk, _ := taker.take(length, textKindInsert)
				result = result.append(chunk)
				if chunk.kind() != textKindInsert {
					length -= chunk.length()
				}
			}
		case textKindInsert:
			// on ties the left insert goes first
			if side == SideLeft {
				for taker.peekKind() == textKindInsert {
					chunk, _ := taker.take(-1, textKindNone)
					result = result.append(chunk)
				}
			}
			result = result.append(TextSkip(c.length()))
		case textKindDelete:
			for length := c.Delete; 0 < length; {
				chunk, _ := taker.take(length, textKindInsert)
				switch chunk.kind() {
				case textKindSkip:
					length -= chunk.Skip
				case textKindInsert:
					result = result.append(chunk)
				case textKindDelete:
					// both deleted
					length -= chunk.Delete
				}
			}
		}
	}
	for {
		chunk, ok := taker.take(-1, textKindNone)
		if !ok {
			break
		}
		result = result.append(chunk)
	}
	return result.trim(), nil
}

func (self *textType) DecodeOp(raw json.RawMessage) (any, error) {
	var op TextOp
	if err := json.Unmarshal(raw, &op); err != nil {
		return nil, err
	}
	return op.normalize(), nil
}

func (self *textType) DecodeSnapshot(raw json.RawMessage) (any, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	return s, nil
}

func requireTextOp(op any) (TextOp, error) {
	textOp, err := asTextOp(op)
	if err != nil {
		return nil, err
	}
	return textOp.normalize(), nil
}

// without normalizing. A trailing skip still has to fit the snapshot.
func asTextOp(op any) (TextOp, error) {
	switch v := op.(type) {
	case TextOp:
		return v, nil
	case []TextComponent:
		return TextOp(v), nil
	default:
		return nil, fmt.Errorf("Not a text op (%T)", op)
	}
}
