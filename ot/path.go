package ot

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
)

// Segment is one step into a json document: an object key or an array index.
// comparable
type Segment struct {
	key     string
	index   int
	isIndex bool
}

func Key(key string) Segment {
	return Segment{key: key}
}

func Index(index int) Segment {
	return Segment{index: index, isIndex: true}
}

func (self Segment) IsIndex() bool {
	return self.isIndex
}

func (self Segment) Key() string {
	return self.key
}

func (self Segment) Index() int {
	return self.index
}

func (self Segment) String() string {
	if self.isIndex {
		return strconv.Itoa(self.index)
	}
	return self.key
}

func (self Segment) MarshalJSON() ([]byte, error) {
	if self.isIndex {
		return json.Marshal(self.index)
	}
	return json.Marshal(self.key)
}

func (self *Segment) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if 0 < len(b) && b[0] == '"' {
		var key string
		if err := json.Unmarshal(b, &key); err != nil {
			return err
		}
		*self = Key(key)
		return nil
	}
	var index float64
	if err := json.Unmarshal(b, &index); err != nil {
		return fmt.Errorf("Path segment must be a string or number: %w", err)
	}
	*self = Index(int(index))
	return nil
}

type Path []Segment

// P builds a path from strings (keys) and ints (indexes).
func P(parts ...any) Path {
	path := make(Path, len(parts))
	for i, part := range parts {
		switch v := part.(type) {
		case string:
			path[i] = Key(v)
		case int:
			path[i] = Index(v)
		case Segment:
			path[i] = v
		default:
			panic(fmt.Sprintf("Bad path segment %T", part))
		}
	}
	return path
}

// ParsePath parses a dot separated path. All-digit parts are indexes.
// The empty string is the root path.
func ParsePath(s string) (Path, error) {
	if s == "" || s == "." {
		return Path{}, nil
	}
	parts := strings.Split(s, ".")
	path := make(Path, len(parts))
	for i, part := range parts {
		if part == "" {
			return nil, fmt.Errorf("Empty segment in path %q", s)
		}
		if index, err := strconv.Atoi(part); err == nil && 0 <= index {
			path[i] = Index(index)
		} else {
			path[i] = Key(part)
		}
	}
	return path, nil
}

func (self Path) Clone() Path {
	clone := make(Path, len(self))
	copy(clone, self)
	return clone
}

func (self Path) Equal(other Path) bool {
	if len(self) != len(other) {
		return false
	}
	for i := range self {
		if self[i] != other[i] {
			return false
		}
	}
	return true
}

// true if `prefix` is a prefix of (or equal to) this path
func (self Path) HasPrefix(prefix Path) bool {
	if len(self) < len(prefix) {
		return false
	}
	return self[:len(prefix)].Equal(prefix)
}

// copy with `suffix` appended
func (self Path) Concat(suffix ...Segment) Path {
	path := make(Path, 0, len(self)+len(suffix))
	path = append(path, self...)
	path = append(path, suffix...)
	return path
}

func (self Path) Last() (Segment, bool) {
	if len(self) == 0 {
		return Segment{}, false
	}
	return self[len(self)-1], true
}

func (self Path) Parent() Path {
	if len(self) == 0 {
		return self
	}
	return self[:len(self)-1]
}

func (self Path) String() string {
	parts := make([]string, len(self))
	for i, segment := range self {
		parts[i] = segment.String()
	}
	return strings.Join(parts, ".")
}
