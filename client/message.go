package client

import (
	"bytes"
	"fmt"

	"github.com/goccy/go-json"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// message actions
const (
	ActionInit          = "init"
	ActionSubscribe     = "sub"
	ActionUnsubscribe   = "unsub"
	ActionFetch         = "fetch"
	ActionBulkSubscribe = "bs"
	ActionOp            = "op"
	ActionAck           = "ack"
	ActionQueryFetch    = "qfetch"
	ActionQuerySub      = "qsub"
	ActionQueryUpdate   = "q"
	ActionQueryUnsub    = "qunsub"
)

// Message is one wire frame in either direction.
// `c` and `d` are omitted when they match the previous message in the same direction.
type Message struct {
	Action     string `json:"a,omitempty"`
	Collection string `json:"c,omitempty"`
	DocName    string `json:"d,omitempty"`
	Version    *int64 `json:"v,omitempty"`

	Protocol *int `json:"protocol,omitempty"`
	// client id (string) for init, query id (number) for queries
	Id json.RawMessage `json:"id,omitempty"`

	Src    string          `json:"src,omitempty"`
	Seq    uint64          `json:"seq,omitempty"`
	Op     json.RawMessage `json:"op,omitempty"`
	Create *CreateMessage  `json:"create,omitempty"`
	Del    bool            `json:"del,omitempty"`

	// snapshot (`SnapshotMessage`) or query results (`[]SnapshotMessage`)
	Data  json.RawMessage `json:"data,omitempty"`
	Error json.RawMessage `json:"error,omitempty"`

	// collection -> doc name -> version or null (request), true or snapshot (response)
	Subscriptions map[string]map[string]json.RawMessage `json:"s,omitempty"`

	Query   json.RawMessage `json:"q,omitempty"`
	Options map[string]any  `json:"o,omitempty"`
	Diff    []QueryDiff     `json:"diff,omitempty"`
	Extra   json.RawMessage `json:"extra,omitempty"`
}

type CreateMessage struct {
	// type name or uri
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// a document snapshot, a bulk subscribe element, or a query result
type SnapshotMessage struct {
	Collection string          `json:"c,omitempty"`
	DocName    string          `json:"d,omitempty"`
	Version    *int64          `json:"v,omitempty"`
	Type       string          `json:"type,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
	Error      json.RawMessage `json:"error,omitempty"`
}

const (
	QueryDiffInsert = "insert"
	QueryDiffRemove = "remove"
	QueryDiffMove   = "move"
)

type QueryDiff struct {
	Type    string            `json:"type"`
	Index   int               `json:"index,omitempty"`
	Values  []SnapshotMessage `json:"values,omitempty"`
	HowMany int               `json:"howMany,omitempty"`
	From    int               `json:"from,omitempty"`
	To      int               `json:"to,omitempty"`
}

// ServerError is an error reported by the server in an `error` field.
type ServerError struct {
	Code    int    `json:"code,omitempty"`
	Message string `json:"message"`
}

func (self *ServerError) Error() string {
	if self.Code != 0 {
		return fmt.Sprintf("Server error %d: %s", self.Code, self.Message)
	}
	return fmt.Sprintf("Server error: %s", self.Message)
}

// the error field is either a string or `{code, message}`
func parseServerError(raw json.RawMessage) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if raw[0] == '"' {
		var message string
		if err := json.Unmarshal(raw, &message); err != nil {
			return &ServerError{Message: string(raw)}
		}
		return &ServerError{Message: message}
	}
	serverErr := &ServerError{}
	if err := json.Unmarshal(raw, serverErr); err != nil {
		return &ServerError{Message: string(raw)}
	}
	return serverErr
}

func (self *Message) Err() error {
	return parseServerError(self.Error)
}

func (self *SnapshotMessage) Err() error {
	return parseServerError(self.Error)
}

func (self *Message) ClientId() (string, bool) {
	var clientId string
	if err := json.Unmarshal(self.Id, &clientId); err != nil {
		return "", false
	}
	return clientId, true
}

func (self *Message) QueryId() (uint64, bool) {
	var queryId uint64
	if err := json.Unmarshal(self.Id, &queryId); err != nil {
		return 0, false
	}
	return queryId, true
}

func (self *Message) String() string {
	b, err := json.Marshal(self)
	if err != nil {
		return fmt.Sprintf("<%s>", err)
	}
	return string(b)
}

func isNullJson(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) == 0 || string(raw) == "null"
}

func int64Ptr(v int64) *int64 {
	return &v
}

func intPtr(v int) *int {
	return &v
}

// FrameCodec encodes messages for sockets that cannot carry `*Message` directly.
type FrameCodec interface {
	Encode(message *Message) ([]byte, error)
	Decode(data []byte) (*Message, error)
	// true if frames should be sent as binary websocket messages
	Binary() bool
}

// json text frames
type JsonFrameCodec struct {
}

func NewJsonFrameCodec() *JsonFrameCodec {
	return &JsonFrameCodec{}
}

func (self *JsonFrameCodec) Encode(message *Message) ([]byte, error) {
	return json.Marshal(message)
}

func (self *JsonFrameCodec) Decode(data []byte) (*Message, error) {
	message := &Message{}
	if err := json.Unmarshal(data, message); err != nil {
		return nil, err
	}
	return message, nil
}

func (self *JsonFrameCodec) Binary() bool {
	return false
}

// binary frames holding a `google.protobuf.Struct` of the json message
type ProtoFrameCodec struct {
}

func NewProtoFrameCodec() *ProtoFrameCodec {
	return &ProtoFrameCodec{}
}

func (self *ProtoFrameCodec) Encode(message *Message) ([]byte, error) {
	b, err := json.Marshal(message)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, err
	}
	return proto.Marshal(s)
}

func (self *ProtoFrameCodec) Decode(data []byte) (*Message, error) {
	s := &structpb.Struct{}
	if err := proto.Unmarshal(data, s); err != nil {
		return nil, err
	}
	b, err := json.Marshal(s.AsMap())
	if err != nil {
		return nil, err
	}
	message := &Message{}
	if err := json.Unmarshal(b, message); err != nil {
		return nil, err
	}
	return message, nil
}

func (self *ProtoFrameCodec) Binary() bool {
	return true
}
