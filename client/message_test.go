package client

import (
	"errors"
	"testing"

	"github.com/go-playground/assert/v2"
	"github.com/goccy/go-json"
)

func TestJsonFrameCodec(t *testing.T) {
	codec := NewJsonFrameCodec()
	assert.Equal(t, false, codec.Binary())

	message := &Message{
		Action:     ActionOp,
		Collection: "x",
		DocName:    "a",
		Version:    int64Ptr(0),
		Src:        "client1",
		Seq:        3,
		Op:         json.RawMessage(`[1,"a"]`),
	}
	data, err := codec.Encode(message)
	assert.Equal(t, nil, err)
	assert.Equal(t, `{"a":"op","c":"x","d":"a","v":0,"src":"client1","seq":3,"op":[1,"a"]}`, string(data))

	decoded, err := codec.Decode(data)
	assert.Equal(t, nil, err)
	assert.Equal(t, int64(0), *decoded.Version)
	assert.Equal(t, uint64(3), decoded.Seq)
	assert.Equal(t, `[1,"a"]`, string(decoded.Op))

	_, err = codec.Decode([]byte("{"))
	assert.NotEqual(t, nil, err)
}

func TestProtoFrameCodec(t *testing.T) {
	codec := NewProtoFrameCodec()
	assert.Equal(t, true, codec.Binary())

	message := &Message{
		Action:     ActionOp,
		Collection: "x",
		DocName:    "a",
		Version:    int64Ptr(7),
		Src:        "client1",
		Seq:        2,
		Create: &CreateMessage{
			Type: "text",
			Data: json.RawMessage(`"hi"`),
		},
	}
	data, err := codec.Encode(message)
	assert.Equal(t, nil, err)

	decoded, err := codec.Decode(data)
	assert.Equal(t, nil, err)
	assert.Equal(t, ActionOp, decoded.Action)
	assert.Equal(t, "a", decoded.DocName)
	assert.Equal(t, int64(7), *decoded.Version)
	assert.Equal(t, uint64(2), decoded.Seq)
	assert.Equal(t, "text", decoded.Create.Type)
	assert.Equal(t, `"hi"`, string(decoded.Create.Data))

	_, err = codec.Decode([]byte{0xff, 0xff})
	assert.NotEqual(t, nil, err)
}

func TestMessageIds(t *testing.T) {
	message := &Message{}
	assert.Equal(t, nil, json.Unmarshal([]byte(`{"a":"init","protocol":1,"id":"abc"}`), message))
	clientId, ok := message.ClientId()
	assert.Equal(t, true, ok)
	assert.Equal(t, "abc", clientId)
	_, ok = message.QueryId()
	assert.Equal(t, false, ok)

	message = &Message{}
	assert.Equal(t, nil, json.Unmarshal([]byte(`{"a":"q","id":12}`), message))
	queryId, ok := message.QueryId()
	assert.Equal(t, true, ok)
	assert.Equal(t, uint64(12), queryId)
	_, ok = message.ClientId()
	assert.Equal(t, false, ok)
}

func TestParseServerError(t *testing.T) {
	assert.Equal(t, nil, parseServerError(nil))
	assert.Equal(t, nil, parseServerError(json.RawMessage("null")))

	err := parseServerError(json.RawMessage(`"Nope"`))
	serverErr := &ServerError{}
	assert.Equal(t, true, errors.As(err, &serverErr))
	assert.Equal(t, "Nope", serverErr.Message)
	assert.Equal(t, "Server error: Nope", err.Error())

	err = parseServerError(json.RawMessage(`{"code":4001,"message":"Rejected"}`))
	assert.Equal(t, true, errors.As(err, &serverErr))
	assert.Equal(t, 4001, serverErr.Code)
	assert.Equal(t, "Server error 4001: Rejected", err.Error())

	// unexpected shapes keep the raw text
	err = parseServerError(json.RawMessage(`[1]`))
	assert.Equal(t, "Server error: [1]", err.Error())
}
