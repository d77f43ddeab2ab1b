package client

import (
	"fmt"
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestMessageBuffer(t *testing.T) {
	buffer := newMessageBuffer(3)
	assert.Equal(t, 0, len(buffer.list()))

	messages := func() []string {
		out := []string{}
		for _, record := range buffer.list() {
			out = append(out, record.Message)
		}
		return out
	}

	for i := 0; i < 2; i += 1 {
		buffer.add(MessageRecord{Direction: MessageDirectionSend, Message: fmt.Sprintf("m%d", i)})
	}
	assert.Equal(t, []string{"m0", "m1"}, messages())

	for i := 2; i < 7; i += 1 {
		buffer.add(MessageRecord{Direction: MessageDirectionReceive, Message: fmt.Sprintf("m%d", i)})
	}
	assert.Equal(t, []string{"m4", "m5", "m6"}, messages())
}

func TestMessageBufferDisabled(t *testing.T) {
	buffer := newMessageBuffer(0)
	buffer.add(MessageRecord{Message: "m"})
	assert.Equal(t, 0, len(buffer.list()))
}
