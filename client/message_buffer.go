package client

import (
	"time"
)

type MessageDirection string

const (
	MessageDirectionSend    MessageDirection = "send"
	MessageDirectionReceive MessageDirection = "recv"
)

type MessageRecord struct {
	Time      time.Time
	Direction MessageDirection
	Message   string
}

// fixed size ring of the most recent frames, for diagnostics
type messageBuffer struct {
	records []MessageRecord
	// index of the next write
	next  int
	count int
}

func newMessageBuffer(size int) *messageBuffer {
	return &messageBuffer{
		records: make([]MessageRecord, max(size, 0)),
	}
}

func (self *messageBuffer) add(record MessageRecord) {
	if len(self.records) == 0 {
		return
	}
	self.records[self.next] = record
	self.next = (self.next + 1) % len(self.records)
	if self.count < len(self.records) {
		self.count += 1
	}
}

// oldest first
func (self *messageBuffer) list() []MessageRecord {
	out := make([]MessageRecord, 0, self.count)
	start := (self.next - self.count + len(self.records)) % max(len(self.records), 1)
	for i := 0; i < self.count; i += 1 {
		out = append(out, self.records[(start+i)%len(self.records)])
	}
	return out
}
