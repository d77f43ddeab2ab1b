package client

import (
	"container/heap"
)

// op messages waiting to be replayed after a state change, ordered by `seq`
type opQueue struct {
	orderedItems []*opQueueItem
	// insertion order, breaks ties
	nextOrder uint64
}

type opQueueItem struct {
	message *Message
	order   uint64
}

func newOpQueue() *opQueue {
	opQueue := &opQueue{
		orderedItems: []*opQueueItem{},
	}
	heap.Init(opQueue)
	return opQueue
}

func (self *opQueue) Add(message *Message) {
	self.nextOrder += 1
	heap.Push(self, &opQueueItem{
		message: message,
		order:   self.nextOrder,
	})
}

func (self *opQueue) RemoveFirst() *Message {
	if len(self.orderedItems) == 0 {
		return nil
	}
	item := heap.Pop(self).(*opQueueItem)
	return item.message
}

func (self *opQueue) QueueSize() int {
	return len(self.orderedItems)
}

// heap.Interface

func (self *opQueue) Push(x any) {
	self.orderedItems = append(self.orderedItems, x.(*opQueueItem))
}

func (self *opQueue) Pop() any {
	n := len(self.orderedItems)
	item := self.orderedItems[n-1]
	self.orderedItems[n-1] = nil
	self.orderedItems = self.orderedItems[:n-1]
	return item
}

// sort.Interface

func (self *opQueue) Len() int {
	return len(self.orderedItems)
}

func (self *opQueue) Less(i int, j int) bool {
	a := self.orderedItems[i]
	b := self.orderedItems[j]
	if a.message.Seq != b.message.Seq {
		return a.message.Seq < b.message.Seq
	}
	return a.order < b.order
}

func (self *opQueue) Swap(i int, j int) {
	self.orderedItems[i], self.orderedItems[j] = self.orderedItems[j], self.orderedItems[i]
}
