package client

import (
	"fmt"
	"unicode/utf8"

	"github.com/golang/glog"

	"github.com/bringyour/sharedoc/ot"
)

// positions count runes
type TextInsertFunction func(pos int, text string)

type TextRemoveFunction func(pos int, length int)

// TextContext edits a `text` document.
// Insert and remove events fire for ops that did not originate in this context.
type TextContext struct {
	baseContext

	insertCallbacks *CallbackList[TextInsertFunction]
	removeCallbacks *CallbackList[TextRemoveFunction]
}

func newTextContext(doc *Doc) *TextContext {
	context := &TextContext{
		insertCallbacks: NewCallbackList[TextInsertFunction](),
		removeCallbacks: NewCallbackList[TextRemoveFunction](),
	}
	context.baseContext = newBaseContext(doc, context)
	return context
}

func (self *TextContext) Get() string {
	s, _ := self.Snapshot().(string)
	return s
}

// in runes
func (self *TextContext) Length() int {
	return utf8.RuneCountInString(self.Get())
}

func (self *TextContext) Insert(pos int, text string, callback OpCallback) error {
	if pos < 0 || self.Length() < pos {
		return fmt.Errorf("%w insert at %d", ot.ErrTextOpOutOfBounds, pos)
	}
	op := ot.TextOp{}
	if 0 < pos {
		op = append(op, ot.TextSkip(pos))
	}
	op = append(op, ot.TextInsert(text))
	return self.SubmitOp(op, callback)
}

func (self *TextContext) Remove(pos int, length int, callback OpCallback) error {
	if pos < 0 || length < 0 || self.Length() < pos+length {
		return fmt.Errorf("%w remove %d at %d", ot.ErrTextOpOutOfBounds, length, pos)
	}
	if length == 0 {
		if callback != nil {
			HandleError(func() {
				callback(nil)
			})
		}
		return nil
	}
	op := ot.TextOp{}
	if 0 < pos {
		op = append(op, ot.TextSkip(pos))
	}
	op = append(op, ot.TextDelete(length))
	return self.SubmitOp(op, callback)
}

func (self *TextContext) OnInsert(callback TextInsertFunction) func() {
	return self.insertCallbacks.Add(callback)
}

func (self *TextContext) OnRemove(callback TextRemoveFunction) func() {
	return self.removeCallbacks.Add(callback)
}

func (self *TextContext) onOp(op any, origin bool) {
	if origin || self.removed {
		return
	}
	textOp, ok := op.(ot.TextOp)
	if !ok {
		glog.Infof("[t]text context got %T\n", op)
		return
	}

	// position in the new text
	pos := 0
	for _, c := range textOp {
		switch {
		case 0 < c.Skip:
			pos += c.Skip
		case c.Insert != "":
			for _, callback := range self.insertCallbacks.Get() {
				HandleError(func() {
					callback(pos, c.Insert)
				})
			}
			pos += utf8.RuneCountInString(c.Insert)
		case 0 < c.Delete:
			for _, callback := range self.removeCallbacks.Get() {
				HandleError(func() {
					callback(pos, c.Delete)
				})
			}
		}
	}
}
