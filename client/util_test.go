package client

import (
	"errors"
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestCallbackList(t *testing.T) {
	callbacks := NewCallbackList[func() int]()
	removeA := callbacks.Add(func() int {
		return 1
	})
	callbacks.Add(func() int {
		return 2
	})
	// the same function value can be added twice and removed independently
	f := func() int {
		return 3
	}
	removeF1 := callbacks.Add(f)
	callbacks.Add(f)
	assert.Equal(t, 4, callbacks.Len())

	snapshot := callbacks.Get()
	removeA()
	removeF1()
	// removing again is a no-op
	removeA()

	values := []int{}
	for _, callback := range callbacks.Get() {
		values = append(values, callback())
	}
	assert.Equal(t, []int{2, 3}, values)
	// earlier snapshots are not changed
	assert.Equal(t, 4, len(snapshot))
}

func TestHandleError(t *testing.T) {
	var handled error
	r := HandleError(func() {
		panic(errors.New("boom"))
	}, func(err error) {
		handled = err
	})
	assert.NotEqual(t, nil, r)
	assert.Equal(t, "boom", handled.Error())

	called := false
	r = HandleError(func() {
		panic("text")
	}, func() {
		called = true
	})
	assert.Equal(t, "text", r)
	assert.Equal(t, true, called)

	r = HandleError(func() {})
	assert.Equal(t, nil, r)
}

func TestSortedKeys(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, sortedKeys(map[string]int{"c": 1, "a": 2, "b": 3}))
	assert.Equal(t, []uint64{}, sortedKeys(map[uint64]bool{}))
}
