package ot

import (
	"errors"
	"testing"

	"github.com/go-playground/assert/v2"
	"github.com/goccy/go-json"
)

func applyText(t *testing.T, s string, op TextOp) string {
	out, err := TextType.Apply(s, op)
	assert.Equal(t, nil, err)
	return out.(string)
}

func TestTextApply(t *testing.T) {
	assert.Equal(t, "aXc", applyText(t, "abc", TextOp{TextSkip(1), TextInsert("X"), TextDelete(1)}))
	assert.Equal(t, "abc!", applyText(t, "abc", TextOp{TextSkip(3), TextInsert("!")}))
	assert.Equal(t, "", applyText(t, "abc", TextOp{TextDelete(3)}))
	// offsets count runes
	assert.Equal(t, "héllo", applyText(t, "hé", TextOp{TextSkip(2), TextInsert("llo")}))

	// a trailing skip must fit the snapshot
	assert.Equal(t, "Xabc", applyText(t, "abc", TextOp{TextInsert("X"), TextSkip(3)}))

	_, err := TextType.Apply("abc", TextOp{TextSkip(4)})
	assert.Equal(t, true, errors.Is(err, ErrTextOpOutOfBounds))
	_, err = TextType.Apply("abc", TextOp{TextInsert("X"), TextSkip(4)})
	assert.Equal(t, true, errors.Is(err, ErrTextOpOutOfBounds))
	_, err = TextType.Apply("abc", []TextComponent{TextSkip(2), TextInsert("X"), TextSkip(2)})
	assert.Equal(t, true, errors.Is(err, ErrTextOpOutOfBounds))
	_, err = TextType.Apply("abc", TextOp{TextSkip(1), TextDelete(3)})
	assert.Equal(t, true, errors.Is(err, ErrTextOpOutOfBounds))
}

func TestTextCompose(t *testing.T) {
	run := func(a TextOp, b TextOp, want TextOp) {
		out, err := TextType.Compose(a, b)
		assert.Equal(t, nil, err)
		assert.Equal(t, want, out)
	}

	run(
		TextOp{TextSkip(1), TextInsert("X")},
		TextOp{TextSkip(3), TextInsert("Y")},
		TextOp{TextSkip(1), TextInsert("X"), TextSkip(1), TextInsert("Y")},
	)
	// inserted then deleted
	run(
		TextOp{TextInsert("ab")},
		TextOp{TextDelete(1)},
		TextOp{TextInsert("b")},
	)
	run(
		TextOp{TextDelete(1)},
		TextOp{TextDelete(1)},
		TextOp{TextDelete(2)},
	)
	run(
		TextOp{TextSkip(2), TextInsert("c")},
		TextOp{TextSkip(3), TextInsert("d")},
		TextOp{TextSkip(2), TextInsert("cd")},
	)
}

func TestTextComposeMatchesSequentialApply(t *testing.T) {
	doc := "hello world"
	a := TextOp{TextSkip(5), TextInsert(","), TextSkip(1), TextDelete(5), TextInsert("there")}
	b := TextOp{TextDelete(1), TextInsert("H"), TextSkip(11), TextInsert("!")}

	composed, err := TextType.Compose(a, b)
	assert.Equal(t, nil, err)

	sequential := applyText(t, applyText(t, doc, a), b)
	assert.Equal(t, "Hello, there!", sequential)
	assert.Equal(t, sequential, applyText(t, doc, composed.(TextOp)))
}

func TestTextTransform(t *testing.T) {
	run := func(doc string, a TextOp, b TextOp, want string) {
		a_, err := TextType.Transform(a, b, SideLeft)
		assert.Equal(t, nil, err)
		b_, err := TextType.Transform(b, a, SideRight)
		assert.Equal(t, nil, err)

		ab := applyText(t, applyText(t, doc, a), b_.(TextOp))
		ba := applyText(t, applyText(t, doc, b), a_.(TextOp))
		assert.Equal(t, want, ab)
		assert.Equal(t, want, ba)
	}

	// insert-insert at the same position, left first
	run("abc", TextOp{TextSkip(1), TextInsert("X")}, TextOp{TextSkip(1), TextInsert("Y")}, "aXYbc")
	run("abc", TextOp{TextSkip(1), TextInsert("Y")}, TextOp{TextSkip(1), TextInsert("X")}, "aYXbc")
	run("abc", TextOp{TextInsert("X")}, TextOp{TextSkip(3), TextInsert("Y")}, "XabcY")

	// insert-delete
	run("abcdef", TextOp{TextSkip(2), TextInsert("X")}, TextOp{TextSkip(1), TextDelete(3)}, "aXef")
	run("abcdef", TextOp{TextSkip(1), TextDelete(3)}, TextOp{TextSkip(2), TextInsert("X")}, "aXef")

	// overlapping deletes
	run("abcdef", TextOp{TextSkip(1), TextDelete(3)}, TextOp{TextSkip(2), TextDelete(3)}, "af")
	run("abcdef", TextOp{TextDelete(6)}, TextOp{TextSkip(2), TextDelete(1)}, "")
	run("abcdef", TextOp{TextSkip(2), TextDelete(2)}, TextOp{TextSkip(2), TextDelete(2)}, "abef")
}

func TestTextTransformOverlappingDeletes(t *testing.T) {
	a := TextOp{TextSkip(1), TextDelete(3)}
	b := TextOp{TextSkip(2), TextDelete(3)}

	a_, err := TextType.Transform(a, b, SideLeft)
	assert.Equal(t, nil, err)
	assert.Equal(t, TextOp{TextSkip(1), TextDelete(1)}, a_)

	b_, err := TextType.Transform(b, a, SideRight)
	assert.Equal(t, nil, err)
	assert.Equal(t, TextOp{TextSkip(1), TextDelete(1)}, b_)
}

func TestTextOpJson(t *testing.T) {
	op := TextOp{TextSkip(2), TextInsert("hi"), TextDelete(3)}
	b, err := json.Marshal(op)
	assert.Equal(t, nil, err)
	assert.Equal(t, `[2,"hi",{"d":3}]`, string(b))

	decoded, err := TextType.DecodeOp(json.RawMessage(`[2,"h","i",{"d":3},4]`))
	assert.Equal(t, nil, err)
	// normalized
	assert.Equal(t, op, decoded)

	snapshot, err := TextType.DecodeSnapshot(json.RawMessage(`null`))
	assert.Equal(t, nil, err)
	assert.Equal(t, "", snapshot)
}
