package ot

import (
	"testing"

	"github.com/go-playground/assert/v2"
	"github.com/goccy/go-json"
)

func applyJson(t *testing.T, snapshot any, op ...Json0Component) any {
	out, err := Json0Type.Apply(snapshot, Json0Op(op))
	assert.Equal(t, nil, err)
	return out
}

func TestJson0Apply(t *testing.T) {
	doc := map[string]any{
		"list": []any{"a", "b", "c"},
		"n":    float64(1),
		"s":    "abc",
	}

	assert.Equal(t,
		[]any{"a", "x", "b", "c"},
		applyJson(t, doc, ListInsert(P("list", 1), "x")).(map[string]any)["list"],
	)
	assert.Equal(t,
		[]any{"a", "c"},
		applyJson(t, doc, ListDelete(P("list", 1), "b")).(map[string]any)["list"],
	)
	assert.Equal(t,
		[]any{"a", "y", "c"},
		applyJson(t, doc, ListReplace(P("list", 1), "b", "y")).(map[string]any)["list"],
	)
	assert.Equal(t,
		[]any{"b", "c", "a"},
		applyJson(t, doc, ListMove(P("list", 0), 2)).(map[string]any)["list"],
	)
	assert.Equal(t,
		float64(3.5),
		applyJson(t, doc, NumberAdd(P("n"), 2.5)).(map[string]any)["n"],
	)
	assert.Equal(t,
		"aXbc",
		applyJson(t, doc, StringInsert(P("s", 1), "X")).(map[string]any)["s"],
	)
	assert.Equal(t,
		"c",
		applyJson(t, doc, StringDelete(P("s", 0), "ab")).(map[string]any)["s"],
	)

	out := applyJson(t, doc, ObjectInsert(P("k"), map[string]any{"x": true}), ObjectDelete(P("n"), float64(1)))
	assert.Equal(t, map[string]any{"x": true}, out.(map[string]any)["k"])
	_, ok := out.(map[string]any)["n"]
	assert.Equal(t, false, ok)

	// the input snapshot is untouched
	assert.Equal(t, []any{"a", "b", "c"}, doc["list"])
	assert.Equal(t, float64(1), doc["n"])
	_, ok = doc["k"]
	assert.Equal(t, false, ok)
}

func TestJson0ApplyRoot(t *testing.T) {
	out := applyJson(t, nil, ObjectInsert(P(), map[string]any{"a": float64(1)}))
	assert.Equal(t, map[string]any{"a": float64(1)}, out)

	out = applyJson(t, map[string]any{"a": float64(1)}, ObjectReplace(P(), map[string]any{"a": float64(1)}, []any{}))
	assert.Equal(t, []any{}, out)
}

func TestJson0ApplyBadPath(t *testing.T) {
	_, err := Json0Type.Apply(map[string]any{}, Json0Op{ListInsert(P("missing", 0), "x")})
	assert.NotEqual(t, nil, err)

	_, err = Json0Type.Apply(map[string]any{"s": "ab"}, Json0Op{StringDelete(P("s", 0), "xy")})
	assert.NotEqual(t, nil, err)
}

func TestJson0Compose(t *testing.T) {
	out, err := Json0Type.Compose(
		Json0Op{NumberAdd(P("n"), 1)},
		Json0Op{NumberAdd(P("n"), 2), ListMove(P("l", 1), 1)},
	)
	assert.Equal(t, nil, err)
	// adds merge, no-op moves drop
	assert.Equal(t, Json0Op{NumberAdd(P("n"), 3)}, out)
}

func TestJson0TransformListInsertDelete(t *testing.T) {
	doc := []any{"a", "b", "c"}
	client := Json0Op{ListInsert(P(2), "x")}
	server := Json0Op{ListDelete(P(0), "a")}

	client_, server_, err := Json0Type.TransformX(client, server)
	assert.Equal(t, nil, err)
	assert.Equal(t, Json0Op{ListInsert(P(1), "x")}, client_)
	assert.Equal(t, server, server_)

	want := []any{"b", "x", "c"}
	assert.Equal(t, want, applyJson(t, applyJson(t, doc, server...), client_.(Json0Op)...))
	assert.Equal(t, want, applyJson(t, applyJson(t, doc, client...), server_.(Json0Op)...))
}

func TestJson0TransformStringInsert(t *testing.T) {
	doc := map[string]any{"s": "abc"}
	client := Json0Op{StringInsert(P("s", 1), "X")}
	server := Json0Op{StringInsert(P("s", 1), "Y")}

	client_, server_, err := Json0Type.TransformX(client, server)
	assert.Equal(t, nil, err)
	assert.Equal(t, Json0Op{StringInsert(P("s", 1), "X")}, client_)
	assert.Equal(t, Json0Op{StringInsert(P("s", 2), "Y")}, server_)

	want := map[string]any{"s": "aXYbc"}
	assert.Equal(t, want, applyJson(t, applyJson(t, doc, server...), client_.(Json0Op)...))
	assert.Equal(t, want, applyJson(t, applyJson(t, doc, client...), server_.(Json0Op)...))
}

func TestJson0TransformStringDeletes(t *testing.T) {
	doc := map[string]any{"s": "abcdef"}
	client := Json0Op{StringDelete(P("s", 1), "bcd")}
	server := Json0Op{StringDelete(P("s", 2), "cde")}

	client_, server_, err := Json0Type.TransformX(client, server)
	assert.Equal(t, nil, err)
	assert.Equal(t, Json0Op{StringDelete(P("s", 1), "b")}, client_)
	assert.Equal(t, Json0Op{StringDelete(P("s", 1), "e")}, server_)

	want := map[string]any{"s": "af"}
	assert.Equal(t, want, applyJson(t, applyJson(t, doc, server...), client_.(Json0Op)...))
	assert.Equal(t, want, applyJson(t, applyJson(t, doc, client...), server_.(Json0Op)...))
}

func TestJson0TransformObjectInsertConflict(t *testing.T) {
	doc := map[string]any{}
	client := Json0Op{ObjectInsert(P("k"), "a")}
	server := Json0Op{ObjectInsert(P("k"), "b")}

	client_, server_, err := Json0Type.TransformX(client, server)
	assert.Equal(t, nil, err)
	assert.Equal(t, Json0Op{}, server_)

	// the client value wins on both sides
	want := map[string]any{"k": "a"}
	assert.Equal(t, want, applyJson(t, applyJson(t, doc, server...), client_.(Json0Op)...))
	assert.Equal(t, want, applyJson(t, applyJson(t, doc, client...), server_.(Json0Op)...))
}

func TestJson0TransformDeleteInvertible(t *testing.T) {
	// the server edits inside an element the client deletes
	client := Json0Op{ListDelete(P(0), map[string]any{"n": float64(1)})}
	server := Json0Op{NumberAdd(P(0, "n"), 2)}

	client_, server_, err := Json0Type.TransformX(client, server)
	assert.Equal(t, nil, err)
	assert.Equal(t, Json0Op{ListDelete(P(0), map[string]any{"n": float64(3)})}, client_)
	assert.Equal(t, Json0Op{}, server_)
}

func TestJson0TransformSide(t *testing.T) {
	a := Json0Op{ListInsert(P(0), "a")}
	b := Json0Op{ListInsert(P(0), "b")}

	left, err := Json0Type.Transform(a, b, SideLeft)
	assert.Equal(t, nil, err)
	assert.Equal(t, Json0Op{ListInsert(P(0), "a")}, left)

	right, err := Json0Type.Transform(a, b, SideRight)
	assert.Equal(t, nil, err)
	assert.Equal(t, Json0Op{ListInsert(P(1), "a")}, right)
}

func TestTransformPath(t *testing.T) {
	// moved element
	path, ok := TransformPath(P(2, "name"), ListMove(P(2), 0))
	assert.Equal(t, true, ok)
	assert.Equal(t, P(0, "name"), path)

	// shifted by an insert before it
	path, ok = TransformPath(P(1), ListInsert(P(0), "x"))
	assert.Equal(t, true, ok)
	assert.Equal(t, P(2), path)

	// unrelated
	path, ok = TransformPath(P("a", "b"), ObjectInsert(P("c"), "x"))
	assert.Equal(t, true, ok)
	assert.Equal(t, P("a", "b"), path)

	// parent deleted
	_, ok = TransformPath(P(1, "x"), ListDelete(P(1), map[string]any{}))
	assert.Equal(t, false, ok)

	// replaced
	_, ok = TransformPath(P("a"), ObjectReplace(P("a"), "x", "y"))
	assert.Equal(t, false, ok)
}

func TestCanOpAffectPath(t *testing.T) {
	assert.Equal(t, true, CanOpAffectPath(StringInsert(P("a", "s", 0), "x"), P("a", "s")))
	assert.Equal(t, true, CanOpAffectPath(ObjectInsert(P("a", "t"), "x"), P("a", "s")))
	assert.Equal(t, false, CanOpAffectPath(ObjectInsert(P("b", "t"), "x"), P("a", "s")))
	assert.Equal(t, true, CanOpAffectPath(ObjectInsert(P(), "x"), P("a", "s")))
}

func TestJson0ComponentJson(t *testing.T) {
	var op Json0Op
	err := json.Unmarshal([]byte(`[{"p":["a",1],"li":null},{"p":["n"],"na":2},{"p":["s",3],"si":"x"}]`), &op)
	assert.Equal(t, nil, err)
	assert.Equal(t, Json0Op{
		ListInsert(P("a", 1), nil),
		NumberAdd(P("n"), 2),
		StringInsert(P("s", 3), "x"),
	}, op)

	b, err := json.Marshal(ObjectInsert(P("k", 0), "v"))
	assert.Equal(t, nil, err)
	assert.Equal(t, `{"oi":"v","p":["k",0]}`, string(b))
}

func TestParsePath(t *testing.T) {
	path, err := ParsePath("a.0.b")
	assert.Equal(t, nil, err)
	assert.Equal(t, P("a", 0, "b"), path)

	path, err = ParsePath("")
	assert.Equal(t, nil, err)
	assert.Equal(t, Path{}, path)

	_, err = ParsePath("a..b")
	assert.NotEqual(t, nil, err)
}
