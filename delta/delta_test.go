package delta

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilderMergesAdjacentOps(t *testing.T) {
	d := New().Insert("Hel", nil).Insert("lo", nil).Retain(2, nil).Retain(3, nil).Delete(1).Delete(2)

	require.Len(t, d.Ops, 3)
	assert.Equal(t, Insert{Text: "Hello"}, d.Ops[0])
	assert.Equal(t, Retain{N: 5}, d.Ops[1])
	assert.Equal(t, Delete{N: 3}, d.Ops[2])
}

func TestBuilderKeepsDistinctAttributes(t *testing.T) {
	d := New().
		Insert("a", Attributes{"bold": true}).
		Insert("b", nil).
		Retain(1, Attributes{"italic": true}).
		Retain(1, nil)

	assert.Len(t, d.Ops, 4)
}

func TestBuilderDropsZeroLengthOps(t *testing.T) {
	d := New().Retain(0, nil).Insert("", nil).Delete(0)
	assert.True(t, d.IsEmpty())
}

func TestLengths(t *testing.T) {
	d := New().Retain(3, nil).Insert("año", nil).Delete(2)

	assert.Equal(t, 6, d.Length(), "retain + insert, runes not bytes")
	assert.Equal(t, 5, d.BaseLength(), "retain + delete")

	embed := New().InsertEmbed(map[string]any{"image": "https://x/y.png"}, nil)
	assert.Equal(t, 1, embed.Length())
}

func TestInsertOnly(t *testing.T) {
	assert.True(t, New().Insert("doc", nil).InsertOnly())
	assert.True(t, New().InsertOnly())
	assert.False(t, New().Retain(1, nil).InsertOnly())
	assert.False(t, New().Insert("x", nil).Delete(1).InsertOnly())
}

func TestMarshalRoundTrip(t *testing.T) {
	d := New().
		Retain(5, nil).
		Insert("hi", Attributes{"bold": true}).
		InsertEmbed(map[string]any{"image": "https://x/y.png"}, nil).
		Delete(2)

	data, err := json.Marshal(d)
	require.NoError(t, err)

	got, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, d, got)
}

func TestMarshalWireShape(t *testing.T) {
	d := New().Retain(1, nil).Insert("x", nil).Delete(2)
	data, err := json.Marshal(d)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"retain":1},{"insert":"x"},{"delete":2}]`, string(data))
}

func TestParseRejectsMalformedOps(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"NotAnArray", `"not-an-array"`},
		{"EmptyOp", `[{}]`},
		{"TwoKinds", `[{"retain":1,"delete":1}]`},
		{"ZeroRetain", `[{"retain":0}]`},
		{"NegativeDelete", `[{"delete":-2}]`},
		{"EmptyInsert", `[{"insert":""}]`},
		{"NumericInsert", `[{"insert":42}]`},
		{"DeleteWithAttributes", `[{"delete":1,"attributes":{"bold":true}}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.in))
			assert.Error(t, err)
		})
	}
}

func TestText(t *testing.T) {
	d := New().
		Insert("Hello", nil).
		InsertEmbed(map[string]any{"image": "u"}, nil).
		Insert("!", nil)
	assert.Equal(t, "Hello￼!", d.Text())
}
