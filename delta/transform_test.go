package delta

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransformNoopIdentity(t *testing.T) {
	op := New().Retain(2, nil).Insert("x", nil).Delete(1)
	assert.Equal(t, op, Transform(op, New(), Left))
	assert.Equal(t, op, Transform(op, New(), Right))
}

// The convergence law: for concurrent a and b on the same base,
// apply(apply(d,a), transform(b,a,Right)) == apply(apply(d,b), transform(a,b,Left)).
func TestTransformConvergence(t *testing.T) {
	tests := []struct {
		name string
		doc  *Delta
		a    *Delta
		b    *Delta
		want string
	}{
		{
			name: "InsertsAtSamePosition",
			doc:  New().Insert("Hello", nil),
			a:    New().Retain(5, nil).Insert(" world", nil),
			b:    New().Retain(5, nil).Insert("!", nil),
			want: "Hello! world",
		},
		{
			name: "InsertsAtDifferentPositions",
			doc:  New().Insert("Hello", nil),
			a:    New().Insert(">", nil),
			b:    New().Retain(5, nil).Insert("!", nil),
			want: ">Hello!",
		},
		{
			name: "InsertAgainstDelete",
			doc:  New().Insert("Hello", nil),
			a:    New().Retain(2, nil).Delete(3),
			b:    New().Retain(5, nil).Insert("!", nil),
			want: "He!",
		},
		{
			name: "OverlappingDeletes",
			doc:  New().Insert("Hello", nil),
			a:    New().Delete(3),
			b:    New().Delete(5),
			want: "",
		},
		{
			name: "ConcurrentFormatAndInsert",
			doc:  New().Insert("Hello", nil),
			a:    New().Retain(5, Attributes{"bold": true}),
			b:    New().Retain(5, nil).Insert("!", nil),
			want: "Hello!",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			afterA, err := Apply(tt.doc, tt.a)
			require.NoError(t, err)
			left, err := Apply(afterA, Transform(tt.b, tt.a, Right))
			require.NoError(t, err)

			afterB, err := Apply(tt.doc, tt.b)
			require.NoError(t, err)
			right, err := Apply(afterB, Transform(tt.a, tt.b, Left))
			require.NoError(t, err)

			assert.Equal(t, left, right, "both orders must converge")
			assert.Equal(t, tt.want, left.Text())
		})
	}
}

func TestTransformTieBreak(t *testing.T) {
	// Both sides insert at position 5 of "Hello". With Left the other
	// op's text stays first; with Right ours does.
	a := New().Retain(5, nil).Insert(" world", nil)
	b := New().Retain(5, nil).Insert("!", nil)

	bLosesTie := Transform(b, a, Left)
	assert.Equal(t, New().Retain(11, nil).Insert("!", nil), bLosesTie)

	bWinsTie := Transform(b, a, Right)
	assert.Equal(t, New().Retain(5, nil).Insert("!", nil), bWinsTie)
}

func TestTransformAgainstDeletedSpan(t *testing.T) {
	// The other op removed the exact span ours wanted to delete.
	ours := New().Retain(2, nil).Delete(3)
	other := New().Retain(2, nil).Delete(3)

	got := Transform(ours, other, Left)
	assert.True(t, got.IsEmpty())
}

func TestTransformAttributePriority(t *testing.T) {
	theirs := New().Retain(3, Attributes{"bold": true})
	ours := New().Retain(3, Attributes{"bold": false, "italic": true})

	// Left: their bold wins, our italic survives.
	got := Transform(ours, theirs, Left)
	assert.Equal(t, New().Retain(3, Attributes{"italic": true}), got)

	// Right: ours wins unchanged.
	got = Transform(ours, theirs, Right)
	assert.Equal(t, ours, got)
}

// History replay as the reconciler does it: transform an incoming op
// against every newer reconciled op in order, then apply.
func TestTransformSequentialHistoryReplay(t *testing.T) {
	doc := New().Insert("abc", nil)

	h1 := New().Retain(3, nil).Insert("d", nil) // abc -> abcd
	h2 := New().Delete(1)                       // abcd -> bcd

	doc, err := Apply(doc, h1)
	require.NoError(t, err)
	doc, err = Apply(doc, h2)
	require.NoError(t, err)
	require.Equal(t, "bcd", doc.Text())

	// Concurrent edit based before h1: insert "X" after "a".
	op := New().Retain(1, nil).Insert("X", nil)
	op = Transform(op, h1, Left)
	op = Transform(op, h2, Left)

	doc, err = Apply(doc, op)
	require.NoError(t, err)
	assert.Equal(t, "Xbcd", doc.Text())
}
