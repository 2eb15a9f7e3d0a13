package reconcile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scribe.evalgo.org/db"
	"scribe.evalgo.org/delta"
)

func TestNewBufferSeedsFromRow(t *testing.T) {
	buf, err := newBuffer(&db.Document{
		ID:        "doc-1",
		Data:      []byte(`[{"insert":"Hello"}]`),
		Version:   7,
		LogOffset: 41,
	}, 100)
	require.NoError(t, err)

	assert.Equal(t, "Hello", buf.content.Text())
	assert.Equal(t, int64(7), buf.version)
	assert.Equal(t, int64(41), buf.logOffset)
	assert.False(t, buf.dirty)
}

func TestNewBufferEmptyAndNullData(t *testing.T) {
	for _, data := range [][]byte{nil, []byte("null")} {
		buf, err := newBuffer(&db.Document{ID: "doc-1", Data: data}, 100)
		require.NoError(t, err)
		assert.True(t, buf.content.IsEmpty())
	}
}

func TestNewBufferRejectsCorruptContent(t *testing.T) {
	_, err := newBuffer(&db.Document{ID: "doc-1", Data: []byte(`{"not":"a delta"}`)}, 100)
	assert.Error(t, err)
}

func TestTransformSinceWindow(t *testing.T) {
	buf, err := newBuffer(&db.Document{ID: "doc-1"}, 100)
	require.NoError(t, err)

	// Server applies "Hello" as version 1.
	op1 := delta.New().Insert("Hello", nil)
	buf.advance(op1, op1, 0, time.Now())

	// A client that saw version 1 edits without needing a transform.
	seen := delta.New().Retain(5, nil).Insert("!", nil)
	assert.Equal(t, seen, buf.transformSince(seen, 1))

	// A client still on version 0 has its front-insert pushed behind
	// the committed text.
	concurrent := delta.New().Insert("Hi ", nil)
	transformed := buf.transformSince(concurrent, 0)
	next, err := delta.Apply(buf.content, transformed)
	require.NoError(t, err)
	assert.Equal(t, "HelloHi ", next.Text())
}

func TestTransformSinceClampsClientVersion(t *testing.T) {
	buf, err := newBuffer(&db.Document{ID: "doc-1"}, 100)
	require.NoError(t, err)
	op := delta.New().Insert("a", nil)
	buf.advance(op, op, 0, time.Now())

	// A version from the future and one from before the ring both get
	// clamped instead of failing.
	future := delta.New().Retain(1, nil).Insert("b", nil)
	assert.Equal(t, future, buf.transformSince(future, 99))

	ancient := delta.New().Insert("z", nil)
	transformed := buf.transformSince(ancient, -50)
	next, err := delta.Apply(buf.content, transformed)
	require.NoError(t, err)
	assert.Equal(t, "az", next.Text())
}

func TestHistoryRingIsBounded(t *testing.T) {
	buf, err := newBuffer(&db.Document{ID: "doc-1"}, 3)
	require.NoError(t, err)

	content := delta.New()
	for i := 0; i < 10; i++ {
		op := delta.New().Retain(content.Length(), nil).Insert("x", nil)
		next, err := delta.Apply(content, op)
		require.NoError(t, err)
		buf.advance(next, op, int64(i), time.Now())
		content = next
	}

	require.Len(t, buf.history, 3)
	assert.Equal(t, int64(10), buf.version)
	assert.Equal(t, int64(8), buf.history[0].version)
	assert.Equal(t, int64(10), buf.history[2].version)
}
