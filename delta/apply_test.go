package delta

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scribe.evalgo.org/common"
)

func TestApplyInsertIntoEmptyDocument(t *testing.T) {
	doc, err := Apply(New(), New().Insert("Hello", nil))
	require.NoError(t, err)
	assert.Equal(t, "Hello", doc.Text())
}

func TestApplyEmptyOpIsNoop(t *testing.T) {
	doc := New().Insert("Hello", nil)
	got, err := Apply(doc, New())
	require.NoError(t, err)
	assert.Equal(t, doc, got)
}

func TestApplyDeleteWholeDocumentEmptiesText(t *testing.T) {
	doc := New().Insert("Hello", nil)
	got, err := Apply(doc, New().Delete(5))
	require.NoError(t, err)
	assert.True(t, got.IsEmpty())
}

func TestApplyInsertPastEndRejected(t *testing.T) {
	doc := New().Insert("Hello", nil)

	// Appending at the exact end is fine.
	got, err := Apply(doc, New().Retain(5, nil).Insert("!", nil))
	require.NoError(t, err)
	assert.Equal(t, "Hello!", got.Text())

	// One past the end is not, and the caller can tell it was the
	// client's edit that was wrong.
	_, err = Apply(doc, New().Retain(6, nil).Insert("!", nil))
	require.Error(t, err)
	assert.True(t, common.IsProtocolError(err))
}

func TestApplyOverlongSpanRejected(t *testing.T) {
	doc := New().Insert("Hi", nil)

	_, err := Apply(doc, New().Delete(3))
	require.Error(t, err)
	assert.True(t, common.IsProtocolError(err))

	_, err = Apply(doc, New().Retain(1, nil).Delete(2))
	require.Error(t, err)
	assert.True(t, common.IsProtocolError(err))
}

func TestApplyRejectsNonDocumentBase(t *testing.T) {
	_, err := Apply(New().Retain(3, nil), New().Insert("x", nil))
	require.Error(t, err)
	assert.True(t, common.IsProtocolError(err))
}

func TestApplyMidDocumentEdit(t *testing.T) {
	doc := New().Insert("Hello world", nil)
	op := New().Retain(5, nil).Delete(6).Insert("!", nil)

	got, err := Apply(doc, op)
	require.NoError(t, err)
	assert.Equal(t, "Hello!", got.Text())
}

func TestApplyUnicodeLengths(t *testing.T) {
	doc := New().Insert("héllo", nil)
	got, err := Apply(doc, New().Retain(2, nil).Delete(1).Insert("L", nil))
	require.NoError(t, err)
	assert.Equal(t, "héLlo", got.Text())
}
