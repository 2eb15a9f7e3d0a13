package db

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenRequiresDSN(t *testing.T) {
	_, err := Open(Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dsn")
}

func TestFingerprintStableAndDistinct(t *testing.T) {
	op := json.RawMessage(`[{"insert":"Hello"}]`)
	a := OperationalTransform{
		DocumentID: "doc-1",
		UserID:     "user-1",
		Operation:  op,
		Version:    3,
		Timestamp:  time.Now(),
	}
	b := a // same content, different receipt time
	b.Timestamp = a.Timestamp.Add(time.Minute)

	assert.Equal(t, Fingerprint(&a), Fingerprint(&b),
		"re-flushed records must collide on the duplicate-skip key")

	c := a
	c.Version = 4
	assert.NotEqual(t, Fingerprint(&a), Fingerprint(&c))

	d := a
	d.Operation = json.RawMessage(`[{"insert":"Hello!"}]`)
	assert.NotEqual(t, Fingerprint(&a), Fingerprint(&d))

	e := a
	e.UserID = "user-2"
	assert.NotEqual(t, Fingerprint(&a), Fingerprint(&e))
}
