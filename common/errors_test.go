package common

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorKindDetection(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind ErrorKind
		want bool
	}{
		{"DirectAuth", NewAuthError("token expired", nil), KindAuth, true},
		{"WrongKind", NewAuthError("token expired", nil), KindProtocol, false},
		{"WrappedProtocol", fmt.Errorf("handling event: %w", NewProtocolError("bad payload", nil)), KindProtocol, true},
		{"DeeplyWrapped", fmt.Errorf("outer: %w", fmt.Errorf("inner: %w", NewPersistenceError("flush failed", errors.New("io")))), KindPersistence, true},
		{"PlainError", errors.New("plain"), KindFatal, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HasKind(tt.err, tt.kind))
		})
	}
}

func TestErrorMessageIncludesKindAndCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewTransientError("redis publish", cause)

	assert.Equal(t, "transient: redis publish: connection refused", err.Error())
	assert.ErrorIs(t, err, cause)
}

func TestErrorWithoutCause(t *testing.T) {
	err := NewAuthorisationError("no access to document", nil)
	assert.Equal(t, "authorisation: no access to document", err.Error())
	assert.True(t, IsAuthorisationError(err))
	assert.False(t, IsAuthError(err))
}

func TestFatalPredicate(t *testing.T) {
	assert.True(t, IsFatalError(NewFatalError("jwt secret missing", nil)))
	assert.False(t, IsFatalError(NewProtocolError("bad frame", nil)))
}
