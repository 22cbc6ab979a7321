package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorClassString(t *testing.T) {
	tests := []struct {
		class ErrorClass
		want  string
	}{
		{ErrorInvalid, "invalid"},
		{ErrorNotFound, "not_found"},
		{ErrorUnauthenticated, "unauthenticated"},
		{ErrorUpstream, "upstream"},
		{ErrorTransport, "transport"},
		{ErrorFatal, "fatal"},
		{ErrorClass(99), "unknown"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.class.String())
	}
}

func TestWrapFormatsContext(t *testing.T) {
	base := errors.New("boom")
	err := Wrap(base, "Server", "Start", "listener bind")
	require.Error(t, err)
	assert.Equal(t, "Server.Start: listener bind failed: boom", err.Error())
	assert.True(t, errors.Is(err, base))
}

func TestWrapNilReturnsNil(t *testing.T) {
	assert.NoError(t, Wrap(nil, "c", "m", "a"))
	assert.NoError(t, WrapInvalid(nil, "c", "m", "a"))
	assert.NoError(t, WrapFatal(nil, "c", "m", "a"))
}

func TestClassifiedWrapping(t *testing.T) {
	tests := []struct {
		name  string
		wrap  func(error, string, string, string) error
		check func(error) bool
		class ErrorClass
	}{
		{"invalid", WrapInvalid, IsInvalid, ErrorInvalid},
		{"not found", WrapNotFound, IsNotFound, ErrorNotFound},
		{"unauthenticated", WrapUnauthenticated, IsUnauthenticated, ErrorUnauthenticated},
		{"upstream", WrapUpstream, IsUpstream, ErrorUpstream},
		{"transport", WrapTransport, IsTransport, ErrorTransport},
		{"fatal", WrapFatal, IsFatal, ErrorFatal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base := errors.New("base failure")
			err := tt.wrap(base, "Component", "Method", "action")
			require.Error(t, err)

			assert.True(t, tt.check(err))
			assert.Equal(t, tt.class, Classify(err))
			assert.True(t, errors.Is(err, base), "cause must be retained")

			var ce *ClassifiedError
			require.True(t, errors.As(err, &ce))
			assert.Equal(t, "Component", ce.Component)
			assert.Equal(t, "Method", ce.Operation)
		})
	}
}

func TestClassificationSurvivesFurtherWrapping(t *testing.T) {
	err := WrapUnauthenticated(ErrTokenExpired, "Auth", "Resolve", "token verification")
	outer := fmt.Errorf("request failed: %w", err)

	assert.True(t, IsUnauthenticated(outer))
	assert.True(t, errors.Is(outer, ErrTokenExpired))
	assert.Equal(t, ErrorUnauthenticated, Classify(outer))
}

func TestSentinelClassification(t *testing.T) {
	assert.True(t, IsUnauthenticated(ErrInvalidCredential))
	assert.True(t, IsUnauthenticated(ErrTokenExpired))
	assert.True(t, IsInvalid(ErrInvalidConfig))
	assert.True(t, IsTransport(ErrUnsupportedOperation))
	assert.True(t, IsFatal(ErrSchemaCompilation))
}

func TestUnclassifiedDefaultsToUpstream(t *testing.T) {
	err := errors.New("some dependency exploded")
	assert.Equal(t, ErrorUpstream, Classify(err))
	assert.True(t, IsUpstream(err))
	assert.False(t, IsNotFound(err))
	assert.False(t, IsFatal(err))
}

func TestNilErrorChecks(t *testing.T) {
	assert.False(t, IsInvalid(nil))
	assert.False(t, IsNotFound(nil))
	assert.False(t, IsUnauthenticated(nil))
	assert.False(t, IsUpstream(nil))
	assert.False(t, IsTransport(nil))
	assert.False(t, IsFatal(nil))
}
