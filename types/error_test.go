package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewError_Defaults(t *testing.T) {
	e := NewError(ErrParse, "bad json")
	assert.Equal(t, SeverityMedium, e.Severity)
	assert.True(t, e.Retryable)

	// Missing API key is the one non-retryable code out of the box.
	e = NewError(ErrNoAPIKey, "no key")
	assert.False(t, e.Retryable)
}

func TestError_WrappingAndUnwrap(t *testing.T) {
	cause := errors.New("root cause")
	e := NewError(ErrAPI, "provider failed").WithCause(cause)

	assert.ErrorIs(t, e, cause)
	assert.Contains(t, e.Error(), "provider failed")

	wrapped := fmt.Errorf("outer: %w", e)
	var te *Error
	require.True(t, errors.As(wrapped, &te))
	assert.Equal(t, ErrAPI, te.Code)
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(NewError(ErrTimeout, "t")))
	assert.False(t, IsRetryable(NewError(ErrNoAPIKey, "k")))
	assert.False(t, IsRetryable(NewError(ErrTimeout, "t").WithRetryable(false)))
	// Untyped errors are assumed retryable.
	assert.True(t, IsRetryable(errors.New("anything")))
	assert.False(t, IsRetryable(nil))
}

func TestGetErrorCode(t *testing.T) {
	assert.Equal(t, ErrRateLimit, GetErrorCode(NewError(ErrRateLimit, "r")))
	assert.Equal(t, ErrUnknown, GetErrorCode(errors.New("x")))
	assert.Equal(t, ErrorCode(""), GetErrorCode(nil))
}
