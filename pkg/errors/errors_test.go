package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	err := New(ErrorTypeServer, "upstream unavailable")

	require.NotNil(t, err)
	assert.Equal(t, ErrorTypeServer, err.Type)
	assert.Equal(t, "server: upstream unavailable", err.Error())
	assert.NotEmpty(t, err.Stack)
}

func TestWrapPreservesCause(t *testing.T) {
	cause := fmt.Errorf("connection reset")
	err := Wrap(cause, ErrorTypeServer, "request failed")

	require.NotNil(t, err)
	assert.Equal(t, cause, err.Unwrap())
	assert.Contains(t, err.Error(), "connection reset")

	assert.Nil(t, Wrap(nil, ErrorTypeServer, "ignored"))
}

func TestWrapThroughForeignError(t *testing.T) {
	inner := New(ErrorTypeRateLimit, "rate limit exceeded")
	wrapped := fmt.Errorf("attempt 8: %w", inner)

	assert.True(t, IsType(wrapped, ErrorTypeRateLimit))
	assert.Equal(t, ErrorTypeRateLimit, GetType(wrapped))
}

func TestWithDetail(t *testing.T) {
	err := New(ErrorTypeRateLimit, "rate limit exceeded").
		WithDetail("status_code", 429).
		WithDetail("body", "slow down")

	v, ok := err.Detail("status_code")
	require.True(t, ok)
	assert.Equal(t, 429, v)

	_, ok = err.Detail("missing")
	assert.False(t, ok)
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name      string
		errType   ErrorType
		retryable bool
	}{
		{"server", ErrorTypeServer, true},
		{"client", ErrorTypeClient, true},
		{"unauthorized", ErrorTypeUnauthorized, true},
		{"forbidden", ErrorTypeForbidden, true},
		{"rate limit", ErrorTypeRateLimit, true},
		{"authentication", ErrorTypeAuthentication, false},
		{"schema mismatch", ErrorTypeSchemaMismatch, false},
		{"job failure", ErrorTypeJobFailure, false},
		{"job timeout", ErrorTypeJobTimeout, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.retryable, IsRetryable(New(tt.errType, "x")))
		})
	}

	assert.False(t, IsRetryable(fmt.Errorf("plain error")))
}

func TestAbandonsWindow(t *testing.T) {
	tests := []struct {
		name     string
		errType  ErrorType
		abandons bool
	}{
		{"forbidden", ErrorTypeForbidden, true},
		{"rate limit", ErrorTypeRateLimit, true},
		{"server", ErrorTypeServer, true},
		{"job failure", ErrorTypeJobFailure, true},
		{"job timeout", ErrorTypeJobTimeout, true},
		{"client", ErrorTypeClient, false},
		{"authentication", ErrorTypeAuthentication, false},
		{"schema mismatch", ErrorTypeSchemaMismatch, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.abandons, AbandonsWindow(New(tt.errType, "x")))
		})
	}
}

func TestIsFatal(t *testing.T) {
	assert.True(t, IsFatal(New(ErrorTypeAuthentication, "bad credentials")))
	assert.True(t, IsFatal(New(ErrorTypeSchemaMismatch, "unknown field")))
	assert.False(t, IsFatal(New(ErrorTypeServer, "unavailable")))
	assert.False(t, IsFatal(fmt.Errorf("plain error")))
}
