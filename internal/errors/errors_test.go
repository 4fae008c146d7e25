package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew(t *testing.T) {
	err := New(ErrNotFound, "connection not found")
	assert.Equal(t, ErrNotFound, err.Code)
	assert.Equal(t, "connection not found", err.Message)
	assert.Empty(t, err.Suggestion)
	assert.Nil(t, err.Cause)
}

func TestNewWithSuggestion(t *testing.T) {
	err := NewWithSuggestion(ErrAuthFailed, "auth rejected", "Check the stored password")
	assert.Equal(t, ErrAuthFailed, err.Code)
	assert.Equal(t, "Check the stored password", err.Suggestion)
}

func TestWrap(t *testing.T) {
	cause := stderrors.New("connection refused")
	err := Wrap(cause, "dial failed")

	assert.Equal(t, ErrSSH, err.Code)
	assert.Equal(t, cause, err.Cause)
	assert.Equal(t, cause, stderrors.Unwrap(err))
}

func TestWrapWithCode(t *testing.T) {
	cause := stderrors.New("EOF")
	err := WrapWithCode(cause, ErrRemoteChannel, "channel closed")

	assert.Equal(t, ErrRemoteChannel, err.Code)
	assert.Contains(t, err.Error(), "channel closed")
	assert.Contains(t, err.Error(), "EOF")
}

func TestErrorString(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "without cause",
			err:  New(ErrValidation, "pid must be numeric"),
			want: "[VALIDATION] pid must be numeric",
		},
		{
			name: "with cause",
			err:  WrapWithCode(stderrors.New("no such file"), ErrConfig, "cannot read config"),
			want: "[CONFIG] cannot read config: no such file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestIsCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code string
		want bool
	}{
		{
			name: "matching code",
			err:  New(ErrDuplicateSession, "session exists"),
			code: ErrDuplicateSession,
			want: true,
		},
		{
			name: "different code",
			err:  New(ErrNotFound, "missing"),
			code: ErrDuplicateSession,
			want: false,
		},
		{
			name: "plain error",
			err:  stderrors.New("plain"),
			code: ErrSSH,
			want: false,
		},
		{
			name: "nil error",
			err:  nil,
			code: ErrSSH,
			want: false,
		},
		{
			name: "wrapped structured error",
			err:  fmt.Errorf("outer: %w", New(ErrNotFound, "missing")),
			code: ErrNotFound,
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsCode(tt.err, tt.code))
		})
	}
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, "", CodeOf(nil))
	assert.Equal(t, ErrNotFound, CodeOf(New(ErrNotFound, "missing")))
	assert.Equal(t, ErrSSH, CodeOf(stderrors.New("plain")))
}
