package brokererrors

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Error(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "error with cause",
			err:  &Error{Type: ErrInvalidState, Message: "test message", Cause: errors.New("underlying error")},
			want: "INVALID_STATE: test message: underlying error",
		},
		{
			name: "error without cause",
			err:  &Error{Type: ErrInternal, Message: "test message", Cause: nil},
			want: "INTERNAL: test message",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	t.Parallel()

	cause := errors.New("underlying error")
	err := &Error{Type: ErrInternal, Message: "test message", Cause: cause}
	assert.Equal(t, cause, err.Unwrap())

	errNoCause := &Error{Type: ErrInternal, Message: "test message"}
	assert.Nil(t, errNoCause.Unwrap())
}

func TestNewErrorConstructors(t *testing.T) {
	t.Parallel()

	cause := errors.New("cause")
	tests := []struct {
		name        string
		constructor func(string, error) *Error
		wantType    Kind
		wantStatus  int
	}{
		{"NewBackpressureError", NewBackpressureError, ErrBackpressure, http.StatusServiceUnavailable},
		{"NewInvalidStateError", NewInvalidStateError, ErrInvalidState, http.StatusBadRequest},
		{"NewIDTokenInvalidError", NewIDTokenInvalidError, ErrIDTokenInvalid, http.StatusBadRequest},
		{"NewNoTeamAssignmentError", NewNoTeamAssignmentError, ErrNoTeamAssignment, http.StatusForbidden},
		{"NewInvalidTeamSelectionError", NewInvalidTeamSelectionError, ErrInvalidTeamSelection, http.StatusBadRequest},
		{"NewSessionNotFoundError", NewSessionNotFoundError, ErrSessionNotFound, http.StatusNotFound},
		{"NewSessionNotReadyError", NewSessionNotReadyError, ErrSessionNotReady, http.StatusConflict},
		{"NewSessionExpiredError", NewSessionExpiredError, ErrSessionExpired, http.StatusGone},
		{"NewSessionAlreadyUsedError", NewSessionAlreadyUsedError, ErrSessionAlreadyUsed, http.StatusConflict},
		{"NewIDPUnreachableError", NewIDPUnreachableError, ErrIDPUnreachable, http.StatusBadGateway},
		{"NewVaultUnreachableError", NewVaultUnreachableError, ErrVaultUnreachable, http.StatusBadGateway},
		{"NewVaultAuthRejectedError", NewVaultAuthRejectedError, ErrVaultAuthRejected, http.StatusBadGateway},
		{"NewVaultPolicyDeniedError", NewVaultPolicyDeniedError, ErrVaultPolicyDenied, http.StatusBadGateway},
		{"NewInternalError", NewInternalError, ErrInternal, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.constructor("test message", cause)
			assert.Equal(t, tt.wantType, err.Type)
			assert.Equal(t, "test message", err.Message)
			assert.Equal(t, cause, err.Cause)
			assert.Equal(t, tt.wantStatus, err.StatusCode())
		})
	}
}

func TestIs(t *testing.T) {
	t.Parallel()

	assert.True(t, Is(NewSessionExpiredError("x", nil), ErrSessionExpired))
	assert.False(t, Is(NewSessionExpiredError("x", nil), ErrInternal))
	assert.False(t, Is(errors.New("plain"), ErrInternal))
	assert.False(t, Is(nil, ErrInternal))
}
