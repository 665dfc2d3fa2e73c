// Package brokererrors defines the closed error taxonomy the broker's HTTP
// boundary converts every internal failure into before it reaches a client.
package brokererrors

import "net/http"

// Kind identifies one of the broker's wire-visible error categories.
type Kind string

const (
	ErrBackpressure         Kind = "BACKPRESSURE"
	ErrInvalidState         Kind = "INVALID_STATE"
	ErrIDTokenInvalid       Kind = "ID_TOKEN_INVALID"
	ErrNoTeamAssignment     Kind = "NO_TEAM_ASSIGNMENT"
	ErrInvalidTeamSelection Kind = "INVALID_TEAM_SELECTION"
	ErrSessionNotFound      Kind = "SESSION_NOT_FOUND"
	ErrSessionNotReady      Kind = "SESSION_NOT_READY"
	ErrSessionExpired       Kind = "SESSION_EXPIRED"
	ErrSessionAlreadyUsed   Kind = "SESSION_ALREADY_USED"
	ErrIDPUnreachable       Kind = "IDP_UNREACHABLE"
	ErrIDPBadResponse       Kind = "IDP_BAD_RESPONSE"
	ErrNonceMismatch        Kind = "NONCE_MISMATCH"
	ErrVaultUnreachable     Kind = "VAULT_UNREACHABLE"
	ErrVaultAuthRejected    Kind = "VAULT_AUTH_REJECTED"
	ErrVaultRoleMissing     Kind = "VAULT_ROLE_MISSING"
	ErrVaultPolicyDenied    Kind = "VAULT_POLICY_DENIED"
	ErrInternal             Kind = "INTERNAL"
)

// statusByKind is the single place mapping a wire error kind to its
// HTTP status: one taxonomy, one boundary.
var statusByKind = map[Kind]int{
	ErrBackpressure:         http.StatusServiceUnavailable,
	ErrInvalidState:         http.StatusBadRequest,
	ErrIDTokenInvalid:       http.StatusBadRequest,
	ErrNoTeamAssignment:     http.StatusForbidden,
	ErrInvalidTeamSelection: http.StatusBadRequest,
	ErrSessionNotFound:      http.StatusNotFound,
	ErrSessionNotReady:      http.StatusConflict,
	ErrSessionExpired:       http.StatusGone,
	ErrSessionAlreadyUsed:   http.StatusConflict,
	ErrIDPUnreachable:       http.StatusBadGateway,
	ErrIDPBadResponse:       http.StatusBadGateway,
	ErrNonceMismatch:        http.StatusBadRequest,
	ErrVaultUnreachable:     http.StatusBadGateway,
	ErrVaultAuthRejected:    http.StatusBadGateway,
	ErrVaultRoleMissing:     http.StatusBadGateway,
	ErrVaultPolicyDenied:    http.StatusBadGateway,
	ErrInternal:             http.StatusInternalServerError,
}

// Error is the broker's one error type. Every failure that can cross the
// HTTP boundary is, or is wrapped into, an *Error before it does.
type Error struct {
	Type    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return string(e.Type) + ": " + e.Message + ": " + e.Cause.Error()
	}
	return string(e.Type) + ": " + e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// StatusCode returns the HTTP status this error's kind maps to, falling
// back to 500 for a kind not present in the table (should not happen for
// a *Error constructed through this package's own constructors).
func (e *Error) StatusCode() int {
	if code, ok := statusByKind[e.Type]; ok {
		return code
	}
	return http.StatusInternalServerError
}

// NewError builds an *Error of the given kind wrapping cause.
func NewError(kind Kind, message string, cause error) *Error {
	return &Error{Type: kind, Message: message, Cause: cause}
}

func NewBackpressureError(message string, cause error) *Error {
	return NewError(ErrBackpressure, message, cause)
}

func NewInvalidStateError(message string, cause error) *Error {
	return NewError(ErrInvalidState, message, cause)
}

func NewIDTokenInvalidError(message string, cause error) *Error {
	return NewError(ErrIDTokenInvalid, message, cause)
}

func NewNoTeamAssignmentError(message string, cause error) *Error {
	return NewError(ErrNoTeamAssignment, message, cause)
}

func NewInvalidTeamSelectionError(message string, cause error) *Error {
	return NewError(ErrInvalidTeamSelection, message, cause)
}

func NewSessionNotFoundError(message string, cause error) *Error {
	return NewError(ErrSessionNotFound, message, cause)
}

func NewSessionNotReadyError(message string, cause error) *Error {
	return NewError(ErrSessionNotReady, message, cause)
}

func NewSessionExpiredError(message string, cause error) *Error {
	return NewError(ErrSessionExpired, message, cause)
}

func NewSessionAlreadyUsedError(message string, cause error) *Error {
	return NewError(ErrSessionAlreadyUsed, message, cause)
}

func NewIDPUnreachableError(message string, cause error) *Error {
	return NewError(ErrIDPUnreachable, message, cause)
}

func NewIDPBadResponseError(message string, cause error) *Error {
	return NewError(ErrIDPBadResponse, message, cause)
}

func NewNonceMismatchError(message string, cause error) *Error {
	return NewError(ErrNonceMismatch, message, cause)
}

func NewVaultUnreachableError(message string, cause error) *Error {
	return NewError(ErrVaultUnreachable, message, cause)
}

func NewVaultAuthRejectedError(message string, cause error) *Error {
	return NewError(ErrVaultAuthRejected, message, cause)
}

func NewVaultRoleMissingError(message string, cause error) *Error {
	return NewError(ErrVaultRoleMissing, message, cause)
}

func NewVaultPolicyDeniedError(message string, cause error) *Error {
	return NewError(ErrVaultPolicyDenied, message, cause)
}

func NewInternalError(message string, cause error) *Error {
	return NewError(ErrInternal, message, cause)
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	if err == nil {
		return false
	}
	be, ok := err.(*Error)
	return ok && be.Type == kind
}
