package session

import (
	"errors"
	"fmt"

	"github.com/roach88/pcx/internal/ir"
)

// Error represents a failure surfaced by a session operation.
//
// None of these errors are retried internally: the session state that
// caused them is unchanged by a retry.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Key identifies the affected record, when there is one.
	Key ir.RecordKey

	// Reason distinguishes closed from detached for INVALID_REFERENCE_ACCESS.
	Reason AccessReason

	// Err is the underlying cause, if any.
	Err error
}

// ErrorCode categorizes session errors.
type ErrorCode string

const (
	// ErrCodeSessionClosed indicates an operation on a closed session.
	ErrCodeSessionClosed ErrorCode = "SESSION_CLOSED"

	// ErrCodeInvalidReferenceAccess indicates lazy loading outside the
	// owning session's lifetime.
	ErrCodeInvalidReferenceAccess ErrorCode = "INVALID_REFERENCE_ACCESS"

	// ErrCodeRecordNotFound indicates the store has no row for a key.
	ErrCodeRecordNotFound ErrorCode = "RECORD_NOT_FOUND"

	// ErrCodeIdentityConflict indicates two instances for one key.
	// This is a programming fault, never expected in correct operation.
	ErrCodeIdentityConflict ErrorCode = "IDENTITY_CONFLICT"

	// ErrCodeEntityExists indicates persist of a key already managed.
	ErrCodeEntityExists ErrorCode = "ENTITY_EXISTS"

	// ErrCodeNotManaged indicates an entity not attached to this session.
	ErrCodeNotManaged ErrorCode = "NOT_MANAGED"

	// ErrCodeNoTransaction indicates commit or rollback without Begin.
	ErrCodeNoTransaction ErrorCode = "NO_TRANSACTION"

	// ErrCodeTransactionActive indicates Begin while a transaction is open.
	ErrCodeTransactionActive ErrorCode = "TRANSACTION_ACTIVE"

	// ErrCodeUnknownType indicates an entity type missing from the schema.
	ErrCodeUnknownType ErrorCode = "UNKNOWN_TYPE"

	// ErrCodeUnknownAssociation indicates an association missing from the
	// entity type, or one of the wrong cardinality.
	ErrCodeUnknownAssociation ErrorCode = "UNKNOWN_ASSOCIATION"

	// ErrCodeUnknownField indicates a field missing from the entity type.
	ErrCodeUnknownField ErrorCode = "UNKNOWN_FIELD"

	// ErrCodeInvalidQuery indicates a query plan that fails validation.
	ErrCodeInvalidQuery ErrorCode = "INVALID_QUERY"

	// ErrCodeInvalidValue indicates a field value of the wrong type.
	ErrCodeInvalidValue ErrorCode = "INVALID_VALUE"
)

// AccessReason explains an invalid reference access.
type AccessReason string

const (
	ReasonClosed   AccessReason = "closed"
	ReasonDetached AccessReason = "detached"
)

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if !e.Key.IsZero() {
		msg += fmt.Sprintf(" (key=%s)", e.Key)
	}
	if e.Reason != "" {
		msg += fmt.Sprintf(" (reason=%s)", e.Reason)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

func hasCode(err error, code ErrorCode) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Code == code
	}
	return false
}

// IsSessionClosed reports whether err is a SESSION_CLOSED error.
func IsSessionClosed(err error) bool {
	return hasCode(err, ErrCodeSessionClosed)
}

// IsInvalidReferenceAccess reports whether err is an INVALID_REFERENCE_ACCESS error.
func IsInvalidReferenceAccess(err error) bool {
	return hasCode(err, ErrCodeInvalidReferenceAccess)
}

// IsRecordNotFound reports whether err is a RECORD_NOT_FOUND error.
func IsRecordNotFound(err error) bool {
	return hasCode(err, ErrCodeRecordNotFound)
}

// IsIdentityConflict reports whether err is an IDENTITY_CONFLICT error.
func IsIdentityConflict(err error) bool {
	return hasCode(err, ErrCodeIdentityConflict)
}

// ErrorCodeOf returns the session error code in err's chain, or "".
func ErrorCodeOf(err error) ErrorCode {
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

// AccessReasonOf returns the access reason in err's chain, or "".
func AccessReasonOf(err error) AccessReason {
	var se *Error
	if errors.As(err, &se) {
		return se.Reason
	}
	return ""
}

// NewSessionClosedError creates a SESSION_CLOSED error for op.
func NewSessionClosedError(op string) *Error {
	return &Error{
		Code:    ErrCodeSessionClosed,
		Message: fmt.Sprintf("%s: session is closed", op),
	}
}

// NewInvalidReferenceAccessError creates an INVALID_REFERENCE_ACCESS error.
func NewInvalidReferenceAccessError(key ir.RecordKey, reason AccessReason) *Error {
	return &Error{
		Code:    ErrCodeInvalidReferenceAccess,
		Message: "could not initialize reference: no session",
		Key:     key,
		Reason:  reason,
	}
}

// NewRecordNotFoundError creates a RECORD_NOT_FOUND error.
func NewRecordNotFoundError(key ir.RecordKey, cause error) *Error {
	return &Error{
		Code:    ErrCodeRecordNotFound,
		Message: "no record for key",
		Key:     key,
		Err:     cause,
	}
}

// NewIdentityConflictError creates an IDENTITY_CONFLICT error.
func NewIdentityConflictError(key ir.RecordKey, cause error) *Error {
	return &Error{
		Code:    ErrCodeIdentityConflict,
		Message: "identity map already holds a different instance",
		Key:     key,
		Err:     cause,
	}
}

func newError(code ErrorCode, key ir.RecordKey, format string, args ...any) *Error {
	return &Error{Code: code, Key: key, Message: fmt.Sprintf(format, args...)}
}
