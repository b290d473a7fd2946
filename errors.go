package localbackend

import (
	"errors"
	"fmt"
)

// ResultCode is an LDAP result code (RFC 4511 §4.1.9, plus the handful of
// extension codes this pipeline can produce).
type ResultCode uint16

// Result codes this pipeline can set on OperationContext.ResultCode. Values
// are the real wire codes so a caller serializing the response sends the
// code an LDAP client actually expects.
const (
	ResultSuccess                     ResultCode = 0
	ResultProtocolError               ResultCode = 2
	ResultNoSuchAttribute             ResultCode = 16
	ResultUnavailableCriticalExtension ResultCode = 12
	ResultConstraintViolation         ResultCode = 19
	ResultNoSuchObject                ResultCode = 32
	ResultInsufficientAccessRights    ResultCode = 50
	ResultUnwillingToPerform          ResultCode = 53
	ResultObjectClassViolation        ResultCode = 65
	ResultCanceled                    ResultCode = 118
	ResultAssertionFailed             ResultCode = 122
	ResultAuthorizationDenied         ResultCode = 123
	// ResultNoOperation is the draft-zeilenga-ldap-noop result code used
	// when the no-op control suppressed the write.
	ResultNoOperation ResultCode = 16654
	// ResultServerError is this deployment's configured generic failure
	// code, used for lock-acquisition failures that aren't any more
	// specific LDAP result.
	ResultServerError ResultCode = 80
)

// Error is a result carrying both an LDAP ResultCode and the underlying
// cause, if any. It implements Unwrap so errors.Is/errors.As see through
// it to the wrapped error.
type Error struct {
	ResultCode ResultCode
	Err        error
}

// NewError wraps err with the given result code.
func NewError(code ResultCode, err error) *Error {
	return &Error{ResultCode: code, Err: err}
}

// NewErrorf builds an Error from a formatted message.
func NewErrorf(code ResultCode, format string, args ...any) *Error {
	return &Error{ResultCode: code, Err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("localbackend: result code %d", e.ResultCode)
	}
	return fmt.Sprintf("localbackend: result code %d: %s", e.ResultCode, e.Err.Error())
}

// Unwrap exposes the wrapped cause to errors.Is/errors.As.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error with the same ResultCode, so
// errors.Is(err, &Error{ResultCode: X}) works without requiring identical
// messages.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.ResultCode == t.ResultCode
}

// IsErrorAnyOf reports whether err is (or wraps) an *Error whose ResultCode
// is one of codes.
func IsErrorAnyOf(err error, codes ...ResultCode) bool {
	var le *Error
	if !errors.As(err, &le) {
		return false
	}
	for _, c := range codes {
		if le.ResultCode == c {
			return true
		}
	}
	return false
}

// ResultCodeOf returns the ResultCode carried by err if it is (or wraps) an
// *Error, otherwise ResultServerError.
func ResultCodeOf(err error) ResultCode {
	var le *Error
	if errors.As(err, &le) {
		return le.ResultCode
	}
	return ResultServerError
}
