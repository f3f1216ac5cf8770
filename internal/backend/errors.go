package backend

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes storage failures.
type ErrorCode string

const (
	// CodeIO indicates the backend could not read or write.
	CodeIO ErrorCode = "IO"

	// CodeCorrupt indicates a stored payload could not be decoded.
	CodeCorrupt ErrorCode = "CORRUPT"

	// CodeTx indicates a transaction could not begin, commit or roll back.
	CodeTx ErrorCode = "TX"

	// CodeWrongType indicates a key holds a different kind of value than
	// the operation expects (for example HashGet on a scalar key).
	CodeWrongType ErrorCode = "WRONGTYPE"
)

var (
	// ErrNoTx is returned by Commit and Rollback outside a transaction.
	ErrNoTx = errors.New("no active transaction")

	// ErrTxActive is returned by BeginTransaction inside a transaction.
	ErrTxActive = errors.New("transaction already active")
)

// Error is a storage failure. It is fatal for the operation that raised
// it; backends never retry.
type Error struct {
	Code ErrorCode
	Op   string
	Key  string
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("backend %s %s %q: %v", e.Code, e.Op, e.Key, e.Err)
	}
	return fmt.Sprintf("backend %s %s: %v", e.Code, e.Op, e.Err)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates an Error. A nil err is recorded as the code itself.
func NewError(code ErrorCode, op, key string, err error) *Error {
	if err == nil {
		err = errors.New(string(code))
	}
	return &Error{Code: code, Op: op, Key: key, Err: err}
}

// IsBackendError reports whether err wraps an *Error.
func IsBackendError(err error) bool {
	var be *Error
	return errors.As(err, &be)
}

// IsCode reports whether err wraps an *Error with the given code.
// Uses errors.As to handle wrapped errors.
func IsCode(err error, code ErrorCode) bool {
	var be *Error
	if errors.As(err, &be) {
		return be.Code == code
	}
	return false
}
