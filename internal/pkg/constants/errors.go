package constants

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrMissingFile     = errors.New("remote file missing")
	ErrCutShort        = errors.New("last-modified before cutoff")
	ErrDateUnresolved  = errors.New("date could not be resolved")
	ErrProvinceUnknown = errors.New("province could not be resolved")
	ErrMalformedDoc    = errors.New("document malformed")
	ErrValidation      = errors.New("validation failed")
	ErrStaleSession    = errors.New("dashboard session stale")
)

// CodedError carries an exit/status code alongside the wrapped cause.
type CodedError struct {
	code int
	err  error
}

func NewCodedError(code int, err error) *CodedError {
	return &CodedError{code: code, err: err}
}

func (e *CodedError) Code() int { return e.code }

func (e *CodedError) Error() string {
	return fmt.Sprintf("code %d: %s", e.code, e.err)
}

func (e *CodedError) Unwrap() error { return e.err }
