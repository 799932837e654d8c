package transform

import (
	"errors"
	"fmt"
)

// ErrorKind classifies transform failures.
type ErrorKind string

const (
	KindMissingInput    ErrorKind = "missing_input"
	KindMalformedInput  ErrorKind = "malformed_input"
	KindMalformedDate   ErrorKind = "malformed_date"
	KindNoSurvivingRows ErrorKind = "no_surviving_rows"
	KindCancelled       ErrorKind = "cancelled"
)

// Error is returned by the transform stage. It is never retried internally.
type Error struct {
	Kind ErrorKind
	Path string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("transform %s: %s", e.Path, e.Kind)
	}
	return fmt.Sprintf("transform %s: %s: %v", e.Path, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by Kind so callers can test errors.Is(err, ErrNoSurvivingRows).
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind && t.Path == ""
}

// Sentinels for errors.Is.
var (
	ErrMissingInput    = &Error{Kind: KindMissingInput}
	ErrMalformedInput  = &Error{Kind: KindMalformedInput}
	ErrMalformedDate   = &Error{Kind: KindMalformedDate}
	ErrNoSurvivingRows = &Error{Kind: KindNoSurvivingRows}
	ErrCancelled       = &Error{Kind: KindCancelled}
)

func newError(kind ErrorKind, path string, err error) *Error {
	return &Error{Kind: kind, Path: path, Err: err}
}
