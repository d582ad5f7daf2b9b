package upload

import (
	"errors"
	"fmt"
)

// Kind classifies an upload error. Kinds are stable and safe to expose to callers.
type Kind string

const (
	KindInvalidArgument  Kind = "InvalidArgument"
	KindNotFound         Kind = "NotFound"
	KindInvalidState     Kind = "InvalidState"
	KindIncompleteUpload Kind = "IncompleteUpload"
	KindChecksumMismatch Kind = "ChecksumMismatch"
	KindIOFailure        Kind = "IOFailure"
	KindInternal         Kind = "Internal"
)

var (
	ErrInvalidArgument  = &Error{Kind: KindInvalidArgument}
	ErrNotFound         = &Error{Kind: KindNotFound}
	ErrInvalidState     = &Error{Kind: KindInvalidState}
	ErrIncompleteUpload = &Error{Kind: KindIncompleteUpload}
	ErrChecksumMismatch = &Error{Kind: KindChecksumMismatch}
	ErrIOFailure        = &Error{Kind: KindIOFailure}

	// repository lookups
	ErrSessionNotFound = errors.New("upload session not found")
	ErrChunkNotFound   = errors.New("upload chunk not found")
	ErrStatusConflict  = errors.New("upload session status changed")
)

// Error is returned by every Service operation.
type Error struct {
	Kind    Kind
	Message string
	Err     error
	Details map[string]any
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches on Kind, so errors.Is(err, ErrNotFound) works for any not-found error.
// An IncompleteUpload error also matches ErrInvalidState.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind == e.Kind {
		return true
	}
	return t.Kind == KindInvalidState && e.Kind == KindIncompleteUpload
}

// KindOf returns the kind of err, or KindInternal if err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func newError(kind Kind, err error, format string, args ...any) *Error {
	return &Error{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
		Err:     err,
	}
}

func invalidArgument(format string, args ...any) *Error {
	return newError(KindInvalidArgument, nil, format, args...)
}

func invalidState(format string, args ...any) *Error {
	return newError(KindInvalidState, nil, format, args...)
}

func ioFailure(err error, format string, args ...any) *Error {
	return newError(KindIOFailure, err, format, args...)
}

func internal(err error, format string, args ...any) *Error {
	return newError(KindInternal, err, format, args...)
}
