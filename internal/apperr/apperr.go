// Package apperr defines the error kinds shared by the watermark removal
// packages. Every failure that reaches a caller carries exactly one Kind.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind int

const (
	KindUnknown Kind = iota
	KindInvalidInputPath
	KindUnsupportedFormat
	KindInvalidRegion
	KindModelLoad
	KindInference
	KindIOWrite
	KindInvalidOption
)

var kindNames = map[Kind]string{
	KindUnknown:           "unknown",
	KindInvalidInputPath:  "invalid_input_path",
	KindUnsupportedFormat: "unsupported_format",
	KindInvalidRegion:     "invalid_region",
	KindModelLoad:         "model_load_error",
	KindInference:         "inference_error",
	KindIOWrite:           "io_write_error",
	KindInvalidOption:     "invalid_option",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is a classified failure. Op names the stage that failed and Path the
// file involved, if any.
type Error struct {
	Kind Kind
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Path != "" {
		msg += " (" + e.Path + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches a bare sentinel of the same kind, so errors.Is(err, ErrInvalidRegion)
// holds for every InvalidRegion error regardless of Op and cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Path == "" && t.Err == nil && t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrInvalidInputPath  = &Error{Kind: KindInvalidInputPath}
	ErrUnsupportedFormat = &Error{Kind: KindUnsupportedFormat}
	ErrInvalidRegion     = &Error{Kind: KindInvalidRegion}
	ErrModelLoad         = &Error{Kind: KindModelLoad}
	ErrInference         = &Error{Kind: KindInference}
	ErrIOWrite           = &Error{Kind: KindIOWrite}
	ErrInvalidOption     = &Error{Kind: KindInvalidOption}
)

// New builds a classified error.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Newf builds a classified error from a format string.
func Newf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// WithPath builds a classified error that names the file involved.
func WithPath(kind Kind, op, path string, err error) *Error {
	return &Error{Kind: kind, Op: op, Path: path, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
