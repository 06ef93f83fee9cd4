package validator

import (
	"errors"
	"fmt"
)

// Validation failure kinds. Every *ValidationError unwraps to exactly one of
// these, so callers branch with errors.Is.
var (
	ErrMissingFile           = errors.New("missing file")
	ErrFileTooLarge          = errors.New("file too large")
	ErrUnsupportedType       = errors.New("unsupported content type")
	ErrTypeExtensionMismatch = errors.New("content type does not match file extension")
	ErrCorruptImage          = errors.New("corrupt image")
	ErrDimensionOutOfRange   = errors.New("image dimensions out of range")
	ErrInvalidFilename       = errors.New("invalid filename")
)

// Bound tells which side of the dimension range an image fell outside.
type Bound string

const (
	BoundTooSmall Bound = "too_small"
	BoundTooLarge Bound = "too_large"
)

// ValidationError is a client-caused rejection of an upload. It is never
// retryable without different input.
type ValidationError struct {
	Kind    error
	Message string

	// Set only for ErrDimensionOutOfRange.
	Bound  Bound
	Width  int
	Height int
}

func (e *ValidationError) Error() string {
	if e.Message == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return e.Kind
}

func newError(kind error, format string, args ...any) *ValidationError {
	return &ValidationError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func dimensionError(bound Bound, width, height int) *ValidationError {
	return &ValidationError{
		Kind:    ErrDimensionOutOfRange,
		Message: fmt.Sprintf("%dx%d is %s (allowed %d..%d px per side)", width, height, bound, MinDimension, MaxDimension),
		Bound:   bound,
		Width:   width,
		Height:  height,
	}
}
