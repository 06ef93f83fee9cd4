package logging

import (
	"errors"
	"fmt"
)

// OperationError annotates an error with the operation that produced it and
// the request it belonged to.
type OperationError struct {
	Operation string
	RequestID string
	Err       error
}

func (e *OperationError) Error() string {
	if e == nil || e.Err == nil {
		return ""
	}
	if e.RequestID != "" {
		return fmt.Sprintf("%s (request_id=%s): %v", e.Operation, e.RequestID, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Operation, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *OperationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewOperationError wraps err with the operation and request it occurred in.
// A nil err yields nil so call sites can wrap unconditionally.
func NewOperationError(operation, requestID string, err error) error {
	if err == nil {
		return nil
	}
	return &OperationError{Operation: operation, RequestID: requestID, Err: err}
}

// OperationOf reports the innermost operation recorded in err's chain.
func OperationOf(err error) (string, bool) {
	var (
		opErr *OperationError
		found string
		ok    bool
	)
	for err != nil {
		if !errors.As(err, &opErr) {
			break
		}
		found, ok = opErr.Operation, true
		err = opErr.Err
	}
	return found, ok
}
