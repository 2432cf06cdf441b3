package models

import (
	"context"
	"errors"
)

// Error taxonomy shared by the stores and engines. Call sites wrap these with
// fmt.Errorf("%w: ...") and callers test with errors.Is.
var (
	ErrNotFound         = errors.New("not found")
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrConflict         = errors.New("conflict")
	ErrTimeout          = errors.New("timeout")
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrPropagation      = errors.New("propagation failure")
)

// ErrorCode maps an error to the code sent to clients in error events.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidArgument):
		return "invalid_argument"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, ErrStoreUnavailable):
		return "store_unavailable"
	case errors.Is(err, ErrPropagation):
		return "propagation_failure"
	default:
		return "internal"
	}
}
