package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Error kinds. Concrete errors wrap one of these so callers can classify with errors.Is.
var (
	ErrValidation     = errors.New("validation failed")
	ErrNotFound       = errors.New("not found")
	ErrSpawn          = errors.New("process could not be started")
	ErrProcessFailure = errors.New("process failed")
	ErrDecode         = errors.New("payload decode failed")
	ErrIO             = errors.New("filesystem error")
	ErrUnavailable    = errors.New("agent unavailable")
)

// ErrorCode is the machine readable error class returned to API callers.
type ErrorCode string

const (
	CodeInvalidInput    ErrorCode = "INVALID_INPUT"
	CodeNotFound        ErrorCode = "NOT_FOUND"
	CodeExecutionFailed ErrorCode = "EXECUTION_FAILED"
	CodeDecodeFailed    ErrorCode = "DECODE_FAILED"
	CodeIO              ErrorCode = "IO_ERROR"
	CodeUnavailable     ErrorCode = "SERVICE_UNAVAILABLE"
	CodeTimeout         ErrorCode = "TIMEOUT"
	CodeInternal        ErrorCode = "INTERNAL_ERROR"
)

// CodeOf classifies err. Unknown errors are INTERNAL_ERROR.
func CodeOf(err error) ErrorCode {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return CodeInvalidInput
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrDecode):
		return CodeDecodeFailed
	case errors.Is(err, ErrSpawn), errors.Is(err, ErrProcessFailure):
		return CodeExecutionFailed
	case errors.Is(err, ErrIO):
		return CodeIO
	case errors.Is(err, ErrUnavailable), errors.Is(err, context.Canceled):
		return CodeUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return CodeTimeout
	default:
		return CodeInternal
	}
}

// FileFailure is the error recorded for a single file of a sync request.
type FileFailure struct {
	Path string
	Err  error
}

// SyncError aggregates per-file failures of a sync operation. Sibling files are
// still processed when one of them fails.
type SyncError struct {
	Op       string
	Failures []FileFailure
}

func (e *SyncError) Error() string {
	msgs := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		msgs = append(msgs, fmt.Sprintf("%s: %v", f.Path, f.Err))
	}
	return fmt.Sprintf("%s: %d file(s) failed: %s", e.Op, len(e.Failures), strings.Join(msgs, "; "))
}

func (e *SyncError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}
