package usecase

import "fmt"

type ErrorCode string

// The pipeline's failure taxonomy. Only ErrorConfig is ever fatal, and only
// at startup; everything else is resolved to a deliverable reply inside
// DialogueService.Handle.
const (
	ErrorConfig     ErrorCode = "CONFIG_ERROR"
	ErrorBackend    ErrorCode = "BACKEND_ERROR"
	ErrorStore      ErrorCode = "STORE_ERROR"
	ErrorExtraction ErrorCode = "EXTRACTION_ERROR"
	ErrorPersist    ErrorCode = "PERSIST_ERROR"
)

type Error struct {
	Code   ErrorCode
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("usecase: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("usecase: %s (%s): %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(code ErrorCode, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}
