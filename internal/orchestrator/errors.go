package orchestrator

import (
	"errors"
	"fmt"
)

// ErrorCode classifies turn failures for clients. Codes ride the error record's
// "code" field so a client can back off on rate limits without string matching.
type ErrorCode string

const (
	CodeValidation    ErrorCode = "validation_error"
	CodeAuth          ErrorCode = "auth_error"
	CodeRateLimit     ErrorCode = "rate_limit_error"
	CodeUpstream      ErrorCode = "upstream_error"
	CodeToolExecution ErrorCode = "tool_execution_error"
	CodePersistence   ErrorCode = "persistence_error"
	CodeTimeout       ErrorCode = "timeout_error"
)

// TurnError pairs a failure with its classification.
type TurnError struct {
	Code ErrorCode
	Err  error
}

func (e *TurnError) Error() string {
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *TurnError) Unwrap() error {
	return e.Err
}

// NewTurnError wraps err with a code.
func NewTurnError(code ErrorCode, err error) *TurnError {
	return &TurnError{Code: code, Err: err}
}

// CodeOf extracts the classification from an error chain, defaulting to
// upstream for unclassified failures.
func CodeOf(err error) ErrorCode {
	var te *TurnError
	if errors.As(err, &te) {
		return te.Code
	}
	return CodeUpstream
}
