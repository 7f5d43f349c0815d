package errors

import (
	stderrors "errors"
	"fmt"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Error codes for the workflow error taxonomy.
const (
	CodeValidation           = "E100"
	CodeInvalidChoice        = "E110"
	CodeLocked               = "E120"
	CodeInsufficientFunds    = "E130"
	CodeConflict             = "E140"
	CodeSubsystemUnavailable = "E200"
	CodeDriftDetected        = "E300"
)

type AppError struct {
	Code        string
	Message     string
	UserMessage string
	Severity    Severity
	Retryable   bool
	cause       error
}

func (e *AppError) Error() string {
	if e == nil {
		return ""
	}

	return e.Message
}

func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}

	return e.cause
}

func (e *AppError) Cause() error {
	return e.Unwrap()
}

// NewValidationError rejects malformed or out-of-range input before any
// state change.
func NewValidationError(msg string) *AppError {
	return &AppError{
		Code:        CodeValidation,
		Message:     msg,
		UserMessage: msg,
		Severity:    SeverityLow,
		Retryable:   false,
	}
}

// NewInvalidChoiceError rejects a narrative choice that is absent or out of
// range for the current fragment. No state change occurs.
func NewInvalidChoiceError(choiceIndex, available int) *AppError {
	return &AppError{
		Code:        CodeInvalidChoice,
		Message:     fmt.Sprintf("choice %d is not available (fragment has %d choices)", choiceIndex, available),
		UserMessage: "That choice is not available here.",
		Severity:    SeverityLow,
		Retryable:   false,
	}
}

// NewLockedError rejects a transition into a fragment whose unlock keys the
// user has not yet earned.
func NewLockedError(missingKey string) *AppError {
	return &AppError{
		Code:        CodeLocked,
		Message:     fmt.Sprintf("destination fragment requires unlock key %q", missingKey),
		UserMessage: "That path is still locked. Keep exploring to find the key.",
		Severity:    SeverityLow,
		Retryable:   false,
	}
}

// NewInsufficientFundsError is the business-rule rejection for a deduction
// that would drive the balance negative. The ledger never clamps.
func NewInsufficientFundsError(balance, requested int64) *AppError {
	return &AppError{
		Code:        CodeInsufficientFunds,
		Message:     fmt.Sprintf("insufficient funds: balance %d, requested %d", balance, requested),
		UserMessage: "You don't have enough coins for that.",
		Severity:    SeverityLow,
		Retryable:   false,
	}
}

// NewConflictError reports a concurrent mutation. The whole workflow is safe
// to retry.
func NewConflictError(msg string) *AppError {
	return &AppError{
		Code:        CodeConflict,
		Message:     msg,
		UserMessage: "Another action of yours is still running. Try again in a moment.",
		Severity:    SeverityMedium,
		Retryable:   true,
	}
}

// NewSubsystemError wraps a storage or platform I/O failure. Nothing was
// committed; retries apply only to known-idempotent operations.
func NewSubsystemError(subsystem string, cause error) *AppError {
	var underlyingMsg string
	if cause != nil {
		underlyingMsg = cause.Error()
	}

	return &AppError{
		Code:        CodeSubsystemUnavailable,
		Message:     fmt.Sprintf("%s unavailable: %s", subsystem, underlyingMsg),
		UserMessage: "A temporary problem occurred. Please try again later.",
		Severity:    SeverityHigh,
		Retryable:   true,
		cause:       cause,
	}
}

// NewDriftError records a reconciliation finding. It is never user-facing.
func NewDriftError(msg string) *AppError {
	return &AppError{
		Code:      CodeDriftDetected,
		Message:   msg,
		Severity:  SeverityHigh,
		Retryable: false,
	}
}

// CodeOf extracts the taxonomy code from err, or an empty string.
func CodeOf(err error) string {
	var appErr *AppError
	if stderrors.As(err, &appErr) && appErr != nil {
		return appErr.Code
	}

	return ""
}

// IsBusinessRejection reports whether err is an expected business outcome
// that left no state change behind.
func IsBusinessRejection(err error) bool {
	switch CodeOf(err) {
	case CodeValidation, CodeInvalidChoice, CodeLocked, CodeInsufficientFunds:
		return true
	default:
		return false
	}
}
