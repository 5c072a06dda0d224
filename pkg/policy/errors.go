package policy

import (
	"errors"
	"fmt"
)

// ErrorCode classifies why a decision denied an action.
type ErrorCode string

const (
	// CodePermissionDenied covers ownership, managed-status and quota failures.
	CodePermissionDenied ErrorCode = "PERMISSION_DENIED"

	// CodeDomainNotAllowed is returned when the site is outside the policy allowlist.
	CodeDomainNotAllowed ErrorCode = "DOMAIN_NOT_ALLOWED"

	// CodeApprovalRequiredForHighRisk is returned for unreviewed high-risk production actions.
	CodeApprovalRequiredForHighRisk ErrorCode = "APPROVAL_REQUIRED_FOR_HIGH_RISK"

	// CodeGuardrailViolation is returned when a blocking guardrail rule fired.
	CodeGuardrailViolation ErrorCode = "GUARDRAIL_VIOLATION"

	// CodeInternal covers any unexpected collaborator failure.
	CodeInternal ErrorCode = "INTERNAL_ERROR"
)

var (
	// ErrApprovalNotFound is returned by approval stores for unknown IDs.
	ErrApprovalNotFound = errors.New("approval request not found")

	// ErrApprovalDecided is returned when deciding a request that is no longer pending.
	ErrApprovalDecided = errors.New("approval request already decided")
)

// DecisionError is a classified denial.
type DecisionError struct {
	// Code is the denial class.
	Code ErrorCode `json:"code"`

	// Message is the caller-facing reason, surfaced verbatim in ValidationResult.Reason.
	Message string `json:"message"`

	// Err is the underlying cause, if any.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *DecisionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for error chain inspection.
func (e *DecisionError) Unwrap() error {
	return e.Err
}

// Is matches another DecisionError with the same code.
func (e *DecisionError) Is(target error) bool {
	t, ok := target.(*DecisionError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewPermissionDenied creates a PERMISSION_DENIED error.
func NewPermissionDenied(message string) *DecisionError {
	return &DecisionError{Code: CodePermissionDenied, Message: message}
}

// NewDomainNotAllowed creates a DOMAIN_NOT_ALLOWED error.
func NewDomainNotAllowed(message string) *DecisionError {
	return &DecisionError{Code: CodeDomainNotAllowed, Message: message}
}

// NewApprovalRequiredForHighRisk creates an APPROVAL_REQUIRED_FOR_HIGH_RISK error.
func NewApprovalRequiredForHighRisk() *DecisionError {
	return &DecisionError{
		Code:    CodeApprovalRequiredForHighRisk,
		Message: "High-risk actions in production require approval",
	}
}

// NewGuardrailViolation creates a GUARDRAIL_VIOLATION error.
func NewGuardrailViolation(message string) *DecisionError {
	return &DecisionError{Code: CodeGuardrailViolation, Message: message}
}

// NewInternalError wraps an unexpected failure.
func NewInternalError(message string, err error) *DecisionError {
	return &DecisionError{Code: CodeInternal, Message: message, Err: err}
}

// CodeOf extracts the decision code from err, defaulting to CodeInternal.
func CodeOf(err error) ErrorCode {
	var de *DecisionError
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// ReasonOf extracts the caller-facing message from err.
func ReasonOf(err error) string {
	var de *DecisionError
	if errors.As(err, &de) {
		return de.Message
	}
	return "Internal error during policy validation"
}
