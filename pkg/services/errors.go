// Package services implements the approval workflow: deciding whether a refund needs sign-off,
// recording approver decisions and escalating unanswered requests.
package services

import (
	"errors"
	"fmt"

	"github.com/dukex/refund-approvals/pkg/models"
	"github.com/dukex/refund-approvals/pkg/persistence"
	"github.com/dukex/refund-approvals/pkg/protocol"
)

var (
	// Validation Errors (400 Bad Request).
	ErrValidation = errors.New("validation failed")

	// Lookup Errors (404 Not Found).
	ErrNotFound = errors.New("not found")

	// Authorization Errors (403 Forbidden).
	ErrPermissionDenied = errors.New("permission denied")

	// Business Logic Conflicts (409 Conflict).
	ErrInvalidState      = errors.New("invalid state")
	ErrDuplicateDecision = errors.New("duplicate decision")
	ErrDuplicateRequest  = errors.New("duplicate approval request")

	// ErrConfiguration marks malformed rules. It is logged and counted, never returned by the facade.
	ErrConfiguration = errors.New("configuration error")
)

// Error codes for API responses.
const (
	CodeValidation        = "validation_error"
	CodeNotFound          = "not_found"
	CodePermissionDenied  = "permission_denied"
	CodeInvalidState      = "invalid_state"
	CodeDuplicateDecision = "duplicate_decision"
	CodeDuplicateRequest  = "duplicate_request"
	CodeInternal          = "internal_error"
)

// ServiceError wraps service-level errors with additional context.
type ServiceError struct {
	Op      string // Operation name
	Code    string // Error code for API responses
	Message string // Human-readable message
	Err     error  // Underlying error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsValidationError checks if an error is a validation error that should return HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsNotFound checks if an error should return HTTP 404.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsPermissionDenied checks if an error should return HTTP 403.
func IsPermissionDenied(err error) bool {
	return errors.Is(err, ErrPermissionDenied)
}

// IsConflictError checks if an error is a business logic conflict that should return HTTP 409.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrInvalidState) ||
		errors.Is(err, ErrDuplicateDecision) ||
		errors.Is(err, ErrDuplicateRequest)
}

// NewValidationError creates a new validation error with context.
func NewValidationError(op, message string) *ServiceError {
	return &ServiceError{
		Op:      op,
		Code:    CodeValidation,
		Message: message,
		Err:     ErrValidation,
	}
}

type translation struct {
	from     error
	sentinel error
	code     string
}

var translations = []translation{
	{persistence.ErrApprovalNotFound, ErrNotFound, CodeNotFound},
	{persistence.ErrRuleNotFound, ErrNotFound, CodeNotFound},
	{persistence.ErrWorkflowNotFound, ErrNotFound, CodeNotFound},
	{protocol.ErrRefundNotFound, ErrNotFound, CodeNotFound},
	{persistence.ErrApprovalAlreadyExists, ErrDuplicateRequest, CodeDuplicateRequest},
	{models.ErrInvalidState, ErrInvalidState, CodeInvalidState},
	{models.ErrApproverNotAssigned, ErrPermissionDenied, CodePermissionDenied},
	{models.ErrAlreadyDecided, ErrDuplicateDecision, CodeDuplicateDecision},
	{models.ErrInvalidOutcome, ErrValidation, CodeValidation},
	{models.ErrInvalidApproval, ErrValidation, CodeValidation},
	{persistence.ErrInvalidDocument, ErrValidation, CodeValidation},
}

// translate maps model and persistence errors onto the service taxonomy. Errors outside the
// taxonomy keep their identity and get CodeInternal.
func translate(op string, err error) error {
	if err == nil {
		return nil
	}

	var se *ServiceError
	if errors.As(err, &se) {
		return err
	}

	for _, t := range translations {
		if errors.Is(err, t.from) {
			return &ServiceError{Op: op, Code: t.code, Err: fmt.Errorf("%w: %w", t.sentinel, err)}
		}
	}

	return &ServiceError{Op: op, Code: CodeInternal, Err: err}
}

// ErrorCode returns the API code carried by err.
func ErrorCode(err error) string {
	var se *ServiceError
	if errors.As(err, &se) {
		return se.Code
	}

	return CodeInternal
}
