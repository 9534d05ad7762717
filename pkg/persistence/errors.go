// Package persistence provides standardized error types for persistence operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrApprovalNotFound indicates an approval was not found by the given identifier.
	ErrApprovalNotFound = errors.New("approval not found")

	// ErrApprovalAlreadyExists indicates a refund already has an approval awaiting decision.
	ErrApprovalAlreadyExists = errors.New("approval already exists")

	// ErrVersionConflict indicates the stored approval changed since it was read.
	ErrVersionConflict = errors.New("approval version conflict")

	// ErrRuleNotFound indicates a rule was not found by the given identifier.
	ErrRuleNotFound = errors.New("rule not found")

	// ErrWorkflowNotFound indicates a workflow was not found by the given identifier.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrInvalidDocument indicates a stored rule or workflow document failed schema validation.
	ErrInvalidDocument = errors.New("invalid configuration document")
)

// ApprovalError wraps approval-related errors with additional context.
type ApprovalError struct {
	Op         string // Operation being performed (e.g., "GetByID", "Update")
	ApprovalID string // Approval ID if applicable
	RefundID   string // Refund ID if applicable
	Err        error  // Underlying error
}

func (e *ApprovalError) Error() string {
	target := e.ApprovalID
	if target == "" {
		target = fmt.Sprintf("refund %s", e.RefundID)
	}

	return fmt.Sprintf("%s operation failed for approval %s: %v", e.Op, target, e.Err)
}

func (e *ApprovalError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for approval errors.
func (e *ApprovalError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewApprovalError creates a new approval error with context.
func NewApprovalError(op, approvalID string, err error) *ApprovalError {
	return &ApprovalError{Op: op, ApprovalID: approvalID, Err: err}
}

// NewRefundApprovalError creates a new approval error keyed by refund.
func NewRefundApprovalError(op, refundID string, err error) *ApprovalError {
	return &ApprovalError{Op: op, RefundID: refundID, Err: err}
}

// ConfigError wraps rule and workflow errors with additional context.
type ConfigError struct {
	Op   string // Operation being performed
	Kind string // "rule" or "workflow"
	ID   string
	Err  error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s operation failed for %s %s: %v", e.Op, e.Kind, e.ID, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

func (e *ConfigError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsApprovalNotFound checks if an error indicates an approval was not found.
func IsApprovalNotFound(err error) bool {
	return errors.Is(err, ErrApprovalNotFound)
}

// IsVersionConflict checks if an error indicates a concurrent modification.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrVersionConflict)
}

// IsConfigNotFound checks if an error indicates a missing rule or workflow.
func IsConfigNotFound(err error) bool {
	return errors.Is(err, ErrRuleNotFound) || errors.Is(err, ErrWorkflowNotFound)
}
