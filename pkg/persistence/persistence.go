// Package persistence provides the storage abstraction for approval requests and their
// rule and workflow configuration.
package persistence

import (
	"context"
	"time"

	"github.com/dukex/refund-approvals/pkg/models"
)

type Persistence interface {
	ApprovalRepository() ApprovalRepository
	RuleRepository() RuleRepository
	HealthCheck(ctx context.Context) error

	Close(ctx context.Context) error
}

// ApprovalRepository stores approval aggregates. Updates are compare-and-swap on Version.
type ApprovalRepository interface {
	// Create stores a new aggregate with Version 1. It fails with ErrApprovalAlreadyExists when
	// an awaiting-decision aggregate already exists for the refund.
	Create(ctx context.Context, approval *models.ApprovalRequest) error

	// GetByID returns ErrApprovalNotFound when no aggregate has the ID.
	GetByID(ctx context.Context, id string) (*models.ApprovalRequest, error)

	// GetActiveByRefundID returns the awaiting-decision aggregate for a refund, falling back to the
	// most recently created one. It returns ErrApprovalNotFound when the refund has none.
	GetActiveByRefundID(ctx context.Context, refundID string) (*models.ApprovalRequest, error)

	// Update persists approval if the stored version equals approval.Version, then increments
	// approval.Version. A mismatch fails with ErrVersionConflict and leaves the store untouched.
	Update(ctx context.Context, approval *models.ApprovalRequest) error

	// DueEscalations returns up to limit awaiting-decision aggregates whose deadline is at or
	// before now, earliest deadline first.
	DueEscalations(ctx context.Context, now time.Time, limit int) ([]*models.ApprovalRequest, error)
}

// RuleRepository stores rule and workflow configuration.
type RuleRepository interface {
	Rules(ctx context.Context) ([]models.Rule, error)
	RuleByID(ctx context.Context, id string) (*models.Rule, error)
	SaveRule(ctx context.Context, rule *models.Rule) error
	DeleteRule(ctx context.Context, id string) error

	Workflows(ctx context.Context) ([]models.Workflow, error)
	WorkflowByID(ctx context.Context, id string) (*models.Workflow, error)
	SaveWorkflow(ctx context.Context, workflow *models.Workflow) error
	DeleteWorkflow(ctx context.Context, id string) error
}
