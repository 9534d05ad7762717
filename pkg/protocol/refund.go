// Package protocol defines the collaborators the approval engine consumes: the refund lifecycle
// manager, the notification dispatcher and role resolution.
package protocol

import (
	"context"
	"errors"

	"github.com/dukex/refund-approvals/pkg/models"
)

// Refund statuses written back to the refund lifecycle manager.
const (
	RefundStatusApproved = "APPROVED"
	RefundStatusRejected = "REJECTED"
)

// ErrRefundNotFound is returned by a RefundManager for unknown refunds.
var ErrRefundNotFound = errors.New("refund not found")

// RefundManager is the refund lifecycle manager.
type RefundManager interface {
	GetRefund(ctx context.Context, id string) (*models.RefundSnapshot, error)
	UpdateRefundStatus(ctx context.Context, id string, status string, meta map[string]any) error
}

// RoleResolver maps an abstract role to concrete approver references for a refund.
type RoleResolver interface {
	ResolveRole(ctx context.Context, role string, refund *models.RefundSnapshot) ([]string, error)
}

// RoleRefPrefix prefixes references produced by RoleReferences.
const RoleRefPrefix = "role:"

// RoleReferences resolves every role to the single reference "role:<ROLE>", leaving identity
// resolution to whoever acts on that reference.
type RoleReferences struct{}

func (RoleReferences) ResolveRole(_ context.Context, role string, _ *models.RefundSnapshot) ([]string, error) {
	return []string{RoleRefPrefix + role}, nil
}
