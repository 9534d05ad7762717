// Package web provides HTTP request and response types for the approval API.
package web

import (
	"time"

	"github.com/dukex/refund-approvals/pkg/models"
	"github.com/dukex/refund-approvals/pkg/services"
)

// CheckResponse reports whether a refund needs approval and which configuration matched.
type CheckResponse struct {
	Required         bool     `json:"required"`
	MatchedRules     []string `json:"matched_rules"`
	MatchedWorkflows []string `json:"matched_workflows"`
}

// NewCheckResponse converts a service check result. Empty lists are rendered as [].
func NewCheckResponse(result *services.CheckResult) CheckResponse {
	resp := CheckResponse{
		Required:         result.Required,
		MatchedRules:     result.MatchedRules,
		MatchedWorkflows: result.MatchedWorkflows,
	}

	if resp.MatchedRules == nil {
		resp.MatchedRules = []string{}
	}

	if resp.MatchedWorkflows == nil {
		resp.MatchedWorkflows = []string{}
	}

	return resp
}

// CreateApprovalRequest is either a refund reference or a full refund snapshot. When the
// snapshot's id is set, the snapshot is used as given.
type CreateApprovalRequest struct {
	RefundID string `json:"refund_id"`

	models.RefundSnapshot
}

// Snapshot returns the embedded snapshot, or nil when only a reference was sent.
func (r *CreateApprovalRequest) Snapshot() *models.RefundSnapshot {
	if r.ID == "" {
		return nil
	}

	snapshot := r.RefundSnapshot

	return &snapshot
}

// DecisionRequest represents the request body for recording an approver's vote.
type DecisionRequest struct {
	ApproverID string `json:"approver_id" validate:"required"`
	Outcome    string `json:"outcome"     validate:"required,oneof=APPROVED REJECTED"`
	Notes      string `json:"notes,omitempty"`
}

// EscalateRequest represents the request body for a manual escalation.
type EscalateRequest struct {
	ActorID string `json:"actor_id" validate:"required"`
	Reason  string `json:"reason,omitempty"`
}

// RunEscalationsRequest represents the request body for a synchronous escalation pass.
// A zero batch size uses the configured one.
type RunEscalationsRequest struct {
	BatchSize int `json:"batch_size" validate:"gte=0,lte=10000"`
}

type RunEscalationsResponse struct {
	Escalated int `json:"escalated"`
}

// ApprovalResponse is the API view of an approval request.
type ApprovalResponse struct {
	ID                string                    `json:"id"`
	RefundID          string                    `json:"refund_id"`
	Status            models.ApprovalStatus     `json:"status"`
	RequestedBy       string                    `json:"requested_by,omitempty"`
	RequestedAt       time.Time                 `json:"requested_at"`
	EscalationLevel   int                       `json:"escalation_level"`
	EscalationDueAt   time.Time                 `json:"escalation_due_at"`
	CurrentApprovers  []string                  `json:"current_approvers"`
	Approvers         []models.Approver         `json:"approvers"`
	Decisions         []models.Decision         `json:"decisions"`
	Escalations       []models.EscalationRecord `json:"escalations"`
	LadderExhaustedAt *time.Time                `json:"ladder_exhausted_at,omitempty"`
	ArchivedAt        *time.Time                `json:"archived_at,omitempty"`
	Version           int64                     `json:"version"`
}

// NewApprovalResponse flattens an approval for clients, listing current-level approver references.
func NewApprovalResponse(a *models.ApprovalRequest) ApprovalResponse {
	current := a.CurrentApprovers()
	refs := make([]string, 0, len(current))

	for _, ap := range current {
		refs = append(refs, ap.Ref)
	}

	resp := ApprovalResponse{
		ID:                a.ID,
		RefundID:          a.RefundID,
		Status:            a.Status,
		RequestedBy:       a.RequestedBy,
		RequestedAt:       a.RequestedAt,
		EscalationLevel:   a.EscalationLevel,
		EscalationDueAt:   a.EscalationDueAt,
		CurrentApprovers:  refs,
		Approvers:         a.Approvers,
		Decisions:         a.Decisions,
		Escalations:       a.Escalations,
		LadderExhaustedAt: a.LadderExhaustedAt,
		ArchivedAt:        a.ArchivedAt,
		Version:           a.Version,
	}

	if resp.Approvers == nil {
		resp.Approvers = []models.Approver{}
	}

	if resp.Decisions == nil {
		resp.Decisions = []models.Decision{}
	}

	if resp.Escalations == nil {
		resp.Escalations = []models.EscalationRecord{}
	}

	return resp
}
