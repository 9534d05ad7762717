package services

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/dukex/refund-approvals/pkg/events"
	"github.com/dukex/refund-approvals/pkg/models"
	"github.com/dukex/refund-approvals/pkg/otelhelper"
)

// DecisionProcessor records approver votes on approval requests.
type DecisionProcessor struct {
	*effects

	metrics *otelhelper.Metrics
	now     func() time.Time
}

// RecordDecision validates and appends a vote, then applies veto and unanimity over the current
// level. A rejection resolves the request at once; approval needs every current-level approver.
func (p *DecisionProcessor) RecordDecision(
	ctx context.Context,
	approvalID, approverID string,
	outcome models.DecisionOutcome,
	notes string,
) (*models.ApprovalRequest, error) {
	const op = "record_decision"

	if strings.TrimSpace(approvalID) == "" {
		return nil, NewValidationError(op, "approval id is required")
	}

	if strings.TrimSpace(approverID) == "" {
		return nil, NewValidationError(op, "approver id is required")
	}

	if _, err := models.ParseOutcome(string(outcome)); err != nil {
		return nil, translate(op, err)
	}

	var (
		decision *models.Decision
		resolved bool
	)

	now := p.now()

	approval, err := updateWithRetry(ctx, p.approvals, approvalID, p.retries, p.logger, func(a *models.ApprovalRequest) error {
		var err error

		decision, resolved, err = a.RecordDecision(approverID, outcome, notes, now)

		return err
	})
	if err != nil {
		return nil, translate(op, err)
	}

	otelhelper.Inc(ctx, p.metrics.Decisions,
		attribute.String(otelhelper.OutcomeKey, string(outcome)),
		attribute.Int(otelhelper.EscalationLevelKey, decision.EscalationLevel))

	p.logger.InfoContext(ctx, "Decision recorded",
		"approval_id", approval.ID,
		"approver_id", decision.ApproverID,
		"outcome", outcome,
		"status", approval.Status)

	p.publish(ctx, approval.ID, events.DecisionRecorded{
		BaseEvent:       p.base(events.DecisionRecordedEvent, approval),
		ApproverID:      decision.ApproverID,
		Outcome:         decision.Outcome,
		Notes:           decision.Notes,
		EscalationLevel: decision.EscalationLevel,
	})

	if resolved {
		p.resolved(ctx, approval, events.ResolvedByDecision)
	}

	return approval, nil
}
