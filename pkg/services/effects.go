package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/dukex/refund-approvals/pkg/eventbus"
	"github.com/dukex/refund-approvals/pkg/events"
	"github.com/dukex/refund-approvals/pkg/models"
	"github.com/dukex/refund-approvals/pkg/persistence"
	"github.com/dukex/refund-approvals/pkg/protocol"
)

// effects performs the side effects that follow a committed state change. Failures are logged
// and never undo the change.
type effects struct {
	approvals persistence.ApprovalRepository
	refunds   protocol.RefundManager
	resolver  protocol.RoleResolver
	notifier  protocol.Notifier
	bus       eventbus.EventBus
	retries   uint64
	logger    *slog.Logger
}

func (fx *effects) publish(ctx context.Context, key string, event eventbus.Event) {
	if err := fx.bus.Publish(ctx, key, event); err != nil {
		fx.logger.ErrorContext(ctx, "Failed to publish event", "event_type", event.GetType(), "key", key, "error", err)
	}
}

func (fx *effects) base(eventType events.EventType, a *models.ApprovalRequest) events.BaseEvent {
	return events.NewBaseEvent(fx.bus.GenerateID(), eventType, a.ID, a.RefundID)
}

func notificationContext(a *models.ApprovalRequest) map[string]any {
	return map[string]any{
		"approval_id":       a.ID,
		"refund_id":         a.RefundID,
		"status":            string(a.Status),
		"escalation_level":  a.EscalationLevel,
		"escalation_due_at": a.EscalationDueAt.Format(time.RFC3339),
	}
}

// notifyApprovers notifies every approver in the list and stamps NotifiedAt on those reached.
// It returns the approval as stored afterwards.
func (fx *effects) notifyApprovers(ctx context.Context, a *models.ApprovalRequest, approvers []models.Approver, kind protocol.NotificationType, now time.Time) *models.ApprovalRequest {
	if len(approvers) == 0 {
		return a
	}

	batch := make([]protocol.Notification, 0, len(approvers))
	for _, ap := range approvers {
		nctx := notificationContext(a)
		nctx["approver_id"] = ap.ID
		nctx["role"] = ap.Role

		batch = append(batch, protocol.Notification{
			Type:      kind,
			Recipient: ap.Ref,
			Channel:   protocol.DefaultChannel,
			Context:   nctx,
		})
	}

	var reached []string

	for i, result := range fx.notifier.NotifyBulk(ctx, batch) {
		if result.Err != nil {
			fx.logger.WarnContext(ctx, "Failed to notify approver",
				"approval_id", a.ID, "recipient", result.Notification.Recipient, "error", result.Err)

			continue
		}

		if i < len(approvers) {
			reached = append(reached, approvers[i].ID)
		}
	}

	if len(reached) == 0 {
		return a
	}

	updated, err := updateWithRetry(ctx, fx.approvals, a.ID, fx.retries, fx.logger, func(current *models.ApprovalRequest) error {
		if current.IsTerminal() {
			return errUnchanged
		}

		current.MarkNotified(reached, now)

		return nil
	})
	if err != nil {
		fx.logger.WarnContext(ctx, "Failed to record notification time", "approval_id", a.ID, "error", err)

		return a
	}

	return updated
}

// notifyRecipients sends one notification per recipient reference.
func (fx *effects) notifyRecipients(ctx context.Context, a *models.ApprovalRequest, recipients []string, kind protocol.NotificationType, extra map[string]any) {
	if len(recipients) == 0 {
		return
	}

	batch := make([]protocol.Notification, 0, len(recipients))
	for _, r := range recipients {
		nctx := notificationContext(a)
		for k, v := range extra {
			nctx[k] = v
		}

		batch = append(batch, protocol.Notification{
			Type:      kind,
			Recipient: r,
			Channel:   protocol.DefaultChannel,
			Context:   nctx,
		})
	}

	for _, result := range fx.notifier.NotifyBulk(ctx, batch) {
		if result.Err != nil {
			fx.logger.WarnContext(ctx, "Failed to send notification",
				"approval_id", a.ID, "recipient", result.Notification.Recipient, "type", kind, "error", result.Err)
		}
	}
}

// resolved writes the outcome back to the refund, tells the requester and publishes approval.resolved.
func (fx *effects) resolved(ctx context.Context, a *models.ApprovalRequest, reason events.ResolutionReason) {
	status := protocol.RefundStatusRejected
	if a.Status == models.ApprovalApproved {
		status = protocol.RefundStatusApproved
	}

	meta := map[string]any{
		"approval_id":      a.ID,
		"reason":           string(reason),
		"escalation_level": a.EscalationLevel,
	}

	if err := fx.refunds.UpdateRefundStatus(ctx, a.RefundID, status, meta); err != nil {
		fx.logger.ErrorContext(ctx, "Failed to update refund status",
			"approval_id", a.ID, "refund_id", a.RefundID, "status", status, "error", err)
	}

	if a.RequestedBy != "" {
		fx.notifyRecipients(ctx, a, []string{a.RequestedBy}, protocol.NotificationApprovalResolved,
			map[string]any{"reason": string(reason)})
	}

	fx.publish(ctx, a.ID, events.ApprovalResolved{
		BaseEvent:       fx.base(events.ApprovalResolvedEvent, a),
		Status:          a.Status,
		Reason:          reason,
		EscalationLevel: a.EscalationLevel,
	})
}

// resolveRoles turns roles into approver assignments, caching lookups for the lifetime of the call.
func (fx *effects) resolveRoles(ctx context.Context, roles []string, refund *models.RefundSnapshot, cache map[string][]string) ([]models.ApproverAssignment, error) {
	var out []models.ApproverAssignment

	for _, role := range roles {
		refs, ok := cache[role]
		if !ok {
			var err error

			refs, err = fx.resolver.ResolveRole(ctx, role, refund)
			if err != nil {
				return nil, err
			}

			cache[role] = refs
		}

		for _, ref := range refs {
			out = append(out, models.ApproverAssignment{Ref: ref, Role: role})
		}
	}

	return out, nil
}

func approverRefs(approvers []models.Approver) []string {
	refs := make([]string, 0, len(approvers))
	for _, ap := range approvers {
		refs = append(refs, ap.Ref)
	}

	return refs
}
