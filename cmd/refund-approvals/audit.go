package main

import (
	"context"
	"log/slog"

	"github.com/dukex/refund-approvals/pkg/eventbus"
	"github.com/dukex/refund-approvals/pkg/events"
)

// registerAuditHandlers logs terminal and ladder-exhausted transitions from the event bus.
func registerAuditHandlers(bus eventbus.EventSubscriber, logger *slog.Logger) error {
	logger = logger.With("module", "audit")

	if err := eventbus.HandleTyped(bus, events.ApprovalResolvedEvent, func(ctx context.Context, resolved *events.ApprovalResolved) error {
		logger.InfoContext(ctx, "Approval resolved",
			"approval_id", resolved.ApprovalID,
			"refund_id", resolved.RefundID,
			"status", resolved.Status,
			"reason", resolved.Reason,
			"escalation_level", resolved.EscalationLevel)

		return nil
	}); err != nil {
		return err
	}

	return eventbus.HandleTyped(bus, events.LadderExhaustedEvent, func(ctx context.Context, exhausted *events.LadderExhausted) error {
		logger.WarnContext(ctx, "Escalation ladder exhausted",
			"approval_id", exhausted.ApprovalID,
			"refund_id", exhausted.RefundID,
			"escalation_level", exhausted.EscalationLevel,
			"recipients", exhausted.Recipients,
			"next_reminder_at", exhausted.NextReminderAt)

		return nil
	})
}
