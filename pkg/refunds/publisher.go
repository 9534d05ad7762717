package refunds

import (
	"context"
	"log/slog"

	"github.com/dukex/refund-approvals/pkg/eventbus"
	"github.com/dukex/refund-approvals/pkg/events"
	"github.com/dukex/refund-approvals/pkg/models"
	"github.com/dukex/refund-approvals/pkg/protocol"
)

// EventBusStatusPublisher decorates a RefundManager so every status update is also published
// as a refund.status_update_requested event.
type EventBusStatusPublisher struct {
	next   protocol.RefundManager
	bus    eventbus.EventBus
	logger *slog.Logger
}

func NewEventBusStatusPublisher(next protocol.RefundManager, bus eventbus.EventBus, logger *slog.Logger) *EventBusStatusPublisher {
	return &EventBusStatusPublisher{
		next:   next,
		bus:    bus,
		logger: logger.With("module", "refunds_publisher"),
	}
}

func (p *EventBusStatusPublisher) GetRefund(ctx context.Context, id string) (*models.RefundSnapshot, error) {
	return p.next.GetRefund(ctx, id)
}

// UpdateRefundStatus publishes even when the wrapped manager fails so consumers can reconcile.
func (p *EventBusStatusPublisher) UpdateRefundStatus(ctx context.Context, id string, status string, meta map[string]any) error {
	updateErr := p.next.UpdateRefundStatus(ctx, id, status, meta)

	approvalID, _ := meta["approval_id"].(string)

	event := events.RefundStatusUpdateRequested{
		BaseEvent: events.NewBaseEvent(p.bus.GenerateID(), events.RefundStatusUpdateRequestedEvent, approvalID, id),
		Status:    status,
		Meta:      meta,
	}

	if err := p.bus.Publish(ctx, id, event); err != nil {
		p.logger.ErrorContext(ctx, "Failed to publish refund status update", "refund_id", id, "status", status, "error", err)
	}

	return updateErr
}
