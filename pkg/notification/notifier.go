// Package notification delivers approval notifications by publishing them on the event bus,
// where the notification dispatcher picks them up.
package notification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/refund-approvals/pkg/eventbus"
	"github.com/dukex/refund-approvals/pkg/events"
	"github.com/dukex/refund-approvals/pkg/protocol"
)

var ErrNoRecipient = errors.New("notification has no recipient")

// EventBusNotifier implements protocol.Notifier.
type EventBusNotifier struct {
	bus    eventbus.EventBus
	logger *slog.Logger
}

func NewEventBusNotifier(bus eventbus.EventBus, logger *slog.Logger) *EventBusNotifier {
	return &EventBusNotifier{
		bus:    bus,
		logger: logger.With("module", "notification"),
	}
}

// Notify publishes one notification.requested event and returns its event ID as the delivery ID.
func (n *EventBusNotifier) Notify(ctx context.Context, notification protocol.Notification) (string, error) {
	if notification.Recipient == "" {
		return "", ErrNoRecipient
	}

	channel := notification.Channel
	if channel == "" {
		channel = protocol.DefaultChannel
	}

	approvalID, _ := notification.Context["approval_id"].(string)
	refundID, _ := notification.Context["refund_id"].(string)

	event := events.NotificationRequested{
		BaseEvent:        events.NewBaseEvent(n.bus.GenerateID(), events.NotificationRequestedEvent, approvalID, refundID),
		NotificationType: string(notification.Type),
		Recipient:        notification.Recipient,
		Channel:          channel,
		Context:          notification.Context,
	}

	key := approvalID
	if key == "" {
		key = notification.Recipient
	}

	if err := n.bus.Publish(ctx, key, event); err != nil {
		return "", fmt.Errorf("failed to publish notification for %s: %w", notification.Recipient, err)
	}

	return event.ID, nil
}

// NotifyBulk sends each notification independently; one failure never stops the rest.
func (n *EventBusNotifier) NotifyBulk(ctx context.Context, notifications []protocol.Notification) []protocol.NotificationResult {
	results := make([]protocol.NotificationResult, 0, len(notifications))

	for _, notification := range notifications {
		id, err := n.Notify(ctx, notification)
		if err != nil {
			n.logger.WarnContext(ctx, "Failed to send notification",
				"recipient", notification.Recipient,
				"type", notification.Type,
				"error", err)
		}

		results = append(results, protocol.NotificationResult{
			Notification: notification,
			DeliveryID:   id,
			Err:          err,
		})
	}

	return results
}
