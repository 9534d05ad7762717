package protocol

import "context"

// NotificationType identifies what a notification is about.
type NotificationType string

const (
	NotificationApprovalRequested NotificationType = "APPROVAL_REQUESTED"
	NotificationApprovalEscalated NotificationType = "APPROVAL_ESCALATED"
	NotificationApprovalResolved  NotificationType = "APPROVAL_RESOLVED"
	NotificationLadderExhausted   NotificationType = "LADDER_EXHAUSTED"
)

// DefaultChannel is used when a notification does not name a channel.
const DefaultChannel = "email"

type Notification struct {
	Type      NotificationType `json:"type"`
	Recipient string           `json:"recipient"`
	Channel   string           `json:"channel"`
	Context   map[string]any   `json:"context,omitempty"`
}

type NotificationResult struct {
	Notification Notification
	DeliveryID   string
	Err          error
}

// Notifier is the notification dispatcher. Delivery is best-effort.
type Notifier interface {
	// Notify returns a delivery ID, empty when the dispatcher assigns none.
	Notify(ctx context.Context, n Notification) (string, error)
	NotifyBulk(ctx context.Context, ns []Notification) []NotificationResult
}
