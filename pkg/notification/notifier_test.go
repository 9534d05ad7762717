package notification

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dukex/refund-approvals/pkg/events"
	"github.com/dukex/refund-approvals/pkg/mocks"
	"github.com/dukex/refund-approvals/pkg/protocol"
)

func TestEventBusNotifier_Notify(t *testing.T) {
	bus := &mocks.MockEventBus{}
	bus.On("GenerateID").Return("evt-1")
	bus.On("Publish", mock.Anything, "a-1", mock.MatchedBy(func(e events.NotificationRequested) bool {
		return e.Recipient == "role:FINANCE" && e.Channel == protocol.DefaultChannel &&
			e.ApprovalID == "a-1" && e.RefundID == "r-1" && e.NotificationType == "APPROVAL_REQUESTED"
	})).Return(nil)

	notifier := NewEventBusNotifier(bus, slog.Default())

	id, err := notifier.Notify(context.Background(), protocol.Notification{
		Type:      protocol.NotificationApprovalRequested,
		Recipient: "role:FINANCE",
		Context:   map[string]any{"approval_id": "a-1", "refund_id": "r-1"},
	})

	require.NoError(t, err)
	assert.Equal(t, "evt-1", id)
	bus.AssertExpectations(t)
}

func TestEventBusNotifier_NotifyBulkIsBestEffort(t *testing.T) {
	bus := &mocks.MockEventBus{}
	bus.On("GenerateID").Return("evt")
	bus.On("Publish", mock.Anything, "a-1", mock.MatchedBy(func(e events.NotificationRequested) bool {
		return e.Recipient == "broken"
	})).Return(errors.New("broker down"))
	bus.On("Publish", mock.Anything, "a-1", mock.Anything).Return(nil)

	notifier := NewEventBusNotifier(bus, slog.Default())
	ctx := map[string]any{"approval_id": "a-1"}

	results := notifier.NotifyBulk(context.Background(), []protocol.Notification{
		{Type: protocol.NotificationApprovalEscalated, Recipient: "broken", Context: ctx},
		{Type: protocol.NotificationApprovalEscalated, Recipient: "", Context: ctx},
		{Type: protocol.NotificationApprovalEscalated, Recipient: "role:CFO", Context: ctx},
	})

	require.Len(t, results, 3)
	assert.Error(t, results[0].Err)
	assert.ErrorIs(t, results[1].Err, ErrNoRecipient)
	assert.NoError(t, results[2].Err)
	assert.Equal(t, "evt", results[2].DeliveryID)
}
