package mocks

import (
	"context"

	"github.com/dukex/refund-approvals/pkg/models"
	"github.com/dukex/refund-approvals/pkg/protocol"
	"github.com/stretchr/testify/mock"
)

// MockRefundManager is a mock implementation of protocol.RefundManager interface.
type MockRefundManager struct {
	mock.Mock
}

func (m *MockRefundManager) GetRefund(ctx context.Context, id string) (*models.RefundSnapshot, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.RefundSnapshot), args.Error(1)
}

func (m *MockRefundManager) UpdateRefundStatus(ctx context.Context, id string, status string, meta map[string]any) error {
	args := m.Called(ctx, id, status, meta)

	return args.Error(0)
}

// MockNotifier is a mock implementation of protocol.Notifier interface.
type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Notify(ctx context.Context, n protocol.Notification) (string, error) {
	args := m.Called(ctx, n)

	return args.String(0), args.Error(1)
}

func (m *MockNotifier) NotifyBulk(ctx context.Context, ns []protocol.Notification) []protocol.NotificationResult {
	args := m.Called(ctx, ns)
	if args.Get(0) == nil {
		return nil
	}

	return args.Get(0).([]protocol.NotificationResult)
}
