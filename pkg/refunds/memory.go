package refunds

import (
	"context"
	"fmt"
	"sync"

	"github.com/dukex/refund-approvals/pkg/models"
	"github.com/dukex/refund-approvals/pkg/protocol"
)

// StatusChange is one status written through a Memory manager.
type StatusChange struct {
	RefundID string
	Status   string
	Meta     map[string]any
}

// Memory is an in-process RefundManager holding the snapshots it was given.
type Memory struct {
	mu      sync.RWMutex
	refunds map[string]models.RefundSnapshot
	changes []StatusChange
}

func NewMemory() *Memory {
	return &Memory{refunds: map[string]models.RefundSnapshot{}}
}

// Put stores or replaces a snapshot.
func (m *Memory) Put(refund *models.RefundSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.refunds[refund.ID] = *refund
}

func (m *Memory) GetRefund(_ context.Context, id string) (*models.RefundSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	refund, ok := m.refunds[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", protocol.ErrRefundNotFound, id)
	}

	return &refund, nil
}

func (m *Memory) UpdateRefundStatus(_ context.Context, id string, status string, meta map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	refund, ok := m.refunds[id]
	if !ok {
		return fmt.Errorf("%w: %s", protocol.ErrRefundNotFound, id)
	}

	refund.Status = status
	m.refunds[id] = refund
	m.changes = append(m.changes, StatusChange{RefundID: id, Status: status, Meta: meta})

	return nil
}

// StatusChanges returns every status update received, oldest first.
func (m *Memory) StatusChanges() []StatusChange {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return append([]StatusChange(nil), m.changes...)
}
