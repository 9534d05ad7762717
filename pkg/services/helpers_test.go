package services

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dukex/refund-approvals/pkg/condition"
	"github.com/dukex/refund-approvals/pkg/config"
	"github.com/dukex/refund-approvals/pkg/events"
	"github.com/dukex/refund-approvals/pkg/lock"
	"github.com/dukex/refund-approvals/pkg/mocks"
	"github.com/dukex/refund-approvals/pkg/models"
	"github.com/dukex/refund-approvals/pkg/persistence"
	"github.com/dukex/refund-approvals/pkg/persistence/file"
	"github.com/dukex/refund-approvals/pkg/protocol"
	"github.com/dukex/refund-approvals/pkg/refunds"
	"github.com/dukex/refund-approvals/pkg/rules"
)

// recordingNotifier keeps every notification it is asked to send.
type recordingNotifier struct {
	mu   sync.Mutex
	sent []protocol.Notification

	// onBulk runs before a bulk delivery is recorded.
	onBulk func(ns []protocol.Notification)
}

func (n *recordingNotifier) Notify(_ context.Context, notification protocol.Notification) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.sent = append(n.sent, notification)

	return "delivery-" + notification.Recipient, nil
}

func (n *recordingNotifier) NotifyBulk(ctx context.Context, ns []protocol.Notification) []protocol.NotificationResult {
	if n.onBulk != nil {
		n.onBulk(ns)
	}

	results := make([]protocol.NotificationResult, 0, len(ns))

	for _, notification := range ns {
		id, err := n.Notify(ctx, notification)
		results = append(results, protocol.NotificationResult{Notification: notification, DeliveryID: id, Err: err})
	}

	return results
}

func (n *recordingNotifier) byType(kind protocol.NotificationType) []protocol.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()

	var out []protocol.Notification

	for _, notification := range n.sent {
		if notification.Type == kind {
			out = append(out, notification)
		}
	}

	return out
}

type harness struct {
	root     string
	svc      *Approvals
	store    persistence.Persistence
	refunds  *refunds.Memory
	notifier *recordingNotifier
	bus      *mocks.MockEventBus
	locker   lock.Locker
	cfg      config.Engine

	mu  sync.Mutex
	now time.Time
}

type harnessOption func(h *harness)

func withConfig(fn func(cfg *config.Engine)) harnessOption {
	return func(h *harness) { fn(&h.cfg) }
}

func withStore(wrap func(persistence.Persistence) persistence.Persistence) harnessOption {
	return func(h *harness) { h.store = wrap(h.store) }
}

func withLocker(l lock.Locker) harnessOption {
	return func(h *harness) { h.locker = l }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()

	bus := &mocks.MockEventBus{}
	bus.On("GenerateID").Return("evt").Maybe()
	bus.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()

	root := t.TempDir()

	h := &harness{
		root:     root,
		store:    file.NewPersistence(root),
		refunds:  refunds.NewMemory(),
		notifier: &recordingNotifier{},
		bus:      bus,
		cfg:      config.Default(),
		now:      time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC),
	}

	for _, opt := range opts {
		opt(h)
	}

	engine := rules.NewEngine(slog.Default(),
		rules.WithClock(h.clock),
		rules.WithDefaultTimer(h.cfg.DefaultEscalationTimer))

	svc, err := NewApprovals(Dependencies{
		Persistence: h.store,
		Refunds:     h.refunds,
		Notifier:    h.notifier,
		EventBus:    bus,
		Locker:      h.locker,
		Engine:      engine,
		Config:      h.cfg,
		Logger:      slog.Default(),
	})
	require.NoError(t, err)

	h.svc = svc

	return h
}

func (h *harness) clock() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.now
}

func (h *harness) advance(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.now = h.now.Add(d)
}

func (h *harness) saveRule(t *testing.T, rule models.Rule) {
	t.Helper()
	require.NoError(t, h.store.RuleRepository().SaveRule(context.Background(), &rule))
}

// writeRuleDocument stores a raw rule document, bypassing validation on save.
func (h *harness) writeRuleDocument(t *testing.T, id, doc string) {
	t.Helper()

	dir := filepath.Join(h.root, "rules")
	require.NoError(t, os.MkdirAll(dir, 0750))
	require.NoError(t, os.WriteFile(filepath.Join(dir, id+".json"), []byte(doc), 0600))
}

func (h *harness) saveWorkflow(t *testing.T, wf models.Workflow) {
	t.Helper()
	require.NoError(t, h.store.RuleRepository().SaveWorkflow(context.Background(), &wf))
}

// open registers the refund and creates its approval.
func (h *harness) open(t *testing.T, refund *models.RefundSnapshot) *models.ApprovalRequest {
	t.Helper()

	h.refunds.Put(refund)

	approval, err := h.svc.CreateApproval(context.Background(), refund, nil)
	require.NoError(t, err)

	return approval
}

func (h *harness) reload(t *testing.T, id string) *models.ApprovalRequest {
	t.Helper()

	approval, err := h.store.ApprovalRepository().GetByID(context.Background(), id)
	require.NoError(t, err)

	return approval
}

func (h *harness) published() []events.EventType {
	var types []events.EventType

	for _, call := range h.bus.Calls {
		if call.Method != "Publish" {
			continue
		}

		if e, ok := call.Arguments.Get(2).(interface{ GetType() events.EventType }); ok {
			types = append(types, e.GetType())
		}
	}

	return types
}

func (h *harness) publishedOf(eventType events.EventType) []any {
	var out []any

	for _, call := range h.bus.Calls {
		if call.Method != "Publish" {
			continue
		}

		if e, ok := call.Arguments.Get(2).(interface{ GetType() events.EventType }); ok && e.GetType() == eventType {
			out = append(out, call.Arguments.Get(2))
		}
	}

	return out
}

func refund(id string, amount float64) *models.RefundSnapshot {
	return &models.RefundSnapshot{
		ID:          id,
		Amount:      amount,
		Currency:    "USD",
		MerchantID:  "m-1",
		Method:      "CARD",
		RequestedBy: "agent-7",
	}
}

func amountRule(id string, threshold float64, roles ...models.ApproverRole) models.Rule {
	return models.Rule{
		ID:            id,
		Name:          id,
		ScopeType:     models.ScopeMerchant,
		ScopeID:       "m-1",
		Condition:     condition.Simple("amount", condition.OperatorGreaterThan, threshold),
		ApproverRoles: roles,
		Priority:      1,
		Active:        true,
	}
}

func role(name string, level int) models.ApproverRole {
	return models.ApproverRole{Role: name, Level: level}
}

func timer(level, duration int, unit models.TimerUnit) models.EscalationTimer {
	return models.EscalationTimer{Level: level, Duration: duration, Unit: unit}
}
