// Package events defines the notifications published as approvals move through their lifecycle.
package events

import (
	"time"

	"github.com/dukex/refund-approvals/pkg/models"
)

type EventType string

// Topic carries every approval event.
const Topic = "refund-approvals.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	ApprovalCreatedEvent             EventType = "approval.created"
	DecisionRecordedEvent            EventType = "approval.decision_recorded"
	ApprovalResolvedEvent            EventType = "approval.resolved"
	ApprovalEscalatedEvent           EventType = "approval.escalated"
	LadderExhaustedEvent             EventType = "approval.ladder_exhausted"
	NotificationRequestedEvent       EventType = "notification.requested"
	RefundStatusUpdateRequestedEvent EventType = "refund.status_update_requested"
)

// ResolutionReason tells whether an approval was resolved by a vote or by its timeout policy.
type ResolutionReason string

const (
	ResolvedByDecision ResolutionReason = "decision"
	ResolvedByTimeout  ResolutionReason = "timeout"
)

type BaseEvent struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	Timestamp  time.Time      `json:"timestamp"`
	ApprovalID string         `json:"approval_id,omitempty"`
	RefundID   string         `json:"refund_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// NewBaseEvent stamps the common fields of an event.
func NewBaseEvent(id string, eventType EventType, approvalID, refundID string) BaseEvent {
	return BaseEvent{
		ID:         id,
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		ApprovalID: approvalID,
		RefundID:   refundID,
	}
}

type ApprovalCreated struct {
	BaseEvent

	Status           models.ApprovalStatus `json:"status"`
	Approvers        []string              `json:"approvers"`
	EscalationDueAt  time.Time             `json:"escalation_due_at"`
	MatchedRules     []string              `json:"matched_rules"`
	MatchedWorkflows []string              `json:"matched_workflows,omitempty"`
}

func (e ApprovalCreated) GetType() EventType {
	return ApprovalCreatedEvent
}

type DecisionRecorded struct {
	BaseEvent

	ApproverID      string                 `json:"approver_id"`
	Outcome         models.DecisionOutcome `json:"outcome"`
	Notes           string                 `json:"notes,omitempty"`
	EscalationLevel int                    `json:"escalation_level"`
}

func (e DecisionRecorded) GetType() EventType {
	return DecisionRecordedEvent
}

type ApprovalResolved struct {
	BaseEvent

	Status          models.ApprovalStatus `json:"status"`
	Reason          ResolutionReason      `json:"reason"`
	EscalationLevel int                   `json:"escalation_level"`
}

func (e ApprovalResolved) GetType() EventType {
	return ApprovalResolvedEvent
}

type ApprovalEscalated struct {
	BaseEvent

	FromLevel       int                      `json:"from_level"`
	ToLevel         int                      `json:"to_level"`
	Trigger         models.EscalationTrigger `json:"trigger"`
	ActorID         string                   `json:"actor_id,omitempty"`
	Reason          string                   `json:"reason,omitempty"`
	Approvers       []string                 `json:"approvers"`
	EscalationDueAt time.Time                `json:"escalation_due_at"`
}

func (e ApprovalEscalated) GetType() EventType {
	return ApprovalEscalatedEvent
}

type LadderExhausted struct {
	BaseEvent

	EscalationLevel int                  `json:"escalation_level"`
	Action          models.TimeoutAction `json:"action"`
	Recipients      []string             `json:"recipients"`
	NextReminderAt  time.Time            `json:"next_reminder_at"`
}

func (e LadderExhausted) GetType() EventType {
	return LadderExhaustedEvent
}

type NotificationRequested struct {
	BaseEvent

	NotificationType string         `json:"notification_type"`
	Recipient        string         `json:"recipient"`
	Channel          string         `json:"channel"`
	Context          map[string]any `json:"context,omitempty"`
}

func (e NotificationRequested) GetType() EventType {
	return NotificationRequestedEvent
}

type RefundStatusUpdateRequested struct {
	BaseEvent

	Status string         `json:"status"`
	Meta   map[string]any `json:"meta,omitempty"`
}

func (e RefundStatusUpdateRequested) GetType() EventType {
	return RefundStatusUpdateRequestedEvent
}

var registry = map[EventType]func() any{
	ApprovalCreatedEvent:             func() any { return &ApprovalCreated{} },
	DecisionRecordedEvent:            func() any { return &DecisionRecorded{} },
	ApprovalResolvedEvent:            func() any { return &ApprovalResolved{} },
	ApprovalEscalatedEvent:           func() any { return &ApprovalEscalated{} },
	LadderExhaustedEvent:             func() any { return &LadderExhausted{} },
	NotificationRequestedEvent:       func() any { return &NotificationRequested{} },
	RefundStatusUpdateRequestedEvent: func() any { return &RefundStatusUpdateRequested{} },
}

// New returns a pointer to an empty event of the given type for decoding.
func New(eventType EventType) (any, bool) {
	factory, ok := registry[eventType]
	if !ok {
		return nil, false
	}

	return factory(), true
}
