package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ApprovalStatus is the lifecycle state of an approval request.
type ApprovalStatus string

const (
	ApprovalPending   ApprovalStatus = "PENDING"
	ApprovalEscalated ApprovalStatus = "ESCALATED"
	ApprovalApproved  ApprovalStatus = "APPROVED"
	ApprovalRejected  ApprovalStatus = "REJECTED"
)

// IsTerminal reports whether no further decision or escalation is accepted.
func (s ApprovalStatus) IsTerminal() bool {
	return s == ApprovalApproved || s == ApprovalRejected
}

// DecisionOutcome is an approver's vote.
type DecisionOutcome string

const (
	OutcomeApproved DecisionOutcome = "APPROVED"
	OutcomeRejected DecisionOutcome = "REJECTED"
)

// ParseOutcome validates a decision outcome.
func ParseOutcome(s string) (DecisionOutcome, error) {
	switch o := DecisionOutcome(s); o {
	case OutcomeApproved, OutcomeRejected:
		return o, nil
	default:
		return "", fmt.Errorf("%w: unknown outcome %q", ErrInvalidOutcome, s)
	}
}

// EscalationTrigger records what moved an approval up the ladder.
type EscalationTrigger string

const (
	TriggerScheduled EscalationTrigger = "SCHEDULED"
	TriggerManual    EscalationTrigger = "MANUAL"
)

// Approver is a user or role reference assigned at one escalation level.
type Approver struct {
	ID         string `json:"id"`
	ApprovalID string `json:"approval_id"`

	// Ref is the user or role reference resolved from Role, e.g. "role:FINANCE_MANAGER".
	Ref  string `json:"ref"`
	Role string `json:"role"`

	EscalationLevel int        `json:"escalation_level"`
	AssignedAt      time.Time  `json:"assigned_at"`
	NotifiedAt      *time.Time `json:"notified_at,omitempty"`
}

// Decision is an approver's recorded vote. Decisions are append-only.
type Decision struct {
	ID              string          `json:"id"`
	ApprovalID      string          `json:"approval_id"`
	ApproverID      string          `json:"approver_id"`
	Outcome         DecisionOutcome `json:"outcome"`
	Notes           string          `json:"notes,omitempty"`
	DecidedAt       time.Time       `json:"decided_at"`
	EscalationLevel int             `json:"escalation_level"`
}

// EscalationRecord is one entry of the escalation audit trail.
type EscalationRecord struct {
	FromLevel int               `json:"from_level"`
	ToLevel   int               `json:"to_level"`
	Trigger   EscalationTrigger `json:"trigger"`
	ActorID   string            `json:"actor_id,omitempty"`
	Reason    string            `json:"reason,omitempty"`
	// Action is empty for a plain level change, or the terminal policy applied at the top of the ladder.
	Action TimeoutAction `json:"action,omitempty"`
	At     time.Time     `json:"at"`
}

// ApproverAssignment is a resolved approver to be added to a level.
type ApproverAssignment struct {
	Ref  string
	Role string
}

// ApprovalRequest is the aggregate root tracking one refund's sign-off.
type ApprovalRequest struct {
	ID          string         `json:"id"`
	RefundID    string         `json:"refund_id"`
	Status      ApprovalStatus `json:"status"`
	RequestedAt time.Time      `json:"requested_at"`
	RequestedBy string         `json:"requested_by,omitempty"`

	// Approvers is a snapshot taken when each level opened; later rule edits never alter it.
	Approvers []Approver `json:"approvers"`
	Decisions []Decision `json:"decisions"`

	EscalationLevel int                `json:"escalation_level"`
	EscalationDueAt time.Time          `json:"escalation_due_at"`
	Escalations     []EscalationRecord `json:"escalations,omitempty"`

	// LadderExhaustedAt is set once the top level timed out under a non-resolving policy.
	LadderExhaustedAt *time.Time `json:"ladder_exhausted_at,omitempty"`
	ArchivedAt        *time.Time `json:"archived_at,omitempty"`

	// Version increments on every persisted mutation and guards compare-and-swap updates.
	Version int64 `json:"version"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewApprovalRequest opens a PENDING request with the level 0 approvers.
func NewApprovalRequest(refundID, requestedBy string, approvers []ApproverAssignment, dueAt, now time.Time) (*ApprovalRequest, error) {
	if refundID == "" {
		return nil, fmt.Errorf("%w: refund id is required", ErrInvalidApproval)
	}

	if len(approvers) == 0 {
		return nil, fmt.Errorf("%w: at least one approver is required", ErrInvalidApproval)
	}

	now = now.UTC()
	a := &ApprovalRequest{
		ID:              uuid.New().String(),
		RefundID:        refundID,
		Status:          ApprovalPending,
		RequestedAt:     now,
		RequestedBy:     requestedBy,
		Approvers:       []Approver{},
		Decisions:       []Decision{},
		EscalationLevel: 0,
		EscalationDueAt: dueAt.UTC(),
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	a.addApprovers(0, approvers, now)

	return a, nil
}

// IsAwaitingDecision reports whether decisions and escalations are still accepted.
func (a *ApprovalRequest) IsAwaitingDecision() bool {
	return a.Status == ApprovalPending || a.Status == ApprovalEscalated
}

func (a *ApprovalRequest) IsTerminal() bool {
	return a.Status.IsTerminal()
}

// IsDue reports whether the current level's deadline has passed.
func (a *ApprovalRequest) IsDue(now time.Time) bool {
	return a.IsAwaitingDecision() && !a.EscalationDueAt.After(now)
}

// CurrentApprovers returns the approvers assigned at the current escalation level.
func (a *ApprovalRequest) CurrentApprovers() []Approver {
	return a.approversAt(a.EscalationLevel)
}

// FindApprover looks up a current-level approver by ID or by user/role reference.
func (a *ApprovalRequest) FindApprover(approverID string) (*Approver, bool) {
	for i := range a.Approvers {
		ap := &a.Approvers[i]
		if ap.EscalationLevel != a.EscalationLevel {
			continue
		}

		if ap.ID == approverID || ap.Ref == approverID {
			return ap, true
		}
	}

	return nil, false
}

// HasDecided reports whether the approver already voted at the current level.
func (a *ApprovalRequest) HasDecided(approverID string) bool {
	for _, d := range a.Decisions {
		if d.ApproverID == approverID && d.EscalationLevel == a.EscalationLevel {
			return true
		}
	}

	return false
}

// RecordDecision appends a vote for a current-level approver and applies the resulting outcome.
// The returned bool is true when the vote resolved the request.
func (a *ApprovalRequest) RecordDecision(approverID string, outcome DecisionOutcome, notes string, now time.Time) (*Decision, bool, error) {
	if !a.IsAwaitingDecision() {
		return nil, false, fmt.Errorf("%w: approval %s is %s", ErrInvalidState, a.ID, a.Status)
	}

	if outcome != OutcomeApproved && outcome != OutcomeRejected {
		return nil, false, fmt.Errorf("%w: unknown outcome %q", ErrInvalidOutcome, outcome)
	}

	approver, ok := a.FindApprover(approverID)
	if !ok {
		return nil, false, fmt.Errorf("%w: %s at level %d", ErrApproverNotAssigned, approverID, a.EscalationLevel)
	}

	if a.HasDecided(approver.ID) {
		return nil, false, fmt.Errorf("%w: %s at level %d", ErrAlreadyDecided, approverID, a.EscalationLevel)
	}

	now = now.UTC()
	decision := Decision{
		ID:              uuid.New().String(),
		ApprovalID:      a.ID,
		ApproverID:      approver.ID,
		Outcome:         outcome,
		Notes:           notes,
		DecidedAt:       now,
		EscalationLevel: a.EscalationLevel,
	}
	a.Decisions = append(a.Decisions, decision)
	a.UpdatedAt = now

	result := a.Outcome()
	if result.IsTerminal() {
		if err := a.Resolve(result, now); err != nil {
			return nil, false, err
		}

		return &decision, true, nil
	}

	return &decision, false, nil
}

// Outcome computes the status implied by current-level decisions: one rejection vetoes,
// approval requires every current-level approver. Otherwise the status is unchanged.
func (a *ApprovalRequest) Outcome() ApprovalStatus {
	approved := map[string]bool{}

	for _, d := range a.Decisions {
		if d.EscalationLevel != a.EscalationLevel {
			continue
		}

		if d.Outcome == OutcomeRejected {
			return ApprovalRejected
		}

		approved[d.ApproverID] = true
	}

	current := a.CurrentApprovers()
	if len(current) == 0 {
		return a.Status
	}

	for _, ap := range current {
		if !approved[ap.ID] {
			return a.Status
		}
	}

	return ApprovalApproved
}

// Resolve moves the request to a terminal status and archives it.
func (a *ApprovalRequest) Resolve(status ApprovalStatus, now time.Time) error {
	if !status.IsTerminal() {
		return fmt.Errorf("%w: %s is not a terminal status", ErrInvalidState, status)
	}

	if !a.IsAwaitingDecision() {
		return fmt.Errorf("%w: approval %s is %s", ErrInvalidState, a.ID, a.Status)
	}

	now = now.UTC()
	a.Status = status
	a.ArchivedAt = &now
	a.UpdatedAt = now

	return nil
}

// Escalate opens the next level with the given approvers and deadline.
func (a *ApprovalRequest) Escalate(approvers []ApproverAssignment, dueAt time.Time, rec EscalationRecord, now time.Time) error {
	if !a.IsAwaitingDecision() {
		return fmt.Errorf("%w: approval %s is %s", ErrInvalidState, a.ID, a.Status)
	}

	if len(approvers) == 0 {
		return fmt.Errorf("%w: escalation needs at least one approver", ErrInvalidApproval)
	}

	now = now.UTC()
	rec.FromLevel = a.EscalationLevel
	rec.ToLevel = a.EscalationLevel + 1
	rec.At = now

	a.EscalationLevel++
	a.Status = ApprovalEscalated
	a.EscalationDueAt = dueAt.UTC()
	a.addApprovers(a.EscalationLevel, approvers, now)
	a.Escalations = append(a.Escalations, rec)
	a.UpdatedAt = now

	return nil
}

// ResolveOnTimeout applies a resolving terminal policy once the ladder is exhausted.
func (a *ApprovalRequest) ResolveOnTimeout(action TimeoutAction, rec EscalationRecord, now time.Time) error {
	var status ApprovalStatus

	switch action {
	case TimeoutAutoApprove:
		status = ApprovalApproved
	case TimeoutAutoReject:
		status = ApprovalRejected
	default:
		return fmt.Errorf("%w: %s does not resolve an approval", ErrInvalidState, action)
	}

	if err := a.Resolve(status, now); err != nil {
		return err
	}

	rec.FromLevel = a.EscalationLevel
	rec.ToLevel = a.EscalationLevel
	rec.Action = action
	rec.At = now.UTC()
	a.Escalations = append(a.Escalations, rec)

	return nil
}

// MarkLadderExhausted keeps the request open at the top level awaiting manual intervention and
// schedules the next reminder at nextDueAt.
func (a *ApprovalRequest) MarkLadderExhausted(rec EscalationRecord, nextDueAt, now time.Time) error {
	if !a.IsAwaitingDecision() {
		return fmt.Errorf("%w: approval %s is %s", ErrInvalidState, a.ID, a.Status)
	}

	now = now.UTC()
	if a.LadderExhaustedAt == nil {
		a.LadderExhaustedAt = &now
	}

	rec.FromLevel = a.EscalationLevel
	rec.ToLevel = a.EscalationLevel
	rec.At = now

	a.Status = ApprovalEscalated
	a.EscalationDueAt = nextDueAt.UTC()
	a.Escalations = append(a.Escalations, rec)
	a.UpdatedAt = now

	return nil
}

// MarkNotified stamps NotifiedAt on the given approvers.
func (a *ApprovalRequest) MarkNotified(approverIDs []string, now time.Time) {
	now = now.UTC()

	for _, id := range approverIDs {
		for i := range a.Approvers {
			if a.Approvers[i].ID == id && a.Approvers[i].NotifiedAt == nil {
				a.Approvers[i].NotifiedAt = &now
			}
		}
	}
}

// Clone returns a deep copy so stores never share slices with callers.
func (a *ApprovalRequest) Clone() *ApprovalRequest {
	c := *a
	c.Approvers = append([]Approver(nil), a.Approvers...)
	c.Decisions = append([]Decision(nil), a.Decisions...)
	c.Escalations = append([]EscalationRecord(nil), a.Escalations...)

	for i := range c.Approvers {
		if n := c.Approvers[i].NotifiedAt; n != nil {
			t := *n
			c.Approvers[i].NotifiedAt = &t
		}
	}

	if a.LadderExhaustedAt != nil {
		t := *a.LadderExhaustedAt
		c.LadderExhaustedAt = &t
	}

	if a.ArchivedAt != nil {
		t := *a.ArchivedAt
		c.ArchivedAt = &t
	}

	return &c
}

func (a *ApprovalRequest) approversAt(level int) []Approver {
	var out []Approver

	for _, ap := range a.Approvers {
		if ap.EscalationLevel == level {
			out = append(out, ap)
		}
	}

	return out
}

// addApprovers appends approvers for a level, skipping references already assigned there.
func (a *ApprovalRequest) addApprovers(level int, assignments []ApproverAssignment, now time.Time) {
	seen := map[string]bool{}
	for _, ap := range a.approversAt(level) {
		seen[ap.Ref] = true
	}

	for _, as := range assignments {
		if as.Ref == "" || seen[as.Ref] {
			continue
		}

		seen[as.Ref] = true
		a.Approvers = append(a.Approvers, Approver{
			ID:              uuid.New().String(),
			ApprovalID:      a.ID,
			Ref:             as.Ref,
			Role:            as.Role,
			EscalationLevel: level,
			AssignedAt:      now,
		})
	}
}

var (
	// ErrInvalidState is returned when an operation is illegal for the current status.
	ErrInvalidState = errors.New("invalid approval state")
	// ErrInvalidApproval is returned when an approval cannot be constructed or extended.
	ErrInvalidApproval = errors.New("invalid approval")
	// ErrInvalidOutcome is returned for votes other than APPROVED or REJECTED.
	ErrInvalidOutcome = errors.New("invalid decision outcome")
	// ErrApproverNotAssigned is returned when the voter is not an approver at the current level.
	ErrApproverNotAssigned = errors.New("approver not assigned at current level")
	// ErrAlreadyDecided is returned when an approver votes twice at the same level.
	ErrAlreadyDecided = errors.New("approver already decided at current level")
)
