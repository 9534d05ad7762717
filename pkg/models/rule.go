package models

import (
	"fmt"
	"time"

	"github.com/dukex/refund-approvals/pkg/condition"
)

// DefaultEscalationTimer applies to levels without an explicit timer.
const DefaultEscalationTimer = 4 * time.Hour

// TimerUnit is the unit an escalation timer duration is expressed in.
type TimerUnit string

const (
	TimerUnitMinutes TimerUnit = "MINUTES"
	TimerUnitHours   TimerUnit = "HOURS"
	TimerUnitDays    TimerUnit = "DAYS"
)

var timerUnits = map[TimerUnit]int{
	TimerUnitMinutes: 1,
	TimerUnitHours:   60,
	TimerUnitDays:    24 * 60,
}

// Minutes converts a duration in this unit to minutes. Unknown units are treated as minutes.
func (u TimerUnit) Minutes(duration int) int {
	factor, ok := timerUnits[u]
	if !ok {
		factor = 1
	}

	return duration * factor
}

// TimeoutAction is the terminal policy applied when the escalation ladder is exhausted.
type TimeoutAction string

const (
	TimeoutEscalate    TimeoutAction = "ESCALATE"
	TimeoutAutoApprove TimeoutAction = "AUTO_APPROVE"
	TimeoutAutoReject  TimeoutAction = "AUTO_REJECT"
	TimeoutNotifyAdmin TimeoutAction = "NOTIFY_ADMIN"
)

// Resolves reports whether the action drives the approval to a terminal status.
func (a TimeoutAction) Resolves() bool {
	return a == TimeoutAutoApprove || a == TimeoutAutoReject
}

// ApproverRole assigns a role to an escalation level.
type ApproverRole struct {
	Role  string `json:"role"  validate:"required"`
	Level int    `json:"level" validate:"gte=0"`
}

// EscalationTimer sets how long a level waits before escalating.
type EscalationTimer struct {
	Level    int       `json:"level"    validate:"gte=0"`
	Duration int       `json:"duration" validate:"gt=0"`
	Unit     TimerUnit `json:"unit"     validate:"omitempty,oneof=MINUTES HOURS DAYS"`
}

// Rule is a configured approval requirement scoped to one entity.
type Rule struct {
	ID                    string              `json:"id"`
	Name                  string              `json:"name"`
	ScopeType             ScopeType           `json:"scope_type"              validate:"required,oneof=MERCHANT ORGANIZATION PROGRAM BANK"`
	ScopeID               string              `json:"scope_id"                validate:"required"`
	Condition             condition.Condition `json:"condition"`
	ApproverRoles         []ApproverRole      `json:"approver_roles"          validate:"dive"`
	EscalationTimers      []EscalationTimer   `json:"escalation_timers"       validate:"dive"`
	Priority              int                 `json:"priority"`
	Active                bool                `json:"active"`
	OnTimeout             TimeoutAction       `json:"on_timeout,omitempty"    validate:"omitempty,oneof=ESCALATE AUTO_APPROVE AUTO_REJECT NOTIFY_ADMIN"`
	FinalEscalationTarget string              `json:"final_escalation_target,omitempty"`
	CreatedAt             time.Time           `json:"created_at"`
	UpdatedAt             time.Time           `json:"updated_at"`
}

// TimerForLevel returns the escalation delay for a level, falling back to the default.
func (r *Rule) TimerForLevel(level int, fallback time.Duration) time.Duration {
	for _, timer := range r.EscalationTimers {
		if timer.Level == level && timer.Duration > 0 {
			return time.Duration(timer.Unit.Minutes(timer.Duration)) * time.Minute
		}
	}

	return fallback
}

// RolesForLevel returns the roles configured for a level.
func (r *Rule) RolesForLevel(level int) []string {
	var roles []string

	for _, ar := range r.ApproverRoles {
		if ar.Level == level {
			roles = append(roles, ar.Role)
		}
	}

	return roles
}

// MaxLevel returns the highest configured approver level, or -1 when none are configured.
func (r *Rule) MaxLevel() int {
	maxLevel := -1

	for _, ar := range r.ApproverRoles {
		if ar.Level > maxLevel {
			maxLevel = ar.Level
		}
	}

	return maxLevel
}

// Validate checks invariants the struct tags cannot express.
func (r *Rule) Validate() error {
	if !r.ScopeType.Valid() {
		return fmt.Errorf("rule %s: unknown scope type %q", r.ID, r.ScopeType)
	}

	if err := condition.Validate(r.Condition); err != nil {
		return fmt.Errorf("rule %s: %w", r.ID, err)
	}

	for _, ar := range r.ApproverRoles {
		if ar.Level < 0 {
			return fmt.Errorf("rule %s: negative approver level %d", r.ID, ar.Level)
		}
	}

	return nil
}
