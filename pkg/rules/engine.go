// Package rules matches refunds against configured rules and workflows and derives approver
// levels, deadlines and terminal policies from the matches.
package rules

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/dukex/refund-approvals/pkg/condition"
	"github.com/dukex/refund-approvals/pkg/models"
	"github.com/dukex/refund-approvals/pkg/otelhelper"
)

// DefaultMaxLevel is the ladder ceiling when no approver roles are configured.
const DefaultMaxLevel = 3

// Engine evaluates rule and workflow configuration. It holds no per-refund state.
type Engine struct {
	logger       *slog.Logger
	metrics      *otelhelper.Metrics
	defaultTimer time.Duration
	now          func() time.Time
}

// Option customizes an Engine.
type Option func(*Engine)

// WithDefaultTimer sets the delay for levels without an escalation timer.
func WithDefaultTimer(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.defaultTimer = d
		}
	}
}

// WithClock overrides the time source used for deadlines.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithMetrics sets the instruments malformed conditions are counted on.
func WithMetrics(m *otelhelper.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func NewEngine(logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		logger:       logger.With("module", "rule_engine"),
		defaultTimer: models.DefaultEscalationTimer,
		now:          time.Now,
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.metrics == nil {
		e.metrics = otelhelper.DefaultMetrics()
	}

	return e
}

// Now returns the engine's current time.
func (e *Engine) Now() time.Time {
	return e.now().UTC()
}

// WorkflowMatch is a workflow whose trigger fired together with its matching rules.
type WorkflowMatch struct {
	Workflow *models.Workflow
	Rules    []*models.Rule
}

// Match is the result of evaluating a refund against all configuration.
type Match struct {
	Rules     []*models.Rule
	Workflows []WorkflowMatch
}

// evaluator reports malformed conditions for the owning rule or workflow.
func (e *Engine) evaluator(kind, id string) *condition.Evaluator {
	return condition.NewEvaluator(func(err *condition.ConfigurationError) {
		e.logger.Warn("malformed condition treated as no match", kind+"_id", id, "error", err)
		otelhelper.Inc(context.Background(), e.metrics.ConfigErrors,
			attribute.String(otelhelper.RuleIDKey, id), attribute.String("kind", kind))
	})
}

// MatchRules returns the active rules scoped to the refund whose condition holds, sorted by priority.
func (e *Engine) MatchRules(subject map[string]any, refund *models.RefundSnapshot, rules []models.Rule) []*models.Rule {
	var matched []*models.Rule

	for i := range rules {
		rule := &rules[i]
		if !rule.Active || !rule.ScopeType.Matches(rule.ScopeID, refund) {
			continue
		}

		if e.evaluator("rule", rule.ID).Evaluate(rule.Condition, subject) {
			matched = append(matched, rule)
		}
	}

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Priority < matched[j].Priority
	})

	return matched
}

// MatchWorkflows returns the active workflows scoped to the refund whose trigger fires and which
// contain at least one matching rule.
func (e *Engine) MatchWorkflows(subject map[string]any, refund *models.RefundSnapshot, workflows []models.Workflow) []WorkflowMatch {
	var matched []WorkflowMatch

	for i := range workflows {
		wf := &workflows[i]
		if !wf.Active || !wf.ScopeType.Matches(wf.ScopeID, refund) {
			continue
		}

		if !e.triggerFires(wf, subject, refund) {
			continue
		}

		rules := e.MatchRules(subject, refund, wf.Rules)
		if len(rules) == 0 {
			continue
		}

		matched = append(matched, WorkflowMatch{Workflow: wf, Rules: rules})
	}

	return matched
}

// Match evaluates the refund against rules and workflows.
func (e *Engine) Match(refund *models.RefundSnapshot, rules []models.Rule, workflows []models.Workflow) Match {
	subject := refund.Attributes()

	return Match{
		Rules:     e.MatchRules(subject, refund, rules),
		Workflows: e.MatchWorkflows(subject, refund, workflows),
	}
}

func (e *Engine) triggerFires(wf *models.Workflow, subject map[string]any, refund *models.RefundSnapshot) bool {
	switch wf.TriggerType {
	case models.TriggerAmount:
		return wf.Threshold != nil && refund.Amount >= *wf.Threshold
	case models.TriggerMethod:
		return wf.IsRestrictedMethod(refund.Method)
	case models.TriggerCustomer:
		return float64(refund.CustomerRefundCount) >= wf.ThresholdOr(models.DefaultCustomerRefundThreshold)
	case models.TriggerMerchant:
		return refund.MerchantRefundRate >= wf.ThresholdOr(models.DefaultMerchantRefundRate)
	case models.TriggerCustom:
		if wf.CustomCondition == nil {
			e.logger.Warn("custom workflow without condition treated as no match", "workflow_id", wf.ID)

			return false
		}

		return e.evaluator("workflow", wf.ID).Evaluate(*wf.CustomCondition, subject)
	default:
		e.logger.Warn("unknown workflow trigger treated as no match", "workflow_id", wf.ID, "trigger_type", wf.TriggerType)

		return false
	}
}

// DeadlineForLevel returns now plus the rule's timer for level, or the default timer.
func (e *Engine) DeadlineForLevel(rule *models.Rule, level int) time.Time {
	return e.Now().Add(rule.TimerForLevel(level, e.defaultTimer))
}

// Deadline returns the earliest deadline for level across all matched rules.
func (e *Engine) Deadline(m Match, level int) time.Time {
	var deadline time.Time

	for _, rule := range m.allRules() {
		d := e.DeadlineForLevel(rule, level)
		if deadline.IsZero() || d.Before(deadline) {
			deadline = d
		}
	}

	if deadline.IsZero() {
		return e.Now().Add(e.defaultTimer)
	}

	return deadline
}

// DefaultTimer returns the delay applied to levels without a timer.
func (e *Engine) DefaultTimer() time.Duration {
	return e.defaultTimer
}

// Required reports whether any rule or workflow matched.
func (m Match) Required() bool {
	return len(m.Rules) > 0 || len(m.Workflows) > 0
}

// ApproversForLevel returns the roles configured for level across direct and workflow rules,
// deduplicated with the first occurrence in priority order kept.
func (m Match) ApproversForLevel(level int) []string {
	seen := map[string]bool{}

	var roles []string

	for _, rule := range m.allRules() {
		for _, role := range rule.RolesForLevel(level) {
			if seen[role] {
				continue
			}

			seen[role] = true
			roles = append(roles, role)
		}
	}

	return roles
}

// MaxEscalationLevel returns the highest configured approver level, or defaultCeiling when
// no matched rule configures approver roles.
func (m Match) MaxEscalationLevel(defaultCeiling int) int {
	maxLevel := -1

	for _, rule := range m.allRules() {
		if l := rule.MaxLevel(); l > maxLevel {
			maxLevel = l
		}
	}

	if maxLevel < 0 {
		return defaultCeiling
	}

	return maxLevel
}

// Policy is the action applied when the top level times out.
type Policy struct {
	OnTimeout             models.TimeoutAction
	FinalEscalationTarget string
}

// TerminalPolicy picks the first rule in priority order with its own timeout action, then the first
// matched workflow's, then NOTIFY_ADMIN. The final escalation target follows the same precedence.
func (m Match) TerminalPolicy() Policy {
	var policy Policy

	for _, rule := range m.allRules() {
		if policy.OnTimeout == "" && rule.OnTimeout != "" {
			policy.OnTimeout = rule.OnTimeout
		}

		if policy.FinalEscalationTarget == "" && rule.FinalEscalationTarget != "" {
			policy.FinalEscalationTarget = rule.FinalEscalationTarget
		}
	}

	for _, wm := range m.Workflows {
		if policy.OnTimeout == "" && wm.Workflow.OnTimeout != "" {
			policy.OnTimeout = wm.Workflow.OnTimeout
		}

		if policy.FinalEscalationTarget == "" && wm.Workflow.FinalEscalationTarget != "" {
			policy.FinalEscalationTarget = wm.Workflow.FinalEscalationTarget
		}
	}

	if policy.OnTimeout == "" {
		policy.OnTimeout = models.TimeoutNotifyAdmin
	}

	return policy
}

// RuleIDs lists the IDs of every matched rule.
func (m Match) RuleIDs() []string {
	rules := m.allRules()
	ids := make([]string, 0, len(rules))

	for _, rule := range rules {
		ids = append(ids, rule.ID)
	}

	return ids
}

// WorkflowIDs lists the IDs of the matched workflows.
func (m Match) WorkflowIDs() []string {
	ids := make([]string, 0, len(m.Workflows))

	for _, wm := range m.Workflows {
		ids = append(ids, wm.Workflow.ID)
	}

	return ids
}

// allRules merges direct and workflow rules in ascending priority order.
func (m Match) allRules() []*models.Rule {
	all := append([]*models.Rule(nil), m.Rules...)

	for _, wm := range m.Workflows {
		all = append(all, wm.Rules...)
	}

	sort.SliceStable(all, func(i, j int) bool {
		return all[i].Priority < all[j].Priority
	})

	return all
}
