package services

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/dukex/refund-approvals/pkg/config"
	"github.com/dukex/refund-approvals/pkg/events"
	"github.com/dukex/refund-approvals/pkg/lock"
	"github.com/dukex/refund-approvals/pkg/log"
	"github.com/dukex/refund-approvals/pkg/models"
	"github.com/dukex/refund-approvals/pkg/otelhelper"
	"github.com/dukex/refund-approvals/pkg/persistence"
	"github.com/dukex/refund-approvals/pkg/protocol"
	"github.com/dukex/refund-approvals/pkg/rules"
)

// EscalationRequest describes why an approval is escalated.
type EscalationRequest struct {
	Trigger models.EscalationTrigger
	ActorID string
	Reason  string
}

type escalationKind int

const (
	escalationSkipped escalationKind = iota
	escalationLevelUp
	escalationResolved
	escalationExhausted
)

// escalationResult carries what a committed escalation changed so side effects can follow.
type escalationResult struct {
	kind       escalationKind
	fromLevel  int
	policy     rules.Policy
	recipients []string
	nextDueAt  time.Time
}

// Escalator moves overdue approvals up the approver ladder.
type Escalator struct {
	*effects

	rules   persistence.RuleRepository
	engine  *rules.Engine
	locker  lock.Locker
	cfg     config.Engine
	metrics *otelhelper.Metrics
}

// ProcessEscalations escalates up to batchSize due approvals. Each approval is handled
// independently: failures are logged and counted but never abort the batch. The returned count
// is the number of approvals escalated or resolved; only a failed due query returns an error.
func (e *Escalator) ProcessEscalations(ctx context.Context, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = e.cfg.Scheduler.BatchSize
	}

	due, err := e.approvals.DueEscalations(ctx, e.engine.Now(), batchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to query due escalations: %w", err)
	}

	if len(due) == 0 {
		return 0, nil
	}

	logger := log.FromContext(ctx, e.logger)

	var succeeded, failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(e.cfg.Scheduler.Workers, 1))

	for _, approval := range due {
		g.Go(func() error {
			escalated, err := e.escalateDue(gctx, approval)
			if err != nil {
				failed.Add(1)
				otelhelper.Inc(ctx, e.metrics.EscalationFailures)
				logger.ErrorContext(ctx, "Failed to escalate approval",
					"approval_id", approval.ID,
					"refund_id", approval.RefundID,
					"error", err)

				return nil
			}

			if escalated {
				succeeded.Add(1)
			}

			return nil
		})
	}

	_ = g.Wait()

	logger.InfoContext(ctx, "Escalation batch processed",
		"due", len(due),
		"escalated", succeeded.Load(),
		"failed", failed.Load())

	return int(succeeded.Load()), nil
}

// escalateDue holds the approval's lease while escalating it. An approval leased by another
// replica is skipped without counting as a failure.
func (e *Escalator) escalateDue(ctx context.Context, approval *models.ApprovalRequest) (bool, error) {
	lease, ok, err := e.locker.TryAcquire(ctx, lock.Key(approval.ID), e.cfg.LeaseTTL)
	if err != nil {
		return false, err
	}

	if !ok {
		e.logger.DebugContext(ctx, "Approval leased elsewhere, skipping", "approval_id", approval.ID)

		return false, nil
	}

	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			e.logger.WarnContext(ctx, "Failed to release lease", "approval_id", approval.ID, "error", err)
		}
	}()

	_, result, err := e.escalate(ctx, approval, EscalationRequest{Trigger: models.TriggerScheduled})
	if err != nil {
		return false, err
	}

	return result.kind != escalationSkipped, nil
}

// Escalate re-resolves live rules and workflows against a fresh refund snapshot and moves the
// approval one level up, or applies the terminal policy once the ladder is exhausted.
func (e *Escalator) Escalate(ctx context.Context, approval *models.ApprovalRequest, req EscalationRequest) (*models.ApprovalRequest, error) {
	updated, _, err := e.escalate(ctx, approval, req)
	if err != nil {
		return nil, translate("escalate", err)
	}

	return updated, nil
}

func (e *Escalator) escalate(ctx context.Context, approval *models.ApprovalRequest, req EscalationRequest) (*models.ApprovalRequest, escalationResult, error) {
	ctx, span := otelhelper.StartSpan(ctx, otelhelper.Tracer(), "approvals.escalate",
		attribute.String(otelhelper.ApprovalIDKey, approval.ID),
		attribute.String(otelhelper.TriggerKey, string(req.Trigger)))
	defer span.End()

	if approval.IsTerminal() {
		err := fmt.Errorf("%w: approval %s is %s", models.ErrInvalidState, approval.ID, approval.Status)
		otelhelper.SetError(span, err)

		return nil, escalationResult{}, err
	}

	match, refund, err := e.liveMatch(ctx, approval.RefundID)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, escalationResult{}, err
	}

	now := e.engine.Now()
	cache := map[string][]string{}

	var result escalationResult

	updated, err := updateWithRetry(ctx, e.approvals, approval.ID, e.retries, e.logger, func(a *models.ApprovalRequest) error {
		result = escalationResult{fromLevel: a.EscalationLevel}

		if req.Trigger == models.TriggerScheduled && !a.IsDue(now) {
			return errUnchanged
		}

		rec := models.EscalationRecord{Trigger: req.Trigger, ActorID: req.ActorID, Reason: req.Reason}

		if a.EscalationLevel >= match.MaxEscalationLevel(e.cfg.DefaultMaxLevel) {
			return e.applyTerminalPolicy(ctx, a, match, refund, rec, now, cache, &result)
		}

		next := a.EscalationLevel + 1

		roles := match.ApproversForLevel(next)
		if len(roles) == 0 {
			roles = e.cfg.AdminRoles
		}

		assignments, err := e.resolveRoles(ctx, roles, refund, cache)
		if err != nil {
			return err
		}

		if err := a.Escalate(assignments, e.engine.Deadline(match, next), rec, now); err != nil {
			return err
		}

		result.kind = escalationLevelUp

		return nil
	})
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, escalationResult{}, err
	}

	return e.afterEscalation(ctx, updated, req, result, now), result, nil
}

func (e *Escalator) applyTerminalPolicy(
	ctx context.Context,
	a *models.ApprovalRequest,
	match rules.Match,
	refund *models.RefundSnapshot,
	rec models.EscalationRecord,
	now time.Time,
	cache map[string][]string,
	result *escalationResult,
) error {
	policy := match.TerminalPolicy()
	result.policy = policy

	if policy.OnTimeout.Resolves() {
		if err := a.ResolveOnTimeout(policy.OnTimeout, rec, now); err != nil {
			return err
		}

		result.kind = escalationResolved

		return nil
	}

	targets := e.cfg.AdminRoles
	if policy.FinalEscalationTarget != "" {
		targets = []string{policy.FinalEscalationTarget}
	}

	assignments, err := e.resolveRoles(ctx, targets, refund, cache)
	if err != nil {
		return err
	}

	result.recipients = result.recipients[:0]
	for _, as := range assignments {
		result.recipients = append(result.recipients, as.Ref)
	}

	rec.Action = policy.OnTimeout
	result.nextDueAt = now.Add(e.engine.DefaultTimer())

	if err := a.MarkLadderExhausted(rec, result.nextDueAt, now); err != nil {
		return err
	}

	result.kind = escalationExhausted

	return nil
}

func (e *Escalator) afterEscalation(ctx context.Context, a *models.ApprovalRequest, req EscalationRequest, result escalationResult, now time.Time) *models.ApprovalRequest {
	if result.kind == escalationSkipped {
		return a
	}

	otelhelper.Inc(ctx, e.metrics.Escalations,
		attribute.String(otelhelper.TriggerKey, string(req.Trigger)),
		attribute.Int(otelhelper.EscalationLevelKey, a.EscalationLevel))

	switch result.kind {
	case escalationLevelUp:
		added := a.CurrentApprovers()

		e.logger.InfoContext(ctx, "Approval escalated",
			"approval_id", a.ID,
			"from_level", result.fromLevel,
			"to_level", a.EscalationLevel,
			"trigger", req.Trigger,
			"approvers", len(added))

		a = e.notifyApprovers(ctx, a, added, protocol.NotificationApprovalEscalated, now)

		e.publish(ctx, a.ID, events.ApprovalEscalated{
			BaseEvent:       e.base(events.ApprovalEscalatedEvent, a),
			FromLevel:       result.fromLevel,
			ToLevel:         a.EscalationLevel,
			Trigger:         req.Trigger,
			ActorID:         req.ActorID,
			Reason:          req.Reason,
			Approvers:       approverRefs(added),
			EscalationDueAt: a.EscalationDueAt,
		})

	case escalationResolved:
		e.logger.InfoContext(ctx, "Approval resolved by timeout policy",
			"approval_id", a.ID,
			"action", result.policy.OnTimeout,
			"status", a.Status)

		e.resolved(ctx, a, events.ResolvedByTimeout)

	case escalationExhausted:
		e.logger.WarnContext(ctx, "Escalation ladder exhausted, manual intervention required",
			"approval_id", a.ID,
			"level", a.EscalationLevel,
			"action", result.policy.OnTimeout,
			"recipients", strings.Join(result.recipients, ","))

		e.notifyRecipients(ctx, a, result.recipients, protocol.NotificationLadderExhausted,
			map[string]any{"action": string(result.policy.OnTimeout)})

		e.publish(ctx, a.ID, events.LadderExhausted{
			BaseEvent:       e.base(events.LadderExhaustedEvent, a),
			EscalationLevel: a.EscalationLevel,
			Action:          result.policy.OnTimeout,
			Recipients:      result.recipients,
			NextReminderAt:  result.nextDueAt,
		})
	}

	return a
}

// liveMatch evaluates the refund's current snapshot against the stored configuration.
func (e *Escalator) liveMatch(ctx context.Context, refundID string) (rules.Match, *models.RefundSnapshot, error) {
	refund, err := e.refunds.GetRefund(ctx, refundID)
	if err != nil {
		return rules.Match{}, nil, fmt.Errorf("failed to load refund %s: %w", refundID, err)
	}

	ruleSet, err := e.rules.Rules(ctx)
	if err != nil {
		return rules.Match{}, nil, fmt.Errorf("failed to load rules: %w", err)
	}

	workflows, err := e.rules.Workflows(ctx)
	if err != nil {
		return rules.Match{}, nil, fmt.Errorf("failed to load workflows: %w", err)
	}

	return e.engine.Match(refund, ruleSet, workflows), refund, nil
}
