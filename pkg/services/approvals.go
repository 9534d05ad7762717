package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel/attribute"

	"github.com/dukex/refund-approvals/pkg/config"
	"github.com/dukex/refund-approvals/pkg/eventbus"
	"github.com/dukex/refund-approvals/pkg/events"
	"github.com/dukex/refund-approvals/pkg/lock"
	"github.com/dukex/refund-approvals/pkg/models"
	"github.com/dukex/refund-approvals/pkg/otelhelper"
	"github.com/dukex/refund-approvals/pkg/persistence"
	"github.com/dukex/refund-approvals/pkg/protocol"
	"github.com/dukex/refund-approvals/pkg/rules"
	"github.com/dukex/refund-approvals/pkg/scheduler"
)

// Dependencies are the collaborators of the approval workflow. Resolver, Locker, Metrics and
// Engine are optional.
type Dependencies struct {
	Persistence persistence.Persistence
	Refunds     protocol.RefundManager
	Notifier    protocol.Notifier
	EventBus    eventbus.EventBus
	Resolver    protocol.RoleResolver
	Locker      lock.Locker
	Metrics     *otelhelper.Metrics
	Engine      *rules.Engine
	Config      config.Engine
	Logger      *slog.Logger
}

// Approvals is the entry point for transports: it decides whether refunds need approval, opens
// approval requests, records decisions and runs escalations.
type Approvals struct {
	persistence persistence.Persistence
	engine      *rules.Engine
	cfg         config.Engine
	metrics     *otelhelper.Metrics
	validate    *validator.Validate
	logger      *slog.Logger

	fx        *effects
	decisions *DecisionProcessor
	escalator *Escalator

	mu        sync.Mutex
	scheduler *scheduler.EscalationScheduler
}

// NewApprovals wires the workflow from its dependencies.
func NewApprovals(deps Dependencies) (*Approvals, error) {
	switch {
	case deps.Persistence == nil:
		return nil, errors.New("persistence is required")
	case deps.Refunds == nil:
		return nil, errors.New("refund manager is required")
	case deps.Notifier == nil:
		return nil, errors.New("notifier is required")
	case deps.EventBus == nil:
		return nil, errors.New("event bus is required")
	}

	if err := deps.Config.Validate(); err != nil {
		return nil, err
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	logger = logger.With("module", "approvals")

	if deps.Resolver == nil {
		deps.Resolver = protocol.RoleReferences{}
	}

	if deps.Locker == nil {
		deps.Locker = lock.Noop{}
	}

	if deps.Metrics == nil {
		deps.Metrics = otelhelper.DefaultMetrics()
	}

	if deps.Engine == nil {
		deps.Engine = rules.NewEngine(logger,
			rules.WithDefaultTimer(deps.Config.DefaultEscalationTimer),
			rules.WithMetrics(deps.Metrics))
	}

	fx := &effects{
		approvals: deps.Persistence.ApprovalRepository(),
		refunds:   deps.Refunds,
		resolver:  deps.Resolver,
		notifier:  deps.Notifier,
		bus:       deps.EventBus,
		retries:   deps.Config.RetryAttempts,
		logger:    logger,
	}

	return &Approvals{
		persistence: deps.Persistence,
		engine:      deps.Engine,
		cfg:         deps.Config,
		metrics:     deps.Metrics,
		validate:    validator.New(),
		logger:      logger,
		fx:          fx,
		decisions: &DecisionProcessor{
			effects: fx,
			metrics: deps.Metrics,
			now:     deps.Engine.Now,
		},
		escalator: &Escalator{
			effects: fx,
			rules:   deps.Persistence.RuleRepository(),
			engine:  deps.Engine,
			locker:  deps.Locker,
			cfg:     deps.Config,
			metrics: deps.Metrics,
		},
	}, nil
}

// CheckResult tells whether a refund needs approval and which configuration asked for it.
type CheckResult struct {
	Required         bool     `json:"required"`
	MatchedRules     []string `json:"matched_rules"`
	MatchedWorkflows []string `json:"matched_workflows"`

	match rules.Match
}

// Match returns the evaluated rules and workflows.
func (c *CheckResult) Match() rules.Match {
	return c.match
}

// HealthCheck checks the health of the persistence layer.
func (s *Approvals) HealthCheck(ctx context.Context) (string, bool) {
	if err := s.persistence.HealthCheck(ctx); err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// CheckRequiresApproval evaluates the refund against every active rule and workflow. Malformed
// conditions count as non-matching and never fail the check.
func (s *Approvals) CheckRequiresApproval(ctx context.Context, refund *models.RefundSnapshot) (*CheckResult, error) {
	const op = "check_requires_approval"

	if err := s.validateRefund(op, refund); err != nil {
		return nil, err
	}

	ctx, span := otelhelper.StartSpan(ctx, otelhelper.Tracer(), "approvals.check",
		attribute.String(otelhelper.RefundIDKey, refund.ID))
	defer span.End()

	ruleRepo := s.persistence.RuleRepository()

	ruleSet, err := ruleRepo.Rules(ctx)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, translate(op, fmt.Errorf("failed to load rules: %w", err))
	}

	workflows, err := ruleRepo.Workflows(ctx)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, translate(op, fmt.Errorf("failed to load workflows: %w", err))
	}

	match := s.engine.Match(refund, ruleSet, workflows)

	return &CheckResult{
		Required:         match.Required(),
		MatchedRules:     match.RuleIDs(),
		MatchedWorkflows: match.WorkflowIDs(),
		match:            match,
	}, nil
}

// CreateApproval opens a PENDING approval with the level 0 approvers of the matched configuration.
// When check is nil or was not produced by CheckRequiresApproval, the refund is evaluated first.
func (s *Approvals) CreateApproval(ctx context.Context, refund *models.RefundSnapshot, check *CheckResult) (*models.ApprovalRequest, error) {
	const op = "create_approval"

	if err := s.validateRefund(op, refund); err != nil {
		return nil, err
	}

	if check == nil || !check.match.Required() {
		var err error

		check, err = s.CheckRequiresApproval(ctx, refund)
		if err != nil {
			return nil, err
		}
	}

	if !check.Required {
		return nil, NewValidationError(op, fmt.Sprintf("refund %s does not require approval", refund.ID))
	}

	match := check.match

	roles := match.ApproversForLevel(0)
	if len(roles) == 0 {
		roles = s.cfg.AdminRoles
	}

	assignments, err := s.fx.resolveRoles(ctx, roles, refund, map[string][]string{})
	if err != nil {
		return nil, translate(op, fmt.Errorf("failed to resolve approvers: %w", err))
	}

	now := s.engine.Now()

	approval, err := models.NewApprovalRequest(refund.ID, refund.RequestedBy, assignments, s.engine.Deadline(match, 0), now)
	if err != nil {
		return nil, translate(op, err)
	}

	if err := s.persistence.ApprovalRepository().Create(ctx, approval); err != nil {
		return nil, translate(op, err)
	}

	s.logger.InfoContext(ctx, "Approval created",
		"approval_id", approval.ID,
		"refund_id", refund.ID,
		"approvers", len(approval.Approvers),
		"escalation_due_at", approval.EscalationDueAt)

	approvers := approval.CurrentApprovers()
	approval = s.fx.notifyApprovers(ctx, approval, approvers, protocol.NotificationApprovalRequested, now)

	s.fx.publish(ctx, approval.ID, events.ApprovalCreated{
		BaseEvent:        s.fx.base(events.ApprovalCreatedEvent, approval),
		Status:           approval.Status,
		Approvers:        approverRefs(approvers),
		EscalationDueAt:  approval.EscalationDueAt,
		MatchedRules:     check.MatchedRules,
		MatchedWorkflows: check.MatchedWorkflows,
	})

	return approval, nil
}

// RequestApproval loads the refund from the refund manager and opens its approval.
func (s *Approvals) RequestApproval(ctx context.Context, refundID string) (*models.ApprovalRequest, error) {
	const op = "request_approval"

	if strings.TrimSpace(refundID) == "" {
		return nil, NewValidationError(op, "refund id is required")
	}

	refund, err := s.fx.refunds.GetRefund(ctx, refundID)
	if err != nil {
		return nil, translate(op, err)
	}

	return s.CreateApproval(ctx, refund, nil)
}

// RecordDecision records an approver's vote.
func (s *Approvals) RecordDecision(ctx context.Context, approvalID, approverID string, outcome models.DecisionOutcome, notes string) (*models.ApprovalRequest, error) {
	ctx, span := otelhelper.StartSpan(ctx, otelhelper.Tracer(), "approvals.record_decision",
		attribute.String(otelhelper.ApprovalIDKey, approvalID),
		attribute.String(otelhelper.ApproverIDKey, approverID),
		attribute.String(otelhelper.OutcomeKey, string(outcome)))
	defer span.End()

	approval, err := s.decisions.RecordDecision(ctx, approvalID, approverID, outcome, notes)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	return approval, nil
}

// GetApproval returns an approval by ID.
func (s *Approvals) GetApproval(ctx context.Context, approvalID string) (*models.ApprovalRequest, error) {
	const op = "get_approval"

	if strings.TrimSpace(approvalID) == "" {
		return nil, NewValidationError(op, "approval id is required")
	}

	approval, err := s.persistence.ApprovalRepository().GetByID(ctx, approvalID)
	if err != nil {
		return nil, translate(op, err)
	}

	return approval, nil
}

// GetApprovalByRefund returns the refund's active approval, or its latest one.
func (s *Approvals) GetApprovalByRefund(ctx context.Context, refundID string) (*models.ApprovalRequest, error) {
	const op = "get_approval_by_refund"

	if strings.TrimSpace(refundID) == "" {
		return nil, NewValidationError(op, "refund id is required")
	}

	approval, err := s.persistence.ApprovalRepository().GetActiveByRefundID(ctx, refundID)
	if err != nil {
		return nil, translate(op, err)
	}

	return approval, nil
}

// RunEscalationCheck runs one escalation pass synchronously. A non-positive batch size uses
// the configured one.
func (s *Approvals) RunEscalationCheck(ctx context.Context, batchSize int) (int, error) {
	ctx, span := otelhelper.StartSpan(ctx, otelhelper.Tracer(), "approvals.escalation_check",
		attribute.Int(otelhelper.BatchSizeKey, batchSize))
	defer span.End()

	count, err := s.escalator.ProcessEscalations(ctx, batchSize)
	if err != nil {
		otelhelper.SetError(span, err)

		return 0, translate("run_escalation_check", err)
	}

	return count, nil
}

// ManuallyEscalate escalates an approval regardless of its deadline.
func (s *Approvals) ManuallyEscalate(ctx context.Context, approvalID, actorID, reason string) (*models.ApprovalRequest, error) {
	const op = "manually_escalate"

	if strings.TrimSpace(actorID) == "" {
		return nil, NewValidationError(op, "actor id is required")
	}

	approval, err := s.GetApproval(ctx, approvalID)
	if err != nil {
		return nil, err
	}

	return s.escalator.Escalate(ctx, approval, EscalationRequest{
		Trigger: models.TriggerManual,
		ActorID: actorID,
		Reason:  reason,
	})
}

// StartScheduler starts the recurring escalation pass.
func (s *Approvals) StartScheduler(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.scheduler != nil {
		return errors.New("escalation scheduler already running")
	}

	sched, err := scheduler.NewEscalationScheduler(s.cfg.Scheduler.Spec, func(ctx context.Context) error {
		_, err := s.escalator.ProcessEscalations(ctx, s.cfg.Scheduler.BatchSize)

		return err
	}, s.logger)
	if err != nil {
		return err
	}

	if err := sched.Start(ctx); err != nil {
		return err
	}

	s.scheduler = sched

	return nil
}

// StopScheduler stops new ticks and waits for the in-flight pass, or for ctx to end.
func (s *Approvals) StopScheduler(ctx context.Context) error {
	s.mu.Lock()
	sched := s.scheduler
	s.scheduler = nil
	s.mu.Unlock()

	if sched == nil {
		return nil
	}

	return sched.Stop(ctx)
}

func (s *Approvals) validateRefund(op string, refund *models.RefundSnapshot) error {
	if refund == nil {
		return NewValidationError(op, "refund is required")
	}

	if err := s.validate.Struct(refund); err != nil {
		return &ServiceError{Op: op, Code: CodeValidation, Message: err.Error(), Err: fmt.Errorf("%w: %w", ErrValidation, err)}
	}

	return nil
}
