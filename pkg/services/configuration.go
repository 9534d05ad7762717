package services

import (
	"context"
	"strings"
	"time"

	"github.com/dukex/refund-approvals/pkg/models"
)

// GetRule returns a stored rule.
func (s *Approvals) GetRule(ctx context.Context, id string) (*models.Rule, error) {
	rule, err := s.persistence.RuleRepository().RuleByID(ctx, id)
	if err != nil {
		return nil, translate("get_rule", err)
	}

	return rule, nil
}

// SaveRule validates and stores a rule, replacing any rule with the same ID.
func (s *Approvals) SaveRule(ctx context.Context, rule *models.Rule) (*models.Rule, error) {
	const op = "save_rule"

	if rule == nil || strings.TrimSpace(rule.ID) == "" {
		return nil, NewValidationError(op, "rule id is required")
	}

	if err := rule.Validate(); err != nil {
		return nil, &ServiceError{Op: op, Code: CodeValidation, Message: err.Error(), Err: ErrValidation}
	}

	stampRule(rule, s.engine.Now())

	if err := s.persistence.RuleRepository().SaveRule(ctx, rule); err != nil {
		return nil, translate(op, err)
	}

	s.logger.InfoContext(ctx, "Rule saved", "rule_id", rule.ID, "active", rule.Active)

	return rule, nil
}

// DeleteRule removes a rule. Open approvals keep the approvers it assigned.
func (s *Approvals) DeleteRule(ctx context.Context, id string) error {
	return translate("delete_rule", s.persistence.RuleRepository().DeleteRule(ctx, id))
}

// GetWorkflow returns a stored workflow.
func (s *Approvals) GetWorkflow(ctx context.Context, id string) (*models.Workflow, error) {
	wf, err := s.persistence.RuleRepository().WorkflowByID(ctx, id)
	if err != nil {
		return nil, translate("get_workflow", err)
	}

	return wf, nil
}

// SaveWorkflow validates and stores a workflow with its rules.
func (s *Approvals) SaveWorkflow(ctx context.Context, wf *models.Workflow) (*models.Workflow, error) {
	const op = "save_workflow"

	if wf == nil || strings.TrimSpace(wf.ID) == "" {
		return nil, NewValidationError(op, "workflow id is required")
	}

	if err := wf.Validate(); err != nil {
		return nil, &ServiceError{Op: op, Code: CodeValidation, Message: err.Error(), Err: ErrValidation}
	}

	now := s.engine.Now()
	for i := range wf.Rules {
		stampRule(&wf.Rules[i], now)
	}

	if err := s.persistence.RuleRepository().SaveWorkflow(ctx, wf); err != nil {
		return nil, translate(op, err)
	}

	s.logger.InfoContext(ctx, "Workflow saved", "workflow_id", wf.ID, "rules", len(wf.Rules))

	return wf, nil
}

// DeleteWorkflow removes a workflow.
func (s *Approvals) DeleteWorkflow(ctx context.Context, id string) error {
	return translate("delete_workflow", s.persistence.RuleRepository().DeleteWorkflow(ctx, id))
}

func stampRule(rule *models.Rule, now time.Time) {
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}

	rule.UpdatedAt = now
}
