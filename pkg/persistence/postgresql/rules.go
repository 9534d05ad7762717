package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/refund-approvals/pkg/models"
	"github.com/dukex/refund-approvals/pkg/persistence"
)

// RuleRepository handles rule and workflow configuration in the database.
type RuleRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewRuleRepository creates a new rule repository.
func NewRuleRepository(db *sql.DB, logger *slog.Logger) *RuleRepository {
	return &RuleRepository{db: db, logger: logger}
}

// Rules returns every rule ordered by priority.
func (r *RuleRepository) Rules(ctx context.Context) ([]models.Rule, error) {
	docs, err := r.documents(ctx, "SELECT document FROM approval_rules ORDER BY priority ASC, id ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}

	rules := make([]models.Rule, 0, len(docs))

	for _, doc := range docs {
		var rule models.Rule
		if err := json.Unmarshal(doc, &rule); err != nil {
			return nil, fmt.Errorf("failed to unmarshal rule: %w", err)
		}

		rules = append(rules, rule)
	}

	return rules, nil
}

func (r *RuleRepository) RuleByID(ctx context.Context, id string) (*models.Rule, error) {
	var doc []byte

	err := r.db.QueryRowContext(ctx, "SELECT document FROM approval_rules WHERE id = $1", id).Scan(&doc)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &persistence.ConfigError{Op: "RuleByID", Kind: "rule", ID: id, Err: persistence.ErrRuleNotFound}
		}

		return nil, &persistence.ConfigError{Op: "RuleByID", Kind: "rule", ID: id, Err: err}
	}

	var rule models.Rule
	if err := json.Unmarshal(doc, &rule); err != nil {
		return nil, &persistence.ConfigError{Op: "RuleByID", Kind: "rule", ID: id, Err: err}
	}

	return &rule, nil
}

// SaveRule upserts a rule document.
func (r *RuleRepository) SaveRule(ctx context.Context, rule *models.Rule) error {
	if err := rule.Validate(); err != nil {
		return &persistence.ConfigError{Op: "SaveRule", Kind: "rule", ID: rule.ID, Err: fmt.Errorf("%w: %w", persistence.ErrInvalidDocument, err)}
	}

	now := time.Now().UTC()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}

	rule.UpdatedAt = now

	doc, err := json.Marshal(rule)
	if err != nil {
		return fmt.Errorf("failed to marshal rule %s: %w", rule.ID, err)
	}

	query := `
		INSERT INTO approval_rules (id, scope_type, scope_id, priority, active, document, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			scope_type = EXCLUDED.scope_type,
			scope_id = EXCLUDED.scope_id,
			priority = EXCLUDED.priority,
			active = EXCLUDED.active,
			document = EXCLUDED.document,
			updated_at = EXCLUDED.updated_at
	`

	_, err = r.db.ExecContext(ctx, query,
		rule.ID, rule.ScopeType, rule.ScopeID, rule.Priority, rule.Active, doc, rule.CreatedAt, rule.UpdatedAt)
	if err != nil {
		return &persistence.ConfigError{Op: "SaveRule", Kind: "rule", ID: rule.ID, Err: err}
	}

	return nil
}

func (r *RuleRepository) DeleteRule(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM approval_rules WHERE id = $1", id); err != nil {
		return fmt.Errorf("failed to delete rule %s: %w", id, err)
	}

	return nil
}

// Workflows returns every workflow.
func (r *RuleRepository) Workflows(ctx context.Context) ([]models.Workflow, error) {
	docs, err := r.documents(ctx, "SELECT document FROM approval_workflows ORDER BY id ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to query workflows: %w", err)
	}

	workflows := make([]models.Workflow, 0, len(docs))

	for _, doc := range docs {
		var wf models.Workflow
		if err := json.Unmarshal(doc, &wf); err != nil {
			return nil, fmt.Errorf("failed to unmarshal workflow: %w", err)
		}

		workflows = append(workflows, wf)
	}

	return workflows, nil
}

func (r *RuleRepository) WorkflowByID(ctx context.Context, id string) (*models.Workflow, error) {
	var doc []byte

	err := r.db.QueryRowContext(ctx, "SELECT document FROM approval_workflows WHERE id = $1", id).Scan(&doc)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &persistence.ConfigError{Op: "WorkflowByID", Kind: "workflow", ID: id, Err: persistence.ErrWorkflowNotFound}
		}

		return nil, &persistence.ConfigError{Op: "WorkflowByID", Kind: "workflow", ID: id, Err: err}
	}

	var wf models.Workflow
	if err := json.Unmarshal(doc, &wf); err != nil {
		return nil, &persistence.ConfigError{Op: "WorkflowByID", Kind: "workflow", ID: id, Err: err}
	}

	return &wf, nil
}

// SaveWorkflow upserts a workflow document.
func (r *RuleRepository) SaveWorkflow(ctx context.Context, wf *models.Workflow) error {
	if err := wf.Validate(); err != nil {
		return &persistence.ConfigError{Op: "SaveWorkflow", Kind: "workflow", ID: wf.ID, Err: fmt.Errorf("%w: %w", persistence.ErrInvalidDocument, err)}
	}

	doc, err := json.Marshal(wf)
	if err != nil {
		return fmt.Errorf("failed to marshal workflow %s: %w", wf.ID, err)
	}

	now := time.Now().UTC()
	query := `
		INSERT INTO approval_workflows (id, scope_type, scope_id, trigger_type, active, document, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		ON CONFLICT (id) DO UPDATE SET
			scope_type = EXCLUDED.scope_type,
			scope_id = EXCLUDED.scope_id,
			trigger_type = EXCLUDED.trigger_type,
			active = EXCLUDED.active,
			document = EXCLUDED.document,
			updated_at = EXCLUDED.updated_at
	`

	_, err = r.db.ExecContext(ctx, query, wf.ID, wf.ScopeType, wf.ScopeID, wf.TriggerType, wf.Active, doc, now)
	if err != nil {
		return &persistence.ConfigError{Op: "SaveWorkflow", Kind: "workflow", ID: wf.ID, Err: err}
	}

	return nil
}

func (r *RuleRepository) DeleteWorkflow(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM approval_workflows WHERE id = $1", id); err != nil {
		return fmt.Errorf("failed to delete workflow %s: %w", id, err)
	}

	return nil
}

func (r *RuleRepository) documents(ctx context.Context, query string) ([][]byte, error) {
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}

	defer func(ctx context.Context, r *RuleRepository) {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}(ctx, r)

	docs := make([][]byte, 0)

	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}

		docs = append(docs, doc)
	}

	return docs, rows.Err()
}
