package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/dukex/refund-approvals/pkg/models"
	"github.com/dukex/refund-approvals/pkg/persistence"
)

const uniqueViolation = "23505"

var awaitingStatuses = []string{string(models.ApprovalPending), string(models.ApprovalEscalated)}

const approvalColumns = `
	id
  , refund_id
  , status
  , requested_at
  , requested_by
  , approvers
  , decisions
  , escalation_level
  , escalation_due_at
  , escalations
  , ladder_exhausted_at
  , archived_at
  , version
  , created_at
  , updated_at
`

// ApprovalRepository handles approval-related database operations.
type ApprovalRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewApprovalRepository creates a new approval repository.
func NewApprovalRepository(db *sql.DB, logger *slog.Logger) *ApprovalRepository {
	return &ApprovalRepository{db: db, logger: logger}
}

// Create inserts the approval with version 1. The partial unique index on refund_id rejects a
// second awaiting-decision approval for the same refund.
func (r *ApprovalRepository) Create(ctx context.Context, approval *models.ApprovalRequest) error {
	approvers, decisions, escalations, err := marshalCollections(approval)
	if err != nil {
		return persistence.NewApprovalError("Create", approval.ID, err)
	}

	query := `
		INSERT INTO approvals (` + approvalColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, 1, $13, $14)
	`

	_, err = r.db.ExecContext(ctx, query,
		approval.ID,
		approval.RefundID,
		approval.Status,
		approval.RequestedAt,
		approval.RequestedBy,
		approvers,
		decisions,
		approval.EscalationLevel,
		approval.EscalationDueAt,
		escalations,
		approval.LadderExhaustedAt,
		approval.ArchivedAt,
		approval.CreatedAt,
		approval.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return persistence.NewRefundApprovalError("Create", approval.RefundID, persistence.ErrApprovalAlreadyExists)
		}

		return persistence.NewApprovalError("Create", approval.ID, fmt.Errorf("failed to insert approval: %w", err))
	}

	approval.Version = 1

	return nil
}

// GetByID returns the approval with the given ID.
func (r *ApprovalRepository) GetByID(ctx context.Context, id string) (*models.ApprovalRequest, error) {
	query := `SELECT ` + approvalColumns + ` FROM approvals WHERE id = $1`

	approval, err := scanApproval(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewApprovalError("GetByID", id, persistence.ErrApprovalNotFound)
		}

		return nil, persistence.NewApprovalError("GetByID", id, err)
	}

	return approval, nil
}

// GetActiveByRefundID prefers the awaiting-decision approval, then the most recent one.
func (r *ApprovalRepository) GetActiveByRefundID(ctx context.Context, refundID string) (*models.ApprovalRequest, error) {
	query := `
		SELECT ` + approvalColumns + `
		FROM approvals
		WHERE refund_id = $1
		ORDER BY (status = ANY($2)) DESC, created_at DESC
		LIMIT 1
	`

	approval, err := scanApproval(r.db.QueryRowContext(ctx, query, refundID, pq.Array(awaitingStatuses)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewRefundApprovalError("GetActiveByRefundID", refundID, persistence.ErrApprovalNotFound)
		}

		return nil, persistence.NewRefundApprovalError("GetActiveByRefundID", refundID, err)
	}

	return approval, nil
}

// Update writes the approval only if the row still carries approval.Version.
func (r *ApprovalRepository) Update(ctx context.Context, approval *models.ApprovalRequest) error {
	approvers, decisions, escalations, err := marshalCollections(approval)
	if err != nil {
		return persistence.NewApprovalError("Update", approval.ID, err)
	}

	query := `
		UPDATE approvals SET
			status = $3
		  , approvers = $4
		  , decisions = $5
		  , escalation_level = $6
		  , escalation_due_at = $7
		  , escalations = $8
		  , ladder_exhausted_at = $9
		  , archived_at = $10
		  , updated_at = $11
		  , requested_by = $12
		  , version = version + 1
		WHERE id = $1 AND version = $2
	`

	result, err := r.db.ExecContext(ctx, query,
		approval.ID,
		approval.Version,
		approval.Status,
		approvers,
		decisions,
		approval.EscalationLevel,
		approval.EscalationDueAt,
		escalations,
		approval.LadderExhaustedAt,
		approval.ArchivedAt,
		approval.UpdatedAt,
		approval.RequestedBy,
	)
	if err != nil {
		return persistence.NewApprovalError("Update", approval.ID, fmt.Errorf("failed to update approval: %w", err))
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewApprovalError("Update", approval.ID, err)
	}

	if affected == 0 {
		var exists bool
		if err := r.db.QueryRowContext(ctx, "SELECT EXISTS (SELECT 1 FROM approvals WHERE id = $1)", approval.ID).Scan(&exists); err != nil {
			return persistence.NewApprovalError("Update", approval.ID, err)
		}

		if !exists {
			return persistence.NewApprovalError("Update", approval.ID, persistence.ErrApprovalNotFound)
		}

		return persistence.NewApprovalError("Update", approval.ID, persistence.ErrVersionConflict)
	}

	approval.Version++

	return nil
}

// DueEscalations returns awaiting-decision approvals whose deadline passed, earliest first.
func (r *ApprovalRepository) DueEscalations(ctx context.Context, now time.Time, limit int) ([]*models.ApprovalRequest, error) {
	query := `
		SELECT ` + approvalColumns + `
		FROM approvals
		WHERE status = ANY($1) AND escalation_due_at <= $2
		ORDER BY escalation_due_at ASC
		LIMIT $3
	`

	rows, err := r.db.QueryContext(ctx, query, pq.Array(awaitingStatuses), now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query due escalations: %w", err)
	}

	defer func(ctx context.Context, r *ApprovalRepository) {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}(ctx, r)

	approvals := make([]*models.ApprovalRequest, 0)

	for rows.Next() {
		approval, err := scanApproval(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan approval: %w", err)
		}

		approvals = append(approvals, approval)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating approvals: %w", err)
	}

	return approvals, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanApproval(row scanner) (*models.ApprovalRequest, error) {
	var (
		approval                          models.ApprovalRequest
		requestedBy                       sql.NullString
		approvers, decisions, escalations []byte
		ladderExhaustedAt, archivedAt     sql.NullTime
	)

	err := row.Scan(
		&approval.ID,
		&approval.RefundID,
		&approval.Status,
		&approval.RequestedAt,
		&requestedBy,
		&approvers,
		&decisions,
		&approval.EscalationLevel,
		&approval.EscalationDueAt,
		&escalations,
		&ladderExhaustedAt,
		&archivedAt,
		&approval.Version,
		&approval.CreatedAt,
		&approval.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	approval.RequestedBy = requestedBy.String

	if ladderExhaustedAt.Valid {
		t := ladderExhaustedAt.Time.UTC()
		approval.LadderExhaustedAt = &t
	}

	if archivedAt.Valid {
		t := archivedAt.Time.UTC()
		approval.ArchivedAt = &t
	}

	if err := json.Unmarshal(approvers, &approval.Approvers); err != nil {
		return nil, fmt.Errorf("failed to unmarshal approvers: %w", err)
	}

	if err := json.Unmarshal(decisions, &approval.Decisions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal decisions: %w", err)
	}

	if err := json.Unmarshal(escalations, &approval.Escalations); err != nil {
		return nil, fmt.Errorf("failed to unmarshal escalations: %w", err)
	}

	approval.RequestedAt = approval.RequestedAt.UTC()
	approval.EscalationDueAt = approval.EscalationDueAt.UTC()
	approval.CreatedAt = approval.CreatedAt.UTC()
	approval.UpdatedAt = approval.UpdatedAt.UTC()

	return &approval, nil
}

func marshalCollections(approval *models.ApprovalRequest) (approvers, decisions, escalations []byte, err error) {
	nonNil := func(v any, empty bool) ([]byte, error) {
		if empty {
			return []byte("[]"), nil
		}

		return json.Marshal(v)
	}

	if approvers, err = nonNil(approval.Approvers, len(approval.Approvers) == 0); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to marshal approvers: %w", err)
	}

	if decisions, err = nonNil(approval.Decisions, len(approval.Decisions) == 0); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to marshal decisions: %w", err)
	}

	if escalations, err = nonNil(approval.Escalations, len(approval.Escalations) == 0); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to marshal escalations: %w", err)
	}

	return approvers, decisions, escalations, nil
}
