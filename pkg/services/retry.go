package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/dukex/refund-approvals/pkg/models"
	"github.com/dukex/refund-approvals/pkg/persistence"
)

// errUnchanged lets a mutation leave the stored approval as it is.
var errUnchanged = errors.New("approval unchanged")

// mutation is applied to a freshly loaded approval. It may run several times and must not
// perform side effects.
type mutation func(a *models.ApprovalRequest) error

func newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 10 * time.Millisecond
	b.MaxInterval = 500 * time.Millisecond
	b.MaxElapsedTime = 5 * time.Second

	return b
}

// updateWithRetry runs a read-modify-write cycle on one approval, retrying on version conflicts.
// It returns the stored approval after the update.
func updateWithRetry(
	ctx context.Context,
	repo persistence.ApprovalRepository,
	approvalID string,
	retries uint64,
	logger *slog.Logger,
	fn mutation,
) (*models.ApprovalRequest, error) {
	var result *models.ApprovalRequest

	operation := func() error {
		current, err := repo.GetByID(ctx, approvalID)
		if err != nil {
			return backoff.Permanent(err)
		}

		if err := fn(current); err != nil {
			if errors.Is(err, errUnchanged) {
				result = current

				return nil
			}

			return backoff.Permanent(err)
		}

		if err := repo.Update(ctx, current); err != nil {
			if persistence.IsVersionConflict(err) {
				return err
			}

			return backoff.Permanent(err)
		}

		result = current

		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(newBackOff(), retries), ctx)

	err := backoff.RetryNotify(operation, policy, func(err error, wait time.Duration) {
		logger.DebugContext(ctx, "Retrying approval update", "approval_id", approvalID, "wait", wait, "error", err)
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}
