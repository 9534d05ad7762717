// Package lock provides short per-approval leases so concurrent scheduler replicas do not
// escalate the same approval at once. Leases are advisory: correctness still rests on the
// version check performed by the approval store.
package lock

import (
	"context"
	"errors"
	"time"
)

// ErrNotHeld is returned when releasing a lease that expired or was taken over.
var ErrNotHeld = errors.New("lease not held")

// Lease is a held lock on one key.
type Lease interface {
	Release(ctx context.Context) error
}

// Locker hands out leases. TryAcquire never blocks waiting for a busy key: it returns
// ok=false when another holder owns it.
type Locker interface {
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (lease Lease, ok bool, err error)
}

// Key namespaces approval lease keys.
func Key(approvalID string) string {
	return "refund-approvals:lease:" + approvalID
}
