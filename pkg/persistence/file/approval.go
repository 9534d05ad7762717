package file

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dukex/refund-approvals/pkg/models"
	"github.com/dukex/refund-approvals/pkg/persistence"
)

// ApprovalRepository stores one JSON document per approval under <root>/approvals.
// A mutex serializes writers so version checks and writes are atomic within the process.
type ApprovalRepository struct {
	root string
	mu   sync.Mutex
}

// NewApprovalRepository creates a new approval repository.
func NewApprovalRepository(root string) *ApprovalRepository {
	return &ApprovalRepository{root: root}
}

func (ar *ApprovalRepository) dir() string {
	return path.Join(ar.root, "approvals")
}

// Create stores a new approval with version 1.
func (ar *ApprovalRepository) Create(_ context.Context, approval *models.ApprovalRequest) error {
	ar.mu.Lock()
	defer ar.mu.Unlock()

	existing, err := ar.read(approval.ID)
	if err != nil {
		return persistence.NewApprovalError("Create", approval.ID, err)
	}

	if existing != nil {
		return persistence.NewApprovalError("Create", approval.ID, persistence.ErrApprovalAlreadyExists)
	}

	all, err := ar.readAll()
	if err != nil {
		return persistence.NewApprovalError("Create", approval.ID, err)
	}

	for _, other := range all {
		if other.RefundID == approval.RefundID && other.IsAwaitingDecision() {
			return persistence.NewRefundApprovalError("Create", approval.RefundID, persistence.ErrApprovalAlreadyExists)
		}
	}

	approval.Version = 1

	return ar.write(approval)
}

// GetByID retrieves an approval by its ID from the file system.
func (ar *ApprovalRepository) GetByID(_ context.Context, id string) (*models.ApprovalRequest, error) {
	approval, err := ar.read(id)
	if err != nil {
		return nil, persistence.NewApprovalError("GetByID", id, err)
	}

	if approval == nil {
		return nil, persistence.NewApprovalError("GetByID", id, persistence.ErrApprovalNotFound)
	}

	return approval, nil
}

// GetActiveByRefundID returns the refund's awaiting-decision approval, or its latest one.
func (ar *ApprovalRepository) GetActiveByRefundID(_ context.Context, refundID string) (*models.ApprovalRequest, error) {
	all, err := ar.readAll()
	if err != nil {
		return nil, persistence.NewRefundApprovalError("GetActiveByRefundID", refundID, err)
	}

	var latest *models.ApprovalRequest

	for _, approval := range all {
		if approval.RefundID != refundID {
			continue
		}

		if approval.IsAwaitingDecision() {
			return approval, nil
		}

		if latest == nil || approval.CreatedAt.After(latest.CreatedAt) {
			latest = approval
		}
	}

	if latest == nil {
		return nil, persistence.NewRefundApprovalError("GetActiveByRefundID", refundID, persistence.ErrApprovalNotFound)
	}

	return latest, nil
}

// Update writes the approval when the stored version still matches.
func (ar *ApprovalRepository) Update(_ context.Context, approval *models.ApprovalRequest) error {
	ar.mu.Lock()
	defer ar.mu.Unlock()

	stored, err := ar.read(approval.ID)
	if err != nil {
		return persistence.NewApprovalError("Update", approval.ID, err)
	}

	if stored == nil {
		return persistence.NewApprovalError("Update", approval.ID, persistence.ErrApprovalNotFound)
	}

	if stored.Version != approval.Version {
		return persistence.NewApprovalError("Update", approval.ID, persistence.ErrVersionConflict)
	}

	next := approval.Clone()
	next.Version++

	if err := ar.write(next); err != nil {
		return err
	}

	approval.Version = next.Version

	return nil
}

// DueEscalations scans every approval; acceptable for the development store.
func (ar *ApprovalRepository) DueEscalations(_ context.Context, now time.Time, limit int) ([]*models.ApprovalRequest, error) {
	all, err := ar.readAll()
	if err != nil {
		return nil, fmt.Errorf("failed to list due escalations: %w", err)
	}

	due := make([]*models.ApprovalRequest, 0)

	for _, approval := range all {
		if approval.IsDue(now) {
			due = append(due, approval)
		}
	}

	sort.Slice(due, func(i, j int) bool {
		return due[i].EscalationDueAt.Before(due[j].EscalationDueAt)
	})

	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	return due, nil
}

func (ar *ApprovalRepository) read(id string) (*models.ApprovalRequest, error) {
	filePath := filepath.Clean(path.Join(ar.dir(), id+".json"))

	body, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to fetch approval %s: %w", id, err)
	}

	var approval models.ApprovalRequest
	if err := json.Unmarshal(body, &approval); err != nil {
		return nil, fmt.Errorf("failed to unmarshal approval %s: %w", id, err)
	}

	return &approval, nil
}

func (ar *ApprovalRepository) readAll() ([]*models.ApprovalRequest, error) {
	jsonFiles, err := fs.Glob(os.DirFS(ar.dir()), "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list approval files: %w", err)
	}

	approvals := make([]*models.ApprovalRequest, 0, len(jsonFiles))

	for _, file := range jsonFiles {
		approval, err := ar.read(strings.TrimSuffix(file, ".json"))
		if err != nil {
			return nil, err
		}

		if approval != nil {
			approvals = append(approvals, approval)
		}
	}

	return approvals, nil
}

// write replaces the document through a rename so readers never see a partial file.
func (ar *ApprovalRepository) write(approval *models.ApprovalRequest) error {
	if err := os.MkdirAll(ar.dir(), 0750); err != nil {
		return fmt.Errorf("failed to create approvals directory: %w", err)
	}

	data, err := json.MarshalIndent(approval, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal approval %s: %w", approval.ID, err)
	}

	filePath := path.Join(ar.dir(), approval.ID+".json")
	tmpPath := filePath + ".tmp"

	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write approval %s: %w", approval.ID, err)
	}

	if err := os.Rename(tmpPath, filePath); err != nil {
		return fmt.Errorf("failed to write approval %s: %w", approval.ID, err)
	}

	return nil
}
