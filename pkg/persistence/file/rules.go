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
	"time"

	"github.com/dukex/refund-approvals/pkg/models"
	"github.com/dukex/refund-approvals/pkg/persistence"
)

// RuleRepository stores rule documents under <root>/rules and workflow documents under
// <root>/workflows. Every document is schema-validated on read and write.
type RuleRepository struct {
	root string
}

// NewRuleRepository creates a new rule repository.
func NewRuleRepository(root string) *RuleRepository {
	return &RuleRepository{root: root}
}

// Rules returns every stored rule ordered by priority.
func (rr *RuleRepository) Rules(ctx context.Context) ([]models.Rule, error) {
	ids, err := rr.list("rules")
	if err != nil {
		return nil, err
	}

	rules := make([]models.Rule, 0, len(ids))

	for _, id := range ids {
		rule, err := rr.RuleByID(ctx, id)
		if err != nil {
			return nil, err
		}

		rules = append(rules, *rule)
	}

	sort.SliceStable(rules, func(i, j int) bool {
		return rules[i].Priority < rules[j].Priority
	})

	return rules, nil
}

// RuleByID retrieves a rule by its ID from the file system.
func (rr *RuleRepository) RuleByID(_ context.Context, id string) (*models.Rule, error) {
	var rule models.Rule
	if err := rr.read("rules", id, ValidateRuleDocument, &rule); err != nil {
		return nil, &persistence.ConfigError{Op: "RuleByID", Kind: "rule", ID: id, Err: notFound(err, persistence.ErrRuleNotFound)}
	}

	return &rule, nil
}

// SaveRule validates and writes a rule document.
func (rr *RuleRepository) SaveRule(_ context.Context, rule *models.Rule) error {
	if err := rule.Validate(); err != nil {
		return &persistence.ConfigError{Op: "SaveRule", Kind: "rule", ID: rule.ID, Err: fmt.Errorf("%w: %w", persistence.ErrInvalidDocument, err)}
	}

	now := time.Now().UTC()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}

	rule.UpdatedAt = now

	if err := rr.write("rules", rule.ID, ValidateRuleDocument, rule); err != nil {
		return &persistence.ConfigError{Op: "SaveRule", Kind: "rule", ID: rule.ID, Err: err}
	}

	return nil
}

// DeleteRule removes a rule by its ID.
func (rr *RuleRepository) DeleteRule(_ context.Context, id string) error {
	return rr.remove("rules", id)
}

// Workflows returns every stored workflow.
func (rr *RuleRepository) Workflows(ctx context.Context) ([]models.Workflow, error) {
	ids, err := rr.list("workflows")
	if err != nil {
		return nil, err
	}

	workflows := make([]models.Workflow, 0, len(ids))

	for _, id := range ids {
		wf, err := rr.WorkflowByID(ctx, id)
		if err != nil {
			return nil, err
		}

		workflows = append(workflows, *wf)
	}

	return workflows, nil
}

// WorkflowByID retrieves a workflow by its ID from the file system.
func (rr *RuleRepository) WorkflowByID(_ context.Context, id string) (*models.Workflow, error) {
	var wf models.Workflow
	if err := rr.read("workflows", id, ValidateWorkflowDocument, &wf); err != nil {
		return nil, &persistence.ConfigError{Op: "WorkflowByID", Kind: "workflow", ID: id, Err: notFound(err, persistence.ErrWorkflowNotFound)}
	}

	return &wf, nil
}

// SaveWorkflow validates and writes a workflow document.
func (rr *RuleRepository) SaveWorkflow(_ context.Context, wf *models.Workflow) error {
	if err := wf.Validate(); err != nil {
		return &persistence.ConfigError{Op: "SaveWorkflow", Kind: "workflow", ID: wf.ID, Err: fmt.Errorf("%w: %w", persistence.ErrInvalidDocument, err)}
	}

	if err := rr.write("workflows", wf.ID, ValidateWorkflowDocument, wf); err != nil {
		return &persistence.ConfigError{Op: "SaveWorkflow", Kind: "workflow", ID: wf.ID, Err: err}
	}

	return nil
}

// DeleteWorkflow removes a workflow by its ID.
func (rr *RuleRepository) DeleteWorkflow(_ context.Context, id string) error {
	return rr.remove("workflows", id)
}

func (rr *RuleRepository) list(kind string) ([]string, error) {
	jsonFiles, err := fs.Glob(os.DirFS(path.Join(rr.root, kind)), "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list %s files: %w", kind, err)
	}

	ids := make([]string, 0, len(jsonFiles))
	for _, file := range jsonFiles {
		ids = append(ids, strings.TrimSuffix(file, ".json"))
	}

	return ids, nil
}

func (rr *RuleRepository) read(kind, id string, validate func([]byte) error, out any) error {
	filePath := filepath.Clean(path.Join(rr.root, kind, id+".json"))

	body, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}

	if err := validate(body); err != nil {
		return err
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to unmarshal %s %s: %w", kind, id, err)
	}

	return nil
}

func (rr *RuleRepository) write(kind, id string, validate func([]byte) error, doc any) error {
	if err := os.MkdirAll(path.Join(rr.root, kind), 0750); err != nil {
		return fmt.Errorf("failed to create %s directory: %w", kind, err)
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s %s: %w", kind, id, err)
	}

	if err := validate(data); err != nil {
		return err
	}

	return os.WriteFile(path.Join(rr.root, kind, id+".json"), data, 0600)
}

func (rr *RuleRepository) remove(kind, id string) error {
	err := os.Remove(path.Join(rr.root, kind, id+".json"))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete %s %s: %w", kind, id, err)
	}

	return nil
}

func notFound(err error, sentinel error) error {
	if os.IsNotExist(err) {
		return sentinel
	}

	return err
}

// ValidateDirectory schema-checks every rule and workflow document below dir and returns the
// failures keyed by file path.
func ValidateDirectory(dir string) (map[string]error, error) {
	failures := map[string]error{}

	for kind, validate := range map[string]func([]byte) error{
		"rules":     ValidateRuleDocument,
		"workflows": ValidateWorkflowDocument,
	} {
		files, err := filepath.Glob(filepath.Join(dir, kind, "*.json"))
		if err != nil {
			return nil, err
		}

		for _, file := range files {
			body, err := os.ReadFile(file)
			if err != nil {
				return nil, fmt.Errorf("failed to read %s: %w", file, err)
			}

			if err := validate(body); err != nil {
				failures[file] = err
				continue
			}

			if err := validateModel(kind, body); err != nil {
				failures[file] = err
			}
		}
	}

	return failures, nil
}

func validateModel(kind string, body []byte) error {
	if kind == "rules" {
		var rule models.Rule
		if err := json.Unmarshal(body, &rule); err != nil {
			return err
		}

		return rule.Validate()
	}

	var wf models.Workflow
	if err := json.Unmarshal(body, &wf); err != nil {
		return err
	}

	return wf.Validate()
}
