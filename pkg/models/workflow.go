package models

import (
	"fmt"
	"slices"

	"github.com/dukex/refund-approvals/pkg/condition"
)

// TriggerType selects the heuristic that decides whether a workflow applies to a refund.
type TriggerType string

const (
	TriggerAmount   TriggerType = "AMOUNT"
	TriggerMethod   TriggerType = "METHOD"
	TriggerCustomer TriggerType = "CUSTOMER"
	TriggerMerchant TriggerType = "MERCHANT"
	TriggerCustom   TriggerType = "CUSTOM"
)

// Heuristic defaults for workflows that leave Threshold or RestrictedMethods unset.
const (
	DefaultCustomerRefundThreshold = 3
	DefaultMerchantRefundRate      = 0.05
)

// DefaultRestrictedMethods are the refund methods a METHOD workflow guards when none are configured.
var DefaultRestrictedMethods = []string{"WIRE", "CASH", "CRYPTO", "CHECK"}

// Workflow groups rules behind a trigger. It applies only when its scope matches the refund,
// its trigger fires, and at least one of its rules matches.
type Workflow struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	ScopeType ScopeType `json:"scope_type"   validate:"required,oneof=MERCHANT ORGANIZATION PROGRAM BANK"`
	ScopeID   string    `json:"scope_id"     validate:"required"`

	TriggerType       TriggerType          `json:"trigger_type" validate:"required,oneof=AMOUNT METHOD CUSTOMER MERCHANT CUSTOM"`
	Threshold         *float64             `json:"threshold,omitempty"`
	RestrictedMethods []string             `json:"restricted_methods,omitempty"`
	CustomCondition   *condition.Condition `json:"custom_condition,omitempty"`

	Rules []Rule `json:"rules" validate:"dive"`

	OnTimeout             TimeoutAction `json:"on_timeout,omitempty" validate:"omitempty,oneof=ESCALATE AUTO_APPROVE AUTO_REJECT NOTIFY_ADMIN"`
	FinalEscalationTarget string        `json:"final_escalation_target,omitempty"`
	Active                bool          `json:"active"`
}

// ThresholdOr returns the configured threshold or fallback when unset.
func (w *Workflow) ThresholdOr(fallback float64) float64 {
	if w.Threshold == nil {
		return fallback
	}

	return *w.Threshold
}

// IsRestrictedMethod reports whether method is guarded by a METHOD workflow.
func (w *Workflow) IsRestrictedMethod(method string) bool {
	methods := w.RestrictedMethods
	if len(methods) == 0 {
		methods = DefaultRestrictedMethods
	}

	return slices.Contains(methods, method)
}

// Validate checks trigger-specific requirements and every contained rule.
func (w *Workflow) Validate() error {
	if !w.ScopeType.Valid() {
		return fmt.Errorf("workflow %s: unknown scope type %q", w.ID, w.ScopeType)
	}

	switch w.TriggerType {
	case TriggerAmount:
		if w.Threshold == nil {
			return fmt.Errorf("workflow %s: AMOUNT trigger requires a threshold", w.ID)
		}
	case TriggerCustom:
		if w.CustomCondition == nil {
			return fmt.Errorf("workflow %s: CUSTOM trigger requires a custom condition", w.ID)
		}

		if err := condition.Validate(*w.CustomCondition); err != nil {
			return fmt.Errorf("workflow %s: %w", w.ID, err)
		}
	case TriggerMethod, TriggerCustomer, TriggerMerchant:
	default:
		return fmt.Errorf("workflow %s: unknown trigger type %q", w.ID, w.TriggerType)
	}

	for i := range w.Rules {
		if err := w.Rules[i].Validate(); err != nil {
			return fmt.Errorf("workflow %s: %w", w.ID, err)
		}
	}

	return nil
}
