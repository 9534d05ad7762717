package models

import (
	"encoding/json"
	"time"
)

// RefundSnapshot is the read-only view of a refund the engine evaluates rules against.
type RefundSnapshot struct {
	ID             string  `json:"id"              validate:"required"`
	Amount         float64 `json:"amount"          validate:"gte=0"`
	Currency       string  `json:"currency"        validate:"required,len=3"`
	MerchantID     string  `json:"merchant_id"`
	OrganizationID string  `json:"organization_id"`
	ProgramID      string  `json:"program_id"`
	BankID         string  `json:"bank_id"`
	Method         string  `json:"method"`
	CustomerID     string  `json:"customer_id"`
	RequestedBy    string  `json:"requested_by"`
	Reason         string  `json:"reason"`

	// Risk signals supplied by the refund lifecycle manager.
	CustomerRefundCount int     `json:"customer_refund_count"`
	MerchantRefundRate  float64 `json:"merchant_refund_rate"`

	Status    string         `json:"status,omitempty"`
	CreatedAt time.Time      `json:"created_at,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Attributes flattens the snapshot into the subject used by condition evaluation.
// Keys are the JSON field names, so "metadata.channel" addresses nested metadata.
func (r *RefundSnapshot) Attributes() map[string]any {
	attrs := map[string]any{
		"id":                    r.ID,
		"amount":                r.Amount,
		"currency":              r.Currency,
		"customer_refund_count": r.CustomerRefundCount,
		"merchant_refund_rate":  r.MerchantRefundRate,
	}

	// Unset optional fields stay absent so conditions on them fail closed.
	for key, value := range map[string]string{
		"merchant_id":     r.MerchantID,
		"organization_id": r.OrganizationID,
		"program_id":      r.ProgramID,
		"bank_id":         r.BankID,
		"method":          r.Method,
		"customer_id":     r.CustomerID,
		"requested_by":    r.RequestedBy,
		"reason":          r.Reason,
		"status":          r.Status,
	} {
		if value != "" {
			attrs[key] = value
		}
	}

	if !r.CreatedAt.IsZero() {
		attrs["created_at"] = r.CreatedAt.UTC().Format(time.RFC3339)
	}

	if r.Metadata != nil {
		// Round-trip so nested values share the JSON shapes the evaluator expects.
		if raw, err := json.Marshal(r.Metadata); err == nil {
			var meta map[string]any
			if json.Unmarshal(raw, &meta) == nil {
				attrs["metadata"] = meta
			}
		}
	}

	return attrs
}
