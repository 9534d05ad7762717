// Package condition evaluates field comparisons and boolean combinations of them
// against a refund's attributes.
package condition

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Operator identifies a comparison (simple conditions) or a boolean combinator (complex conditions).
type Operator string

const (
	OperatorEquals             Operator = "equals"
	OperatorNotEquals          Operator = "notEquals"
	OperatorGreaterThan        Operator = "greaterThan"
	OperatorLessThan           Operator = "lessThan"
	OperatorGreaterThanOrEqual Operator = "greaterThanOrEqual"
	OperatorLessThanOrEqual    Operator = "lessThanOrEqual"
	OperatorIn                 Operator = "in"
	OperatorNotIn              Operator = "notIn"
	OperatorContains           Operator = "contains"
	OperatorStartsWith         Operator = "startsWith"
	OperatorEndsWith           Operator = "endsWith"

	OperatorAnd Operator = "AND"
	OperatorOr  Operator = "OR"
	OperatorNot Operator = "NOT"
)

// IsLogical reports whether the operator combines child conditions.
func (o Operator) IsLogical() bool {
	return o == OperatorAnd || o == OperatorOr || o == OperatorNot
}

// Condition is either a simple field comparison or a boolean combination of child conditions.
// Conditions are built once from configuration and never mutated afterwards.
type Condition struct {
	// Simple form
	Field string `json:"field,omitempty"`
	Value any    `json:"value,omitempty"`

	Operator Operator `json:"operator"`

	// Complex form
	Conditions []Condition `json:"conditions,omitempty"`
}

// Simple builds a field comparison.
func Simple(field string, op Operator, value any) Condition {
	return Condition{Field: field, Operator: op, Value: value}
}

// And builds a conjunction.
func And(children ...Condition) Condition {
	return Condition{Operator: OperatorAnd, Conditions: children}
}

// Or builds a disjunction.
func Or(children ...Condition) Condition {
	return Condition{Operator: OperatorOr, Conditions: children}
}

// Not negates a single condition.
func Not(child Condition) Condition {
	return Condition{Operator: OperatorNot, Conditions: []Condition{child}}
}

// IsComplex reports whether the condition is a boolean combination.
func (c Condition) IsComplex() bool {
	return c.Operator.IsLogical()
}

// MarshalJSON writes the simple form with its value even when the value is a zero value,
// and the complex form without one.
func (c Condition) MarshalJSON() ([]byte, error) {
	if c.IsComplex() {
		return json.Marshal(struct {
			Operator   Operator    `json:"operator"`
			Conditions []Condition `json:"conditions"`
		}{c.Operator, c.Conditions})
	}

	return json.Marshal(struct {
		Field    string   `json:"field"`
		Operator Operator `json:"operator"`
		Value    any      `json:"value"`
	}{c.Field, c.Operator, c.Value})
}

// UnmarshalJSON reads child nodes from either "conditions" or "children" and keeps numeric values
// as json.Number so integer thresholds survive decoding exactly.
func (c *Condition) UnmarshalJSON(data []byte) error {
	type raw struct {
		Field      string            `json:"field"`
		Operator   Operator          `json:"operator"`
		Value      json.RawMessage   `json:"value"`
		Conditions []json.RawMessage `json:"conditions"`
		Children   []json.RawMessage `json:"children"`
	}

	var r raw
	if err := json.Unmarshal(data, &r); err != nil {
		return err
	}

	c.Field = r.Field
	c.Operator = r.Operator
	c.Value = nil
	c.Conditions = nil

	if len(r.Value) > 0 {
		v, err := decodeValue(r.Value)
		if err != nil {
			return fmt.Errorf("invalid value for field %q: %w", r.Field, err)
		}

		c.Value = v
	}

	// "children" is accepted as an alias of "conditions".
	for _, child := range append(r.Conditions, r.Children...) {
		var cc Condition
		if err := json.Unmarshal(child, &cc); err != nil {
			return err
		}

		c.Conditions = append(c.Conditions, cc)
	}

	return nil
}

// ErrMalformed is the sentinel wrapped by every ConfigurationError.
var ErrMalformed = errors.New("malformed condition")

// ConfigurationError describes a condition that cannot be evaluated.
type ConfigurationError struct {
	Operator Operator
	Field    string
	Reason   string
}

func (e *ConfigurationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("malformed condition on field %q (%s): %s", e.Field, e.Operator, e.Reason)
	}

	return fmt.Sprintf("malformed %s condition: %s", e.Operator, e.Reason)
}

func (e *ConfigurationError) Unwrap() error {
	return ErrMalformed
}

// Validate checks the condition tree shape without evaluating it.
func Validate(c Condition) error {
	if err := checkShape(c); err != nil {
		return err
	}

	for _, child := range c.Conditions {
		if err := Validate(child); err != nil {
			return err
		}
	}

	return nil
}

func checkShape(c Condition) *ConfigurationError {
	switch c.Operator {
	case OperatorAnd, OperatorOr:
		if len(c.Conditions) == 0 {
			return &ConfigurationError{Operator: c.Operator, Reason: "requires at least one child"}
		}
	case OperatorNot:
		if len(c.Conditions) != 1 {
			return &ConfigurationError{Operator: c.Operator, Reason: fmt.Sprintf("requires exactly one child, got %d", len(c.Conditions))}
		}
	case OperatorIn, OperatorNotIn:
		if c.Field == "" {
			return &ConfigurationError{Operator: c.Operator, Reason: "field is required"}
		}

		if _, ok := asList(c.Value); !ok {
			return &ConfigurationError{Operator: c.Operator, Field: c.Field, Reason: "value must be a list"}
		}
	case OperatorEquals, OperatorNotEquals,
		OperatorGreaterThan, OperatorLessThan, OperatorGreaterThanOrEqual, OperatorLessThanOrEqual,
		OperatorContains, OperatorStartsWith, OperatorEndsWith:
		if c.Field == "" {
			return &ConfigurationError{Operator: c.Operator, Reason: "field is required"}
		}
	default:
		return &ConfigurationError{Operator: c.Operator, Field: c.Field, Reason: "unknown operator"}
	}

	return nil
}
