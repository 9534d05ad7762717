package condition

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// ErrorHandler receives configuration errors found while evaluating.
type ErrorHandler func(err *ConfigurationError)

// Evaluator evaluates conditions. The zero value discards configuration errors.
type Evaluator struct {
	onError ErrorHandler
}

// NewEvaluator creates an evaluator reporting malformed conditions to onError.
func NewEvaluator(onError ErrorHandler) *Evaluator {
	return &Evaluator{onError: onError}
}

var defaultEvaluator = &Evaluator{}

// Evaluate evaluates c against subject using an evaluator that ignores configuration errors.
func Evaluate(c Condition, subject map[string]any) bool {
	return defaultEvaluator.Evaluate(c, subject)
}

// Evaluate never panics: a malformed tree evaluates to false and is reported to the error handler.
func (e *Evaluator) Evaluate(c Condition, subject map[string]any) bool {
	result, err := e.eval(c, subject)
	if err != nil {
		if e != nil && e.onError != nil {
			e.onError(err)
		}

		return false
	}

	return result
}

func (e *Evaluator) eval(c Condition, subject map[string]any) (bool, *ConfigurationError) {
	switch c.Operator {
	case OperatorAnd:
		if len(c.Conditions) == 0 {
			return false, &ConfigurationError{Operator: c.Operator, Reason: "requires at least one child"}
		}

		for _, child := range c.Conditions {
			ok, err := e.eval(child, subject)
			if err != nil {
				return false, err
			}

			if !ok {
				return false, nil
			}
		}

		return true, nil

	case OperatorOr:
		if len(c.Conditions) == 0 {
			return false, &ConfigurationError{Operator: c.Operator, Reason: "requires at least one child"}
		}

		for _, child := range c.Conditions {
			ok, err := e.eval(child, subject)
			if err != nil {
				return false, err
			}

			if ok {
				return true, nil
			}
		}

		return false, nil

	case OperatorNot:
		if len(c.Conditions) != 1 {
			return false, &ConfigurationError{Operator: c.Operator, Reason: fmt.Sprintf("requires exactly one child, got %d", len(c.Conditions))}
		}

		ok, err := e.eval(c.Conditions[0], subject)
		if err != nil {
			return false, err
		}

		return !ok, nil
	}

	if err := checkShape(c); err != nil {
		return false, err
	}

	actual, found := Resolve(subject, c.Field)

	return compare(c.Operator, actual, found, c.Value), nil
}

// Resolve walks a dotted path through nested maps and slices.
// The second return value is false when any segment is missing.
func Resolve(subject map[string]any, path string) (any, bool) {
	if path == "" {
		return nil, false
	}

	var current any = subject

	for _, segment := range strings.Split(path, ".") {
		switch node := current.(type) {
		case map[string]any:
			next, ok := node[segment]
			if !ok {
				return nil, false
			}

			current = next
		case []any:
			idx, err := strconv.Atoi(segment)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}

			current = node[idx]
		default:
			return nil, false
		}
	}

	return current, true
}

func compare(op Operator, actual any, found bool, expected any) bool {
	if !found {
		return op == OperatorEquals && expected == nil
	}

	switch op {
	case OperatorEquals:
		return equal(actual, expected)
	case OperatorNotEquals:
		return !equal(actual, expected)
	case OperatorGreaterThan:
		cmp, ok := order(actual, expected)
		return ok && cmp > 0
	case OperatorLessThan:
		cmp, ok := order(actual, expected)
		return ok && cmp < 0
	case OperatorGreaterThanOrEqual:
		cmp, ok := order(actual, expected)
		return ok && cmp >= 0
	case OperatorLessThanOrEqual:
		cmp, ok := order(actual, expected)
		return ok && cmp <= 0
	case OperatorIn:
		list, _ := asList(expected)
		return containsElement(list, actual)
	case OperatorNotIn:
		if actual == nil {
			return false
		}

		list, _ := asList(expected)

		return !containsElement(list, actual)
	case OperatorContains:
		if s, ok := actual.(string); ok {
			sub, ok := expected.(string)
			return ok && strings.Contains(s, sub)
		}

		if list, ok := asList(actual); ok {
			return containsElement(list, expected)
		}

		return false
	case OperatorStartsWith:
		s, ok1 := actual.(string)
		prefix, ok2 := expected.(string)

		return ok1 && ok2 && strings.HasPrefix(s, prefix)
	case OperatorEndsWith:
		s, ok1 := actual.(string)
		suffix, ok2 := expected.(string)

		return ok1 && ok2 && strings.HasSuffix(s, suffix)
	default:
		return false
	}
}

func equal(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	if x, ok := toFloat(a); ok {
		if y, ok := toFloat(b); ok {
			return x == y
		}
	}

	return reflect.DeepEqual(a, b)
}

// order returns -1, 0 or 1. Numbers compare numerically, timestamps chronologically and
// strings lexically; mixed or unordered types are not comparable.
func order(a, b any) (int, bool) {
	if x, ok := toFloat(a); ok {
		y, ok := toFloat(b)
		if !ok || math.IsNaN(x) || math.IsNaN(y) {
			return 0, false
		}

		switch {
		case x < y:
			return -1, true
		case x > y:
			return 1, true
		default:
			return 0, true
		}
	}

	sa, ok1 := a.(string)
	sb, ok2 := b.(string)

	if !ok1 || !ok2 {
		ta, okA := a.(time.Time)
		tb, okB := b.(time.Time)

		if okA && okB {
			return ta.Compare(tb), true
		}

		return 0, false
	}

	ta, errA := time.Parse(time.RFC3339, sa)
	tb, errB := time.Parse(time.RFC3339, sb)

	if errA == nil && errB == nil {
		return ta.Compare(tb), true
	}

	return strings.Compare(sa, sb), true
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func asList(v any) ([]any, bool) {
	switch list := v.(type) {
	case []any:
		return list, true
	case []string:
		out := make([]any, len(list))
		for i, s := range list {
			out[i] = s
		}

		return out, true
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}

	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}

	return out, true
}

func containsElement(list []any, v any) bool {
	for _, item := range list {
		if equal(item, v) {
			return true
		}
	}

	return false
}

func decodeValue(raw json.RawMessage) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}

	return v, nil
}
