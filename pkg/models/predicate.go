package models

import (
	"fmt"
	"strings"
)

// Predicate is a declarative test over subject attributes, used by trigger
// and condition nodes. A leaf predicate compares one attribute; All and Any
// compose sub-predicates. The zero predicate evaluates to true.
type Predicate struct {
	Attribute string      `json:"attribute,omitempty"`
	Op        string      `json:"op,omitempty"`
	Value     any         `json:"value,omitempty"`
	All       []Predicate `json:"all,omitempty"`
	Any       []Predicate `json:"any,omitempty"`
}

// Supported comparison operators.
const (
	OpEqual          = "eq"
	OpNotEqual       = "ne"
	OpGreaterThan    = "gt"
	OpLessThan       = "lt"
	OpGreaterOrEqual = "gte"
	OpLessOrEqual    = "lte"
	OpExists         = "exists"
	OpContains       = "contains"
)

// Empty reports whether the predicate places no constraint at all.
func (p Predicate) Empty() bool {
	return p.Attribute == "" && p.Op == "" && len(p.All) == 0 && len(p.Any) == 0
}

// Validate checks operator and composition shape without evaluating.
func (p Predicate) Validate() error {
	if len(p.All) > 0 || len(p.Any) > 0 {
		if p.Attribute != "" || p.Op != "" {
			return fmt.Errorf("predicate mixes leaf comparison with all/any composition")
		}

		for _, sub := range append(append([]Predicate{}, p.All...), p.Any...) {
			if err := sub.Validate(); err != nil {
				return err
			}
		}

		return nil
	}

	if p.Empty() {
		return nil
	}

	if p.Attribute == "" {
		return fmt.Errorf("predicate with operator %q has no attribute", p.Op)
	}

	switch p.Op {
	case OpEqual, OpNotEqual, OpGreaterThan, OpLessThan, OpGreaterOrEqual, OpLessOrEqual, OpExists, OpContains:
		return nil
	default:
		return fmt.Errorf("unsupported predicate operator %q", p.Op)
	}
}

// Evaluate tests the predicate against a subject attribute snapshot.
func (p Predicate) Evaluate(attrs map[string]any) (bool, error) {
	if p.Empty() {
		return true, nil
	}

	if len(p.All) > 0 {
		for _, sub := range p.All {
			ok, err := sub.Evaluate(attrs)
			if err != nil || !ok {
				return false, err
			}
		}

		return true, nil
	}

	if len(p.Any) > 0 {
		for _, sub := range p.Any {
			ok, err := sub.Evaluate(attrs)
			if err != nil {
				return false, err
			}

			if ok {
				return true, nil
			}
		}

		return false, nil
	}

	value, present := attrs[p.Attribute]

	switch p.Op {
	case OpExists:
		return present, nil
	case OpEqual:
		return present && looseEqual(value, p.Value), nil
	case OpNotEqual:
		return !present || !looseEqual(value, p.Value), nil
	case OpGreaterThan, OpLessThan, OpGreaterOrEqual, OpLessOrEqual:
		if !present {
			return false, nil
		}

		return compareOrdered(p.Op, value, p.Value)
	case OpContains:
		if !present {
			return false, nil
		}

		return contains(value, p.Value)
	default:
		return false, fmt.Errorf("unsupported predicate operator %q", p.Op)
	}
}

func looseEqual(a, b any) bool {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
	}

	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func compareOrdered(op string, a, b any) (bool, error) {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)

	if !aok || !bok {
		return false, fmt.Errorf("operator %q requires numeric operands, got %T and %T", op, a, b)
	}

	switch op {
	case OpGreaterThan:
		return af > bf, nil
	case OpLessThan:
		return af < bf, nil
	case OpGreaterOrEqual:
		return af >= bf, nil
	default:
		return af <= bf, nil
	}
}

func contains(haystack, needle any) (bool, error) {
	switch h := haystack.(type) {
	case string:
		return strings.Contains(h, fmt.Sprintf("%v", needle)), nil
	case []any:
		for _, item := range h {
			if looseEqual(item, needle) {
				return true, nil
			}
		}

		return false, nil
	case []string:
		for _, item := range h {
			if item == fmt.Sprintf("%v", needle) {
				return true, nil
			}
		}

		return false, nil
	default:
		return false, fmt.Errorf("operator %q requires a string or list attribute, got %T", OpContains, haystack)
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
