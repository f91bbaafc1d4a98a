package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPredicateEvaluateComparisons(t *testing.T) {
	attrs := map[string]any{
		"plan":   "pro",
		"visits": float64(12),
		"tags":   []any{"beta", "early"},
	}

	tests := []struct {
		name      string
		predicate Predicate
		want      bool
	}{
		{"eq match", Predicate{Attribute: "plan", Op: "eq", Value: "pro"}, true},
		{"eq mismatch", Predicate{Attribute: "plan", Op: "eq", Value: "free"}, false},
		{"ne", Predicate{Attribute: "plan", Op: "ne", Value: "free"}, true},
		{"gt", Predicate{Attribute: "visits", Op: "gt", Value: 10}, true},
		{"gte boundary", Predicate{Attribute: "visits", Op: "gte", Value: 12}, true},
		{"lt", Predicate{Attribute: "visits", Op: "lt", Value: 10}, false},
		{"lte boundary", Predicate{Attribute: "visits", Op: "lte", Value: 12}, true},
		{"exists present", Predicate{Attribute: "plan", Op: "exists"}, true},
		{"exists absent", Predicate{Attribute: "missing", Op: "exists"}, false},
		{"contains list", Predicate{Attribute: "tags", Op: "contains", Value: "beta"}, true},
		{"contains miss", Predicate{Attribute: "tags", Op: "contains", Value: "vip"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.predicate.Evaluate(attrs)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPredicateEvaluateComposition(t *testing.T) {
	attrs := map[string]any{"plan": "pro", "visits": float64(3)}

	all := Predicate{All: []Predicate{
		{Attribute: "plan", Op: "eq", Value: "pro"},
		{Attribute: "visits", Op: "gt", Value: 1},
	}}

	got, err := all.Evaluate(attrs)
	require.NoError(t, err)
	assert.True(t, got)

	all.All[1].Value = 5

	got, err = all.Evaluate(attrs)
	require.NoError(t, err)
	assert.False(t, got)

	anyOf := Predicate{Any: []Predicate{
		{Attribute: "plan", Op: "eq", Value: "free"},
		{Attribute: "visits", Op: "lt", Value: 10},
	}}

	got, err = anyOf.Evaluate(attrs)
	require.NoError(t, err)
	assert.True(t, got)
}

func TestPredicateEmptyMatchesEverything(t *testing.T) {
	got, err := Predicate{}.Evaluate(map[string]any{})
	require.NoError(t, err)
	assert.True(t, got)
}

func TestPredicateValidate(t *testing.T) {
	assert.NoError(t, Predicate{Attribute: "plan", Op: "eq", Value: "pro"}.Validate())
	assert.Error(t, Predicate{Attribute: "plan", Op: "like", Value: "pro"}.Validate())
	assert.Error(t, Predicate{
		Attribute: "plan",
		Op:        "eq",
		All:       []Predicate{{Attribute: "x", Op: "exists"}},
	}.Validate())
}

func TestPredicateEvaluateMissingAttribute(t *testing.T) {
	got, err := Predicate{Attribute: "missing", Op: "eq", Value: "x"}.Evaluate(map[string]any{})
	require.NoError(t, err)
	assert.False(t, got)
}
