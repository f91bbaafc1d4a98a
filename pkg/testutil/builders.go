// Package testutil provides test data builders for journey definition
// documents.
package testutil

import "github.com/google/uuid"

// Document assembles a definition document from nodes and edges.
func Document(entry string, nodes []map[string]any, edges []map[string]any) map[string]any {
	return map[string]any{
		"entry": entry,
		"nodes": anySlice(nodes),
		"edges": anySlice(edges),
	}
}

// TriggerNode builds a trigger node. A nil predicate matches every subject.
func TriggerNode(id string, predicate map[string]any) map[string]any {
	node := map[string]any{"id": id, "kind": "trigger"}
	if predicate != nil {
		node["predicate"] = predicate
	}

	return node
}

// ConditionNode builds a condition node from label/predicate pairs.
func ConditionNode(id string, withDefault bool, branches ...map[string]any) map[string]any {
	return map[string]any{
		"id":       id,
		"kind":     "condition",
		"branches": anySlice(branches),
		"default":  withDefault,
	}
}

// Branch pairs a label with a predicate for use in ConditionNode. A nil
// predicate matches every subject.
func Branch(label string, predicate map[string]any) map[string]any {
	branch := map[string]any{"label": label}
	if predicate != nil {
		branch["predicate"] = predicate
	}

	return branch
}

// Predicate builds a leaf comparison predicate.
func Predicate(attribute, op string, value any) map[string]any {
	return map[string]any{"attribute": attribute, "op": op, "value": value}
}

// DelayNode builds a relative delay node.
func DelayNode(id, duration string) map[string]any {
	return map[string]any{"id": id, "kind": "delay", "duration": duration}
}

// DelayUntilNode builds a delay node that waits until an absolute instant.
func DelayUntilNode(id, until string) map[string]any {
	return map[string]any{"id": id, "kind": "delay", "until": until}
}

// DelayUntilCronNode builds a delay node that wakes on a cron schedule.
func DelayUntilCronNode(id, expr string) map[string]any {
	return map[string]any{"id": id, "kind": "delay", "untilCron": expr}
}

// ActionNode builds an action node.
func ActionNode(id, actionType string, config map[string]any) map[string]any {
	node := map[string]any{"id": id, "kind": "action", "actionType": actionType}
	if config != nil {
		node["config"] = config
	}

	return node
}

// Edge builds an unlabeled edge.
func Edge(from, to string) map[string]any {
	return map[string]any{"from": from, "to": to}
}

// LabeledEdge builds a labeled edge out of a condition node.
func LabeledEdge(from, to, label string) map[string]any {
	return map[string]any{"from": from, "to": to, "label": label}
}

// LinearDocument chains the given nodes with unlabeled edges, using the
// first node as entry.
func LinearDocument(nodes ...map[string]any) map[string]any {
	edges := make([]map[string]any, 0, len(nodes)-1)
	for i := 0; i+1 < len(nodes); i++ {
		edges = append(edges, Edge(nodes[i]["id"].(string), nodes[i+1]["id"].(string)))
	}

	return Document(nodes[0]["id"].(string), nodes, edges)
}

// ID returns a unique identifier with the given prefix.
func ID(prefix string) string {
	return prefix + "-" + uuid.New().String()[:8]
}

func anySlice[T any](in []T) []any {
	out := make([]any, len(in))
	for i, v := range in {
		out[i] = v
	}

	return out
}
