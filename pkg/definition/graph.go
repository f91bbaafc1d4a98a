package definition

import (
	"time"

	"github.com/robfig/cron/v3"

	"github.com/evergreenhq/journeys/pkg/models"
)

// NodeKind identifies the behavior of a flow graph node.
type NodeKind string

const (
	NodeKindTrigger   NodeKind = "trigger"
	NodeKindCondition NodeKind = "condition"
	NodeKindDelay     NodeKind = "delay"
	NodeKindAction    NodeKind = "action"
)

// Branch is one labeled condition outcome, evaluated in declared order.
type Branch struct {
	Label     string
	Predicate models.Predicate
}

// Node is one compiled flow graph node. Only the fields matching Kind are set.
type Node struct {
	ID   string
	Kind NodeKind

	// Trigger
	Predicate models.Predicate

	// Condition
	Branches   []Branch
	HasDefault bool

	// Delay: exactly one of Duration, Until, UntilCron
	Duration  time.Duration
	Until     *time.Time
	UntilCron string
	cronSched cron.Schedule

	// Action
	ActionType   string
	ActionConfig map[string]any
}

// NextWake computes when a delay node releases an enrollment that parks on
// it now. Absolute waits already in the past release immediately.
func (n *Node) NextWake(now time.Time) time.Time {
	switch {
	case n.Duration > 0:
		return now.Add(n.Duration)
	case n.Until != nil:
		if n.Until.After(now) {
			return *n.Until
		}

		return now
	case n.cronSched != nil:
		return n.cronSched.Next(now)
	default:
		return now
	}
}

// Graph is an immutable, validated flow graph for one journey version.
//
// Nodes live in an arena indexed by position; edges reference indices, so
// cycles through delay nodes never produce ownership cycles.
type Graph struct {
	journeyID string
	version   int
	entry     int
	nodes     []Node
	index     map[string]int
	edges     []map[string]int // per node, label -> target index
}

// JourneyID returns the journey this graph was compiled for.
func (g *Graph) JourneyID() string {
	return g.journeyID
}

// Version returns the definition version this graph was compiled from.
func (g *Graph) Version() int {
	return g.version
}

// Entry returns the graph's trigger node.
func (g *Graph) Entry() *Node {
	return &g.nodes[g.entry]
}

// Node returns the node with the given id.
func (g *Graph) Node(id string) (*Node, bool) {
	idx, ok := g.index[id]
	if !ok {
		return nil, false
	}

	return &g.nodes[idx], true
}

// Next returns the successor of nodeID along the edge with the given label.
// The empty label addresses the single unlabeled outgoing edge of trigger,
// delay and action nodes.
func (g *Graph) Next(nodeID, label string) (*Node, bool) {
	idx, ok := g.index[nodeID]
	if !ok {
		return nil, false
	}

	target, ok := g.edges[idx][label]
	if !ok {
		return nil, false
	}

	return &g.nodes[target], true
}

// Terminal reports whether the node has no outgoing edges.
func (g *Graph) Terminal(nodeID string) bool {
	idx, ok := g.index[nodeID]
	if !ok {
		return true
	}

	return len(g.edges[idx]) == 0
}

// Size returns the number of nodes in the graph.
func (g *Graph) Size() int {
	return len(g.nodes)
}
