// Package definition compiles journey definition documents into immutable,
// validated flow graphs.
package definition

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/xeipuuv/gojsonschema"

	"github.com/evergreenhq/journeys/pkg/models"
)

type document struct {
	Entry string         `json:"entry"`
	Nodes []documentNode `json:"nodes"`
	Edges []documentEdge `json:"edges"`
}

type documentNode struct {
	ID         string           `json:"id"`
	Kind       string           `json:"kind"`
	Predicate  models.Predicate `json:"predicate"`
	Branches   []documentBranch `json:"branches"`
	Default    bool             `json:"default"`
	Duration   string           `json:"duration"`
	Until      string           `json:"until"`
	UntilCron  string           `json:"untilCron"`
	ActionType string           `json:"actionType"`
	Config     map[string]any   `json:"config"`
}

type documentBranch struct {
	Label     string           `json:"label"`
	Predicate models.Predicate `json:"predicate"`
}

type documentEdge struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Label string `json:"label"`
}

// Compile validates a journey definition document and produces the flow
// graph for (journeyID, version). Compilation is pure: it reads the document
// and either returns a graph or a DefinitionError listing every violation
// found, not just the first.
func Compile(journeyID string, version int, def map[string]any) (*Graph, error) {
	doc, violations, err := parseDocument(def)
	if err != nil {
		return nil, err
	}

	if len(violations) > 0 {
		return nil, &DefinitionError{JourneyID: journeyID, Violations: violations}
	}

	c := &compiler{doc: doc}

	c.collectNodes()
	c.checkTrigger()
	c.collectEdges()
	c.checkReachability()
	c.checkTimeProgress()

	if len(c.violations) > 0 {
		return nil, &DefinitionError{JourneyID: journeyID, Violations: c.violations}
	}

	return &Graph{
		journeyID: journeyID,
		version:   version,
		entry:     c.entry,
		nodes:     c.nodes,
		index:     c.index,
		edges:     c.edges,
	}, nil
}

func parseDocument(def map[string]any) (*document, []string, error) {
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(documentSchema),
		gojsonschema.NewGoLoader(def),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to run definition schema validation: %w", err)
	}

	if !result.Valid() {
		violations := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			violations = append(violations, desc.String())
		}

		return nil, violations, nil
	}

	raw, err := json.Marshal(def)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode definition document: %w", err)
	}

	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, nil, fmt.Errorf("failed to decode definition document: %w", err)
	}

	return &doc, nil, nil
}

type compiler struct {
	doc        *document
	violations []string

	entry int
	nodes []Node
	index map[string]int
	edges []map[string]int
}

func (c *compiler) violatef(format string, args ...any) {
	c.violations = append(c.violations, fmt.Sprintf(format, args...))
}

func (c *compiler) collectNodes() {
	c.index = make(map[string]int, len(c.doc.Nodes))
	c.nodes = make([]Node, 0, len(c.doc.Nodes))

	for _, dn := range c.doc.Nodes {
		if _, exists := c.index[dn.ID]; exists {
			c.violatef("duplicate node id %q", dn.ID)

			continue
		}

		node, ok := c.buildNode(dn)
		if !ok {
			continue
		}

		c.index[dn.ID] = len(c.nodes)
		c.nodes = append(c.nodes, node)
	}
}

func (c *compiler) buildNode(dn documentNode) (Node, bool) {
	node := Node{ID: dn.ID, Kind: NodeKind(dn.Kind)}
	ok := true

	switch node.Kind {
	case NodeKindTrigger:
		if err := dn.Predicate.Validate(); err != nil {
			c.violatef("trigger node %q: %v", dn.ID, err)

			ok = false
		}

		node.Predicate = dn.Predicate
	case NodeKindCondition:
		if len(dn.Branches) == 0 {
			c.violatef("condition node %q has no branches", dn.ID)

			ok = false
		}

		seen := make(map[string]bool, len(dn.Branches))
		for _, b := range dn.Branches {
			if b.Label == "default" {
				c.violatef("condition node %q uses reserved branch label %q", dn.ID, b.Label)

				ok = false
			}

			if seen[b.Label] {
				c.violatef("condition node %q has duplicate branch label %q", dn.ID, b.Label)

				ok = false
			}

			seen[b.Label] = true

			if err := b.Predicate.Validate(); err != nil {
				c.violatef("condition node %q branch %q: %v", dn.ID, b.Label, err)

				ok = false
			}

			node.Branches = append(node.Branches, Branch{Label: b.Label, Predicate: b.Predicate})
		}

		node.HasDefault = dn.Default
	case NodeKindDelay:
		ok = c.buildDelay(&node, dn)
	case NodeKindAction:
		if dn.ActionType == "" {
			c.violatef("action node %q has no actionType", dn.ID)

			ok = false
		}

		node.ActionType = dn.ActionType
		node.ActionConfig = dn.Config
	}

	return node, ok
}

func (c *compiler) buildDelay(node *Node, dn documentNode) bool {
	set := 0
	ok := true

	if dn.Duration != "" {
		set++

		d, err := time.ParseDuration(dn.Duration)
		if err != nil {
			c.violatef("delay node %q has invalid duration %q: %v", dn.ID, dn.Duration, err)

			ok = false
		} else if d <= 0 {
			c.violatef("delay node %q duration must be positive, got %q", dn.ID, dn.Duration)

			ok = false
		}

		node.Duration = d
	}

	if dn.Until != "" {
		set++

		at, err := time.Parse(time.RFC3339, dn.Until)
		if err != nil {
			c.violatef("delay node %q has invalid until time %q: %v", dn.ID, dn.Until, err)

			ok = false
		} else {
			node.Until = &at
		}
	}

	if dn.UntilCron != "" {
		set++

		sched, err := cron.ParseStandard(dn.UntilCron)
		if err != nil {
			c.violatef("delay node %q has invalid untilCron expression %q: %v", dn.ID, dn.UntilCron, err)

			ok = false
		} else {
			node.UntilCron = dn.UntilCron
			node.cronSched = sched
		}
	}

	if set != 1 {
		c.violatef("delay node %q must set exactly one of duration, until, untilCron", dn.ID)

		ok = false
	}

	return ok
}

func (c *compiler) checkTrigger() {
	triggers := make([]string, 0, 1)

	for _, node := range c.nodes {
		if node.Kind == NodeKindTrigger {
			triggers = append(triggers, node.ID)
		}
	}

	if len(triggers) != 1 {
		c.violatef("definition must have exactly one trigger node, found %d", len(triggers))

		return
	}

	if c.doc.Entry != "" && c.doc.Entry != triggers[0] {
		c.violatef("entry %q is not the trigger node %q", c.doc.Entry, triggers[0])

		return
	}

	c.entry = c.index[triggers[0]]
}

func (c *compiler) collectEdges() {
	c.edges = make([]map[string]int, len(c.nodes))
	for i := range c.edges {
		c.edges[i] = make(map[string]int)
	}

	for _, edge := range c.doc.Edges {
		from, fromOK := c.index[edge.From]
		to, toOK := c.index[edge.To]

		if !fromOK {
			c.violatef("edge references unknown source node %q", edge.From)
		}

		if !toOK {
			c.violatef("edge references unknown target node %q", edge.To)
		}

		if !fromOK || !toOK {
			continue
		}

		if c.nodes[to].Kind == NodeKindTrigger {
			c.violatef("edge from %q targets the trigger node %q", edge.From, edge.To)

			continue
		}

		if _, dup := c.edges[from][edge.Label]; dup {
			c.violatef("node %q has multiple outgoing edges labeled %q", edge.From, edge.Label)

			continue
		}

		c.edges[from][edge.Label] = to
	}

	for idx, node := range c.nodes {
		c.checkNodeEdges(idx, node)
	}
}

func (c *compiler) checkNodeEdges(idx int, node Node) {
	out := c.edges[idx]

	if node.Kind != NodeKindCondition {
		for label := range out {
			if label != "" {
				c.violatef("node %q is not a condition but has a labeled edge %q", node.ID, label)
			}
		}

		if len(out) > 1 {
			c.violatef("node %q must have at most one outgoing edge, found %d", node.ID, len(out))
		}

		return
	}

	labels := make(map[string]bool, len(node.Branches))
	for _, b := range node.Branches {
		labels[b.Label] = true

		if _, ok := out[b.Label]; !ok {
			c.violatef("condition node %q branch %q has no outgoing edge", node.ID, b.Label)
		}
	}

	if node.HasDefault {
		if _, ok := out["default"]; !ok {
			c.violatef("condition node %q declares a default branch but has no edge labeled \"default\"", node.ID)
		}
	}

	for label := range out {
		if label == "default" {
			if !node.HasDefault {
				c.violatef("condition node %q has a default edge but does not declare a default branch", node.ID)
			}

			continue
		}

		if !labels[label] {
			c.violatef("condition node %q has an edge labeled %q that matches no branch", node.ID, label)
		}
	}
}

// checkReachability flags nodes the trigger can never reach.
func (c *compiler) checkReachability() {
	if len(c.violations) > 0 {
		return
	}

	seen := make([]bool, len(c.nodes))
	stack := []int{c.entry}
	seen[c.entry] = true

	for len(stack) > 0 {
		idx := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		for _, to := range c.edges[idx] {
			if !seen[to] {
				seen[to] = true
				stack = append(stack, to)
			}
		}
	}

	for idx, node := range c.nodes {
		if !seen[idx] {
			c.violatef("node %q is unreachable from the trigger", node.ID)
		}
	}
}

// recurringDelay reports whether a delay imposes a positive wait on every
// lap. An absolute until delay fires once; after its instant passes it
// wakes immediately, so it cannot keep a cycle from spinning.
func recurringDelay(n *Node) bool {
	return n.Kind == NodeKindDelay && (n.Duration > 0 || n.cronSched != nil)
}

// checkTimeProgress rejects any cycle that does not pass through a delay
// with a guaranteed positive wait, so the executor can never spin without
// making time progress. Recurring delays are the only permitted back-edge
// targets; cutting their outgoing edges must leave the remainder acyclic.
func (c *compiler) checkTimeProgress() {
	if len(c.violations) > 0 {
		return
	}

	const (
		unvisited = 0
		inStack   = 1
		done      = 2
	)

	state := make([]int, len(c.nodes))

	var visit func(idx int) bool

	visit = func(idx int) bool {
		state[idx] = inStack

		if !recurringDelay(&c.nodes[idx]) {
			for _, to := range c.edges[idx] {
				switch state[to] {
				case inStack:
					c.violatef("cycle through node %q does not pass through a delay with a guaranteed positive wait", c.nodes[to].ID)

					return false
				case unvisited:
					if !visit(to) {
						return false
					}
				}
			}
		}

		state[idx] = done

		return true
	}

	for idx := range c.nodes {
		if state[idx] == unvisited && !visit(idx) {
			return
		}
	}
}
