package flowplane

import (
	"fmt"
	"strings"

	"github.com/dominikbraun/graph"
	"github.com/flowplane/flowplane/pkg/catalog"
	"github.com/flowplane/flowplane/pkg/node"
	"github.com/flowplane/flowplane/pkg/template"
	"github.com/mitchellh/mapstructure"
)

// Problem is one structural defect found in a graph. Validation returns
// every problem at once so the editor can display them together; problems
// are values, never panics.
type Problem struct {
	Code    string `json:"code"`
	NodeID  string `json:"node_id,omitempty"`
	Message string `json:"message"`
}

func (p Problem) Error() string {
	if p.NodeID != "" {
		return fmt.Sprintf("%s (%s): %s", p.Code, p.NodeID, p.Message)
	}
	return fmt.Sprintf("%s: %s", p.Code, p.Message)
}

// Validator checks a graph before persistence. The catalog is optional;
// when present, action references are checked against it.
type Validator struct {
	Catalog catalog.Catalog
}

// Validate runs every structural check and returns the full problem list.
// The checks are independent of each other: a graph missing its start node
// still gets its branch and terminal problems reported.
func (v Validator) Validate(name string, nodes []node.Node, edges []node.Edge) []Problem {
	var problems []Problem
	add := func(code, nodeID, format string, args ...any) {
		problems = append(problems, Problem{
			Code:    code,
			NodeID:  nodeID,
			Message: fmt.Sprintf(format, args...),
		})
	}

	g := &Graph{Name: name, Nodes: nodes, Edges: edges}

	if strings.TrimSpace(name) == "" {
		add("name_required", "", "workflow name must not be empty")
	}

	// exactly one start node
	var starts []node.Node
	for _, n := range nodes {
		if n.Kind == node.Start {
			starts = append(starts, n)
		}
	}
	switch {
	case len(starts) == 0:
		add("missing_start", "", "graph has no start node")
	case len(starts) > 1:
		for _, n := range starts[1:] {
			add("multiple_start", n.ID, "graph has more than one start node")
		}
	}

	// port uniqueness: exactly one edge per (from, port)
	seen := map[string]bool{}
	for _, e := range edges {
		key := e.From + "/" + string(e.Port)
		if seen[key] {
			add("port_conflict", e.From, "multiple edges leave port %q", e.Port)
		}
		seen[key] = true
	}

	// dangling edges
	for _, e := range edges {
		if _, ok := g.NodeByID(e.From); !ok {
			add("dangling_edge", e.From, "edge %s references missing node %s", e.ID, e.From)
		}
		if _, ok := g.NodeByID(e.To); !ok {
			add("dangling_edge", e.To, "edge %s references missing node %s", e.ID, e.To)
		}
	}

	actionCount := 0
	for _, n := range nodes {
		out := g.Outgoing(n.ID)
		switch n.Kind {
		case node.Start:
			if len(out) != 1 || out[0].Port != node.PortSuccess {
				add("start_wiring", n.ID, "start node must have exactly one success edge")
			}
		case node.Action:
			actionCount++
			v.checkAction(g, n, out, add)
		case node.Branch:
			v.checkBranch(n, out, add)
		case node.Terminal:
			v.checkTerminal(n, out, add)
		case node.Macro:
			if n.Macro == nil || n.Macro.WorkflowID == "" {
				add("macro_missing_ref", n.ID, "macro node must reference a workflow")
			}
		default:
			add("unknown_kind", n.ID, "node has unknown kind")
		}
	}
	if actionCount == 0 {
		add("no_actions", "", "workflow must contain at least one action")
	}

	problems = append(problems, v.checkConnectivity(g, starts)...)
	problems = append(problems, checkForwardRefs(g)...)
	return problems
}

func (v Validator) checkAction(g *Graph, n node.Node, out []node.Edge, add func(code, nodeID, format string, args ...any)) {
	if n.Action == nil || n.Action.Ref == "" {
		add("action_missing_ref", n.ID, "action node must reference an action")
	} else if v.Catalog != nil {
		if _, ok := v.Catalog.Action(n.Action.Ref); !ok {
			add("unknown_action", n.ID, "action %q is not in the catalog", n.Action.Ref)
		}
	}
	for _, e := range out {
		if e.Port != node.PortSuccess && e.Port != node.PortFailure {
			add("invalid_port", n.ID, "action nodes fan out on success/failure, not %q", e.Port)
		}
	}
}

func (v Validator) checkBranch(n node.Node, out []node.Edge, add func(code, nodeID, format string, args ...any)) {
	if n.Branch == nil || len(n.Branch.Conditions) == 0 {
		add("branch_no_conditions", n.ID, "branch node must declare at least one condition")
		return
	}
	for i, c := range n.Branch.Conditions {
		if err := c.Check(); err != nil {
			add("invalid_condition", n.ID, "condition %d: %s", i+1, err)
		}
	}
	for _, e := range out {
		if e.Port != node.PortTrue && e.Port != node.PortFalse {
			add("invalid_port", n.ID, "branch nodes fan out on true/false, not %q", e.Port)
		}
	}
}

func (v Validator) checkTerminal(n node.Node, out []node.Edge, add func(code, nodeID, format string, args ...any)) {
	if len(out) > 0 {
		add("terminal_outgoing", n.ID, "terminal nodes must have no outgoing edges")
	}
	if n.Terminal == nil {
		add("terminal_missing_outcome", n.ID, "terminal node must declare an outcome")
		return
	}
	if n.Terminal.Outcome == node.OutcomeWebhook {
		var cfg node.WebhookConfig
		if err := mapstructure.Decode(n.Terminal.Config, &cfg); err != nil || cfg.URL == "" {
			add("webhook_missing_url", n.ID, "webhook terminal must carry a target URL")
		}
	}
}

// checkConnectivity verifies every non-start node is reachable from start
// and that no node floats without an incident edge.
func (v Validator) checkConnectivity(g *Graph, starts []node.Node) []Problem {
	var problems []Problem
	if len(starts) == 0 {
		return nil // unreachability is meaningless without a start
	}

	dg, err := g.Directed()
	if err != nil {
		return []Problem{{Code: "graph_error", Message: err.Error()}}
	}
	reached := map[string]bool{}
	_ = graph.BFS(dg, starts[0].ID, func(id string) bool {
		reached[id] = true
		return false
	})

	for _, n := range g.Nodes {
		if n.Kind == node.Start {
			continue
		}
		if len(g.Incident(n.ID)) == 0 {
			problems = append(problems, Problem{
				Code: "orphan_node", NodeID: n.ID,
				Message: "node has no incident edges",
			})
			continue
		}
		if !reached[n.ID] {
			problems = append(problems, Problem{
				Code: "unreachable", NodeID: n.ID,
				Message: "node is not reachable from start",
			})
		}
	}
	return problems
}

// checkForwardRefs verifies that every steps.* template reference names a
// step that appears earlier in the canonical order. Catching this at save
// time keeps it out of run time, where the reference would silently resolve
// to an empty string.
func checkForwardRefs(g *Graph) []Problem {
	plan, err := Linearize(g)
	if err != nil {
		return nil // no start node; reported elsewhere
	}

	order := map[string]int{}
	for i, s := range plan.Steps {
		order[s.ID] = i
	}

	var problems []Problem
	for i, s := range plan.Steps {
		var refs []string
		for _, v := range s.Parameters {
			refs = append(refs, template.Refs(v)...)
		}
		for _, v := range s.ParameterMap {
			refs = append(refs, template.Refs(v)...)
		}
		for _, v := range s.Bindings {
			refs = append(refs, template.Refs(v)...)
		}
		for _, c := range s.Conditions {
			refs = append(refs, template.Refs(c.Source)...)
		}

		for _, ref := range refs {
			parts := strings.Split(ref, ".")
			if len(parts) < 2 || parts[0] != "steps" {
				continue
			}
			j, known := order[parts[1]]
			if !known || j >= i {
				problems = append(problems, Problem{
					Code: "forward_reference", NodeID: s.ID,
					Message: fmt.Sprintf("step %s references %q, which does not execute earlier", s.ID, ref),
				})
			}
		}
	}
	return problems
}
