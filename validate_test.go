package flowplane

import (
	"testing"

	"github.com/flowplane/flowplane/pkg/catalog"
	"github.com/flowplane/flowplane/pkg/condition"
	"github.com/flowplane/flowplane/pkg/node"
	"github.com/stretchr/testify/assert"
)

var testCatalog = catalog.Of(
	catalog.Action{Name: "run_command"},
	catalog.Action{Name: "notify"},
)

// validGraph is a minimal well-formed graph: start → action → allow.
func validGraph() *Graph {
	return &Graph{
		Name: "maintenance",
		Nodes: []node.Node{
			{ID: "start", Kind: node.Start},
			{ID: "a1", Kind: node.Action, Action: &node.ActionSpec{Ref: "run_command"}},
			{ID: "end", Kind: node.Terminal, Terminal: &node.TerminalSpec{Outcome: node.OutcomeAllow}},
		},
		Edges: []node.Edge{
			{ID: "e1", From: "start", To: "a1", Port: node.PortSuccess},
			{ID: "e2", From: "a1", To: "end", Port: node.PortSuccess},
		},
	}
}

func codes(problems []Problem) []string {
	var out []string
	for _, p := range problems {
		out = append(out, p.Code)
	}
	return out
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(g *Graph) *Graph
		wantCodes []string
	}{
		{
			name:   "valid graph has no problems",
			mutate: func(g *Graph) *Graph { return g },
		},
		{
			name: "empty name",
			mutate: func(g *Graph) *Graph {
				g.Name = "  "
				return g
			},
			wantCodes: []string{"name_required"},
		},
		{
			name: "missing start",
			mutate: func(g *Graph) *Graph {
				return g.RemoveNode("start")
			},
			wantCodes: []string{"missing_start"},
		},
		{
			name: "multiple starts",
			mutate: func(g *Graph) *Graph {
				g = g.AddNode(node.Node{ID: "start2", Kind: node.Start})
				return g.Connect("start2", node.PortSuccess, "a1")
			},
			wantCodes: []string{"multiple_start"},
		},
		{
			name: "two edges on one port",
			mutate: func(g *Graph) *Graph {
				return g.Connect("a1", node.PortSuccess, "end")
			},
			wantCodes: []string{"port_conflict"},
		},
		{
			name: "dangling edge",
			mutate: func(g *Graph) *Graph {
				return g.Connect("a1", node.PortFailure, "ghost")
			},
			wantCodes: []string{"dangling_edge"},
		},
		{
			name: "action without a reference",
			mutate: func(g *Graph) *Graph {
				return g.ReplaceNode(node.Node{ID: "a1", Kind: node.Action, Action: &node.ActionSpec{}})
			},
			wantCodes: []string{"action_missing_ref"},
		},
		{
			name: "action not in catalog",
			mutate: func(g *Graph) *Graph {
				return g.ReplaceNode(node.Node{ID: "a1", Kind: node.Action, Action: &node.ActionSpec{Ref: "format_disk"}})
			},
			wantCodes: []string{"unknown_action"},
		},
		{
			name: "branch without conditions",
			mutate: func(g *Graph) *Graph {
				g = g.AddNode(node.Node{ID: "b1", Kind: node.Branch, Branch: &node.BranchSpec{}})
				g = g.Disconnect("e2")
				g = g.Connect("a1", node.PortSuccess, "b1")
				g = g.Connect("b1", node.PortTrue, "end")
				return g
			},
			wantCodes: []string{"branch_no_conditions"},
		},
		{
			name: "branch with malformed condition",
			mutate: func(g *Graph) *Graph {
				g = g.AddNode(node.Node{ID: "b1", Kind: node.Branch, Branch: &node.BranchSpec{
					Conditions: []condition.Condition{{Source: "x", Op: condition.OpMatches, Value: "(["}},
				}})
				g = g.Disconnect("e2")
				g = g.Connect("a1", node.PortSuccess, "b1")
				g = g.Connect("b1", node.PortTrue, "end")
				return g
			},
			wantCodes: []string{"invalid_condition"},
		},
		{
			name: "branch fanning out on a success port",
			mutate: func(g *Graph) *Graph {
				g = g.AddNode(node.Node{ID: "b1", Kind: node.Branch, Branch: &node.BranchSpec{
					Conditions: []condition.Condition{{Source: "x", Op: condition.OpEquals, Value: "y"}},
				}})
				g = g.Disconnect("e2")
				g = g.Connect("a1", node.PortSuccess, "b1")
				g = g.Connect("b1", node.PortSuccess, "end")
				return g
			},
			wantCodes: []string{"invalid_port"},
		},
		{
			name: "terminal with an outgoing edge",
			mutate: func(g *Graph) *Graph {
				g = g.AddNode(node.Node{ID: "a2", Kind: node.Action, Action: &node.ActionSpec{Ref: "notify"}})
				g = g.Connect("end", node.PortSuccess, "a2")
				return g
			},
			wantCodes: []string{"terminal_outgoing"},
		},
		{
			name: "terminal without an outcome",
			mutate: func(g *Graph) *Graph {
				return g.ReplaceNode(node.Node{ID: "end", Kind: node.Terminal})
			},
			wantCodes: []string{"terminal_missing_outcome"},
		},
		{
			name: "webhook terminal without a URL",
			mutate: func(g *Graph) *Graph {
				return g.ReplaceNode(node.Node{ID: "end", Kind: node.Terminal, Terminal: &node.TerminalSpec{
					Outcome: node.OutcomeWebhook,
					Config:  map[string]any{"method": "POST"},
				}})
			},
			wantCodes: []string{"webhook_missing_url"},
		},
		{
			name: "macro without a workflow reference",
			mutate: func(g *Graph) *Graph {
				g = g.AddNode(node.Node{ID: "m1", Kind: node.Macro, Macro: &node.MacroSpec{}})
				g = g.Disconnect("e2")
				g = g.Connect("a1", node.PortSuccess, "m1")
				g = g.Connect("m1", node.PortSuccess, "end")
				return g
			},
			wantCodes: []string{"macro_missing_ref"},
		},
		{
			name: "no actions at all",
			mutate: func(g *Graph) *Graph {
				g = g.RemoveNode("a1")
				g = g.Connect("start", node.PortSuccess, "end")
				return g
			},
			wantCodes: []string{"no_actions"},
		},
		{
			name: "orphan node",
			mutate: func(g *Graph) *Graph {
				return g.AddNode(node.Node{ID: "float", Kind: node.Action, Action: &node.ActionSpec{Ref: "notify"}})
			},
			wantCodes: []string{"orphan_node"},
		},
		{
			name: "unreachable island",
			mutate: func(g *Graph) *Graph {
				g = g.AddNode(node.Node{ID: "i1", Kind: node.Action, Action: &node.ActionSpec{Ref: "notify"}})
				g = g.AddNode(node.Node{ID: "i2", Kind: node.Action, Action: &node.ActionSpec{Ref: "notify"}})
				return g.Connect("i1", node.PortSuccess, "i2")
			},
			wantCodes: []string{"unreachable", "unreachable"},
		},
		{
			name: "forward reference in parameters",
			mutate: func(g *Graph) *Graph {
				return g.ReplaceNode(node.Node{ID: "a1", Kind: node.Action, Action: &node.ActionSpec{
					Ref:        "run_command",
					Parameters: map[string]string{"command": "echo {{steps.a9.output.result}}"},
				}})
			},
			wantCodes: []string{"forward_reference"},
		},
		{
			name: "self reference counts as forward",
			mutate: func(g *Graph) *Graph {
				return g.ReplaceNode(node.Node{ID: "a1", Kind: node.Action, Action: &node.ActionSpec{
					Ref:        "run_command",
					Parameters: map[string]string{"command": "echo {{steps.a1.status}}"},
				}})
			},
			wantCodes: []string{"forward_reference"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := tt.mutate(validGraph())
			v := Validator{Catalog: testCatalog}
			got := v.Validate(g.Name, g.Nodes, g.Edges)
			assert.ElementsMatch(t, tt.wantCodes, codes(got))
		})
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	// several independent defects must all surface in one pass
	g := &Graph{
		Name: "",
		Nodes: []node.Node{
			{ID: "start", Kind: node.Start},
			{ID: "a1", Kind: node.Action, Action: &node.ActionSpec{}},
		},
	}
	v := Validator{Catalog: testCatalog}
	got := codes(v.Validate(g.Name, g.Nodes, g.Edges))
	assert.Contains(t, got, "name_required")
	assert.Contains(t, got, "start_wiring")
	assert.Contains(t, got, "action_missing_ref")
	assert.Contains(t, got, "orphan_node")
}
