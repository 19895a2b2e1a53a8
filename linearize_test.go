package flowplane

import (
	"testing"

	"github.com/flowplane/flowplane/pkg/condition"
	"github.com/flowplane/flowplane/pkg/node"
	"github.com/flowplane/flowplane/pkg/step"
	"github.com/flowplane/flowplane/pkg/step/s"
	"github.com/stretchr/testify/assert"
)

func TestLinearizeFollowsSuccessChain(t *testing.T) {
	g := NewGraph("maintenance")
	start, _ := g.Start()
	g = g.AddNode(node.Node{ID: "a1", Kind: node.Action, Action: &node.ActionSpec{Ref: "run_command"}})
	g = g.AddNode(node.Node{ID: "b1", Kind: node.Branch, Branch: &node.BranchSpec{
		Conditions: []condition.Condition{{Source: "{{steps.a1.status}}", Op: condition.OpEquals, Value: "complete"}},
	}})
	g = g.AddNode(node.Node{ID: "a2", Kind: node.Action, Action: &node.ActionSpec{Ref: "notify"}})
	g = g.AddNode(node.Node{ID: "end", Kind: node.Terminal, Terminal: &node.TerminalSpec{Outcome: node.OutcomeAllow}})
	g = g.AddNode(node.Node{ID: "deny", Kind: node.Terminal, Terminal: &node.TerminalSpec{Outcome: node.OutcomeDeny}})
	g = g.Connect(start.ID, node.PortSuccess, "a1")
	g = g.Connect("a1", node.PortSuccess, "b1")
	g = g.Connect("b1", node.PortTrue, "a2")
	g = g.Connect("b1", node.PortFalse, "deny")
	g = g.Connect("a2", node.PortSuccess, "end")

	plan, err := Linearize(g)
	assert.NoError(t, err)

	var ids []string
	for _, st := range plan.Steps {
		ids = append(ids, st.ID)
	}
	// the true path is canonical; the deny terminal contributes no step
	assert.Equal(t, []string{"a1", "b1", "a2"}, ids)
	assert.Equal(t, node.Branch, plan.Steps[1].Kind)
	assert.Len(t, plan.Layout.Nodes, len(g.Nodes), "layout preserves every node")
}

func TestLinearizeStopsOnCycle(t *testing.T) {
	g := NewGraph("maintenance")
	start, _ := g.Start()
	g = g.AddNode(node.Node{ID: "a1", Kind: node.Action, Action: &node.ActionSpec{Ref: "run_command"}})
	g = g.AddNode(node.Node{ID: "a2", Kind: node.Action, Action: &node.ActionSpec{Ref: "run_command"}})
	g = g.Connect(start.ID, node.PortSuccess, "a1")
	g = g.Connect("a1", node.PortSuccess, "a2")
	g = g.Connect("a2", node.PortSuccess, "a1")

	plan, err := Linearize(g)
	assert.NoError(t, err)
	assert.Len(t, plan.Steps, 2)
}

func TestLinearizeNoStart(t *testing.T) {
	g := &Graph{Name: "broken"}
	_, err := Linearize(g)
	assert.Error(t, err)
}

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		give []step.Step
	}{
		{
			name: "single action",
			give: []step.Step{
				s.Action("step-1", "run_command").Param("command", "show version").Step(),
			},
		},
		{
			name: "action with gate and skip policy",
			give: []step.Step{
				s.Action("step-1", "restart_service").
					Label("Restart nginx").
					Gate(node.GateApprove).
					OnFailure(node.FailSkip).
					Param("service", "nginx").
					Map("previous", "{{steps.step-0.output.state}}").
					Step(),
			},
		},
		{
			name: "action branch action",
			give: []step.Step{
				s.Action("step-1", "check_health").Step(),
				s.Branch("step-2",
					s.Cond("{{steps.step-1.output.healthy}}", condition.OpEquals, "true"),
				).Step(),
				s.Action("step-3", "notify").Param("message", "all good").Step(),
			},
		},
		{
			name: "fixed and previous-step targets",
			give: []step.Step{
				s.Action("step-1", "check_health").
					Target(node.TargetSpec{Source: node.TargetFixed, Fixed: "lb-01"}).
					Step(),
				s.Action("step-2", "restart_service").
					Target(node.TargetSpec{Source: node.TargetPreviousStep, FromStep: "step-1"}).
					Step(),
			},
		},
		{
			name: "macro with bindings",
			give: []step.Step{
				s.Action("step-1", "check_health").Step(),
				s.Macro("step-2", "drain-pool").
					Bind("pool", "{{steps.step-1.output.pool}}").
					OnFailure(node.FailSkip).
					Step(),
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := Reconstruct(tt.give, nil)
			assert.NoError(t, err)

			plan, err := Linearize(g)
			assert.NoError(t, err)
			assert.Equal(t, step.Normalize(tt.give), plan.Steps,
				"linearizing a reconstructed plan must reproduce the canonical steps")
		})
	}
}

func TestReconstructPrefersLayout(t *testing.T) {
	g := NewGraph("maintenance")
	start, _ := g.Start()
	g = g.AddNode(node.Node{
		ID: "a1", Kind: node.Action,
		Position: node.Position{X: 412, Y: 87},
		Action:   &node.ActionSpec{Ref: "run_command"},
	})
	g = g.Connect(start.ID, node.PortSuccess, "a1")

	plan, err := Linearize(g)
	assert.NoError(t, err)

	got, err := Reconstruct(plan.Steps, plan.Layout)
	assert.NoError(t, err)
	n, ok := got.NodeByID("a1")
	assert.True(t, ok)
	assert.Equal(t, node.Position{X: 412, Y: 87}, n.Position,
		"operator-authored positions survive the round trip")
}

func TestReconstructSynthesizesFailureWiring(t *testing.T) {
	steps := []step.Step{
		s.Action("step-1", "run_command").Step(),
		s.Action("step-2", "notify").OnFailure(node.FailSkip).Step(),
	}
	g, err := Reconstruct(steps, nil)
	assert.NoError(t, err)

	_, ok := g.EdgeFrom("step-1", node.PortFailure)
	assert.True(t, ok, "stop-policy action gets a failure edge to a deny terminal")
	_, ok = g.EdgeFrom("step-2", node.PortFailure)
	assert.False(t, ok, "skip-policy failures continue along the success chain")

	deny, ok := g.NodeByID("deny-step-1")
	assert.True(t, ok)
	assert.Equal(t, node.OutcomeDeny, deny.Terminal.Outcome)
}
