package flowplane

import (
	"testing"

	"github.com/flowplane/flowplane/pkg/node"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewGraphSeedsStart(t *testing.T) {
	g := NewGraph("maintenance")
	start, ok := g.Start()
	assert.True(t, ok)
	assert.Equal(t, node.Start, start.Kind)
	assert.Len(t, start.ID, 8)
}

func TestMutationsArePure(t *testing.T) {
	g := NewGraph("maintenance")
	start, _ := g.Start()

	g2 := g.AddNode(node.Node{
		ID:     "a1",
		Kind:   node.Action,
		Action: &node.ActionSpec{Ref: "run_command", Parameters: map[string]string{"command": "show version"}},
	})
	assert.Len(t, g.Nodes, 1, "original graph untouched")
	assert.Len(t, g2.Nodes, 2)

	g3 := g2.Connect(start.ID, node.PortSuccess, "a1")
	assert.Empty(t, g2.Edges)
	assert.Len(t, g3.Edges, 1)

	// payload maps are deep-copied, so editing one snapshot cannot bleed
	// into another
	g3.Nodes[1].Action.Parameters["command"] = "reload"
	prev, _ := g2.NodeByID("a1")
	assert.Equal(t, "show version", prev.Action.Parameters["command"])
}

func TestRemoveNodeDropsIncidentEdges(t *testing.T) {
	g := NewGraph("maintenance")
	start, _ := g.Start()
	g = g.AddNode(node.Node{ID: "a1", Kind: node.Action, Action: &node.ActionSpec{Ref: "run_command"}})
	g = g.AddNode(node.Node{ID: "a2", Kind: node.Action, Action: &node.ActionSpec{Ref: "run_command"}})
	g = g.Connect(start.ID, node.PortSuccess, "a1")
	g = g.Connect("a1", node.PortSuccess, "a2")

	g = g.RemoveNode("a1")
	_, ok := g.NodeByID("a1")
	assert.False(t, ok)
	assert.Empty(t, g.Edges, "both edges touched a1")
}

func TestEdgeFromHonoursPort(t *testing.T) {
	g := NewGraph("maintenance")
	start, _ := g.Start()
	g = g.AddNode(node.Node{ID: "b1", Kind: node.Branch, Branch: &node.BranchSpec{}})
	g = g.AddNode(node.Node{ID: "a-true", Kind: node.Action, Action: &node.ActionSpec{Ref: "run_command"}})
	g = g.AddNode(node.Node{ID: "a-false", Kind: node.Action, Action: &node.ActionSpec{Ref: "run_command"}})
	g = g.Connect(start.ID, node.PortSuccess, "b1")
	g = g.Connect("b1", node.PortTrue, "a-true")
	g = g.Connect("b1", node.PortFalse, "a-false")

	e, ok := g.EdgeFrom("b1", node.PortTrue)
	assert.True(t, ok)
	assert.Equal(t, "a-true", e.To)

	e, ok = g.EdgeFrom("b1", node.PortFalse)
	assert.True(t, ok)
	assert.Equal(t, "a-false", e.To)

	_, ok = g.EdgeFrom("b1", node.PortSuccess)
	assert.False(t, ok)
}

func TestDisconnect(t *testing.T) {
	g := NewGraph("maintenance")
	start, _ := g.Start()
	g = g.AddNode(node.Node{ID: "a1", Kind: node.Action, Action: &node.ActionSpec{Ref: "run_command"}})
	g = g.Connect(start.ID, node.PortSuccess, "a1")

	g = g.Disconnect(g.Edges[0].ID)
	assert.Empty(t, g.Edges)
}

func TestDirectedProjection(t *testing.T) {
	g := NewGraph("maintenance")
	start, _ := g.Start()
	g = g.AddNode(node.Node{ID: "a1", Kind: node.Action, Action: &node.ActionSpec{Ref: "run_command"}})
	g = g.Connect(start.ID, node.PortSuccess, "a1")
	// a dangling edge must not break the projection; the validator reports it
	g = g.Connect("a1", node.PortSuccess, "ghost")

	dg, err := g.Directed()
	require.NoError(t, err)
	adj, err := dg.AdjacencyMap()
	require.NoError(t, err)
	require.Contains(t, adj[start.ID], "a1")
	assert.Equal(t, "success", adj[start.ID]["a1"].Properties.Attributes["port"])
}
