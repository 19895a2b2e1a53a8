package flowplane

import (
	"fmt"
	"testing"

	"github.com/flowplane/flowplane/pkg/node"
	"github.com/stretchr/testify/assert"
)

func addLabelled(label string) func(*Graph) *Graph {
	return func(g *Graph) *Graph {
		return g.AddNode(node.Node{
			Kind:   node.Action,
			Label:  label,
			Action: &node.ActionSpec{Ref: "run_command"},
		})
	}
}

func TestHistoryUndoRedo(t *testing.T) {
	h := NewHistory(NewGraph("maintenance"))
	assert.False(t, h.CanUndo())
	assert.False(t, h.CanRedo())

	h.Apply(addLabelled("first"))
	h.Apply(addLabelled("second"))
	assert.Len(t, h.Present().Nodes, 3) // start + two actions

	assert.True(t, h.Undo())
	assert.Len(t, h.Present().Nodes, 2)
	assert.True(t, h.CanRedo())

	assert.True(t, h.Undo())
	assert.Len(t, h.Present().Nodes, 1)
	assert.False(t, h.Undo(), "nothing left to undo")

	assert.True(t, h.Redo())
	assert.True(t, h.Redo())
	assert.Len(t, h.Present().Nodes, 3)
	assert.False(t, h.Redo(), "nothing left to redo")
}

func TestHistoryApplyClearsRedo(t *testing.T) {
	h := NewHistory(NewGraph("maintenance"))
	h.Apply(addLabelled("first"))
	h.Apply(addLabelled("second"))

	assert.True(t, h.Undo())
	assert.True(t, h.CanRedo())

	// a new edit forks the timeline; the undone branch is unreachable.
	h.Apply(addLabelled("third"))
	assert.False(t, h.CanRedo())
	assert.Equal(t, "third", h.Present().Nodes[2].Label)
}

func TestHistoryDepthEviction(t *testing.T) {
	h := NewHistory(NewGraph("maintenance"))
	for i := 0; i < DefaultHistoryDepth+10; i++ {
		h.Apply(addLabelled(fmt.Sprintf("n-%d", i)))
	}

	undos := 0
	for h.Undo() {
		undos++
	}
	assert.Equal(t, DefaultHistoryDepth, undos)

	// the oldest reachable snapshot already contains the evicted edits.
	assert.Len(t, h.Present().Nodes, 11)
}

func TestHistorySnapshotsAreIndependent(t *testing.T) {
	h := NewHistory(NewGraph("maintenance"))
	h.Apply(addLabelled("first"))

	id := h.Present().Nodes[1].ID
	h.Apply(func(g *Graph) *Graph {
		return g.MoveNode(id, node.Position{X: 500, Y: 500})
	})

	assert.True(t, h.Undo())
	assert.Equal(t, node.Position{}, h.Present().Nodes[1].Position,
		"undone snapshot must not see the later move")
}
