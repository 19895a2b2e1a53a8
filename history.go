package flowplane

// DefaultHistoryDepth is the number of undo snapshots kept per editing
// session. Graphs are tens of nodes at most, so whole-graph snapshots are
// cheaper than the correctness risk of per-operation diffs.
const DefaultHistoryDepth = 50

// History wraps a Graph with a bounded undo/redo stack. Every mutation goes
// through Apply, which snapshots the previous graph.
type History struct {
	past    []*Graph
	present *Graph
	future  []*Graph
	depth   int
}

// NewHistory starts a history with g as the present graph.
func NewHistory(g *Graph) *History {
	return &History{present: g, depth: DefaultHistoryDepth}
}

// Present returns the current graph.
func (h *History) Present() *Graph {
	return h.present
}

// Apply runs a pure mutation against the present graph. The previous
// present is pushed onto the past stack (evicting the oldest snapshot at
// capacity) and the redo stack is cleared.
func (h *History) Apply(mutate func(*Graph) *Graph) *Graph {
	h.past = append(h.past, h.present)
	if len(h.past) > h.depth {
		h.past = h.past[1:]
	}
	h.future = nil
	h.present = mutate(h.present)
	return h.present
}

// Undo steps back one snapshot. Returns false when there is nothing to
// undo.
func (h *History) Undo() bool {
	if len(h.past) == 0 {
		return false
	}
	h.future = append(h.future, h.present)
	h.present = h.past[len(h.past)-1]
	h.past = h.past[:len(h.past)-1]
	return true
}

// Redo is the mirror of Undo.
func (h *History) Redo() bool {
	if len(h.future) == 0 {
		return false
	}
	h.past = append(h.past, h.present)
	h.present = h.future[len(h.future)-1]
	h.future = h.future[:len(h.future)-1]
	return true
}

// CanUndo reports whether an undo snapshot exists.
func (h *History) CanUndo() bool { return len(h.past) > 0 }

// CanRedo reports whether a redo snapshot exists.
func (h *History) CanRedo() bool { return len(h.future) > 0 }
