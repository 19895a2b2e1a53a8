package flowplane

import (
	"fmt"

	"github.com/flowplane/flowplane/pkg/node"
	"github.com/flowplane/flowplane/pkg/step"
	"github.com/pkg/errors"
)

// Layout is the opaque, round-trip-preserving serialization of node
// positions and edge wiring. It is persisted alongside the canonical steps
// and never consulted by the run coordinator.
type Layout struct {
	Nodes []node.Node `json:"nodes"`
	Edges []node.Edge `json:"edges"`
}

// Plan is the persisted execution form of a graph: the canonical step list
// plus the layout document.
type Plan struct {
	Steps  []step.Step `json:"steps"`
	Layout *Layout     `json:"layout,omitempty"`
}

// Linearize flattens a graph into its canonical step list. Starting at the
// start node it follows the success chain (the true edge when leaving a
// branch; branches are themselves steps, not skipped), appending a
// canonical step for every action, branch and macro node visited.
//
// Traversal stops at the first terminal reached or when a node is revisited:
// the linear plan format cannot represent loops, so a cycle is treated as
// the end of the chain. Failure edges are not walked; the step's own
// OnFailure policy, not topology, is authoritative at run time.
func Linearize(g *Graph) (*Plan, error) {
	start, ok := g.Start()
	if !ok {
		return nil, errors.New("graph has no start node")
	}

	visited := map[string]bool{}
	var steps []step.Step
	cur := start

walk:
	for !visited[cur.ID] {
		visited[cur.ID] = true

		var port node.Port
		switch cur.Kind {
		case node.Start:
			port = node.PortSuccess
		case node.Action:
			steps = append(steps, projectAction(cur))
			port = node.PortSuccess
		case node.Branch:
			steps = append(steps, projectBranch(cur))
			port = node.PortTrue
		case node.Macro:
			steps = append(steps, projectMacro(cur))
			port = node.PortSuccess
		case node.Terminal:
			break walk
		default:
			break walk
		}

		e, ok := g.EdgeFrom(cur.ID, port)
		if !ok {
			break
		}
		next, ok := g.NodeByID(e.To)
		if !ok {
			break
		}
		cur = next
	}

	cloned := g.Clone()
	return &Plan{
		Steps:  steps,
		Layout: &Layout{Nodes: cloned.Nodes, Edges: cloned.Edges},
	}, nil
}

func projectAction(n node.Node) step.Step {
	a := n.Action
	if a == nil {
		a = &node.ActionSpec{}
	}
	s := step.Step{
		ID:           n.ID,
		Kind:         node.Action,
		Label:        n.Label,
		ActionRef:    a.Ref,
		Gate:         a.Gate,
		OnFailure:    a.OnFailure,
		Parameters:   a.Parameters,
		ParameterMap: a.ParameterMap,
		Target:       a.Target,
	}
	return fillDefaults(s)
}

func projectBranch(n node.Node) step.Step {
	b := n.Branch
	if b == nil {
		b = &node.BranchSpec{}
	}
	s := step.Step{
		ID:         n.ID,
		Kind:       node.Branch,
		Label:      n.Label,
		OnFailure:  b.OnFailure,
		Conditions: b.Conditions,
	}
	return fillDefaults(s)
}

func projectMacro(n node.Node) step.Step {
	m := n.Macro
	if m == nil {
		m = &node.MacroSpec{}
	}
	s := step.Step{
		ID:        n.ID,
		Kind:      node.Macro,
		Label:     n.Label,
		Gate:      m.Gate,
		OnFailure: m.OnFailure,
		MacroRef:  m.WorkflowID,
		Bindings:  m.Bindings,
	}
	return fillDefaults(s)
}

func fillDefaults(s step.Step) step.Step {
	out := step.Normalize([]step.Step{s})
	return out[0]
}

// Reconstruct rebuilds a graph from a persisted plan. When the layout is
// present its nodes and edges are returned verbatim, preserving
// operator-authored positions and any branch or terminal detail the
// flattened steps cannot express.
//
// When the layout is absent (a workflow authored before the editor existed,
// or a hand-written step list) a graph is synthesized: start, one node per
// step laid out left to right, an allow terminal at the end, and an
// auxiliary deny terminal wired to the failure port of every stop-policy
// action step. The synthesis is lossy in position but never in semantics.
func Reconstruct(steps []step.Step, layout *Layout) (*Graph, error) {
	if layout != nil && len(layout.Nodes) > 0 {
		g := &Graph{Nodes: layout.Nodes, Edges: layout.Edges}
		return g.Clone(), nil
	}

	steps = step.Normalize(steps)
	g := &Graph{}

	start := node.Node{
		ID:       "start",
		Kind:     node.Start,
		Label:    "Start",
		Position: node.Position{X: 80, Y: 200},
	}
	g.Nodes = append(g.Nodes, start)

	edgeSeq := 0
	addEdge := func(from string, port node.Port, to string) {
		edgeSeq++
		g.Edges = append(g.Edges, node.Edge{
			ID:   fmt.Sprintf("e-%d", edgeSeq),
			From: from,
			To:   to,
			Port: port,
		})
	}

	prevID := start.ID
	prevPort := node.PortSuccess
	for i, s := range steps {
		n, err := nodeFromStep(s)
		if err != nil {
			return nil, err
		}
		n.Position = node.Position{X: 80 + float64(i+1)*180, Y: 200}
		g.Nodes = append(g.Nodes, n)
		addEdge(prevID, prevPort, n.ID)

		if s.Kind == node.Action && s.OnFailure == node.FailStop {
			deny := node.Node{
				ID:       "deny-" + s.ID,
				Kind:     node.Terminal,
				Label:    "Failed",
				Position: node.Position{X: n.Position.X, Y: 360},
				Terminal: &node.TerminalSpec{Outcome: node.OutcomeDeny},
			}
			g.Nodes = append(g.Nodes, deny)
			addEdge(n.ID, node.PortFailure, deny.ID)
		}

		prevID = n.ID
		prevPort = node.PortSuccess
		if s.Kind == node.Branch {
			prevPort = node.PortTrue
		}
	}

	end := node.Node{
		ID:       "end",
		Kind:     node.Terminal,
		Label:    "Done",
		Position: node.Position{X: 80 + float64(len(steps)+1)*180, Y: 200},
		Terminal: &node.TerminalSpec{Outcome: node.OutcomeAllow},
	}
	g.Nodes = append(g.Nodes, end)
	addEdge(prevID, prevPort, end.ID)

	return g, nil
}

func nodeFromStep(s step.Step) (node.Node, error) {
	n := node.Node{ID: s.ID, Kind: s.Kind, Label: s.Label}
	switch s.Kind {
	case node.Action:
		n.Action = &node.ActionSpec{
			Ref:          s.ActionRef,
			Gate:         s.Gate,
			OnFailure:    s.OnFailure,
			Parameters:   s.Parameters,
			ParameterMap: s.ParameterMap,
			Target:       s.Target,
		}
	case node.Branch:
		n.Branch = &node.BranchSpec{
			Conditions: s.Conditions,
			OnFailure:  s.OnFailure,
		}
	case node.Macro:
		n.Macro = &node.MacroSpec{
			WorkflowID: s.MacroRef,
			Bindings:   s.Bindings,
			Gate:       s.Gate,
			OnFailure:  s.OnFailure,
		}
	default:
		return node.Node{}, fmt.Errorf("step %s has non-executable kind %s", s.ID, s.Kind)
	}
	return n, nil
}
