package flowplane

import (
	"github.com/dominikbraun/graph"
	"github.com/flowplane/flowplane/pkg/node"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Graph is the editor's in-memory workflow graph. The node and edge slices
// are the source of truth; adjacency queries that need traversal project
// onto a dominikbraun graph via Directed().
//
// Every mutation is a pure transform returning a new Graph, which is what
// lets the history manager keep whole-graph snapshots.
type Graph struct {
	Name  string      `json:"name"`
	Nodes []node.Node `json:"nodes"`
	Edges []node.Edge `json:"edges"`
}

// NewGraph creates a graph seeded with a single start node.
func NewGraph(name string) *Graph {
	return &Graph{
		Name: name,
		Nodes: []node.Node{{
			ID:       shortID(),
			Kind:     node.Start,
			Label:    "Start",
			Position: node.Position{X: 80, Y: 200},
		}},
	}
}

func shortID() string {
	// short ids keep run logs and layout documents readable; eight hex
	// chars is collision-safe at authoring scale.
	return uuid.NewString()[:8]
}

// Clone returns a deep copy.
func (g *Graph) Clone() *Graph {
	ng := &Graph{Name: g.Name}
	ng.Nodes = make([]node.Node, len(g.Nodes))
	for i, n := range g.Nodes {
		ng.Nodes[i] = cloneNode(n)
	}
	ng.Edges = append([]node.Edge(nil), g.Edges...)
	return ng
}

func cloneNode(n node.Node) node.Node {
	if n.Action != nil {
		a := *n.Action
		a.Parameters = cloneStringMap(n.Action.Parameters)
		a.ParameterMap = cloneStringMap(n.Action.ParameterMap)
		n.Action = &a
	}
	if n.Branch != nil {
		b := *n.Branch
		b.Conditions = append(b.Conditions[:0:0], n.Branch.Conditions...)
		n.Branch = &b
	}
	if n.Terminal != nil {
		t := *n.Terminal
		if n.Terminal.Config != nil {
			t.Config = make(map[string]any, len(n.Terminal.Config))
			for k, v := range n.Terminal.Config {
				t.Config[k] = v
			}
		}
		n.Terminal = &t
	}
	if n.Macro != nil {
		m := *n.Macro
		m.Bindings = cloneStringMap(n.Macro.Bindings)
		n.Macro = &m
	}
	return n
}

func cloneStringMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// AddNode returns a graph with n added. An id is minted if n has none.
func (g *Graph) AddNode(n node.Node) *Graph {
	ng := g.Clone()
	if n.ID == "" {
		n.ID = shortID()
	}
	ng.Nodes = append(ng.Nodes, cloneNode(n))
	return ng
}

// RemoveNode returns a graph without the node and without its incident
// edges.
func (g *Graph) RemoveNode(id string) *Graph {
	ng := g.Clone()
	nodes := ng.Nodes[:0]
	for _, n := range ng.Nodes {
		if n.ID != id {
			nodes = append(nodes, n)
		}
	}
	ng.Nodes = nodes
	edges := ng.Edges[:0]
	for _, e := range ng.Edges {
		if e.From != id && e.To != id {
			edges = append(edges, e)
		}
	}
	ng.Edges = edges
	return ng
}

// MoveNode returns a graph with the node repositioned.
func (g *Graph) MoveNode(id string, pos node.Position) *Graph {
	ng := g.Clone()
	for i := range ng.Nodes {
		if ng.Nodes[i].ID == id {
			ng.Nodes[i].Position = pos
		}
	}
	return ng
}

// ReplaceNode returns a graph with the node's label and payload replaced.
// The node is matched by id; position is preserved unless n carries one.
func (g *Graph) ReplaceNode(n node.Node) *Graph {
	ng := g.Clone()
	for i := range ng.Nodes {
		if ng.Nodes[i].ID == n.ID {
			if n.Position == (node.Position{}) {
				n.Position = ng.Nodes[i].Position
			}
			ng.Nodes[i] = cloneNode(n)
		}
	}
	return ng
}

// Connect returns a graph with a new edge from (from, port) to to. Port
// uniqueness is not enforced here; a second edge on the same port is a
// validation error, surfaced at save time.
func (g *Graph) Connect(from string, port node.Port, to string) *Graph {
	ng := g.Clone()
	ng.Edges = append(ng.Edges, node.Edge{
		ID:   shortID(),
		From: from,
		To:   to,
		Port: port,
	})
	return ng
}

// Disconnect returns a graph without the identified edge.
func (g *Graph) Disconnect(edgeID string) *Graph {
	ng := g.Clone()
	edges := ng.Edges[:0]
	for _, e := range ng.Edges {
		if e.ID != edgeID {
			edges = append(edges, e)
		}
	}
	ng.Edges = edges
	return ng
}

func (g *Graph) NodeByID(id string) (node.Node, bool) {
	for _, n := range g.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return node.Node{}, false
}

// Start returns the graph's start node. The validator guarantees exactly
// one exists in a saved graph.
func (g *Graph) Start() (node.Node, bool) {
	for _, n := range g.Nodes {
		if n.Kind == node.Start {
			return n, true
		}
	}
	return node.Node{}, false
}

// EdgeFrom returns the edge leaving (from, port), if any.
func (g *Graph) EdgeFrom(from string, port node.Port) (node.Edge, bool) {
	for _, e := range g.Edges {
		if e.From == from && e.Port == port {
			return e, true
		}
	}
	return node.Edge{}, false
}

// Outgoing returns all edges leaving a node.
func (g *Graph) Outgoing(id string) []node.Edge {
	var out []node.Edge
	for _, e := range g.Edges {
		if e.From == id {
			out = append(out, e)
		}
	}
	return out
}

// Incident returns all edges touching a node.
func (g *Graph) Incident(id string) []node.Edge {
	var out []node.Edge
	for _, e := range g.Edges {
		if e.From == id || e.To == id {
			out = append(out, e)
		}
	}
	return out
}

// Directed projects the graph onto a directed dominikbraun graph for
// traversal (reachability checks, DOT export). The port travels as an edge
// attribute so DOT output labels it. Edges with a missing endpoint are
// skipped here; the validator reports them separately. AddEdge wraps its
// sentinels, so the checks go through errors.Is.
func (g *Graph) Directed() (graph.Graph[string, node.Node], error) {
	dg := graph.New(func(n node.Node) string { return n.ID }, graph.Directed())
	for _, n := range g.Nodes {
		err := dg.AddVertex(n, graph.VertexAttribute("label", n.DisplayLabel()))
		if err != nil && !errors.Is(err, graph.ErrVertexAlreadyExists) {
			return nil, err
		}
	}
	for _, e := range g.Edges {
		err := dg.AddEdge(e.From, e.To, graph.EdgeAttribute("port", string(e.Port)))
		if err != nil && !errors.Is(err, graph.ErrEdgeAlreadyExists) && !errors.Is(err, graph.ErrVertexNotFound) {
			return nil, err
		}
	}
	return dg, nil
}
