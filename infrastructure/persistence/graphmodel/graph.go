// Package graphmodel interprets structured statements against an in-memory
// property graph. Stores that cannot run Cypher keep their data in this
// model and persist whatever it changed.
package graphmodel

import (
	"fmt"

	"github.com/google/uuid"

	"graphsync/application/ports"
	"graphsync/application/statements"
	"graphsync/domain/core/entities"
	"graphsync/domain/core/valueobjects"
)

// Node is a stored entity. Several nodes may share a name.
type Node struct {
	ID         string
	Name       string
	Attributes entities.Attributes
	CreatedAt  valueobjects.Timestamp
}

// Edge is a stored directed relation between two node ids.
type Edge struct {
	ID        string
	SourceID  string
	TargetID  string
	CreatedAt valueobjects.Timestamp
	Note      string
}

// Graph is not safe for concurrent use; stores guard it.
type Graph struct {
	nodes []*Node
	edges []*Edge
	newID func() string
}

// New returns an empty graph that assigns uuid ids.
func New() *Graph {
	return &Graph{newID: uuid.NewString}
}

// FromItems rebuilds a graph from persisted nodes and edges. Edges whose
// endpoints are missing are dropped.
func FromItems(nodes []Node, edges []Edge) *Graph {
	g := New()
	known := make(map[string]bool, len(nodes))
	for i := range nodes {
		n := nodes[i]
		g.nodes = append(g.nodes, &n)
		known[n.ID] = true
	}
	for i := range edges {
		e := edges[i]
		if known[e.SourceID] && known[e.TargetID] {
			g.edges = append(g.edges, &e)
		}
	}
	return g
}

// Clone returns a deep copy.
func (g *Graph) Clone() *Graph {
	return FromItems(g.Nodes(), g.Edges())
}

// Nodes returns a copy of every node in insertion order.
func (g *Graph) Nodes() []Node {
	out := make([]Node, 0, len(g.nodes))
	for _, n := range g.nodes {
		out = append(out, *n)
	}
	return out
}

// Edges returns a copy of every edge in insertion order.
func (g *Graph) Edges() []Edge {
	out := make([]Edge, 0, len(g.edges))
	for _, e := range g.edges {
		out = append(out, *e)
	}
	return out
}

// Apply executes one statement. Raw statements are rejected with
// ports.ErrUnsupportedStatement.
func (g *Graph) Apply(st statements.Statement) ([]statements.Row, error) {
	op := st.Op
	shared := valueobjects.ParseTimestamp(st.Params[statements.ParamCreatedAt])

	switch op.Kind {
	case statements.OpReadGraph:
		return g.readGraph(), nil

	case statements.OpMatchEntities:
		var rows []statements.Row
		for _, n := range g.named(op.Name) {
			rows = append(rows, statements.NewRow(
				[]string{"name", "role", "location", "website", "createdAt"},
				map[string]any{
					"name":      n.Name,
					"role":      n.Attributes.Role,
					"location":  n.Attributes.Location,
					"website":   n.Attributes.Contact,
					"createdAt": millis(n.CreatedAt),
				}))
		}
		return rows, nil

	case statements.OpMatchRelations:
		var rows []statements.Row
		for _, e := range g.edges {
			s, t := g.node(e.SourceID), g.node(e.TargetID)
			if s.Name != op.Name && t.Name != op.Name {
				continue
			}
			rows = append(rows, statements.NewRow(
				[]string{"source", "target", "createdAt", "note"},
				map[string]any{
					"source":    s.Name,
					"target":    t.Name,
					"createdAt": millis(e.CreatedAt),
					"note":      nullable(e.Note),
				}))
		}
		return rows, nil

	case statements.OpCreateEntity:
		g.addNode(op.Name, op.Attributes, shared)
		return nil, nil

	case statements.OpMergeEntity:
		matched := g.named(op.Name)
		if len(matched) == 0 {
			g.addNode(op.Name, op.Attributes, shared)
			return nil, nil
		}
		for _, n := range matched {
			n.Attributes = n.Attributes.FillEmpty(op.Attributes)
			if !n.CreatedAt.Valid() {
				n.CreatedAt = shared
			}
		}
		return nil, nil

	case statements.OpEnsureEntity:
		if len(g.named(op.Name)) == 0 {
			g.addNode(op.Name, op.Attributes, shared)
		}
		return nil, nil

	case statements.OpCreateRelation:
		g.eachPair(op.Name, op.Target, func(s, t *Node) {
			g.addEdge(s.ID, t.ID, shared, "")
		})
		return nil, nil

	case statements.OpMergeRelation, statements.OpCopyRelation:
		ts, note := shared, ""
		if op.Kind == statements.OpCopyRelation {
			note = op.Note
			if op.CreatedAt.Valid() {
				ts = op.CreatedAt
			}
		}
		g.eachPair(op.Name, op.Target, func(s, t *Node) {
			if g.edgeBetween(s.ID, t.ID) == nil {
				g.addEdge(s.ID, t.ID, ts, note)
			}
		})
		return nil, nil

	case statements.OpSetAttributes:
		for _, n := range g.named(op.Name) {
			n.Attributes = op.Attributes
		}
		return nil, nil

	case statements.OpRename:
		for _, n := range g.named(op.Name) {
			n.Name = op.Target
		}
		return nil, nil

	case statements.OpDetachDelete:
		g.detachDelete(op.Name)
		return nil, nil

	case statements.OpSetRelationNote:
		g.eachPair(op.Name, op.Target, func(s, t *Node) {
			for _, e := range g.edges {
				if e.SourceID == s.ID && e.TargetID == t.ID {
					e.Note = op.Note
				}
			}
		})
		return nil, nil

	case statements.OpBackfillTimestamps:
		var nodes, edges int
		for _, n := range g.nodes {
			if !n.CreatedAt.Valid() && shared.Valid() {
				n.CreatedAt = shared
				nodes++
			}
		}
		for _, e := range g.edges {
			if !e.CreatedAt.Valid() && shared.Valid() {
				e.CreatedAt = shared
				edges++
			}
		}
		return []statements.Row{statements.NewRow(
			[]string{"entities", "relations"},
			map[string]any{"entities": int64(nodes), "relations": int64(edges)},
		)}, nil

	default:
		return nil, fmt.Errorf("%w: %s", ports.ErrUnsupportedStatement, op.Kind)
	}
}

// ApplyAll executes statements in order and stops at the first error.
func (g *Graph) ApplyAll(stmts []statements.Statement) error {
	for _, st := range stmts {
		if _, err := g.Apply(st); err != nil {
			return err
		}
	}
	return nil
}

func (g *Graph) readGraph() []statements.Row {
	keys := []string{
		"source", "sourceRole", "sourceLocation", "sourceWebsite", "sourceCreatedAt",
		"target", "targetRole", "targetLocation", "targetWebsite", "targetCreatedAt",
		"createdAt", "note",
	}
	var rows []statements.Row
	for _, s := range g.nodes {
		base := map[string]any{
			"source":          s.Name,
			"sourceRole":      s.Attributes.Role,
			"sourceLocation":  s.Attributes.Location,
			"sourceWebsite":   s.Attributes.Contact,
			"sourceCreatedAt": millis(s.CreatedAt),
		}
		out := 0
		for _, e := range g.edges {
			if e.SourceID != s.ID {
				continue
			}
			t := g.node(e.TargetID)
			vals := make(map[string]any, len(keys))
			for k, v := range base {
				vals[k] = v
			}
			vals["target"] = t.Name
			vals["targetRole"] = t.Attributes.Role
			vals["targetLocation"] = t.Attributes.Location
			vals["targetWebsite"] = t.Attributes.Contact
			vals["targetCreatedAt"] = millis(t.CreatedAt)
			vals["createdAt"] = millis(e.CreatedAt)
			vals["note"] = nullable(e.Note)
			rows = append(rows, statements.NewRow(keys, vals))
			out++
		}
		if out == 0 {
			rows = append(rows, statements.NewRow(keys, base))
		}
	}
	return rows
}

func (g *Graph) addNode(name string, attrs entities.Attributes, ts valueobjects.Timestamp) {
	g.nodes = append(g.nodes, &Node{ID: g.newID(), Name: name, Attributes: attrs, CreatedAt: ts})
}

func (g *Graph) addEdge(sourceID, targetID string, ts valueobjects.Timestamp, note string) {
	g.edges = append(g.edges, &Edge{ID: g.newID(), SourceID: sourceID, TargetID: targetID, CreatedAt: ts, Note: note})
}

func (g *Graph) named(name string) []*Node {
	var out []*Node
	for _, n := range g.nodes {
		if n.Name == name {
			out = append(out, n)
		}
	}
	return out
}

func (g *Graph) node(id string) *Node {
	for _, n := range g.nodes {
		if n.ID == id {
			return n
		}
	}
	return &Node{ID: id}
}

func (g *Graph) edgeBetween(sourceID, targetID string) *Edge {
	for _, e := range g.edges {
		if e.SourceID == sourceID && e.TargetID == targetID {
			return e
		}
	}
	return nil
}

func (g *Graph) eachPair(source, target string, f func(s, t *Node)) {
	for _, s := range g.named(source) {
		for _, t := range g.named(target) {
			f(s, t)
		}
	}
}

func (g *Graph) detachDelete(name string) {
	removed := make(map[string]bool)
	nodes := g.nodes[:0]
	for _, n := range g.nodes {
		if n.Name == name {
			removed[n.ID] = true
			continue
		}
		nodes = append(nodes, n)
	}
	g.nodes = nodes

	edges := g.edges[:0]
	for _, e := range g.edges {
		if removed[e.SourceID] || removed[e.TargetID] {
			continue
		}
		edges = append(edges, e)
	}
	g.edges = edges
}

func millis(ts valueobjects.Timestamp) any {
	if !ts.Valid() {
		return nil
	}
	return ts.Millis()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
