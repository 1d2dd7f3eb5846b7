package graphmodel

// ChangeSet lists what has to be written to move a persisted graph from one
// state to another.
type ChangeSet struct {
	PutNodes    []Node
	PutEdges    []Edge
	DeleteNodes []string
	DeleteEdges []string
}

// IsEmpty reports whether nothing changed.
func (c ChangeSet) IsEmpty() bool {
	return len(c.PutNodes) == 0 && len(c.PutEdges) == 0 &&
		len(c.DeleteNodes) == 0 && len(c.DeleteEdges) == 0
}

// Size is the number of item writes in the change set.
func (c ChangeSet) Size() int {
	return len(c.PutNodes) + len(c.PutEdges) + len(c.DeleteNodes) + len(c.DeleteEdges)
}

// Changes compares g against before.
func (g *Graph) Changes(before *Graph) ChangeSet {
	var cs ChangeSet

	oldNodes := make(map[string]Node, len(before.nodes))
	for _, n := range before.nodes {
		oldNodes[n.ID] = *n
	}
	for _, n := range g.nodes {
		old, ok := oldNodes[n.ID]
		if !ok || old.Name != n.Name || old.Attributes != n.Attributes || !old.CreatedAt.Equal(n.CreatedAt) {
			cs.PutNodes = append(cs.PutNodes, *n)
		}
		delete(oldNodes, n.ID)
	}
	for _, n := range before.nodes {
		if _, gone := oldNodes[n.ID]; gone {
			cs.DeleteNodes = append(cs.DeleteNodes, n.ID)
		}
	}

	oldEdges := make(map[string]Edge, len(before.edges))
	for _, e := range before.edges {
		oldEdges[e.ID] = *e
	}
	for _, e := range g.edges {
		old, ok := oldEdges[e.ID]
		if !ok || old.Note != e.Note || !old.CreatedAt.Equal(e.CreatedAt) {
			cs.PutEdges = append(cs.PutEdges, *e)
		}
		delete(oldEdges, e.ID)
	}
	for _, e := range before.edges {
		if _, gone := oldEdges[e.ID]; gone {
			cs.DeleteEdges = append(cs.DeleteEdges, e.ID)
		}
	}
	return cs
}
