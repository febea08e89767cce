package graph

import "fmt"

// CytoscapeElements is the Cytoscape.js elements format.
type CytoscapeElements struct {
	Nodes []CytoscapeNode `json:"nodes"`
	Edges []CytoscapeEdge `json:"edges"`
}

// CytoscapeNode wraps a node as Cytoscape.js element data.
type CytoscapeNode struct {
	Data Node `json:"data"`
}

// CytoscapeEdge wraps an edge as Cytoscape.js element data.
type CytoscapeEdge struct {
	Data CytoscapeEdgeData `json:"data"`
}

// CytoscapeEdgeData carries an edge plus the id Cytoscape.js requires.
type CytoscapeEdgeData struct {
	ID     string       `json:"id"`
	Source string       `json:"source"`
	Target string       `json:"target"`
	Type   RelationType `json:"type"`
	Label  string       `json:"label"`
	Value  float64      `json:"value"`
}

// Cytoscape converts g to Cytoscape.js elements. Edge ids are positional and
// only unique within one conversion.
func Cytoscape(g *Graph) CytoscapeElements {
	out := CytoscapeElements{
		Nodes: make([]CytoscapeNode, 0, len(g.Nodes)),
		Edges: make([]CytoscapeEdge, 0, len(g.Links)),
	}
	for _, n := range g.Nodes {
		out.Nodes = append(out.Nodes, CytoscapeNode{Data: n})
	}
	for i, e := range g.Links {
		label := string(e.Type)
		if loc := localized[e.Type]; len(loc) > 0 {
			label = loc[0]
		}
		out.Edges = append(out.Edges, CytoscapeEdge{Data: CytoscapeEdgeData{
			ID:     fmt.Sprintf("%s-%s-%s-%d", e.Source, e.Target, e.Type, i),
			Source: e.Source,
			Target: e.Target,
			Type:   e.Type,
			Label:  label,
			Value:  e.Value,
		}})
	}
	return out
}
