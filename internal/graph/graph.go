// Package graph assembles the knowledge graph of documents, their key
// concepts and cross-document similarity.
package graph

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// NodeType distinguishes document and concept nodes.
type NodeType string

const (
	NodeDocument NodeType = "document"
	NodeConcept  NodeType = "concept"
)

// Node sizes used by renderers.
const (
	DocumentNodeSize = 20
	ConceptNodeSize  = 10
)

// ContainsWeight is the value of every document to concept edge.
const ContainsWeight = 0.7

// Assembly stages recorded in failures.
const (
	StageConcepts   = "concepts"
	StageParse      = "parse"
	StageSimilarity = "similarity"
)

var (
	// ErrDanglingEdge means an edge endpoint is not a node of the graph.
	ErrDanglingEdge = errors.New("edge references a missing node")

	// ErrDuplicateNode means two nodes share an id.
	ErrDuplicateNode = errors.New("duplicate node id")

	// ErrInvalidWeight means an edge value lies outside [0, 1].
	ErrInvalidWeight = errors.New("edge value out of range")
)

// Node is a document or a concept. Concept ids are "<document>_<concept>".
type Node struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Type        NodeType `json:"type"`
	Document    string   `json:"document,omitempty"`
	Description string   `json:"description,omitempty"`
	Size        int      `json:"size"`
}

// Edge is a typed, weighted link between two nodes.
type Edge struct {
	Source string       `json:"source"`
	Target string       `json:"target"`
	Type   RelationType `json:"type"`
	Value  float64      `json:"value"`
}

// AssemblyPartialFailure records a document that contributed less than
// usual to the graph. The document node is still present.
type AssemblyPartialFailure struct {
	Document string
	Stage    string
	Err      error
}

func (f AssemblyPartialFailure) Error() string {
	return fmt.Sprintf("%s: %s: %v", f.Document, f.Stage, f.Err)
}

func (f AssemblyPartialFailure) Unwrap() error {
	return f.Err
}

// MarshalJSON renders the error as text.
func (f AssemblyPartialFailure) MarshalJSON() ([]byte, error) {
	msg := ""
	if f.Err != nil {
		msg = f.Err.Error()
	}
	return json.Marshal(struct {
		Document string `json:"document"`
		Stage    string `json:"stage"`
		Error    string `json:"error"`
	}{f.Document, f.Stage, msg})
}

// Graph is one snapshot of the knowledge graph.
type Graph struct {
	Nodes    []Node                   `json:"nodes"`
	Links    []Edge                   `json:"links"`
	Failures []AssemblyPartialFailure `json:"failures,omitempty"`
}

// DanglingEdgeError describes an edge with a missing endpoint.
type DanglingEdgeError struct {
	Edge   Edge
	Reason string // "missing_source", "missing_target", or "missing_both"
}

func (e *DanglingEdgeError) Error() string {
	return fmt.Sprintf("%s edge %s -> %s: %s", e.Edge.Type, e.Edge.Source, e.Edge.Target, e.Reason)
}

func (e *DanglingEdgeError) Is(target error) bool {
	return target == ErrDanglingEdge
}

// Validate checks node ids are unique, every edge joins existing nodes and
// every value lies in [0, 1].
func (g *Graph) Validate() error {
	ids := make(map[string]bool, len(g.Nodes))
	for _, n := range g.Nodes {
		if ids[n.ID] {
			return fmt.Errorf("%w: %s", ErrDuplicateNode, n.ID)
		}
		ids[n.ID] = true
	}

	for _, e := range g.Links {
		sourceOK := ids[e.Source]
		targetOK := ids[e.Target]
		if !sourceOK || !targetOK {
			reason := "missing_target"
			if !sourceOK && !targetOK {
				reason = "missing_both"
			} else if !sourceOK {
				reason = "missing_source"
			}
			return &DanglingEdgeError{Edge: e, Reason: reason}
		}
		if e.Value < 0 || e.Value > 1 {
			return fmt.Errorf("%w: %s -> %s = %v", ErrInvalidWeight, e.Source, e.Target, e.Value)
		}
	}
	return nil
}

// FailureCounts tallies failures by stage.
func (g *Graph) FailureCounts() map[string]int {
	counts := make(map[string]int)
	for _, f := range g.Failures {
		counts[f.Stage]++
	}
	return counts
}

// Filter returns the view of g restricted to edges whose type matches any
// of labels. When nothing matches, every edge is kept. Nodes are the
// endpoints of the kept edges. Without labels the whole graph is returned.
func Filter(g *Graph, labels []string) *Graph {
	selected := make([]string, 0, len(labels))
	for _, l := range labels {
		if l = strings.TrimSpace(l); l != "" {
			selected = append(selected, l)
		}
	}
	if len(selected) == 0 {
		return &Graph{
			Nodes:    append([]Node{}, g.Nodes...),
			Links:    append([]Edge{}, g.Links...),
			Failures: g.Failures,
		}
	}

	kept := make([]Edge, 0, len(g.Links))
	for _, e := range g.Links {
		for _, l := range selected {
			if e.Type.Matches(l) {
				kept = append(kept, e)
				break
			}
		}
	}
	if len(kept) == 0 {
		kept = append(kept, g.Links...)
	}

	endpoints := make(map[string]bool, 2*len(kept))
	for _, e := range kept {
		endpoints[e.Source] = true
		endpoints[e.Target] = true
	}
	nodes := make([]Node, 0, len(endpoints))
	for _, n := range g.Nodes {
		if endpoints[n.ID] {
			nodes = append(nodes, n)
		}
	}

	return &Graph{Nodes: nodes, Links: kept, Failures: g.Failures}
}

// SplitLabels parses a comma-separated label list.
func SplitLabels(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
