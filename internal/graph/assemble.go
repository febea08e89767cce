package graph

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/matsen/kbase/internal/concept"
	"github.com/matsen/kbase/internal/logging"
	"github.com/matsen/kbase/internal/semantic"
)

// Assembly defaults.
const (
	DefaultConceptsPerDocument = 3
	DefaultConcurrency         = 4
)

// ConceptSource extracts the parsed concepts of one document.
type ConceptSource interface {
	Concepts(ctx context.Context, path string) (concept.Mapping, error)
}

// RelationSource relates documents to each other.
type RelationSource interface {
	Relations(ctx context.Context, docs []semantic.Document) (*semantic.Result, error)
}

// Assembler builds knowledge graph snapshots.
type Assembler struct {
	concepts    ConceptSource
	relations   RelationSource
	perDocument int
	concurrency int
	logger      *logging.Logger
}

// Option configures an Assembler.
type Option func(*Assembler)

// WithConceptsPerDocument caps concept nodes per document.
func WithConceptsPerDocument(n int) Option {
	return func(a *Assembler) {
		if n > 0 {
			a.perDocument = n
		}
	}
}

// WithConcurrency bounds parallel concept extractions.
func WithConcurrency(n int) Option {
	return func(a *Assembler) {
		if n > 0 {
			a.concurrency = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(a *Assembler) {
		if l != nil {
			a.logger = l
		}
	}
}

// NewAssembler creates an assembler.
func NewAssembler(concepts ConceptSource, relations RelationSource, opts ...Option) *Assembler {
	a := &Assembler{
		concepts:    concepts,
		relations:   relations,
		perDocument: DefaultConceptsPerDocument,
		concurrency: DefaultConcurrency,
		logger:      logging.Nop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Build assembles the graph for docs. Concept extraction failures are
// isolated per document and recorded in Graph.Failures. A similarity
// failure or an invalid result fails the build.
func (a *Assembler) Build(ctx context.Context, docs []semantic.Document) (*Graph, error) {
	docs = uniqueDocuments(docs)
	g := &Graph{Nodes: make([]Node, 0, len(docs)), Links: []Edge{}}
	for _, d := range docs {
		g.Nodes = append(g.Nodes, Node{ID: d.Name, Name: d.Name, Type: NodeDocument, Size: DocumentNodeSize})
	}

	mappings, failures := a.extract(ctx, docs)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.Failures = append(g.Failures, failures...)

	ids := make(map[string]bool, len(g.Nodes))
	for _, n := range g.Nodes {
		ids[n.ID] = true
	}
	for i, d := range docs {
		for _, c := range mappings[i].First(a.perDocument) {
			id := d.Name + "_" + c.Name
			if ids[id] {
				continue
			}
			ids[id] = true
			g.Nodes = append(g.Nodes, Node{
				ID:          id,
				Name:        c.Name,
				Type:        NodeConcept,
				Document:    d.Name,
				Description: c.Description,
				Size:        ConceptNodeSize,
			})
			g.Links = append(g.Links, Edge{Source: d.Name, Target: id, Type: RelationContains, Value: ContainsWeight})
		}
	}

	res, err := a.relations.Relations(ctx, docs)
	if err != nil {
		return nil, fmt.Errorf("computing document similarity: %w", err)
	}
	for _, s := range res.Skipped {
		g.Failures = append(g.Failures, AssemblyPartialFailure{Document: s.Document, Stage: StageSimilarity, Err: s.Err})
	}
	for _, r := range res.Relations {
		g.Links = append(g.Links, Edge{Source: r.Source, Target: r.Target, Type: RelationSimilar, Value: r.Strength})
	}

	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("assembling graph: %w", err)
	}

	a.logger.Info("knowledge graph built",
		"documents", len(docs), "nodes", len(g.Nodes), "links", len(g.Links), "failures", len(g.Failures))
	return g, nil
}

// extract runs concept extraction for every document with bounded
// concurrency. Failed or unparseable documents get an empty mapping.
func (a *Assembler) extract(ctx context.Context, docs []semantic.Document) ([]concept.Mapping, []AssemblyPartialFailure) {
	mappings := make([]concept.Mapping, len(docs))
	perDoc := make([]*AssemblyPartialFailure, len(docs))

	var g errgroup.Group
	g.SetLimit(a.concurrency)
	for i, d := range docs {
		i, d := i, d
		g.Go(func() error {
			m, err := a.concepts.Concepts(ctx, d.Path)
			switch {
			case err != nil:
				perDoc[i] = &AssemblyPartialFailure{Document: d.Name, Stage: StageConcepts, Err: err}
			case m.Unparsed():
				perDoc[i] = &AssemblyPartialFailure{Document: d.Name, Stage: StageParse, Err: concept.ErrGenerativeParse}
			default:
				mappings[i] = m
			}
			return nil
		})
	}
	_ = g.Wait()

	var failures []AssemblyPartialFailure
	for _, f := range perDoc {
		if f != nil {
			a.logger.Warn("concept extraction failed for document", "document", f.Document, "stage", f.Stage, "error", f.Err)
			failures = append(failures, *f)
		}
	}
	return mappings, failures
}

func uniqueDocuments(docs []semantic.Document) []semantic.Document {
	seen := make(map[string]bool, len(docs))
	out := make([]semantic.Document, 0, len(docs))
	for _, d := range docs {
		if seen[d.Name] {
			continue
		}
		seen[d.Name] = true
		out = append(out, d)
	}
	return out
}
