package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/matsen/kbase/internal/graph"
)

var (
	graphTypes  string
	graphFormat string
)

func init() {
	graphCmd.Flags().StringVar(&graphTypes, "types", "", "Comma-separated relation labels to keep (e.g. 包含,相似)")
	graphCmd.Flags().StringVar(&graphFormat, "format", "links", "JSON layout: links ({nodes, links}) or cytoscape")
	rootCmd.AddCommand(graphCmd)
}

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Build the knowledge graph of stored documents",
	Long: `Build the knowledge graph of stored documents.

Nodes are documents and their key concepts. Documents link to their
concepts with "contains" edges and to each other with "similar" edges
when their embeddings are close.

With --types only edges whose relation matches one of the labels are
kept. If no edge matches, the whole graph is returned.

Examples:
  kb graph
  kb graph --types 相似
  kb graph --format cytoscape > elements.json`,
	Args: cobra.NoArgs,
	RunE: runGraph,
}

func runGraph(cmd *cobra.Command, args []string) error {
	if graphFormat != "links" && graphFormat != "cytoscape" {
		exitWithError(ExitError, "unknown format %q (want links or cytoscape)", graphFormat)
	}
	ctx := context.Background()
	sess := mustOpenSession(ctx, nil)
	defer sess.Close()

	g, err := sess.svc.KnowledgeGraph(ctx, graph.SplitLabels(graphTypes))
	if err != nil {
		sess.fail(err, "building graph: %v", err)
	}

	if humanOutput {
		printGraphHuman(g)
		return nil
	}
	if graphFormat == "cytoscape" {
		return outputJSON(graph.Cytoscape(g))
	}
	return outputJSON(g)
}

func printGraphHuman(g *graph.Graph) {
	names := make(map[string]string, len(g.Nodes))
	docs := 0
	for _, n := range g.Nodes {
		names[n.ID] = n.Name
		if n.Type == graph.NodeDocument {
			docs++
		}
	}
	fmt.Printf("%d nodes (%d documents), %d links\n\n", len(g.Nodes), docs, len(g.Links))
	for _, e := range g.Links {
		fmt.Printf("  %s --%s (%.2f)--> %s\n", names[e.Source], e.Type, e.Value, names[e.Target])
	}
	if len(g.Failures) > 0 {
		fmt.Println("\nPartial failures:")
		for _, f := range g.Failures {
			fmt.Printf("  %s\n", f.Error())
		}
	}
}
