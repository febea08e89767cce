package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/matsen/kbase/internal/concept"
)

func init() {
	rootCmd.AddCommand(conceptsCmd)
}

var conceptsCmd = &cobra.Command{
	Use:   "concepts <file>",
	Short: "Extract the key concepts of a document",
	Long: `Extract the key concepts of a document with the generative model.

The file is read in place and is not added to the knowledge base.`,
	Args: cobra.ExactArgs(1),
	RunE: runConcepts,
}

// ConceptsResponse is the response for the concepts command.
type ConceptsResponse struct {
	File     string          `json:"file"`
	Raw      string          `json:"raw"`
	Concepts concept.Mapping `json:"concepts"`
	Parsed   bool            `json:"parsed"`
}

func runConcepts(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	sess := mustOpenSession(ctx, nil)
	defer sess.Close()

	raw, m, err := sess.svc.Concepts(ctx, args[0])
	if err != nil {
		sess.fail(err, "%v", err)
	}

	if humanOutput {
		if m.Unparsed() {
			fmt.Println("Could not parse concepts; raw reply:")
			fmt.Println(raw)
			return nil
		}
		for _, c := range m {
			fmt.Printf("%s\n    %s\n", c.Name, truncateString(c.Description, SnippetMaxLen))
		}
		return nil
	}
	return outputJSON(ConceptsResponse{File: args[0], Raw: raw, Concepts: m, Parsed: !m.Unparsed()})
}
