package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(searchCmd)
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Answer a question from the knowledge base",
	Long: `Answer a question from the knowledge base.

The most similar chunks are retrieved from the index and passed to the
generative model as context. The answer lists the documents it drew on.

Examples:
  kb search "what does the chunker do with overlap?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSearch,
}

func runSearch(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	sess := mustOpenSession(ctx, nil)
	defer sess.Close()

	a, err := sess.svc.Search(ctx, strings.Join(args, " "))
	if err != nil {
		sess.fail(err, "searching: %v", err)
	}

	if humanOutput {
		fmt.Println(wrapText(a.Answer, TextWrapWidth, ""))
		if len(a.Sources) > 0 {
			fmt.Println("\nSources:")
			for i, s := range a.Sources {
				fmt.Printf("  [%d] %s\n      %s\n", i+1, s.Title, truncateString(s.Path, SnippetMaxLen))
			}
		}
		return nil
	}
	return outputJSON(a)
}
