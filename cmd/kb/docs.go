package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/matsen/kbase/internal/kb"
)

func init() {
	rootCmd.AddCommand(docsCmd)
}

var docsCmd = &cobra.Command{
	Use:   "docs",
	Short: "List stored documents",
	Args:  cobra.NoArgs,
	RunE:  runDocs,
}

// DocsResponse is the response for the docs command.
type DocsResponse struct {
	Documents []kb.DocumentInfo `json:"documents"`
}

func runDocs(cmd *cobra.Command, args []string) error {
	cfg := mustLoadConfig()
	docs, err := kb.ListDocuments(cfg.UploadsPath())
	if err != nil {
		exitWithError(ExitError, "%v", err)
	}

	if humanOutput {
		if len(docs) == 0 {
			fmt.Println("No documents")
			return nil
		}
		for _, d := range docs {
			fmt.Printf("%10.2f KB  %s\n", d.SizeKB, d.Filename)
		}
		return nil
	}
	return outputJSON(DocsResponse{Documents: docs})
}
