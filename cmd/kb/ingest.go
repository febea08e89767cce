package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/matsen/kbase/internal/kb"
)

func init() {
	rootCmd.AddCommand(ingestCmd)
}

var ingestCmd = &cobra.Command{
	Use:   "ingest <file>...",
	Short: "Upload documents into the knowledge base",
	Long: `Upload documents into the knowledge base.

Each file is copied into the uploads directory, chunked, embedded and
indexed, and its key concepts are extracted. Supported formats: pdf,
docx, doc, txt.

Examples:
  kb ingest notes.txt
  kb ingest papers/*.pdf`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIngest,
}

// IngestResponse is the response for the ingest command.
type IngestResponse struct {
	Uploaded []*kb.UploadResult `json:"uploaded"`
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	sess := mustOpenSession(ctx, nil)
	defer sess.Close()

	resp := IngestResponse{Uploaded: make([]*kb.UploadResult, 0, len(args))}
	for _, path := range args {
		res, err := uploadFile(ctx, sess.svc, path)
		if err != nil {
			sess.fail(err, "%v", err)
		}
		resp.Uploaded = append(resp.Uploaded, res)
	}

	if humanOutput {
		for _, r := range resp.Uploaded {
			fmt.Printf("%s: %d chunks -> %s\n", r.Filename, r.ChunksProcessed, r.StoredPath)
			if r.ConceptsError != "" {
				fmt.Printf("  concepts unavailable: %s\n", r.ConceptsError)
			}
		}
		return nil
	}
	return outputJSON(resp)
}

func uploadFile(ctx context.Context, svc *kb.Service, path string) (*kb.UploadResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()
	return svc.Upload(ctx, filepath.Base(path), f)
}
