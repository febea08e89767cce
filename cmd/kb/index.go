package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/matsen/kbase/internal/index"
)

func init() {
	rootCmd.AddCommand(indexCmd)
	indexCmd.AddCommand(indexInfoCmd)
	indexCmd.AddCommand(indexFilesCmd)
}

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Inspect the vector index",
}

var indexInfoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show index size, model and dimensions",
	Long: `Show index size, model and dimensions.

Reads the index database directly; no embedding provider is contacted.`,
	Args: cobra.NoArgs,
	RunE: runIndexInfo,
}

func runIndexInfo(cmd *cobra.Command, args []string) error {
	cfg := mustLoadConfig()
	st, err := index.Inspect(context.Background(), cfg.IndexPath())
	if err != nil {
		exitWithError(ExitError, "inspecting index: %v", err)
	}

	if humanOutput {
		if !st.Initialized {
			fmt.Printf("No index at %s\n", st.Path)
			return nil
		}
		fmt.Printf("path:       %s\n", st.Path)
		fmt.Printf("chunks:     %d\n", st.Chunks)
		fmt.Printf("model:      %s\n", st.Model)
		fmt.Printf("dimensions: %d\n", st.Dimensions)
		return nil
	}
	return outputJSON(st)
}

var indexFilesCmd = &cobra.Command{
	Use:   "files",
	Short: "List indexed files with their chunk counts",
	Args:  cobra.NoArgs,
	RunE:  runIndexFiles,
}

// IndexFilesResponse is the response for the index files command.
type IndexFilesResponse struct {
	Files []IndexedFile `json:"files"`
}

// IndexedFile is one indexed file.
type IndexedFile struct {
	FileName string `json:"file_name"`
	FilePath string `json:"file_path"`
	Chunks   int    `json:"chunks"`
}

func runIndexFiles(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	sess := mustOpenSession(ctx, nil)
	defer sess.Close()

	stats, err := sess.svc.IndexedFiles(ctx)
	if err != nil {
		sess.fail(err, "listing indexed files: %v", err)
	}
	resp := IndexFilesResponse{Files: make([]IndexedFile, 0, len(stats))}
	for _, f := range stats {
		resp.Files = append(resp.Files, IndexedFile{FileName: f.FileName, FilePath: f.FilePath, Chunks: f.Chunks})
	}

	if humanOutput {
		for _, f := range resp.Files {
			fmt.Printf("%6d  %s\n", f.Chunks, f.FileName)
		}
		return nil
	}
	return outputJSON(resp)
}
