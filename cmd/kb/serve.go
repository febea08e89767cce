package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/matsen/kbase/internal/metrics"
	"github.com/matsen/kbase/internal/server"
)

var serveAddr string

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default: listen_addr from config)")
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the knowledge base over HTTP",
	Long: `Serve the knowledge base over HTTP.

Endpoints:
  POST /upload            multipart field "file"
  POST /search            form field "query"
  GET  /documents         stored uploads
  GET  /knowledge-graph   optional ?types=包含,相似
  GET  /health
  GET  /metrics           Prometheus metrics`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	sess := mustOpenSession(ctx, m)
	defer sess.Close()

	addr := serveAddr
	if addr == "" {
		addr = sess.cfg.ListenAddr
	}
	if err := server.New(sess.svc, sess.logger, m).ListenAndServe(ctx, addr); err != nil {
		sess.fail(err, "%v", err)
	}
	return nil
}
