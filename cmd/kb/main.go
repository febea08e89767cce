// Package main provides the kb CLI entry point.
package main

import (
	"context"
	"errors"
	"os"

	"github.com/spf13/cobra"

	"github.com/matsen/kbase/internal/config"
	"github.com/matsen/kbase/internal/kb"
	"github.com/matsen/kbase/internal/loader"
	"github.com/matsen/kbase/internal/logging"
	"github.com/matsen/kbase/internal/metrics"
	"github.com/matsen/kbase/internal/remote"
)

// Version is set at build time via ldflags
var Version = "dev"

var (
	// humanOutput controls whether to use human-readable output
	humanOutput bool
	configPath  string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(ExitError)
	}
}

var rootCmd = &cobra.Command{
	Use:   "kb",
	Short: "Personal knowledge base with retrieval-augmented answers",
	Long: `kb ingests documents (pdf, docx, doc, txt) into a local vector index,
answers questions from them with a generative model, and builds a
knowledge graph of their key concepts.

All commands output JSON by default. Logs go to stderr.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&humanOutput, "human", false, "Use human-readable output instead of JSON")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: ~/.config/kb/config.yml)")
	rootCmd.Version = Version
}

// mustLoadConfig loads configuration or exits with ExitConfigError.
func mustLoadConfig() *config.Config {
	cfg, err := config.LoadDefault(configPath)
	if err != nil {
		exitWithError(ExitConfigError, "loading config: %v", err)
	}
	return cfg
}

// mustLogger builds the logger described by cfg.
func mustLogger(cfg *config.Config) *logging.Logger {
	logger, err := logging.New(cfg.Log.Mode, cfg.Log.Level)
	if err != nil {
		exitWithError(ExitConfigError, "%v", err)
	}
	return logger
}

// session is an opened knowledge base with the config and logger it was
// opened with.
type session struct {
	svc    *kb.Service
	cfg    *config.Config
	logger *logging.Logger
}

// mustOpenSession opens the knowledge base described by the config or
// exits. The caller must Close the session.
func mustOpenSession(ctx context.Context, m *metrics.Metrics) *session {
	cfg := mustLoadConfig()
	logger := mustLogger(cfg)
	svc, err := kb.Open(ctx, cfg, logger, m)
	if err != nil {
		logger.Sync()
		exitWithError(exitCodeFor(err), "opening knowledge base: %v", err)
	}
	return &session{svc: svc, cfg: cfg, logger: logger}
}

// Close releases the index and flushes the logger. Safe to call twice.
func (s *session) Close() {
	if err := s.svc.Close(); err != nil {
		s.logger.Warn("closing knowledge base", "error", err)
	}
	s.logger.Sync()
}

// fail closes s and exits with the code for err.
func (s *session) fail(err error, format string, args ...any) {
	s.Close()
	exitWithError(exitCodeFor(err), format, args...)
}

// exitCodeFor maps an error to the exit code for its kind.
func exitCodeFor(err error) int {
	switch {
	case loader.IsUnsupportedFormat(err), errors.Is(err, kb.ErrInvalidInput),
		errors.Is(err, loader.ErrNoText), errors.Is(err, os.ErrNotExist):
		return ExitDataError
	case remote.IsExternal(err), errors.Is(err, remote.ErrMissingAPIKey):
		return ExitRemoteError
	default:
		return ExitError
	}
}
