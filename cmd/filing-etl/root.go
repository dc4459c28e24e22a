package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/nzhao20-glitch/filing-etl/version"
)

var rootCmd = &cobra.Command{
	Use:   "filing-etl",
	Short: "Filing extraction pipeline with queue-based OCR recovery",
	Long: `filing-etl turns raw exchange filings (PDF and HTML) into per-page
JSONL records for the search index.

The pipeline has two workers:
  - extract: processes a manifest slice, detects pages with a broken
    text layer, and queues them for OCR
  - ocr-worker: consumes queued pages, runs OCR, and emits patch shards
    that overlay the primary output`,
	Version: version.GitRelease,
}

func init() {
	rootCmd.AddCommand(extractCmd)
	rootCmd.AddCommand(ocrWorkerCmd)
	rootCmd.AddCommand(versionCmd)
}

// newLogger installs the process-wide text logger at the configured level.
func newLogger(level slog.Level) *slog.Logger {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}
