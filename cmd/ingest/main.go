package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const flushTimeout = 5 * time.Second

var (
	logMode     string
	sourcesPath string
)

// exitError carries a process exit code without printing anything extra.
type exitError struct {
	code int
}

func (e *exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

var rootCmd = &cobra.Command{
	Use:           "ingest <command>",
	Short:         "Listings ingestion: fetch, normalize, deduplicate and store",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logMode, "log-mode", "", "log mode: dev or prod (overrides INGEST_LOG_MODE)")
	rootCmd.PersistentFlags().StringVar(&sourcesPath, "sources", "", "sources file (overrides INGEST_SOURCES_FILE)")

	rootCmd.AddGroup(
		&cobra.Group{ID: "ingest", Title: "Ingestion:"},
		&cobra.Group{ID: "ops", Title: "Operations:"},
	)
	cobra.EnableCommandSorting = false

	// Ingestion
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(exportCmd)

	// Operations
	rootCmd.AddCommand(sourcesCmd)
	rootCmd.AddCommand(rekeyCmd)
	rootCmd.AddCommand(watchCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		var ee *exitError
		if errors.As(err, &ee) {
			os.Exit(ee.code)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
