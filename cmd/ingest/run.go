package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/listings/internal/model"
	"github.com/alfredjeanlab/listings/internal/pipeline"
)

var runCmd = &cobra.Command{
	Use:     "run",
	Short:   "Run one ingestion and print its summary",
	GroupID: "ingest",
	Long: `Fetches every enabled source in parallel, normalizes and deduplicates the
records, upserts them and deactivates rows the successful sources no longer
list. Exits 0 when at least one source succeeded and 1 otherwise.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		only, _ := cmd.Flags().GetStringSlice("only")
		doExport, _ := cmd.Flags().GetBool("export")

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, appOptions{dryRun: dryRun, needSources: true})
		if err != nil {
			return err
		}
		defer a.close()

		pub, err := a.publisher()
		if err != nil {
			return err
		}
		locker, err := a.locker(ctx)
		if err != nil {
			return err
		}
		deps := orchestratorDeps{publisher: pub, locker: locker, only: only}
		if !dryRun {
			deps.afterRun, err = a.afterRun(ctx, doExport || a.cfg.ExportAfterRun)
			if err != nil {
				return err
			}
		}

		o, err := a.orchestrator(deps)
		if err != nil {
			return err
		}
		summary, err := o.Run(ctx)
		if errors.Is(err, pipeline.ErrRunInProgress) {
			a.log.Warn("another run holds the lock; nothing to do", "error", err)
			return &exitError{code: 2}
		}
		if err != nil {
			return err
		}
		return finishRun(summary, asJSON)
	},
}

func finishRun(s *model.Summary, asJSON bool) error {
	if err := printSummary(stdout, s, asJSON); err != nil {
		return err
	}
	if code := s.ExitCode(); code != 0 {
		return &exitError{code: code}
	}
	return nil
}

func init() {
	runCmd.Flags().Bool("json", false, "print the summary as JSON")
	runCmd.Flags().Bool("dry-run", false, "fetch and process without touching the database")
	runCmd.Flags().StringSlice("only", nil, "run only the named sources")
	runCmd.Flags().Bool("export", false, "export a snapshot after the run (same as INGEST_EXPORT_AFTER_RUN)")
}
