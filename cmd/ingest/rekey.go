package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/listings/internal/normalize"
	"github.com/alfredjeanlab/listings/internal/pipeline"
)

var rekeyCmd = &cobra.Command{
	Use:     "rekey",
	Short:   "Migrate derived natural keys to the current key version",
	GroupID: "ops",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		asJSON, _ := cmd.Flags().GetBool("json")

		ctx := context.Background()
		a, err := newApp(ctx, appOptions{})
		if err != nil {
			return err
		}
		defer a.close()

		// Rekeying races with upserts; hold the run lock.
		locker, err := a.locker(ctx)
		if err != nil {
			return err
		}
		release, err := locker.Acquire(ctx, pipeline.LockName, a.cfg.LockTTL)
		if err != nil {
			return fmt.Errorf("acquire run lock: %w", err)
		}
		defer release(context.Background())

		res, err := pipeline.Rekey(ctx, a.store, a.cfg.Location(), dryRun, a.log)
		if err != nil {
			return err
		}
		if asJSON {
			return printJSON(stdout, res)
		}
		verb := "rekeyed"
		if dryRun {
			verb = "would rekey"
		}
		fmt.Fprintf(stdout, "key version %d: scanned %d, %s %d, conflicts %d\n",
			normalize.KeyVersion, res.Scanned, verb, res.Rekeyed, res.Conflicts)
		return nil
	},
}

func init() {
	rekeyCmd.Flags().Bool("dry-run", false, "report what would change without writing")
	rekeyCmd.Flags().Bool("json", false, "output as JSON")
}
