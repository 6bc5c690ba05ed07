package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/listings/internal/export"
	"github.com/alfredjeanlab/listings/internal/model"
)

var exportCmd = &cobra.Command{
	Use:     "export",
	Short:   "Write a JSONL snapshot of the active listings",
	GroupID: "ingest",
	Long: `Writes a snapshot to the configured destinations (INGEST_EXPORT_FILE,
INGEST_EXPORT_S3_BUCKET). --out adds a file destination; "-" writes to stdout.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out, _ := cmd.Flags().GetString("out")
		kind, _ := cmd.Flags().GetString("kind")
		all, _ := cmd.Flags().GetBool("include-inactive")

		if kind != "" && !model.Kind(kind).IsValid() {
			return fmt.Errorf("invalid --kind %q (event, movie or venue)", kind)
		}

		ctx := context.Background()
		a, err := newApp(ctx, appOptions{})
		if err != nil {
			return err
		}
		defer a.close()

		var extra []export.Destination
		switch out {
		case "":
		case "-":
			extra = append(extra, export.NewWriterDestination("stdout", stdout))
		default:
			extra = append(extra, export.NewFileDestination(out))
		}
		exp, err := a.exporter(ctx, extra...)
		if err != nil {
			return err
		}
		if len(extra) == 0 && a.cfg.ExportFile == "" && a.cfg.ExportS3Bucket == "" {
			return fmt.Errorf("no export destination: pass --out or set INGEST_EXPORT_FILE / INGEST_EXPORT_S3_BUCKET")
		}
		return exp.Export(ctx, export.Options{Kind: model.Kind(kind), IncludeInactive: all})
	},
}

func init() {
	exportCmd.Flags().StringP("out", "o", "", `output file, or "-" for stdout`)
	exportCmd.Flags().String("kind", "", "export only one kind: event, movie or venue")
	exportCmd.Flags().Bool("include-inactive", false, "also export swept rows")
}
