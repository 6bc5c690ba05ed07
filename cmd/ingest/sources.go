package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/listings/internal/config"
	"github.com/alfredjeanlab/listings/internal/logger"
	"github.com/alfredjeanlab/listings/internal/source"
)

var sourcesCmd = &cobra.Command{
	Use:     "sources",
	Short:   "List configured sources and validate the sources file",
	GroupID: "ops",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		path := cfg.SourcesFile
		if sourcesPath != "" {
			path = sourcesPath
		}
		sf, err := config.LoadSources(path)
		if err != nil {
			return err
		}
		// Building the adapters checks per-type requirements such as API keys.
		if _, err := source.NewAll(sf.Enabled(), source.Deps{Logger: logger.Nop()}); err != nil {
			return err
		}
		if asJSON {
			return printJSON(stdout, sf.Sources)
		}
		return printSourcesTable(sf)
	},
}

func printSourcesTable(sf *config.SourcesFile) error {
	enabled := make(map[string]config.SourceConfig)
	for _, c := range sf.Enabled() {
		enabled[c.Name] = c
	}
	w := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tTYPE\tENABLED\tMAX PAGES\tFILTER\tREGION")
	for _, c := range sf.Sources {
		shown, on := enabled[c.Name]
		if !on {
			shown = c
		}
		fmt.Fprintf(w, "%s\t%s\t%t\t%d\t%s\t%s\n", c.Name, c.Type, on, shown.MaxPages, shown.CategoryFilter, shown.Region)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if len(sf.Categories) > 0 {
		fmt.Fprintf(stdout, "\n%d category override(s)\n", len(sf.Categories))
	}
	return nil
}

func init() {
	sourcesCmd.Flags().Bool("json", false, "output as JSON")
}
