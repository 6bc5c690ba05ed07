package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/alfredjeanlab/listings/internal/model"
	"github.com/alfredjeanlab/listings/internal/ui"
)

// summaryJSON is the --json form of a run summary.
type summaryJSON struct {
	*model.Summary
	Status   string `json:"status"`
	ExitCode int    `json:"exit_code"`
}

func printSummary(w io.Writer, s *model.Summary, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		enc.SetEscapeHTML(false)
		return enc.Encode(summaryJSON{Summary: s, Status: s.Status(), ExitCode: s.ExitCode()})
	}
	opts := ui.SummaryOptions{ErrorWidth: 60}
	if f, ok := w.(*os.File); ok {
		opts.Styler.Color = ui.ShouldUseColor(f)
		opts.ErrorWidth = max(ui.Width(f, 120)/3, 30)
	}
	return ui.RenderSummary(w, s, opts)
}

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
