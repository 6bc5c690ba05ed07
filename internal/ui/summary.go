// Package ui renders run summaries for terminals.
package ui

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/alfredjeanlab/listings/internal/model"
)

// SummaryOptions control RenderSummary.
type SummaryOptions struct {
	Styler Styler
	// ErrorWidth truncates per-source errors; 0 means no limit.
	ErrorWidth int
}

var numbers = message.NewPrinter(language.English)

// RenderSummary writes a per-source table followed by totals and the overall
// status.
func RenderSummary(w io.Writer, s *model.Summary, opts SummaryOptions) error {
	st := opts.Styler
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SOURCE\tSTATE\tFETCHED\tINSERTED\tUPDATED\tDEACTIVATED\tREJECTED\tMERGED\tDURATION\tERROR")

	reports := append([]*model.RunReport(nil), s.Reports...)
	sort.SliceStable(reports, func(i, j int) bool { return reports[i].SourceName < reports[j].SourceName })
	for _, r := range reports {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.SourceName,
			st.Status(sourceState(r)),
			count(r.FetchedCount),
			count(r.InsertedCount),
			count(r.UpdatedCount),
			count(r.DeactivatedCount),
			count(r.Rejected()),
			count(r.Merged),
			r.Duration.Round(time.Millisecond),
			truncate(r.Error, opts.ErrorWidth),
		)
	}
	t := s.Totals()
	fmt.Fprintf(tw, "%s\t\t%s\t%s\t%s\t%s\t%s\t%s\t\t\n",
		st.Muted("total"),
		count(t.FetchedCount),
		count(t.InsertedCount),
		count(t.UpdatedCount),
		count(t.DeactivatedCount),
		count(t.Rejected()),
		count(t.Merged),
	)
	if err := tw.Flush(); err != nil {
		return err
	}

	line := fmt.Sprintf("\nrun %s %s: %d/%d sources succeeded in %s",
		st.Accent(s.RunID),
		st.Status(s.Status()),
		s.Succeeded(), len(s.Reports),
		s.FinishedAt.Sub(s.StartedAt).Round(time.Millisecond),
	)
	if s.TimedOut {
		line += " (deadline reached)"
	}
	_, err := fmt.Fprintln(w, line)
	return err
}

// sourceState folds a skipped sweep into the displayed state.
func sourceState(r *model.RunReport) string {
	if r.State == model.StateDone && r.SweepSkipped {
		return "skipped"
	}
	return string(r.State)
}

func count(n int) string {
	return numbers.Sprintf("%d", n)
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if n <= 0 || len([]rune(s)) <= n {
		return s
	}
	r := []rune(s)
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}
