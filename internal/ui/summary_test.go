package ui

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/alfredjeanlab/listings/internal/model"
)

func testSummary() *model.Summary {
	start := time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC)
	return &model.Summary{
		RunID:      "run-abc",
		StartedAt:  start,
		FinishedAt: start.Add(90 * time.Second),
		Reports: []*model.RunReport{
			{SourceName: "tmdb", State: model.StateDone, FetchedCount: 1200, InsertedCount: 1100, UpdatedCount: 100, Duration: 3 * time.Second},
			{SourceName: "insider", State: model.StateDone, FetchedCount: 0, SweepSkipped: true},
			{SourceName: "paytm", State: model.StateFailed, Failed: true, Error: "fetch paytm: page 1: unexpected status 503 from https://paytm.example/events?page=1"},
		},
	}
}

func TestRenderSummary(t *testing.T) {
	var buf bytes.Buffer
	if err := RenderSummary(&buf, testSummary(), SummaryOptions{ErrorWidth: 30}); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	lines := strings.Split(strings.TrimSpace(out), "\n")
	// header + 3 sources + total + blank + status line
	if len(lines) != 7 {
		t.Fatalf("expected 7 lines, got %d:\n%s", len(lines), out)
	}
	if !strings.HasPrefix(lines[1], "insider") || !strings.HasPrefix(lines[3], "tmdb") {
		t.Errorf("sources not sorted:\n%s", out)
	}
	for _, want := range []string{"1,200", "skipped", "failed", "...", "run run-abc degraded: 2/3 sources succeeded in 1m30s"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "\x1b[") {
		t.Error("color codes written with color off")
	}
}

func TestRenderSummary_Color(t *testing.T) {
	var buf bytes.Buffer
	if err := RenderSummary(&buf, testSummary(), SummaryOptions{Styler: Styler{Color: true}}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "\x1b[38;5;203mfailed\x1b[0m") {
		t.Errorf("failed state not colored:\n%q", buf.String())
	}
}

func TestTruncate(t *testing.T) {
	for _, tc := range []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"exactly10!", 10, "exactly10!"},
		{"a much longer error", 10, "a much ..."},
		{"line\nbreak", 0, "line break"},
		{"₹₹₹₹₹₹", 4, "₹..."},
	} {
		if got := truncate(tc.in, tc.n); got != tc.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tc.in, tc.n, got, tc.want)
		}
	}
}

func TestShouldUseColor_NoColor(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	t.Setenv("CLICOLOR_FORCE", "1")
	if ShouldUseColor(nil) {
		t.Fatal("NO_COLOR ignored")
	}
}
