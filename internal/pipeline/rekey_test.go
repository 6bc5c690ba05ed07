package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/alfredjeanlab/listings/internal/model"
	"github.com/alfredjeanlab/listings/internal/normalize"
	"github.com/alfredjeanlab/listings/internal/store/memory"
)

func derivedRow(key, title, venue string, start time.Time) *model.CanonicalRecord {
	return &model.CanonicalRecord{
		ID: "lst-" + key, NaturalKey: key, Kind: model.KindEvent, Title: title, VenueName: venue,
		DateStart: &start, Category: model.CategoryComedy, SourceName: "allevents",
		SourceURL: "https://allevents.example/" + key, IsActive: true,
	}
}

func TestRekey(t *testing.T) {
	start := time.Date(2026, 3, 1, 19, 0, 0, 0, ist)
	current := normalize.DerivedKey("Open Mic", "Forum Mall", &start, ist)

	st := memory.New(nil)
	st.Seed(
		derivedRow("h1:stale", "Standup Night", "Forum Mall", start),
		derivedRow("h1:clash", "Open Mic", "Forum Mall", start),
		derivedRow(current, "Open Mic", "Forum Mall", start),
		derivedRow("insider:1", "Jazz", "Blue Frog", start),
	)
	ctx := context.Background()

	dry, err := Rekey(ctx, st, ist, true, nil)
	if err != nil {
		t.Fatal(err)
	}
	if dry.Scanned != 3 || dry.Rekeyed != 1 || dry.Conflicts != 1 {
		t.Fatalf("dry run = %+v", dry)
	}
	if ok, _ := st.Exists(ctx, "h1:stale"); !ok {
		t.Fatal("dry run wrote")
	}

	res, err := Rekey(ctx, st, ist, false, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res != dry {
		t.Fatalf("result = %+v, want %+v", res, dry)
	}
	want := normalize.DerivedKey("Standup Night", "Forum Mall", &start, ist)
	got, err := st.Get(ctx, want)
	if err != nil || got.ID != "lst-h1:stale" {
		t.Fatalf("rekeyed row = %+v, %v", got, err)
	}
	if ok, _ := st.Exists(ctx, "h1:clash"); !ok {
		t.Fatal("conflicting row was moved")
	}

	again, err := Rekey(ctx, st, ist, false, nil)
	if err != nil || again.Rekeyed != 0 {
		t.Fatalf("second pass = %+v, %v", again, err)
	}
}
