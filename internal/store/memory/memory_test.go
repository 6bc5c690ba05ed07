package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alfredjeanlab/listings/internal/model"
	"github.com/alfredjeanlab/listings/internal/store"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func record(key, source string) *model.CanonicalRecord {
	start := time.Date(2026, 3, 1, 14, 0, 0, 0, time.UTC)
	price := "₹499"
	return &model.CanonicalRecord{
		NaturalKey:   key,
		Kind:         model.KindEvent,
		Title:        "Standup Night",
		Category:     model.CategoryComedy,
		VenueName:    "Forum Mall",
		DateStart:    &start,
		PriceDisplay: &price,
		ImageURL:     "https://img.example/1.jpg",
		SourceName:   source,
		SourceURL:    "https://" + source + ".example/" + key,
		AffiliateURL: "https://" + source + ".example/" + key + "?aff_id=one",
	}
}

func TestUpsert_InsertThenUpdate(t *testing.T) {
	c := &clock{t: time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)}
	s := New(c.now)
	ctx := context.Background()

	r := record("insider:1", "insider")
	res, err := s.Upsert(ctx, r)
	if err != nil || res != store.Inserted {
		t.Fatalf("first Upsert = %s, %v", res, err)
	}
	if r.ID == "" || !r.FirstSeenAt.Equal(c.t) {
		t.Fatalf("insert did not populate identity: %+v", r)
	}
	id, first := r.ID, r.FirstSeenAt

	c.t = c.t.Add(24 * time.Hour)
	update := record("insider:1", "bookmyshow")
	update.Title = "Standup Night (Late)"
	update.ImageURL = ""
	update.PriceDisplay = nil
	update.SourceURL = "https://insider.example/insider:1"
	update.AffiliateURL = "https://insider.example/insider:1?aff_id=two"
	res, err = s.Upsert(ctx, update)
	if err != nil || res != store.Updated {
		t.Fatalf("second Upsert = %s, %v", res, err)
	}

	got, err := s.Get(ctx, "insider:1")
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != id || !got.FirstSeenAt.Equal(first) || !got.LastSeenAt.Equal(c.t) {
		t.Errorf("lifecycle fields wrong: %+v", got)
	}
	if got.SourceName != "insider" {
		t.Errorf("owner changed to %q", got.SourceName)
	}
	if got.Title != "Standup Night (Late)" || got.ImageURL == "" || got.Price() != "₹499" {
		t.Errorf("update merged wrongly: %+v", got)
	}
	if got.AffiliateURL != "https://insider.example/insider:1?aff_id=one" {
		t.Errorf("affiliate URL rewritten for unchanged source URL: %q", got.AffiliateURL)
	}
}

func TestMarkInactive_ScopedToSource(t *testing.T) {
	s := New(nil)
	ctx := context.Background()
	for _, r := range []*model.CanonicalRecord{
		record("insider:1", "insider"),
		record("insider:2", "insider"),
		record("bookmyshow:1", "bookmyshow"),
	} {
		if _, err := s.Upsert(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	n, err := s.MarkInactive(ctx, "insider", map[string]struct{}{"insider:1": {}})
	if err != nil || n != 1 {
		t.Fatalf("MarkInactive = %d, %v", n, err)
	}
	active, _ := s.ListRecords(ctx, model.RecordFilter{ActiveOnly: true})
	if len(active) != 2 {
		t.Fatalf("expected 2 active rows, got %d", len(active))
	}
	if n, _ := s.MarkInactive(ctx, "insider", map[string]struct{}{"insider:1": {}}); n != 0 {
		t.Errorf("second sweep deactivated %d rows", n)
	}
}

func TestFindCandidates(t *testing.T) {
	s := New(nil)
	a := record("bookmyshow:1", "bookmyshow")
	a.FirstSeenAt = time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	b := record("paytm:1", "paytm")
	b.FirstSeenAt = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	own := record("insider:1", "insider")
	s.Seed(a, b, own)

	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	got, err := s.FindCandidates(context.Background(), store.CandidateQuery{
		Kind: model.KindEvent, From: from, To: from.Add(24 * time.Hour), ExcludeSource: "insider",
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].NaturalKey != "paytm:1" {
		t.Fatalf("unexpected candidates: %+v", got)
	}
	got, _ = s.FindCandidates(context.Background(), store.CandidateQuery{
		Kind: model.KindEvent, From: from.Add(24 * time.Hour), To: from.Add(48 * time.Hour),
	})
	if len(got) != 0 {
		t.Fatalf("candidates outside the window: %+v", got)
	}
}

func TestAlternatesAndRekey(t *testing.T) {
	s := New(nil)
	ctx := context.Background()
	if _, err := s.Upsert(ctx, record("h0:old", "insider")); err != nil {
		t.Fatal(err)
	}
	alt := model.Alternate{SourceName: "bookmyshow", SourceURL: "https://bms.example/1", AffiliateURL: "https://bms.example/1?aff_id=one"}
	if err := s.AddAlternate(ctx, "h0:old", alt); err != nil {
		t.Fatal(err)
	}
	alt.AffiliateURL = "https://bms.example/1?aff_id=two"
	if err := s.AddAlternate(ctx, "h0:old", alt); err != nil {
		t.Fatal(err)
	}
	if err := s.RekeyRecord(ctx, "h0:old", "h1:new"); err != nil {
		t.Fatal(err)
	}
	got, err := s.Get(ctx, "h1:new")
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Alternates) != 1 || got.Alternates[0].AffiliateURL != "https://bms.example/1?aff_id=one" {
		t.Errorf("alternates = %+v", got.Alternates)
	}
	if ok, _ := s.Exists(ctx, "h0:old"); ok {
		t.Error("old key still present")
	}
	if err := s.RekeyRecord(ctx, "h0:old", "h1:x"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := s.AddAlternate(ctx, "missing", alt); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRuns(t *testing.T) {
	s := New(nil)
	ctx := context.Background()
	if _, err := s.LatestRun(ctx); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	t0 := time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC)
	_ = s.RecordRun(ctx, &model.Summary{RunID: "run-a", StartedAt: t0})
	_ = s.RecordRun(ctx, &model.Summary{RunID: "run-b", StartedAt: t0.Add(time.Hour)})
	latest, err := s.LatestRun(ctx)
	if err != nil || latest.RunID != "run-b" {
		t.Fatalf("LatestRun = %+v, %v", latest, err)
	}
}
