// Package dedup collapses canonical records that describe the same listing,
// both within one run and against rows already in the store.
package dedup

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/alfredjeanlab/listings/internal/model"
	"github.com/alfredjeanlab/listings/internal/normalize"
	"github.com/alfredjeanlab/listings/internal/store"
)

// Lookup is the read path into the store used for cross-run matching.
type Lookup interface {
	Exists(ctx context.Context, naturalKey string) (bool, error)
	Get(ctx context.Context, naturalKey string) (*model.CanonicalRecord, error)
	FindCandidates(ctx context.Context, q store.CandidateQuery) ([]*model.CanonicalRecord, error)
}

// Batch is one source's normalized output for a run.
type Batch struct {
	Source  string
	Records []*model.CanonicalRecord
}

// Stats counts dedup outcomes attributed to one source.
type Stats struct {
	DuplicatesDropped int
	Merged            int
	Conflicts         int
}

// Result holds the deduplicated records grouped by owning source.
type Result struct {
	Groups map[string][]*model.CanonicalRecord
	Stats  map[string]*Stats
}

// Group returns the records owned by source.
func (r *Result) Group(source string) []*model.CanonicalRecord {
	return r.Groups[source]
}

// Owners returns the owning sources in sorted order.
func (r *Result) Owners() []string {
	owners := make([]string, 0, len(r.Groups))
	for o := range r.Groups {
		owners = append(owners, o)
	}
	sort.Strings(owners)
	return owners
}

func (r *Result) stats(source string) *Stats {
	s, ok := r.Stats[source]
	if !ok {
		s = &Stats{}
		r.Stats[source] = s
	}
	return s
}

// Deduplicator merges batches. Batches are processed in the order given,
// which is the source registration order.
type Deduplicator struct {
	lookup  Lookup
	matcher Matcher
}

// New returns a Deduplicator reading from lookup.
func New(lookup Lookup, threshold float64, loc *time.Location) *Deduplicator {
	if loc == nil {
		loc = time.UTC
	}
	return &Deduplicator{
		lookup:  lookup,
		matcher: Matcher{Threshold: threshold, Location: loc},
	}
}

// target is a surviving row being assembled during a run.
type target struct {
	rec    *model.CanonicalRecord
	owner  string
	stored bool
	order  int
	// sources that contributed a record this run.
	sources map[string]bool
}

type run struct {
	d       *Deduplicator
	res     *Result
	targets []*target
	byKey   map[string]*target
}

// Run deduplicates batches. Input records are not modified.
func (d *Deduplicator) Run(ctx context.Context, batches []Batch) (*Result, error) {
	r := &run{
		d:     d,
		res:   &Result{Groups: make(map[string][]*model.CanonicalRecord), Stats: make(map[string]*Stats)},
		byKey: make(map[string]*target),
	}

	for _, b := range batches {
		stats := r.res.stats(b.Source)
		for _, rec := range lastWins(b.Records, stats) {
			if err := r.place(ctx, b.Source, rec); err != nil {
				return nil, err
			}
		}
	}

	for _, t := range r.targets {
		r.res.Groups[t.owner] = append(r.res.Groups[t.owner], t.rec)
	}
	return r.res, nil
}

// lastWins drops same-source duplicates by natural key, keeping the last one
// at the position of the first.
func lastWins(recs []*model.CanonicalRecord, stats *Stats) []*model.CanonicalRecord {
	index := make(map[string]int, len(recs))
	out := make([]*model.CanonicalRecord, 0, len(recs))
	for _, rec := range recs {
		if i, ok := index[rec.NaturalKey]; ok {
			out[i] = rec
			stats.DuplicatesDropped++
			continue
		}
		index[rec.NaturalKey] = len(out)
		out = append(out, rec)
	}
	return out
}

func (r *run) place(ctx context.Context, source string, rec *model.CanonicalRecord) error {
	rec = rec.Clone()
	rec.SourceName = source

	// Exact key, already claimed this run.
	if t, ok := r.byKey[rec.NaturalKey]; ok {
		r.merge(t, source, rec)
		return nil
	}

	// Exact key in the store.
	exists, err := r.d.lookup.Exists(ctx, rec.NaturalKey)
	if err != nil {
		return fmt.Errorf("dedup exists %s: %w", rec.NaturalKey, err)
	}
	if exists {
		stored, err := r.d.lookup.Get(ctx, rec.NaturalKey)
		switch {
		case err == nil:
			r.merge(r.register(newStoredTarget(stored)), source, rec)
			return nil
		case !errors.Is(err, store.ErrNotFound):
			return fmt.Errorf("dedup get %s: %w", rec.NaturalKey, err)
		}
	}

	// Fuzzy match against stored rows and this run's targets.
	t, err := r.bestMatch(ctx, source, rec)
	if err != nil {
		return err
	}
	if t != nil {
		r.merge(r.register(t), source, rec)
		return nil
	}

	r.register(&target{rec: rec, owner: source, sources: map[string]bool{source: true}})
	return nil
}

func newStoredTarget(stored *model.CanonicalRecord) *target {
	return &target{
		rec:     stored.Clone(),
		owner:   stored.SourceName,
		stored:  true,
		order:   -1,
		sources: make(map[string]bool),
	}
}

// register adds t to the run unless a target with its key already exists.
func (r *run) register(t *target) *target {
	if existing, ok := r.byKey[t.rec.NaturalKey]; ok {
		return existing
	}
	t.order = len(r.targets)
	r.targets = append(r.targets, t)
	r.byKey[t.rec.NaturalKey] = t
	return t
}

func (r *run) bestMatch(ctx context.Context, source string, rec *model.CanonicalRecord) (*target, error) {
	if rec.DateStart == nil {
		return nil, nil
	}
	from, to := dayBounds(*rec.DateStart, r.d.matcher.Location)
	candidates, err := r.d.lookup.FindCandidates(ctx, store.CandidateQuery{
		Kind:          rec.Kind,
		From:          from,
		To:            to,
		ExcludeSource: source,
	})
	if err != nil {
		return nil, fmt.Errorf("dedup candidates for %s: %w", rec.NaturalKey, err)
	}

	var matches []*target
	for _, c := range candidates {
		// Rows already in the run are matched below in their merged state.
		if _, ok := r.byKey[c.NaturalKey]; ok {
			continue
		}
		if c.SourceName != source && r.d.matcher.Match(c, rec) {
			matches = append(matches, newStoredTarget(c))
		}
	}
	for _, t := range r.targets {
		if t.owner != source && !t.sources[source] && r.d.matcher.Match(t.rec, rec) {
			matches = append(matches, t)
		}
	}
	if len(matches) == 0 {
		return nil, nil
	}
	sort.SliceStable(matches, func(i, j int) bool { return wins(matches[i], matches[j]) })
	return matches[0], nil
}

// wins orders row identity: stored rows by earliest first_seen_at, then new
// records by registration order, then natural key.
func wins(a, b *target) bool {
	if a.stored != b.stored {
		return a.stored
	}
	if a.stored && !a.rec.FirstSeenAt.Equal(b.rec.FirstSeenAt) {
		return a.rec.FirstSeenAt.Before(b.rec.FirstSeenAt)
	}
	if !a.stored && a.order != b.order {
		return a.order < b.order
	}
	return a.rec.NaturalKey < b.rec.NaturalKey
}

// merge folds rec from source into t. The target keeps its identity; the
// most recently fetched record supplies mutable fields and the other fills
// gaps. A foreign source's link becomes an alternate.
func (r *run) merge(t *target, source string, rec *model.CanonicalRecord) {
	cur := t.rec
	t.sources[source] = true

	newer, older := rec, cur
	if fetchedAt(cur).After(fetchedAt(rec)) {
		newer, older = cur, rec
	}
	merged := newer.Clone()
	fillGaps(merged, older)

	merged.ID = cur.ID
	merged.NaturalKey = cur.NaturalKey
	merged.SourceName = t.owner
	merged.FirstSeenAt = cur.FirstSeenAt
	merged.LastSeenAt = cur.LastSeenAt
	merged.IsActive = true
	merged.Alternates = cloneAlternates(cur.Alternates)
	if f := fetchedAt(rec); f.After(fetchedAt(cur)) {
		merged.FetchedAt = f
	} else {
		merged.FetchedAt = fetchedAt(cur)
	}

	if source == t.owner {
		merged.SourceURL = rec.SourceURL
		merged.AffiliateURL = rec.AffiliateURL
	} else {
		merged.SourceURL = cur.SourceURL
		merged.AffiliateURL = cur.AffiliateURL
		merged.AddAlternate(model.Alternate{
			SourceName:   source,
			SourceURL:    rec.SourceURL,
			AffiliateURL: rec.AffiliateURL,
		})
		stats := r.res.stats(source)
		stats.Merged++
		if conflicting(cur, rec) {
			stats.Conflicts++
		}
	}
	t.rec = merged
}

// fetchedAt falls back to last_seen_at for stored rows.
func fetchedAt(rec *model.CanonicalRecord) time.Time {
	if !rec.FetchedAt.IsZero() {
		return rec.FetchedAt
	}
	return rec.LastSeenAt
}

func fillGaps(dst, src *model.CanonicalRecord) {
	if dst.ImageURL == "" {
		dst.ImageURL = src.ImageURL
	}
	if dst.VenueName == "" {
		dst.VenueName = src.VenueName
	}
	if dst.PriceDisplay == nil && src.PriceDisplay != nil {
		p := *src.PriceDisplay
		dst.PriceDisplay = &p
	}
	if dst.DateStart == nil && src.DateStart != nil {
		d := *src.DateStart
		dst.DateStart = &d
		dst.DateDisplay = src.DateDisplay
	}
	if dst.Category == model.CategoryOther && src.Category != "" {
		dst.Category = src.Category
	}
	for k, v := range src.Details {
		if _, ok := dst.Details[k]; ok {
			continue
		}
		if dst.Details == nil {
			dst.Details = make(map[string]string)
		}
		dst.Details[k] = v
	}
}

// conflicting reports differing non-empty values for fields both records set.
func conflicting(a, b *model.CanonicalRecord) bool {
	if a.PriceDisplay != nil && b.PriceDisplay != nil && *a.PriceDisplay != *b.PriceDisplay {
		return true
	}
	if a.DateStart != nil && b.DateStart != nil && !a.DateStart.Equal(*b.DateStart) {
		return true
	}
	if a.ImageURL != "" && b.ImageURL != "" && a.ImageURL != b.ImageURL {
		return true
	}
	if a.VenueName != "" && b.VenueName != "" && normalize.Fold(a.VenueName) != normalize.Fold(b.VenueName) {
		return true
	}
	return a.Category != b.Category && a.Category != model.CategoryOther && b.Category != model.CategoryOther
}

func cloneAlternates(alts []model.Alternate) []model.Alternate {
	if alts == nil {
		return nil
	}
	out := make([]model.Alternate, len(alts))
	copy(out, alts)
	return out
}
