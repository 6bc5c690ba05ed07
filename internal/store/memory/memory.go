// Package memory implements store.Store in process memory. It backs tests
// and dry runs.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/alfredjeanlab/listings/internal/idgen"
	"github.com/alfredjeanlab/listings/internal/model"
	"github.com/alfredjeanlab/listings/internal/store"
)

// Store is an in-memory store.Store. The zero value is not usable; call New.
type Store struct {
	mu   sync.Mutex
	rows map[string]*model.CanonicalRecord
	runs []*model.Summary
	now  func() time.Time
}

var _ store.Store = (*Store)(nil)

// New returns an empty store using clock for timestamps; nil means time.Now.
func New(clock func() time.Time) *Store {
	if clock == nil {
		clock = time.Now
	}
	return &Store{rows: make(map[string]*model.CanonicalRecord), now: clock}
}

// Seed inserts rows as-is, for tests.
func (s *Store) Seed(recs ...*model.CanonicalRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range recs {
		s.rows[r.NaturalKey] = r.Clone()
	}
}

func (s *Store) Upsert(_ context.Context, rec *model.CanonicalRecord) (store.UpsertResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsertLocked(rec)
}

func (s *Store) upsertLocked(rec *model.CanonicalRecord) (store.UpsertResult, error) {
	now := s.now().UTC()
	cur, ok := s.rows[rec.NaturalKey]
	if !ok {
		if rec.ID == "" {
			id, err := idgen.ListingID()
			if err != nil {
				return "", err
			}
			rec.ID = id
		}
		rec.IsActive = true
		rec.FirstSeenAt = now
		rec.LastSeenAt = now
		row := rec.Clone()
		row.Alternates = nil
		s.rows[rec.NaturalKey] = row
		return store.Inserted, nil
	}

	// Same rules as the SQL upsert: owner is immutable, empty values never
	// erase stored ones, and the stored affiliate URL survives while the
	// source URL is unchanged.
	next := cur.Clone()
	next.Kind = rec.Kind
	next.Title = rec.Title
	next.Category = rec.Category
	if rec.VenueName != "" {
		next.VenueName = rec.VenueName
	}
	if rec.DateStart != nil {
		d := *rec.DateStart
		next.DateStart = &d
		next.DateDisplay = rec.DateDisplay
	}
	if rec.PriceDisplay != nil {
		p := *rec.PriceDisplay
		next.PriceDisplay = &p
	}
	if rec.ImageURL != "" {
		next.ImageURL = rec.ImageURL
	}
	if !(cur.SourceURL == rec.SourceURL && cur.AffiliateURL != "") {
		next.AffiliateURL = rec.AffiliateURL
	}
	next.SourceURL = rec.SourceURL
	if len(rec.Details) > 0 {
		next.Details = make(map[string]string, len(rec.Details))
		for k, v := range rec.Details {
			next.Details[k] = v
		}
	}
	next.IsActive = true
	next.LastSeenAt = now
	s.rows[rec.NaturalKey] = next

	rec.ID = next.ID
	rec.SourceName = next.SourceName
	rec.AffiliateURL = next.AffiliateURL
	rec.FirstSeenAt = next.FirstSeenAt
	rec.LastSeenAt = next.LastSeenAt
	rec.IsActive = true
	return store.Updated, nil
}

func (s *Store) MarkInactive(_ context.Context, source string, seen map[string]struct{}) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for key, r := range s.rows {
		if r.SourceName != source || !r.IsActive {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		r.IsActive = false
		n++
	}
	return n, nil
}

func (s *Store) Exists(_ context.Context, naturalKey string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.rows[naturalKey]
	return ok, nil
}

func (s *Store) Get(_ context.Context, naturalKey string) (*model.CanonicalRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[naturalKey]
	if !ok {
		return nil, store.ErrNotFound
	}
	return r.Clone(), nil
}

func (s *Store) FindCandidates(_ context.Context, q store.CandidateQuery) ([]*model.CanonicalRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.CanonicalRecord
	for _, r := range s.rows {
		if r.Kind != q.Kind || r.DateStart == nil || r.SourceName == q.ExcludeSource {
			continue
		}
		if r.DateStart.Before(q.From) || !r.DateStart.Before(q.To) {
			continue
		}
		out = append(out, r.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].FirstSeenAt.Equal(out[j].FirstSeenAt) {
			return out[i].FirstSeenAt.Before(out[j].FirstSeenAt)
		}
		return out[i].NaturalKey < out[j].NaturalKey
	})
	return out, nil
}

func (s *Store) ListRecords(_ context.Context, filter model.RecordFilter) ([]*model.CanonicalRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.CanonicalRecord
	for _, r := range s.rows {
		if filter.SourceName != "" && r.SourceName != filter.SourceName {
			continue
		}
		if filter.ActiveOnly && !r.IsActive {
			continue
		}
		if filter.Kind != "" && r.Kind != filter.Kind {
			continue
		}
		if filter.KeyPrefix != "" && !strings.HasPrefix(r.NaturalKey, filter.KeyPrefix) {
			continue
		}
		out = append(out, r.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NaturalKey < out[j].NaturalKey })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *Store) RekeyRecord(_ context.Context, oldKey, newKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[oldKey]
	if !ok {
		return store.ErrNotFound
	}
	delete(s.rows, oldKey)
	r.NaturalKey = newKey
	s.rows[newKey] = r
	return nil
}

func (s *Store) AddAlternate(_ context.Context, naturalKey string, alt model.Alternate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[naturalKey]
	if !ok {
		return store.ErrNotFound
	}
	for _, existing := range r.Alternates {
		if existing.SourceName == alt.SourceName && existing.SourceURL == alt.SourceURL && existing.AffiliateURL != "" {
			alt.AffiliateURL = existing.AffiliateURL
		}
	}
	r.AddAlternate(alt)
	return nil
}

func (s *Store) RecordRun(_ context.Context, summary *model.Summary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.runs {
		if existing.RunID == summary.RunID {
			s.runs[i] = summary
			return nil
		}
	}
	s.runs = append(s.runs, summary)
	return nil
}

func (s *Store) LatestRun(_ context.Context) (*model.Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *model.Summary
	for _, r := range s.runs {
		if latest == nil || r.StartedAt.After(latest.StartedAt) {
			latest = r
		}
	}
	if latest == nil {
		return nil, store.ErrNotFound
	}
	return latest, nil
}

// RunInTransaction runs fn against s. Writes are applied directly; the
// memory store offers no rollback.
func (s *Store) RunInTransaction(_ context.Context, fn func(tx store.Store) error) error {
	return fn(s)
}

func (s *Store) Close() error { return nil }
