// Package normalize maps source records into the canonical listing schema.
package normalize

import (
	"strings"
	"time"

	"github.com/alfredjeanlab/listings/internal/model"
)

// Options configure a Normalizer.
type Options struct {
	Location          *time.Location
	Currency          string
	YearlessPolicy    YearlessPolicy
	CategoryOverrides map[string]model.Category
	// Now anchors year inference; defaults to time.Now.
	Now func() time.Time
}

// Normalizer is safe for concurrent use.
type Normalizer struct {
	loc        *time.Location
	currency   string
	policy     YearlessPolicy
	categories *CategoryMapper
	now        func() time.Time
}

// New returns a Normalizer with defaults applied to zero-valued options.
func New(opts Options) *Normalizer {
	n := &Normalizer{
		loc:        opts.Location,
		currency:   opts.Currency,
		policy:     opts.YearlessPolicy,
		categories: NewCategoryMapper(opts.CategoryOverrides),
		now:        opts.Now,
	}
	if n.loc == nil {
		n.loc = time.UTC
	}
	if n.currency == "" {
		n.currency = DefaultCurrency
	}
	if !n.policy.IsValid() {
		n.policy = YearlessInferNext
	}
	if n.now == nil {
		n.now = time.Now
	}
	return n
}

// Location returns the zone calendar days are computed in.
func (n *Normalizer) Location() *time.Location { return n.loc }

// Result is one normalized record.
type Result struct {
	Record *model.CanonicalRecord
	// UnknownCategory is set when the category fell back to "other".
	UnknownCategory bool
}

// Normalize converts raw into a CanonicalRecord owned by source. Rejections
// are returned as *model.NormalizationError. The affiliate URL and the
// lifecycle timestamps are left for later stages.
func (n *Normalizer) Normalize(source string, raw model.RawRecord) (Result, error) {
	kind := raw.Kind
	if kind == "" {
		kind = model.KindEvent
	}
	if !kind.IsValid() {
		return Result{}, &model.NormalizationError{Reason: model.ReasonMissingRequiredField, Field: "kind", Value: string(kind)}
	}

	title := CleanText(raw.Title)
	if title == "" {
		return Result{}, &model.NormalizationError{Reason: model.ReasonMissingRequiredField, Field: "title"}
	}
	sourceURL := strings.TrimSpace(raw.RawURL)
	if sourceURL == "" {
		return Result{}, &model.NormalizationError{Reason: model.ReasonMissingRequiredField, Field: "url"}
	}

	rec := &model.CanonicalRecord{
		Kind:         kind,
		Title:        title,
		VenueName:    CleanText(raw.VenueText),
		PriceDisplay: FormatPrice(raw.RawPrice, n.currency),
		ImageURL:     strings.TrimSpace(raw.ImageURL),
		SourceName:   source,
		SourceURL:    sourceURL,
		IsActive:     true,
		FetchedAt:    raw.FetchedAt,
	}
	if len(raw.Details) > 0 {
		rec.Details = make(map[string]string, len(raw.Details))
		for k, v := range raw.Details {
			rec.Details[k] = v
		}
	}

	if kind.Dated() {
		if strings.TrimSpace(raw.RawDate) == "" {
			return Result{}, &model.NormalizationError{Reason: model.ReasonMissingRequiredField, Field: "date"}
		}
		pd, err := ParseDate(raw.RawDate, n.now(), n.loc, n.policy)
		if err != nil {
			return Result{}, &model.NormalizationError{Reason: model.ReasonUnparseableDate, Field: "date", Value: raw.RawDate}
		}
		start := pd.Time
		rec.DateStart = &start
		rec.DateDisplay = FormatDate(pd)
	}

	cat, known := n.categories.Map(raw.RawCategory)
	rec.Category = cat

	if id := strings.TrimSpace(raw.SourceID); id != "" {
		rec.NaturalKey = StableKey(source, id)
	} else {
		rec.NaturalKey = DerivedKey(rec.Title, rec.VenueName, rec.DateStart, n.loc)
	}
	return Result{Record: rec, UnknownCategory: !known}, nil
}

// SameDay reports whether a and b fall on the same calendar day in loc.
func SameDay(a, b time.Time, loc *time.Location) bool {
	ay, am, ad := a.In(loc).Date()
	by, bm, bd := b.In(loc).Date()
	return ay == by && am == bm && ad == bd
}
