package dedup

import (
	"time"

	"github.com/alfredjeanlab/listings/internal/model"
	"github.com/alfredjeanlab/listings/internal/normalize"
)

// DefaultThreshold is the minimum venue token overlap for a fuzzy match.
const DefaultThreshold = 0.8

// VenueOverlap returns |A∩B| / min(|A|,|B|) over folded venue tokens. Two
// empty venues overlap fully; exactly one empty venue does not overlap.
func VenueOverlap(a, b string) float64 {
	ta, tb := normalize.Tokens(a), normalize.Tokens(b)
	switch {
	case len(ta) == 0 && len(tb) == 0:
		return 1
	case len(ta) == 0 || len(tb) == 0:
		return 0
	}
	small, large := ta, tb
	if len(small) > len(large) {
		small, large = large, small
	}
	shared := 0
	for tok := range small {
		if _, ok := large[tok]; ok {
			shared++
		}
	}
	return float64(shared) / float64(len(small))
}

// Matcher decides whether two records describe the same dated listing.
type Matcher struct {
	Threshold float64
	Location  *time.Location
}

// Match reports a fuzzy match: same kind, equal folded title, same calendar
// day and venue overlap at or above the threshold. Undated records never
// match fuzzily. Source ownership is checked by the caller.
func (m Matcher) Match(a, b *model.CanonicalRecord) bool {
	if a.Kind != b.Kind || a.DateStart == nil || b.DateStart == nil {
		return false
	}
	loc := m.Location
	if loc == nil {
		loc = time.UTC
	}
	if !normalize.SameDay(*a.DateStart, *b.DateStart, loc) {
		return false
	}
	if normalize.Fold(a.Title) != normalize.Fold(b.Title) {
		return false
	}
	threshold := m.Threshold
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return VenueOverlap(a.VenueName, b.VenueName) >= threshold
}

// dayBounds returns the [start, end) window of t's calendar day in loc.
func dayBounds(t time.Time, loc *time.Location) (time.Time, time.Time) {
	y, mo, d := t.In(loc).Date()
	start := time.Date(y, mo, d, 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 0, 1)
}
