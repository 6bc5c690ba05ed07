package model

import (
	"time"
)

// Kind separates dated listings from undated places.
type Kind string

const (
	KindEvent Kind = "event"
	KindMovie Kind = "movie"
	KindVenue Kind = "venue"
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	return string(k)
}

// IsValid checks whether the kind is a known value.
func (k Kind) IsValid() bool {
	switch k {
	case KindEvent, KindMovie, KindVenue:
		return true
	}
	return false
}

// Dated reports whether records of this kind must carry a start date.
func (k Kind) Dated() bool {
	return k != KindVenue
}

// Category is the closed listing taxonomy.
type Category string

const (
	CategoryConcerts  Category = "concerts"
	CategoryComedy    Category = "comedy"
	CategoryWorkshops Category = "workshops"
	CategoryNightlife Category = "nightlife"
	CategoryTheatre   Category = "theatre"
	CategorySports    Category = "sports"
	CategoryOther     Category = "other"
)

// Categories lists the taxonomy in display order.
var Categories = []Category{
	CategoryConcerts,
	CategoryComedy,
	CategoryWorkshops,
	CategoryNightlife,
	CategoryTheatre,
	CategorySports,
	CategoryOther,
}

// String returns the string representation of the category.
func (c Category) String() string {
	return string(c)
}

// IsValid checks whether the category belongs to the taxonomy.
func (c Category) IsValid() bool {
	switch c {
	case CategoryConcerts, CategoryComedy, CategoryWorkshops, CategoryNightlife,
		CategoryTheatre, CategorySports, CategoryOther:
		return true
	}
	return false
}

// RawRecord is one source-specific listing as fetched by an adapter.
// It lives for a single run and is never persisted.
type RawRecord struct {
	SourceName  string
	SourceID    string // empty when the upstream has no stable id
	Kind        Kind
	Title       string
	RawDate     string
	RawPrice    string
	RawCategory string
	RawURL      string
	ImageURL    string
	VenueText   string
	Details     map[string]string
	FetchedAt   time.Time
}

// Alternate is another source's link to a listing owned by a different source.
type Alternate struct {
	SourceName   string `json:"source_name"`
	SourceURL    string `json:"source_url"`
	AffiliateURL string `json:"affiliate_url"`
}

// CanonicalRecord is the normalized, persisted listing.
type CanonicalRecord struct {
	ID           string            `json:"id,omitempty"`
	NaturalKey   string            `json:"natural_key"`
	Kind         Kind              `json:"kind"`
	Title        string            `json:"title"`
	Category     Category          `json:"category"`
	VenueName    string            `json:"venue_name,omitempty"`
	DateStart    *time.Time        `json:"date_start,omitempty"`
	DateDisplay  string            `json:"date_display"`
	PriceDisplay *string           `json:"price_display,omitempty"`
	ImageURL     string            `json:"image_url,omitempty"`
	SourceName   string            `json:"source_name"`
	SourceURL    string            `json:"source_url"`
	AffiliateURL string            `json:"affiliate_url"`
	Details      map[string]string `json:"details,omitempty"`
	IsActive     bool              `json:"is_active"`
	FirstSeenAt  time.Time         `json:"first_seen_at"`
	LastSeenAt   time.Time         `json:"last_seen_at"`

	// Populated by the deduplicator and the store; persisted in listing_alternates.
	Alternates []Alternate `json:"alternates,omitempty"`

	// FetchedAt is when the upstream reported this version. Not persisted.
	FetchedAt time.Time `json:"-"`
}

// Clone returns a deep copy of the record.
func (r *CanonicalRecord) Clone() *CanonicalRecord {
	c := *r
	if r.DateStart != nil {
		t := *r.DateStart
		c.DateStart = &t
	}
	if r.PriceDisplay != nil {
		p := *r.PriceDisplay
		c.PriceDisplay = &p
	}
	if r.Details != nil {
		c.Details = make(map[string]string, len(r.Details))
		for k, v := range r.Details {
			c.Details[k] = v
		}
	}
	if r.Alternates != nil {
		c.Alternates = append([]Alternate(nil), r.Alternates...)
	}
	return &c
}

// AddAlternate records another source's link, replacing an earlier link from
// the same source. Links from the owning source are ignored.
func (r *CanonicalRecord) AddAlternate(a Alternate) {
	if a.SourceName == r.SourceName {
		return
	}
	for i := range r.Alternates {
		if r.Alternates[i].SourceName == a.SourceName {
			r.Alternates[i] = a
			return
		}
	}
	r.Alternates = append(r.Alternates, a)
}

// Price returns the price display or "" when the price is unknown.
func (r *CanonicalRecord) Price() string {
	if r.PriceDisplay == nil {
		return ""
	}
	return *r.PriceDisplay
}

// RecordFilter selects records for listing and export.
type RecordFilter struct {
	SourceName string
	ActiveOnly bool
	Kind       Kind
	KeyPrefix  string
	Limit      int
}
