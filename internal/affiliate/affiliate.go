// Package affiliate rewrites outbound listing URLs into trackable links.
//
// Decoration is a pure function of the source URL and the tracking id: the
// same inputs always produce the same string, and decorating an already
// decorated URL returns it unchanged.
package affiliate

import (
	"net/url"
	"strings"

	"github.com/alfredjeanlab/listings/internal/model"
)

// Param is the query parameter carrying the tracking id.
const Param = "aff_id"

// Decorate returns sourceURL with the tracking id attached. It never fails:
// URLs it cannot safely rewrite (empty, relative, non-http, malformed query)
// and an empty tracking id yield sourceURL unchanged.
func Decorate(sourceURL, trackingID string) string {
	trackingID = strings.TrimSpace(trackingID)
	raw := strings.TrimSpace(sourceURL)
	if raw == "" || trackingID == "" {
		return sourceURL
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return sourceURL
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return sourceURL
	}
	q, err := url.ParseQuery(u.RawQuery)
	if err != nil {
		return sourceURL
	}
	// Set replaces every existing value so the parameter never appears twice.
	q.Set(Param, trackingID)
	u.RawQuery = q.Encode()
	return u.String()
}

// TrackingID extracts the tracking id from a decorated URL.
func TrackingID(affiliateURL string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(affiliateURL))
	if err != nil {
		return "", false
	}
	q, err := url.ParseQuery(u.RawQuery)
	if err != nil {
		return "", false
	}
	id := q.Get(Param)
	return id, id != ""
}

// Decorator binds the site's tracking id.
type Decorator struct {
	trackingID string
}

// NewDecorator returns a Decorator for trackingID.
func NewDecorator(trackingID string) *Decorator {
	return &Decorator{trackingID: strings.TrimSpace(trackingID)}
}

// TrackingID returns the bound tracking id.
func (d *Decorator) TrackingID() string {
	return d.trackingID
}

// Decorate decorates sourceURL with the bound tracking id.
func (d *Decorator) Decorate(sourceURL string) string {
	return Decorate(sourceURL, d.trackingID)
}

// DecorateRecord sets the affiliate URL of rec and of each alternate.
func (d *Decorator) DecorateRecord(rec *model.CanonicalRecord) {
	rec.AffiliateURL = d.Decorate(rec.SourceURL)
	for i := range rec.Alternates {
		rec.Alternates[i].AffiliateURL = d.Decorate(rec.Alternates[i].SourceURL)
	}
}
