// Package export writes snapshots of the active listings for downstream
// consumers such as the public site and search indexers.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/alfredjeanlab/listings/internal/model"
	"github.com/alfredjeanlab/listings/internal/store"
)

// FormatVersion is bumped whenever the line layout changes.
const FormatVersion = "1"

// header is the first JSONL line written by WriteJSONL.
type header struct {
	Version     string    `json:"version"`
	Type        string    `json:"type"`
	Timestamp   time.Time `json:"timestamp"`
	RunID       string    `json:"run_id,omitempty"`
	RecordCount int       `json:"record_count"`
}

// line wraps a single JSONL record with a type discriminator.
type line struct {
	Type string                 `json:"type"`
	Data *model.CanonicalRecord `json:"data"`
}

// Options narrow a snapshot.
type Options struct {
	// RunID is stamped into the header when the snapshot follows a run.
	RunID string
	// Kind limits the snapshot to one kind of listing.
	Kind model.Kind
	// IncludeInactive also exports swept rows.
	IncludeInactive bool
	Now             func() time.Time
}

// WriteJSONL writes a header followed by one "listing" line per record,
// ordered by natural key. Alternates are embedded in each record.
func WriteJSONL(ctx context.Context, s store.Store, w io.Writer, opts Options) (int, error) {
	recs, err := s.ListRecords(ctx, model.RecordFilter{
		ActiveOnly: !opts.IncludeInactive,
		Kind:       opts.Kind,
	})
	if err != nil {
		return 0, fmt.Errorf("list records: %w", err)
	}

	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(header{
		Version:     FormatVersion,
		Type:        "header",
		Timestamp:   now().UTC(),
		RunID:       opts.RunID,
		RecordCount: len(recs),
	}); err != nil {
		return 0, fmt.Errorf("encode header: %w", err)
	}
	for _, r := range recs {
		if err := enc.Encode(line{Type: "listing", Data: r}); err != nil {
			return 0, fmt.Errorf("encode listing %s: %w", r.NaturalKey, err)
		}
	}
	return len(recs), nil
}
