package postgres

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/alfredjeanlab/listings/internal/model"
)

// scannable is the interface satisfied by both *sql.Row and *sql.Rows.
type scannable interface {
	Scan(dest ...any) error
}

// scanRecord scans a single row into a model.CanonicalRecord.
// The row must contain columns in the order defined by listingColumns.
func scanRecord(row scannable) (*model.CanonicalRecord, error) {
	var r model.CanonicalRecord
	var (
		dateStart sql.NullTime
		price     sql.NullString
		details   []byte
	)

	err := row.Scan(
		&r.ID,
		&r.NaturalKey,
		&r.Kind,
		&r.Title,
		&r.Category,
		&r.VenueName,
		&dateStart,
		&r.DateDisplay,
		&price,
		&r.ImageURL,
		&r.SourceName,
		&r.SourceURL,
		&r.AffiliateURL,
		&details,
		&r.IsActive,
		&r.FirstSeenAt,
		&r.LastSeenAt,
	)
	if err != nil {
		return nil, err
	}

	if dateStart.Valid {
		t := dateStart.Time
		r.DateStart = &t
	}
	if price.Valid {
		p := price.String
		r.PriceDisplay = &p
	}
	if len(details) > 0 {
		if err := json.Unmarshal(details, &r.Details); err != nil {
			return nil, err
		}
	}
	return &r, nil
}

// scanRecords scans multiple rows into a slice of record pointers.
func scanRecords(rows *sql.Rows) ([]*model.CanonicalRecord, error) {
	var recs []*model.CanonicalRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return recs, nil
}

// scanAlternate scans a listing_alternates row.
func scanAlternate(row scannable) (string, model.Alternate, error) {
	var key string
	var a model.Alternate
	err := row.Scan(&key, &a.SourceName, &a.SourceURL, &a.AffiliateURL)
	return key, a, err
}

// nullTimePtr converts a *time.Time to a sql.NullTime.
func nullTimePtr(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// nullStringPtr converts a *string to sql.NullString; nil is null.
func nullStringPtr(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// jsonbDetails converts a details map to a []byte suitable for JSONB columns.
func jsonbDetails(m map[string]string) ([]byte, error) {
	if len(m) == 0 {
		return nil, nil
	}
	return json.Marshal(m)
}
