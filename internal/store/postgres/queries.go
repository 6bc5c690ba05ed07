package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/alfredjeanlab/listings/internal/idgen"
	"github.com/alfredjeanlab/listings/internal/model"
	"github.com/alfredjeanlab/listings/internal/store"
)

// listingColumns is the column list used for SELECT statements on the listings table.
const listingColumns = `id, natural_key, kind, title, category, venue_name,
	date_start, date_display, price_display, image_url, source_name, source_url,
	affiliate_url, details, is_active, first_seen_at, last_seen_at`

// executor is the interface satisfied by both *sql.DB and *sql.Tx.
type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queryUpsert inserts or updates a listing by natural key. The owning
// source is fixed at insert. The stored affiliate URL is kept while the
// source URL is unchanged, so rotating the tracking id never rewrites links.
func queryUpsert(ctx context.Context, db executor, r *model.CanonicalRecord, now time.Time) (store.UpsertResult, error) {
	if r.ID == "" {
		id, err := idgen.ListingID()
		if err != nil {
			return "", err
		}
		r.ID = id
	}
	details, err := jsonbDetails(r.Details)
	if err != nil {
		return "", fmt.Errorf("encode details: %w", err)
	}

	var inserted bool
	err = db.QueryRowContext(ctx, `
		INSERT INTO listings (
			id, natural_key, kind, title, category, venue_name,
			date_start, date_display, price_display, image_url, source_name, source_url,
			affiliate_url, details, is_active, first_seen_at, last_seen_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11, $12,
			$13, $14, TRUE, $15, $15
		)
		ON CONFLICT (natural_key) DO UPDATE SET
			kind = EXCLUDED.kind,
			title = EXCLUDED.title,
			category = EXCLUDED.category,
			venue_name = COALESCE(NULLIF(EXCLUDED.venue_name, ''), listings.venue_name),
			date_start = COALESCE(EXCLUDED.date_start, listings.date_start),
			date_display = CASE WHEN EXCLUDED.date_start IS NULL THEN listings.date_display ELSE EXCLUDED.date_display END,
			price_display = COALESCE(EXCLUDED.price_display, listings.price_display),
			image_url = COALESCE(NULLIF(EXCLUDED.image_url, ''), listings.image_url),
			source_url = EXCLUDED.source_url,
			affiliate_url = CASE
				WHEN listings.source_url = EXCLUDED.source_url AND listings.affiliate_url <> '' THEN listings.affiliate_url
				ELSE EXCLUDED.affiliate_url END,
			details = COALESCE(EXCLUDED.details, listings.details),
			is_active = TRUE,
			last_seen_at = EXCLUDED.last_seen_at
		RETURNING (xmax = 0) AS inserted, id, source_name, affiliate_url, first_seen_at, last_seen_at`,
		r.ID,
		r.NaturalKey,
		string(r.Kind),
		r.Title,
		string(r.Category),
		r.VenueName,
		nullTimePtr(r.DateStart),
		r.DateDisplay,
		nullStringPtr(r.PriceDisplay),
		r.ImageURL,
		r.SourceName,
		r.SourceURL,
		r.AffiliateURL,
		details,
		now,
	).Scan(&inserted, &r.ID, &r.SourceName, &r.AffiliateURL, &r.FirstSeenAt, &r.LastSeenAt)
	if err != nil {
		return "", err
	}
	r.IsActive = true
	if inserted {
		return store.Inserted, nil
	}
	return store.Updated, nil
}

// queryMarkInactive deactivates the source's active rows whose natural key
// is not in seen and returns how many rows changed.
func queryMarkInactive(ctx context.Context, db executor, source string, seen map[string]struct{}) (int, error) {
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	res, err := db.ExecContext(ctx, `
		UPDATE listings SET is_active = FALSE
		WHERE source_name = $1 AND is_active AND NOT (natural_key = ANY($2))`,
		source, pq.Array(keys),
	)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(n), nil
}

func queryExists(ctx context.Context, db executor, key string) (bool, error) {
	var exists bool
	err := db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM listings WHERE natural_key = $1)`, key,
	).Scan(&exists)
	return exists, err
}

func queryGet(ctx context.Context, db executor, key string) (*model.CanonicalRecord, error) {
	row := db.QueryRowContext(ctx, `SELECT `+listingColumns+` FROM listings WHERE natural_key = $1`, key)
	r, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if err := attachAlternates(ctx, db, []*model.CanonicalRecord{r}); err != nil {
		return nil, err
	}
	return r, nil
}

func queryFindCandidates(ctx context.Context, db executor, q store.CandidateQuery) ([]*model.CanonicalRecord, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+listingColumns+` FROM listings
		WHERE kind = $1 AND date_start >= $2 AND date_start < $3 AND source_name <> $4
		ORDER BY first_seen_at, natural_key`,
		string(q.Kind), q.From, q.To, q.ExcludeSource,
	)
	if err != nil {
		return nil, fmt.Errorf("find candidates: %w", err)
	}
	defer rows.Close()

	recs, err := scanRecords(rows)
	if err != nil {
		return nil, fmt.Errorf("scan candidates: %w", err)
	}
	if err := attachAlternates(ctx, db, recs); err != nil {
		return nil, err
	}
	return recs, nil
}

func queryListRecords(ctx context.Context, db executor, filter model.RecordFilter) ([]*model.CanonicalRecord, error) {
	var (
		whereClauses []string
		args         []any
		argIdx       int
	)

	nextArg := func() string {
		argIdx++
		return fmt.Sprintf("$%d", argIdx)
	}

	if filter.SourceName != "" {
		whereClauses = append(whereClauses, "source_name = "+nextArg())
		args = append(args, filter.SourceName)
	}
	if filter.ActiveOnly {
		whereClauses = append(whereClauses, "is_active")
	}
	if filter.Kind != "" {
		whereClauses = append(whereClauses, "kind = "+nextArg())
		args = append(args, string(filter.Kind))
	}
	if filter.KeyPrefix != "" {
		whereClauses = append(whereClauses, "natural_key LIKE "+nextArg()+" || '%'")
		args = append(args, filter.KeyPrefix)
	}

	whereSQL := ""
	if len(whereClauses) > 0 {
		whereSQL = " WHERE " + strings.Join(whereClauses, " AND ")
	}

	query := "SELECT " + listingColumns + " FROM listings" + whereSQL + " ORDER BY natural_key"
	if filter.Limit > 0 {
		query += " LIMIT " + nextArg()
		args = append(args, filter.Limit)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	recs, err := scanRecords(rows)
	if err != nil {
		return nil, fmt.Errorf("scan records: %w", err)
	}
	if err := attachAlternates(ctx, db, recs); err != nil {
		return nil, err
	}
	return recs, nil
}

// attachAlternates loads alternates for recs in one query.
func attachAlternates(ctx context.Context, db executor, recs []*model.CanonicalRecord) error {
	if len(recs) == 0 {
		return nil
	}
	byKey := make(map[string]*model.CanonicalRecord, len(recs))
	keys := make([]string, 0, len(recs))
	for _, r := range recs {
		byKey[r.NaturalKey] = r
		keys = append(keys, r.NaturalKey)
	}

	rows, err := db.QueryContext(ctx, `
		SELECT listing_key, source_name, source_url, affiliate_url
		FROM listing_alternates
		WHERE listing_key = ANY($1)
		ORDER BY listing_key, source_name`,
		pq.Array(keys),
	)
	if err != nil {
		return fmt.Errorf("get alternates: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		key, alt, err := scanAlternate(rows)
		if err != nil {
			return fmt.Errorf("scan alternates: %w", err)
		}
		if r, ok := byKey[key]; ok {
			r.Alternates = append(r.Alternates, alt)
		}
	}
	return rows.Err()
}

// queryAddAlternate records another source's link for a listing. An existing
// affiliate URL survives while the alternate's source URL is unchanged.
func queryAddAlternate(ctx context.Context, db executor, key string, alt model.Alternate) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO listing_alternates (listing_key, source_name, source_url, affiliate_url, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (listing_key, source_name) DO UPDATE SET
			affiliate_url = CASE
				WHEN listing_alternates.source_url = EXCLUDED.source_url AND listing_alternates.affiliate_url <> ''
				THEN listing_alternates.affiliate_url
				ELSE EXCLUDED.affiliate_url END,
			source_url = EXCLUDED.source_url,
			updated_at = NOW()`,
		key, alt.SourceName, alt.SourceURL, alt.AffiliateURL,
	)
	return err
}

// queryRekeyRecord renames a natural key; alternates follow via ON UPDATE CASCADE.
func queryRekeyRecord(ctx context.Context, db executor, oldKey, newKey string) error {
	res, err := db.ExecContext(ctx, `UPDATE listings SET natural_key = $2 WHERE natural_key = $1`, oldKey, newKey)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func queryRecordRun(ctx context.Context, db executor, s *model.Summary) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO ingest_runs (run_id, started_at, finished_at, status, summary)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (run_id) DO UPDATE SET
			finished_at = EXCLUDED.finished_at,
			status = EXCLUDED.status,
			summary = EXCLUDED.summary`,
		s.RunID, s.StartedAt, s.FinishedAt, s.Status(), payload,
	)
	return err
}

func queryLatestRun(ctx context.Context, db executor) (*model.Summary, error) {
	var payload []byte
	err := db.QueryRowContext(ctx,
		`SELECT summary FROM ingest_runs ORDER BY started_at DESC LIMIT 1`,
	).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	var s model.Summary
	if err := json.Unmarshal(payload, &s); err != nil {
		return nil, fmt.Errorf("decode summary: %w", err)
	}
	return &s, nil
}
