package store

import (
	"context"
	"errors"
	"time"

	"github.com/alfredjeanlab/listings/internal/model"
)

// ErrNotFound is returned when a natural key or run has no row.
var ErrNotFound = errors.New("not found")

// UpsertResult reports what an upsert did to the row.
type UpsertResult string

const (
	Inserted UpsertResult = "inserted"
	Updated  UpsertResult = "updated"
)

// CandidateQuery selects stored rows that may fuzzily match a new record.
type CandidateQuery struct {
	Kind model.Kind
	// From and To bound date_start as [From, To).
	From time.Time
	To   time.Time
	// ExcludeSource drops rows owned by this source.
	ExcludeSource string
}

// Store defines the persistence interface for listings.
type Store interface {
	// Listings
	Upsert(ctx context.Context, rec *model.CanonicalRecord) (UpsertResult, error)
	MarkInactive(ctx context.Context, source string, seen map[string]struct{}) (int, error)
	Exists(ctx context.Context, naturalKey string) (bool, error)
	Get(ctx context.Context, naturalKey string) (*model.CanonicalRecord, error)
	FindCandidates(ctx context.Context, q CandidateQuery) ([]*model.CanonicalRecord, error)
	ListRecords(ctx context.Context, filter model.RecordFilter) ([]*model.CanonicalRecord, error)
	RekeyRecord(ctx context.Context, oldKey, newKey string) error

	// Alternates
	AddAlternate(ctx context.Context, naturalKey string, alt model.Alternate) error

	// Runs
	RecordRun(ctx context.Context, summary *model.Summary) error
	LatestRun(ctx context.Context) (*model.Summary, error)

	// Transaction support
	RunInTransaction(ctx context.Context, fn func(tx Store) error) error

	// Lifecycle
	Close() error
}
