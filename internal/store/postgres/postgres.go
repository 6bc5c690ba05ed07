// Package postgres implements the store.Store interface backed by PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"

	"github.com/alfredjeanlab/listings/internal/model"
	"github.com/alfredjeanlab/listings/internal/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresStore implements store.Store backed by a PostgreSQL database.
type PostgresStore struct {
	db  *sql.DB
	now func() time.Time
}

// Compile-time check that PostgresStore implements store.Store.
var _ store.Store = (*PostgresStore)(nil)

// New opens a connection to the PostgreSQL database at the given URL,
// configures the connection pool, and runs any pending migrations.
func New(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return NewWithDB(db), nil
}

// NewWithDB wraps an open database without running migrations.
func NewWithDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, now: time.Now}
}

func runMigrations(db *sql.DB) error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	dbDriver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration db driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", dbDriver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply migrations: %w", err)
	}

	return nil
}

// Close closes the underlying database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) Upsert(ctx context.Context, rec *model.CanonicalRecord) (store.UpsertResult, error) {
	return queryUpsert(ctx, s.db, rec, s.now().UTC())
}

func (s *PostgresStore) MarkInactive(ctx context.Context, source string, seen map[string]struct{}) (int, error) {
	return queryMarkInactive(ctx, s.db, source, seen)
}

func (s *PostgresStore) Exists(ctx context.Context, naturalKey string) (bool, error) {
	return queryExists(ctx, s.db, naturalKey)
}

func (s *PostgresStore) Get(ctx context.Context, naturalKey string) (*model.CanonicalRecord, error) {
	return queryGet(ctx, s.db, naturalKey)
}

func (s *PostgresStore) FindCandidates(ctx context.Context, q store.CandidateQuery) ([]*model.CanonicalRecord, error) {
	return queryFindCandidates(ctx, s.db, q)
}

func (s *PostgresStore) ListRecords(ctx context.Context, filter model.RecordFilter) ([]*model.CanonicalRecord, error) {
	return queryListRecords(ctx, s.db, filter)
}

func (s *PostgresStore) RekeyRecord(ctx context.Context, oldKey, newKey string) error {
	return queryRekeyRecord(ctx, s.db, oldKey, newKey)
}

func (s *PostgresStore) AddAlternate(ctx context.Context, naturalKey string, alt model.Alternate) error {
	return queryAddAlternate(ctx, s.db, naturalKey, alt)
}

func (s *PostgresStore) RecordRun(ctx context.Context, summary *model.Summary) error {
	return queryRecordRun(ctx, s.db, summary)
}

func (s *PostgresStore) LatestRun(ctx context.Context) (*model.Summary, error) {
	return queryLatestRun(ctx, s.db)
}

// RunInTransaction begins a database transaction, creates a txStore that
// delegates to it, calls fn, and commits on success or rolls back on error.
func (s *PostgresStore) RunInTransaction(ctx context.Context, fn func(tx store.Store) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	txS := &txStore{tx: tx, now: s.now}
	if err := fn(txS); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// txStore implements store.Store using a *sql.Tx.
type txStore struct {
	tx  *sql.Tx
	now func() time.Time
}

// Compile-time check that txStore implements store.Store.
var _ store.Store = (*txStore)(nil)

func (s *txStore) Upsert(ctx context.Context, rec *model.CanonicalRecord) (store.UpsertResult, error) {
	return queryUpsert(ctx, s.tx, rec, s.now().UTC())
}

func (s *txStore) MarkInactive(ctx context.Context, source string, seen map[string]struct{}) (int, error) {
	return queryMarkInactive(ctx, s.tx, source, seen)
}

func (s *txStore) Exists(ctx context.Context, naturalKey string) (bool, error) {
	return queryExists(ctx, s.tx, naturalKey)
}

func (s *txStore) Get(ctx context.Context, naturalKey string) (*model.CanonicalRecord, error) {
	return queryGet(ctx, s.tx, naturalKey)
}

func (s *txStore) FindCandidates(ctx context.Context, q store.CandidateQuery) ([]*model.CanonicalRecord, error) {
	return queryFindCandidates(ctx, s.tx, q)
}

func (s *txStore) ListRecords(ctx context.Context, filter model.RecordFilter) ([]*model.CanonicalRecord, error) {
	return queryListRecords(ctx, s.tx, filter)
}

func (s *txStore) RekeyRecord(ctx context.Context, oldKey, newKey string) error {
	return queryRekeyRecord(ctx, s.tx, oldKey, newKey)
}

func (s *txStore) AddAlternate(ctx context.Context, naturalKey string, alt model.Alternate) error {
	return queryAddAlternate(ctx, s.tx, naturalKey, alt)
}

func (s *txStore) RecordRun(ctx context.Context, summary *model.Summary) error {
	return queryRecordRun(ctx, s.tx, summary)
}

func (s *txStore) LatestRun(ctx context.Context) (*model.Summary, error) {
	return queryLatestRun(ctx, s.tx)
}

// RunInTransaction on a txStore reuses the existing transaction (no nesting).
func (s *txStore) RunInTransaction(ctx context.Context, fn func(tx store.Store) error) error {
	return fn(s)
}

// Close is a no-op for a transaction store; the parent store owns the connection.
func (s *txStore) Close() error {
	return nil
}
