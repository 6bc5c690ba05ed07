// Package upsert writes deduplicated records to the store and sweeps rows a
// source no longer lists.
package upsert

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/alfredjeanlab/listings/internal/logger"
	"github.com/alfredjeanlab/listings/internal/model"
	"github.com/alfredjeanlab/listings/internal/store"
)

// Options configure a Coordinator.
type Options struct {
	// WriteRetries is the number of retries after the first failed write.
	WriteRetries int
	// InitialBackoff is the delay before the first retry; it doubles after.
	InitialBackoff time.Duration
	// SweepEmpty allows a sweep after a fetch that yielded no records.
	SweepEmpty bool
	Logger     *logger.Logger
}

// Coordinator applies upserts and sweeps. Each record is written
// independently; one failing record never blocks the rest.
type Coordinator struct {
	store store.Store
	opts  Options
	log   *logger.Logger
}

// New returns a Coordinator writing to st.
func New(st store.Store, opts Options) *Coordinator {
	if opts.WriteRetries < 0 {
		opts.WriteRetries = 0
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = 200 * time.Millisecond
	}
	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}
	return &Coordinator{store: st, opts: opts, log: log}
}

// Outcome is the result of committing one owner group.
type Outcome struct {
	Inserted []*model.CanonicalRecord
	Updated  []*model.CanonicalRecord
	Failures []*model.StoreWriteError
}

// Commit upserts recs, owned by source, together with their alternates.
func (c *Coordinator) Commit(ctx context.Context, source string, recs []*model.CanonicalRecord) Outcome {
	var out Outcome
	for _, rec := range recs {
		if err := model.ValidateRecord(rec); err != nil {
			out.Failures = append(out.Failures, &model.StoreWriteError{NaturalKey: rec.NaturalKey, Err: err})
			c.log.Warn("record rejected before write", "source", source, "key", rec.NaturalKey, "error", err)
			continue
		}
		res, attempts, err := c.write(ctx, rec)
		if err != nil {
			werr := &model.StoreWriteError{NaturalKey: rec.NaturalKey, Attempts: attempts, Err: err}
			out.Failures = append(out.Failures, werr)
			c.log.Error("upsert failed", "source", source, "key", rec.NaturalKey, "attempts", attempts, "error", err)
			continue
		}
		switch res {
		case store.Inserted:
			out.Inserted = append(out.Inserted, rec)
		case store.Updated:
			out.Updated = append(out.Updated, rec)
		}
	}
	return out
}

func (c *Coordinator) write(ctx context.Context, rec *model.CanonicalRecord) (store.UpsertResult, int, error) {
	attempts := 0
	op := func() (store.UpsertResult, error) {
		attempts++
		var res store.UpsertResult
		err := c.store.RunInTransaction(ctx, func(tx store.Store) error {
			r, err := tx.Upsert(ctx, rec)
			if err != nil {
				return err
			}
			for _, alt := range rec.Alternates {
				if err := tx.AddAlternate(ctx, rec.NaturalKey, alt); err != nil {
					return err
				}
			}
			res = r
			return nil
		})
		if err != nil && ctx.Err() != nil {
			return "", backoff.Permanent(err)
		}
		return res, err
	}
	res, err := backoff.Retry(ctx, op, c.retryOptions()...)
	return res, attempts, err
}

func (c *Coordinator) retryOptions() []backoff.RetryOption {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.opts.InitialBackoff
	b.Multiplier = 2
	b.RandomizationFactor = 0.2
	return []backoff.RetryOption{
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(c.opts.WriteRetries + 1)),
	}
}

// ErrSweepSkipped is returned by Sweep when the empty-fetch guard applies.
var ErrSweepSkipped = errors.New("sweep skipped: source returned no records")

// Sweep deactivates rows owned by source that were not seen this run. It
// must only be called for sources whose fetch succeeded. A fetch that
// produced no usable records skips the sweep unless SweepEmpty is set.
func (c *Coordinator) Sweep(ctx context.Context, source string, seen map[string]struct{}, fetched int) (int, error) {
	if (fetched == 0 || len(seen) == 0) && !c.opts.SweepEmpty {
		return 0, ErrSweepSkipped
	}
	n, err := backoff.Retry(ctx, func() (int, error) {
		n, err := c.store.MarkInactive(ctx, source, seen)
		if err != nil && ctx.Err() != nil {
			return 0, backoff.Permanent(err)
		}
		return n, err
	}, c.retryOptions()...)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		c.log.Info("deactivated unlisted rows", "source", source, "count", n)
	}
	return n, nil
}

// SeenKeys returns the natural keys of recs as a set.
func SeenKeys(recs []*model.CanonicalRecord) map[string]struct{} {
	seen := make(map[string]struct{}, len(recs))
	for _, r := range recs {
		seen[r.NaturalKey] = struct{}{}
	}
	return seen
}
