package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/alfredjeanlab/listings/internal/logger"
	"github.com/alfredjeanlab/listings/internal/model"
	"github.com/alfredjeanlab/listings/internal/normalize"
	"github.com/alfredjeanlab/listings/internal/store"
)

// RekeyResult counts what Rekey did.
type RekeyResult struct {
	Scanned   int `json:"scanned"`
	Rekeyed   int `json:"rekeyed"`
	Conflicts int `json:"conflicts"`
}

// Rekey recomputes every derived natural key and moves rows whose stored key
// no longer matches, which happens after a normalize.KeyVersion bump or a
// change of the configured time zone. A row whose new key is
// already taken is left alone and counted as a conflict; the next run merges
// it through the deduplicator. With dryRun nothing is written.
func Rekey(ctx context.Context, st store.Store, loc *time.Location, dryRun bool, log *logger.Logger) (RekeyResult, error) {
	if log == nil {
		log = logger.Nop()
	}
	var res RekeyResult
	recs, err := st.ListRecords(ctx, model.RecordFilter{KeyPrefix: "h"})
	if err != nil {
		return res, fmt.Errorf("list derived keys: %w", err)
	}
	for _, rec := range recs {
		if _, ok := normalize.DerivedKeyVersion(rec.NaturalKey); !ok {
			continue
		}
		res.Scanned++
		newKey := normalize.DerivedKey(rec.Title, rec.VenueName, rec.DateStart, loc)
		if newKey == rec.NaturalKey {
			continue
		}
		taken, err := st.Exists(ctx, newKey)
		if err != nil {
			return res, fmt.Errorf("check %s: %w", newKey, err)
		}
		if taken {
			res.Conflicts++
			log.Warn("rekey conflict; leaving row", "key", rec.NaturalKey, "new_key", newKey)
			continue
		}
		if dryRun {
			res.Rekeyed++
			continue
		}
		err = st.RunInTransaction(ctx, func(tx store.Store) error {
			return tx.RekeyRecord(ctx, rec.NaturalKey, newKey)
		})
		if err != nil {
			return res, fmt.Errorf("rekey %s: %w", rec.NaturalKey, err)
		}
		res.Rekeyed++
		log.Debug("rekeyed", "key", rec.NaturalKey, "new_key", newKey)
	}
	return res, nil
}
