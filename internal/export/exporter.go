package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/alfredjeanlab/listings/internal/logger"
	"github.com/alfredjeanlab/listings/internal/model"
	"github.com/alfredjeanlab/listings/internal/store"
)

// Exporter renders one snapshot and fans it out to every destination.
type Exporter struct {
	store        store.Store
	destinations []Destination
	log          *logger.Logger
}

func NewExporter(s store.Store, destinations []Destination, log *logger.Logger) *Exporter {
	if log == nil {
		log = logger.Nop()
	}
	return &Exporter{store: s, destinations: destinations, log: log}
}

// Export writes one snapshot to every destination. A failing destination
// does not stop the others; their errors are joined.
func (e *Exporter) Export(ctx context.Context, opts Options) error {
	var buf bytes.Buffer
	n, err := WriteJSONL(ctx, e.store, &buf, opts)
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}
	data := buf.Bytes()

	var errs []error
	for _, dest := range e.destinations {
		if err := dest.Write(ctx, data); err != nil {
			e.log.Error("export destination write failed", "destination", dest.Name(), "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", dest.Name(), err))
		}
	}
	e.log.Info("export completed", "destinations", len(e.destinations), "records", n, "bytes", len(data))
	return errors.Join(errs...)
}

// AfterRun exports after a run that committed anything. A run in which every
// source failed leaves the previous snapshot in place.
func (e *Exporter) AfterRun(ctx context.Context, s *model.Summary) error {
	if s.Failed() {
		e.log.Info("export skipped: run failed", "run_id", s.RunID)
		return nil
	}
	return e.Export(ctx, Options{RunID: s.RunID})
}
