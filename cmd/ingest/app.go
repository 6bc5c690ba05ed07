package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/alfredjeanlab/listings/internal/affiliate"
	"github.com/alfredjeanlab/listings/internal/config"
	"github.com/alfredjeanlab/listings/internal/events"
	"github.com/alfredjeanlab/listings/internal/export"
	"github.com/alfredjeanlab/listings/internal/hooks"
	"github.com/alfredjeanlab/listings/internal/lock"
	"github.com/alfredjeanlab/listings/internal/logger"
	"github.com/alfredjeanlab/listings/internal/metrics"
	"github.com/alfredjeanlab/listings/internal/model"
	"github.com/alfredjeanlab/listings/internal/normalize"
	"github.com/alfredjeanlab/listings/internal/pipeline"
	"github.com/alfredjeanlab/listings/internal/source"
	"github.com/alfredjeanlab/listings/internal/store"
	"github.com/alfredjeanlab/listings/internal/store/memory"
	"github.com/alfredjeanlab/listings/internal/store/postgres"
	"github.com/alfredjeanlab/listings/internal/telemetry"
)

// app holds the process-wide dependencies shared by subcommands. Everything
// opened here is closed by close, in reverse order.
type app struct {
	cfg     *config.Config
	log     *logger.Logger
	store   store.Store
	sources *config.SourcesFile
	closers []func() error
}

type appOptions struct {
	// dryRun swaps the database for an in-memory store.
	dryRun bool
	// needSources loads and validates the sources file.
	needSources bool
}

func newApp(ctx context.Context, opts appOptions) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if logMode != "" {
		cfg.LogMode = logMode
	}
	if sourcesPath != "" {
		cfg.SourcesFile = sourcesPath
	}
	log, err := logger.New(cfg.LogMode)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, log: log}
	a.closers = append(a.closers, func() error { log.Sync(); return nil })

	if opts.needSources {
		sf, err := config.LoadSources(cfg.SourcesFile)
		if err != nil {
			a.close()
			return nil, err
		}
		a.sources = sf
	}

	if opts.dryRun {
		a.store = memory.New(nil)
		log.Info("dry run: using an in-memory store")
	} else {
		if err := cfg.RequireDatabase(); err != nil {
			a.close()
			return nil, err
		}
		pg, err := postgres.New(cfg.DatabaseURL)
		if err != nil {
			a.close()
			return nil, err
		}
		a.store = pg
	}
	a.closers = append(a.closers, a.store.Close)

	shutdown, err := telemetry.Init(ctx, log, telemetry.Config{
		Exporter:    cfg.TraceExporter,
		Endpoint:    cfg.TraceEndpoint,
		ServiceName: "listings-ingest",
		Version:     version,
	})
	if err != nil {
		a.close()
		return nil, err
	}
	a.closers = append(a.closers, func() error { return shutdown(context.Background()) })
	return a, nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && a.log != nil {
			a.log.Warn("shutdown step failed", "error", err)
		}
	}
	a.closers = nil
}

// publisher connects to NATS when configured.
func (a *app) publisher() (events.Publisher, error) {
	if a.cfg.NATSURL == "" {
		a.log.Info("events disabled (INGEST_NATS_URL not set)")
		return &events.NoopPublisher{}, nil
	}
	pub, err := events.NewNATSPublisher(a.cfg.NATSURL, events.NATSOptions{
		SubjectPrefix: a.cfg.NATSPrefix,
		Logger:        a.log.With("component", "nats"),
	})
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
		defer cancel()
		if err := pub.Flush(ctx); err != nil {
			a.log.Warn("flush events", "error", err)
		}
		return pub.Close()
	})
	a.log.Info("events enabled", "nats_url", a.cfg.NATSURL, "subject_prefix", a.cfg.NATSPrefix)
	return pub, nil
}

// locker picks the run lock: Redis when configured, otherwise a Postgres
// advisory lock, otherwise an in-process lock.
func (a *app) locker(ctx context.Context) (lock.Locker, error) {
	if a.cfg.RedisURL != "" {
		r, err := lock.DialRedis(ctx, a.cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, r.Close)
		return r, nil
	}
	if pg, ok := a.store.(*postgres.PostgresStore); ok {
		return lock.NewAdvisory(pg), nil
	}
	return lock.NewLocal(), nil
}

// exporter builds the snapshot exporter from the configured destinations.
// extra destinations are added first.
func (a *app) exporter(ctx context.Context, extra ...export.Destination) (*export.Exporter, error) {
	dests := slices.Clone(extra)
	if a.cfg.ExportFile != "" {
		dests = append(dests, export.NewFileDestination(a.cfg.ExportFile))
	}
	if a.cfg.ExportS3Bucket != "" {
		d, err := export.NewS3Destination(ctx, a.cfg.ExportS3Bucket, a.cfg.ExportS3Key, a.cfg.ExportS3Region, a.cfg.ExportS3Endpoint)
		if err != nil {
			return nil, err
		}
		dests = append(dests, d)
	}
	return export.NewExporter(a.store, dests, a.log), nil
}

// afterRun combines the snapshot export (when withExport) and the
// configured after-run command. It returns nil when neither applies.
func (a *app) afterRun(ctx context.Context, withExport bool) (func(context.Context, *model.Summary) error, error) {
	var exportFn, hookFn func(context.Context, *model.Summary) error
	if withExport {
		exp, err := a.exporter(ctx)
		if err != nil {
			return nil, err
		}
		exportFn = exp.AfterRun
	}
	if a.cfg.AfterRunCommand != "" {
		h := &hooks.AfterRun{Command: a.cfg.AfterRunCommand, Timeout: a.cfg.AfterRunTimeout, Logger: a.log}
		hookFn = h.Run
	}
	return hooks.Chain(exportFn, hookFn), nil
}

// orchestratorDeps are the optional pieces a subcommand adds.
type orchestratorDeps struct {
	publisher events.Publisher
	metrics   *metrics.Metrics
	locker    lock.Locker
	afterRun  func(context.Context, *model.Summary) error
	only      []string
}

func (a *app) orchestrator(d orchestratorDeps) (*pipeline.Orchestrator, error) {
	cfgs := a.sources.Enabled()
	if len(d.only) > 0 {
		cfgs = slices.DeleteFunc(cfgs, func(c config.SourceConfig) bool { return !slices.Contains(d.only, c.Name) })
		if len(cfgs) != len(d.only) {
			return nil, fmt.Errorf("--only names unknown or disabled sources (enabled: %v)", enabledNames(a.sources))
		}
	}
	if len(cfgs) == 0 {
		return nil, fmt.Errorf("no enabled sources in %s", a.cfg.SourcesFile)
	}
	adapters, err := source.NewAll(cfgs, source.Deps{Logger: a.log})
	if err != nil {
		return nil, err
	}

	norm := normalize.New(normalize.Options{
		Location:          a.cfg.Location(),
		Currency:          a.cfg.Currency,
		YearlessPolicy:    normalize.YearlessPolicy(a.cfg.YearlessPolicy),
		CategoryOverrides: a.sources.CategoryOverrides(),
	})
	if a.cfg.TrackingID == "" {
		a.log.Warn("INGEST_TRACKING_ID not set; links are stored undecorated")
	}
	return pipeline.New(pipeline.Deps{
		Store:      a.store,
		Adapters:   adapters,
		Normalizer: norm,
		Decorator:  affiliate.NewDecorator(a.cfg.TrackingID),
		Publisher:  d.publisher,
		Metrics:    d.metrics,
		Locker:     d.locker,
		Logger:     a.log,
		AfterRun:   d.afterRun,
	}, pipeline.Options{
		RunTimeout:     a.cfg.RunTimeout,
		CommitTimeout:  a.cfg.CommitTimeout,
		Parallelism:    a.cfg.Parallelism,
		DedupThreshold: a.cfg.DedupThreshold,
		WriteRetries:   a.cfg.WriteRetries,
		SweepEmpty:     a.cfg.SweepEmpty,
		LockTTL:        a.cfg.LockTTL,
	}), nil
}

func enabledNames(sf *config.SourcesFile) []string {
	var names []string
	for _, c := range sf.Enabled() {
		names = append(names, c.Name)
	}
	return names
}

// stdout is swapped in tests.
var stdout io.Writer = os.Stdout
