// Package pipeline runs one ingestion: fetch every source in parallel,
// normalize, deduplicate across sources, decorate links, upsert, then sweep.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/alfredjeanlab/listings/internal/affiliate"
	"github.com/alfredjeanlab/listings/internal/dedup"
	"github.com/alfredjeanlab/listings/internal/events"
	"github.com/alfredjeanlab/listings/internal/idgen"
	"github.com/alfredjeanlab/listings/internal/lock"
	"github.com/alfredjeanlab/listings/internal/logger"
	"github.com/alfredjeanlab/listings/internal/metrics"
	"github.com/alfredjeanlab/listings/internal/model"
	"github.com/alfredjeanlab/listings/internal/normalize"
	"github.com/alfredjeanlab/listings/internal/source"
	"github.com/alfredjeanlab/listings/internal/store"
	"github.com/alfredjeanlab/listings/internal/telemetry"
	"github.com/alfredjeanlab/listings/internal/upsert"
)

// ErrRunInProgress is returned by Run while another run is active, here or
// on another replica holding the run lock.
var ErrRunInProgress = errors.New("a run is already in progress")

// LockName is the lock every replica contends for.
const LockName = "ingest-run"

// RunState is the orchestrator lifecycle.
type RunState string

const (
	StateIdle     RunState = "idle"
	StateRunning  RunState = "running"
	StateReported RunState = "reported"
)

// Deps are the collaborators of a run. Store, Adapters, Normalizer and
// Decorator are required.
type Deps struct {
	Store      store.Store
	Adapters   []source.Adapter
	Normalizer *normalize.Normalizer
	Decorator  *affiliate.Decorator
	Publisher  events.Publisher
	Metrics    *metrics.Metrics
	Locker     lock.Locker
	Logger     *logger.Logger
	// AfterRun is called with the final summary, for example to export a
	// snapshot. Its error is logged.
	AfterRun func(ctx context.Context, s *model.Summary) error
	Now      func() time.Time
}

// Options tune a run.
type Options struct {
	RunTimeout     time.Duration
	CommitTimeout  time.Duration
	Parallelism    int
	DedupThreshold float64
	WriteRetries   int
	WriteBackoff   time.Duration
	SweepEmpty     bool
	LockTTL        time.Duration
}

func (o Options) withDefaults() Options {
	if o.RunTimeout <= 0 {
		o.RunTimeout = 10 * time.Minute
	}
	if o.CommitTimeout <= 0 {
		o.CommitTimeout = 2 * time.Minute
	}
	if o.Parallelism < 1 {
		o.Parallelism = 4
	}
	if o.DedupThreshold <= 0 {
		o.DedupThreshold = dedup.DefaultThreshold
	}
	if o.LockTTL <= 0 {
		o.LockTTL = o.RunTimeout + o.CommitTimeout
	}
	return o
}

// Orchestrator runs ingestions one at a time.
type Orchestrator struct {
	deps   Deps
	opts   Options
	log    *logger.Logger
	dedup  *dedup.Deduplicator
	upsert *upsert.Coordinator

	mu      sync.Mutex
	state   RunState
	current *model.Summary
}

// New wires an Orchestrator.
func New(deps Deps, opts Options) *Orchestrator {
	opts = opts.withDefaults()
	if deps.Logger == nil {
		deps.Logger = logger.Nop()
	}
	if deps.Publisher == nil {
		deps.Publisher = &events.NoopPublisher{}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Orchestrator{
		deps:  deps,
		opts:  opts,
		log:   deps.Logger,
		dedup: dedup.New(deps.Store, opts.DedupThreshold, deps.Normalizer.Location()),
		upsert: upsert.New(deps.Store, upsert.Options{
			WriteRetries:   opts.WriteRetries,
			InitialBackoff: opts.WriteBackoff,
			SweepEmpty:     opts.SweepEmpty,
			Logger:         deps.Logger,
		}),
		state: StateIdle,
	}
}

// Status is a point-in-time view of the orchestrator.
type Status struct {
	State RunState       `json:"state"`
	Run   *model.Summary `json:"run,omitempty"`
}

// Snapshot returns the current state and a copy of the run in progress.
func (o *Orchestrator) Snapshot() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	st := Status{State: o.state}
	if o.current != nil {
		st.Run = copySummary(o.current)
	}
	return st
}

func copySummary(s *model.Summary) *model.Summary {
	c := *s
	c.Reports = make([]*model.RunReport, len(s.Reports))
	for i, r := range s.Reports {
		rc := *r
		if r.NormalizationFailures != nil {
			rc.NormalizationFailures = make(map[model.NormalizationReason]int, len(r.NormalizationFailures))
			for k, v := range r.NormalizationFailures {
				rc.NormalizationFailures[k] = v
			}
		}
		c.Reports[i] = &rc
	}
	return &c
}

// sourceRun is the per-adapter working state of a run. Only the run
// goroutine touches it.
type sourceRun struct {
	idx     int
	adapter source.Adapter
	started time.Time
	fetched bool
	batch   dedup.Batch
}

// fetchResult is what a fetch worker hands back to the run goroutine.
type fetchResult struct {
	idx      int
	started  time.Time
	fetched  int
	batch    dedup.Batch
	rejected []model.NormalizationReason
	unknown  int
	err      error
}

// Run performs one full ingestion and returns its summary. The only errors
// are ErrRunInProgress and lock failures; source failures are reported in
// the summary.
func (o *Orchestrator) Run(ctx context.Context) (*model.Summary, error) {
	run, err := o.Reserve()
	if err != nil {
		return nil, err
	}
	return run(ctx)
}

// Reserve claims the orchestrator for one run without starting it, so a
// caller can refuse a concurrent trigger before answering. The returned
// function performs the run and must be called exactly once.
func (o *Orchestrator) Reserve() (func(context.Context) (*model.Summary, error), error) {
	if err := o.begin(); err != nil {
		return nil, err
	}
	var once sync.Once
	return func(ctx context.Context) (s *model.Summary, err error) {
		err = ErrRunInProgress
		once.Do(func() { s, err = o.run(ctx) })
		return s, err
	}, nil
}

func (o *Orchestrator) run(ctx context.Context) (*model.Summary, error) {
	defer o.setState(StateIdle)

	if o.deps.Locker != nil {
		release, err := o.deps.Locker.Acquire(ctx, LockName, o.opts.LockTTL)
		if err != nil {
			o.clear()
			if errors.Is(err, lock.ErrLocked) {
				return nil, fmt.Errorf("%w: %w", ErrRunInProgress, err)
			}
			return nil, fmt.Errorf("acquire run lock: %w", err)
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				o.log.Warn("release run lock", "error", err)
			}
		}()
	}

	summary := o.start()
	log := o.log.With("run_id", summary.RunID)
	ctx, span := telemetry.Tracer().Start(ctx, "ingest.run", trace.WithAttributes(telemetry.RunAttr(summary.RunID)))
	defer span.End()
	log.Info("run started", "sources", len(o.deps.Adapters))

	runs := make([]*sourceRun, len(o.deps.Adapters))
	for i, a := range o.deps.Adapters {
		runs[i] = &sourceRun{idx: i, adapter: a, started: o.deps.Now()}
	}

	// Fetch and normalize under the run deadline.
	runCtx, cancel := context.WithTimeout(ctx, o.opts.RunTimeout)
	timedOut := o.fetchAll(runCtx, log, runs)
	cancel()

	// Work fetched in time is committed even after the deadline.
	commitCtx, commitCancel := context.WithTimeout(context.WithoutCancel(ctx), o.opts.CommitTimeout)
	defer commitCancel()

	o.commit(commitCtx, log, runs)

	final := o.finish(timedOut)
	log.Info("run finished", "status", final.Status(), "succeeded", final.Succeeded(), "sources", len(final.Reports), "timed_out", timedOut)
	if final.Failed() {
		span.SetStatus(codes.Error, "no source succeeded")
	}
	o.report(commitCtx, log, final)
	return final, nil
}

func (o *Orchestrator) begin() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != StateIdle {
		return ErrRunInProgress
	}
	o.state = StateRunning
	return nil
}

func (o *Orchestrator) setState(s RunState) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.state = s
}

func (o *Orchestrator) clear() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.current = nil
}

func (o *Orchestrator) start() *model.Summary {
	o.mu.Lock()
	defer o.mu.Unlock()
	s := &model.Summary{RunID: idgen.RunID(), StartedAt: o.deps.Now().UTC()}
	for _, a := range o.deps.Adapters {
		s.Reports = append(s.Reports, &model.RunReport{SourceName: a.Name(), State: model.StatePending})
	}
	o.current = s
	return copySummary(s)
}

// update mutates report i under the lock so Snapshot never sees a torn write.
func (o *Orchestrator) update(i int, fn func(r *model.RunReport)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	fn(o.current.Reports[i])
}

// markFetching is called from workers, which may outlive their run.
func (o *Orchestrator) markFetching(runID string, i int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.current == nil || o.current.RunID != runID {
		return
	}
	if r := o.current.Reports[i]; r.State == model.StatePending {
		r.State = model.StateFetching
	}
}

func (o *Orchestrator) fail(sr *sourceRun, err error) {
	elapsed := o.deps.Now().Sub(sr.started)
	o.update(sr.idx, func(r *model.RunReport) {
		r.State = model.StateFailed
		r.Failed = true
		r.Error = err.Error()
		r.Duration = elapsed
	})
}

// fetchAll runs every adapter and collects results until all have reported
// or ctx is done. Workers still running at that point are abandoned: their
// sources fail with ErrRunTimeout and whatever they return later is dropped.
func (o *Orchestrator) fetchAll(ctx context.Context, log *logger.Logger, runs []*sourceRun) (timedOut bool) {
	results := make(chan fetchResult, len(runs))
	runID := o.runID()
	go func() {
		g := new(errgroup.Group)
		g.SetLimit(o.opts.Parallelism)
		for _, sr := range runs {
			g.Go(func() error {
				results <- o.fetchAndNormalize(ctx, log, runID, sr.idx, sr.adapter)
				return nil
			})
		}
		_ = g.Wait()
	}()

	reported := make([]bool, len(runs))
	pending := len(runs)
	apply := func(res fetchResult) {
		reported[res.idx] = true
		pending--
		o.applyFetch(log, runs[res.idx], res)
	}
wait:
	for pending > 0 {
		select {
		case res := <-results:
			apply(res)
		case <-ctx.Done():
			break wait
		}
	}
	// Results that raced the deadline are already failures; take them anyway.
drain:
	for pending > 0 {
		select {
		case res := <-results:
			apply(res)
		default:
			break drain
		}
	}

	timedOut = errors.Is(ctx.Err(), context.DeadlineExceeded)
	for i, done := range reported {
		if done {
			continue
		}
		err := fmt.Errorf("%w: abandoned while fetching", model.ErrRunTimeout)
		if !timedOut {
			err = fmt.Errorf("run cancelled while fetching: %w", ctx.Err())
		}
		log.Warn("source abandoned", "source", runs[i].adapter.Name(), "error", err)
		o.fail(runs[i], err)
	}
	return timedOut
}

// fetchAndNormalize runs on a worker goroutine. It touches no shared state
// besides the Fetching transition; the run goroutine applies its result.
func (o *Orchestrator) fetchAndNormalize(ctx context.Context, runLog *logger.Logger, runID string, idx int, a source.Adapter) fetchResult {
	name := a.Name()
	log := runLog.With("source", name)
	res := fetchResult{idx: idx, started: o.deps.Now()}
	ctx, span := telemetry.Tracer().Start(ctx, "ingest.fetch", trace.WithAttributes(telemetry.SourceAttr(name)))
	defer span.End()

	if err := ctx.Err(); err != nil {
		res.err = fmt.Errorf("%w: not started before the deadline", model.ErrRunTimeout)
		return res
	}
	o.markFetching(runID, idx)
	raws, err := a.Fetch(ctx)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %w", model.ErrRunTimeout, err)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		res.err = err
		return res
	}
	if err := ctx.Err(); err != nil {
		// An adapter that ignores its context still loses the race.
		res.err = fmt.Errorf("%w: %w", model.ErrRunTimeout, err)
		return res
	}

	res.fetched = len(raws)
	recs := make([]*model.CanonicalRecord, 0, len(raws))
	for _, raw := range raws {
		if raw.SourceName != "" && raw.SourceName != name {
			log.Warn("record reports a different source; using adapter name", "record_source", raw.SourceName)
		}
		nr, err := o.deps.Normalizer.Normalize(name, raw)
		if err != nil {
			reason, ok := model.ReasonOf(err)
			if !ok {
				reason = model.ReasonMissingRequiredField
			}
			res.rejected = append(res.rejected, reason)
			log.Debug("record rejected", "reason", reason, "error", err)
			continue
		}
		if nr.UnknownCategory {
			res.unknown++
		}
		recs = append(recs, nr.Record)
	}
	res.batch = dedup.Batch{Source: name, Records: recs}
	return res
}

// applyFetch records a worker's result on the run goroutine.
func (o *Orchestrator) applyFetch(runLog *logger.Logger, sr *sourceRun, res fetchResult) {
	log := runLog.With("source", sr.adapter.Name())
	sr.started = res.started
	if res.err != nil {
		log.Warn("fetch failed", "error", res.err)
		o.fail(sr, res.err)
		return
	}
	o.update(sr.idx, func(r *model.RunReport) {
		r.State = model.StateNormalizing
		r.FetchedCount = res.fetched
		for _, reason := range res.rejected {
			r.CountRejection(reason)
		}
		r.UnknownCategories = res.unknown
	})
	sr.batch = res.batch
	sr.fetched = true
	log.Info("source fetched", "fetched", res.fetched, "normalized", len(res.batch.Records), "rejected", len(res.rejected))
}

// commit deduplicates every fetched batch, writes each owner group and
// sweeps the sources that fetched successfully.
func (o *Orchestrator) commit(ctx context.Context, log *logger.Logger, runs []*sourceRun) {
	var (
		batches []dedup.Batch
		ok      []*sourceRun
		byName  = make(map[string]*sourceRun)
	)
	for _, sr := range runs {
		byName[sr.adapter.Name()] = sr
		if !sr.fetched {
			continue
		}
		batches = append(batches, sr.batch)
		ok = append(ok, sr)
		o.update(sr.idx, func(r *model.RunReport) { r.State = model.StateUpserting })
	}
	if len(ok) == 0 {
		return
	}

	res, err := o.dedup.Run(ctx, batches)
	if err != nil {
		err = fmt.Errorf("deduplicate: %w", err)
		log.Error("dedup failed; nothing committed", "error", err)
		for _, sr := range ok {
			o.fail(sr, err)
		}
		return
	}
	for _, sr := range ok {
		if st := res.Stats[sr.adapter.Name()]; st != nil {
			o.update(sr.idx, func(r *model.RunReport) {
				r.DuplicatesDropped = st.DuplicatesDropped
				r.Merged = st.Merged
				r.DedupConflicts = st.Conflicts
			})
		}
	}

	// Owner groups are disjoint by natural key, so they are written in
	// parallel. Sweeps wait for every write.
	runID := o.runID()
	g := new(errgroup.Group)
	g.SetLimit(o.opts.Parallelism)
	for _, owner := range res.Owners() {
		g.Go(func() error {
			o.commitOwner(ctx, log, runID, owner, res.Group(owner), byName[owner])
			return nil
		})
	}
	_ = g.Wait()

	g = new(errgroup.Group)
	g.SetLimit(o.opts.Parallelism)
	for _, sr := range ok {
		g.Go(func() error {
			o.sweep(ctx, log, runID, sr, res.Group(sr.adapter.Name()))
			return nil
		})
	}
	_ = g.Wait()
}

// commitOwner writes one owner group. sr is nil when the owner is not part
// of this run.
func (o *Orchestrator) commitOwner(ctx context.Context, log *logger.Logger, runID, owner string, group []*model.CanonicalRecord, sr *sourceRun) {
	for _, rec := range group {
		o.deps.Decorator.DecorateRecord(rec)
	}
	out := o.upsert.Commit(ctx, owner, group)
	for _, rec := range out.Inserted {
		o.publish(ctx, log, events.TopicRecordInserted, events.RecordInserted{RunID: runID, Record: rec})
	}
	if sr == nil {
		// A stored row owned by a source outside this run absorbed a match.
		// Nothing sweeps it; see DESIGN.md.
		log.Info("updated rows of an inactive owner", "owner", owner, "updated", len(out.Updated), "failed", len(out.Failures))
		return
	}
	o.update(sr.idx, func(r *model.RunReport) {
		r.InsertedCount += len(out.Inserted)
		r.UpdatedCount += len(out.Updated)
		r.WriteFailures += len(out.Failures)
		if len(out.Failures) > 0 {
			r.Error = appendError(r.Error, fmt.Sprintf("%d record(s) not written; first: %v", len(out.Failures), out.Failures[0]))
		}
	})
}

func (o *Orchestrator) sweep(ctx context.Context, runLog *logger.Logger, runID string, sr *sourceRun, owned []*model.CanonicalRecord) {
	name := sr.adapter.Name()
	log := runLog.With("source", name)
	var fetched int
	o.update(sr.idx, func(r *model.RunReport) { fetched = r.FetchedCount })

	n, err := o.upsert.Sweep(ctx, name, upsert.SeenKeys(owned), fetched)
	elapsed := o.deps.Now().Sub(sr.started)
	o.update(sr.idx, func(r *model.RunReport) {
		switch {
		case errors.Is(err, upsert.ErrSweepSkipped):
			r.SweepSkipped = true
		case err != nil:
			r.Error = appendError(r.Error, "sweep: "+err.Error())
		default:
			r.DeactivatedCount = n
		}
		r.State = model.StateDone
		r.Duration = elapsed
	})
	switch {
	case errors.Is(err, upsert.ErrSweepSkipped):
		log.Warn("sweep skipped: source listed nothing usable")
	case err != nil:
		log.Error("sweep failed", "error", err)
	case n > 0:
		o.publish(ctx, log, events.TopicRecordDeactivated, events.RecordsDeactivated{RunID: runID, SourceName: name, Count: n})
	}
}

func appendError(existing, msg string) string {
	if existing == "" {
		return msg
	}
	return existing + "; " + msg
}

func (o *Orchestrator) runID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.current.RunID
}

func (o *Orchestrator) publish(ctx context.Context, log *logger.Logger, topic string, event any) {
	if err := o.deps.Publisher.Publish(ctx, topic, event); err != nil {
		log.Warn("publish event", "topic", topic, "error", err)
	}
}

func (o *Orchestrator) finish(timedOut bool) *model.Summary {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.current.FinishedAt = o.deps.Now().UTC()
	o.current.TimedOut = timedOut
	o.state = StateReported
	return copySummary(o.current)
}

// report persists and publishes the summary. None of these steps can change
// the outcome of the run.
func (o *Orchestrator) report(ctx context.Context, log *logger.Logger, s *model.Summary) {
	if err := o.deps.Store.RecordRun(ctx, s); err != nil {
		log.Error("record run summary", "error", err)
	}
	if o.deps.Metrics != nil {
		o.deps.Metrics.ObserveRun(s)
	}
	o.publish(ctx, log, events.TopicRunCompleted, events.RunCompleted{
		Summary:  s,
		Status:   s.Status(),
		Duration: s.FinishedAt.Sub(s.StartedAt),
	})
	if o.deps.AfterRun != nil {
		if err := o.deps.AfterRun(ctx, s); err != nil {
			log.Warn("after-run hook failed", "error", err)
		}
	}
}
