// Package server exposes the ingest admin API: health, run status, manual
// triggers, read-only listing lookups, an event stream and metrics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/alfredjeanlab/listings/internal/events"
	"github.com/alfredjeanlab/listings/internal/logger"
	"github.com/alfredjeanlab/listings/internal/model"
	"github.com/alfredjeanlab/listings/internal/pipeline"
	"github.com/alfredjeanlab/listings/internal/store"
)

// Runner is the part of the orchestrator the API drives.
type Runner interface {
	Run(ctx context.Context) (*model.Summary, error)
	// Reserve claims the runner; the returned function performs the run.
	Reserve() (func(context.Context) (*model.Summary, error), error)
	Snapshot() pipeline.Status
}

// Options configure a Server. Store and Runner are required.
type Options struct {
	Store     store.Store
	Runner    Runner
	Metrics   http.Handler
	AuthToken string
	Logger    *logger.Logger
}

// Server serves the admin API.
type Server struct {
	store   store.Store
	runner  Runner
	metrics http.Handler
	token   string
	log     *logger.Logger
	sseHub  *sseHub

	// base outlives requests so a triggered run is not cancelled when the
	// client disconnects; Shutdown cancels it.
	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(opts Options) *Server {
	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}
	base, cancel := context.WithCancel(context.Background())
	return &Server{
		store:   opts.Store,
		runner:  opts.Runner,
		metrics: opts.Metrics,
		token:   opts.AuthToken,
		log:     log,
		sseHub:  newSSEHub(sseBacklog),
		base:    base,
		cancel:  cancel,
	}
}

// Shutdown cancels background runs and waits for them to report.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// startRun triggers a run in the background. The run is reserved before it
// returns, so of two concurrent triggers exactly one gets
// pipeline.ErrRunInProgress.
func (s *Server) startRun() error {
	run, err := s.runner.Reserve()
	if err != nil {
		return err
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if _, err := run(s.base); err != nil && !errors.Is(err, pipeline.ErrRunInProgress) {
			s.log.Error("triggered run failed", "error", err)
		}
	}()
	return nil
}

// Publisher returns a publisher that feeds the event stream and then
// forwards to next.
func (s *Server) Publisher(next events.Publisher) events.Publisher {
	if next == nil {
		next = &events.NoopPublisher{}
	}
	return &streamPublisher{server: s, next: next}
}

type streamPublisher struct {
	server *Server
	next   events.Publisher
}

func (p *streamPublisher) Publish(ctx context.Context, topic string, event any) error {
	p.server.broadcastEvent(topic, event)
	return p.next.Publish(ctx, topic, event)
}

func (p *streamPublisher) Close() error { return p.next.Close() }

// broadcastEvent fans out an event to SSE clients.
func (s *Server) broadcastEvent(topic string, event any) {
	payload, err := json.Marshal(event)
	if err != nil {
		s.log.Warn("failed to marshal event for SSE broadcast", "topic", topic, "error", err)
		return
	}
	s.sseHub.broadcast(topic, payload)
}
