package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron"
	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/listings/internal/metrics"
	"github.com/alfredjeanlab/listings/internal/model"
	"github.com/alfredjeanlab/listings/internal/pipeline"
	"github.com/alfredjeanlab/listings/internal/server"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Short:   "Run ingestions on a schedule and serve the admin API",
	GroupID: "ingest",
	Long: `Starts the admin HTTP server and runs an ingestion on INGEST_SCHEDULE
("@every 6h", "@daily" or a six-field cron spec with seconds). Runs can also
be triggered with POST /v1/runs. Replicas share one run lock.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		runNow, _ := cmd.Flags().GetBool("run-now")

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, appOptions{needSources: true})
		if err != nil {
			return err
		}
		defer a.close()
		log := a.log

		var schedule cron.Schedule
		if a.cfg.Schedule != "" {
			schedule, err = cron.Parse(a.cfg.Schedule)
			if err != nil {
				return fmt.Errorf("INGEST_SCHEDULE: %w", err)
			}
		}

		nats, err := a.publisher()
		if err != nil {
			return err
		}
		locker, err := a.locker(ctx)
		if err != nil {
			return err
		}
		m := metrics.New()

		// The server is built before the orchestrator so run events can feed
		// its event stream; the runner is attached below.
		var orch *pipeline.Orchestrator
		runner := &lazyRunner{get: func() *pipeline.Orchestrator { return orch }}
		srv := server.New(server.Options{
			Store:     a.store,
			Runner:    runner,
			Metrics:   m.Handler(),
			AuthToken: a.cfg.AuthToken,
			Logger:    log.With("component", "http"),
		})

		deps := orchestratorDeps{publisher: srv.Publisher(nats), metrics: m, locker: locker}
		deps.afterRun, err = a.afterRun(ctx, a.cfg.ExportAfterRun)
		if err != nil {
			return err
		}
		orch, err = a.orchestrator(deps)
		if err != nil {
			return err
		}

		scheduled := func() {
			if _, err := orch.Run(ctx); err != nil {
				if errors.Is(err, pipeline.ErrRunInProgress) {
					log.Info("scheduled run skipped: another run is active")
					return
				}
				log.Error("scheduled run failed", "error", err)
			}
		}

		var c *cron.Cron
		if schedule != nil {
			c = cron.New()
			c.Schedule(schedule, cron.FuncJob(scheduled))
			c.Start()
			log.Info("scheduler started", "schedule", a.cfg.Schedule, "next", schedule.Next(time.Now()))
		} else {
			log.Info("scheduler disabled (INGEST_SCHEDULE empty)")
		}
		if runNow {
			go scheduled()
		}

		httpServer := &http.Server{
			Addr:              a.cfg.HTTPAddr,
			Handler:           srv.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		serveErr := make(chan error, 1)
		go func() {
			log.Info("HTTP server listening", "addr", a.cfg.HTTPAddr)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErr <- err
			}
		}()

		select {
		case <-ctx.Done():
			log.Info("received signal, shutting down")
		case err := <-serveErr:
			log.Error("HTTP server error", "error", err)
		}

		if c != nil {
			c.Stop()
			log.Info("scheduler stopped")
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.CommitTimeout+10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown error", "error", err)
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("triggered runs did not finish", "error", err)
		}
		log.Info("shutdown complete")
		return nil
	},
}

// lazyRunner defers to the orchestrator once it exists.
type lazyRunner struct {
	get func() *pipeline.Orchestrator
}

func (r *lazyRunner) Run(ctx context.Context) (*model.Summary, error) {
	o := r.get()
	if o == nil {
		return nil, pipeline.ErrRunInProgress
	}
	return o.Run(ctx)
}

func (r *lazyRunner) Reserve() (func(context.Context) (*model.Summary, error), error) {
	o := r.get()
	if o == nil {
		return nil, pipeline.ErrRunInProgress
	}
	return o.Reserve()
}

func (r *lazyRunner) Snapshot() pipeline.Status {
	o := r.get()
	if o == nil {
		return pipeline.Status{State: pipeline.StateIdle}
	}
	return o.Snapshot()
}

func init() {
	serveCmd.Flags().Bool("run-now", false, "start a run immediately instead of waiting for the schedule")
}
