// Package hooks runs an operator-supplied shell command after each ingestion
// run, for example to purge a CDN cache once listings have changed.
package hooks

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/alfredjeanlab/listings/internal/logger"
	"github.com/alfredjeanlab/listings/internal/model"
)

// Default and max timeout for hook commands.
const (
	DefaultTimeout = 30 * time.Second
	MaxTimeout     = 300 * time.Second
)

// Result holds the output of running a hook command.
type Result struct {
	Output string
	Err    error
}

// Execute runs command via "sh -c" with env overlaid on the process
// environment. Output is stdout, or stderr when stdout is empty.
func Execute(ctx context.Context, command string, timeout time.Duration, env map[string]string) Result {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	timeout = min(timeout, MaxTimeout)

	hookCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(hookCtx, "sh", "-c", command) //nolint:gosec // command comes from operator config
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	// Children of sh can hold the output pipes open after a kill.
	cmd.WaitDelay = time.Second
	cmd.Env = os.Environ()
	for k, v := range env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	err := cmd.Run()
	if hookCtx.Err() == context.DeadlineExceeded {
		err = fmt.Errorf("timed out after %s", timeout)
	}
	output := strings.TrimSpace(stdout.String())
	if output == "" {
		output = strings.TrimSpace(stderr.String())
	}
	return Result{Output: output, Err: err}
}

// RunEnv describes a finished run to a hook command.
func RunEnv(s *model.Summary) map[string]string {
	t := s.Totals()
	return map[string]string{
		"INGEST_RUN_ID":          s.RunID,
		"INGEST_RUN_STATUS":      s.Status(),
		"INGEST_RUN_EXIT_CODE":   strconv.Itoa(s.ExitCode()),
		"INGEST_RUN_SUCCEEDED":   strconv.Itoa(s.Succeeded()),
		"INGEST_RUN_SOURCES":     strconv.Itoa(len(s.Reports)),
		"INGEST_RUN_INSERTED":    strconv.Itoa(t.InsertedCount),
		"INGEST_RUN_UPDATED":     strconv.Itoa(t.UpdatedCount),
		"INGEST_RUN_DEACTIVATED": strconv.Itoa(t.DeactivatedCount),
	}
}

// AfterRun runs Command once per finished run.
type AfterRun struct {
	Command string
	Timeout time.Duration
	Logger  *logger.Logger
}

func (h *AfterRun) Run(ctx context.Context, s *model.Summary) error {
	res := Execute(ctx, h.Command, h.Timeout, RunEnv(s))
	if res.Err != nil {
		if res.Output != "" {
			return fmt.Errorf("after-run command: %w: %s", res.Err, res.Output)
		}
		return fmt.Errorf("after-run command: %w", res.Err)
	}
	if h.Logger != nil {
		h.Logger.Info("after-run command finished", "run_id", s.RunID, "output", res.Output)
	}
	return nil
}

// Chain calls every non-nil fn in order and joins their errors.
func Chain(fns ...func(context.Context, *model.Summary) error) func(context.Context, *model.Summary) error {
	var live []func(context.Context, *model.Summary) error
	for _, fn := range fns {
		if fn != nil {
			live = append(live, fn)
		}
	}
	if len(live) == 0 {
		return nil
	}
	return func(ctx context.Context, s *model.Summary) error {
		var errs []error
		for _, fn := range live {
			if err := fn(ctx, s); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}
}
