// Package scheduler runs the escalation pass on a recurring cron schedule.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/dukex/refund-approvals/pkg/log"
)

// Job is one escalation pass.
type Job func(ctx context.Context) error

// EscalationScheduler invokes a Job on a cron schedule. Overlapping ticks are skipped while a
// pass is still running, and a panicking pass is recovered and logged.
type EscalationScheduler struct {
	spec   string
	job    Job
	logger *slog.Logger

	mu     sync.Mutex
	cron   *cron.Cron
	cancel context.CancelFunc
}

// NewEscalationScheduler validates spec, e.g. "@every 5m" or "*/5 * * * *".
func NewEscalationScheduler(spec string, job Job, logger *slog.Logger) (*EscalationScheduler, error) {
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("invalid escalation schedule '%s': %w", spec, err)
	}

	if job == nil {
		return nil, errors.New("escalation job is required")
	}

	return &EscalationScheduler{
		spec:   spec,
		job:    job,
		logger: logger.With("module", "escalation_scheduler"),
	}, nil
}

// Start schedules the job. Passes run with a context derived from ctx that is cancelled by Stop
// only after the in-flight pass has drained.
func (s *EscalationScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		return errors.New("escalation scheduler already started")
	}

	cronLogger := slogAdapter{logger: s.logger}

	c := cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cronLogger),
		cron.Recover(cronLogger),
	))

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	if _, err := c.AddFunc(s.spec, func() { s.run(runCtx) }); err != nil {
		cancel()

		return fmt.Errorf("failed to add escalation job: %w", err)
	}

	c.Start()

	s.cron = c
	s.cancel = cancel

	s.logger.InfoContext(ctx, "Escalation scheduler started", "schedule", s.spec)

	return nil
}

// run executes one pass with a pass-scoped logger in its context.
func (s *EscalationScheduler) run(ctx context.Context) {
	started := time.Now()
	logger := s.logger.With("pass_id", uuid.NewString())
	ctx = log.WithLogger(ctx, logger)

	if err := s.job(ctx); err != nil {
		logger.ErrorContext(ctx, "Escalation pass failed", "error", err)

		return
	}

	logger.DebugContext(ctx, "Escalation pass finished", "duration", time.Since(started))
}

// Stop stops scheduling new passes and waits for the running one. If ctx ends first, the running
// pass is cancelled and ctx's error is returned.
func (s *EscalationScheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	c, cancel := s.cron, s.cancel
	s.cron, s.cancel = nil, nil
	s.mu.Unlock()

	if c == nil {
		return nil
	}

	defer cancel()

	select {
	case <-c.Stop().Done():
		s.logger.InfoContext(ctx, "Escalation scheduler stopped")

		return nil
	case <-ctx.Done():
		s.logger.WarnContext(ctx, "Escalation scheduler stop timed out, cancelling running pass")

		return ctx.Err()
	}
}

// slogAdapter satisfies cron.Logger.
type slogAdapter struct {
	logger *slog.Logger
}

func (a slogAdapter) Info(msg string, keysAndValues ...interface{}) {
	a.logger.Debug(msg, keysAndValues...)
}

func (a slogAdapter) Error(err error, msg string, keysAndValues ...interface{}) {
	a.logger.Error(msg, append(keysAndValues, "error", err)...)
}
