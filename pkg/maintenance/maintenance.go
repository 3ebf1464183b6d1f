// Package maintenance runs the periodic housekeeping jobs of the API process.
package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gymops/automation/pkg/ledger"
	"github.com/gymops/automation/pkg/metrics"
	"github.com/gymops/automation/pkg/models"
	"github.com/robfig/cron/v3"
)

// StaleReason is recorded on executions the reaper fails.
const StaleReason = "execution stalled"

// Sweeper drops expired rate limit windows; *ratelimit.MemoryStore implements it.
type Sweeper interface {
	Sweep() int
}

// Reaper fails executions that have been running for longer than MaxAge. Their
// process most likely died before it could finalize them.
type Reaper struct {
	ledger *ledger.Ledger
	maxAge time.Duration
	logger *slog.Logger
	now    func() time.Time
}

func NewReaper(ledger *ledger.Ledger, maxAge time.Duration, logger *slog.Logger) *Reaper {
	return &Reaper{
		ledger: ledger,
		maxAge: maxAge,
		logger: logger.With("module", "reaper"),
		now:    time.Now,
	}
}

// Run finalizes every stale execution and returns how many it failed.
func (r *Reaper) Run(ctx context.Context) (int, error) {
	cutoff := r.now().Add(-r.maxAge)

	stale, err := r.ledger.Stale(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("list stale executions: %w", err)
	}

	reaped := 0

	for _, execution := range stale {
		won, err := r.ledger.Finalize(ctx, execution.ID, models.ExecutionStatusFailed, StaleReason)
		if err != nil {
			r.logger.ErrorContext(ctx, "Failed to reap execution", "execution_id", execution.ID, "error", err)

			continue
		}

		if !won {
			continue
		}

		reaped++

		metrics.StaleExecutionsReaped.Inc()

		r.logger.WarnContext(ctx, "Reaped stale execution",
			"execution_id", execution.ID,
			"tenant_id", execution.TenantID,
			"workflow_id", execution.WorkflowID,
			"started_at", execution.StartedAt)
	}

	return reaped, nil
}

// Scheduler wraps a cron instance whose jobs log through slog.
type Scheduler struct {
	cron   *cron.Cron
	logger *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

func NewScheduler(logger *slog.Logger) *Scheduler {
	logger = logger.With("module", "maintenance")
	cronLog := cronLogger{logger: logger}

	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		cron: cron.New(cron.WithChain(
			cron.SkipIfStillRunning(cronLog),
			cron.Recover(cronLog),
		), cron.WithLogger(cronLog)),
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Add registers a job under a standard cron spec or a "@every" descriptor.
func (s *Scheduler) Add(name, spec string, job func(ctx context.Context)) error {
	_, err := s.cron.AddFunc(spec, func() {
		s.logger.DebugContext(s.ctx, "Running maintenance job", "job", name)
		job(s.ctx)
	})
	if err != nil {
		return fmt.Errorf("schedule %s: %w", name, err)
	}

	return nil
}

// AddSweep schedules the rate limit window sweep.
func (s *Scheduler) AddSweep(spec string, sweeper Sweeper) error {
	return s.Add("ratelimit_sweep", spec, func(ctx context.Context) {
		if removed := sweeper.Sweep(); removed > 0 {
			s.logger.DebugContext(ctx, "Swept expired rate limit windows", "removed", removed)
		}
	})
}

// AddReaper schedules the stale execution reaper.
func (s *Scheduler) AddReaper(spec string, reaper *Reaper) error {
	return s.Add("stale_reaper", spec, func(ctx context.Context) {
		if _, err := reaper.Run(ctx); err != nil {
			s.logger.ErrorContext(ctx, "Stale execution reaper failed", "error", err)
		}
	})
}

func (s *Scheduler) Start() {
	s.logger.Info("Starting maintenance jobs", "jobs", len(s.cron.Entries()))
	s.cron.Start()
}

// Stop cancels running jobs and waits for them until ctx ends.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.cancel()

	done := s.cron.Stop()

	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
