package router

import (
	"context"
	"log/slog"
	"time"

	"github.com/cortexlabs/cortex"
)

// RecoveryReport summarizes what Router startup recovery found and fixed.
type RecoveryReport struct {
	Recovered int
	Failed    int
}

// maxHangRetries bounds how many times a hung job is retried before it is
// permanently failed (spec.md §4.10: "retry_count < 2").
const maxHangRetries = 2

const hangFailureReason = "gateway crash: max retries exceeded"

// Recover runs on process start, mirroring Recovery's bus-stalled-row
// sweep (recovery.go) against the jobs table instead: jobs stuck
// mid-evaluation go back to in_queue, and jobs whose last checkpoint
// predates hangThreshold are retried (if under maxHangRetries) or
// permanently failed and redelivered as a failure.
func Recover(ctx context.Context, store Store, notifier *Notifier, hangThreshold time.Duration, logger *slog.Logger) (RecoveryReport, error) {
	logger = cortex.OrDiscard(logger)
	var report RecoveryReport

	recovered, err := store.ResetEvaluatingToQueue(ctx)
	if err != nil {
		return report, err
	}
	report.Recovered += recovered

	stale, err := store.StaleInExecution(ctx, cortex.Now().Add(-hangThreshold))
	if err != nil {
		return report, err
	}
	for _, job := range stale {
		if job.RetryCount < maxHangRetries {
			if err := store.ResetToPending(ctx, job.ID); err != nil {
				logger.Warn("router recovery: reset to pending failed", "job_id", job.ID, "error", err)
				continue
			}
			report.Recovered++
			continue
		}
		if err := store.Fail(ctx, job.ID, hangFailureReason); err != nil {
			logger.Warn("router recovery: fail hung job failed", "job_id", job.ID, "error", err)
			continue
		}
		notifier.PublishFailed(job.ID, &cortex.ErrInvalidState{Entity: "router job", From: "in_execution", To: "failed"})
		report.Failed++
	}

	logger.Info("router recovery complete", "recovered", report.Recovered, "failed", report.Failed)
	return report, nil
}

// Watchdog periodically re-applies Recover's stale-in-execution rule
// while the process runs, catching hangs that happen after startup
// (spec.md §4.10: "same rule as recovery applied continuously").
type Watchdog struct {
	store         Store
	notifier      *Notifier
	hangThreshold time.Duration
	tick          time.Duration
	settleDelay   time.Duration
	logger        *slog.Logger
}

// NewWatchdog builds a Watchdog. tick <= 0 defaults to 30s, hangThreshold
// <= 0 defaults to 90s (spec.md §4.10's worked example).
func NewWatchdog(store Store, notifier *Notifier, hangThreshold, tick time.Duration, logger *slog.Logger) *Watchdog {
	if hangThreshold <= 0 {
		hangThreshold = 90 * time.Second
	}
	if tick <= 0 {
		tick = 30 * time.Second
	}
	return &Watchdog{
		store:         store,
		notifier:      notifier,
		hangThreshold: hangThreshold,
		tick:          tick,
		settleDelay:   2 * time.Second,
		logger:        cortex.OrDiscard(logger),
	}
}

// Run ticks until ctx is cancelled, resetting-to-pending after a small
// settle delay so in-flight writers can flush (spec.md §4.10: "do so
// after a small delay so writers can flush").
func (w *Watchdog) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			time.Sleep(w.settleDelay)
			if _, err := Recover(ctx, w.store, w.notifier, w.hangThreshold, w.logger); err != nil {
				w.logger.Error("router watchdog: sweep failed", "error", err)
			}
		}
	}
}
