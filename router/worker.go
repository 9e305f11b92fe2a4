package router

import (
	"context"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"github.com/cortexlabs/cortex"
)

// Executor invokes one tier's model with prompt and returns the result
// text. Callers inject a concrete implementation (wrapping ModelFunc or
// any other backend); the Router never calls a provider SDK directly.
type Executor func(ctx context.Context, prompt, model string) (string, error)

// Worker executes jobs the Dispatcher has tiered, emitting job:delivered
// or job:failed on the Notifier's event bus. Grounded on
// jordigilh-kubernaut's circuit-breaker-wrapped delivery call
// (test/integration/notification/suite_test.go): one breaker trips after
// a run of consecutive failures and short-circuits further calls with a
// distinct error instead of letting them hang into the watchdog's
// stale-checkpoint window (SPEC_FULL.md §5.1).
type Worker struct {
	store    Store
	executor Executor
	notifier *Notifier
	breakers map[Tier]*gobreaker.CircuitBreaker[string]
	timeout  time.Duration
}

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

// WithExecutorTimeout bounds one executor call. Default 5 minutes
// (spec.md §5's "Router executor has its own timeout, e.g. 5 minutes").
func WithExecutorTimeout(d time.Duration) WorkerOption {
	return func(w *Worker) { w.timeout = d }
}

// WithBreakerSettings overrides the default per-tier circuit breaker
// settings.
func WithBreakerSettings(settings gobreaker.Settings) WorkerOption {
	return func(w *Worker) {
		for tier := range w.breakers {
			s := settings
			s.Name = string(tier)
			w.breakers[tier] = gobreaker.NewCircuitBreaker[string](s)
		}
	}
}

// NewWorker builds a Worker with one circuit breaker per tier.
func NewWorker(store Store, executor Executor, notifier *Notifier, opts ...WorkerOption) *Worker {
	w := &Worker{
		store:    store,
		executor: executor,
		notifier: notifier,
		breakers: make(map[Tier]*gobreaker.CircuitBreaker[string], 3),
		timeout:  5 * time.Minute,
	}
	for _, tier := range []Tier{TierHaiku, TierSonnet, TierOpus} {
		w.breakers[tier] = gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
			Name:        string(tier),
			MaxRequests: 1,
			Interval:    30 * time.Second,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
		})
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Execute runs job (already tiered, status in_execution) through the
// breaker-wrapped executor and delivers the outcome: on success, marks
// the job completed and publishes job:delivered; on failure — including a
// short-circuited breaker — marks it failed and publishes job:failed.
// Fire-and-forget from the Dispatcher's perspective: the caller does not
// block on delivery.
func (w *Worker) Execute(ctx context.Context, job Job, model, prompt string) {
	execCtx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	// Refresh LastCheckpoint while the executor call is in flight so the
	// watchdog's stale-checkpoint rule only catches a genuine hang, not a
	// legitimately long-running call under w.timeout.
	stopTouch := make(chan struct{})
	go w.touchLoop(execCtx, job.ID, stopTouch)
	defer close(stopTouch)

	breaker := w.breakers[job.Tier]
	result, err := breaker.Execute(func() (string, error) {
		return w.executor(execCtx, prompt, model)
	})

	if err != nil {
		errText := err.Error()
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			errText = (&cortex.ErrCircuitOpen{Tier: string(job.Tier)}).Error()
		}
		if failErr := w.store.Fail(ctx, job.ID, errText); failErr != nil {
			w.notifier.PublishFailed(job.ID, fmt.Errorf("fail job %s: %w (original: %s)", job.ID, failErr, errText))
			return
		}
		if archiveErr := w.store.Archive(ctx, job.ID); archiveErr != nil {
			w.notifier.PublishFailed(job.ID, fmt.Errorf("archive failed job %s: %w (original: %s)", job.ID, archiveErr, errText))
			return
		}
		w.notifier.PublishFailed(job.ID, fmt.Errorf("%s", errText))
		return
	}

	if completeErr := w.store.Complete(ctx, job.ID, result); completeErr != nil {
		w.notifier.PublishFailed(job.ID, fmt.Errorf("complete job %s: %w", job.ID, completeErr))
		return
	}
	finished, getErr := w.store.GetJob(ctx, job.ID)
	if getErr != nil {
		w.notifier.PublishFailed(job.ID, fmt.Errorf("reload completed job %s: %w", job.ID, getErr))
		return
	}
	// Archive moves j out of the live jobs table and stamps its archive row's
	// delivered_at; job:delivered must not fire until that has happened, so
	// the §8 "present in archive, absent from live jobs" invariant holds the
	// instant subscribers observe the event.
	deliveredAt := cortex.Now()
	if archiveErr := w.store.Archive(ctx, job.ID); archiveErr != nil {
		w.notifier.PublishFailed(job.ID, fmt.Errorf("archive completed job %s: %w", job.ID, archiveErr))
		return
	}
	finished.DeliveredAt = &deliveredAt
	w.notifier.PublishDelivered(finished)
}

// touchLoop refreshes job id's checkpoint every touchInterval until stop
// is closed or ctx is done.
func (w *Worker) touchLoop(ctx context.Context, id string, stop <-chan struct{}) {
	ticker := time.NewTicker(touchInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = w.store.Touch(ctx, id)
		}
	}
}

// touchInterval is comfortably inside the 90s default hang threshold.
const touchInterval = 20 * time.Second
