package router

import (
	"context"
	"time"
)

// Store owns the Router's live jobs table and its archive, independent of
// Cortex's Bus/SessionStore (SPEC_FULL.md §4 "Ownership"). A sqlite-backed
// implementation lives in storage/sqlite/router.go, sharing the same
// single-writer *sql.DB as the rest of the system.
type Store interface {
	// Enqueue creates a row with status in_queue and returns job.ID.
	Enqueue(ctx context.Context, job Job) (string, error)

	// DequeueNext returns the oldest in_queue row and transitions it to
	// evaluating, or ErrNotFound if none is waiting.
	DequeueNext(ctx context.Context) (Job, error)

	// DequeueRetry returns the oldest pending row whose tier is already
	// set and whose UpdatedAt is older than retryDelay, transitioning it
	// to in_execution. Used for jobs the watchdog reset after a hang,
	// skipping the evaluator since they were already tiered once.
	// Returns ErrNotFound if none is due.
	DequeueRetry(ctx context.Context, retryDelay time.Duration) (Job, error)

	// DequeueForDispatch returns the oldest pending row with no tier set
	// yet (freshly evaluated), leaving its status unchanged; the caller
	// moves it to in_execution via SetTierAndExecuting. Returns ErrNotFound
	// if none.
	DequeueForDispatch(ctx context.Context) (Job, error)

	// SetEvaluated records the evaluator's weight and moves the row from
	// evaluating to pending.
	SetEvaluated(ctx context.Context, id string, weight int) error

	// SetTierAndExecuting records the dispatcher's tier choice and moves
	// the row from pending to in_execution.
	SetTierAndExecuting(ctx context.Context, id string, tier Tier) error

	// Touch refreshes LastCheckpoint for an in-execution row so the
	// watchdog does not mistake live work for a hang.
	Touch(ctx context.Context, id string) error

	// Complete transitions an in_execution row to completed with result
	// text and a finish timestamp.
	Complete(ctx context.Context, id, result string) error

	// Fail transitions a row to failed with an error string and a finish
	// timestamp.
	Fail(ctx context.Context, id, errText string) error

	// ResetToPending moves an in_execution row back to pending, bumping
	// retry count and refreshing UpdatedAt so DequeueRetry's delay window
	// applies before it is picked up again. Used by recovery/watchdog.
	ResetToPending(ctx context.Context, id string) error

	// ResetEvaluatingToQueue moves every evaluating row back to in_queue
	// (recovery rule for a crash mid-evaluation). Returns the count reset.
	ResetEvaluatingToQueue(ctx context.Context) (int, error)

	// StaleInExecution returns in_execution rows whose LastCheckpoint is
	// older than cutoff — candidates for the hang rule.
	StaleInExecution(ctx context.Context, cutoff time.Time) ([]Job, error)

	// Archive copies the row to the archive table (stamping DeliveredAt)
	// and deletes it from the live table.
	Archive(ctx context.Context, id string) error

	// GetJob fetches one live job by id, or ErrNotFound.
	GetJob(ctx context.Context, id string) (Job, error)
}
