package cortex

import (
	"context"
	"time"
)

// Checkpoint is written at the end of every completed turn, letting
// Recovery (§4.9) report a last-known-good snapshot on restart.
type Checkpoint struct {
	ID              int64     `json:"id"`
	CreatedAt       time.Time `json:"created_at"`
	SessionSnapshot string    `json:"session_snapshot"`
	ChannelStates   []ChannelState `json:"channel_states"`
	PendingOps      []PendingOp    `json:"pending_ops"`
}

// Bus is the durable, priority-ordered, crash-durable envelope queue. See
// SPEC_FULL.md §4.1 for the full state-machine contract.
type Bus interface {
	// Enqueue creates a pending row for e and returns e.ID. Fails if a row
	// with that id already exists; idempotent dedupe is the caller's
	// responsibility.
	Enqueue(ctx context.Context, e Envelope) (string, error)

	// DequeueNext returns the highest-priority pending entry (priority
	// ascending rank, enqueue time ascending), or ErrNotFound if the queue
	// is empty. Does not mutate state.
	DequeueNext(ctx context.Context) (BusEntry, error)

	// PeekPending returns all pending entries in dequeue order.
	PeekPending(ctx context.Context) ([]BusEntry, error)

	// MarkProcessing transitions id from pending to processing and
	// increments its attempt counter. No-op if the entry is not pending.
	MarkProcessing(ctx context.Context, id string) error

	// MarkCompleted transitions id from processing to completed and sets
	// its processed timestamp.
	MarkCompleted(ctx context.Context, id string) error

	// MarkFailed transitions id from processing to failed, sets its
	// processed timestamp, and stores errText.
	MarkFailed(ctx context.Context, id string, errText string) error

	// CountPending returns the number of pending entries.
	CountPending(ctx context.Context) (int, error)

	// PurgeCompleted deletes completed entries processed before cutoff.
	PurgeCompleted(ctx context.Context, before time.Time) (int, error)

	// Checkpoint inserts a checkpoint row and returns its id.
	Checkpoint(ctx context.Context, data Checkpoint) (int64, error)

	// LoadLatestCheckpoint returns the most recently written checkpoint,
	// or ErrNotFound if none exists.
	LoadLatestCheckpoint(ctx context.Context) (Checkpoint, error)

	// ResetStalledMessages resets every processing entry back to pending
	// (used by Recovery on startup). Returns the count reset.
	ResetStalledMessages(ctx context.Context) (int, error)

	// DeleteOrphans removes entries whose state value falls outside the
	// allowed set. Returns the count removed.
	DeleteOrphans(ctx context.Context) (int, error)

	// Integrity runs the backing store's integrity check.
	Integrity(ctx context.Context) error
}
