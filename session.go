package cortex

import (
	"context"
	"encoding/json"
	"time"
)

// Role is the speaker of one session message row.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// SessionMessage is one row in the unified conversation log — a turn-half,
// appended by the Loop as envelopes arrive and responses are produced.
type SessionMessage struct {
	ID         int64           `json:"id"`
	EnvelopeID string          `json:"envelope_id,omitempty"`
	Role       Role            `json:"role"`
	Channel    string          `json:"channel"`
	SenderID   string          `json:"sender_id"`
	Content    string          `json:"content"`
	Timestamp  time.Time       `json:"timestamp"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
}

// AttentionLayer classifies how much of a channel's traffic is surfaced in
// the assembled context.
type AttentionLayer string

const (
	LayerForeground AttentionLayer = "foreground"
	LayerBackground AttentionLayer = "background"
	LayerArchived   AttentionLayer = "archived"
)

// IsValid reports whether l is one of the three defined attention layers.
func (l AttentionLayer) IsValid() bool {
	switch l {
	case LayerForeground, LayerBackground, LayerArchived:
		return true
	}
	return false
}

// ChannelState is the per-channel record tracking recency, unread count,
// a rolling summary, and the channel's current attention layer.
type ChannelState struct {
	Channel       string         `json:"channel"`
	LastMessageAt time.Time      `json:"last_message_at"`
	UnreadCount   int            `json:"unread_count"`
	Summary       string         `json:"summary,omitempty"`
	Layer         AttentionLayer `json:"layer"`
}

// PendingOpType classifies what kind of async work a pending op tracks.
type PendingOpType string

const (
	PendingOpRouterJob  PendingOpType = "router_job"
	PendingOpSubagent   PendingOpType = "subagent"
	PendingOpCronTask   PendingOpType = "cron_task"
)

// PendingOpStatus is a pending operation's lifecycle state.
type PendingOpStatus string

const (
	PendingOpPending   PendingOpStatus = "pending"
	PendingOpCompleted PendingOpStatus = "completed"
	PendingOpFailed    PendingOpStatus = "failed"
)

// IsValid reports whether s is one of the three defined pending-op statuses.
func (s PendingOpStatus) IsValid() bool {
	switch s {
	case PendingOpPending, PendingOpCompleted, PendingOpFailed:
		return true
	}
	return false
}

// PendingOp tracks one asynchronously dispatched task from creation through
// to the turn that reads and archives its terminal result. Its id is
// generated by the core, never by the Router (see §9 "Ownership of the task
// id" in SPEC_FULL.md).
type PendingOp struct {
	ID             string          `json:"id"`
	Type           PendingOpType   `json:"type"`
	Description    string          `json:"description"`
	DispatchedAt   time.Time       `json:"dispatched_at"`
	ExpectedChannel string         `json:"expected_channel"`
	Status         PendingOpStatus `json:"status"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
	Result         string          `json:"result,omitempty"`
	ReplyChannel   string          `json:"reply_channel,omitempty"`
	ResultPriority Priority        `json:"result_priority,omitempty"`
}

// cortex:ops is the fixed sender id stamped on session rows produced by
// CopyAndDeleteTerminalOps (spec.md §8 invariant).
const OpsSenderID = "cortex:ops"

// SessionStore owns the session log, channel states, and pending-ops table.
// One process, one writer — see SPEC_FULL.md §5.
type SessionStore interface {
	// AppendMessage appends one session row and returns its assigned id.
	AppendMessage(ctx context.Context, msg SessionMessage) (int64, error)

	// History fetches session rows for channel (empty = all channels),
	// optionally bounded by a before cutoff, in ascending timestamp then
	// ascending id order, limited to limit rows (0 = unlimited).
	History(ctx context.Context, channel string, before *time.Time, limit int) ([]SessionMessage, error)

	// UpsertChannelState creates the channel row on first reference and
	// updates lifecycle fields (last-message time, unread count, summary)
	// on subsequent calls. The layer field is the only field any other
	// component may mutate after creation — see SetChannelLayer.
	UpsertChannelState(ctx context.Context, cs ChannelState) error

	// ChannelStates returns every known channel's current state.
	ChannelStates(ctx context.Context) ([]ChannelState, error)

	// GetChannelState fetches one channel's state, or ErrNotFound.
	GetChannelState(ctx context.Context, channel string) (ChannelState, error)

	// SetChannelLayer mutates only the attention layer of an existing
	// channel row.
	SetChannelLayer(ctx context.Context, channel string, layer AttentionLayer) error

	// AddPendingOp inserts a new pending operation row.
	AddPendingOp(ctx context.Context, op PendingOp) error

	// CompletePendingOp transitions a pending op to completed with a
	// result string.
	CompletePendingOp(ctx context.Context, id, resultText string) error

	// FailPendingOp transitions a pending op to failed with an error
	// string, only if it is still pending.
	FailPendingOp(ctx context.Context, id, errorText string) error

	// GetPendingOp fetches one pending op by id, or ErrNotFound.
	GetPendingOp(ctx context.Context, id string) (PendingOp, error)

	// GetPendingOps returns every row in the pending-ops table.
	GetPendingOps(ctx context.Context) ([]PendingOp, error)

	// CopyAndDeleteTerminalOps copies each completed/failed row to a
	// session assistant row tagged [TASK_RESULT] or [TASK_FAILED] on the
	// op's reply channel with sender id OpsSenderID, then deletes the
	// pending-ops row. Returns the count moved.
	CopyAndDeleteTerminalOps(ctx context.Context) (int, error)
}
