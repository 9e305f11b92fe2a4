package cortex

import (
	"encoding/json"
	"time"
)

// Priority orders envelopes within the Bus. Lower-weight priorities are
// dequeued first; within a priority, FIFO by EnqueuedAt applies.
type Priority string

const (
	PriorityUrgent     Priority = "urgent"
	PriorityNormal     Priority = "normal"
	PriorityBackground Priority = "background"
)

// rank returns the dequeue ordering weight for p: lower sorts first.
func (p Priority) rank() int {
	switch p {
	case PriorityUrgent:
		return 0
	case PriorityNormal:
		return 1
	case PriorityBackground:
		return 2
	default:
		return 3
	}
}

// IsValid reports whether p is one of the three defined priorities.
func (p Priority) IsValid() bool {
	switch p {
	case PriorityUrgent, PriorityNormal, PriorityBackground:
		return true
	}
	return false
}

// Relationship classifies the sender of an envelope relative to the system
// owner. The channel adapter's SenderResolver assigns this.
type Relationship string

const (
	RelationPartner  Relationship = "partner"
	RelationInternal Relationship = "internal"
	RelationExternal Relationship = "external"
	RelationSystem   Relationship = "system"
)

// Sender identifies who produced an envelope.
type Sender struct {
	ID           string       `json:"id"`
	DisplayName  string       `json:"display_name"`
	Relationship Relationship `json:"relationship"`
}

// ReplyContext carries everything needed to address a reply back to the
// conversation an envelope originated from.
type ReplyContext struct {
	Channel   string `json:"channel"`
	ThreadID  string `json:"thread_id,omitempty"`
	MessageID string `json:"message_id,omitempty"`
	AccountID string `json:"account_id,omitempty"`
}

// Attachment is an opaque piece of binary content carried alongside an
// envelope's text (an image, a file, audio).
type Attachment struct {
	Name     string `json:"name"`
	MIMEType string `json:"mime_type"`
	Data     []byte `json:"data"`
}

// metaOpsTrigger and metaJobID are the only two metadata keys the core
// itself interprets; everything else in Metadata is forwarded opaquely to
// adapters and tools. See SPEC_FULL.md §3.1 ("dynamic maps → tagged
// records").
const (
	metaOpsTrigger = "ops_trigger"
	metaJobID      = "job_id"
)

// Envelope is the canonical in-flight unit representing one inbound (or
// synthetic) message. Immutable after creation.
type Envelope struct {
	ID          string          `json:"id"`
	Channel     string          `json:"channel"`
	Sender      Sender          `json:"sender"`
	Timestamp   time.Time       `json:"timestamp"`
	Reply       ReplyContext    `json:"reply"`
	Content     string          `json:"content"`
	Priority    Priority        `json:"priority"`
	Attachments []Attachment    `json:"attachments,omitempty"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
}

// IsOpsTrigger reports whether this envelope is the synthetic wake-up
// posted when a pending op reaches a terminal state (spec.md §4.5 step 3).
func (e Envelope) IsOpsTrigger() bool {
	var m struct {
		OpsTrigger bool `json:"ops_trigger"`
	}
	if len(e.Metadata) == 0 {
		return false
	}
	_ = json.Unmarshal(e.Metadata, &m)
	return m.OpsTrigger
}

// NewOpsTriggerMetadata builds the metadata bag for a synthetic ops-trigger
// envelope referencing the pending op that just completed or failed.
func NewOpsTriggerMetadata(jobID string) json.RawMessage {
	b, _ := json.Marshal(map[string]any{metaOpsTrigger: true, metaJobID: jobID})
	return b
}

// OpsTriggerJobID extracts the pending-op id an ops-trigger envelope
// references. Empty if e is not an ops trigger or carries no job id.
func (e Envelope) OpsTriggerJobID() string {
	var m struct {
		JobID string `json:"job_id"`
	}
	if len(e.Metadata) == 0 {
		return ""
	}
	_ = json.Unmarshal(e.Metadata, &m)
	return m.JobID
}

// BusState is a Bus entry's lifecycle state.
type BusState string

const (
	BusPending    BusState = "pending"
	BusProcessing BusState = "processing"
	BusCompleted  BusState = "completed"
	BusFailed     BusState = "failed"
)

// IsValid reports whether s is one of the four defined bus states.
func (s BusState) IsValid() bool {
	switch s {
	case BusPending, BusProcessing, BusCompleted, BusFailed:
		return true
	}
	return false
}

// BusEntry pairs an Envelope with its queue tracking fields.
type BusEntry struct {
	Envelope     Envelope
	State        BusState
	EnqueuedAt   time.Time
	ProcessedAt  *time.Time
	Attempts     int
	Error        string
	CheckpointID *int64
}
