// Package router implements the Router: the secondary complexity-routed
// job queue described in SPEC_FULL.md §4.10 — evaluator, dispatcher,
// worker, and notifier, plus a watchdog-based recovery model.
//
// The Router is a second Bus-shaped queue with its own durability
// discipline but a different pipeline: jobs are enqueued by an issuer
// (Cortex's Loop, or any other internal caller), evaluated for complexity,
// dispatched to a model tier, executed, and delivered back through a
// process-local notifier. Grounded on cortex_bus's state-machine shape
// (storage/sqlite/bus.go) generalized from four states to six, and on
// jordigilh-kubernaut's circuit-breaker-wrapped executor call.
package router

import (
	"encoding/json"
	"time"
)

// Status is a Router job's lifecycle state.
type Status string

const (
	StatusInQueue    Status = "in_queue"
	StatusEvaluating Status = "evaluating"
	StatusPending    Status = "pending"
	StatusInExecution Status = "in_execution"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// IsValid reports whether s is one of the six defined job statuses.
func (s Status) IsValid() bool {
	switch s {
	case StatusInQueue, StatusEvaluating, StatusPending, StatusInExecution, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether s is a delivered-or-dead end state.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Tier is the model tier a job is dispatched to, selected by the
// Dispatcher from the Evaluator's complexity weight.
type Tier string

const (
	TierHaiku  Tier = "haiku"
	TierSonnet Tier = "sonnet"
	TierOpus   Tier = "opus"
)

// IsValid reports whether t is one of the three defined tiers.
func (t Tier) IsValid() bool {
	switch t {
	case TierHaiku, TierSonnet, TierOpus:
		return true
	}
	return false
}

// IssuerCortex is the issuer key the Loop's async dispatch path stamps on
// every job it enqueues. The Notifier's delivery callback treats this
// issuer specially: it must write into the Cortex pending-ops table and
// re-enter the Cortex bus rather than push directly into any channel
// (SPEC_FULL.md §4.10 "Delivery contract").
const IssuerCortex = "cortex"

// Job is one unit of Router work, id PK, through to delivery and archive.
type Job struct {
	ID             string          `json:"id"`
	Type           string          `json:"type"`
	Status         Status          `json:"status"`
	Weight         int             `json:"weight,omitempty"`
	Tier           Tier            `json:"tier,omitempty"`
	Issuer         string          `json:"issuer"`
	Payload        json.RawMessage `json:"payload"`
	Result         string          `json:"result,omitempty"`
	Error          string          `json:"error,omitempty"`
	RetryCount     int             `json:"retry_count"`
	WorkerID       string          `json:"worker_id,omitempty"`
	LastCheckpoint time.Time       `json:"last_checkpoint"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	StartedAt      *time.Time      `json:"started_at,omitempty"`
	FinishedAt     *time.Time      `json:"finished_at,omitempty"`
	DeliveredAt    *time.Time      `json:"delivered_at,omitempty"`
}

// Payload is the tagged shape this package interprets out of Job.Payload
// (SPEC_FULL.md §9 "dynamic maps → tagged records"): task description and
// free-form context/constraints forwarded into the executor prompt
// template opaquely.
type Payload struct {
	Task        string `json:"task"`
	Context     string `json:"context,omitempty"`
	Constraints string `json:"constraints,omitempty"`
}

// DecodePayload unmarshals j.Payload into the tagged Payload shape.
func (j Job) DecodePayload() (Payload, error) {
	var p Payload
	if len(j.Payload) == 0 {
		return p, nil
	}
	err := json.Unmarshal(j.Payload, &p)
	return p, err
}

// EncodePayload marshals p into a Job's opaque payload bytes.
func EncodePayload(p Payload) json.RawMessage {
	b, _ := json.Marshal(p)
	return b
}
