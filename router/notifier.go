package router

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cortexlabs/cortex"
)

// DeliveryCallback is invoked synchronously whenever a job is delivered,
// in addition to any waiters parked in WaitForJob. Used for the
// non-Cortex-issuer path: "appends a system-labelled message into the
// issuer's own conversation via a generic callback" (SPEC_FULL.md §4.10).
type DeliveryCallback func(job Job)

// FailureCallback is invoked synchronously whenever a job fails.
type FailureCallback func(jobID string, err error)

// Notifier is the Router's process-local, synchronous event bus: it
// delivers job:delivered/job:failed to subscribers in-process, the same
// turn the Worker finishes, with no external broker. Grounded on
// nevindra-oasis's in-process observer/tracer pattern (a single injected
// collaborator called directly, no queue of its own) generalized from
// tracing events to job lifecycle events.
type Notifier struct {
	mu        sync.Mutex
	waiters   map[string]chan Job
	onDeliver []DeliveryCallback
	onFail    []FailureCallback
}

// NewNotifier builds an empty Notifier.
func NewNotifier() *Notifier {
	return &Notifier{waiters: make(map[string]chan Job)}
}

// OnDelivered registers a callback invoked for every delivered job, after
// any parked WaitForJob is resolved.
func (n *Notifier) OnDelivered(cb DeliveryCallback) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.onDeliver = append(n.onDeliver, cb)
}

// OnFailed registers a callback invoked for every failed job.
func (n *Notifier) OnFailed(cb FailureCallback) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.onFail = append(n.onFail, cb)
}

// WaitForJob parks a synchronous caller until job id is delivered or
// timeout elapses, returning an error wrapping the context's deadline
// error on timeout.
func (n *Notifier) WaitForJob(ctx context.Context, id string, timeout time.Duration) (Job, error) {
	ch := make(chan Job, 1)
	n.mu.Lock()
	n.waiters[id] = ch
	n.mu.Unlock()

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	select {
	case job := <-ch:
		return job, nil
	case <-waitCtx.Done():
		n.mu.Lock()
		delete(n.waiters, id)
		n.mu.Unlock()
		return Job{}, fmt.Errorf("wait for job %s: %w", id, waitCtx.Err())
	}
}

// PublishDelivered resolves any parked waiter for job.ID and invokes every
// registered delivery callback, in that order.
func (n *Notifier) PublishDelivered(job Job) {
	n.mu.Lock()
	ch, waiting := n.waiters[job.ID]
	delete(n.waiters, job.ID)
	callbacks := append([]DeliveryCallback(nil), n.onDeliver...)
	n.mu.Unlock()

	if waiting {
		ch <- job
	}
	for _, cb := range callbacks {
		cb(job)
	}
}

// PublishFailed invokes every registered failure callback for jobID.
func (n *Notifier) PublishFailed(jobID string, err error) {
	n.mu.Lock()
	callbacks := append([]FailureCallback(nil), n.onFail...)
	n.mu.Unlock()

	for _, cb := range callbacks {
		cb(jobID, err)
	}
}

// CortexDelivery builds the delivery callback required for IssuerCortex
// jobs: write the result into Cortex's pending-ops row via CompletePendingOp,
// then enqueue a synthetic ops-trigger envelope onto the Cortex bus so the
// Loop wakes up and surfaces it (SPEC_FULL.md §4.10 delivery contract).
// Jobs from any other issuer are ignored — wire GenericDelivery for those.
func CortexDelivery(bus cortex.Bus, sessions cortex.SessionStore, replyChannel func(job Job) string) DeliveryCallback {
	return func(job Job) {
		if job.Issuer != IssuerCortex {
			return
		}
		ctx := context.Background()
		if err := sessions.CompletePendingOp(ctx, job.ID, job.Result); err != nil {
			return
		}
		channel := replyChannel(job)
		if channel == "" {
			channel = "router"
		}
		_, _ = bus.Enqueue(ctx, cortex.Envelope{
			ID:       cortex.NewID(),
			Channel:  "router",
			Priority: cortex.PriorityNormal,
			Metadata: cortex.NewOpsTriggerMetadata(job.ID),
			Reply:    cortex.ReplyContext{Channel: channel},
		})
	}
}

// CortexFailureDelivery is CortexDelivery's failure-path counterpart:
// writes the error into the pending op via FailPendingOp, then re-enters
// the bus the same way so the Loop surfaces the failure on its next turn.
func CortexFailureDelivery(bus cortex.Bus, sessions cortex.SessionStore, replyChannel func(jobID string) string) FailureCallback {
	return func(jobID string, jobErr error) {
		ctx := context.Background()
		if err := sessions.FailPendingOp(ctx, jobID, jobErr.Error()); err != nil {
			return
		}
		channel := replyChannel(jobID)
		if channel == "" {
			channel = "router"
		}
		_, _ = bus.Enqueue(ctx, cortex.Envelope{
			ID:       cortex.NewID(),
			Channel:  "router",
			Priority: cortex.PriorityNormal,
			Metadata: cortex.NewOpsTriggerMetadata(jobID),
			Reply:    cortex.ReplyContext{Channel: channel},
		})
	}
}

// GenericDelivery appends a system-labelled message into a non-Cortex
// issuer's own conversation, per SPEC_FULL.md §4.10's "generic callback"
// fallback path.
func GenericDelivery(append func(issuer, content string)) DeliveryCallback {
	return func(job Job) {
		if job.Issuer == IssuerCortex {
			return
		}
		append(job.Issuer, fmt.Sprintf("[TASK_RESULT] %s", job.Result))
	}
}
