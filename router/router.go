package router

import (
	"context"
	"log/slog"
	"time"

	"github.com/cortexlabs/cortex"
)

// Config wires every collaborator a Router needs.
type Config struct {
	Store      Store
	Evaluator  *Evaluator
	Dispatcher *Dispatcher
	Worker     *Worker
	Notifier   *Notifier

	RetryDelay   time.Duration
	PollInterval time.Duration
	Logger       *slog.Logger
	Tracer       cortex.Tracer
}

// Router runs the evaluate → dispatch → execute pipeline described in
// spec.md §4.10, symmetric in shape to loop.Loop but against the jobs
// table instead of the Bus.
type Router struct {
	cfg Config
}

// New builds a Router, applying defaults to zero-valued optional fields.
func New(cfg Config) *Router {
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 5 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 1 * time.Second
	}
	cfg.Logger = cortex.OrDiscard(cfg.Logger)
	return &Router{cfg: cfg}
}

// Notifier returns the Notifier this Router publishes deliveries on, so a
// caller can share it with a standalone Recover or Watchdog run.
func (r *Router) Notifier() *Notifier { return r.cfg.Notifier }

// Enqueue creates a new in_queue job with a core-generated id and returns
// it, mirroring the Bus's "caller owns the id" contract.
func (r *Router) Enqueue(ctx context.Context, issuer, jobType string, payload Payload) (string, error) {
	return r.EnqueueWithID(ctx, cortex.NewID(), issuer, jobType, payload)
}

// EnqueueWithID creates a new in_queue job under a caller-supplied id. Used
// by the Cortex AsyncTool path, where the Loop generates and owns the job
// id before the Router ever sees it (SPEC_FULL.md §9 "Ownership of the
// task id").
func (r *Router) EnqueueWithID(ctx context.Context, id, issuer, jobType string, payload Payload) (string, error) {
	job := Job{
		ID:        id,
		Type:      jobType,
		Status:    StatusInQueue,
		Issuer:    issuer,
		Payload:   EncodePayload(payload),
		CreatedAt: cortex.Now(),
		UpdatedAt: cortex.Now(),
	}
	return r.cfg.Store.Enqueue(ctx, job)
}

// Run ticks the Router until ctx is cancelled: each tick evaluates one
// freshly queued job, dispatches one evaluated job to a tier, and
// dequeues one due retry, executing it without re-evaluating.
func (r *Router) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		didWork := false
		if r.tickEvaluate(ctx) {
			didWork = true
		}
		if r.tickDispatch(ctx) {
			didWork = true
		}
		if r.tickRetry(ctx) {
			didWork = true
		}

		if !didWork {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(r.cfg.PollInterval):
			}
		}
	}
}

func (r *Router) tickEvaluate(ctx context.Context) bool {
	job, err := r.cfg.Store.DequeueNext(ctx)
	if err != nil {
		return false
	}

	var span cortex.Span
	if r.cfg.Tracer != nil {
		ctx, span = r.cfg.Tracer.Start(ctx, "router.evaluate", cortex.StringAttr("job_id", job.ID))
		defer span.End()
	}

	payload, err := job.DecodePayload()
	if err != nil {
		r.cfg.Logger.Warn("router: bad payload", "job_id", job.ID, "error", err)
	}
	eval := r.cfg.Evaluator.Evaluate(ctx, payload.Task)
	if err := r.cfg.Store.SetEvaluated(ctx, job.ID, eval.Weight); err != nil {
		r.cfg.Logger.Error("router: set evaluated failed", "job_id", job.ID, "error", err)
	}
	return true
}

func (r *Router) tickDispatch(ctx context.Context) bool {
	job, err := r.cfg.Store.DequeueForDispatch(ctx)
	if err != nil {
		return false
	}
	r.dispatch(ctx, job)
	return true
}

func (r *Router) tickRetry(ctx context.Context) bool {
	job, err := r.cfg.Store.DequeueRetry(ctx, r.cfg.RetryDelay)
	if err != nil {
		return false
	}
	r.execute(ctx, job)
	return true
}

func (r *Router) dispatch(ctx context.Context, job Job) {
	var span cortex.Span
	if r.cfg.Tracer != nil {
		ctx, span = r.cfg.Tracer.Start(ctx, "router.dispatch", cortex.StringAttr("job_id", job.ID))
		defer span.End()
	}

	tier := r.cfg.Dispatcher.SelectTier(job.Weight)
	if err := r.cfg.Store.SetTierAndExecuting(ctx, job.ID, tier); err != nil {
		r.cfg.Logger.Error("router: set tier failed", "job_id", job.ID, "error", err)
		return
	}
	job.Tier = tier
	job.Status = StatusInExecution
	r.execute(ctx, job)
}

// execute invokes the Worker fire-and-forget (spec.md §4.10's "invokes the
// executor in fire-and-forget fashion"): the caller does not block
// waiting for delivery, it moves on to the next tick.
func (r *Router) execute(ctx context.Context, job Job) {
	payload, err := job.DecodePayload()
	if err != nil {
		r.cfg.Logger.Warn("router: bad payload at execute", "job_id", job.ID, "error", err)
	}
	prompt := r.cfg.Dispatcher.RenderPrompt(payload, job.Issuer)
	model := r.cfg.Dispatcher.ModelFor(job.Tier)
	go r.cfg.Worker.Execute(context.WithoutCancel(ctx), job, model, prompt)
}

