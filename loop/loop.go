// Package loop implements the Processing Loop: the single-threaded,
// cooperative pipeline that pulls one envelope off the Bus at a time,
// assembles its context, runs the model (with a bounded synchronous tool
// round-trip and async dispatch hand-off), routes the reply, and
// checkpoints.
//
// Grounded on nevindra-oasis's loop.go runLoop: serial iteration bound by
// a max-round count, a tool-call round-trip that re-calls the model with
// results appended, a bounded worker pool for concurrent tool dispatch
// with panic recovery, and forced synthesis when the round bound is hit.
// Cortex generalizes that single agent's tool loop into a bus-turn
// pipeline with a second, asynchronous dispatch path the original loop
// did not have.
package loop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cortexlabs/cortex"
	"github.com/cortexlabs/cortex/contextassembler"
)

// taskUpdateSentinel is the session row appended for an ops-trigger turn,
// keeping the foreground ending on a user-role row (spec.md §4.5 step 4).
const taskUpdateSentinel = "[Task update available]"

// silenceMarker is appended to the session log when the model's turn
// produces no reply at all (spec.md §4.5 step 12).
const silenceMarker = "[silence]"

// defaultMaxToolRounds bounds the synchronous tool round-trip, matching
// the teacher's maxIter forced-synthesis pattern (loop.go).
const defaultMaxToolRounds = 5

// defaultPollInterval is how often the loop checks an empty Bus again.
const defaultPollInterval = 2 * time.Second

// maxParallelDispatch bounds the worker pool used to execute concurrent
// synchronous tool calls within one round (loop.go's maxParallelDispatch).
const maxParallelDispatch = 4

// Config wires every collaborator the Loop needs. Bus, Sessions, Assembler,
// Tools, Model, and Adapters are required; everything else has a default.
type Config struct {
	Bus       cortex.Bus
	Sessions  cortex.SessionStore
	Assembler *contextassembler.Assembler
	Tools     *cortex.ToolRegistry
	Model     cortex.ModelFunc
	Adapters  *cortex.AdapterRegistry

	HippocampusEnabled bool
	MaxTokens          int
	MaxToolRounds      int
	PollInterval       time.Duration

	Logger *slog.Logger
	Tracer cortex.Tracer
}

// Loop runs the Processing Loop described in spec.md §4.5.
type Loop struct {
	cfg Config
}

// New builds a Loop, applying defaults to any zero-valued optional Config
// fields.
func New(cfg Config) *Loop {
	if cfg.MaxToolRounds <= 0 {
		cfg.MaxToolRounds = defaultMaxToolRounds
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 8000
	}
	cfg.Logger = cortex.OrDiscard(cfg.Logger)
	return &Loop{cfg: cfg}
}

// Run ticks the Loop until ctx is cancelled: dequeue, process, and
// immediately dequeue the next envelope; when the Bus is empty, wait
// PollInterval before trying again.
func (l *Loop) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		entry, err := l.cfg.Bus.DequeueNext(ctx)
		if err != nil {
			var notFound *cortex.ErrNotFound
			if errors.As(err, &notFound) {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(l.cfg.PollInterval):
				}
				continue
			}
			l.cfg.Logger.Error("loop: dequeue failed", "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(l.cfg.PollInterval):
			}
			continue
		}

		if err := l.processTurn(ctx, entry); err != nil {
			l.cfg.Logger.Error("loop: turn failed", "envelope_id", entry.Envelope.ID, "error", err)
			if markErr := l.cfg.Bus.MarkFailed(ctx, entry.Envelope.ID, err.Error()); markErr != nil {
				l.cfg.Logger.Error("loop: mark failed errored", "envelope_id", entry.Envelope.ID, "error", markErr)
			}
		}
	}
}

// processTurn runs one full per-turn pipeline (spec.md §4.5 steps 2–15).
func (l *Loop) processTurn(ctx context.Context, entry cortex.BusEntry) error {
	var span cortex.Span
	if l.cfg.Tracer != nil {
		ctx, span = l.cfg.Tracer.Start(ctx, "loop.turn", cortex.StringAttr("envelope_id", entry.Envelope.ID))
		defer span.End()
	}

	env := entry.Envelope
	isOpsTrigger := env.IsOpsTrigger()

	// A turn that fails before step 11 still notifies completion.
	notified := false
	defer func() {
		if !notified {
			l.notifyCompletion(env, nil)
		}
	}()

	// Step 2.
	if err := l.cfg.Bus.MarkProcessing(ctx, env.ID); err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}

	// Step 4.
	if err := l.appendTrigger(ctx, env, isOpsTrigger); err != nil {
		return fmt.Errorf("append trigger: %w", err)
	}

	// Step 5.
	if !isOpsTrigger {
		if err := l.touchChannelState(ctx, env); err != nil {
			return fmt.Errorf("update channel state: %w", err)
		}
	}

	// Step 6.
	assembled, err := l.cfg.Assembler.Assemble(ctx, env, l.cfg.MaxTokens, l.cfg.HippocampusEnabled, isOpsTrigger)
	if err != nil {
		return fmt.Errorf("assemble context: %w", err)
	}

	// Step 7: model call with bounded synchronous tool round-trip.
	resp, err := l.runModelRounds(ctx, env, assembled, isOpsTrigger)
	if err != nil {
		return fmt.Errorf("model round-trip: %w", err)
	}

	// Step 8: async dispatch. Suppressed entirely for ops triggers.
	if !isOpsTrigger {
		if err := l.dispatchAsyncCalls(ctx, env, resp.ToolCalls); err != nil {
			l.cfg.Logger.Warn("loop: async dispatch error", "envelope_id", env.ID, "error", err)
		}
	}

	// Step 9.
	replyCtx := env.Reply
	if isOpsTrigger {
		if op, err := l.replyContextForJob(ctx, env); err == nil {
			replyCtx = op
		} else {
			l.cfg.Logger.Warn("loop: no reply channel for ops trigger", "envelope_id", env.ID, "error", err)
		}
	}
	targets := cortex.ParseOutput(resp.Content, replyCtx)

	// Step 10.
	cortex.Route(ctx, targets, l.cfg.Adapters, func(t cortex.OutputTarget, err error) {
		l.cfg.Logger.Warn("loop: route failed", "channel", t.Channel, "error", err)
	}, l.cfg.Logger)

	// Step 11: completion notification always fires, even on silence.
	l.notifyCompletion(env, targets)
	notified = true

	// Step 12.
	if err := l.appendReply(ctx, env, targets); err != nil {
		return fmt.Errorf("append reply: %w", err)
	}

	// Step 13.
	if _, err := l.cfg.Sessions.CopyAndDeleteTerminalOps(ctx); err != nil {
		return fmt.Errorf("copy terminal ops: %w", err)
	}

	// Step 14.
	if err := l.cfg.Bus.MarkCompleted(ctx, env.ID); err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}

	// Step 15.
	if err := l.writeCheckpoint(ctx); err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}

	return nil
}

func (l *Loop) appendTrigger(ctx context.Context, env cortex.Envelope, isOpsTrigger bool) error {
	if isOpsTrigger {
		_, err := l.cfg.Sessions.AppendMessage(ctx, cortex.SessionMessage{
			EnvelopeID: env.ID,
			Role:       cortex.RoleUser,
			Channel:    env.Channel,
			SenderID:   cortex.OpsSenderID,
			Content:    taskUpdateSentinel,
			Timestamp:  cortex.Now(),
		})
		return err
	}
	_, err := l.cfg.Sessions.AppendMessage(ctx, cortex.SessionMessage{
		EnvelopeID: env.ID,
		Role:       cortex.RoleUser,
		Channel:    env.Channel,
		SenderID:   env.Sender.ID,
		Content:    env.Content,
		Timestamp:  env.Timestamp,
	})
	return err
}

func (l *Loop) touchChannelState(ctx context.Context, env cortex.Envelope) error {
	cs, err := l.cfg.Sessions.GetChannelState(ctx, env.Channel)
	var notFound *cortex.ErrNotFound
	if err != nil && !errors.As(err, &notFound) {
		return err
	}
	cs.Channel = env.Channel
	cs.Layer = cortex.LayerForeground
	cs.LastMessageAt = cortex.Now()
	cs.UnreadCount++
	return l.cfg.Sessions.UpsertChannelState(ctx, cs)
}

func (l *Loop) replyContextForJob(ctx context.Context, env cortex.Envelope) (cortex.ReplyContext, error) {
	jobID := env.OpsTriggerJobID()
	if jobID == "" {
		return cortex.ReplyContext{}, fmt.Errorf("ops trigger %s carries no job id", env.ID)
	}
	op, err := l.cfg.Sessions.GetPendingOp(ctx, jobID)
	if err != nil {
		return cortex.ReplyContext{}, err
	}
	channel := op.ReplyChannel
	if channel == "" {
		channel = op.ExpectedChannel
	}
	return cortex.ReplyContext{Channel: channel}, nil
}

func (l *Loop) notifyCompletion(env cortex.Envelope, targets []cortex.OutputTarget) {
	l.cfg.Logger.Info("loop: turn complete", "envelope_id", env.ID, "targets", len(targets))
}

func (l *Loop) appendReply(ctx context.Context, env cortex.Envelope, targets []cortex.OutputTarget) error {
	if len(targets) == 0 {
		_, err := l.cfg.Sessions.AppendMessage(ctx, cortex.SessionMessage{
			EnvelopeID: env.ID,
			Role:       cortex.RoleAssistant,
			Channel:    env.Channel,
			SenderID:   "cortex",
			Content:    silenceMarker,
			Timestamp:  cortex.Now(),
		})
		return err
	}
	for _, t := range targets {
		if _, err := l.cfg.Sessions.AppendMessage(ctx, cortex.SessionMessage{
			EnvelopeID: env.ID,
			Role:       cortex.RoleAssistant,
			Channel:    t.Channel,
			SenderID:   "cortex",
			Content:    t.Content,
			Timestamp:  cortex.Now(),
		}); err != nil {
			return err
		}
	}
	return nil
}

func (l *Loop) writeCheckpoint(ctx context.Context) error {
	states, err := l.cfg.Sessions.ChannelStates(ctx)
	if err != nil {
		return err
	}
	ops, err := l.cfg.Sessions.GetPendingOps(ctx)
	if err != nil {
		return err
	}
	_, err = l.cfg.Bus.Checkpoint(ctx, cortex.Checkpoint{
		ChannelStates: states,
		PendingOps:    ops,
	})
	return err
}
