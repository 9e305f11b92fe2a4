// Package cron implements an internal, inbound-only cortex.Adapter that
// ticks on a fixed interval and enqueues a synthetic trigger envelope —
// the channel used for scheduled/background work (SPEC_FULL.md §6.1).
// Grounded on nevindra-oasis's scheduler.go ticker loop, generalized from
// "poll the store for due actions" to "enqueue one trigger envelope per
// tick" since due-action bookkeeping belongs to whatever tool reacts to
// the trigger, not to the adapter itself.
package cron

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cortexlabs/cortex"
)

const ChannelID = "cron"

// Adapter is a ticker-driven, Send-is-a-no-op cortex.Adapter.
type Adapter struct {
	bus      cortex.Bus
	interval time.Duration
	logger   *slog.Logger
}

// New builds a cron Adapter that enqueues a trigger envelope onto bus
// every interval. interval <= 0 defaults to 60s, matching the teacher's
// scheduler poll cadence.
func New(bus cortex.Bus, interval time.Duration, logger *slog.Logger) *Adapter {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	return &Adapter{bus: bus, interval: interval, logger: cortex.OrDiscard(logger)}
}

func (a *Adapter) ChannelID() string { return ChannelID }

// ToEnvelope builds the fixed system/background-priority trigger envelope
// this adapter emits; raw and resolve are unused since cron has no
// transport-level sender to resolve.
func (a *Adapter) ToEnvelope(ctx context.Context, raw any, resolve cortex.SenderResolver) (cortex.Envelope, error) {
	return cortex.Envelope{
		ID:       cortex.NewID(),
		Channel:  ChannelID,
		Sender:   cortex.Sender{ID: "cortex:cron", DisplayName: "cron", Relationship: cortex.RelationSystem},
		Priority: cortex.PriorityBackground,
		Content:  "[[cron_tick]]",
		Reply:    cortex.ReplyContext{Channel: ChannelID},
	}, nil
}

// Send is a no-op: cron is inbound only, per spec.md §6's "cron-style
// channels may no-op on send since they are inbound only".
func (a *Adapter) Send(ctx context.Context, target cortex.OutputTarget) error {
	return nil
}

func (a *Adapter) IsAvailable() bool { return true }

// Run ticks every a.interval until ctx is cancelled, enqueueing one
// trigger envelope per tick.
func (a *Adapter) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			env, _ := a.ToEnvelope(ctx, nil, nil)
			if _, err := a.bus.Enqueue(ctx, env); err != nil {
				a.logger.Warn("cron: enqueue trigger failed", "error", fmt.Sprint(err))
			}
		}
	}
}

var _ cortex.Adapter = (*Adapter)(nil)
