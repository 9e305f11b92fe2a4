package cron

import (
	"context"
	"testing"
	"time"

	"github.com/cortexlabs/cortex"
)

type fakeBus struct {
	enqueued []cortex.Envelope
}

func (b *fakeBus) Enqueue(ctx context.Context, e cortex.Envelope) (string, error) {
	b.enqueued = append(b.enqueued, e)
	return e.ID, nil
}
func (b *fakeBus) DequeueNext(ctx context.Context) (cortex.BusEntry, error) { return cortex.BusEntry{}, nil }
func (b *fakeBus) PeekPending(ctx context.Context) ([]cortex.BusEntry, error) { return nil, nil }
func (b *fakeBus) MarkProcessing(ctx context.Context, id string) error        { return nil }
func (b *fakeBus) MarkCompleted(ctx context.Context, id string) error         { return nil }
func (b *fakeBus) MarkFailed(ctx context.Context, id string, errText string) error { return nil }
func (b *fakeBus) CountPending(ctx context.Context) (int, error)              { return 0, nil }
func (b *fakeBus) PurgeCompleted(ctx context.Context, before time.Time) (int, error) { return 0, nil }
func (b *fakeBus) Checkpoint(ctx context.Context, data cortex.Checkpoint) (int64, error) { return 0, nil }
func (b *fakeBus) LoadLatestCheckpoint(ctx context.Context) (cortex.Checkpoint, error) {
	return cortex.Checkpoint{}, nil
}
func (b *fakeBus) ResetStalledMessages(ctx context.Context) (int, error) { return 0, nil }
func (b *fakeBus) DeleteOrphans(ctx context.Context) (int, error)        { return 0, nil }
func (b *fakeBus) Integrity(ctx context.Context) error                  { return nil }

func TestAdapterToEnvelopeIsBackgroundPriority(t *testing.T) {
	a := New(&fakeBus{}, time.Millisecond, nil)
	env, err := a.ToEnvelope(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("ToEnvelope: %v", err)
	}
	if env.Channel != ChannelID || env.Priority != cortex.PriorityBackground {
		t.Fatalf("unexpected envelope: %+v", env)
	}
	if env.Sender.Relationship != cortex.RelationSystem {
		t.Fatalf("expected system relationship, got %s", env.Sender.Relationship)
	}
}

func TestAdapterSendIsNoOp(t *testing.T) {
	a := New(&fakeBus{}, time.Millisecond, nil)
	if err := a.Send(context.Background(), cortex.OutputTarget{Channel: ChannelID}); err != nil {
		t.Fatalf("expected Send to no-op, got %v", err)
	}
}

func TestAdapterIsAlwaysAvailable(t *testing.T) {
	a := New(&fakeBus{}, time.Millisecond, nil)
	if !a.IsAvailable() {
		t.Fatal("expected cron adapter to always report available")
	}
}

func TestRunEnqueuesOnEveryTick(t *testing.T) {
	bus := &fakeBus{}
	a := New(bus, 5*time.Millisecond, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_ = a.Run(ctx)

	if len(bus.enqueued) < 2 {
		t.Fatalf("expected at least 2 ticks to have enqueued trigger envelopes, got %d", len(bus.enqueued))
	}
	for _, e := range bus.enqueued {
		if e.Channel != ChannelID {
			t.Fatalf("unexpected channel on enqueued envelope: %+v", e)
		}
	}
}
