package main

import (
	"context"
	"log/slog"

	"github.com/cortexlabs/cortex"
	"github.com/cortexlabs/cortex/internal/config"
)

// modeAdapter wraps a real cortex.Adapter with a configured ChannelMode
// (spec.md §6): off refuses inbound translation and reports unavailable;
// shadow still translates inbound envelopes but suppresses every Send;
// live passes both directions straight through.
type modeAdapter struct {
	inner  cortex.Adapter
	mode   config.ChannelMode
	logger *slog.Logger
}

func newModeAdapter(inner cortex.Adapter, mode config.ChannelMode, logger *slog.Logger) *modeAdapter {
	return &modeAdapter{inner: inner, mode: mode, logger: cortex.OrDiscard(logger)}
}

func (a *modeAdapter) ChannelID() string { return a.inner.ChannelID() }

func (a *modeAdapter) ToEnvelope(ctx context.Context, raw any, resolve cortex.SenderResolver) (cortex.Envelope, error) {
	if a.mode == config.ModeOff {
		return cortex.Envelope{}, &cortex.ErrInvalidState{Entity: "channel " + a.ChannelID(), From: "off", To: "ToEnvelope"}
	}
	return a.inner.ToEnvelope(ctx, raw, resolve)
}

func (a *modeAdapter) Send(ctx context.Context, target cortex.OutputTarget) error {
	switch a.mode {
	case config.ModeOff:
		return &cortex.ErrInvalidState{Entity: "channel " + a.ChannelID(), From: "off", To: "Send"}
	case config.ModeShadow:
		a.logger.Info("modeadapter: suppressed send in shadow mode", "channel", a.ChannelID())
		return nil
	default:
		return a.inner.Send(ctx, target)
	}
}

func (a *modeAdapter) IsAvailable() bool {
	return a.mode != config.ModeOff && a.inner.IsAvailable()
}

var _ cortex.Adapter = (*modeAdapter)(nil)
