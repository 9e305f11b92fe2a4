package cortex

import "context"

// OutputTarget is one destination the output router resolved from a
// model's reply, ready to hand to an adapter's Send.
type OutputTarget struct {
	Channel string
	Content string
	Reply   ReplyContext
}

// Adapter is the contract every channel transport (webchat, WhatsApp,
// Telegram, cron) must satisfy. See SPEC_FULL.md §6.
type Adapter interface {
	// ChannelID returns this adapter's stable channel identifier.
	ChannelID() string

	// ToEnvelope produces a well-formed Envelope from the transport's raw
	// message shape, choosing priority from the sender's relationship
	// (partner → urgent; non-partner direct → normal; group-non-partner →
	// normal; system/cron → background) and filling reply context exactly
	// so the output router can reply to the originating conversation.
	ToEnvelope(ctx context.Context, raw any, resolve SenderResolver) (Envelope, error)

	// Send delivers target to the transport. Cron-style, inbound-only
	// channels may no-op.
	Send(ctx context.Context, target OutputTarget) error

	// IsAvailable reports whether the transport is currently usable.
	IsAvailable() bool
}

// SenderResolver resolves a transport-raw sender id into a Sender record.
// See SPEC_FULL.md §6 "Sender resolver contract".
type SenderResolver func(ctx context.Context, channel, rawSenderID, displayName string) (Sender, error)

// AdapterRegistry looks up a registered Adapter by channel id.
type AdapterRegistry struct {
	adapters map[string]Adapter
}

// NewAdapterRegistry returns an empty registry.
func NewAdapterRegistry() *AdapterRegistry {
	return &AdapterRegistry{adapters: make(map[string]Adapter)}
}

// Register adds or replaces the adapter for its ChannelID.
func (r *AdapterRegistry) Register(a Adapter) {
	r.adapters[a.ChannelID()] = a
}

// Get returns the adapter registered for channel, or (nil, false).
func (r *AdapterRegistry) Get(channel string) (Adapter, bool) {
	a, ok := r.adapters[channel]
	return a, ok
}
