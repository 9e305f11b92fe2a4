package cortex

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
)

// NoReply and HeartbeatOK are the wire-compatible silence sentinels. They
// must match exactly, after trimming, case-sensitive — this is public
// protocol between model and loop (SPEC_FULL.md §6, §9).
const (
	NoReply     = "NO_REPLY"
	HeartbeatOK = "HEARTBEAT_OK"
)

var (
	sendToPattern  = regexp.MustCompile(`\[\[send_to:([^\]]+)\]\]`)
	replyToCurrent = "[[reply_to_current]]"
)

// ParseOutput recognizes the model's reply forms, in priority order:
//   - NO_REPLY / HEARTBEAT_OK (exact match after trim) → zero targets.
//   - one or more [[send_to:<channel>]] directives → one target per
//     directive, stripped of the directive text.
//   - otherwise → exactly one target addressed to trigger's reply channel.
//
// A bare [[reply_to_current]] tag is stripped with no other effect.
func ParseOutput(reply string, trigger ReplyContext) []OutputTarget {
	trimmed := strings.TrimSpace(reply)
	if trimmed == NoReply || trimmed == HeartbeatOK {
		return nil
	}

	reply = strings.ReplaceAll(reply, replyToCurrent, "")

	matches := sendToPattern.FindAllStringSubmatchIndex(reply, -1)
	if len(matches) == 0 {
		return []OutputTarget{{
			Channel: trigger.Channel,
			Content: strings.TrimSpace(reply),
			Reply:   trigger,
		}}
	}

	var targets []OutputTarget
	for i, m := range matches {
		channel := reply[m[2]:m[3]]
		start := m[1]
		end := len(reply)
		if i+1 < len(matches) {
			end = matches[i+1][0]
		}
		content := strings.TrimSpace(reply[start:end])

		target := OutputTarget{Channel: channel, Content: content}
		if channel == trigger.Channel {
			target.Reply = trigger
		} else {
			target.Reply = ReplyContext{Channel: channel}
		}
		targets = append(targets, target)
	}
	return targets
}

// Route dispatches each target to the adapter matching target.Channel. If
// no adapter is registered, or Send fails, onError is invoked and sibling
// targets still get attempted — this is never fatal to the turn
// (SPEC_FULL.md §4.8, §7).
func Route(ctx context.Context, targets []OutputTarget, registry *AdapterRegistry, onError func(target OutputTarget, err error), logger *slog.Logger) {
	if logger == nil {
		logger = discardLogger()
	}
	for _, t := range targets {
		adapter, ok := registry.Get(t.Channel)
		if !ok {
			err := &ErrNotFound{Entity: "adapter", ID: t.Channel}
			logger.Warn("output route: no adapter registered", "channel", t.Channel)
			if onError != nil {
				onError(t, err)
			}
			continue
		}
		if err := adapter.Send(ctx, t); err != nil {
			logger.Warn("output route: send failed", "channel", t.Channel, "error", err)
			if onError != nil {
				onError(t, err)
			}
		}
	}
}
