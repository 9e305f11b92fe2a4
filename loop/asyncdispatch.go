package loop

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cortexlabs/cortex"
)

// dispatchEvidenceDescriptionLimit bounds the description embedded in the
// dispatch-evidence session row (spec.md §4.7 "truncated description") so
// one verbose task dump can't crowd the foreground conversation. The
// pending op itself keeps the full description.
const dispatchEvidenceDescriptionLimit = 120

// dispatchDescription is the shape async-tool args are expected to carry a
// human-readable description under — best-effort, falls back to the tool
// name if absent or unparseable.
type dispatchDescription struct {
	Description string `json:"description"`
	Task        string `json:"task"`
}

// truncate cuts s to at most n runes, marking the cut with an ellipsis.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}

func describe(name string, args json.RawMessage) string {
	var d dispatchDescription
	if len(args) > 0 {
		_ = json.Unmarshal(args, &d)
	}
	if d.Description != "" {
		return d.Description
	}
	if d.Task != "" {
		return d.Task
	}
	return name
}

// dispatchAsyncCalls implements spec.md §4.5 step 8: for each async
// (dispatch) tool call, Cortex generates the job id itself, writes a
// pending row before invoking the tool, appends a dispatch-evidence
// session row so the model sees its own action on the next turn, then
// invokes the tool's Dispatch with the pre-generated id. A rejected
// dispatch immediately fails the pending op.
func (l *Loop) dispatchAsyncCalls(ctx context.Context, env cortex.Envelope, calls []cortex.ToolCall) error {
	for _, call := range calls {
		if !l.cfg.Tools.IsAsync(call.Name) {
			continue
		}
		if err := l.dispatchOne(ctx, env, call); err != nil {
			return err
		}
	}
	return nil
}

func (l *Loop) dispatchOne(ctx context.Context, env cortex.Envelope, call cortex.ToolCall) error {
	jobID := cortex.NewID()
	description := describe(call.Name, call.Args)

	replyChannel := env.Reply.Channel
	if replyChannel == "" {
		replyChannel = env.Channel
	}

	op := cortex.PendingOp{
		ID:              jobID,
		Type:            cortex.PendingOpRouterJob,
		Description:     description,
		DispatchedAt:    cortex.Now(),
		ExpectedChannel: "router",
		ReplyChannel:    replyChannel,
	}
	if err := l.cfg.Sessions.AddPendingOp(ctx, op); err != nil {
		return fmt.Errorf("add pending op %s: %w", jobID, err)
	}

	evidence := fmt.Sprintf("[DISPATCHED] [TASK_ID]=%s, Message='%s', Status=Pending, Channel=%s, DispatchedAt=%s",
		jobID, truncate(description, dispatchEvidenceDescriptionLimit), replyChannel, op.DispatchedAt.Format(time.RFC3339))
	if _, err := l.cfg.Sessions.AppendMessage(ctx, cortex.SessionMessage{
		Role:      cortex.RoleAssistant,
		Channel:   env.Channel,
		SenderID:  "cortex",
		Content:   evidence,
		Timestamp: cortex.Now(),
	}); err != nil {
		return fmt.Errorf("append dispatch evidence %s: %w", jobID, err)
	}

	dispatch, err := l.cfg.Tools.DispatchAsync(ctx, jobID, call.Name, call.Args)
	if err != nil || !dispatch.Accepted {
		reason := "spawn rejected"
		if err != nil {
			reason = err.Error()
		}
		if failErr := l.cfg.Sessions.FailPendingOp(ctx, jobID, reason); failErr != nil {
			return fmt.Errorf("fail rejected pending op %s: %w", jobID, failErr)
		}
		l.cfg.Logger.Warn("loop: async dispatch rejected", "job_id", jobID, "tool", call.Name, "reason", reason)
	}
	return nil
}
