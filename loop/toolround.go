package loop

import (
	"context"
	"fmt"
	"sync"

	"github.com/cortexlabs/cortex"
	"github.com/cortexlabs/cortex/contextassembler"
)

// runModelRounds performs the bounded synchronous tool round-trip of
// spec.md §4.5 step 7: call the model, execute any synchronous tool calls
// against local state, append results, and re-call — up to MaxToolRounds
// times. Async (dispatch) tool calls in the final response are left for
// the caller to hand off.
func (l *Loop) runModelRounds(ctx context.Context, env cortex.Envelope, assembled contextassembler.AssembledContext, isOpsTrigger bool) (cortex.ChatResponse, error) {
	messages := buildMessages(assembled)
	tools := l.offeredTools(isOpsTrigger)

	var resp cortex.ChatResponse
	for round := 0; round < l.cfg.MaxToolRounds; round++ {
		var err error
		resp, err = l.cfg.Model(ctx, cortex.ChatRequest{Messages: messages, Tools: tools})
		if err != nil {
			return cortex.ChatResponse{}, fmt.Errorf("model call (round %d): %w", round, err)
		}

		syncCalls, _ := l.partitionToolCalls(resp.ToolCalls, isOpsTrigger)
		if len(syncCalls) == 0 {
			return resp, nil
		}

		messages = append(messages, cortex.ChatMessage{Role: "assistant", Content: resp.Content, ToolCalls: resp.ToolCalls})
		for _, result := range l.dispatchSyncCalls(ctx, syncCalls) {
			content := result.Content
			if result.Error != "" {
				content = "error: " + result.Error
			}
			messages = append(messages, cortex.ToolResultMessage(result.callID, content))
		}
	}

	// Forced synthesis: one final call with tool-calling disabled, matching
	// the teacher's "max iterations reached, forcing synthesis" path.
	l.cfg.Logger.Warn("loop: max tool rounds reached, forcing synthesis", "envelope_id", env.ID, "rounds", l.cfg.MaxToolRounds)
	messages = append(messages, cortex.SystemMessage("Tool round limit reached. Respond now with your final answer; do not call any more tools."))
	final, err := l.cfg.Model(ctx, cortex.ChatRequest{Messages: messages})
	if err != nil {
		return cortex.ChatResponse{}, fmt.Errorf("forced synthesis call: %w", err)
	}
	return final, nil
}

// offeredTools returns the tool definitions advertised to the model this
// turn. Ops-trigger turns suppress the async dispatch tool so the model
// cannot re-dispatch the task it is about to acknowledge (spec.md §4.5
// step 6).
func (l *Loop) offeredTools(isOpsTrigger bool) []cortex.ToolDefinition {
	all := l.cfg.Tools.AllDefinitions()
	if !isOpsTrigger {
		return all
	}
	var filtered []cortex.ToolDefinition
	for _, d := range all {
		if !l.cfg.Tools.IsAsync(d.Name) {
			filtered = append(filtered, d)
		}
	}
	return filtered
}

// partitionToolCalls splits a response's tool calls into sync and async
// buckets. When isOpsTrigger is true, any async call the model issued
// anyway (it was not offered the tool, but nothing stops it from naming
// one) is dropped rather than honored.
func (l *Loop) partitionToolCalls(calls []cortex.ToolCall, isOpsTrigger bool) (sync, async []cortex.ToolCall) {
	for _, c := range calls {
		if l.cfg.Tools.IsAsync(c.Name) {
			if !isOpsTrigger {
				async = append(async, c)
			}
			continue
		}
		sync = append(sync, c)
	}
	return sync, async
}

func buildMessages(assembled contextassembler.AssembledContext) []cortex.ChatMessage {
	var messages []cortex.ChatMessage
	if floor := assembled.Layer(contextassembler.LayerSystemFloor); floor != "" {
		messages = append(messages, cortex.SystemMessage(floor))
	}
	if background := assembled.Layer(contextassembler.LayerBackground); background != "" {
		messages = append(messages, cortex.SystemMessage(background))
	}
	for _, msg := range assembled.ForegroundMessages {
		role := "user"
		if msg.Role == cortex.RoleAssistant {
			role = "assistant"
		}
		messages = append(messages, cortex.ChatMessage{Role: role, Content: msg.Content})
	}
	return messages
}

type syncResult struct {
	callID  string
	Content string
	Error   string
}

// dispatchSyncCalls executes calls concurrently through a bounded worker
// pool with panic recovery, grounded on the teacher's dispatchParallel /
// safeDispatch (loop.go): single calls run inline, multiple calls share a
// fixed pool of min(len(calls), maxParallelDispatch) workers, and results
// come back in the same order as the input calls.
func (l *Loop) dispatchSyncCalls(ctx context.Context, calls []cortex.ToolCall) []syncResult {
	if len(calls) == 1 {
		return []syncResult{l.safeExecute(ctx, calls[0])}
	}

	type indexed struct {
		idx    int
		result syncResult
	}
	workCh := make(chan int, len(calls))
	resultCh := make(chan indexed, len(calls))
	for i := range calls {
		workCh <- i
	}
	close(workCh)

	numWorkers := len(calls)
	if numWorkers > maxParallelDispatch {
		numWorkers = maxParallelDispatch
	}
	var wg sync.WaitGroup
	wg.Add(numWorkers)
	for w := 0; w < numWorkers; w++ {
		go func() {
			defer wg.Done()
			for idx := range workCh {
				resultCh <- indexed{idx: idx, result: l.safeExecute(ctx, calls[idx])}
			}
		}()
	}
	go func() {
		wg.Wait()
		close(resultCh)
	}()

	results := make([]syncResult, len(calls))
	for r := range resultCh {
		results[r.idx] = r.result
	}
	return results
}

// safeExecute wraps ToolRegistry.ExecuteSync with panic recovery so one
// misbehaving tool cannot crash the turn.
func (l *Loop) safeExecute(ctx context.Context, call cortex.ToolCall) (res syncResult) {
	res.callID = call.ID
	defer func() {
		if p := recover(); p != nil {
			res.Error = fmt.Sprintf("tool %q panic: %v", call.Name, p)
		}
	}()
	result, err := l.cfg.Tools.ExecuteSync(ctx, call.Name, call.Args)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	res.Content = result.Content
	res.Error = result.Error
	return res
}
