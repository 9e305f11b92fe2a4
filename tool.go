package cortex

import (
	"context"
	"encoding/json"
)

// ToolResult is the outcome of a synchronous tool execution.
type ToolResult struct {
	Content string `json:"content"`
	Error   string `json:"error,omitempty"`
}

// SyncTool is a tool the Processing Loop executes inline, within the same
// turn, before returning control to the model (spec.md §4.6: fetch_chat_history,
// memory_query).
type SyncTool interface {
	Definitions() []ToolDefinition
	Execute(ctx context.Context, name string, args json.RawMessage) (ToolResult, error)
}

// AsyncDispatch is what an AsyncTool returns immediately: confirmation that
// work was handed off to the Router, or Accepted=false if the spawn failed.
type AsyncDispatch struct {
	Accepted bool `json:"accepted"`
}

// AsyncTool is a tool whose invocation enqueues a Router job and returns
// immediately without blocking the turn (spec.md §4.6: sessions_spawn). The
// id is generated and owned by the Loop, not the Router (spec.md §4.5 step
// 8) — Dispatch receives it already assigned and only confirms acceptance.
// The Loop records a pending op and resumes; the result arrives later as an
// ops-trigger envelope.
type AsyncTool interface {
	Definitions() []ToolDefinition
	Dispatch(ctx context.Context, jobID, name string, args json.RawMessage) (AsyncDispatch, error)
}

// ToolRegistry holds all registered sync and async tools and dispatches
// execution/dispatch by name.
type ToolRegistry struct {
	sync  []SyncTool
	async []AsyncTool
}

// NewToolRegistry creates an empty registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{}
}

// AddSync registers a synchronous tool.
func (r *ToolRegistry) AddSync(t SyncTool) {
	r.sync = append(r.sync, t)
}

// AddAsync registers an asynchronous tool.
func (r *ToolRegistry) AddAsync(t AsyncTool) {
	r.async = append(r.async, t)
}

// AllDefinitions returns tool definitions from every registered tool, sync
// and async alike, as advertised to the model.
func (r *ToolRegistry) AllDefinitions() []ToolDefinition {
	var defs []ToolDefinition
	for _, t := range r.sync {
		defs = append(defs, t.Definitions()...)
	}
	for _, t := range r.async {
		defs = append(defs, t.Definitions()...)
	}
	return defs
}

// IsAsync reports whether name names a registered async tool.
func (r *ToolRegistry) IsAsync(name string) bool {
	for _, t := range r.async {
		for _, d := range t.Definitions() {
			if d.Name == name {
				return true
			}
		}
	}
	return false
}

// ExecuteSync dispatches a synchronous tool call by name.
func (r *ToolRegistry) ExecuteSync(ctx context.Context, name string, args json.RawMessage) (ToolResult, error) {
	for _, t := range r.sync {
		for _, d := range t.Definitions() {
			if d.Name == name {
				return t.Execute(ctx, name, args)
			}
		}
	}
	return ToolResult{Error: "unknown sync tool: " + name}, nil
}

// DispatchAsync dispatches an asynchronous tool call by name, passing
// through the Loop-generated jobID.
func (r *ToolRegistry) DispatchAsync(ctx context.Context, jobID, name string, args json.RawMessage) (AsyncDispatch, error) {
	for _, t := range r.async {
		for _, d := range t.Definitions() {
			if d.Name == name {
				return t.Dispatch(ctx, jobID, name, args)
			}
		}
	}
	return AsyncDispatch{}, &ErrNotFound{Entity: "async tool", ID: name}
}
