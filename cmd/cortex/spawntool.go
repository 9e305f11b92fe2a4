package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cortexlabs/cortex"
	"github.com/cortexlabs/cortex/router"
)

// spawnArgs is sessions_spawn's argument shape: a task description handed
// to the Router's evaluator/dispatcher, plus optional free-form context
// forwarded opaquely into the executor prompt.
type spawnArgs struct {
	Task        string `json:"task"`
	Context     string `json:"context,omitempty"`
	Constraints string `json:"constraints,omitempty"`
}

var spawnToolDefinition = cortex.ToolDefinition{
	Name:        "sessions_spawn",
	Description: "Hand a task off to the complexity-routed job queue. Returns immediately; the result arrives later as a new turn.",
	Parameters: json.RawMessage(`{
		"type": "object",
		"properties": {
			"task": {"type": "string", "description": "what the spawned job should accomplish"},
			"context": {"type": "string", "description": "background the executor needs but the model shouldn't repeat"},
			"constraints": {"type": "string", "description": "limits the executor must respect"}
		},
		"required": ["task"]
	}`),
}

// spawnTool implements cortex.AsyncTool by enqueueing a Router job under
// the Loop-assigned id (spec.md §4.6 sessions_spawn, SPEC_FULL.md §9
// "Ownership of the task id").
type spawnTool struct {
	router *router.Router
}

func newSpawnTool(r *router.Router) *spawnTool {
	return &spawnTool{router: r}
}

func (t *spawnTool) Definitions() []cortex.ToolDefinition {
	return []cortex.ToolDefinition{spawnToolDefinition}
}

func (t *spawnTool) Dispatch(ctx context.Context, jobID, name string, args json.RawMessage) (cortex.AsyncDispatch, error) {
	var a spawnArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return cortex.AsyncDispatch{Accepted: false}, fmt.Errorf("sessions_spawn: bad args: %w", err)
	}
	if a.Task == "" {
		return cortex.AsyncDispatch{Accepted: false}, fmt.Errorf("sessions_spawn: task is required")
	}

	payload := router.Payload{Task: a.Task, Context: a.Context, Constraints: a.Constraints}
	if _, err := t.router.EnqueueWithID(ctx, jobID, router.IssuerCortex, name, payload); err != nil {
		return cortex.AsyncDispatch{Accepted: false}, fmt.Errorf("sessions_spawn: enqueue: %w", err)
	}
	return cortex.AsyncDispatch{Accepted: true}, nil
}

var _ cortex.AsyncTool = (*spawnTool)(nil)
