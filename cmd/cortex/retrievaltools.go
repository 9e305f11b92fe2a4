package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/cortexlabs/cortex"
)

// fetchChatHistoryArgs is fetch_chat_history's argument shape (spec.md §4.3:
// "fetch_chat_history(channel, limit, before?)").
type fetchChatHistoryArgs struct {
	Channel string     `json:"channel"`
	Limit   int        `json:"limit"`
	Before  *time.Time `json:"before,omitempty"`
}

var fetchChatHistoryDefinition = cortex.ToolDefinition{
	Name:        "fetch_chat_history",
	Description: "Fetch raw session rows for a channel, oldest first, optionally bounded by a before cutoff.",
	Parameters: json.RawMessage(`{
		"type": "object",
		"properties": {
			"channel": {"type": "string", "description": "channel to read; empty reads every channel"},
			"limit": {"type": "integer", "description": "maximum rows to return"},
			"before": {"type": "string", "description": "RFC3339 cutoff; only rows strictly before this timestamp"}
		},
		"required": ["channel", "limit"]
	}`),
}

// fetchChatHistoryTool implements cortex.SyncTool over cortex.SessionStore,
// read-only as spec.md §4.6 requires of synchronous tools.
type fetchChatHistoryTool struct {
	sessions cortex.SessionStore
}

func newFetchChatHistoryTool(sessions cortex.SessionStore) *fetchChatHistoryTool {
	return &fetchChatHistoryTool{sessions: sessions}
}

func (t *fetchChatHistoryTool) Definitions() []cortex.ToolDefinition {
	return []cortex.ToolDefinition{fetchChatHistoryDefinition}
}

func (t *fetchChatHistoryTool) Execute(ctx context.Context, name string, args json.RawMessage) (cortex.ToolResult, error) {
	var a fetchChatHistoryArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return cortex.ToolResult{Error: fmt.Sprintf("fetch_chat_history: bad args: %v", err)}, nil
	}

	rows, err := t.sessions.History(ctx, a.Channel, a.Before, a.Limit)
	if err != nil {
		return cortex.ToolResult{Error: fmt.Sprintf("fetch_chat_history: %v", err)}, nil
	}

	body, err := json.Marshal(rows)
	if err != nil {
		return cortex.ToolResult{Error: fmt.Sprintf("fetch_chat_history: marshal result: %v", err)}, nil
	}
	return cortex.ToolResult{Content: string(body)}, nil
}

var _ cortex.SyncTool = (*fetchChatHistoryTool)(nil)

// memoryQueryArgs is memory_query's argument shape (spec.md §4.3:
// "memory_query(query, limit?)").
type memoryQueryArgs struct {
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
}

var memoryQueryDefinition = cortex.ToolDefinition{
	Name:        "memory_query",
	Description: "Embed query, search cold memory, and promote matching facts back into hot memory. Returns the ranked results.",
	Parameters: json.RawMessage(`{
		"type": "object",
		"properties": {
			"query": {"type": "string", "description": "natural-language query to search cold memory for"},
			"limit": {"type": "integer", "description": "maximum results, defaults to the configured vector top-k"}
		},
		"required": ["query"]
	}`),
}

// memoryQueryResult is one ranked hit as returned to the model.
type memoryQueryResult struct {
	Text       string    `json:"text"`
	Distance   float32   `json:"distance"`
	ArchivedAt time.Time `json:"archived_at"`
}

// memoryQueryTool implements cortex.SyncTool over Hippocampus and Embedder.
// Promotion — touching an existing hot row or inserting a new one for each
// cold hit — is the only mechanism that moves text from cold back into hot
// (spec.md §4.3). dispatchSyncCalls (loop/toolround.go) runs multiple tool
// calls from the same round on a worker pool, so two concurrent
// memory_query calls can surface the same cold fact text at once; group
// collapses those into a single promotion per text, grounded on the
// teacher's bounded-worker-pool dispatch model that makes the race real.
type memoryQueryTool struct {
	hippocampus  cortex.Hippocampus
	embed        cortex.Embedder
	defaultLimit int
	group        singleflight.Group
}

func newMemoryQueryTool(hippocampus cortex.Hippocampus, embed cortex.Embedder, defaultLimit int) *memoryQueryTool {
	return &memoryQueryTool{hippocampus: hippocampus, embed: embed, defaultLimit: defaultLimit}
}

func (t *memoryQueryTool) Definitions() []cortex.ToolDefinition {
	return []cortex.ToolDefinition{memoryQueryDefinition}
}

func (t *memoryQueryTool) Execute(ctx context.Context, name string, args json.RawMessage) (cortex.ToolResult, error) {
	var a memoryQueryArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return cortex.ToolResult{Error: fmt.Sprintf("memory_query: bad args: %v", err)}, nil
	}
	if a.Query == "" {
		return cortex.ToolResult{Error: "memory_query: query is required"}, nil
	}
	limit := a.Limit
	if limit <= 0 {
		limit = t.defaultLimit
	}

	embedding, err := t.embed(ctx, a.Query)
	if err != nil {
		return cortex.ToolResult{Error: fmt.Sprintf("memory_query: embed: %v", err)}, nil
	}

	hits, err := t.hippocampus.SearchCold(ctx, embedding, limit)
	if err != nil {
		return cortex.ToolResult{Error: fmt.Sprintf("memory_query: search cold: %v", err)}, nil
	}

	results := make([]memoryQueryResult, 0, len(hits))
	for _, hit := range hits {
		if err := t.promote(ctx, hit.Text); err != nil {
			return cortex.ToolResult{Error: fmt.Sprintf("memory_query: promote %q: %v", hit.Text, err)}, nil
		}
		results = append(results, memoryQueryResult{Text: hit.Text, Distance: hit.Distance, ArchivedAt: hit.ArchivedAt})
	}

	body, err := json.Marshal(results)
	if err != nil {
		return cortex.ToolResult{Error: fmt.Sprintf("memory_query: marshal result: %v", err)}, nil
	}
	return cortex.ToolResult{Content: string(body)}, nil
}

// promote ensures text has a hot row, then touches it: InsertHotFact is a
// no-op if the row already exists (unique fact_text constraint), so a fresh
// promotion lands at hit_count 1 and a repeat hit increments an existing
// row — both are "touch" from the caller's perspective, just over rows of
// different ages.
func (t *memoryQueryTool) promote(ctx context.Context, text string) error {
	_, err, _ := t.group.Do(text, func() (interface{}, error) {
		if err := t.hippocampus.InsertHotFact(ctx, text); err != nil {
			return nil, err
		}
		return nil, t.hippocampus.TouchHotFact(ctx, text)
	})
	return err
}

var _ cortex.SyncTool = (*memoryQueryTool)(nil)
