// Package cortex is a unified multi-channel conversational orchestrator.
//
// It receives envelopes from arbitrary channel adapters (webchat, cron,
// chat platforms), durably queues them on a single-writer SQLite Bus,
// assembles a token-budgeted context from session history and long-term
// memory, drives a bounded tool-calling turn against an injected model
// function, and routes the reply back out through the channel the
// envelope arrived on (or another, via the [[send_to:...]] sentinel).
//
// # Core interfaces
//
//   - [Bus] — durable priority queue of envelopes
//   - [SessionStore] — per-conversation rolling message history
//   - [Hippocampus] — dual hot/cold long-term memory
//   - [SyncTool] / [AsyncTool] — the tool runtime's two execution shapes
//   - [ModelFunc] — the single seam into a language model backend
//   - [Adapter] — a channel's inbound/outbound contract
//
// A second, complexity-routed job queue lives in package router: calls
// that the Processing Loop hands off via an AsyncTool (sessions_spawn) are
// evaluated, tiered, dispatched to a model, and notified back to the Bus
// as an ops-trigger envelope when they complete or fail.
//
// See cmd/cortex for the reference binary wiring these together.
package cortex
