// Package contextassembler builds the four-layer budgeted context the
// model sees on every turn: an always-included identity floor, a
// per-channel background digest, a budgeted foreground conversation, and
// an always-empty archived layer kept for shape stability.
//
// Composition is grounded on nevindra-oasis's agentMemory.buildMessages:
// system prompt first, conversation history walked and truncated against
// a budget, user turn last. Cortex generalizes that single-thread walk
// into per-channel layers and a hard token budget instead of a fixed
// message count.
package contextassembler

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/cortexlabs/cortex"
)

// TokenCounter estimates how many tokens a string costs. The default
// implementation uses the ⌈len/4⌉ character heuristic; callers needing
// tighter accuracy can swap in a tiktoken-backed counter.
type TokenCounter interface {
	Estimate(text string) int
}

type charCounter struct{}

func (charCounter) Estimate(text string) int {
	return int(math.Ceil(float64(len(text)) / 4))
}

// Layer is one of the four named sections of an AssembledContext.
type Layer struct {
	Name    string
	Content string
	Tokens  int
}

const (
	LayerSystemFloor = "system_floor"
	LayerForeground  = "foreground"
	LayerBackground  = "background"
	LayerArchived    = "archived"
)

// AssembledContext is the output of Assemble: four ordered layers plus the
// structured fields a Loop needs to build the actual model request.
type AssembledContext struct {
	Layers              []Layer
	ForegroundMessages  []cortex.SessionMessage
	BackgroundSummaries map[string]string
	PendingOps          []cortex.PendingOp
	IsOpsTrigger        bool
}

// TotalTokens sums every layer's estimated token cost.
func (a AssembledContext) TotalTokens() int {
	total := 0
	for _, l := range a.Layers {
		total += l.Tokens
	}
	return total
}

// Layer looks up a named layer's content, returning "" if absent.
func (a AssembledContext) Layer(name string) string {
	for _, l := range a.Layers {
		if l.Name == name {
			return l.Content
		}
	}
	return ""
}

var workspaceFiles = []string{"SOUL.md", "IDENTITY.md", "USER.md", "MEMORY.md"}

// maxHotFacts bounds the Known Facts section per spec.md §4.4.
const maxHotFacts = 50

// Foreground caps applied only when Hippocampus is enabled.
const (
	hippocampusMaxForegroundMessages = 20
	hippocampusMaxForegroundTokens   = 4000
)

// backgroundStaleAfter excludes channels from the background digest once
// Hippocampus is enabled and their last message is older than this.
const backgroundStaleAfter = 24 * time.Hour

// Option configures an Assembler.
type Option func(*Assembler)

// WithTokenCounter overrides the default char-heuristic counter.
func WithTokenCounter(c TokenCounter) Option {
	return func(a *Assembler) { a.counter = c }
}

// Assembler produces AssembledContext values from session history,
// channel state, pending ops, and (optionally) long-term memory.
type Assembler struct {
	sessions     cortex.SessionStore
	hippocampus  cortex.Hippocampus
	workspaceDir string
	counter      TokenCounter
}

// New builds an Assembler. workspaceDir is where SOUL.md/IDENTITY.md/
// USER.md/MEMORY.md are looked up; hippocampus may be nil when long-term
// memory is not wired for this deployment.
func New(sessions cortex.SessionStore, hippocampus cortex.Hippocampus, workspaceDir string, opts ...Option) *Assembler {
	a := &Assembler{
		sessions:     sessions,
		hippocampus:  hippocampus,
		workspaceDir: workspaceDir,
		counter:      charCounter{},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Assemble produces the four-layer context for triggerEnvelope, per
// spec.md §4.4. maxTokens bounds the foreground layer only — the system
// floor is always fully included regardless of budget.
func (a *Assembler) Assemble(ctx context.Context, trigger cortex.Envelope, maxTokens int, hippocampusEnabled, isOpsTrigger bool) (AssembledContext, error) {
	pendingOps, err := a.sessions.GetPendingOps(ctx)
	if err != nil {
		return AssembledContext{}, fmt.Errorf("load pending ops: %w", err)
	}

	floor, err := a.buildSystemFloor(ctx, pendingOps, hippocampusEnabled)
	if err != nil {
		return AssembledContext{}, fmt.Errorf("build system floor: %w", err)
	}
	floorTokens := a.counter.Estimate(floor)

	background, summaries, err := a.buildBackground(ctx, trigger.Channel, hippocampusEnabled)
	if err != nil {
		return AssembledContext{}, fmt.Errorf("build background: %w", err)
	}
	backgroundTokens := a.counter.Estimate(background)

	remaining := maxTokens - floorTokens - backgroundTokens
	if remaining < 0 {
		remaining = 0
	}
	foreground, fgMessages, err := a.buildForeground(ctx, trigger.Channel, remaining, hippocampusEnabled)
	if err != nil {
		return AssembledContext{}, fmt.Errorf("build foreground: %w", err)
	}

	return AssembledContext{
		Layers: []Layer{
			{Name: LayerSystemFloor, Content: floor, Tokens: floorTokens},
			{Name: LayerForeground, Content: foreground, Tokens: a.counter.Estimate(foreground)},
			{Name: LayerBackground, Content: background, Tokens: backgroundTokens},
			{Name: LayerArchived, Content: "", Tokens: 0},
		},
		ForegroundMessages:  fgMessages,
		BackgroundSummaries: summaries,
		PendingOps:          pendingOps,
		IsOpsTrigger:        isOpsTrigger,
	}, nil
}

func (a *Assembler) buildSystemFloor(ctx context.Context, pendingOps []cortex.PendingOp, hippocampusEnabled bool) (string, error) {
	var parts []string

	for _, name := range workspaceFiles {
		data, err := os.ReadFile(filepath.Join(a.workspaceDir, name))
		if err != nil {
			continue
		}
		if text := strings.TrimSpace(string(data)); text != "" {
			parts = append(parts, text)
		}
	}

	if section := activeOperationsSection(pendingOps); section != "" {
		parts = append(parts, section)
	}

	if hippocampusEnabled && a.hippocampus != nil {
		facts, err := a.hippocampus.TopHotFacts(ctx, maxHotFacts)
		if err != nil {
			return "", err
		}
		if section := knownFactsSection(facts); section != "" {
			parts = append(parts, section)
		}
	}

	return strings.Join(parts, "\n\n"), nil
}

func activeOperationsSection(ops []cortex.PendingOp) string {
	if len(ops) == 0 {
		return ""
	}

	hasTerminal := false
	var b strings.Builder
	b.WriteString("Active Operations:\n")
	for _, op := range ops {
		status := "Pending"
		result := ""
		switch op.Status {
		case cortex.PendingOpCompleted:
			status = "Completed"
			result = op.Result
			hasTerminal = true
		case cortex.PendingOpFailed:
			status = "Failed"
			result = op.Result
			hasTerminal = true
		}
		label := "Result"
		if op.Status == cortex.PendingOpFailed {
			label = "Error"
		}
		fmt.Fprintf(&b, "[TASK_ID]=%s, Message='%s', Status=%s, Channel=%s, %s=%s\n",
			op.ID, op.Description, status, op.ExpectedChannel, label, result)
	}

	if hasTerminal {
		return "One or more operations below have finished — act on the result now.\n\n" + b.String()
	}
	return b.String()
}

func knownFactsSection(facts []cortex.HotFact) string {
	if len(facts) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Known Facts:\n")
	for _, f := range facts {
		fmt.Fprintf(&b, "- %s\n", f.Text)
	}
	return b.String()
}

func (a *Assembler) buildBackground(ctx context.Context, triggerChannel string, hippocampusEnabled bool) (string, map[string]string, error) {
	states, err := a.sessions.ChannelStates(ctx)
	if err != nil {
		return "", nil, err
	}
	sort.Slice(states, func(i, j int) bool { return states[i].Channel < states[j].Channel })

	summaries := make(map[string]string)
	var lines []string
	now := cortex.Now()
	for _, cs := range states {
		if cs.Channel == triggerChannel || cs.Layer == cortex.LayerArchived {
			continue
		}
		if hippocampusEnabled && !cs.LastMessageAt.IsZero() && now.Sub(cs.LastMessageAt) > backgroundStaleAfter {
			continue
		}
		desc := cs.Summary
		if desc == "" {
			desc = fmt.Sprintf("%d unread messages", cs.UnreadCount)
		}
		summaries[cs.Channel] = desc
		lines = append(lines, fmt.Sprintf("[%s] %s (last: %s)", cs.Channel, desc, cs.LastMessageAt.Format(time.RFC3339)))
	}
	return strings.Join(lines, "\n"), summaries, nil
}

func (a *Assembler) buildForeground(ctx context.Context, triggerChannel string, budget int, hippocampusEnabled bool) (string, []cortex.SessionMessage, error) {
	history, err := a.sessions.History(ctx, triggerChannel, nil, 0)
	if err != nil {
		return "", nil, err
	}

	var collected []cortex.SessionMessage
	tokens := 0
	for i := len(history) - 1; i >= 0; i-- {
		msg := history[i]
		line := formatForegroundMessage(msg)
		cost := a.counter.Estimate(line)
		if tokens+cost > budget {
			break
		}
		if hippocampusEnabled {
			if len(collected)+1 > hippocampusMaxForegroundMessages {
				break
			}
			if tokens+cost > hippocampusMaxForegroundTokens {
				break
			}
		}
		collected = append(collected, msg)
		tokens += cost
	}

	for i, j := 0, len(collected)-1; i < j; i, j = i+1, j-1 {
		collected[i], collected[j] = collected[j], collected[i]
	}

	lines := make([]string, 0, len(collected))
	for _, msg := range collected {
		lines = append(lines, formatForegroundMessage(msg))
	}
	return strings.Join(lines, "\n"), collected, nil
}

func formatForegroundMessage(msg cortex.SessionMessage) string {
	if msg.Role == cortex.RoleAssistant {
		return fmt.Sprintf("Cortex: %s", msg.Content)
	}
	return fmt.Sprintf("[%s] %s: %s", msg.Channel, msg.SenderID, msg.Content)
}
