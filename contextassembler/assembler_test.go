package contextassembler

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cortexlabs/cortex"
	"github.com/cortexlabs/cortex/storage/sqlite"
)

func newTestAssembler(t *testing.T, workspaceDir string, _ bool) (*Assembler, *sqlite.Store) {
	t.Helper()
	dir := t.TempDir()
	store, err := sqlite.New(filepath.Join(dir, "cortex.db"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	if workspaceDir == "" {
		workspaceDir = t.TempDir()
	}
	return New(store, store, workspaceDir), store
}

func TestAssembleSystemFloorAlwaysIncluded(t *testing.T) {
	workspaceDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(workspaceDir, "SOUL.md"), []byte("You are Cortex."), 0o644); err != nil {
		t.Fatal(err)
	}
	a, _ := newTestAssembler(t, workspaceDir, false)

	out, err := a.Assemble(context.Background(), cortex.Envelope{Channel: "webchat"}, 1, false, false)
	if err != nil {
		t.Fatal(err)
	}
	if out.Layer(LayerSystemFloor) == "" {
		t.Fatal("expected system floor to be non-empty even with a 1-token budget")
	}
}

func TestAssembleForegroundRespectsBudget(t *testing.T) {
	a, store := newTestAssembler(t, "", false)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_, err := store.AppendMessage(ctx, cortex.SessionMessage{
			Role: cortex.RoleUser, Channel: "webchat", SenderID: "u1",
			Content: "hello there, this is a moderately long test message",
			Timestamp: time.Now().UTC().Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	out, err := a.Assemble(ctx, cortex.Envelope{Channel: "webchat"}, 20, false, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(out.ForegroundMessages) == 0 {
		t.Fatal("expected at least one foreground message")
	}
	if len(out.ForegroundMessages) == 10 {
		t.Fatal("expected budget to truncate the foreground, got all 10 messages")
	}
	// Chronological order preserved.
	for i := 1; i < len(out.ForegroundMessages); i++ {
		if out.ForegroundMessages[i].Timestamp.Before(out.ForegroundMessages[i-1].Timestamp) {
			t.Fatal("expected foreground messages in chronological order")
		}
	}
}

func TestAssembleBackgroundExcludesTriggerAndArchived(t *testing.T) {
	a, store := newTestAssembler(t, "", false)
	ctx := context.Background()

	if err := store.UpsertChannelState(ctx, cortex.ChannelState{
		Channel: "webchat", UnreadCount: 2, LastMessageAt: cortex.Now(), Layer: cortex.LayerForeground,
	}); err != nil {
		t.Fatal(err)
	}
	if err := store.UpsertChannelState(ctx, cortex.ChannelState{
		Channel: "telegram", UnreadCount: 3, LastMessageAt: cortex.Now(), Layer: cortex.LayerBackground,
	}); err != nil {
		t.Fatal(err)
	}
	if err := store.UpsertChannelState(ctx, cortex.ChannelState{
		Channel: "cron", UnreadCount: 1, LastMessageAt: cortex.Now(), Layer: cortex.LayerArchived,
	}); err != nil {
		t.Fatal(err)
	}

	out, err := a.Assemble(ctx, cortex.Envelope{Channel: "webchat"}, 500, false, false)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := out.BackgroundSummaries["webchat"]; ok {
		t.Fatal("trigger channel must not appear in background")
	}
	if _, ok := out.BackgroundSummaries["cron"]; ok {
		t.Fatal("archived channel must not appear in background")
	}
	if _, ok := out.BackgroundSummaries["telegram"]; !ok {
		t.Fatal("expected telegram in background summaries")
	}
}

func TestAssembleActiveOperationsSurfacesTerminalStatus(t *testing.T) {
	a, store := newTestAssembler(t, "", false)
	ctx := context.Background()

	if err := store.AddPendingOp(ctx, cortex.PendingOp{
		ID: "job-1", Type: cortex.PendingOpRouterJob, Description: "look something up",
		DispatchedAt: cortex.Now(), ExpectedChannel: "router", ReplyChannel: "webchat",
	}); err != nil {
		t.Fatal(err)
	}
	if err := store.CompletePendingOp(ctx, "job-1", "the answer is 42"); err != nil {
		t.Fatal(err)
	}

	out, err := a.Assemble(ctx, cortex.Envelope{Channel: "webchat"}, 500, false, false)
	if err != nil {
		t.Fatal(err)
	}
	floor := out.Layer(LayerSystemFloor)
	if !strings.Contains(floor, "job-1") || !strings.Contains(floor, "Status=Completed") {
		t.Fatalf("expected active operations section naming job-1 as completed, got: %s", floor)
	}
	if len(out.PendingOps) != 1 {
		t.Fatalf("expected 1 pending op surfaced, got %d", len(out.PendingOps))
	}
}

func TestAssembleHippocampusKnownFacts(t *testing.T) {
	a, store := newTestAssembler(t, "", true)
	ctx := context.Background()

	if err := store.InsertHotFact(ctx, "the user's name is Nev"); err != nil {
		t.Fatal(err)
	}

	out, err := a.Assemble(ctx, cortex.Envelope{Channel: "webchat"}, 500, true, false)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.Layer(LayerSystemFloor), "the user's name is Nev") {
		t.Fatal("expected known facts section to include the hot fact")
	}
}

func TestAssembleArchivedLayerAlwaysEmpty(t *testing.T) {
	a, _ := newTestAssembler(t, "", false)
	out, err := a.Assemble(context.Background(), cortex.Envelope{Channel: "webchat"}, 500, false, false)
	if err != nil {
		t.Fatal(err)
	}
	if out.Layer(LayerArchived) != "" {
		t.Fatal("archived layer must always be empty")
	}
}
