package router

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cortexlabs/cortex"
)

// --- Evaluator ---

func TestEvaluatorParseStrictJSON(t *testing.T) {
	e := NewEvaluator(nil, 0, 0)
	eval := e.parse(`{"weight": 8, "reasoning": "multi-step plan"}`)
	if eval.Weight != 8 || eval.Reasoning != "multi-step plan" {
		t.Fatalf("unexpected evaluation: %+v", eval)
	}
}

func TestEvaluatorParseBraceScraped(t *testing.T) {
	e := NewEvaluator(nil, 0, 0)
	eval := e.parse("sure thing, here you go: {\"weight\": 3, \"reasoning\": \"trivial lookup\"} hope that helps")
	if eval.Weight != 3 {
		t.Fatalf("expected weight scraped from embedded JSON, got %+v", eval)
	}
}

func TestEvaluatorParseBareInteger(t *testing.T) {
	e := NewEvaluator(nil, 0, 0)
	eval := e.parse("I'd rate this a 6 out of 10 in complexity.")
	if eval.Weight != 6 {
		t.Fatalf("expected weight 6 scraped from bare integer, got %+v", eval)
	}
}

func TestEvaluatorParseFallsBackToFixedWeight(t *testing.T) {
	e := NewEvaluator(nil, 0, 4)
	eval := e.parse("unintelligible garbage with no numbers at all")
	if eval.Weight != 4 || eval.Reasoning == "" {
		t.Fatalf("expected fallback weight 4, got %+v", eval)
	}
}

func TestEvaluatorParseClampsOutOfRangeWeight(t *testing.T) {
	e := NewEvaluator(nil, 0, 0)
	eval := e.parse(`{"weight": 57, "reasoning": "too high"}`)
	if eval.Weight != 10 {
		t.Fatalf("expected weight clamped to 10, got %d", eval.Weight)
	}
}

func TestEvaluatorEvaluateUsesCallResult(t *testing.T) {
	e := NewEvaluator(func(ctx context.Context, payloadText string) (string, error) {
		return `{"weight": 9, "reasoning": "large refactor"}`, nil
	}, 0, 0)
	eval := e.Evaluate(context.Background(), "payload")
	if eval.Weight != 9 {
		t.Fatalf("expected weight 9, got %+v", eval)
	}
}

func TestEvaluatorEvaluateFallsBackOnCallError(t *testing.T) {
	e := NewEvaluator(func(ctx context.Context, payloadText string) (string, error) {
		return "", errors.New("backend unavailable")
	}, 0, 2)
	eval := e.Evaluate(context.Background(), "payload")
	if eval.Weight != 2 {
		t.Fatalf("expected fallback weight 2, got %+v", eval)
	}
}

func TestEvaluatorEvaluateFallsBackOnTimeout(t *testing.T) {
	e := NewEvaluator(func(ctx context.Context, payloadText string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}, 10*time.Millisecond, 3)
	eval := e.Evaluate(context.Background(), "payload")
	if eval.Weight != 3 {
		t.Fatalf("expected fallback weight 3 on timeout, got %+v", eval)
	}
}

// --- Dispatcher ---

func TestDispatcherSelectTierDefaultRanges(t *testing.T) {
	d := NewDispatcher()
	cases := map[int]Tier{1: TierHaiku, 3: TierHaiku, 4: TierSonnet, 7: TierSonnet, 8: TierOpus, 10: TierOpus}
	for weight, want := range cases {
		if got := d.SelectTier(weight); got != want {
			t.Errorf("weight %d: got tier %s, want %s", weight, got, want)
		}
	}
}

func TestDispatcherSelectTierOutOfRangeDefaultsToSonnet(t *testing.T) {
	d := NewDispatcher()
	if got := d.SelectTier(0); got != TierSonnet {
		t.Fatalf("expected out-of-range weight to default to sonnet, got %s", got)
	}
	if got := d.SelectTier(11); got != TierSonnet {
		t.Fatalf("expected out-of-range weight to default to sonnet, got %s", got)
	}
}

func TestDispatcherSelectTierCustomRanges(t *testing.T) {
	d := NewDispatcher(WithTierRanges([]TierRange{
		{Tier: TierHaiku, Min: 1, Max: 5},
		{Tier: TierOpus, Min: 6, Max: 10},
	}))
	if got := d.SelectTier(5); got != TierHaiku {
		t.Fatalf("expected haiku, got %s", got)
	}
	if got := d.SelectTier(6); got != TierOpus {
		t.Fatalf("expected opus, got %s", got)
	}
}

func TestDispatcherModelFor(t *testing.T) {
	d := NewDispatcher(WithTierModels(map[Tier]string{TierHaiku: "anthropic/claude-haiku-4-5"}))
	if got := d.ModelFor(TierHaiku); got != "anthropic/claude-haiku-4-5" {
		t.Fatalf("expected mapped model, got %s", got)
	}
	if got := d.ModelFor(TierOpus); got != string(TierOpus) {
		t.Fatalf("expected unmapped tier to fall back to its own name, got %s", got)
	}
}

func TestDispatcherRenderPrompt(t *testing.T) {
	d := NewDispatcher()
	prompt := d.RenderPrompt(Payload{Task: "summarize", Context: "thread-42", Constraints: "under 200 words"}, IssuerCortex)
	want := "Issuer: cortex\nTask: summarize\nContext: thread-42\nConstraints: under 200 words"
	if prompt != want {
		t.Fatalf("got %q, want %q", prompt, want)
	}
}

// --- Notifier ---

func TestNotifierPublishDeliveredResolvesWaiter(t *testing.T) {
	n := NewNotifier()
	done := make(chan Job, 1)
	go func() {
		job, err := n.WaitForJob(context.Background(), "job-1", time.Second)
		if err != nil {
			t.Error(err)
			return
		}
		done <- job
	}()

	time.Sleep(10 * time.Millisecond)
	n.PublishDelivered(Job{ID: "job-1", Result: "ok"})

	select {
	case job := <-done:
		if job.Result != "ok" {
			t.Fatalf("unexpected job: %+v", job)
		}
	case <-time.After(time.Second):
		t.Fatal("WaitForJob never resolved")
	}
}

func TestNotifierWaitForJobTimesOut(t *testing.T) {
	n := NewNotifier()
	_, err := n.WaitForJob(context.Background(), "job-1", 10*time.Millisecond)
	if err == nil {
		t.Fatal("expected timeout error")
	}
}

func TestNotifierOnDeliveredCallback(t *testing.T) {
	n := NewNotifier()
	var got Job
	n.OnDelivered(func(job Job) { got = job })
	n.PublishDelivered(Job{ID: "job-1", Result: "done"})
	if got.ID != "job-1" {
		t.Fatalf("expected callback invoked with delivered job, got %+v", got)
	}
}

func TestNotifierOnFailedCallback(t *testing.T) {
	n := NewNotifier()
	var gotID string
	var gotErr error
	n.OnFailed(func(jobID string, err error) { gotID, gotErr = jobID, err })
	n.PublishFailed("job-2", errors.New("boom"))
	if gotID != "job-2" || gotErr == nil {
		t.Fatalf("expected failure callback invoked, got id=%s err=%v", gotID, gotErr)
	}
}

func TestGenericDeliveryIgnoresCortexIssuer(t *testing.T) {
	called := false
	cb := GenericDelivery(func(issuer, content string) { called = true })
	cb(Job{ID: "job-1", Issuer: IssuerCortex, Result: "ok"})
	if called {
		t.Fatal("expected GenericDelivery to ignore cortex-issued jobs")
	}
}

func TestGenericDeliveryAppendsForNonCortexIssuer(t *testing.T) {
	var gotIssuer, gotContent string
	cb := GenericDelivery(func(issuer, content string) { gotIssuer, gotContent = issuer, content })
	cb(Job{ID: "job-1", Issuer: "discord:123", Result: "the summary"})
	if gotIssuer != "discord:123" || gotContent == "" {
		t.Fatalf("expected append called with issuer and content, got issuer=%s content=%s", gotIssuer, gotContent)
	}
}

// --- CortexDelivery / CortexFailureDelivery ---

type fakeBus struct {
	enqueued []cortex.Envelope
}

func (b *fakeBus) Enqueue(ctx context.Context, e cortex.Envelope) (string, error) {
	b.enqueued = append(b.enqueued, e)
	return e.ID, nil
}
func (b *fakeBus) DequeueNext(ctx context.Context) (cortex.BusEntry, error) { return cortex.BusEntry{}, nil }
func (b *fakeBus) PeekPending(ctx context.Context) ([]cortex.BusEntry, error) { return nil, nil }
func (b *fakeBus) MarkProcessing(ctx context.Context, id string) error        { return nil }
func (b *fakeBus) MarkCompleted(ctx context.Context, id string) error         { return nil }
func (b *fakeBus) MarkFailed(ctx context.Context, id string, errText string) error { return nil }
func (b *fakeBus) CountPending(ctx context.Context) (int, error)              { return 0, nil }
func (b *fakeBus) PurgeCompleted(ctx context.Context, before time.Time) (int, error) { return 0, nil }
func (b *fakeBus) Checkpoint(ctx context.Context, data cortex.Checkpoint) (int64, error) { return 0, nil }
func (b *fakeBus) LoadLatestCheckpoint(ctx context.Context) (cortex.Checkpoint, error) {
	return cortex.Checkpoint{}, nil
}
func (b *fakeBus) ResetStalledMessages(ctx context.Context) (int, error) { return 0, nil }
func (b *fakeBus) DeleteOrphans(ctx context.Context) (int, error)        { return 0, nil }
func (b *fakeBus) Integrity(ctx context.Context) error                  { return nil }

type fakeSessionStore struct {
	completed map[string]string
	failed    map[string]string
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{completed: map[string]string{}, failed: map[string]string{}}
}

func (s *fakeSessionStore) AppendMessage(ctx context.Context, msg cortex.SessionMessage) (int64, error) {
	return 0, nil
}
func (s *fakeSessionStore) History(ctx context.Context, channel string, before *time.Time, limit int) ([]cortex.SessionMessage, error) {
	return nil, nil
}
func (s *fakeSessionStore) UpsertChannelState(ctx context.Context, cs cortex.ChannelState) error {
	return nil
}
func (s *fakeSessionStore) ChannelStates(ctx context.Context) ([]cortex.ChannelState, error) {
	return nil, nil
}
func (s *fakeSessionStore) GetChannelState(ctx context.Context, channel string) (cortex.ChannelState, error) {
	return cortex.ChannelState{}, nil
}
func (s *fakeSessionStore) SetChannelLayer(ctx context.Context, channel string, layer cortex.AttentionLayer) error {
	return nil
}
func (s *fakeSessionStore) AddPendingOp(ctx context.Context, op cortex.PendingOp) error { return nil }
func (s *fakeSessionStore) CompletePendingOp(ctx context.Context, id, resultText string) error {
	s.completed[id] = resultText
	return nil
}
func (s *fakeSessionStore) FailPendingOp(ctx context.Context, id, errorText string) error {
	s.failed[id] = errorText
	return nil
}
func (s *fakeSessionStore) GetPendingOp(ctx context.Context, id string) (cortex.PendingOp, error) {
	return cortex.PendingOp{}, nil
}
func (s *fakeSessionStore) GetPendingOps(ctx context.Context) ([]cortex.PendingOp, error) {
	return nil, nil
}
func (s *fakeSessionStore) CopyAndDeleteTerminalOps(ctx context.Context) (int, error) {
	return 0, nil
}

func TestCortexDeliveryCompletesOpAndEnqueuesTrigger(t *testing.T) {
	bus := &fakeBus{}
	sessions := newFakeSessionStore()
	cb := CortexDelivery(bus, sessions, func(job Job) string { return "discord:general" })

	cb(Job{ID: "job-1", Issuer: IssuerCortex, Result: "42"})

	if sessions.completed["job-1"] != "42" {
		t.Fatalf("expected pending op completed with result, got %+v", sessions.completed)
	}
	if len(bus.enqueued) != 1 {
		t.Fatalf("expected one ops-trigger envelope enqueued, got %d", len(bus.enqueued))
	}
	if !bus.enqueued[0].IsOpsTrigger() || bus.enqueued[0].OpsTriggerJobID() != "job-1" {
		t.Fatalf("expected ops-trigger envelope referencing job-1, got %+v", bus.enqueued[0])
	}
	if bus.enqueued[0].Reply.Channel != "discord:general" {
		t.Fatalf("expected reply channel threaded through, got %s", bus.enqueued[0].Reply.Channel)
	}
}

func TestCortexDeliveryIgnoresNonCortexIssuer(t *testing.T) {
	bus := &fakeBus{}
	sessions := newFakeSessionStore()
	cb := CortexDelivery(bus, sessions, func(job Job) string { return "discord:general" })

	cb(Job{ID: "job-1", Issuer: "discord:123", Result: "42"})

	if len(sessions.completed) != 0 || len(bus.enqueued) != 0 {
		t.Fatal("expected non-cortex issuer to be ignored entirely")
	}
}

func TestCortexFailureDeliveryFailsOpAndEnqueuesTrigger(t *testing.T) {
	bus := &fakeBus{}
	sessions := newFakeSessionStore()
	cb := CortexFailureDelivery(bus, sessions, func(jobID string) string { return "" })

	cb("job-2", errors.New("executor crashed"))

	if sessions.failed["job-2"] != "executor crashed" {
		t.Fatalf("expected pending op failed with error text, got %+v", sessions.failed)
	}
	if len(bus.enqueued) != 1 || bus.enqueued[0].Reply.Channel != "router" {
		t.Fatalf("expected fallback reply channel 'router', got %+v", bus.enqueued)
	}
}

// --- Router.EnqueueWithID ---

type fakeJobStore struct {
	Store
	enqueued []Job
}

func (s *fakeJobStore) Enqueue(ctx context.Context, job Job) (string, error) {
	s.enqueued = append(s.enqueued, job)
	return job.ID, nil
}

func TestEnqueueWithIDUsesCallerSuppliedID(t *testing.T) {
	store := &fakeJobStore{}
	r := New(Config{Store: store})

	id, err := r.EnqueueWithID(context.Background(), "preassigned-id", IssuerCortex, "sessions_spawn", Payload{Task: "summarize"})
	if err != nil {
		t.Fatalf("EnqueueWithID() error = %v", err)
	}
	if id != "preassigned-id" {
		t.Errorf("EnqueueWithID() id = %q, want %q", id, "preassigned-id")
	}
	if len(store.enqueued) != 1 || store.enqueued[0].ID != "preassigned-id" || store.enqueued[0].Status != StatusInQueue {
		t.Errorf("store received %+v, want one in_queue job with id %q", store.enqueued, "preassigned-id")
	}
}
