package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/cortexlabs/cortex/router"
)

func newJob(id, issuer string) router.Job {
	return router.Job{
		ID:      id,
		Type:    "router_job",
		Issuer:  issuer,
		Payload: router.EncodePayload(router.Payload{Task: "do the thing"}),
	}
}

func TestRouterJobLifecycleHappyPath(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Enqueue(ctx, newJob("job-1", router.IssuerCortex)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	job, err := s.DequeueNext(ctx)
	if err != nil {
		t.Fatalf("DequeueNext: %v", err)
	}
	if job.Status != router.StatusEvaluating {
		t.Fatalf("expected evaluating after dequeue, got %s", job.Status)
	}

	if err := s.SetEvaluated(ctx, job.ID, 7); err != nil {
		t.Fatalf("SetEvaluated: %v", err)
	}

	pending, err := s.DequeueForDispatch(ctx)
	if err != nil {
		t.Fatalf("DequeueForDispatch: %v", err)
	}
	if pending.Weight != 7 {
		t.Fatalf("expected weight 7, got %d", pending.Weight)
	}

	if err := s.SetTierAndExecuting(ctx, pending.ID, router.TierSonnet); err != nil {
		t.Fatalf("SetTierAndExecuting: %v", err)
	}

	if err := s.Complete(ctx, job.ID, "the answer"); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	done, err := s.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if done.Status != router.StatusCompleted || done.Result != "the answer" || done.Tier != router.TierSonnet {
		t.Fatalf("unexpected completed job: %+v", done)
	}

	if err := s.Archive(ctx, job.ID); err != nil {
		t.Fatalf("Archive: %v", err)
	}
	if _, err := s.GetJob(ctx, job.ID); err == nil {
		t.Fatal("expected archived job to be gone from live table")
	}
}

func TestRouterDequeueForDispatchOnlyReturnsUntieredJobs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Enqueue(ctx, newJob("job-1", router.IssuerCortex)); err != nil {
		t.Fatal(err)
	}
	job, err := s.DequeueNext(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.SetEvaluated(ctx, job.ID, 5); err != nil {
		t.Fatal(err)
	}
	if err := s.SetTierAndExecuting(ctx, job.ID, router.TierHaiku); err != nil {
		t.Fatal(err)
	}

	if _, err := s.DequeueForDispatch(ctx); err == nil {
		t.Fatal("expected no untiered pending job once the only job is tiered")
	}
}

func TestRouterDequeueRetryRespectsDelayWindow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Enqueue(ctx, newJob("job-1", router.IssuerCortex)); err != nil {
		t.Fatal(err)
	}
	job, err := s.DequeueNext(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.SetEvaluated(ctx, job.ID, 5); err != nil {
		t.Fatal(err)
	}
	if err := s.SetTierAndExecuting(ctx, job.ID, router.TierSonnet); err != nil {
		t.Fatal(err)
	}
	if err := s.ResetToPending(ctx, job.ID); err != nil {
		t.Fatal(err)
	}

	if _, err := s.DequeueRetry(ctx, time.Hour); err == nil {
		t.Fatal("expected no retry due yet under a long delay window")
	}
	retried, err := s.DequeueRetry(ctx, 0)
	if err != nil {
		t.Fatalf("DequeueRetry with zero delay: %v", err)
	}
	if retried.Status != router.StatusInExecution {
		t.Fatalf("expected retried job back in execution, got %s", retried.Status)
	}

	reloaded, err := s.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if reloaded.RetryCount != 1 {
		t.Fatalf("expected retry count 1, got %d", reloaded.RetryCount)
	}
}

func TestRouterStaleInExecutionAndRecovery(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Enqueue(ctx, newJob("job-1", router.IssuerCortex)); err != nil {
		t.Fatal(err)
	}
	job, err := s.DequeueNext(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.SetEvaluated(ctx, job.ID, 5); err != nil {
		t.Fatal(err)
	}
	if err := s.SetTierAndExecuting(ctx, job.ID, router.TierSonnet); err != nil {
		t.Fatal(err)
	}

	stale, err := s.StaleInExecution(ctx, time.Now().Add(time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if len(stale) != 1 || stale[0].ID != job.ID {
		t.Fatalf("expected the freshly-executing job to show up as stale against a future cutoff, got %+v", stale)
	}

	notifier := router.NewNotifier()
	report, err := router.Recover(ctx, s, notifier, -time.Minute, nil)
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if report.Recovered != 1 {
		t.Fatalf("expected 1 recovered job, got %+v", report)
	}

	reloaded, err := s.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if reloaded.Status != router.StatusPending {
		t.Fatalf("expected job reset to pending, got %s", reloaded.Status)
	}
}

func TestRouterResetEvaluatingToQueueOnRecovery(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Enqueue(ctx, newJob("job-1", router.IssuerCortex)); err != nil {
		t.Fatal(err)
	}
	if _, err := s.DequeueNext(ctx); err != nil {
		t.Fatal(err)
	}

	notifier := router.NewNotifier()
	report, err := router.Recover(ctx, s, notifier, time.Hour, nil)
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if report.Recovered != 1 {
		t.Fatalf("expected the evaluating job reset to in_queue, got %+v", report)
	}

	job, err := s.GetJob(ctx, "job-1")
	if err != nil {
		t.Fatal(err)
	}
	if job.Status != router.StatusInQueue {
		t.Fatalf("expected in_queue, got %s", job.Status)
	}
}
