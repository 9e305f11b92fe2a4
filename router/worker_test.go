package router

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cortexlabs/cortex"
)

// fakeWorkerStore implements Store fully (unlike fakeJobStore, which only
// needs Enqueue) since Worker.Execute drives Complete/Fail/GetJob/Archive.
type fakeWorkerStore struct {
	job         Job
	completeErr error
	failErr     error
	getJobErr   error
	archiveErr  error
	archived    []string
	completed   string
	failed      string
}

func (s *fakeWorkerStore) Enqueue(ctx context.Context, job Job) (string, error) { return job.ID, nil }
func (s *fakeWorkerStore) DequeueNext(ctx context.Context) (Job, error)         { return Job{}, nil }
func (s *fakeWorkerStore) DequeueRetry(ctx context.Context, d time.Duration) (Job, error) {
	return Job{}, nil
}
func (s *fakeWorkerStore) DequeueForDispatch(ctx context.Context) (Job, error) { return Job{}, nil }
func (s *fakeWorkerStore) SetEvaluated(ctx context.Context, id string, weight int) error {
	return nil
}
func (s *fakeWorkerStore) SetTierAndExecuting(ctx context.Context, id string, tier Tier) error {
	return nil
}
func (s *fakeWorkerStore) Touch(ctx context.Context, id string) error { return nil }

func (s *fakeWorkerStore) Complete(ctx context.Context, id, result string) error {
	s.completed = result
	s.job.Status = StatusCompleted
	s.job.Result = result
	return s.completeErr
}

func (s *fakeWorkerStore) Fail(ctx context.Context, id, errText string) error {
	s.failed = errText
	s.job.Status = StatusFailed
	s.job.Error = errText
	return s.failErr
}

func (s *fakeWorkerStore) ResetToPending(ctx context.Context, id string) error { return nil }
func (s *fakeWorkerStore) ResetEvaluatingToQueue(ctx context.Context) (int, error) {
	return 0, nil
}
func (s *fakeWorkerStore) StaleInExecution(ctx context.Context, cutoff time.Time) ([]Job, error) {
	return nil, nil
}

func (s *fakeWorkerStore) Archive(ctx context.Context, id string) error {
	s.archived = append(s.archived, id)
	return s.archiveErr
}

func (s *fakeWorkerStore) GetJob(ctx context.Context, id string) (Job, error) {
	if s.getJobErr != nil {
		return Job{}, s.getJobErr
	}
	return s.job, nil
}

func TestWorkerExecuteArchivesOnDelivery(t *testing.T) {
	store := &fakeWorkerStore{job: Job{ID: "job-1", Tier: TierHaiku, CreatedAt: cortex.Now()}}
	notifier := NewNotifier()

	var delivered Job
	notifier.OnDelivered(func(job Job) { delivered = job })

	w := NewWorker(store, func(ctx context.Context, prompt, model string) (string, error) {
		return "done", nil
	}, notifier)

	w.Execute(context.Background(), store.job, "some-model", "prompt")

	if len(store.archived) != 1 || store.archived[0] != "job-1" {
		t.Fatalf("expected job-1 archived exactly once, got %v", store.archived)
	}
	if delivered.ID != "job-1" {
		t.Fatalf("expected job-1 delivered, got %+v", delivered)
	}
	if delivered.DeliveredAt == nil {
		t.Fatal("expected DeliveredAt to be stamped before PublishDelivered")
	}
}

func TestWorkerExecuteArchivesOnFailure(t *testing.T) {
	store := &fakeWorkerStore{job: Job{ID: "job-2", Tier: TierHaiku, CreatedAt: cortex.Now()}}
	notifier := NewNotifier()

	var failedID string
	notifier.OnFailed(func(jobID string, err error) { failedID = jobID })

	w := NewWorker(store, func(ctx context.Context, prompt, model string) (string, error) {
		return "", errors.New("executor blew up")
	}, notifier)

	w.Execute(context.Background(), store.job, "some-model", "prompt")

	if len(store.archived) != 1 || store.archived[0] != "job-2" {
		t.Fatalf("expected job-2 archived exactly once, got %v", store.archived)
	}
	if failedID != "job-2" {
		t.Fatalf("expected job-2 reported failed, got %q", failedID)
	}
}

func TestWorkerExecuteSkipsPublishWhenArchiveFails(t *testing.T) {
	store := &fakeWorkerStore{
		job:        Job{ID: "job-3", Tier: TierHaiku, CreatedAt: cortex.Now()},
		archiveErr: errors.New("disk full"),
	}
	notifier := NewNotifier()

	var deliveredCalled, failedCalled bool
	notifier.OnDelivered(func(job Job) { deliveredCalled = true })
	notifier.OnFailed(func(jobID string, err error) { failedCalled = true })

	w := NewWorker(store, func(ctx context.Context, prompt, model string) (string, error) {
		return "done", nil
	}, notifier)

	w.Execute(context.Background(), store.job, "some-model", "prompt")

	if deliveredCalled {
		t.Fatal("expected PublishDelivered not to fire when Archive fails")
	}
	if !failedCalled {
		t.Fatal("expected the archive failure to be reported via PublishFailed")
	}
}
