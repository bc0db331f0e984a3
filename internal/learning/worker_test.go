package learning

import (
	"context"
	"testing"
	"time"

	"github.com/caldant/attuned/internal/storage"
)

type fakeJobStore struct {
	jobs      []*storage.Job
	feedback  map[string]storage.FeedbackRecord
	completed []string
	failed    map[string]string
}

func (f *fakeJobStore) ClaimNextJob(types []string) (*storage.Job, error) {
	for _, j := range f.jobs {
		if j.Status != "pending" {
			continue
		}
		for _, typ := range types {
			if j.Type == typ {
				j.Status = "running"
				return j, nil
			}
		}
	}
	return nil, nil
}

func (f *fakeJobStore) CompleteJob(id string) error {
	f.completed = append(f.completed, id)
	return nil
}

func (f *fakeJobStore) FailJob(id string, errMsg string) error {
	if f.failed == nil {
		f.failed = make(map[string]string)
	}
	f.failed[id] = errMsg
	return nil
}

func (f *fakeJobStore) GetFeedback(id string) (storage.FeedbackRecord, error) {
	rec, ok := f.feedback[id]
	if !ok {
		return storage.FeedbackRecord{}, storage.ErrNotFound
	}
	return rec, nil
}

func TestWorkerProcessesLearnJob(t *testing.T) {
	profiles := &fakeProfileStore{total: 1}
	learner := NewLearner(profiles, nil, nil)

	jobs := &fakeJobStore{
		jobs: []*storage.Job{{
			ID:          "j1",
			Type:        JobTypeLearn,
			Status:      "pending",
			PayloadJSON: `{"feedback_id":"fb-1"}`,
		}},
		feedback: map[string]storage.FeedbackRecord{
			"fb-1": {
				ID: "fb-1", UserID: "u1",
				SelectedIntent: "focus",
				ContextJSON:    `{"time_bucket":"morning"}`,
			},
		},
	}

	w := NewWorker(jobs, learner, time.Millisecond)
	done, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if !done {
		t.Fatal("expected a job to be processed")
	}
	if len(jobs.completed) != 1 || jobs.completed[0] != "j1" {
		t.Errorf("job not completed: %v", jobs.completed)
	}
	if profiles.row == nil {
		t.Error("learning did not write a profile")
	}
}

func TestWorkerNoJobs(t *testing.T) {
	w := NewWorker(&fakeJobStore{}, NewLearner(&fakeProfileStore{}, nil, nil), time.Millisecond)

	done, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if done {
		t.Error("no jobs pending, nothing should be processed")
	}
}

func TestWorkerFailsJobOnMissingFeedback(t *testing.T) {
	jobs := &fakeJobStore{
		jobs: []*storage.Job{{
			ID:          "j1",
			Type:        JobTypeLearn,
			Status:      "pending",
			PayloadJSON: `{"feedback_id":"ghost"}`,
		}},
	}
	w := NewWorker(jobs, NewLearner(&fakeProfileStore{}, nil, nil), time.Millisecond)

	done, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if !done {
		t.Fatal("job should have been claimed")
	}
	if _, ok := jobs.failed["j1"]; !ok {
		t.Errorf("job not failed: %v", jobs.failed)
	}
	if len(jobs.completed) != 0 {
		t.Errorf("failed job marked completed")
	}
}

func TestWorkerFailsJobOnBadPayload(t *testing.T) {
	jobs := &fakeJobStore{
		jobs: []*storage.Job{{
			ID:          "j1",
			Type:        JobTypeLearn,
			Status:      "pending",
			PayloadJSON: "not json",
		}},
	}
	w := NewWorker(jobs, NewLearner(&fakeProfileStore{}, nil, nil), time.Millisecond)

	if _, err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if _, ok := jobs.failed["j1"]; !ok {
		t.Errorf("malformed payload should fail the job: %v", jobs.failed)
	}
}

func TestWorkerRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	w := NewWorker(&fakeJobStore{}, NewLearner(&fakeProfileStore{}, nil, nil), time.Millisecond)

	doneCh := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(doneCh)
	}()

	cancel()
	select {
	case <-doneCh:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop on context cancellation")
	}
}
