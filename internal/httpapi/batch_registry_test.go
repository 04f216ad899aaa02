package httpapi

import (
	"errors"
	"testing"

	"github.com/davidhora/notula/internal/batch"
)

func TestBatchRegistryLifecycle(t *testing.T) {
	br := NewBatchRegistry()

	job := br.Add("/in/long.wav", "en")
	if job.Status != batchStatusRunning {
		t.Errorf("new job status = %s, want running", job.Status)
	}

	got := br.Get(job.ID)
	if got == nil || got.Path != "/in/long.wav" {
		t.Fatalf("Get() = %+v, want the submitted job", got)
	}

	br.Complete(job.ID, &batch.Result{FailedChunks: []int{2}})
	got = br.Get(job.ID)
	if got.Status != batchStatusDone || got.FinishedAt == nil {
		t.Errorf("completed job = %+v, want done with finish time", got)
	}
	if got.Result == nil || len(got.Result.FailedChunks) != 1 {
		t.Errorf("Result = %+v, want failed chunk recorded", got.Result)
	}
}

func TestBatchRegistryFail(t *testing.T) {
	br := NewBatchRegistry()
	job := br.Add("/in/bad.wav", "")
	br.Fail(job.ID, errors.New("all 5 chunks failed"))

	got := br.Get(job.ID)
	if got.Status != batchStatusFailed || got.Error == "" {
		t.Errorf("failed job = %+v, want failed with error", got)
	}
}

func TestBatchRegistryUnknownJob(t *testing.T) {
	br := NewBatchRegistry()
	if got := br.Get("missing"); got != nil {
		t.Errorf("Get(missing) = %+v, want nil", got)
	}
	br.Complete("missing", nil) // must not panic
}
