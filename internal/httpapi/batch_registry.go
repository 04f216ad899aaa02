package httpapi

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/davidhora/notula/internal/batch"
)

const (
	batchStatusRunning = "running"
	batchStatusDone    = "done"
	batchStatusFailed  = "failed"
)

// BatchJob tracks one submitted file through transcription.
type BatchJob struct {
	ID          string        `json:"id"`
	Path        string        `json:"path"`
	Language    string        `json:"language,omitempty"`
	Status      string        `json:"status"`
	Error       string        `json:"error,omitempty"`
	Result      *batch.Result `json:"result,omitempty"`
	SubmittedAt time.Time     `json:"submitted_at"`
	FinishedAt  *time.Time    `json:"finished_at,omitempty"`
}

// BatchRegistry tracks batch jobs in memory. Jobs are ephemeral: the
// durable output lands in the session store, the registry only serves
// status polling.
type BatchRegistry struct {
	mu   sync.Mutex
	jobs map[string]*BatchJob
}

func NewBatchRegistry() *BatchRegistry {
	return &BatchRegistry{jobs: make(map[string]*BatchJob)}
}

// Add registers a new running job and returns it.
func (br *BatchRegistry) Add(path, language string) *BatchJob {
	job := &BatchJob{
		ID:          uuid.NewString(),
		Path:        path,
		Language:    language,
		Status:      batchStatusRunning,
		SubmittedAt: time.Now(),
	}
	br.mu.Lock()
	br.jobs[job.ID] = job
	br.mu.Unlock()
	return job
}

// Get returns a snapshot of the job or nil.
func (br *BatchRegistry) Get(id string) *BatchJob {
	br.mu.Lock()
	defer br.mu.Unlock()
	job, ok := br.jobs[id]
	if !ok {
		return nil
	}
	cp := *job
	return &cp
}

// Complete marks a job finished with its merged result.
func (br *BatchRegistry) Complete(id string, result *batch.Result) {
	br.finish(id, batchStatusDone, "", result)
}

// Fail marks a job failed.
func (br *BatchRegistry) Fail(id string, err error) {
	br.finish(id, batchStatusFailed, err.Error(), nil)
}

func (br *BatchRegistry) finish(id, status, errMsg string, result *batch.Result) {
	now := time.Now()
	br.mu.Lock()
	defer br.mu.Unlock()
	job, ok := br.jobs[id]
	if !ok {
		return
	}
	job.Status = status
	job.Error = errMsg
	job.Result = result
	job.FinishedAt = &now
}
