package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/davidhora/notula/internal/batch"
	"github.com/davidhora/notula/internal/eventlog"
	"github.com/davidhora/notula/internal/transcript"
)

type submitBatchRequest struct {
	Path     string `json:"path"`
	Language string `json:"language,omitempty"`
}

func (r *Router) handleSubmitBatch(w http.ResponseWriter, req *http.Request) {
	if r.batch == nil {
		writeError(w, http.StatusServiceUnavailable, "batch transcription not configured")
		return
	}
	var body submitBatchRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil || body.Path == "" {
		writeError(w, http.StatusBadRequest, "path is required")
		return
	}
	if _, err := os.Stat(body.Path); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "file not readable: "+body.Path)
		return
	}

	job := r.jobs.Add(body.Path, body.Language)
	r.eventLog.LogAsync(job.ID, eventlog.EventBatchSubmitted, map[string]any{"path": body.Path})

	go r.runBatchJob(job.ID, body.Path, body.Language)

	writeJSON(w, http.StatusAccepted, job)
}

// runBatchJob transcribes the file and persists the result as a session.
func (r *Router) runBatchJob(jobID, path, language string) {
	ctx := context.Background()
	result, err := r.batch.TranscribeFile(ctx, path, language)
	if err != nil {
		r.log.WithError(err).WithField("file", path).Error("batch transcription failed")
		r.jobs.Fail(jobID, err)
		r.eventLog.LogAsync(jobID, eventlog.EventBatchCompleted, map[string]any{"error": err.Error()})
		r.discord.NotifyBatchFailed(ctx, path, err)
		return
	}
	for _, idx := range result.FailedChunks {
		r.eventLog.LogAsync(jobID, eventlog.EventBatchChunkFailed, map[string]any{"chunk": idx})
	}

	sess := sessionFromBatch(path, language, result)
	if r.store != nil {
		if err := r.store.SaveSession(ctx, sess); err != nil {
			r.log.WithError(err).Error("persisting batch session failed")
		}
	}
	r.jobs.Complete(jobID, result)
	r.eventLog.LogAsync(jobID, eventlog.EventBatchCompleted, map[string]any{
		"session":       sess.ID,
		"segments":      len(result.Segments),
		"failed_chunks": len(result.FailedChunks),
	})
	r.hub.notifyFinished(sess)
}

func sessionFromBatch(path, language string, result *batch.Result) *transcript.RecordingSession {
	now := time.Now()
	started := now.Add(-result.Duration)
	return &transcript.RecordingSession{
		ID:         uuid.NewString(),
		StartedAt:  started,
		EndedAt:    &now,
		Mode:       transcript.ModeFile,
		Backend:    transcript.BackendCloud,
		Language:   language,
		Segments:   result.Segments,
		Speakers:   result.Speakers,
		AudioFiles: []string{path},
		CostCents:  result.CostCents,
	}
}

func (r *Router) handleGetBatch(w http.ResponseWriter, req *http.Request) {
	job := r.jobs.Get(req.PathValue("id"))
	if job == nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, job)
}
