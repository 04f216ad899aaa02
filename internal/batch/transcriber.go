// Package batch transcribes pre-recorded audio files, splitting long
// recordings into parallel chunks and merging the attributed results.
package batch

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/davidhora/notula/internal/audio"
	"github.com/davidhora/notula/internal/costs"
	"github.com/davidhora/notula/internal/logger"
	"github.com/davidhora/notula/internal/stt"
	"github.com/davidhora/notula/internal/transcript"
)

const (
	maxParallelChunks = 4
	chunkRetries      = 2 // retries after the first attempt
)

// ChunkError reports one failed chunk. Other chunks are unaffected.
type ChunkError struct {
	Index int
	Err   error
}

func (e *ChunkError) Error() string {
	return fmt.Sprintf("chunk %d: %v", e.Index, e.Err)
}

func (e *ChunkError) Unwrap() error { return e.Err }

// Result is a merged batch transcription. FailedChunks lists the indices
// of pieces that exhausted their retries; their time ranges are missing
// from Segments.
type Result struct {
	Segments     []transcript.TranscriptSegment
	Speakers     []transcript.Speaker
	Duration     time.Duration
	CostCents    int
	FailedChunks []int
}

// Transcriber runs the non-streaming transcription path over audio files.
type Transcriber struct {
	backend   stt.Backend
	log       *logger.Logger
	tmpDir    string
	parallel  int
	threshold time.Duration
	chunkLen  time.Duration
}

// NewTranscriber builds a batch transcriber. tmpDir holds chunk files for
// long recordings; they are removed after each run.
func NewTranscriber(backend stt.Backend, log *logger.Logger, tmpDir string) *Transcriber {
	return &Transcriber{
		backend:   backend,
		log:       log.Component("batch"),
		tmpDir:    tmpDir,
		parallel:  maxParallelChunks,
		threshold: ChunkThreshold,
		chunkLen:  ChunkDuration,
	}
}

// TranscribeFile transcribes one audio file. Recordings up to the chunk
// threshold go through a single request; longer ones are split, processed
// in parallel and merged with timestamps shifted back to the source
// timeline. A failed chunk is retried, then skipped; the merged result is
// returned as long as at least one chunk succeeded.
func (t *Transcriber) TranscribeFile(ctx context.Context, path, language string) (*Result, error) {
	duration, err := audio.FileDuration(path)
	if err != nil {
		return nil, fmt.Errorf("probing %s: %w", path, err)
	}

	if duration <= t.threshold {
		segs, err := t.transcribeWithRetry(ctx, 0, path, language)
		if err != nil {
			return nil, err
		}
		return t.merge(duration, []chunkResult{{segments: segs}}, nil), nil
	}

	samples, err := audio.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	perChunk := int(t.chunkLen.Seconds() * audio.SampleRate)
	chunks, err := splitWAV(samples, perChunk, t.tmpDir, filepath.Base(path))
	if err != nil {
		return nil, err
	}
	defer removeChunks(chunks)

	t.log.WithField("file", path).
		WithField("chunks", len(chunks)).
		WithField("duration", duration.String()).
		Info("splitting long recording")

	results, failed := t.transcribeChunks(ctx, chunks, language)
	if len(failed) == len(chunks) {
		return nil, fmt.Errorf("all %d chunks failed", len(chunks))
	}
	return t.merge(duration, results, failed), nil
}

type chunkResult struct {
	offset   float64
	segments []stt.Segment
}

func (t *Transcriber) transcribeChunks(ctx context.Context, chunks []chunk, language string) ([]chunkResult, []int) {
	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results []chunkResult
		failed  []int
	)
	sem := make(chan struct{}, t.parallel)

	for _, c := range chunks {
		wg.Add(1)
		go func(c chunk) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			segs, err := t.transcribeWithRetry(ctx, c.index, c.path, language)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				t.log.WithError(err).WithField("chunk", c.index).Error("chunk failed, skipping")
				failed = append(failed, c.index)
				return
			}
			results = append(results, chunkResult{offset: c.offset, segments: segs})
		}(c)
	}
	wg.Wait()
	return results, failed
}

func (t *Transcriber) transcribeWithRetry(ctx context.Context, index int, path, language string) ([]stt.Segment, error) {
	var segs []stt.Segment
	op := func() error {
		var err error
		segs, err = t.backend.TranscribeFile(ctx, path, language)
		if err != nil {
			t.log.WithError(err).WithField("chunk", index).Warn("transcription attempt failed")
		}
		return err
	}
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), chunkRetries), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return nil, &ChunkError{Index: index, Err: err}
	}
	return segs, nil
}

// merge shifts every chunk's segments onto the source timeline and folds
// them into one ordered transcript. Speaker indices are taken as-is: the
// backend diarizes the whole file consistently in the single-request case,
// and chunked recordings keep per-chunk indices for later identification.
func (t *Transcriber) merge(duration time.Duration, results []chunkResult, failed []int) *Result {
	session := &transcript.RecordingSession{}
	for _, r := range results {
		for _, s := range r.segments {
			session.InsertSegment(toTranscriptSegment(s, r.offset))
		}
	}
	return &Result{
		Segments:     session.Segments,
		Speakers:     session.Speakers,
		Duration:     duration,
		CostCents:    costs.BatchCents(duration),
		FailedChunks: failed,
	}
}

func toTranscriptSegment(s stt.Segment, shift float64) transcript.TranscriptSegment {
	seg := transcript.TranscriptSegment{
		Timestamp:  s.Start + shift,
		Text:       s.Text,
		Confidence: s.Confidence,
		IsFinal:    true,
		Source:     audio.TagUnknown,
	}
	if s.Speaker != nil {
		sp := *s.Speaker
		seg.SpeakerID = &sp
	}
	for _, w := range s.Words {
		word := transcript.TranscriptWord{
			Text:       w.Text,
			Start:      w.Start + shift,
			End:        w.End + shift,
			Confidence: w.Confidence,
		}
		if w.Speaker != nil {
			sp := *w.Speaker
			word.SpeakerID = &sp
		}
		seg.Words = append(seg.Words, word)
	}
	return seg
}
