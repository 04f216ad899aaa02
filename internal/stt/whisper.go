package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/davidhora/notula/internal/audio"
	"github.com/davidhora/notula/internal/logger"
)

// ModelSize selects which on-disk whisper model to load.
type ModelSize string

const (
	ModelTiny   ModelSize = "tiny"
	ModelBase   ModelSize = "base"
	ModelSmall  ModelSize = "small"
	ModelMedium ModelSize = "medium"
	ModelLarge  ModelSize = "large"
)

const (
	// whisperProcessInterval is the accumulate-and-process cycle period.
	whisperProcessInterval = 3 * time.Second

	// whisperMinChunk is the minimum buffered audio worth a processing
	// pass. Flush overrides it during shutdown.
	whisperMinChunk = 1 * time.Second

	// whisperMaxBuffer forces a pass regardless of the timer.
	whisperMaxBuffer = 25 * time.Second
)

// Whisper is the local on-device backend. Inference runs by executing the
// whisper.cpp CLI over temporary WAV files.
type Whisper struct {
	binPath  string
	modelDir string
	log      *logger.Logger

	mu        sync.Mutex
	modelPath string // empty until LoadModel
}

// NewWhisper builds the local backend. No model is loaded yet.
func NewWhisper(binPath, modelDir string, log *logger.Logger) *Whisper {
	return &Whisper{
		binPath:  binPath,
		modelDir: modelDir,
		log:      log.Component("stt.whisper"),
	}
}

func (w *Whisper) Name() string { return "whisper" }

// LoadModel resolves and pins the model file for the given size class.
func (w *Whisper) LoadModel(size ModelSize) error {
	path := filepath.Join(w.modelDir, fmt.Sprintf("ggml-%s.bin", size))
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("whisper model %s: %w", size, err)
	}
	w.mu.Lock()
	w.modelPath = path
	w.mu.Unlock()
	w.log.WithField("model", string(size)).Info("model loaded")
	return nil
}

// UnloadModel releases the pinned model.
func (w *Whisper) UnloadModel() {
	w.mu.Lock()
	w.modelPath = ""
	w.mu.Unlock()
}

func (w *Whisper) currentModel() (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.modelPath == "" {
		return "", ErrNotConfigured
	}
	return w.modelPath, nil
}

// whisperOutput mirrors the whisper.cpp --output-json file format.
type whisperOutput struct {
	Transcription []struct {
		Offsets struct {
			From int64 `json:"from"` // milliseconds
			To   int64 `json:"to"`
		} `json:"offsets"`
		Text string `json:"text"`
	} `json:"transcription"`
}

// run executes the CLI over one WAV file and returns parsed segments.
func (w *Whisper) run(ctx context.Context, wavPath, language string) ([]Segment, error) {
	model, err := w.currentModel()
	if err != nil {
		return nil, err
	}

	outPrefix := strings.TrimSuffix(wavPath, filepath.Ext(wavPath))
	args := []string{
		"-m", model,
		"-f", wavPath,
		"--output-json",
		"--output-file", outPrefix,
		"--no-prints",
	}
	if language != "" && language != MultiLanguage {
		args = append(args, "-l", language)
	} else {
		args = append(args, "-l", "auto")
	}

	cmd := exec.CommandContext(ctx, w.binPath, args...)
	if _, err := cmd.Output(); err != nil {
		if ee, ok := err.(*exec.ExitError); ok {
			return nil, fmt.Errorf("whisper failed: %s", strings.TrimSpace(string(ee.Stderr)))
		}
		return nil, fmt.Errorf("whisper failed: %w", err)
	}

	jsonPath := outPrefix + ".json"
	defer os.Remove(jsonPath)
	raw, err := os.ReadFile(jsonPath)
	if err != nil {
		return nil, fmt.Errorf("read whisper output: %w", err)
	}

	var parsed whisperOutput
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, &ProtocolError{Backend: "whisper", Detail: err.Error()}
	}

	segs := make([]Segment, 0, len(parsed.Transcription))
	for _, t := range parsed.Transcription {
		text := strings.TrimSpace(t.Text)
		if text == "" {
			continue
		}
		segs = append(segs, Segment{
			Start:      float64(t.Offsets.From) / 1000,
			End:        float64(t.Offsets.To) / 1000,
			Text:       text,
			Confidence: 1.0, // the CLI does not report confidence
		})
	}
	return segs, nil
}

// Transcribe runs inference over raw samples and returns the flat text.
func (w *Whisper) Transcribe(ctx context.Context, samples []int16, language string) (string, error) {
	tmp, err := writeTempWAV(samples)
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp)

	segs, err := w.run(ctx, tmp, language)
	if err != nil {
		return "", err
	}
	parts := make([]string, 0, len(segs))
	for _, s := range segs {
		parts = append(parts, s.Text)
	}
	return strings.Join(parts, " "), nil
}

// TranscribeFile runs the whole-file batch path.
func (w *Whisper) TranscribeFile(ctx context.Context, path string, language string) ([]Segment, error) {
	return w.run(ctx, path, language)
}

// OpenStream starts the accumulate-and-process cycle that adapts the batch
// engine to the streaming contract. Only final events are emitted.
func (w *Whisper) OpenStream(ctx context.Context, opts StreamOptions) (Stream, error) {
	if _, err := w.currentModel(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &whisperStream{
		backend:  w,
		language: opts.Language,
		events:   make(chan Event, 32),
		errs:     make(chan error, 4),
		ctx:      ctx,
		cancel:   cancel,
	}
	s.wg.Add(1)
	go s.processLoop()
	return s, nil
}

// whisperStream buffers incoming PCM and processes it on a timer, on
// forced flushes, and when the buffer outgrows whisperMaxBuffer.
type whisperStream struct {
	backend  *Whisper
	language string

	mu         sync.Mutex
	buf        []int16
	processing bool // single-flight guard
	elapsed    float64

	events chan Event
	errs   chan error
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed sync.Once
}

func (s *whisperStream) Send(ctx context.Context, pcm []byte) error {
	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(pcm[2*i]) | int16(pcm[2*i+1])<<8
	}

	s.mu.Lock()
	s.buf = append(s.buf, samples...)
	over := len(s.buf) > int(whisperMaxBuffer.Seconds()*audio.SampleRate)
	s.mu.Unlock()

	if over {
		go s.process(false)
	}
	return nil
}

// Keepalive is a no-op: there is no remote connection to hold open.
func (s *whisperStream) Keepalive(ctx context.Context) error { return nil }

// Flush processes whatever is buffered, even below the minimum chunk. Used
// during the stop grace window so trailing words are not lost.
func (s *whisperStream) Flush(ctx context.Context) error {
	s.process(true)
	return nil
}

func (s *whisperStream) Events() <-chan Event { return s.events }

func (s *whisperStream) Errors() <-chan error { return s.errs }

func (s *whisperStream) Close() error {
	s.closed.Do(func() {
		s.cancel()
		s.wg.Wait()
		close(s.events)
		close(s.errs)
	})
	return nil
}

func (s *whisperStream) processLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(whisperProcessInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.process(false)
		}
	}
}

// process drains the buffer and runs one inference pass. A pass already in
// flight wins; the caller's audio stays buffered for the next cycle.
func (s *whisperStream) process(force bool) {
	s.mu.Lock()
	if s.processing {
		s.mu.Unlock()
		return
	}
	minSamples := int(whisperMinChunk.Seconds() * audio.SampleRate)
	if !force && len(s.buf) < minSamples {
		s.mu.Unlock()
		return
	}
	if len(s.buf) == 0 {
		s.mu.Unlock()
		return
	}
	samples := s.buf
	s.buf = nil
	base := s.elapsed
	s.elapsed += float64(len(samples)) / float64(audio.SampleRate)
	s.processing = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.processing = false
		s.mu.Unlock()
	}()

	tmp, err := writeTempWAV(samples)
	if err != nil {
		s.emitError(err)
		return
	}
	defer os.Remove(tmp)

	segs, err := s.backend.run(s.ctx, tmp, s.language)
	if err != nil {
		if s.ctx.Err() != nil {
			return
		}
		s.emitError(err)
		return
	}

	for _, seg := range segs {
		ev := Event{
			Type:       EventResults,
			Text:       seg.Text,
			Confidence: seg.Confidence,
			IsFinal:    true,
			Words: []Word{{
				Text:       seg.Text,
				Start:      base + seg.Start,
				End:        base + seg.End,
				Confidence: seg.Confidence,
			}},
		}
		select {
		case <-s.ctx.Done():
			return
		case s.events <- ev:
		}
	}
}

func (s *whisperStream) emitError(err error) {
	select {
	case s.errs <- err:
	default:
	}
}

func writeTempWAV(samples []int16) (string, error) {
	f, err := os.CreateTemp("", "notula-*.wav")
	if err != nil {
		return "", fmt.Errorf("temp wav: %w", err)
	}
	path := f.Name()
	f.Close()
	if err := audio.WriteFile(path, samples); err != nil {
		os.Remove(path)
		return "", err
	}
	return path, nil
}
