package batch

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/davidhora/notula/internal/audio"
	"github.com/davidhora/notula/internal/logger"
	"github.com/davidhora/notula/internal/stt"
)

func intPtr(v int) *int { return &v }

// fakeFileBackend serves TranscribeFile from a fixed response, failing
// paths that contain any configured marker.
type fakeFileBackend struct {
	mu       sync.Mutex
	calls    []string
	failWith string // path substring that always fails
	segments []stt.Segment
}

func (b *fakeFileBackend) Name() string { return "fake" }

func (b *fakeFileBackend) OpenStream(ctx context.Context, opts stt.StreamOptions) (stt.Stream, error) {
	return nil, errors.New("not a streaming backend")
}

func (b *fakeFileBackend) TranscribeFile(ctx context.Context, path, language string) ([]stt.Segment, error) {
	b.mu.Lock()
	b.calls = append(b.calls, path)
	b.mu.Unlock()
	if b.failWith != "" && strings.Contains(path, b.failWith) {
		return nil, errors.New("upstream 503")
	}
	return b.segments, nil
}

func (b *fakeFileBackend) callCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.calls)
}

func writeTestWAV(t *testing.T, dir string, d time.Duration) string {
	t.Helper()
	path := filepath.Join(dir, "meeting.wav")
	samples := make([]int16, int(d.Seconds()*audio.SampleRate))
	for i := range samples {
		samples[i] = int16(i % 1000)
	}
	if err := audio.WriteFile(path, samples); err != nil {
		t.Fatalf("writing test wav: %v", err)
	}
	return path
}

func newTestTranscriber(b stt.Backend, tmpDir string) *Transcriber {
	tr := NewTranscriber(b, logger.NewNop(), tmpDir)
	tr.threshold = time.Second
	tr.chunkLen = time.Second
	return tr
}

func TestSplitWAV(t *testing.T) {
	dir := t.TempDir()
	samples := make([]int16, 2500)
	chunks, err := splitWAV(samples, 1000, dir, "long.wav")
	if err != nil {
		t.Fatalf("splitWAV() error = %v", err)
	}
	if len(chunks) != 3 {
		t.Fatalf("len(chunks) = %d, want 3", len(chunks))
	}
	wantOffsets := []float64{0, 1000.0 / audio.SampleRate, 2000.0 / audio.SampleRate}
	for i, c := range chunks {
		if c.index != i {
			t.Errorf("chunks[%d].index = %d", i, c.index)
		}
		if c.offset != wantOffsets[i] {
			t.Errorf("chunks[%d].offset = %v, want %v", i, c.offset, wantOffsets[i])
		}
	}
	// Remainder chunk holds the leftover 500 samples.
	last, err := audio.ReadFile(chunks[2].path)
	if err != nil {
		t.Fatalf("reading last chunk: %v", err)
	}
	if len(last) != 500 {
		t.Errorf("last chunk samples = %d, want 500", len(last))
	}
}

func TestTranscribeFile_ShortGoesSingleRequest(t *testing.T) {
	backend := &fakeFileBackend{segments: []stt.Segment{
		{Start: 0.2, End: 0.8, Text: "hello", Confidence: 0.9, Speaker: intPtr(0),
			Words: []stt.Word{{Text: "hello", Start: 0.2, End: 0.8, Confidence: 0.9, Speaker: intPtr(0)}}},
	}}
	tr := newTestTranscriber(backend, t.TempDir())

	path := writeTestWAV(t, t.TempDir(), 500*time.Millisecond)
	result, err := tr.TranscribeFile(context.Background(), path, "")
	if err != nil {
		t.Fatalf("TranscribeFile() error = %v", err)
	}
	if backend.callCount() != 1 {
		t.Errorf("backend calls = %d, want 1", backend.callCount())
	}
	if len(result.Segments) != 1 || result.Segments[0].Text != "hello" {
		t.Fatalf("Segments = %+v, want the single hello segment", result.Segments)
	}
	if result.Segments[0].Timestamp != 0.2 {
		t.Errorf("Timestamp = %v, want 0.2 (unshifted)", result.Segments[0].Timestamp)
	}
	if len(result.FailedChunks) != 0 {
		t.Errorf("FailedChunks = %v, want none", result.FailedChunks)
	}
	if len(result.Speakers) != 1 || result.Speakers[0].ID != 0 {
		t.Errorf("Speakers = %+v, want speaker 0", result.Speakers)
	}
}

func TestTranscribeFile_ChunkedShiftsAndMerges(t *testing.T) {
	backend := &fakeFileBackend{segments: []stt.Segment{
		{Start: 0.1, End: 0.5, Text: "piece", Confidence: 0.9, Speaker: intPtr(0)},
	}}
	tmp := t.TempDir()
	tr := newTestTranscriber(backend, tmp)

	path := writeTestWAV(t, t.TempDir(), 2500*time.Millisecond)
	result, err := tr.TranscribeFile(context.Background(), path, "")
	if err != nil {
		t.Fatalf("TranscribeFile() error = %v", err)
	}
	if backend.callCount() != 3 {
		t.Errorf("backend calls = %d, want 3 chunks", backend.callCount())
	}
	if len(result.Segments) != 3 {
		t.Fatalf("len(Segments) = %d, want 3", len(result.Segments))
	}
	want := []float64{0.1, 1.1, 2.1}
	for i, seg := range result.Segments {
		if diff := seg.Timestamp - want[i]; diff > 1e-9 || diff < -1e-9 {
			t.Errorf("Segments[%d].Timestamp = %v, want %v", i, seg.Timestamp, want[i])
		}
	}

	// Chunk temp files are cleaned up.
	leftovers, _ := filepath.Glob(filepath.Join(tmp, "*.chunk*.wav"))
	if len(leftovers) != 0 {
		t.Errorf("chunk files left behind: %v", leftovers)
	}
}

func TestTranscribeFile_FailedChunkIsIsolated(t *testing.T) {
	backend := &fakeFileBackend{
		failWith: "chunk01",
		segments: []stt.Segment{{Start: 0, End: 0.5, Text: "ok", Confidence: 0.9}},
	}
	tr := newTestTranscriber(backend, t.TempDir())

	path := writeTestWAV(t, t.TempDir(), 2500*time.Millisecond)
	result, err := tr.TranscribeFile(context.Background(), path, "")
	if err != nil {
		t.Fatalf("TranscribeFile() error = %v, want partial result", err)
	}
	if len(result.FailedChunks) != 1 || result.FailedChunks[0] != 1 {
		t.Errorf("FailedChunks = %v, want [1]", result.FailedChunks)
	}
	if len(result.Segments) != 2 {
		t.Errorf("len(Segments) = %d, want 2 surviving chunks", len(result.Segments))
	}
}

func TestTranscribeFile_AllChunksFailed(t *testing.T) {
	backend := &fakeFileBackend{failWith: ".chunk"}
	tr := newTestTranscriber(backend, t.TempDir())

	path := writeTestWAV(t, t.TempDir(), 2500*time.Millisecond)
	if _, err := tr.TranscribeFile(context.Background(), path, ""); err == nil {
		t.Fatal("TranscribeFile() error = nil, want failure when every chunk fails")
	}
}

func TestWatcherSettling(t *testing.T) {
	w := NewWatcher(t.TempDir(), nil, nil, logger.NewNop())

	w.handleFSEvent(fsnotify.Event{Name: "/in/a.wav", Op: fsnotify.Create})
	w.handleFSEvent(fsnotify.Event{Name: "/in/skip.txt", Op: fsnotify.Create})
	w.handleFSEvent(fsnotify.Event{Name: "/in/b.chunk00.wav", Op: fsnotify.Create})

	if got := w.takeSettled(); len(got) != 0 {
		t.Errorf("takeSettled() = %v before settle window, want none", got)
	}

	w.settle = 0
	got := w.takeSettled()
	if len(got) != 1 || got[0] != "/in/a.wav" {
		t.Errorf("takeSettled() = %v, want [/in/a.wav]", got)
	}

	// Already-processed files are not re-queued by later write events.
	w.handleFSEvent(fsnotify.Event{Name: "/in/a.wav", Op: fsnotify.Write})
	if got := w.takeSettled(); len(got) != 0 {
		t.Errorf("takeSettled() after done = %v, want none", got)
	}
}
