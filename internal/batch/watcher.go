package batch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/davidhora/notula/internal/logger"
)

// Handler receives the merged result for one ingested file.
type Handler func(ctx context.Context, path string, result *Result)

// Watcher transcribes WAV files dropped into an ingest directory. Files
// are picked up once writes quiesce, so slow copies are not read half-way.
type Watcher struct {
	dir         string
	transcriber *Transcriber
	handler     Handler
	log         *logger.Logger
	settle      time.Duration

	mu      sync.Mutex
	pending map[string]time.Time
	done    map[string]bool
}

func NewWatcher(dir string, tr *Transcriber, handler Handler, log *logger.Logger) *Watcher {
	return &Watcher{
		dir:         dir,
		transcriber: tr,
		handler:     handler,
		log:         log.Component("batch-watcher"),
		settle:      2 * time.Second,
		pending:     make(map[string]time.Time),
		done:        make(map[string]bool),
	}
}

// Run watches the ingest directory until the context is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("creating ingest directory: %w", err)
	}
	if err := watcher.Add(w.dir); err != nil {
		return fmt.Errorf("watching %s: %w", w.dir, err)
	}
	w.log.WithField("dir", w.dir).Info("watching ingest directory")

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			w.handleFSEvent(event)

		case <-ticker.C:
			for _, path := range w.takeSettled() {
				w.process(ctx, path)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.log.WithError(err).Error("file watcher error")
		}
	}
}

func (w *Watcher) handleFSEvent(event fsnotify.Event) {
	if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
		return
	}
	name := filepath.Base(event.Name)
	if !strings.HasSuffix(name, ".wav") || strings.Contains(name, ".chunk") {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done[event.Name] {
		return
	}
	w.pending[event.Name] = time.Now()
}

// takeSettled returns files with no write activity for the settle window
// and marks them taken.
func (w *Watcher) takeSettled() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	var ready []string
	for path, last := range w.pending {
		if time.Since(last) >= w.settle {
			delete(w.pending, path)
			w.done[path] = true
			ready = append(ready, path)
		}
	}
	return ready
}

func (w *Watcher) process(ctx context.Context, path string) {
	w.log.WithField("file", path).Info("ingesting recording")
	result, err := w.transcriber.TranscribeFile(ctx, path, "")
	if err != nil {
		w.log.WithError(err).WithField("file", path).Error("ingest transcription failed")
		w.mu.Lock()
		delete(w.done, path) // a rewrite of the file retries it
		w.mu.Unlock()
		return
	}
	if len(result.FailedChunks) > 0 {
		w.log.WithField("file", path).
			WithField("failed_chunks", len(result.FailedChunks)).
			Warn("ingested with missing ranges")
	}
	if w.handler != nil {
		w.handler(ctx, path, result)
	}
}
