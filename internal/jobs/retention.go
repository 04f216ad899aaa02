// Package jobs holds the daemon's background maintenance jobs.
package jobs

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/davidhora/notula/internal/logger"
	"github.com/davidhora/notula/internal/store"
)

// RetentionJob purges recordings past their retention period and sweeps
// orphaned chunk temp files. It runs on a configurable interval
// (default: 6 hours).
type RetentionJob struct {
	store     *store.Store
	log       *logger.Logger
	retention time.Duration
	tmpDir    string
	interval  time.Duration
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

// NewRetentionJob creates a retention job. retention <= 0 disables session
// purging; chunk sweeping still runs.
func NewRetentionJob(s *store.Store, log *logger.Logger, retention time.Duration, tmpDir string, interval time.Duration) *RetentionJob {
	if interval == 0 {
		interval = 6 * time.Hour
	}
	return &RetentionJob{
		store:     s,
		log:       log.Component("retention"),
		retention: retention,
		tmpDir:    tmpDir,
		interval:  interval,
		stopCh:    make(chan struct{}),
	}
}

// Start begins the background job.
func (j *RetentionJob) Start() {
	j.wg.Add(1)
	go j.run()
	j.log.WithField("interval", j.interval.String()).Info("retention job started")
}

// Stop gracefully stops the background job.
func (j *RetentionJob) Stop() {
	close(j.stopCh)
	j.wg.Wait()
	j.log.Info("retention job stopped")
}

func (j *RetentionJob) run() {
	defer j.wg.Done()

	// Run immediately on start
	j.sweep()

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			j.sweep()
		case <-j.stopCh:
			return
		}
	}
}

func (j *RetentionJob) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	j.purgeSessions(ctx)
	j.sweepChunks()
}

func (j *RetentionJob) purgeSessions(ctx context.Context) {
	if j.retention <= 0 || j.store == nil {
		return
	}
	cutoff := time.Now().Add(-j.retention)
	files, err := j.store.DeleteSessionsBefore(ctx, cutoff)
	if err != nil {
		j.log.WithError(err).Error("session purge failed")
		return
	}
	removed := 0
	for _, f := range files {
		if err := os.Remove(f); err == nil {
			removed++
		} else if !os.IsNotExist(err) {
			j.log.WithError(err).WithField("file", f).Warn("removing session audio failed")
		}
	}
	if len(files) > 0 {
		j.log.WithField("sessions_audio", len(files)).
			WithField("removed", removed).
			Info("purged expired sessions")
	}
}

// sweepChunks removes chunk temp files older than a day: leftovers from
// batch runs interrupted mid-flight.
func (j *RetentionJob) sweepChunks() {
	if j.tmpDir == "" {
		return
	}
	matches, err := filepath.Glob(filepath.Join(j.tmpDir, "*.chunk*.wav"))
	if err != nil {
		return
	}
	cutoff := time.Now().Add(-24 * time.Hour)
	for _, path := range matches {
		info, err := os.Stat(path)
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(path); err != nil {
			j.log.WithError(err).WithField("file", path).Warn("removing orphan chunk failed")
		} else {
			j.log.WithField("file", path).Info("removed orphan chunk")
		}
	}
}
