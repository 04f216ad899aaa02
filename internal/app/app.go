package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/davidhora/notula/internal/audio"
	"github.com/davidhora/notula/internal/batch"
	"github.com/davidhora/notula/internal/eventlog"
	"github.com/davidhora/notula/internal/httpapi"
	"github.com/davidhora/notula/internal/jobs"
	"github.com/davidhora/notula/internal/logger"
	"github.com/davidhora/notula/internal/recorder"
	"github.com/davidhora/notula/internal/speakerid"
	"github.com/davidhora/notula/internal/store"
	"github.com/davidhora/notula/internal/stt"
	"github.com/davidhora/notula/internal/transcript"
)

// App owns every long-lived component of the recorder daemon and wires
// them together. The database is optional: without DATABASE_URL the
// daemon still records, but sessions live only in memory and speaker
// profiles cannot be trained.
type App struct {
	cfg        Config
	log        *logger.Logger
	db         *pgxpool.Pool
	store      *store.Store
	eventLog   *eventlog.Logger
	recorder   *recorder.Orchestrator
	identifier *speakerid.Identifier
	batch      *batch.Transcriber
	watcher    *batch.Watcher
	retention  *jobs.RetentionJob
	httpClient *http.Client

	stopWatcher context.CancelFunc
	watcherDone chan struct{}
}

func New(cfg Config, log *logger.Logger) (*App, error) {
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}

	a := &App{cfg: cfg, log: log}

	// Shared HTTP client with connection pooling for the Deepgram file
	// API and the embedding extractor.
	a.httpClient = &http.Client{
		Timeout: 5 * time.Minute,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   5 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 5 * time.Second,
		},
	}

	if cfg.DatabaseURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		db, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connecting to database: %w", err)
		}
		if err := db.Ping(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("pinging database: %w", err)
		}
		a.db = db
		a.store = store.New(db)
		if err := a.store.Migrate(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying migrations: %w", err)
		}
		a.eventLog = eventlog.New(db, log)
	} else {
		log.Warn("DATABASE_URL not set, sessions will not be persisted")
	}

	deepgram := stt.NewDeepgram(cfg.DeepgramAPIKey, a.httpClient, log)
	backends := map[transcript.BackendKind]stt.Backend{
		transcript.BackendCloud: deepgram,
	}
	if cfg.WhisperBin != "" {
		whisper := stt.NewWhisper(cfg.WhisperBin, cfg.WhisperModelDir, log)
		if err := whisper.LoadModel(stt.ModelSize(cfg.WhisperModel)); err != nil {
			log.WithError(err).Warn("whisper model unavailable, local backend disabled")
		} else {
			backends[transcript.BackendLocal] = whisper
		}
	}

	var extractor speakerid.Extractor
	if cfg.EmbeddingURL != "" {
		extractor = speakerid.NewHTTPExtractor(cfg.EmbeddingURL, a.httpClient)
	}
	a.identifier = speakerid.New(speakerid.Config{}, extractor, log)

	if cfg.AudioDir != "" {
		if err := os.MkdirAll(cfg.AudioDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating audio dir: %w", err)
		}
	}

	opts := recorder.Options{
		Backends:   backends,
		Identifier: a.identifier,
		EventLog:   a.eventLog,
		Sources:    portaudioSources(log),
		Filter:     transcript.NewAnnotationFilter(),
		Log:        log,
		AudioDir:   cfg.AudioDir,
		VADEnabled: cfg.VADEnabled,
	}
	if a.store != nil {
		opts.Store = a.store
	}
	a.recorder = recorder.New(opts)

	if a.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.recorder.Restore(ctx); err != nil {
			log.WithError(err).Warn("restoring saved sessions failed")
		}
		profiles, err := a.store.LoadVoiceProfiles(ctx)
		if err != nil {
			log.WithError(err).Warn("loading voice profiles failed")
		} else {
			a.identifier.SetProfiles(profiles)
		}
	}

	if cfg.DeepgramAPIKey != "" {
		a.batch = batch.NewTranscriber(deepgram, log, cfg.TmpDir)
	}
	if cfg.IngestDir != "" && a.batch != nil && a.store != nil {
		a.watcher = batch.NewWatcher(cfg.IngestDir, a.batch, a.ingestFinished, log)
	}
	if a.store != nil && cfg.RetentionDays > 0 {
		retention := time.Duration(cfg.RetentionDays) * 24 * time.Hour
		a.retention = jobs.NewRetentionJob(a.store, log, retention, cfg.TmpDir, 0)
	}

	return a, nil
}

// Start launches the background workers: the ingest-directory watcher
// and the retention sweep. The HTTP server is owned by the caller.
func (a *App) Start() {
	if a.watcher != nil {
		ctx, cancel := context.WithCancel(context.Background())
		a.stopWatcher = cancel
		a.watcherDone = make(chan struct{})
		go func() {
			defer close(a.watcherDone)
			if err := a.watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				a.log.WithError(err).Error("ingest watcher stopped")
			}
		}()
	}
	if a.retention != nil {
		a.retention.Start()
	}
}

func (a *App) Router() http.Handler {
	return httpapi.NewRouter(httpapi.RouterConfig{
		APIKey:            a.cfg.APIKey,
		JWTSecret:         a.cfg.JWTSecret,
		JWTExpiry:         a.cfg.JWTExpiry,
		DiscordWebhookURL: a.cfg.DiscordWebhookURL,
		APNsKeyPath:       a.cfg.APNsKeyPath,
		APNsKeyID:         a.cfg.APNsKeyID,
		APNsTeamID:        a.cfg.APNsTeamID,
		APNsBundleID:      a.cfg.APNsBundleID,
		APNsProduction:    a.cfg.APNsProduction,
	}, a.log, a.recorder, a.store, a.identifier, a.batch, a.eventLog)
}

func (a *App) Close() error {
	if a.stopWatcher != nil {
		a.stopWatcher()
		<-a.watcherDone
	}
	if a.retention != nil {
		a.retention.Stop()
	}
	if a.db != nil {
		a.db.Close()
	}
	return nil
}

// ingestFinished persists a session assembled from a file dropped into
// the ingest directory.
func (a *App) ingestFinished(ctx context.Context, path string, result *batch.Result) {
	now := time.Now()
	started := now.Add(-result.Duration)
	sess := &transcript.RecordingSession{
		ID:         uuid.NewString(),
		StartedAt:  started,
		EndedAt:    &now,
		Mode:       transcript.ModeFile,
		Backend:    transcript.BackendCloud,
		Segments:   result.Segments,
		Speakers:   result.Speakers,
		AudioFiles: []string{path},
		CostCents:  result.CostCents,
	}
	if err := a.store.SaveSession(ctx, sess); err != nil {
		a.log.WithError(err).WithField("path", path).Error("persisting ingested session failed")
		return
	}
	a.eventLog.LogAsync(sess.ID, eventlog.EventBatchCompleted, map[string]any{
		"path":          path,
		"segments":      len(result.Segments),
		"failed_chunks": len(result.FailedChunks),
	})
	a.log.WithField("session", sess.ID).WithField("path", path).Info("ingested recording transcribed")
}

// portaudioSources opens real capture devices for the orchestrator.
func portaudioSources(log *logger.Logger) recorder.SourceFactory {
	return func(tag audio.SourceTag, sink audio.FrameSink) (audio.Source, error) {
		switch tag {
		case audio.TagMicrophone:
			return audio.NewMicrophone(log, sink), nil
		case audio.TagSystem:
			return audio.NewLoopback(log, sink)
		default:
			return nil, fmt.Errorf("unknown capture source %q", tag)
		}
	}
}
