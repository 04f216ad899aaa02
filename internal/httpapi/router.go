package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/davidhora/notula/internal/batch"
	"github.com/davidhora/notula/internal/eventlog"
	"github.com/davidhora/notula/internal/logger"
	"github.com/davidhora/notula/internal/notifications"
	"github.com/davidhora/notula/internal/recorder"
	"github.com/davidhora/notula/internal/speakerid"
	"github.com/davidhora/notula/internal/store"
	"github.com/davidhora/notula/internal/transcript"
)

type RouterConfig struct {
	// APIKey is the shared secret exchanged for a JWT at /auth/token.
	APIKey string

	// JWT Authentication
	JWTSecret string
	JWTExpiry time.Duration

	// Notifications
	DiscordWebhookURL string

	// APNs Push Notifications
	APNsKeyPath    string // Path to .p8 key file
	APNsKeyID      string // Key ID from Apple Developer Portal
	APNsTeamID     string // Team ID from Apple Developer Portal
	APNsBundleID   string // App bundle ID
	APNsProduction bool   // Use production environment
}

// Recorder is the control surface of the recording orchestrator.
type Recorder interface {
	Start(ctx context.Context, opts recorder.StartOptions) (*transcript.RecordingSession, error)
	Stop(ctx context.Context) (*transcript.RecordingSession, error)
	Current() recorder.Status
	Sessions() []*transcript.RecordingSession
	SessionByID(id string) *transcript.RecordingSession
	Events() <-chan recorder.Event
}

type Router struct {
	cfg        RouterConfig
	log        *logger.Logger
	recorder   Recorder
	store      *store.Store
	identifier *speakerid.Identifier
	batch      *batch.Transcriber
	jobs       *BatchRegistry
	eventLog   *eventlog.Logger
	discord    *notifications.Discord
	apns       *notifications.APNsClient
	push       *pushTokens
	hub        *liveHub
	mux        *http.ServeMux
}

func NewRouter(cfg RouterConfig, log *logger.Logger, rec Recorder, s *store.Store, ident *speakerid.Identifier, tr *batch.Transcriber, eventLog *eventlog.Logger) http.Handler {
	// Initialize APNs client (may be nil if not configured)
	apnsClient, err := notifications.NewAPNsClient(notifications.APNsConfig{
		KeyPath:    cfg.APNsKeyPath,
		KeyID:      cfg.APNsKeyID,
		TeamID:     cfg.APNsTeamID,
		BundleID:   cfg.APNsBundleID,
		Production: cfg.APNsProduction,
	}, log)
	if err != nil {
		log.WithError(err).Warn("APNs client initialization failed")
	}

	r := &Router{
		cfg:        cfg,
		log:        log.Component("httpapi"),
		recorder:   rec,
		store:      s,
		identifier: ident,
		batch:      tr,
		jobs:       NewBatchRegistry(),
		eventLog:   eventLog,
		discord:    notifications.NewDiscord(cfg.DiscordWebhookURL, log),
		apns:       apnsClient,
		push:       newPushTokens(),
		mux:        http.NewServeMux(),
	}
	if rec != nil {
		r.hub = newLiveHub(r, rec.Events())
		go r.hub.run()
	}

	r.routes()
	return withSentryRecovery(withCORS(r.mux))
}

func (r *Router) routes() {
	// Health check
	r.mux.HandleFunc("GET /healthz", r.handleHealthz)

	// Auth endpoints (public)
	r.mux.HandleFunc("POST /auth/token", r.handleIssueToken)

	// Recording control
	r.mux.HandleFunc("GET /api/recordings/current", r.withAuth(r.handleCurrentRecording))
	r.mux.HandleFunc("POST /api/recordings/start", r.withAuth(r.handleStartRecording))
	r.mux.HandleFunc("POST /api/recordings/stop", r.withAuth(r.handleStopRecording))
	r.mux.HandleFunc("GET /api/live", r.handleLiveWS)

	// Sessions
	r.mux.HandleFunc("GET /api/sessions", r.withAuth(r.handleListSessions))
	r.mux.HandleFunc("GET /api/sessions/{id}", r.withAuth(r.handleGetSession))
	r.mux.HandleFunc("DELETE /api/sessions/{id}", r.withAuth(r.handleDeleteSession))
	r.mux.HandleFunc("GET /api/sessions/{id}/export.xlsx", r.withAuth(r.handleExportXLSX))
	r.mux.HandleFunc("GET /api/sessions/{id}/export.txt", r.withAuth(r.handleExportText))

	// Batch transcription of pre-recorded files
	r.mux.HandleFunc("POST /api/batch", r.withAuth(r.handleSubmitBatch))
	r.mux.HandleFunc("GET /api/batch/{id}", r.withAuth(r.handleGetBatch))

	// Speaker profiles
	r.mux.HandleFunc("GET /api/speakers", r.withAuth(r.handleListSpeakers))
	r.mux.HandleFunc("POST /api/speakers/{personID}/train", r.withAuth(r.handleTrainSpeaker))
	r.mux.HandleFunc("DELETE /api/speakers/{personID}", r.withAuth(r.handleDeleteSpeaker))

	// Push notifications
	r.mux.HandleFunc("POST /api/push/register", r.withAuth(r.handlePushRegister))
	r.mux.HandleFunc("POST /api/push/unregister", r.withAuth(r.handlePushUnregister))
}

func (r *Router) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func withSentryRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				hub := sentry.CurrentHub().Clone()
				hub.Scope().SetRequest(req)
				hub.RecoverWithContext(req.Context(), err)
				hub.Flush(2 * time.Second)
				http.Error(w, `{"error": "internal server error"}`, http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, req)
	})
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PATCH,DELETE,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		if req.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, req)
	})
}

// captureError sends an error to Sentry with request context
func captureError(req *http.Request, err error, msg string) {
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetRequest(req)
		scope.SetExtra("message", msg)
		sentry.CaptureException(err)
	})
}
