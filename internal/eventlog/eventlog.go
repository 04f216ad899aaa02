package eventlog

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/davidhora/notula/internal/logger"
)

// EventType identifies the kind of recording event being logged.
type EventType string

const (
	EventRecordingStarted  EventType = "recording_started"
	EventSTTResult         EventType = "stt_result"
	EventReconnectAttempt  EventType = "reconnect_attempt"
	EventReconnected       EventType = "reconnected"
	EventSpeakerIdentified EventType = "speaker_identified"
	EventAutosaveFailed    EventType = "autosave_failed"
	EventRecordingStopped  EventType = "recording_stopped"
	EventTerminalError     EventType = "terminal_error"
	EventBatchSubmitted    EventType = "batch_submitted"
	EventBatchChunkFailed  EventType = "batch_chunk_failed"
	EventBatchCompleted    EventType = "batch_completed"
)

// Logger writes recording lifecycle events to the database for later
// debugging of sessions. All methods are safe to call with a nil
// database; they become no-ops.
type Logger struct {
	db  *pgxpool.Pool
	log *logger.Logger
}

func New(db *pgxpool.Pool, log *logger.Logger) *Logger {
	return &Logger{db: db, log: log.Component("eventlog")}
}

// Log writes a single event. data is marshaled to JSON; pass nil for
// events without a payload.
func (l *Logger) Log(ctx context.Context, sessionID string, eventType EventType, data any) error {
	if l == nil || l.db == nil {
		return nil
	}

	var payload []byte
	if data != nil {
		var err error
		payload, err = json.Marshal(data)
		if err != nil {
			return err
		}
	}

	_, err := l.db.Exec(ctx,
		`INSERT INTO recording_events (session_id, event_type, data, created_at)
		 VALUES ($1, $2, $3, $4)`,
		sessionID, string(eventType), payload, time.Now())
	return err
}

// LogAsync fires the insert in a goroutine so callers on the capture
// path never block on the database. Failures are logged and dropped.
func (l *Logger) LogAsync(sessionID string, eventType EventType, data any) {
	if l == nil || l.db == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := l.Log(ctx, sessionID, eventType, data); err != nil {
			l.log.WithError(err).WithField("event", string(eventType)).Warn("event log insert failed")
		}
	}()
}
