// Package store persists recording sessions and voice profiles in
// Postgres.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/davidhora/notula/internal/speakerid"
	"github.com/davidhora/notula/internal/transcript"
)

type Store struct {
	db *pgxpool.Pool
}

func New(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// Migrate creates the schema when it does not exist yet. Safe to run on
// every startup.
func (s *Store) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS recording_sessions (
			id UUID PRIMARY KEY,
			started_at TIMESTAMPTZ NOT NULL,
			ended_at TIMESTAMPTZ,
			mode TEXT NOT NULL,
			backend TEXT NOT NULL,
			language TEXT NOT NULL DEFAULT '',
			summary TEXT NOT NULL DEFAULT '',
			cost_cents INT NOT NULL DEFAULT 0,
			audio_files JSONB NOT NULL DEFAULT '[]',
			segments JSONB NOT NULL DEFAULT '[]',
			speakers JSONB NOT NULL DEFAULT '[]',
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS voice_profiles (
			person_id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			features JSONB NOT NULL DEFAULT '[]',
			embedding JSONB NOT NULL DEFAULT '[]',
			sample_count INT NOT NULL DEFAULT 0,
			trained_seconds DOUBLE PRECISION NOT NULL DEFAULT 0,
			trainings JSONB NOT NULL DEFAULT '[]',
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS recording_events (
			id BIGSERIAL PRIMARY KEY,
			session_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			data JSONB,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS recording_events_session_idx
			ON recording_events (session_id, created_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// LoadSessions returns all persisted sessions, most recent first.
func (s *Store) LoadSessions(ctx context.Context) ([]*transcript.RecordingSession, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, started_at, ended_at, mode, backend, language, summary,
		       cost_cents, audio_files, segments, speakers
		FROM recording_sessions
		ORDER BY started_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*transcript.RecordingSession
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// GetSession returns one session or nil when absent.
func (s *Store) GetSession(ctx context.Context, id string) (*transcript.RecordingSession, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, started_at, ended_at, mode, backend, language, summary,
		       cost_cents, audio_files, segments, speakers
		FROM recording_sessions
		WHERE id = $1
	`, id)
	sess, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return sess, err
}

func scanSession(row pgx.Row) (*transcript.RecordingSession, error) {
	var (
		sess       transcript.RecordingSession
		audioFiles []byte
		segments   []byte
		speakers   []byte
	)
	err := row.Scan(&sess.ID, &sess.StartedAt, &sess.EndedAt, &sess.Mode, &sess.Backend,
		&sess.Language, &sess.Summary, &sess.CostCents, &audioFiles, &segments, &speakers)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(audioFiles, &sess.AudioFiles); err != nil {
		return nil, fmt.Errorf("decoding audio_files for %s: %w", sess.ID, err)
	}
	if err := json.Unmarshal(segments, &sess.Segments); err != nil {
		return nil, fmt.Errorf("decoding segments for %s: %w", sess.ID, err)
	}
	if err := json.Unmarshal(speakers, &sess.Speakers); err != nil {
		return nil, fmt.Errorf("decoding speakers for %s: %w", sess.ID, err)
	}
	return &sess, nil
}

// SaveSessions upserts every given session.
func (s *Store) SaveSessions(ctx context.Context, sessions []*transcript.RecordingSession) error {
	for _, sess := range sessions {
		if err := s.SaveSession(ctx, sess); err != nil {
			return err
		}
	}
	return nil
}

// SaveSession upserts one session with its full transcript.
func (s *Store) SaveSession(ctx context.Context, sess *transcript.RecordingSession) error {
	audioFiles, err := jsonArray(sess.AudioFiles)
	if err != nil {
		return err
	}
	segments, err := jsonArray(sess.Segments)
	if err != nil {
		return err
	}
	speakers, err := jsonArray(sess.Speakers)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO recording_sessions
			(id, started_at, ended_at, mode, backend, language, summary,
			 cost_cents, audio_files, segments, speakers, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,now())
		ON CONFLICT (id) DO UPDATE SET
			ended_at = EXCLUDED.ended_at,
			language = EXCLUDED.language,
			summary = EXCLUDED.summary,
			cost_cents = EXCLUDED.cost_cents,
			audio_files = EXCLUDED.audio_files,
			segments = EXCLUDED.segments,
			speakers = EXCLUDED.speakers,
			updated_at = now()
	`, sess.ID, sess.StartedAt, sess.EndedAt, string(sess.Mode), string(sess.Backend),
		sess.Language, sess.Summary, sess.CostCents, audioFiles, segments, speakers)
	return err
}

// DeleteSession removes one session and its events.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM recording_sessions WHERE id = $1`, id); err != nil {
		return err
	}
	_, err := s.db.Exec(ctx, `DELETE FROM recording_events WHERE session_id = $1`, id)
	return err
}

// DeleteSessionsBefore removes sessions that ended before the cutoff and
// returns their audio file paths so the caller can unlink them.
func (s *Store) DeleteSessionsBefore(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := s.db.Query(ctx, `
		DELETE FROM recording_sessions
		WHERE ended_at IS NOT NULL AND ended_at < $1
		RETURNING id, audio_files
	`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var (
		ids   []string
		files []string
	)
	for rows.Next() {
		var id string
		var audioFiles []byte
		if err := rows.Scan(&id, &audioFiles); err != nil {
			return nil, err
		}
		var paths []string
		if err := json.Unmarshal(audioFiles, &paths); err == nil {
			files = append(files, paths...)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, id := range ids {
		if _, err := s.db.Exec(ctx, `DELETE FROM recording_events WHERE session_id = $1`, id); err != nil {
			return nil, err
		}
	}
	return files, nil
}

// LoadVoiceProfiles returns every stored voice profile.
func (s *Store) LoadVoiceProfiles(ctx context.Context) ([]*speakerid.VoiceProfile, error) {
	rows, err := s.db.Query(ctx, `
		SELECT person_id, name, features, embedding, sample_count, trained_seconds, trainings
		FROM voice_profiles
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*speakerid.VoiceProfile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetVoiceProfile returns one profile or nil when absent.
func (s *Store) GetVoiceProfile(ctx context.Context, personID string) (*speakerid.VoiceProfile, error) {
	row := s.db.QueryRow(ctx, `
		SELECT person_id, name, features, embedding, sample_count, trained_seconds, trainings
		FROM voice_profiles
		WHERE person_id = $1
	`, personID)
	p, err := scanProfile(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return p, err
}

func scanProfile(row pgx.Row) (*speakerid.VoiceProfile, error) {
	var (
		p         speakerid.VoiceProfile
		features  []byte
		embedding []byte
		trainings []byte
	)
	err := row.Scan(&p.PersonID, &p.Name, &features, &embedding,
		&p.SampleCount, &p.TrainedSeconds, &trainings)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(features, &p.Features); err != nil {
		return nil, fmt.Errorf("decoding features for %s: %w", p.PersonID, err)
	}
	if err := json.Unmarshal(embedding, &p.Embedding); err != nil {
		return nil, fmt.Errorf("decoding embedding for %s: %w", p.PersonID, err)
	}
	if err := json.Unmarshal(trainings, &p.Trainings); err != nil {
		return nil, fmt.Errorf("decoding trainings for %s: %w", p.PersonID, err)
	}
	return &p, nil
}

// SaveVoiceProfile upserts one profile.
func (s *Store) SaveVoiceProfile(ctx context.Context, p *speakerid.VoiceProfile) error {
	features, err := jsonArray(p.Features)
	if err != nil {
		return err
	}
	embedding, err := jsonArray(p.Embedding)
	if err != nil {
		return err
	}
	trainings, err := jsonArray(p.Trainings)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO voice_profiles
			(person_id, name, features, embedding, sample_count, trained_seconds, trainings, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,now())
		ON CONFLICT (person_id) DO UPDATE SET
			name = EXCLUDED.name,
			features = EXCLUDED.features,
			embedding = EXCLUDED.embedding,
			sample_count = EXCLUDED.sample_count,
			trained_seconds = EXCLUDED.trained_seconds,
			trainings = EXCLUDED.trainings,
			updated_at = now()
	`, p.PersonID, p.Name, features, embedding, p.SampleCount, p.TrainedSeconds, trainings)
	return err
}

// DeleteVoiceProfile removes one profile.
func (s *Store) DeleteVoiceProfile(ctx context.Context, personID string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM voice_profiles WHERE person_id = $1`, personID)
	return err
}

// jsonArray marshals a slice, mapping nil to an empty JSON array so the
// JSONB columns never hold SQL nulls.
func jsonArray(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if string(b) == "null" {
		return []byte("[]"), nil
	}
	return b, nil
}
