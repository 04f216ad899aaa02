package recorder

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/davidhora/notula/internal/audio"
	"github.com/davidhora/notula/internal/costs"
	"github.com/davidhora/notula/internal/eventlog"
	"github.com/davidhora/notula/internal/logger"
	"github.com/davidhora/notula/internal/speakerid"
	"github.com/davidhora/notula/internal/stt"
	"github.com/davidhora/notula/internal/transcript"
)

// SessionStore persists recording sessions across daemon restarts.
type SessionStore interface {
	LoadSessions(ctx context.Context) ([]*transcript.RecordingSession, error)
	SaveSessions(ctx context.Context, sessions []*transcript.RecordingSession) error
}

// SourceFactory opens the capture source for one tag. sink receives every
// captured frame synchronously (the session WAV writer).
type SourceFactory func(tag audio.SourceTag, sink audio.FrameSink) (audio.Source, error)

// SpeakerIdentifier is the real-time identification surface the
// orchestrator drives. Satisfied by speakerid.Identifier.
type SpeakerIdentifier interface {
	Observe(tag audio.SourceTag, samples []int16)
	Identify(ctx context.Context, speakerID int, tag audio.SourceTag) (*speakerid.Identification, error)
	Reset()
}

// Options wires the orchestrator's collaborators and tuning knobs.
type Options struct {
	Store      SessionStore
	Backends   map[transcript.BackendKind]stt.Backend
	Identifier SpeakerIdentifier // nil disables identification
	EventLog   *eventlog.Logger
	Sources    SourceFactory
	Filter     transcript.Filter
	Log        *logger.Logger

	// AudioDir receives per-session WAV files; empty disables audio
	// persistence.
	AudioDir string

	KeepaliveInterval time.Duration // idle-connection keepalive cadence
	AutosaveInterval  time.Duration // periodic session persistence
	CaptureGrace      time.Duration // audio still captured after stop
	ResultGrace       time.Duration // results still accepted after flush
	MaxReconnects     int           // attempts per disconnection
	ReconnectDelay    time.Duration // fixed delay between attempts
	VADEnabled        bool          // gate frames on the local backend
}

func (o Options) withDefaults() Options {
	if o.KeepaliveInterval == 0 {
		o.KeepaliveInterval = 10 * time.Second
	}
	if o.AutosaveInterval == 0 {
		o.AutosaveInterval = 30 * time.Second
	}
	if o.CaptureGrace == 0 {
		o.CaptureGrace = 500 * time.Millisecond
	}
	if o.ResultGrace == 0 {
		o.ResultGrace = 3 * time.Second
	}
	if o.MaxReconnects == 0 {
		o.MaxReconnects = 3
	}
	if o.ReconnectDelay == 0 {
		o.ReconnectDelay = 2 * time.Second
	}
	if o.Log == nil {
		o.Log = logger.NewNop()
	}
	return o
}

// StartOptions parameterize one recording session.
type StartOptions struct {
	Mode     transcript.RecordingMode
	Backend  transcript.BackendKind
	Language string // empty selects automatic detection
	Keyterms []string
}

// EventKind classifies orchestrator notifications.
type EventKind string

const (
	EventStarted        EventKind = "started"
	EventStopped        EventKind = "stopped"
	EventTranscript     EventKind = "transcript" // live text changed
	EventSegment        EventKind = "segment"    // final segment appended
	EventSessionUpdated EventKind = "session_updated"
	EventError          EventKind = "error"
)

// Event is one notification to subscribers (the HTTP push surface).
type Event struct {
	Kind      EventKind                     `json:"kind"`
	SessionID string                        `json:"session_id,omitempty"`
	Source    audio.SourceTag               `json:"source,omitempty"`
	Live      string                        `json:"live,omitempty"`
	Segment   *transcript.TranscriptSegment `json:"segment,omitempty"`
	Error     string                        `json:"error,omitempty"`
}

// Status is a point-in-time snapshot for the control API.
type Status struct {
	State   string                         `json:"state"`
	Session *transcript.RecordingSession   `json:"session,omitempty"`
	Live    map[audio.SourceTag]string     `json:"live,omitempty"`
}

// leg is one capture-to-transcription path. Single-source sessions run
// one; dual-source sessions run two fully independent legs.
type leg struct {
	tag    audio.SourceTag
	source audio.Source
	asm    *transcript.Assembler
	gate   *audio.Gate
	writer *audio.SessionWriter

	mu       sync.Mutex
	stream   stt.Stream
	lastSend time.Time
}

func (l *leg) setStream(s stt.Stream) {
	l.mu.Lock()
	l.stream = s
	l.lastSend = time.Now()
	l.mu.Unlock()
}

func (l *leg) currentStream() stt.Stream {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stream
}

func (l *leg) send(ctx context.Context, pcm []byte) error {
	l.mu.Lock()
	s := l.stream
	l.lastSend = time.Now()
	l.mu.Unlock()
	if s == nil {
		return nil
	}
	return s.Send(ctx, pcm)
}

func (l *leg) idleSince() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastSend
}

// Orchestrator owns the recording lifecycle: capture sources, backend
// streams, transcript assembly, speaker identification and persistence.
// One instance serves the whole daemon; at most one session is active.
type Orchestrator struct {
	opts Options
	log  *logger.Logger

	mu         sync.Mutex
	state      State
	session    *transcript.RecordingSession
	sessions   []*transcript.RecordingSession
	legs       []*leg
	backend    stt.Backend
	streamOpts stt.StreamOptions
	startedAt  time.Time
	cancel     context.CancelFunc
	wg         *sync.WaitGroup

	events chan Event
}

// New builds an orchestrator. Call Restore before serving traffic to load
// persisted sessions.
func New(opts Options) *Orchestrator {
	o := opts.withDefaults()
	return &Orchestrator{
		opts:   o,
		log:    o.Log.Component("recorder"),
		state:  StateIdle,
		events: make(chan Event, 64),
	}
}

// Events is the notification stream. Slow consumers lose events rather
// than stalling the capture path.
func (o *Orchestrator) Events() <-chan Event { return o.events }

func (o *Orchestrator) emit(ev Event) {
	select {
	case o.events <- ev:
	default:
	}
}

// Restore loads persisted sessions from the store.
func (o *Orchestrator) Restore(ctx context.Context) error {
	if o.opts.Store == nil {
		return nil
	}
	sessions, err := o.opts.Store.LoadSessions(ctx)
	if err != nil {
		return fmt.Errorf("restoring sessions: %w", err)
	}
	o.mu.Lock()
	o.sessions = sessions
	o.mu.Unlock()
	o.log.WithField("count", len(sessions)).Info("sessions restored")
	return nil
}

// Sessions returns the persisted session list, most recent first.
func (o *Orchestrator) Sessions() []*transcript.RecordingSession {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]*transcript.RecordingSession, len(o.sessions))
	copy(out, o.sessions)
	return out
}

// SessionByID returns a stored session or nil.
func (o *Orchestrator) SessionByID(id string) *transcript.RecordingSession {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, s := range o.sessions {
		if s.ID == id {
			return s
		}
	}
	return nil
}

// Current reports the lifecycle state and, while a session is active, a
// snapshot of its transcript so far.
func (o *Orchestrator) Current() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	st := Status{State: o.state.String()}
	if o.session != nil {
		st.Session = snapshotSession(o.session)
		st.Live = make(map[audio.SourceTag]string, len(o.legs))
		for _, l := range o.legs {
			if live := l.asm.Live(); live != "" {
				st.Live[l.tag] = live
			}
		}
	}
	return st
}

func snapshotSession(s *transcript.RecordingSession) *transcript.RecordingSession {
	cp := *s
	cp.Segments = append([]transcript.TranscriptSegment(nil), s.Segments...)
	cp.Speakers = append([]transcript.Speaker(nil), s.Speakers...)
	cp.AudioFiles = append([]string(nil), s.AudioFiles...)
	return &cp
}

func (o *Orchestrator) transition(to State) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.transitionLocked(to)
}

func (o *Orchestrator) transitionLocked(to State) error {
	if !o.state.CanTransition(to) {
		return &InvalidTransitionError{From: o.state, To: to}
	}
	o.log.WithField("from", o.state.String()).WithField("to", to.String()).Debug("state transition")
	o.state = to
	return nil
}

// Start begins a recording session. Returns ErrBusy when one is already
// active and ConfigurationError for unusable backends; device failures on
// a single requested source also fail the start, while dual-source mode
// degrades to whichever source opened.
func (o *Orchestrator) Start(ctx context.Context, req StartOptions) (*transcript.RecordingSession, error) {
	if req.Mode == "" {
		req.Mode = transcript.ModeMicrophone
	}
	if req.Backend == "" {
		req.Backend = transcript.BackendCloud
	}

	o.mu.Lock()
	if o.state != StateIdle {
		o.mu.Unlock()
		return nil, ErrBusy
	}
	if err := o.transitionLocked(StateStarting); err != nil {
		o.mu.Unlock()
		return nil, err
	}
	o.mu.Unlock()

	session, err := o.startLockedOut(ctx, req)
	if err != nil {
		o.mu.Lock()
		o.transitionLocked(StateIdle)
		o.session = nil
		o.legs = nil
		o.mu.Unlock()
		return nil, err
	}
	return session, nil
}

func (o *Orchestrator) startLockedOut(ctx context.Context, req StartOptions) (*transcript.RecordingSession, error) {
	backend, ok := o.opts.Backends[req.Backend]
	if !ok || backend == nil {
		return nil, &ConfigurationError{Err: fmt.Errorf("backend %q: %w", req.Backend, stt.ErrNotConfigured)}
	}

	language := req.Language
	if language == "" {
		language = stt.MultiLanguage
	}

	session := &transcript.RecordingSession{
		ID:        uuid.NewString(),
		StartedAt: time.Now(),
		Mode:      req.Mode,
		Backend:   req.Backend,
		Language:  req.Language,
	}

	streamOpts := stt.StreamOptions{
		Language:       language,
		Diarize:        true,
		InterimResults: true,
		UtteranceEndMs: 1000,
		Endpointing:    300,
		Keyterms:       req.Keyterms,
		SampleRate:     audio.SampleRate,
		Encoding:       "linear16",
	}

	legs, err := o.openLegs(ctx, backend, session, streamOpts, req.Mode)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	wg := &sync.WaitGroup{}

	o.mu.Lock()
	if err := o.transitionLocked(StateRecording); err != nil {
		o.mu.Unlock()
		cancel()
		teardownLegs(legs)
		return nil, err
	}
	o.session = session
	o.legs = legs
	o.backend = backend
	o.streamOpts = streamOpts
	o.startedAt = session.StartedAt
	o.cancel = cancel
	o.wg = wg
	o.mu.Unlock()

	if o.opts.Identifier != nil {
		o.opts.Identifier.Reset()
	}

	for _, l := range legs {
		wg.Add(2)
		go o.frameLoop(runCtx, wg, l)
		go o.eventLoop(runCtx, wg, l, l.currentStream())
	}
	wg.Add(2)
	go o.keepaliveLoop(runCtx, wg)
	go o.autosaveLoop(runCtx, wg)

	o.log.WithField("session", session.ID).
		WithField("mode", string(req.Mode)).
		WithField("backend", backend.Name()).
		Info("recording started")
	o.opts.EventLog.LogAsync(session.ID, eventlog.EventRecordingStarted, map[string]any{
		"mode":    string(req.Mode),
		"backend": backend.Name(),
	})
	o.emit(Event{Kind: EventStarted, SessionID: session.ID})
	return snapshotSession(session), nil
}

func (o *Orchestrator) tagsForMode(mode transcript.RecordingMode) []audio.SourceTag {
	switch mode {
	case transcript.ModeSystemAudio:
		return []audio.SourceTag{audio.TagSystem}
	case transcript.ModeBoth:
		return []audio.SourceTag{audio.TagMicrophone, audio.TagSystem}
	default:
		return []audio.SourceTag{audio.TagMicrophone}
	}
}

func (o *Orchestrator) openLegs(ctx context.Context, backend stt.Backend, session *transcript.RecordingSession, streamOpts stt.StreamOptions, mode transcript.RecordingMode) ([]*leg, error) {
	tags := o.tagsForMode(mode)
	elapsed := func() float64 { return time.Since(session.StartedAt).Seconds() }

	var legs []*leg
	var firstErr error
	for _, tag := range tags {
		l, err := o.openLeg(ctx, backend, session.ID, streamOpts, tag, elapsed)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			// Dual-source sessions degrade when one device is missing.
			if mode == transcript.ModeBoth {
				o.log.WithError(err).WithField("source", string(tag)).Warn("source unavailable, continuing without it")
				o.emit(Event{Kind: EventError, SessionID: session.ID, Source: tag, Error: err.Error()})
				continue
			}
			teardownLegs(legs)
			return nil, err
		}
		legs = append(legs, l)
	}
	if len(legs) == 0 {
		teardownLegs(legs)
		return nil, firstErr
	}
	return legs, nil
}

func (o *Orchestrator) openLeg(ctx context.Context, backend stt.Backend, sessionID string, streamOpts stt.StreamOptions, tag audio.SourceTag, elapsed func() float64) (*leg, error) {
	l := &leg{
		tag: tag,
		asm: transcript.NewAssembler(tag, o.opts.Filter, elapsed),
	}
	if o.opts.VADEnabled {
		l.gate = audio.NewGate(0)
	}

	var sink audio.FrameSink = nopSink{}
	if o.opts.AudioDir != "" {
		path := filepath.Join(o.opts.AudioDir, fmt.Sprintf("%s-%s.wav", sessionID, tag))
		w, err := audio.NewSessionWriter(path)
		if err != nil {
			return nil, fmt.Errorf("opening session audio file: %w", err)
		}
		l.writer = w
		sink = w
	}

	source, err := o.opts.Sources(tag, sink)
	if err != nil {
		l.close()
		return nil, &audio.CaptureError{Tag: tag, Err: err}
	}
	if err := source.Start(); err != nil {
		l.close()
		return nil, &audio.CaptureError{Tag: tag, Err: err}
	}
	l.source = source

	stream, err := backend.OpenStream(ctx, streamOpts)
	if err != nil {
		source.Stop()
		l.close()
		if errors.Is(err, stt.ErrNotConfigured) {
			return nil, &ConfigurationError{Err: err}
		}
		return nil, err
	}
	l.setStream(stream)
	return l, nil
}

type nopSink struct{}

func (nopSink) WriteFrame(audio.Frame) error { return nil }

func (l *leg) close() {
	if s := l.currentStream(); s != nil {
		s.Close()
	}
	if l.writer != nil {
		l.writer.Close()
	}
}

func teardownLegs(legs []*leg) {
	for _, l := range legs {
		if l.source != nil {
			l.source.Stop()
		}
		l.close()
	}
}

// Stop ends the active session: capture drains through a short grace
// window, buffered audio is flushed to the backend, trailing results are
// waited out, then everything is torn down and the session persisted.
func (o *Orchestrator) Stop(ctx context.Context) (*transcript.RecordingSession, error) {
	o.mu.Lock()
	if o.state != StateRecording {
		o.mu.Unlock()
		return nil, ErrNotRecording
	}
	if err := o.transitionLocked(StateStopping); err != nil {
		o.mu.Unlock()
		return nil, err
	}
	session := o.session
	legs := o.legs
	cancel := o.cancel
	wg := o.wg
	o.mu.Unlock()

	o.log.WithField("session", session.ID).Info("stopping recording")

	// Trailing audio still in flight gets captured and sent.
	sleepCtx(ctx, o.opts.CaptureGrace)
	for _, l := range legs {
		if l.source != nil {
			l.source.Stop()
		}
	}

	// Push out anything buffered below the backend's minimum chunk, then
	// keep accepting results through the grace window.
	for _, l := range legs {
		if s := l.currentStream(); s != nil {
			if err := s.Flush(ctx); err != nil {
				o.log.WithError(err).WithField("source", string(l.tag)).Warn("flush failed")
			}
		}
	}
	sleepCtx(ctx, o.opts.ResultGrace)

	cancel()
	for _, l := range legs {
		if s := l.currentStream(); s != nil {
			s.Close()
		}
	}
	wg.Wait()

	return o.finishSession(ctx, session, legs, nil)
}

// finishSession finalizes, persists and detaches the session. terminal is
// non-nil when teardown was forced by an unrecoverable backend failure.
func (o *Orchestrator) finishSession(ctx context.Context, session *transcript.RecordingSession, legs []*leg, terminal error) (*transcript.RecordingSession, error) {
	var audioFiles []string
	for _, l := range legs {
		if l.writer == nil {
			continue
		}
		if err := l.writer.Close(); err != nil {
			o.log.WithError(err).WithField("source", string(l.tag)).Warn("closing session audio failed")
			continue
		}
		audioFiles = append(audioFiles, l.writer.Path())
	}

	o.mu.Lock()
	session.Finalize(time.Now(), audioFiles)
	session.CostCents = costs.SessionCents(session.Backend, session.Duration(), len(legs))
	o.sessions = append([]*transcript.RecordingSession{session}, o.sessions...)
	o.session = nil
	o.legs = nil
	o.cancel = nil
	o.wg = nil
	o.transitionLocked(StateIdle)
	sessions := append([]*transcript.RecordingSession(nil), o.sessions...)
	o.mu.Unlock()

	if o.opts.Store != nil {
		if err := o.opts.Store.SaveSessions(ctx, sessions); err != nil {
			o.log.WithError(err).Error("saving sessions failed")
			o.opts.EventLog.LogAsync(session.ID, eventlog.EventAutosaveFailed, map[string]any{"error": err.Error()})
		}
	}

	data := map[string]any{
		"segments": len(session.Segments),
		"duration": session.Duration().Seconds(),
	}
	if terminal != nil {
		data["terminal_error"] = terminal.Error()
	}
	o.opts.EventLog.LogAsync(session.ID, eventlog.EventRecordingStopped, data)
	o.emit(Event{Kind: EventStopped, SessionID: session.ID})
	o.log.WithField("session", session.ID).
		WithField("segments", len(session.Segments)).
		Info("recording stopped")
	return snapshotSession(session), terminal
}

// abort tears the session down after a terminal failure, preserving every
// segment received so far.
func (o *Orchestrator) abort(cause error) {
	o.mu.Lock()
	if !o.state.AcceptsTranscripts() {
		o.mu.Unlock()
		return
	}
	if o.state == StateRecording {
		o.transitionLocked(StateStopping)
	}
	session := o.session
	legs := o.legs
	cancel := o.cancel
	wg := o.wg
	o.mu.Unlock()

	o.log.WithError(cause).Error("terminal session failure")
	o.opts.EventLog.LogAsync(session.ID, eventlog.EventTerminalError, map[string]any{"error": cause.Error()})
	o.emit(Event{Kind: EventError, SessionID: session.ID, Error: cause.Error()})

	for _, l := range legs {
		if l.source != nil {
			l.source.Stop()
		}
	}
	cancel()
	for _, l := range legs {
		if s := l.currentStream(); s != nil {
			s.Close()
		}
	}
	wg.Wait()
	o.finishSession(context.Background(), session, legs, cause)
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

// frameLoop forwards captured PCM to the backend stream until the source
// stops. The identifier sees every frame; the VAD gate only filters what
// reaches the backend.
func (o *Orchestrator) frameLoop(ctx context.Context, wg *sync.WaitGroup, l *leg) {
	defer wg.Done()
	for {
		select {
		case frame, ok := <-l.source.Frames():
			if !ok {
				return
			}
			if o.opts.Identifier != nil {
				o.opts.Identifier.Observe(l.tag, frame.Samples)
			}
			if l.gate != nil && !l.gate.IsSpeech(frame.Samples) {
				continue
			}
			if err := l.send(ctx, frame.Bytes()); err != nil {
				o.log.WithError(err).WithField("source", string(l.tag)).Debug("frame send failed")
			}
		case err := <-l.source.Errors():
			if err != nil {
				o.log.WithError(err).WithField("source", string(l.tag)).Warn("capture error")
				o.emit(Event{Kind: EventError, Source: l.tag, Error: err.Error()})
			}
		case <-ctx.Done():
			return
		}
	}
}

// eventLoop consumes one stream's events until it closes. Connection
// failures hand off to the bounded reconnect path; a successful reconnect
// spawns a fresh loop for the replacement stream.
func (o *Orchestrator) eventLoop(ctx context.Context, wg *sync.WaitGroup, l *leg, stream stt.Stream) {
	defer wg.Done()
	if stream == nil {
		return
	}
	for {
		select {
		case ev, ok := <-stream.Events():
			if !ok {
				return
			}
			o.handleEvent(l, ev)
		case err, ok := <-stream.Errors():
			if !ok {
				return
			}
			var connErr *stt.ConnectionError
			if errors.As(err, &connErr) {
				if ctx.Err() != nil {
					return
				}
				o.reconnect(ctx, wg, l, stream, err)
				return
			}
			o.log.WithError(err).WithField("source", string(l.tag)).Warn("stream error")
		case <-ctx.Done():
			return
		}
	}
}

func (o *Orchestrator) handleEvent(l *leg, ev stt.Event) {
	o.mu.Lock()
	session := o.session
	accepting := o.state.AcceptsTranscripts()
	o.mu.Unlock()
	if session == nil || !accepting {
		return
	}

	if ev.Type == stt.EventError {
		o.log.WithError(ev.Err).WithField("source", string(l.tag)).Warn("backend reported error")
		return
	}

	seg, live := l.asm.Apply(ev)
	if seg == nil {
		if ev.Type == stt.EventResults {
			o.emit(Event{Kind: EventTranscript, SessionID: session.ID, Source: l.tag, Live: live})
		}
		return
	}

	o.mu.Lock()
	session.InsertSegment(*seg)
	if lang := l.asm.Language(); lang != "" && session.Language == "" {
		session.Language = lang
	}
	o.mu.Unlock()

	o.opts.EventLog.LogAsync(session.ID, eventlog.EventSTTResult, map[string]any{
		"source":  string(l.tag),
		"speaker": seg.SpeakerID,
		"words":   len(seg.Words),
	})
	o.emit(Event{Kind: EventSegment, SessionID: session.ID, Source: l.tag, Segment: seg, Live: live})

	if o.opts.Identifier != nil && seg.SpeakerID != nil {
		go o.identifySpeaker(session, l.tag, *seg.SpeakerID)
	}
}

func (o *Orchestrator) identifySpeaker(session *transcript.RecordingSession, tag audio.SourceTag, speakerID int) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	match, err := o.opts.Identifier.Identify(ctx, speakerID, tag)
	if err != nil {
		o.log.WithError(err).WithField("speaker", speakerID).Warn("speaker identification failed")
		return
	}
	if match == nil {
		return
	}

	o.mu.Lock()
	if o.session == session {
		if sp := session.EnsureSpeaker(speakerID); sp.Name == "" {
			sp.Name = match.Name
		}
	}
	o.mu.Unlock()

	o.opts.EventLog.LogAsync(session.ID, eventlog.EventSpeakerIdentified, map[string]any{
		"speaker":  speakerID,
		"person":   match.PersonID,
		"distance": match.Distance,
		"method":   match.Method,
	})
	o.emit(Event{Kind: EventSessionUpdated, SessionID: session.ID, Source: tag})
}

// reconnect runs the bounded reconnect loop for one leg: fixed delay,
// fresh budget per disconnection. Exhaustion aborts the session with the
// partial transcript preserved.
func (o *Orchestrator) reconnect(ctx context.Context, wg *sync.WaitGroup, l *leg, failed stt.Stream, cause error) {
	o.mu.Lock()
	session := o.session
	backend := o.backend
	streamOpts := o.streamOpts
	o.mu.Unlock()
	if session == nil || backend == nil {
		return
	}

	failed.Close()
	o.log.WithError(cause).WithField("source", string(l.tag)).Warn("stream lost, reconnecting")

	attempt := 0
	lastErr := cause
	op := func() error {
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		attempt++
		o.opts.EventLog.LogAsync(session.ID, eventlog.EventReconnectAttempt, map[string]any{
			"source":  string(l.tag),
			"attempt": attempt,
		})
		stream, err := backend.OpenStream(ctx, streamOpts)
		if err != nil {
			lastErr = err
			o.log.WithError(err).WithField("attempt", attempt).Warn("reconnect attempt failed")
			return err
		}
		l.setStream(stream)
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(o.opts.ReconnectDelay), uint64(o.opts.MaxReconnects-1)),
		ctx)
	if err := backoff.Retry(op, policy); err != nil {
		if ctx.Err() != nil {
			return
		}
		go o.abort(&ReconnectExhaustedError{Attempts: attempt, Last: lastErr})
		return
	}

	o.log.WithField("source", string(l.tag)).WithField("attempts", attempt).Info("stream reconnected")
	o.opts.EventLog.LogAsync(session.ID, eventlog.EventReconnected, map[string]any{
		"source":   string(l.tag),
		"attempts": attempt,
	})
	wg.Add(1)
	go o.eventLoop(ctx, wg, l, l.currentStream())
}

// keepaliveLoop holds idle connections open. Legs that sent audio within
// the interval are skipped.
func (o *Orchestrator) keepaliveLoop(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	ticker := time.NewTicker(o.opts.KeepaliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			o.mu.Lock()
			legs := o.legs
			o.mu.Unlock()
			for _, l := range legs {
				if time.Since(l.idleSince()) < o.opts.KeepaliveInterval {
					continue
				}
				if s := l.currentStream(); s != nil {
					if err := s.Keepalive(ctx); err != nil {
						o.log.WithError(err).WithField("source", string(l.tag)).Debug("keepalive failed")
					}
				}
			}
		case <-ctx.Done():
			return
		}
	}
}

// autosaveLoop periodically persists the in-progress session so a crash
// loses at most one interval of transcript.
func (o *Orchestrator) autosaveLoop(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	if o.opts.Store == nil {
		return
	}
	ticker := time.NewTicker(o.opts.AutosaveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			o.mu.Lock()
			session := o.session
			var sessions []*transcript.RecordingSession
			if session != nil {
				sessions = append([]*transcript.RecordingSession{snapshotSession(session)}, o.sessions...)
			}
			o.mu.Unlock()
			if session == nil {
				continue
			}
			saveCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err := o.opts.Store.SaveSessions(saveCtx, sessions)
			cancel()
			if err != nil {
				o.log.WithError(err).Warn("autosave failed")
				o.opts.EventLog.LogAsync(session.ID, eventlog.EventAutosaveFailed, map[string]any{"error": err.Error()})
			}
		case <-ctx.Done():
			return
		}
	}
}
