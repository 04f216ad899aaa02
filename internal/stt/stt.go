package stt

import (
	"context"
	"errors"
	"fmt"
)

// EventType tags messages arriving from a streaming backend.
type EventType string

const (
	EventResults       EventType = "Results"
	EventUtteranceEnd  EventType = "UtteranceEnd"
	EventMetadata      EventType = "Metadata"
	EventSpeechStarted EventType = "SpeechStarted"
	EventWarning       EventType = "Warning"
	EventError         EventType = "Error"
)

// Word is one recognized word with timing and optional diarization.
type Word struct {
	Text       string  // punctuated form when the backend provides one
	Start      float64 // seconds from stream start
	End        float64
	Confidence float64
	Speaker    *int // raw backend diarization index, nil without diarization
}

// Event is a single message from a streaming backend, normalized across
// providers.
type Event struct {
	Type        EventType
	Text        string
	Confidence  float64
	IsFinal     bool
	SpeechFinal bool
	Words       []Word
	Language    string // detected language, when the backend reports one
	Err         error  // set for EventError
}

// Segment is one attributed span from a pre-recorded (non-streaming)
// request.
type Segment struct {
	Start      float64
	End        float64
	Text       string
	Confidence float64
	Speaker    *int
	Words      []Word
}

// Stream is a live bidirectional transcription connection.
type Stream interface {
	// Send writes one frame of PCM16 audio to the backend. It must not
	// block the capture path; implementations buffer or drop.
	Send(ctx context.Context, pcm []byte) error

	// Keepalive sends the backend's no-op message to hold an idle
	// connection open.
	Keepalive(ctx context.Context) error

	// Events is the inbound event stream. Closed on teardown.
	Events() <-chan Event

	// Errors receives connection-level failures (distinct from
	// EventError protocol messages, which arrive on Events).
	Errors() <-chan error

	// Flush forces processing of any buffered-but-unprocessed audio,
	// even below the normal minimum chunk. No-op for backends without a
	// local accumulate buffer.
	Flush(ctx context.Context) error

	// Close tears the connection down. Events already emitted remain
	// readable until the channel drains.
	Close() error
}

// Backend opens transcription connections of one kind (cloud or local).
// Dual-source sessions open two independent streams from the same backend.
type Backend interface {
	// Name identifies the backend kind ("deepgram", "whisper").
	Name() string

	// OpenStream starts a live connection with the given options.
	OpenStream(ctx context.Context, opts StreamOptions) (Stream, error)

	// TranscribeFile runs the non-streaming request path over a whole
	// audio file and returns attributed segments.
	TranscribeFile(ctx context.Context, path string, language string) ([]Segment, error)
}

// StreamOptions parameterize a live connection.
type StreamOptions struct {
	Language       string // empty selects MultiLanguage
	Diarize        bool
	InterimResults bool
	UtteranceEndMs int
	Endpointing    int
	Keyterms       []string
	SampleRate     int
	Encoding       string
}

// MultiLanguage is the sentinel selecting automatic language detection.
const MultiLanguage = "multi"

// ErrNotConfigured indicates missing credentials; fatal to starting a
// session, never retried.
var ErrNotConfigured = errors.New("transcription backend not configured")

// ConnectionError marks recoverable transport failures that drive the
// bounded reconnect loop.
type ConnectionError struct {
	Backend string
	Err     error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s connection: %v", e.Backend, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// ProtocolError marks malformed or unexpected backend messages. Logged and
// skipped; never tears down the connection.
type ProtocolError struct {
	Backend string
	Detail  string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s protocol: %s", e.Backend, e.Detail)
}
