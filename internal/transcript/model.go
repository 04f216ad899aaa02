package transcript

import (
	"sort"
	"time"

	"github.com/davidhora/notula/internal/audio"
)

// SpeakerOffsetSystem is the base of the system-audio speaker ID range.
// Microphone diarization uses 0–999; system audio uses 1000 and up, so two
// independently diarized sources can never collide before identification
// resolves them to shared names.
const SpeakerOffsetSystem = 1000

// RecordingMode selects which capture paths a session uses.
type RecordingMode string

const (
	ModeMicrophone  RecordingMode = "microphone"
	ModeSystemAudio RecordingMode = "systemAudio"
	ModeBoth        RecordingMode = "both"
	// ModeFile marks sessions produced from pre-recorded audio.
	ModeFile RecordingMode = "file"
)

// BackendKind selects the recognition backend for a session.
type BackendKind string

const (
	BackendCloud BackendKind = "cloud"
	BackendLocal BackendKind = "local"
)

// TranscriptWord is one word with timing; its speaker may diverge from the
// segment's dominant speaker.
type TranscriptWord struct {
	Text       string  `json:"text"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Confidence float64 `json:"confidence"`
	SpeakerID  *int    `json:"speaker_id,omitempty"`
}

// TranscriptSegment is a finalized, attributed span of transcript text.
// Immutable once appended to a session.
type TranscriptSegment struct {
	Timestamp  float64          `json:"timestamp"` // seconds from session start
	Text       string           `json:"text"`
	SpeakerID  *int             `json:"speaker_id,omitempty"`
	Confidence float64          `json:"confidence"`
	IsFinal    bool             `json:"is_final"`
	Words      []TranscriptWord `json:"words,omitempty"`
	Source     audio.SourceTag  `json:"source"`
}

// Speaker is a per-session participant, created lazily the first time its
// ID appears in a segment.
type Speaker struct {
	ID        int       `json:"id"`
	Name      string    `json:"name,omitempty"`
	Embedding []float32 `json:"embedding,omitempty"`
	Color     string    `json:"color"`
}

// speakerPalette cycles display colors for lazily created speakers.
var speakerPalette = []string{
	"#4E79A7", "#F28E2B", "#E15759", "#76B7B2",
	"#59A14F", "#EDC948", "#B07AA1", "#FF9DA7",
}

// RecordingSession is one durable recording with its ordered transcript.
// Owned exclusively by the orchestrator while recording; handed to the
// store for persistence afterward.
type RecordingSession struct {
	ID        string          `json:"id"`
	StartedAt time.Time       `json:"started_at"`
	EndedAt   *time.Time      `json:"ended_at,omitempty"`
	Mode      RecordingMode   `json:"mode"`
	Backend   BackendKind     `json:"backend"`
	Language  string          `json:"language,omitempty"`

	Segments   []TranscriptSegment `json:"segments"`
	Speakers   []Speaker           `json:"speakers"`
	Summary    string              `json:"summary,omitempty"`
	AudioFiles []string            `json:"audio_files,omitempty"`
	CostCents  int                 `json:"cost_cents"`
}

// InsertSegment adds a segment keeping the session-global list sorted by
// timestamp. Per-source arrival order is already monotonic; the sort merges
// the two sources.
func (s *RecordingSession) InsertSegment(seg TranscriptSegment) {
	s.Segments = append(s.Segments, seg)
	// Usually already in place; sort only when the tail is out of order.
	n := len(s.Segments)
	if n > 1 && s.Segments[n-2].Timestamp > seg.Timestamp {
		sort.SliceStable(s.Segments, func(i, j int) bool {
			return s.Segments[i].Timestamp < s.Segments[j].Timestamp
		})
	}
	if seg.SpeakerID != nil {
		s.EnsureSpeaker(*seg.SpeakerID)
	}
}

// EnsureSpeaker returns the speaker record for id, creating it if this is
// the first time the ID is observed.
func (s *RecordingSession) EnsureSpeaker(id int) *Speaker {
	for i := range s.Speakers {
		if s.Speakers[i].ID == id {
			return &s.Speakers[i]
		}
	}
	s.Speakers = append(s.Speakers, Speaker{
		ID:    id,
		Color: speakerPalette[len(s.Speakers)%len(speakerPalette)],
	})
	return &s.Speakers[len(s.Speakers)-1]
}

// SpeakerByID returns the speaker record or nil.
func (s *RecordingSession) SpeakerByID(id int) *Speaker {
	for i := range s.Speakers {
		if s.Speakers[i].ID == id {
			return &s.Speakers[i]
		}
	}
	return nil
}

// Finalize stamps the end time and attaches the audio file references.
func (s *RecordingSession) Finalize(at time.Time, audioFiles []string) {
	s.EndedAt = &at
	s.AudioFiles = audioFiles
}

// Duration reports the session length so far.
func (s *RecordingSession) Duration() time.Duration {
	if s.EndedAt != nil {
		return s.EndedAt.Sub(s.StartedAt)
	}
	return time.Since(s.StartedAt)
}
