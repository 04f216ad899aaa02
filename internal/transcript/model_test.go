package transcript

import (
	"testing"
	"time"

	"github.com/davidhora/notula/internal/audio"
)

func TestInsertSegment_KeepsTimestampOrder(t *testing.T) {
	s := &RecordingSession{ID: "s1", StartedAt: time.Now(), Mode: ModeBoth}

	// Two sources interleaving out of global order.
	s.InsertSegment(TranscriptSegment{Timestamp: 1.0, Text: "a", Source: audio.TagMicrophone})
	s.InsertSegment(TranscriptSegment{Timestamp: 3.0, Text: "c", Source: audio.TagMicrophone})
	s.InsertSegment(TranscriptSegment{Timestamp: 2.0, Text: "b", Source: audio.TagSystem})

	want := []string{"a", "b", "c"}
	for i, seg := range s.Segments {
		if seg.Text != want[i] {
			t.Errorf("Segments[%d].Text = %q, want %q", i, seg.Text, want[i])
		}
	}
}

func TestEnsureSpeaker_LazyCreation(t *testing.T) {
	s := &RecordingSession{}

	sp := s.EnsureSpeaker(3)
	if sp.ID != 3 {
		t.Errorf("EnsureSpeaker(3).ID = %d, want 3", sp.ID)
	}
	if sp.Color == "" {
		t.Error("new speaker has no color")
	}
	if len(s.Speakers) != 1 {
		t.Fatalf("len(Speakers) = %d, want 1", len(s.Speakers))
	}

	again := s.EnsureSpeaker(3)
	if len(s.Speakers) != 1 {
		t.Errorf("len(Speakers) = %d after re-ensure, want 1", len(s.Speakers))
	}
	if again != &s.Speakers[0] {
		t.Error("EnsureSpeaker returned a different record for an existing ID")
	}
}

func TestInsertSegment_CreatesSpeaker(t *testing.T) {
	s := &RecordingSession{}
	id := SpeakerOffsetSystem + 1
	s.InsertSegment(TranscriptSegment{Timestamp: 0, Text: "x", SpeakerID: &id})

	if s.SpeakerByID(id) == nil {
		t.Errorf("SpeakerByID(%d) = nil, want lazily created speaker", id)
	}
}

func TestFinalize(t *testing.T) {
	s := &RecordingSession{StartedAt: time.Now().Add(-time.Minute)}
	end := time.Now()
	s.Finalize(end, []string{"/tmp/a.wav"})

	if s.EndedAt == nil || !s.EndedAt.Equal(end) {
		t.Errorf("EndedAt = %v, want %v", s.EndedAt, end)
	}
	if len(s.AudioFiles) != 1 {
		t.Errorf("AudioFiles = %v, want one entry", s.AudioFiles)
	}
	if d := s.Duration(); d < 59*time.Second || d > 61*time.Second {
		t.Errorf("Duration() = %v, want ~1m", d)
	}
}
