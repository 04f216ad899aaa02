package httpapi

import (
	"net/http"
	"testing"

	"github.com/davidhora/notula/internal/transcript"
)

func TestTrainingSegments(t *testing.T) {
	sess := &transcript.RecordingSession{
		Segments: []transcript.TranscriptSegment{
			{Timestamp: 1, SpeakerID: intPtr(0), Words: []transcript.TranscriptWord{{Text: "a", Start: 1, End: 3.5}}},
			{Timestamp: 5, SpeakerID: intPtr(1)},
			{Timestamp: 8, SpeakerID: intPtr(0)}, // no word timings
			{Timestamp: 12},                      // unattributed
		},
	}

	segs := trainingSegments(sess, 0)
	if len(segs) != 2 {
		t.Fatalf("len(segs) = %d, want 2", len(segs))
	}
	if segs[0].Start != 1 || segs[0].End != 3.5 {
		t.Errorf("segs[0] = %+v, want word-timed span 1..3.5", segs[0])
	}
	if segs[1].Start != 8 || segs[1].End != 13 {
		t.Errorf("segs[1] = %+v, want fallback span 8..13", segs[1])
	}

	if got := trainingSegments(sess, 7); len(got) != 0 {
		t.Errorf("segments for absent speaker = %v, want none", got)
	}
}

func TestAudioFileForSpeaker(t *testing.T) {
	sess := &transcript.RecordingSession{
		AudioFiles: []string{
			"/rec/s1-microphone.wav",
			"/rec/s1-system.wav",
		},
	}
	if got := audioFileForSpeaker(sess, 0); got != "/rec/s1-microphone.wav" {
		t.Errorf("mic-range speaker file = %s", got)
	}
	if got := audioFileForSpeaker(sess, 1000); got != "/rec/s1-system.wav" {
		t.Errorf("system-range speaker file = %s", got)
	}

	single := &transcript.RecordingSession{AudioFiles: []string{"/rec/only.wav"}}
	if got := audioFileForSpeaker(single, 1000); got != "/rec/only.wav" {
		t.Errorf("fallback file = %s, want the only recording", got)
	}
	if got := audioFileForSpeaker(&transcript.RecordingSession{}, 0); got != "" {
		t.Errorf("no files: got %s, want empty", got)
	}
}

func TestSpeakerEndpointsWithoutStore(t *testing.T) {
	api := newTestAPI(t)

	w := api.do(t, "GET", "/api/speakers", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("list: status = %d, want 503", w.Code)
	}
	w = api.do(t, "POST", "/api/speakers/p1/train", `{"session_id": "s1", "speaker_id": 0}`)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("train: status = %d, want 503", w.Code)
	}
}
