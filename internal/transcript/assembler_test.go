package transcript

import (
	"testing"

	"github.com/davidhora/notula/internal/audio"
	"github.com/davidhora/notula/internal/stt"
)

func intPtr(i int) *int { return &i }

func newTestAssembler(tag audio.SourceTag) *Assembler {
	elapsed := 42.0
	return NewAssembler(tag, nil, func() float64 { return elapsed })
}

func interim(text string) stt.Event {
	return stt.Event{Type: stt.EventResults, Text: text}
}

func final(text string) stt.Event {
	return stt.Event{Type: stt.EventResults, Text: text, IsFinal: true, Confidence: 0.9}
}

func TestAssembler_InterimReplacesBuffer(t *testing.T) {
	a := newTestAssembler(audio.TagMicrophone)

	seg, live := a.Apply(interim("hel"))
	if seg != nil {
		t.Fatal("interim event produced a segment")
	}
	if live != "hel" {
		t.Errorf("live = %q, want %q", live, "hel")
	}

	_, live = a.Apply(interim("hello wor"))
	if live != "hello wor" {
		t.Errorf("live = %q, want replacement %q", live, "hello wor")
	}
}

func TestAssembler_FinalAppendsAndClearsInterim(t *testing.T) {
	a := newTestAssembler(audio.TagMicrophone)

	a.Apply(final("First sentence."))
	a.Apply(interim("second sen"))
	seg, live := a.Apply(final("Second sentence."))

	if seg == nil {
		t.Fatal("final event produced no segment")
	}
	if live != "First sentence. Second sentence." {
		t.Errorf("live = %q, want accumulator with final appended", live)
	}
	// Interim buffer must be empty after a final.
	if got := a.Live(); got != "First sentence. Second sentence." {
		t.Errorf("Live() = %q, want no interim remainder", got)
	}
}

func TestAssembler_EmptyFinalIgnored(t *testing.T) {
	a := newTestAssembler(audio.TagMicrophone)
	a.Apply(final("Something."))

	seg, live := a.Apply(final("   "))
	if seg != nil {
		t.Error("empty final produced a segment")
	}
	if live != "Something." {
		t.Errorf("live = %q, want unchanged %q", live, "Something.")
	}
}

func TestAssembler_AnnotationsProduceNoSegments(t *testing.T) {
	a := newTestAssembler(audio.TagMicrophone)

	for _, text := range []string{"(music)", "[Applause]", "*laughs*"} {
		seg, _ := a.Apply(final(text))
		if seg != nil {
			t.Errorf("Apply(final %q) produced a segment", text)
		}
	}
	if got := a.Live(); got != "" {
		t.Errorf("Live() = %q, want empty after annotations only", got)
	}
}

func TestAssembler_TimestampFromFirstWord(t *testing.T) {
	a := newTestAssembler(audio.TagMicrophone)

	ev := final("hello there")
	ev.Words = []stt.Word{
		{Text: "hello", Start: 3.2, End: 3.5, Confidence: 0.95},
		{Text: "there", Start: 3.5, End: 3.9, Confidence: 0.92},
	}
	seg, _ := a.Apply(ev)
	if seg == nil {
		t.Fatal("no segment")
	}
	if seg.Timestamp != 3.2 {
		t.Errorf("Timestamp = %v, want first word start 3.2", seg.Timestamp)
	}
	if len(seg.Words) != 2 {
		t.Errorf("len(Words) = %d, want 2", len(seg.Words))
	}
}

func TestAssembler_TimestampFallbackToElapsed(t *testing.T) {
	a := newTestAssembler(audio.TagMicrophone)

	seg, _ := a.Apply(final("no word timings"))
	if seg == nil {
		t.Fatal("no segment")
	}
	if seg.Timestamp != 42.0 {
		t.Errorf("Timestamp = %v, want elapsed fallback 42.0", seg.Timestamp)
	}
}

func TestAssembler_SpeakerOffsets(t *testing.T) {
	tests := []struct {
		name       string
		tag        audio.SourceTag
		rawSpeaker *int
		want       int
	}{
		{"mic diarized", audio.TagMicrophone, intPtr(2), 2},
		{"mic default", audio.TagMicrophone, nil, 0},
		{"system diarized", audio.TagSystem, intPtr(2), SpeakerOffsetSystem + 2},
		{"system default", audio.TagSystem, nil, SpeakerOffsetSystem},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newTestAssembler(tt.tag)
			ev := final("hi")
			if tt.rawSpeaker != nil {
				ev.Words = []stt.Word{{Text: "hi", Start: 1, End: 2, Speaker: tt.rawSpeaker}}
			}
			seg, _ := a.Apply(ev)
			if seg == nil {
				t.Fatal("no segment")
			}
			if seg.SpeakerID == nil || *seg.SpeakerID != tt.want {
				t.Errorf("SpeakerID = %v, want %d", seg.SpeakerID, tt.want)
			}
		})
	}
}

func TestAssembler_DualSourceIDsNeverCollide(t *testing.T) {
	mic := newTestAssembler(audio.TagMicrophone)
	sys := newTestAssembler(audio.TagSystem)

	for raw := 0; raw < 5; raw++ {
		ev := final("x")
		ev.Words = []stt.Word{{Text: "x", Start: 1, End: 2, Speaker: intPtr(raw)}}

		micSeg, _ := mic.Apply(ev)
		sysSeg, _ := sys.Apply(ev)

		if *micSeg.SpeakerID >= SpeakerOffsetSystem {
			t.Errorf("mic speaker %d >= offset base", *micSeg.SpeakerID)
		}
		if *sysSeg.SpeakerID < SpeakerOffsetSystem {
			t.Errorf("system speaker %d < offset base", *sysSeg.SpeakerID)
		}
	}
}

func TestAssembler_DominantSpeakerWins(t *testing.T) {
	a := newTestAssembler(audio.TagMicrophone)
	ev := final("mostly speaker one")
	ev.Words = []stt.Word{
		{Text: "mostly", Start: 0, End: 1, Speaker: intPtr(1)},
		{Text: "speaker", Start: 1, End: 2, Speaker: intPtr(1)},
		{Text: "one", Start: 2, End: 3, Speaker: intPtr(0)},
	}
	seg, _ := a.Apply(ev)
	if seg.SpeakerID == nil || *seg.SpeakerID != 1 {
		t.Errorf("SpeakerID = %v, want dominant speaker 1", seg.SpeakerID)
	}
}

func TestAssembler_InterimFinalSequenceProperty(t *testing.T) {
	// For any interim sequence followed by one final, the live transcript
	// equals the prior accumulator plus the final text, and the interim
	// buffer is empty.
	a := newTestAssembler(audio.TagMicrophone)
	a.Apply(final("Prior."))

	for _, txt := range []string{"a", "ab", "abc draft"} {
		a.Apply(interim(txt))
	}
	_, live := a.Apply(final("Actual text."))

	if live != "Prior. Actual text." {
		t.Errorf("live = %q, want %q", live, "Prior. Actual text.")
	}
	if a.Live() != live {
		t.Errorf("Live() = %q, want %q (empty interim)", a.Live(), live)
	}
}

func TestAssembler_Reset(t *testing.T) {
	a := newTestAssembler(audio.TagMicrophone)
	a.Apply(final("Old session."))
	a.Apply(interim("pending"))

	a.Reset()
	if got := a.Live(); got != "" {
		t.Errorf("Live() after Reset = %q, want empty", got)
	}
}
