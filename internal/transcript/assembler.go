package transcript

import (
	"strings"
	"sync"

	"github.com/davidhora/notula/internal/audio"
	"github.com/davidhora/notula/internal/stt"
)

// Assembler turns one backend's raw event stream into ordered transcript
// segments. Interim events replace a single mutable buffer and are never
// appended; only final events become segments.
//
// One assembler serves one source; dual-source sessions run two and merge
// their segments into the session-global list.
type Assembler struct {
	source         audio.SourceTag
	offset         int // added to backend diarization indices
	defaultSpeaker int // used when the backend supplies no diarization
	filter         Filter
	elapsed        func() float64 // recording-elapsed fallback clock

	mu       sync.Mutex
	finalAcc strings.Builder
	interim  string
	language string
}

// NewAssembler builds an assembler for one source. elapsed supplies seconds
// since recording start, used as the timestamp fallback when the backend
// sends no word timings.
func NewAssembler(source audio.SourceTag, filter Filter, elapsed func() float64) *Assembler {
	offset := 0
	if source == audio.TagSystem {
		offset = SpeakerOffsetSystem
	}
	if filter == nil {
		filter = NewAnnotationFilter()
	}
	return &Assembler{
		source:         source,
		offset:         offset,
		defaultSpeaker: offset,
		filter:         filter,
		elapsed:        elapsed,
	}
}

// Source reports which capture path this assembler serves.
func (a *Assembler) Source() audio.SourceTag { return a.source }

// Apply folds one backend event in. The returned segment is non-nil only
// when a final event survived filtering; live is the user-facing transcript
// after the event.
func (a *Assembler) Apply(ev stt.Event) (seg *TranscriptSegment, live string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if ev.Type != stt.EventResults {
		return nil, a.liveLocked()
	}
	if ev.Language != "" {
		a.language = ev.Language
	}

	if !ev.IsFinal {
		a.interim = ev.Text
		return nil, a.liveLocked()
	}

	// Final event.
	if strings.TrimSpace(ev.Text) == "" {
		return nil, a.liveLocked()
	}
	if a.filter.IsAnnotation(ev.Text) {
		// Acoustic-event annotation: never a segment, and the interim it
		// replaced was the same annotation.
		a.interim = ""
		return nil, a.liveLocked()
	}

	if a.finalAcc.Len() > 0 {
		a.finalAcc.WriteByte(' ')
	}
	a.finalAcc.WriteString(ev.Text)
	a.interim = ""

	return a.buildSegment(ev), a.liveLocked()
}

func (a *Assembler) buildSegment(ev stt.Event) *TranscriptSegment {
	seg := &TranscriptSegment{
		Text:       ev.Text,
		Confidence: ev.Confidence,
		IsFinal:    true,
		Source:     a.source,
	}

	if len(ev.Words) > 0 {
		seg.Timestamp = ev.Words[0].Start
		for _, w := range ev.Words {
			tw := TranscriptWord{
				Text:       w.Text,
				Start:      w.Start,
				End:        w.End,
				Confidence: w.Confidence,
			}
			if w.Speaker != nil {
				id := a.offset + *w.Speaker
				tw.SpeakerID = &id
			}
			seg.Words = append(seg.Words, tw)
		}
	} else {
		// Strictly monotonic but less accurate than word timings.
		seg.Timestamp = a.elapsed()
	}

	if sp := dominantSpeaker(ev.Words); sp != nil {
		id := a.offset + *sp
		seg.SpeakerID = &id
	} else {
		id := a.defaultSpeaker
		seg.SpeakerID = &id
	}
	return seg
}

// dominantSpeaker returns the diarization index attributed to the most
// words, or nil when the backend sent none.
func dominantSpeaker(words []stt.Word) *int {
	counts := map[int]int{}
	for _, w := range words {
		if w.Speaker != nil {
			counts[*w.Speaker]++
		}
	}
	if len(counts) == 0 {
		return nil
	}
	best, bestN := 0, -1
	for sp, n := range counts {
		if n > bestN || (n == bestN && sp < best) {
			best, bestN = sp, n
		}
	}
	return &best
}

// Live returns the current user-facing transcript: the final accumulator
// plus the interim buffer.
func (a *Assembler) Live() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.liveLocked()
}

func (a *Assembler) liveLocked() string {
	if a.interim == "" {
		return strings.TrimSpace(a.finalAcc.String())
	}
	return strings.TrimSpace(a.finalAcc.String() + " " + a.interim)
}

// Language returns the most recently detected language, if any.
func (a *Assembler) Language() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.language
}

// Reset clears all accumulated state for a new recording.
func (a *Assembler) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.finalAcc.Reset()
	a.interim = ""
	a.language = ""
}
