package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
)

// DiarizedRange is one speaker-attributed span from a local diarization
// pass, optionally carrying the span's voice embedding.
type DiarizedRange struct {
	Start     float64   `json:"start"`
	End       float64   `json:"end"`
	Speaker   int       `json:"speaker"`
	Embedding []float32 `json:"embedding,omitempty"`
}

// speakerCarryForwardGap is how far past a diarized range a segment may
// start and still inherit that range's speaker. Diarizers leave small holes
// at turn boundaries; text rarely changes hands inside them.
const speakerCarryForwardGap = 1.5

// RunDiarizer executes an external diarization CLI over a WAV file. The
// tool prints a JSON array of ranges on stdout.
func RunDiarizer(ctx context.Context, binPath, wavPath string) ([]DiarizedRange, error) {
	cmd := exec.CommandContext(ctx, binPath, wavPath)
	out, err := cmd.Output()
	if err != nil {
		if ee, ok := err.(*exec.ExitError); ok {
			return nil, fmt.Errorf("diarizer failed: %s", strings.TrimSpace(string(ee.Stderr)))
		}
		return nil, fmt.Errorf("diarizer failed: %w", err)
	}

	var ranges []DiarizedRange
	if err := json.Unmarshal(out, &ranges); err != nil {
		return nil, &ProtocolError{Backend: "diarizer", Detail: err.Error()}
	}
	return ranges, nil
}

// AssignSpeakers attributes segments to diarized ranges by temporal
// overlap. A segment with no overlapping range inherits the most recently
// ended range's speaker if the gap is small (carry-forward); otherwise its
// speaker stays nil.
func AssignSpeakers(segs []Segment, ranges []DiarizedRange) []Segment {
	if len(ranges) == 0 {
		return segs
	}

	out := make([]Segment, len(segs))
	copy(out, segs)

	for i := range out {
		seg := &out[i]
		best := -1
		var bestOverlap float64
		for _, r := range ranges {
			o := overlap(seg.Start, seg.End, r.Start, r.End)
			if o > bestOverlap {
				bestOverlap = o
				best = r.Speaker
			}
		}
		if best >= 0 {
			sp := best
			seg.Speaker = &sp
			continue
		}

		// Carry-forward: nearest range ending at or before this segment.
		var prev *DiarizedRange
		for j := range ranges {
			r := &ranges[j]
			if r.End <= seg.Start && (prev == nil || r.End > prev.End) {
				prev = r
			}
		}
		if prev != nil && seg.Start-prev.End <= speakerCarryForwardGap {
			sp := prev.Speaker
			seg.Speaker = &sp
		}
	}
	return out
}

func overlap(aStart, aEnd, bStart, bEnd float64) float64 {
	start := aStart
	if bStart > start {
		start = bStart
	}
	end := aEnd
	if bEnd < end {
		end = bEnd
	}
	if end <= start {
		return 0
	}
	return end - start
}
