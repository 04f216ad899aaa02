package audio

import (
	"testing"
	"time"
)

func TestRingBuffer_AppendAndTrim(t *testing.T) {
	r := NewRingBuffer(1 * time.Second) // cap = 16000 samples

	r.Append(make([]int16, SampleRate/2))
	if got := r.Duration(); got != 500*time.Millisecond {
		t.Errorf("Duration() = %v, want 500ms", got)
	}

	// Overfill: only the most recent second survives.
	r.Append(make([]int16, SampleRate*2))
	if got := r.Duration(); got != time.Second {
		t.Errorf("Duration() after overfill = %v, want 1s", got)
	}
}

func TestRingBuffer_RecentKeepsNewest(t *testing.T) {
	r := NewRingBuffer(1 * time.Second)

	old := make([]int16, SampleRate)
	for i := range old {
		old[i] = 1
	}
	fresh := make([]int16, SampleRate/2)
	for i := range fresh {
		fresh[i] = 2
	}
	r.Append(old)
	r.Append(fresh)

	got := r.Recent(250 * time.Millisecond)
	if len(got) != SampleRate/4 {
		t.Fatalf("Recent() returned %d samples, want %d", len(got), SampleRate/4)
	}
	for i, s := range got {
		if s != 2 {
			t.Fatalf("Recent()[%d] = %d, want 2 (newest samples)", i, s)
		}
	}
}

func TestRingBuffer_RecentLargerThanBuffered(t *testing.T) {
	r := NewRingBuffer(5 * time.Second)
	r.Append(make([]int16, 100))

	got := r.Recent(3 * time.Second)
	if len(got) != 100 {
		t.Errorf("Recent() returned %d samples, want all 100", len(got))
	}
}

func TestPeakAmplitude(t *testing.T) {
	tests := []struct {
		name    string
		samples []int16
		want    float64
	}{
		{"silence", []int16{0, 0, 0}, 0},
		{"full scale", []int16{0, -32768, 100}, 1.0},
		{"half scale", []int16{16384}, 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PeakAmplitude(tt.samples); got != tt.want {
				t.Errorf("PeakAmplitude() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFrameBytes(t *testing.T) {
	f := Frame{Samples: []int16{0x0102, -1}}
	got := f.Bytes()
	want := []byte{0x02, 0x01, 0xFF, 0xFF}
	if len(got) != len(want) {
		t.Fatalf("Bytes() length = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Bytes()[%d] = %#x, want %#x", i, got[i], want[i])
		}
	}
}
