package audio

import (
	"sync"
	"time"
)

// RingBuffer holds the most recent samples of one source, capped by
// duration. All access goes through the mutex; the critical sections are
// append+trim and copy-out only, so the capture path never waits long.
type RingBuffer struct {
	mu      sync.Mutex
	samples []int16
	cap     int // max samples retained
}

// NewRingBuffer creates a buffer retaining at most maxDuration of audio.
func NewRingBuffer(maxDuration time.Duration) *RingBuffer {
	return &RingBuffer{
		cap: int(maxDuration.Seconds() * float64(SampleRate)),
	}
}

// Append adds samples, trimming the oldest once the cap is exceeded.
func (r *RingBuffer) Append(samples []int16) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples = append(r.samples, samples...)
	if over := len(r.samples) - r.cap; over > 0 {
		r.samples = r.samples[over:]
	}
}

// Recent copies out up to the last d of audio.
func (r *RingBuffer) Recent(d time.Duration) []int16 {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := int(d.Seconds() * float64(SampleRate))
	if n > len(r.samples) {
		n = len(r.samples)
	}
	out := make([]int16, n)
	copy(out, r.samples[len(r.samples)-n:])
	return out
}

// Duration reports how much audio is currently buffered.
func (r *RingBuffer) Duration() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return time.Duration(float64(len(r.samples)) / float64(SampleRate) * float64(time.Second))
}

// Reset drops all buffered samples.
func (r *RingBuffer) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples = nil
}

// PeakAmplitude returns the largest absolute sample value, normalized to
// [0, 1]. Used to reject near-silent identification attempts.
func PeakAmplitude(samples []int16) float64 {
	var peak int32
	for _, s := range samples {
		v := int32(s)
		if v < 0 {
			v = -v
		}
		if v > peak {
			peak = v
		}
	}
	return float64(peak) / 32768.0
}
