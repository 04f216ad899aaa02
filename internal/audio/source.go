package audio

import (
	"errors"
	"fmt"
)

const (
	// SampleRate is the fixed capture format shared by every source and
	// backend: 16 kHz mono signed 16-bit PCM.
	SampleRate    = 16000
	Channels      = 1
	BitsPerSample = 16

	// FramesPerBuffer is the capture callback granularity (64 ms at 16 kHz).
	FramesPerBuffer = 1024
)

// SourceTag identifies which capture path produced a frame or segment.
type SourceTag string

const (
	TagMicrophone SourceTag = "microphone"
	TagSystem     SourceTag = "system"
	TagUnknown    SourceTag = "unknown"
)

// Frame is one capture callback's worth of PCM samples.
type Frame struct {
	Samples []int16
	Tag     SourceTag
}

// Bytes returns the frame as little-endian PCM16, the wire format every
// backend consumes.
func (f Frame) Bytes() []byte {
	out := make([]byte, len(f.Samples)*2)
	for i, s := range f.Samples {
		out[2*i] = byte(s)
		out[2*i+1] = byte(s >> 8)
	}
	return out
}

// DurationSeconds returns the frame length in seconds.
func (f Frame) DurationSeconds() float64 {
	return float64(len(f.Samples)) / float64(SampleRate)
}

// ErrDeviceUnavailable indicates the requested capture device cannot be
// opened. In dual-source mode the orchestrator may degrade to single-source.
var ErrDeviceUnavailable = errors.New("audio device unavailable")

// CaptureError wraps a device failure with its source tag so the
// orchestrator can decide whether the whole session dies or only one leg.
type CaptureError struct {
	Tag SourceTag
	Err error
}

func (e *CaptureError) Error() string {
	return fmt.Sprintf("capture %s: %v", e.Tag, e.Err)
}

func (e *CaptureError) Unwrap() error { return e.Err }

// Source produces a continuous sequence of fixed-format PCM frames. Two
// independent instances (microphone, system loopback) may run concurrently.
type Source interface {
	// Start begins capture. Frames are delivered on Frames() until Stop.
	Start() error
	// Stop ends capture and closes the frame channel.
	Stop() error
	// Frames is the push channel of captured PCM frames.
	Frames() <-chan Frame
	// Errors receives asynchronous capture failures.
	Errors() <-chan error
	// Tag reports which capture path this source represents.
	Tag() SourceTag
}
