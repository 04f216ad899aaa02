package audio

import (
	"fmt"
	"strings"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/davidhora/notula/internal/logger"
)

// frameChannelBuffer bounds how far the consumer may lag before frames are
// dropped. The capture callback never blocks on a full channel.
const frameChannelBuffer = 64

// FrameSink receives every captured frame synchronously on the capture
// callback, before channel dispatch. Used for the session WAV file, where
// strict frame ordering matters; implementations must return quickly.
type FrameSink interface {
	WriteFrame(Frame) error
}

// Init initializes the shared PortAudio runtime. Call once per process.
func Init() error {
	return portaudio.Initialize()
}

// Terminate releases the PortAudio runtime.
func Terminate() error {
	return portaudio.Terminate()
}

// Capture is a PortAudio-backed Source for either the default microphone or
// a system-audio loopback/monitor device.
type Capture struct {
	tag    SourceTag
	device *portaudio.DeviceInfo // nil means default input
	sink   FrameSink
	log    *logger.Logger

	mu      sync.Mutex
	stream  *portaudio.Stream
	frames  chan Frame
	errs    chan error
	dropped int
	running bool
}

// NewMicrophone builds a capture source over the default input device.
func NewMicrophone(log *logger.Logger, sink FrameSink) *Capture {
	return &Capture{
		tag:  TagMicrophone,
		sink: sink,
		log:  log.Component("audio.mic"),
	}
}

// NewLoopback builds a capture source over the first input device that looks
// like a system-audio loopback (monitor devices on PulseAudio, "Stereo Mix"
// style devices elsewhere).
func NewLoopback(log *logger.Logger, sink FrameSink) (*Capture, error) {
	dev, err := findLoopbackDevice()
	if err != nil {
		return nil, err
	}
	return &Capture{
		tag:    TagSystem,
		device: dev,
		sink:   sink,
		log:    log.Component("audio.loopback"),
	}, nil
}

func findLoopbackDevice() (*portaudio.DeviceInfo, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("list audio devices: %w", err)
	}
	for _, d := range devices {
		if d.MaxInputChannels < 1 {
			continue
		}
		name := strings.ToLower(d.Name)
		if strings.Contains(name, "monitor") ||
			strings.Contains(name, "loopback") ||
			strings.Contains(name, "stereo mix") ||
			strings.Contains(name, "blackhole") {
			return d, nil
		}
	}
	return nil, &CaptureError{Tag: TagSystem, Err: ErrDeviceUnavailable}
}

func (c *Capture) Tag() SourceTag { return c.tag }

func (c *Capture) Frames() <-chan Frame { return c.frames }

func (c *Capture) Errors() <-chan error { return c.errs }

// Start opens the stream and begins delivering frames. The PortAudio
// callback runs on a real-time thread: it copies samples, writes the sink
// synchronously (frame ordering in the recorded file), then hands off to the
// frame channel without blocking.
func (c *Capture) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return fmt.Errorf("capture %s: already started", c.tag)
	}

	c.frames = make(chan Frame, frameChannelBuffer)
	c.errs = make(chan error, 4)

	callback := func(in []int16) {
		samples := make([]int16, len(in))
		copy(samples, in)
		frame := Frame{Samples: samples, Tag: c.tag}

		if c.sink != nil {
			if err := c.sink.WriteFrame(frame); err != nil {
				select {
				case c.errs <- &CaptureError{Tag: c.tag, Err: err}:
				default:
				}
			}
		}

		select {
		case c.frames <- frame:
		default:
			c.dropped++
			if c.dropped%100 == 1 {
				c.log.WithField("dropped", c.dropped).Warn("frame channel full, dropping")
			}
		}
	}

	var (
		stream *portaudio.Stream
		err    error
	)
	if c.device == nil {
		stream, err = portaudio.OpenDefaultStream(Channels, 0, float64(SampleRate), FramesPerBuffer, callback)
	} else {
		params := portaudio.LowLatencyParameters(c.device, nil)
		params.Input.Channels = Channels
		params.SampleRate = float64(SampleRate)
		params.FramesPerBuffer = FramesPerBuffer
		stream, err = portaudio.OpenStream(params, callback)
	}
	if err != nil {
		return &CaptureError{Tag: c.tag, Err: err}
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return &CaptureError{Tag: c.tag, Err: err}
	}

	c.stream = stream
	c.running = true
	c.log.Info("capture started")
	return nil
}

// Stop halts capture and closes the frame channel.
func (c *Capture) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return nil
	}
	c.running = false

	err := c.stream.Stop()
	if cerr := c.stream.Close(); err == nil {
		err = cerr
	}
	c.stream = nil
	close(c.frames)
	c.log.WithField("dropped", c.dropped).Info("capture stopped")
	if err != nil {
		return &CaptureError{Tag: c.tag, Err: err}
	}
	return nil
}
