package audio

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/youpy/go-wav"
)

// wavHeader is the fixed 44-byte RIFF header written up front with a zero
// data size and patched on close, so the file stays valid while samples are
// still being appended by the capture callback.
type wavHeader struct {
	ChunkID       [4]byte
	ChunkSize     uint32
	Format        [4]byte
	Subchunk1ID   [4]byte
	Subchunk1Size uint32
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Subchunk2ID   [4]byte
	Subchunk2Size uint32
}

func newWavHeader(dataSize uint32) wavHeader {
	return wavHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     dataSize + 36,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   Channels,
		SampleRate:    SampleRate,
		ByteRate:      SampleRate * Channels * BitsPerSample / 8,
		BlockAlign:    Channels * BitsPerSample / 8,
		BitsPerSample: BitsPerSample,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}
}

// SessionWriter appends capture frames to a WAV file. WriteFrame is called
// synchronously from the capture callback, so it does a single buffered
// write and nothing else.
type SessionWriter struct {
	mu       sync.Mutex
	f        *os.File
	path     string
	dataSize uint32
	closed   bool
}

// NewSessionWriter creates the session audio file and writes a provisional
// header.
func NewSessionWriter(path string) (*SessionWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create session wav: %w", err)
	}
	hdr := newWavHeader(0)
	if err := binary.Write(f, binary.LittleEndian, hdr); err != nil {
		f.Close()
		return nil, fmt.Errorf("write wav header: %w", err)
	}
	return &SessionWriter{f: f, path: path}, nil
}

// Path reports where the session audio is being written.
func (w *SessionWriter) Path() string { return w.path }

// WriteFrame appends one frame of PCM data in arrival order.
func (w *SessionWriter) WriteFrame(frame Frame) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return fmt.Errorf("session wav closed")
	}
	b := frame.Bytes()
	if _, err := w.f.Write(b); err != nil {
		return fmt.Errorf("write wav data: %w", err)
	}
	w.dataSize += uint32(len(b))
	return nil
}

// Duration reports the audio written so far.
func (w *SessionWriter) Duration() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	bytesPerSecond := SampleRate * Channels * BitsPerSample / 8
	return time.Duration(float64(w.dataSize)/float64(bytesPerSecond)) * time.Second
}

// Close patches the header sizes and closes the file.
func (w *SessionWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true

	if _, err := w.f.Seek(4, io.SeekStart); err != nil {
		w.f.Close()
		return fmt.Errorf("seek ChunkSize: %w", err)
	}
	if err := binary.Write(w.f, binary.LittleEndian, w.dataSize+36); err != nil {
		w.f.Close()
		return fmt.Errorf("patch ChunkSize: %w", err)
	}
	if _, err := w.f.Seek(40, io.SeekStart); err != nil {
		w.f.Close()
		return fmt.Errorf("seek Subchunk2Size: %w", err)
	}
	if err := binary.Write(w.f, binary.LittleEndian, w.dataSize); err != nil {
		w.f.Close()
		return fmt.Errorf("patch Subchunk2Size: %w", err)
	}
	return w.f.Close()
}

// ReadFile loads a whole WAV file as mono int16 samples. Multi-channel
// input keeps channel 0 only.
func ReadFile(path string) ([]int16, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open wav: %w", err)
	}
	defer f.Close()

	r := wav.NewReader(f)
	var out []int16
	for {
		samples, err := r.ReadSamples()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read wav samples: %w", err)
		}
		for _, s := range samples {
			out = append(out, int16(s.Values[0]))
		}
	}
	return out, nil
}

// FileDuration reports a WAV file's playback length.
func FileDuration(path string) (time.Duration, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open wav: %w", err)
	}
	defer f.Close()

	d, err := wav.NewReader(f).Duration()
	if err != nil {
		return 0, fmt.Errorf("wav duration: %w", err)
	}
	return d, nil
}

// WriteFile writes mono int16 samples as a 16 kHz PCM16 WAV. Sample count
// is known up front, so the header is written once.
func WriteFile(path string, samples []int16) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create wav: %w", err)
	}
	defer f.Close()

	w := wav.NewWriter(f, uint32(len(samples)), Channels, SampleRate, BitsPerSample)
	buf := make([]wav.Sample, len(samples))
	for i, s := range samples {
		buf[i].Values[0] = int(s)
	}
	if err := w.WriteSamples(buf); err != nil {
		return fmt.Errorf("write wav samples: %w", err)
	}
	return nil
}
