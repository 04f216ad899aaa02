package speakerid

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/cmplx"
	"net/http"
	"time"

	"github.com/davidhora/notula/internal/audio"
)

// ErrDegenerateFeatures marks audio whose extracted features carry no
// voice information (zero pitch or energy). Such spans are skipped during
// identification and training.
var ErrDegenerateFeatures = errors.New("degenerate acoustic features")

const (
	featureFrameSize = 400 // 25 ms at 16 kHz
	featureFrameStep = 160 // 10 ms hop
	melBands         = 8
	fftSize          = 512

	pitchMinHz = 60
	pitchMaxHz = 400
)

// ExtractFeatures computes the legacy acoustic feature vector over a span
// of samples: [pitch, energy, spectral centroid, zero-crossing rate,
// 8 mel band energies] — 12 dimensions.
func ExtractFeatures(samples []int16) ([]float64, error) {
	if len(samples) < featureFrameSize {
		return nil, fmt.Errorf("%w: span too short", ErrDegenerateFeatures)
	}

	var (
		pitchSum, pitchN float64
		energySum        float64
		centroidSum      float64
		zcrSum           float64
		melSum           [melBands]float64
		frames           int
	)

	for off := 0; off+featureFrameSize <= len(samples); off += featureFrameStep {
		frame := samples[off : off+featureFrameSize]
		f := toFloat(frame)

		energy := rms(f)
		energySum += energy
		zcrSum += zeroCrossingRate(frame)

		if p := autocorrelationPitch(f); p > 0 {
			pitchSum += p
			pitchN++
		}

		spec := powerSpectrum(f)
		centroidSum += spectralCentroid(spec)
		bands := melBandEnergies(spec)
		for i := range bands {
			melSum[i] += bands[i]
		}
		frames++
	}
	if frames == 0 {
		return nil, fmt.Errorf("%w: no frames", ErrDegenerateFeatures)
	}

	pitch := 0.0
	if pitchN > 0 {
		pitch = pitchSum / pitchN
	}
	energy := energySum / float64(frames)
	if pitch == 0 || energy == 0 {
		return nil, ErrDegenerateFeatures
	}

	out := make([]float64, 0, 4+melBands)
	out = append(out, pitch, energy, centroidSum/float64(frames), zcrSum/float64(frames))
	for i := 0; i < melBands; i++ {
		out = append(out, melSum[i]/float64(frames))
	}
	return out, nil
}

func toFloat(frame []int16) []float64 {
	f := make([]float64, len(frame))
	for i, s := range frame {
		f[i] = float64(s) / 32768.0
	}
	return f
}

func rms(f []float64) float64 {
	var sum float64
	for _, v := range f {
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(f)))
}

func zeroCrossingRate(frame []int16) float64 {
	var crossings int
	for i := 1; i < len(frame); i++ {
		if (frame[i-1] >= 0) != (frame[i] >= 0) {
			crossings++
		}
	}
	return float64(crossings) / float64(len(frame))
}

// autocorrelationPitch estimates the fundamental frequency by peak-picking
// the normalized autocorrelation inside the speech pitch range. Returns 0
// for unvoiced frames.
func autocorrelationPitch(f []float64) float64 {
	minLag := audio.SampleRate / pitchMaxHz
	maxLag := audio.SampleRate / pitchMinHz
	if maxLag >= len(f) {
		maxLag = len(f) - 1
	}

	var energy float64
	for _, v := range f {
		energy += v * v
	}
	if energy == 0 {
		return 0
	}

	bestLag, bestCorr := 0, 0.0
	for lag := minLag; lag <= maxLag; lag++ {
		var corr float64
		for i := 0; i+lag < len(f); i++ {
			corr += f[i] * f[i+lag]
		}
		corr /= energy
		if corr > bestCorr {
			bestCorr = corr
			bestLag = lag
		}
	}
	// Voicing threshold: weak periodicity is noise.
	if bestCorr < 0.3 || bestLag == 0 {
		return 0
	}
	return float64(audio.SampleRate) / float64(bestLag)
}

// powerSpectrum returns the first fftSize/2 power bins of a zero-padded
// frame.
func powerSpectrum(f []float64) []float64 {
	buf := make([]complex128, fftSize)
	for i := 0; i < len(f) && i < fftSize; i++ {
		// Hann window.
		w := 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(len(f)-1)))
		buf[i] = complex(f[i]*w, 0)
	}
	fft(buf)
	spec := make([]float64, fftSize/2)
	for i := range spec {
		spec[i] = cmplx.Abs(buf[i])
		spec[i] *= spec[i]
	}
	return spec
}

// fft is an in-place iterative radix-2 Cooley–Tukey transform.
func fft(a []complex128) {
	n := len(a)
	for i, j := 1, 0; i < n; i++ {
		bit := n >> 1
		for ; j&bit != 0; bit >>= 1 {
			j ^= bit
		}
		j |= bit
		if i < j {
			a[i], a[j] = a[j], a[i]
		}
	}
	for length := 2; length <= n; length <<= 1 {
		ang := -2 * math.Pi / float64(length)
		wl := cmplx.Rect(1, ang)
		for i := 0; i < n; i += length {
			w := complex(1, 0)
			for j := 0; j < length/2; j++ {
				u := a[i+j]
				v := a[i+j+length/2] * w
				a[i+j] = u + v
				a[i+j+length/2] = u - v
				w *= wl
			}
		}
	}
}

func spectralCentroid(spec []float64) float64 {
	var num, den float64
	binHz := float64(audio.SampleRate) / float64(fftSize)
	for i, p := range spec {
		num += float64(i) * binHz * p
		den += p
	}
	if den == 0 {
		return 0
	}
	return num / den
}

// melBandEnergies sums spectrum power into mel-spaced bands up to 8 kHz.
func melBandEnergies(spec []float64) [melBands]float64 {
	var out [melBands]float64
	melMax := hzToMel(float64(audio.SampleRate) / 2)
	binHz := float64(audio.SampleRate) / float64(fftSize)
	for i, p := range spec {
		mel := hzToMel(float64(i) * binHz)
		band := int(mel / melMax * melBands)
		if band >= melBands {
			band = melBands - 1
		}
		out[band] += p
	}
	// Log compression keeps band magnitudes comparable.
	for i := range out {
		out[i] = math.Log1p(out[i])
	}
	return out
}

func hzToMel(hz float64) float64 {
	return 2595 * math.Log10(1+hz/700)
}

// Extractor computes a voice embedding for a span of PCM samples. nil
// extractors are allowed: identification then uses legacy features only.
type Extractor interface {
	ExtractEmbedding(ctx context.Context, samples []int16) ([]float32, error)
}

// HTTPExtractor delegates embedding extraction to a local embedding
// service that accepts WAV bytes and returns a JSON embedding.
type HTTPExtractor struct {
	url    string
	client *http.Client
}

// NewHTTPExtractor builds an extractor against the given service URL.
func NewHTTPExtractor(url string, client *http.Client) *HTTPExtractor {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPExtractor{url: url, client: client}
}

type embeddingResponse struct {
	Embedding []float32 `json:"embedding"`
}

func (e *HTTPExtractor) ExtractEmbedding(ctx context.Context, samples []int16) ([]float32, error) {
	frame := audio.Frame{Samples: samples}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(frame.Bytes()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedding service: status %d", resp.StatusCode)
	}
	var parsed embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("embedding service: %w", err)
	}
	if len(parsed.Embedding) != EmbeddingDim {
		return nil, fmt.Errorf("embedding service: got %d dims, want %d", len(parsed.Embedding), EmbeddingDim)
	}
	return Normalize(parsed.Embedding), nil
}
