package audio

import "math"

const (
	// defaultVADRatio is how far above the background noise floor a frame's
	// mean amplitude must rise to count as speech.
	defaultVADRatio = 2.2

	// noiseHistorySize bounds the rolling background estimate.
	noiseHistorySize = 50
)

// Gate classifies frames as speech or silence against an adaptive
// background noise estimate. Each IsSpeech call stands alone; the only state
// carried across calls is the noise floor.
type Gate struct {
	ratio   float64
	history []float64
	floor   float64
}

// NewGate builds a gate with the given speech/noise energy ratio. A ratio of
// 0 selects the default.
func NewGate(ratio float64) *Gate {
	if ratio <= 0 {
		ratio = defaultVADRatio
	}
	return &Gate{ratio: ratio}
}

// IsSpeech tags one frame. Frames classified as silence still feed the
// background estimate; speech frames do not, so sustained talking cannot
// raise the floor under itself.
func (g *Gate) IsSpeech(samples []int16) bool {
	amp := meanAmplitude(samples)

	if g.floor == 0 {
		g.observe(amp)
		return false
	}

	speech := amp > g.floor*g.ratio
	if !speech {
		g.observe(amp)
	}
	return speech
}

func (g *Gate) observe(amp float64) {
	g.history = append(g.history, amp)
	if len(g.history) > noiseHistorySize {
		g.history = g.history[1:]
	}
	var sum float64
	for _, a := range g.history {
		sum += a
	}
	g.floor = sum / float64(len(g.history))
	if g.floor < 1 {
		g.floor = 1 // silence floor, avoids divide-through on digital zero
	}
}

func meanAmplitude(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += math.Abs(float64(s))
	}
	return sum / float64(len(samples))
}
