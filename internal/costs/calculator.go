// Package costs provides cost calculation for transcription API usage.
package costs

import (
	"os"
	"strconv"
	"time"

	"github.com/davidhora/notula/internal/transcript"
)

// Pricing constants (in cents per unit for precision).
// These are based on 2026 market rates and can be overridden via environment variables.
var (
	// DeepgramStreamingCentsPerMinute is the cost per minute for Deepgram
	// Nova-3 streaming STT. Default: $0.0077/min = 0.77 cents/min
	DeepgramStreamingCentsPerMinute = getEnvFloat("COST_DEEPGRAM_STREAM_CENTS_PER_MIN", 0.77)

	// DeepgramBatchCentsPerMinute is the cost per minute for Deepgram
	// pre-recorded transcription. Default: $0.0043/min = 0.43 cents/min
	DeepgramBatchCentsPerMinute = getEnvFloat("COST_DEEPGRAM_BATCH_CENTS_PER_MIN", 0.43)

	// EmbeddingCentsPerRequest is the cost per speaker-embedding extraction
	// request. Default: free for self-hosted extractors.
	EmbeddingCentsPerRequest = getEnvFloat("COST_EMBEDDING_CENTS_PER_REQ", 0)
)

// SessionCents computes the streaming cost of one recording session. Each
// leg of a dual-source session holds its own backend connection, so the
// session duration is billed per leg. Local backends cost nothing.
func SessionCents(kind transcript.BackendKind, duration time.Duration, legs int) int {
	if kind == transcript.BackendLocal {
		return 0
	}
	if legs < 1 {
		legs = 1
	}
	minutes := duration.Minutes() * float64(legs)
	return roundToInt(minutes * DeepgramStreamingCentsPerMinute)
}

// BatchCents computes the cost of a pre-recorded transcription of the
// given audio length.
func BatchCents(audio time.Duration) int {
	return roundToInt(audio.Minutes() * DeepgramBatchCentsPerMinute)
}

// roundToInt rounds a float to the nearest integer.
func roundToInt(f float64) int {
	if f < 0 {
		return int(f - 0.5)
	}
	return int(f + 0.5)
}

// getEnvFloat returns an environment variable as float64, or the default if not set.
func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}
