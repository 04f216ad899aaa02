package speakerid

import (
	"math"
	"time"
)

// EmbeddingDim is the fixed voice embedding size.
const EmbeddingDim = 256

// TrainingRecord is one provenance entry for a profile update.
type TrainingRecord struct {
	SessionID string    `json:"session_id"`
	SpeakerID int       `json:"speaker_id"`
	Seconds   float64   `json:"seconds"`
	At        time.Time `json:"at"`
}

// VoiceProfile is a per-person, cross-session voice record. The embedding,
// when present, is always unit-norm.
type VoiceProfile struct {
	PersonID string `json:"person_id"`
	Name     string `json:"name"`

	// Legacy acoustic feature vector (pitch, energy, spectral centroid,
	// zero-crossing rate, mel band energies). Kept for profiles trained
	// before embedding extraction was available.
	Features []float64 `json:"features,omitempty"`

	// L2-normalized voice embedding.
	Embedding []float32 `json:"embedding,omitempty"`

	SampleCount    int              `json:"sample_count"`
	TrainedSeconds float64          `json:"trained_seconds"`
	Trainings      []TrainingRecord `json:"trainings,omitempty"`
}

// AddEmbedding folds a new embedding into the profile by weighted average:
// the existing embedding weighs SampleCount, the new one weighs 1. The
// result is re-normalized to keep the unit-norm invariant.
func (p *VoiceProfile) AddEmbedding(e []float32, rec TrainingRecord) {
	e = Normalize(e)
	if len(p.Embedding) == 0 {
		p.Embedding = e
	} else {
		w := float32(p.SampleCount)
		merged := make([]float32, len(p.Embedding))
		for i := range merged {
			merged[i] = (p.Embedding[i]*w + e[i]) / (w + 1)
		}
		p.Embedding = Normalize(merged)
	}
	p.SampleCount++
	p.TrainedSeconds += rec.Seconds
	p.Trainings = append(p.Trainings, rec)
}

// AddFeatures folds a legacy feature vector in with the same weighting
// rule.
func (p *VoiceProfile) AddFeatures(f []float64, rec TrainingRecord) {
	if len(p.Features) == 0 {
		p.Features = append([]float64(nil), f...)
	} else {
		w := float64(p.SampleCount)
		for i := range p.Features {
			if i < len(f) {
				p.Features[i] = (p.Features[i]*w + f[i]) / (w + 1)
			}
		}
	}
	p.SampleCount++
	p.TrainedSeconds += rec.Seconds
	p.Trainings = append(p.Trainings, rec)
}

// Normalize returns the L2-normalized copy of e. A zero vector comes back
// unchanged.
func Normalize(e []float32) []float32 {
	var sum float64
	for _, v := range e {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return e
	}
	norm := float32(math.Sqrt(sum))
	out := make([]float32, len(e))
	for i, v := range e {
		out[i] = v / norm
	}
	return out
}

// CosineDistance returns 1 - cosine similarity for two embeddings.
// Identical normalized vectors give 0.
func CosineDistance(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 1
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}

// FeatureSimilarity returns cosine similarity in [0, 1]-ish range for
// legacy feature vectors (higher is more similar).
func FeatureSimilarity(a, b []float64) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
