package speakerid

import (
	"math"
	"testing"
	"time"
)

func unitVec(dim, hot int) []float32 {
	v := make([]float32, dim)
	v[hot] = 1
	return v
}

func TestCosineDistance_SelfIsZero(t *testing.T) {
	a := Normalize([]float32{0.3, -0.2, 0.9, 0.1})
	if d := CosineDistance(a, a); math.Abs(d) > 1e-9 {
		t.Errorf("CosineDistance(a, a) = %v, want 0", d)
	}
}

func TestCosineDistance_Orthogonal(t *testing.T) {
	a := unitVec(4, 0)
	b := unitVec(4, 1)
	if d := CosineDistance(a, b); math.Abs(d-1) > 1e-9 {
		t.Errorf("CosineDistance(orthogonal) = %v, want 1", d)
	}
}

func TestCosineDistance_MismatchedOrEmpty(t *testing.T) {
	if d := CosineDistance(nil, unitVec(4, 0)); d != 1 {
		t.Errorf("CosineDistance(nil, b) = %v, want 1", d)
	}
	if d := CosineDistance(unitVec(3, 0), unitVec(4, 0)); d != 1 {
		t.Errorf("CosineDistance(mismatched dims) = %v, want 1", d)
	}
}

func TestNormalize(t *testing.T) {
	v := Normalize([]float32{3, 4})
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if math.Abs(norm-1) > 1e-6 {
		t.Errorf("|Normalize(v)| = %v, want 1", math.Sqrt(norm))
	}

	zero := []float32{0, 0}
	if got := Normalize(zero); got[0] != 0 || got[1] != 0 {
		t.Errorf("Normalize(zero) = %v, want unchanged", got)
	}
}

func rec(seconds float64) TrainingRecord {
	return TrainingRecord{SessionID: "s", SpeakerID: 0, Seconds: seconds, At: time.Now()}
}

func TestVoiceProfile_AddEmbeddingKeepsUnitNorm(t *testing.T) {
	p := &VoiceProfile{PersonID: "p1", Name: "Ada"}

	p.AddEmbedding([]float32{2, 0, 0, 0}, rec(3))
	p.AddEmbedding([]float32{0, 2, 0, 0}, rec(2))

	var norm float64
	for _, x := range p.Embedding {
		norm += float64(x) * float64(x)
	}
	if math.Abs(norm-1) > 1e-6 {
		t.Errorf("|embedding| = %v after updates, want 1", math.Sqrt(norm))
	}
	if p.SampleCount != 2 {
		t.Errorf("SampleCount = %d, want 2", p.SampleCount)
	}
	if p.TrainedSeconds != 5 {
		t.Errorf("TrainedSeconds = %v, want 5", p.TrainedSeconds)
	}
	if len(p.Trainings) != 2 {
		t.Errorf("len(Trainings) = %d, want 2", len(p.Trainings))
	}
}

func TestVoiceProfile_WeightedAverage(t *testing.T) {
	// A profile built from many copies of a: one new b sample must barely
	// move it.
	p := &VoiceProfile{PersonID: "p"}
	a := unitVec(4, 0)
	for i := 0; i < 10; i++ {
		p.AddEmbedding(a, rec(1))
	}
	p.AddEmbedding(unitVec(4, 1), rec(1))

	if d := CosineDistance(p.Embedding, a); d > 0.05 {
		t.Errorf("distance to dominant sample = %v, want small", d)
	}
}

func TestVoiceProfile_RepeatedCopiesAlwaysMatch(t *testing.T) {
	// Identification of a against a profile built purely from copies of a
	// succeeds below any positive threshold.
	a := Normalize([]float32{0.1, 0.5, -0.3, 0.8})
	p := &VoiceProfile{PersonID: "p"}
	for i := 0; i < 5; i++ {
		p.AddEmbedding(a, rec(1))
	}
	if d := CosineDistance(a, p.Embedding); d > 1e-6 {
		t.Errorf("CosineDistance(a, profile-of-a) = %v, want ~0", d)
	}
}

func TestVoiceProfile_AddFeatures(t *testing.T) {
	p := &VoiceProfile{PersonID: "p"}
	p.AddFeatures([]float64{100, 0.5}, rec(1))
	p.AddFeatures([]float64{200, 0.7}, rec(1))

	// Weighted average: (100*1 + 200)/2 = 150.
	if p.Features[0] != 150 {
		t.Errorf("Features[0] = %v, want 150", p.Features[0])
	}
	if p.SampleCount != 2 {
		t.Errorf("SampleCount = %d, want 2", p.SampleCount)
	}
}

func TestFeatureSimilarity(t *testing.T) {
	a := []float64{1, 2, 3}
	if s := FeatureSimilarity(a, a); math.Abs(s-1) > 1e-9 {
		t.Errorf("FeatureSimilarity(a, a) = %v, want 1", s)
	}
	if s := FeatureSimilarity(a, nil); s != 0 {
		t.Errorf("FeatureSimilarity(a, nil) = %v, want 0", s)
	}
}
