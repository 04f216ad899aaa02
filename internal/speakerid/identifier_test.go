package speakerid

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/davidhora/notula/internal/audio"
	"github.com/davidhora/notula/internal/logger"
)

// sine generates a voiced-looking tone at the given frequency.
func sine(freq float64, duration time.Duration, amplitude float64) []int16 {
	n := int(duration.Seconds() * audio.SampleRate)
	out := make([]int16, n)
	for i := range out {
		out[i] = int16(amplitude * math.Sin(2*math.Pi*freq*float64(i)/audio.SampleRate))
	}
	return out
}

// stubExtractor returns a fixed embedding.
type stubExtractor struct {
	emb   []float32
	calls int
}

func (s *stubExtractor) ExtractEmbedding(ctx context.Context, samples []int16) ([]float32, error) {
	s.calls++
	return s.emb, nil
}

func fixedEmbedding(hot int) []float32 {
	v := make([]float32, EmbeddingDim)
	v[hot] = 1
	return v
}

func newTestIdentifier(ext Extractor) *Identifier {
	return New(Config{}, ext, logger.NewNop())
}

func TestIdentify_RequiresBufferedAudio(t *testing.T) {
	id := newTestIdentifier(&stubExtractor{emb: fixedEmbedding(0)})
	id.SetProfiles([]*VoiceProfile{{PersonID: "p", Name: "Ada", Embedding: fixedEmbedding(0)}})

	// Nothing observed yet.
	got, err := id.Identify(context.Background(), 0, audio.TagMicrophone)
	if err != nil {
		t.Fatalf("Identify() error = %v", err)
	}
	if got != nil {
		t.Errorf("Identify() = %+v, want nil with empty buffer", got)
	}

	// Under the 1s minimum.
	id.Observe(audio.TagMicrophone, sine(200, 500*time.Millisecond, 8000))
	got, _ = id.Identify(context.Background(), 0, audio.TagMicrophone)
	if got != nil {
		t.Errorf("Identify() = %+v, want nil under MinBuffered", got)
	}
}

func TestIdentify_RejectsNearSilence(t *testing.T) {
	ext := &stubExtractor{emb: fixedEmbedding(0)}
	id := newTestIdentifier(ext)
	id.SetProfiles([]*VoiceProfile{{PersonID: "p", Name: "Ada", Embedding: fixedEmbedding(0)}})

	id.Observe(audio.TagMicrophone, sine(200, 2*time.Second, 50)) // peak ~0.0015
	got, err := id.Identify(context.Background(), 0, audio.TagMicrophone)
	if err != nil {
		t.Fatalf("Identify() error = %v", err)
	}
	if got != nil {
		t.Errorf("Identify() = %+v, want nil for near-silence", got)
	}
	if ext.calls != 0 {
		t.Errorf("extractor called %d times on silent window, want 0", ext.calls)
	}
}

func TestIdentify_EmbeddingMatch(t *testing.T) {
	ext := &stubExtractor{emb: fixedEmbedding(7)}
	id := newTestIdentifier(ext)
	id.SetProfiles([]*VoiceProfile{
		{PersonID: "other", Name: "Bea", Embedding: fixedEmbedding(3)},
		{PersonID: "match", Name: "Ada", Embedding: fixedEmbedding(7)},
	})

	id.Observe(audio.TagMicrophone, sine(200, 2*time.Second, 8000))
	got, err := id.Identify(context.Background(), 5, audio.TagMicrophone)
	if err != nil {
		t.Fatalf("Identify() error = %v", err)
	}
	if got == nil {
		t.Fatal("Identify() = nil, want match")
	}
	if got.PersonID != "match" || got.Name != "Ada" {
		t.Errorf("matched %s/%s, want match/Ada", got.PersonID, got.Name)
	}
	if got.Method != "embedding" {
		t.Errorf("Method = %q, want embedding", got.Method)
	}
	if got.Distance > 1e-6 {
		t.Errorf("Distance = %v, want ~0", got.Distance)
	}
}

func TestIdentify_IdentifiedNotReattempted(t *testing.T) {
	ext := &stubExtractor{emb: fixedEmbedding(0)}
	id := newTestIdentifier(ext)
	id.SetProfiles([]*VoiceProfile{{PersonID: "p", Name: "Ada", Embedding: fixedEmbedding(0)}})
	id.Observe(audio.TagMicrophone, sine(200, 2*time.Second, 8000))

	if got, _ := id.Identify(context.Background(), 1, audio.TagMicrophone); got == nil {
		t.Fatal("first Identify() = nil, want match")
	}
	calls := ext.calls

	if got, _ := id.Identify(context.Background(), 1, audio.TagMicrophone); got != nil {
		t.Errorf("second Identify() = %+v, want nil for identified speaker", got)
	}
	if ext.calls != calls {
		t.Errorf("extractor called again for identified speaker")
	}
}

func TestIdentify_EmbeddingCooldown(t *testing.T) {
	ext := &stubExtractor{emb: fixedEmbedding(0)}
	id := newTestIdentifier(ext)
	// Profile that never matches, so IDs stay unidentified.
	id.SetProfiles([]*VoiceProfile{{PersonID: "p", Name: "Ada", Embedding: fixedEmbedding(100)}})
	id.Observe(audio.TagMicrophone, sine(200, 2*time.Second, 8000))

	now := time.Now()
	id.now = func() time.Time { return now }

	id.Identify(context.Background(), 1, audio.TagMicrophone)
	first := ext.calls
	if first == 0 {
		t.Fatal("extractor not called on first attempt")
	}

	// Within cooldown: no new embedding extraction.
	now = now.Add(3 * time.Second)
	id.Identify(context.Background(), 2, audio.TagMicrophone)
	if ext.calls != first {
		t.Errorf("extractor called within cooldown: %d calls, want %d", ext.calls, first)
	}

	// Past cooldown: allowed again.
	now = now.Add(4 * time.Second)
	id.Identify(context.Background(), 3, audio.TagMicrophone)
	if ext.calls != first+1 {
		t.Errorf("extractor calls = %d after cooldown, want %d", ext.calls, first+1)
	}
}

func TestIdentify_FeatureFallbackWithoutExtractor(t *testing.T) {
	id := newTestIdentifier(nil)

	voiced := sine(180, 2*time.Second, 9000)
	feats, err := ExtractFeatures(voiced)
	if err != nil {
		t.Fatalf("ExtractFeatures() error = %v", err)
	}
	id.SetProfiles([]*VoiceProfile{{PersonID: "p", Name: "Ada", Features: feats}})

	id.Observe(audio.TagMicrophone, voiced)
	got, err := id.Identify(context.Background(), 0, audio.TagMicrophone)
	if err != nil {
		t.Fatalf("Identify() error = %v", err)
	}
	if got == nil {
		t.Fatal("Identify() = nil, want feature match against identical audio")
	}
	if got.Method != "features" {
		t.Errorf("Method = %q, want features", got.Method)
	}
}

func TestExtractFeatures_DegenerateOnSilence(t *testing.T) {
	_, err := ExtractFeatures(make([]int16, 2*audio.SampleRate))
	if err == nil {
		t.Fatal("ExtractFeatures(silence) error = nil, want degenerate")
	}
}

func TestExtractFeatures_VoicedTone(t *testing.T) {
	feats, err := ExtractFeatures(sine(200, time.Second, 9000))
	if err != nil {
		t.Fatalf("ExtractFeatures() error = %v", err)
	}
	pitch := feats[0]
	if pitch < 150 || pitch > 250 {
		t.Errorf("pitch = %v Hz, want ~200", pitch)
	}
	if feats[1] <= 0 {
		t.Errorf("energy = %v, want > 0", feats[1])
	}
}

func TestTrain_FoldsSegmentsAndSkipsDegenerate(t *testing.T) {
	id := newTestIdentifier(nil)
	profile := &VoiceProfile{PersonID: "p", Name: "Ada"}

	// 4s of audio: 2s voiced, 2s silence.
	session := append(sine(200, 2*time.Second, 9000), make([]int16, 2*audio.SampleRate)...)
	segs := []TrainingSegment{
		{Start: 0, End: 2},   // voiced
		{Start: 2.2, End: 3.8}, // silent, degenerate
	}

	added, err := id.Train(context.Background(), profile, "sess-1", 0, session, segs)
	if err != nil {
		t.Fatalf("Train() error = %v", err)
	}
	if added != 1 {
		t.Errorf("Train() added = %d, want 1 (degenerate skipped)", added)
	}
	if profile.SampleCount != 1 {
		t.Errorf("SampleCount = %d, want 1", profile.SampleCount)
	}
	if len(profile.Features) == 0 {
		t.Error("profile has no features after training")
	}
}

func TestTrain_ClampsSegmentDuration(t *testing.T) {
	id := newTestIdentifier(nil)
	profile := &VoiceProfile{PersonID: "p"}

	session := sine(200, 12*time.Second, 9000)
	added, err := id.Train(context.Background(), profile, "s", 0, session,
		[]TrainingSegment{{Start: 0, End: 12}})
	if err != nil {
		t.Fatalf("Train() error = %v", err)
	}
	if added != 1 {
		t.Fatalf("added = %d, want 1", added)
	}
	if profile.TrainedSeconds > maxTrainingSegment+0.01 {
		t.Errorf("TrainedSeconds = %v, want clamped to %v", profile.TrainedSeconds, maxTrainingSegment)
	}
}
