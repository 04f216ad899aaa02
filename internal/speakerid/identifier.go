package speakerid

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/davidhora/notula/internal/audio"
	"github.com/davidhora/notula/internal/logger"
)

// Config tunes the real-time identification path.
type Config struct {
	// EmbeddingThreshold is the maximum cosine distance accepted as a
	// match on the embedding path.
	EmbeddingThreshold float64
	// FeatureThreshold is the minimum cosine similarity accepted on the
	// legacy feature fallback.
	FeatureThreshold float64
	// MinBuffered gates identification until enough audio is rolled up.
	MinBuffered time.Duration
	// MinPeak rejects near-silent windows (normalized 0..1).
	MinPeak float64
	// Window is how much recent audio one attempt examines.
	Window time.Duration
	// Cooldown bounds the rate of embedding extraction.
	Cooldown time.Duration
	// BufferCap caps the per-source rolling sample buffer.
	BufferCap time.Duration
}

func (c Config) withDefaults() Config {
	if c.EmbeddingThreshold == 0 {
		c.EmbeddingThreshold = 0.45
	}
	if c.FeatureThreshold == 0 {
		c.FeatureThreshold = 0.80
	}
	if c.MinBuffered == 0 {
		c.MinBuffered = time.Second
	}
	if c.MinPeak == 0 {
		c.MinPeak = 0.015
	}
	if c.Window == 0 {
		c.Window = 3 * time.Second
	}
	if c.Cooldown == 0 {
		c.Cooldown = 6 * time.Second
	}
	if c.BufferCap == 0 {
		c.BufferCap = 5 * time.Second
	}
	return c
}

// Identification is one successful match of a session speaker ID to a
// known person.
type Identification struct {
	SpeakerID int
	PersonID  string
	Name      string
	Distance  float64 // cosine distance (embedding) or 1-similarity (features)
	Method    string  // "embedding" or "features"
}

// Identifier matches session speaker IDs against known voice profiles in
// real time. It keeps a rolling buffer of recent audio per source and
// attempts a match when a new speaker ID first appears.
type Identifier struct {
	cfg       Config
	extractor Extractor // nil means features-only
	log       *logger.Logger

	mu          sync.Mutex
	profiles    []*VoiceProfile
	buffers     map[audio.SourceTag]*audio.RingBuffer
	identified  map[int]string // speakerID -> person ID, never re-attempted
	inFlight    map[int]bool
	lastAttempt time.Time // embedding-path cooldown
	now         func() time.Time
}

// New builds an identifier. extractor may be nil; matching then uses
// legacy features only.
func New(cfg Config, extractor Extractor, log *logger.Logger) *Identifier {
	return &Identifier{
		cfg:        cfg.withDefaults(),
		extractor:  extractor,
		log:        log.Component("speakerid"),
		buffers:    make(map[audio.SourceTag]*audio.RingBuffer),
		identified: make(map[int]string),
		inFlight:   make(map[int]bool),
		now:        time.Now,
	}
}

// SetProfiles replaces the known-profile set (loaded per session).
func (id *Identifier) SetProfiles(ps []*VoiceProfile) {
	id.mu.Lock()
	defer id.mu.Unlock()
	id.profiles = ps
}

// Observe feeds captured samples into the source's rolling buffer.
func (id *Identifier) Observe(tag audio.SourceTag, samples []int16) {
	id.mu.Lock()
	buf, ok := id.buffers[tag]
	if !ok {
		buf = audio.NewRingBuffer(id.cfg.BufferCap)
		id.buffers[tag] = buf
	}
	id.mu.Unlock()
	buf.Append(samples)
}

// Reset clears per-session state (buffers and attempt bookkeeping).
func (id *Identifier) Reset() {
	id.mu.Lock()
	defer id.mu.Unlock()
	id.buffers = make(map[audio.SourceTag]*audio.RingBuffer)
	id.identified = make(map[int]string)
	id.inFlight = make(map[int]bool)
	id.lastAttempt = time.Time{}
}

// Identify attempts to match a newly observed speaker ID against known
// profiles. Returns (nil, nil) when gated: already identified, attempt in
// flight, not enough audio, near-silence, or embedding cooldown with no
// feature fallback available.
func (id *Identifier) Identify(ctx context.Context, speakerID int, tag audio.SourceTag) (*Identification, error) {
	id.mu.Lock()
	if _, done := id.identified[speakerID]; done || id.inFlight[speakerID] {
		id.mu.Unlock()
		return nil, nil
	}
	buf, ok := id.buffers[tag]
	if !ok || buf.Duration() < id.cfg.MinBuffered {
		id.mu.Unlock()
		return nil, nil
	}
	window := buf.Recent(id.cfg.Window)
	if audio.PeakAmplitude(window) < id.cfg.MinPeak {
		id.mu.Unlock()
		return nil, nil
	}

	embedAllowed := id.extractor != nil && id.now().Sub(id.lastAttempt) >= id.cfg.Cooldown
	if embedAllowed {
		id.lastAttempt = id.now()
	}
	id.inFlight[speakerID] = true
	profiles := id.profiles
	id.mu.Unlock()

	defer func() {
		id.mu.Lock()
		delete(id.inFlight, speakerID)
		id.mu.Unlock()
	}()

	if embedAllowed {
		match, err := id.matchEmbedding(ctx, speakerID, window, profiles)
		if err != nil {
			id.log.WithError(err).Warn("embedding match failed, trying features")
		} else if match != nil {
			id.markIdentified(match)
			return match, nil
		}
	}

	match, err := id.matchFeatures(speakerID, window, profiles)
	if err != nil {
		if errors.Is(err, ErrDegenerateFeatures) {
			id.log.WithField("speaker", speakerID).Debug("skipping degenerate window")
			return nil, nil
		}
		return nil, err
	}
	if match != nil {
		id.markIdentified(match)
	}
	return match, nil
}

func (id *Identifier) markIdentified(m *Identification) {
	id.mu.Lock()
	id.identified[m.SpeakerID] = m.PersonID
	id.mu.Unlock()
	id.log.WithField("speaker", m.SpeakerID).
		WithField("person", m.Name).
		WithField("distance", m.Distance).
		WithField("method", m.Method).
		Info("speaker identified")
}

func (id *Identifier) matchEmbedding(ctx context.Context, speakerID int, window []int16, profiles []*VoiceProfile) (*Identification, error) {
	emb, err := id.extractor.ExtractEmbedding(ctx, window)
	if err != nil {
		return nil, err
	}

	var best *VoiceProfile
	bestDist := id.cfg.EmbeddingThreshold
	for _, p := range profiles {
		if len(p.Embedding) == 0 {
			continue
		}
		if d := CosineDistance(emb, p.Embedding); d < bestDist {
			bestDist = d
			best = p
		}
	}
	if best == nil {
		return nil, nil
	}
	return &Identification{
		SpeakerID: speakerID,
		PersonID:  best.PersonID,
		Name:      best.Name,
		Distance:  bestDist,
		Method:    "embedding",
	}, nil
}

func (id *Identifier) matchFeatures(speakerID int, window []int16, profiles []*VoiceProfile) (*Identification, error) {
	feats, err := ExtractFeatures(window)
	if err != nil {
		return nil, err
	}

	var best *VoiceProfile
	bestSim := id.cfg.FeatureThreshold
	for _, p := range profiles {
		if len(p.Features) == 0 {
			continue
		}
		if s := FeatureSimilarity(feats, p.Features); s > bestSim {
			bestSim = s
			best = p
		}
	}
	if best == nil {
		return nil, nil
	}
	return &Identification{
		SpeakerID: speakerID,
		PersonID:  best.PersonID,
		Name:      best.Name,
		Distance:  1 - bestSim,
		Method:    "features",
	}, nil
}

// TrainingSegment is one transcript span attributed to the speaker being
// trained, in seconds from session start.
type TrainingSegment struct {
	Start float64
	End   float64
}

// maxTrainingSegment bounds how much of one contributing segment is used.
const maxTrainingSegment = 10.0 // seconds

// Train folds session audio attributed to one speaker into a person's
// profile. Each contributing segment adds one weighted-average update;
// degenerate spans are skipped and logged. Returns how many segments
// contributed.
func (id *Identifier) Train(ctx context.Context, profile *VoiceProfile, sessionID string, speakerID int, sessionSamples []int16, segs []TrainingSegment) (int, error) {
	added := 0
	for _, seg := range segs {
		start, end := seg.Start, seg.End
		if end <= start {
			continue
		}
		if end-start > maxTrainingSegment {
			end = start + maxTrainingSegment
		}
		lo := int(start * audio.SampleRate)
		hi := int(end * audio.SampleRate)
		if lo >= len(sessionSamples) {
			continue
		}
		if hi > len(sessionSamples) {
			hi = len(sessionSamples)
		}
		span := sessionSamples[lo:hi]

		rec := TrainingRecord{
			SessionID: sessionID,
			SpeakerID: speakerID,
			Seconds:   float64(hi-lo) / audio.SampleRate,
			At:        id.now(),
		}

		if id.extractor != nil {
			emb, err := id.extractor.ExtractEmbedding(ctx, span)
			if err == nil {
				profile.AddEmbedding(emb, rec)
				added++
				continue
			}
			id.log.WithError(err).Warn("training embedding failed, using features")
		}

		feats, err := ExtractFeatures(span)
		if err != nil {
			if errors.Is(err, ErrDegenerateFeatures) {
				id.log.WithField("start", seg.Start).Info("skipping degenerate training segment")
				continue
			}
			return added, err
		}
		profile.AddFeatures(feats, rec)
		added++
	}
	return added, nil
}
