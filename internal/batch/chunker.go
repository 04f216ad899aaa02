package batch

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/davidhora/notula/internal/audio"
)

const (
	// ChunkThreshold is the longest recording sent as a single request.
	// Anything above it is split before transcription.
	ChunkThreshold = 2 * time.Hour

	// ChunkDuration is the length of each split piece.
	ChunkDuration = 30 * time.Minute
)

// chunk is one split piece of a long recording. offset is where the piece
// starts within the source, in seconds; result timestamps are shifted by
// it before merging.
type chunk struct {
	index  int
	path   string
	offset float64
}

// splitWAV writes chunk files of perChunk samples each. The last chunk
// carries the remainder and may be arbitrarily short.
func splitWAV(samples []int16, perChunk int, dir, base string) ([]chunk, error) {
	base = strings.TrimSuffix(base, filepath.Ext(base))

	var chunks []chunk
	for i, lo := 0, 0; lo < len(samples); i, lo = i+1, lo+perChunk {
		hi := lo + perChunk
		if hi > len(samples) {
			hi = len(samples)
		}
		path := filepath.Join(dir, fmt.Sprintf("%s.chunk%02d.wav", base, i))
		if err := audio.WriteFile(path, samples[lo:hi]); err != nil {
			removeChunks(chunks)
			return nil, fmt.Errorf("writing chunk %d: %w", i, err)
		}
		chunks = append(chunks, chunk{
			index:  i,
			path:   path,
			offset: float64(lo) / audio.SampleRate,
		})
	}
	return chunks, nil
}

func removeChunks(chunks []chunk) {
	for _, c := range chunks {
		os.Remove(c.path)
	}
}
