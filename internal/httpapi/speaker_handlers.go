package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/davidhora/notula/internal/audio"
	"github.com/davidhora/notula/internal/speakerid"
	"github.com/davidhora/notula/internal/transcript"
)

func (r *Router) handleListSpeakers(w http.ResponseWriter, req *http.Request) {
	if r.store == nil {
		writeError(w, http.StatusServiceUnavailable, "no profile store configured")
		return
	}
	profiles, err := r.store.LoadVoiceProfiles(req.Context())
	if err != nil {
		captureError(req, err, "loading voice profiles")
		writeError(w, http.StatusInternalServerError, "failed to load profiles")
		return
	}
	type item struct {
		PersonID       string  `json:"person_id"`
		Name           string  `json:"name"`
		SampleCount    int     `json:"sample_count"`
		TrainedSeconds float64 `json:"trained_seconds"`
		HasEmbedding   bool    `json:"has_embedding"`
	}
	items := make([]item, 0, len(profiles))
	for _, p := range profiles {
		items = append(items, item{
			PersonID:       p.PersonID,
			Name:           p.Name,
			SampleCount:    p.SampleCount,
			TrainedSeconds: p.TrainedSeconds,
			HasEmbedding:   len(p.Embedding) > 0,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"speakers": items})
}

type trainSpeakerRequest struct {
	SessionID string `json:"session_id"`
	SpeakerID int    `json:"speaker_id"`
	Name      string `json:"name,omitempty"`
}

// handleTrainSpeaker folds one session speaker's audio into a person's
// voice profile.
func (r *Router) handleTrainSpeaker(w http.ResponseWriter, req *http.Request) {
	if r.store == nil || r.identifier == nil {
		writeError(w, http.StatusServiceUnavailable, "speaker identification not configured")
		return
	}
	personID := req.PathValue("personID")

	var body trainSpeakerRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil || body.SessionID == "" {
		writeError(w, http.StatusBadRequest, "session_id is required")
		return
	}

	sess, err := r.findSession(req, body.SessionID)
	if err != nil {
		captureError(req, err, "loading session for training")
		writeError(w, http.StatusInternalServerError, "failed to load session")
		return
	}
	if sess == nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	segs := trainingSegments(sess, body.SpeakerID)
	if len(segs) == 0 {
		writeError(w, http.StatusUnprocessableEntity, "speaker has no segments in this session")
		return
	}
	audioPath := audioFileForSpeaker(sess, body.SpeakerID)
	if audioPath == "" {
		writeError(w, http.StatusUnprocessableEntity, "session has no audio on disk")
		return
	}
	samples, err := audio.ReadFile(audioPath)
	if err != nil {
		captureError(req, err, "reading session audio")
		writeError(w, http.StatusInternalServerError, "failed to read session audio")
		return
	}

	profile, err := r.store.GetVoiceProfile(req.Context(), personID)
	if err != nil {
		captureError(req, err, "loading voice profile")
		writeError(w, http.StatusInternalServerError, "failed to load profile")
		return
	}
	if profile == nil {
		profile = &speakerid.VoiceProfile{PersonID: personID}
	}
	if body.Name != "" {
		profile.Name = body.Name
	}

	added, err := r.identifier.Train(req.Context(), profile, sess.ID, body.SpeakerID, samples, segs)
	if err != nil {
		captureError(req, err, "training voice profile")
		writeError(w, http.StatusInternalServerError, "training failed")
		return
	}
	if err := r.store.SaveVoiceProfile(req.Context(), profile); err != nil {
		captureError(req, err, "saving voice profile")
		writeError(w, http.StatusInternalServerError, "failed to save profile")
		return
	}
	r.reloadProfiles(req)

	writeJSON(w, http.StatusOK, map[string]any{
		"person_id":       profile.PersonID,
		"segments_added":  added,
		"sample_count":    profile.SampleCount,
		"trained_seconds": profile.TrainedSeconds,
	})
}

func (r *Router) handleDeleteSpeaker(w http.ResponseWriter, req *http.Request) {
	if r.store == nil {
		writeError(w, http.StatusServiceUnavailable, "no profile store configured")
		return
	}
	if err := r.store.DeleteVoiceProfile(req.Context(), req.PathValue("personID")); err != nil {
		captureError(req, err, "deleting voice profile")
		writeError(w, http.StatusInternalServerError, "failed to delete profile")
		return
	}
	r.reloadProfiles(req)
	w.WriteHeader(http.StatusNoContent)
}

func (r *Router) reloadProfiles(req *http.Request) {
	if r.identifier == nil {
		return
	}
	profiles, err := r.store.LoadVoiceProfiles(req.Context())
	if err != nil {
		r.log.WithError(err).Warn("reloading voice profiles failed")
		return
	}
	r.identifier.SetProfiles(profiles)
}

// trainingSegments extracts the spans attributed to one speaker, using
// word timings for span ends where available.
func trainingSegments(sess *transcript.RecordingSession, speakerID int) []speakerid.TrainingSegment {
	var out []speakerid.TrainingSegment
	for _, seg := range sess.Segments {
		if seg.SpeakerID == nil || *seg.SpeakerID != speakerID {
			continue
		}
		end := seg.Timestamp + 5 // no word timings: assume a short span
		if n := len(seg.Words); n > 0 {
			end = seg.Words[n-1].End
		}
		if end <= seg.Timestamp {
			continue
		}
		out = append(out, speakerid.TrainingSegment{Start: seg.Timestamp, End: end})
	}
	return out
}

// audioFileForSpeaker picks the capture file the speaker was heard on:
// system-range IDs map to the system leg's recording.
func audioFileForSpeaker(sess *transcript.RecordingSession, speakerID int) string {
	want := "-" + string(audio.TagMicrophone) + ".wav"
	if speakerID >= transcript.SpeakerOffsetSystem {
		want = "-" + string(audio.TagSystem) + ".wav"
	}
	for _, f := range sess.AudioFiles {
		if strings.HasSuffix(f, want) {
			return f
		}
	}
	if len(sess.AudioFiles) > 0 {
		return sess.AudioFiles[0]
	}
	return ""
}
