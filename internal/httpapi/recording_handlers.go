package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/davidhora/notula/internal/recorder"
	"github.com/davidhora/notula/internal/transcript"
)

type startRecordingRequest struct {
	Mode     transcript.RecordingMode `json:"mode,omitempty"`
	Backend  transcript.BackendKind   `json:"backend,omitempty"`
	Language string                   `json:"language,omitempty"`
	Keyterms []string                 `json:"keyterms,omitempty"`
}

func (r *Router) handleStartRecording(w http.ResponseWriter, req *http.Request) {
	var body startRecordingRequest
	if req.ContentLength > 0 {
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	switch body.Mode {
	case "", transcript.ModeMicrophone, transcript.ModeSystemAudio, transcript.ModeBoth:
	default:
		writeError(w, http.StatusBadRequest, "unknown recording mode")
		return
	}
	switch body.Backend {
	case "", transcript.BackendCloud, transcript.BackendLocal:
	default:
		writeError(w, http.StatusBadRequest, "unknown backend")
		return
	}

	session, err := r.recorder.Start(req.Context(), recorder.StartOptions{
		Mode:     body.Mode,
		Backend:  body.Backend,
		Language: body.Language,
		Keyterms: body.Keyterms,
	})
	if err != nil {
		var cfgErr *recorder.ConfigurationError
		switch {
		case errors.Is(err, recorder.ErrBusy):
			writeError(w, http.StatusConflict, "recording already in progress")
		case errors.As(err, &cfgErr):
			writeError(w, http.StatusUnprocessableEntity, cfgErr.Error())
		default:
			captureError(req, err, "starting recording")
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (r *Router) handleStopRecording(w http.ResponseWriter, req *http.Request) {
	session, err := r.recorder.Stop(req.Context())
	if err != nil {
		if errors.Is(err, recorder.ErrNotRecording) {
			writeError(w, http.StatusConflict, "no recording in progress")
			return
		}
		captureError(req, err, "stopping recording")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (r *Router) handleCurrentRecording(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, r.recorder.Current())
}
