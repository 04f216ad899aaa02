package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/davidhora/notula/internal/recorder"
	"github.com/davidhora/notula/internal/transcript"
)

func TestStartRecording(t *testing.T) {
	api := newTestAPI(t)

	w := api.do(t, "POST", "/api/recordings/start", `{"mode": "both", "backend": "cloud"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201; body %s", w.Code, w.Body.String())
	}
	var sess transcript.RecordingSession
	if err := json.Unmarshal(w.Body.Bytes(), &sess); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if sess.Mode != transcript.ModeBoth {
		t.Errorf("Mode = %s, want both", sess.Mode)
	}
}

func TestStartRecordingValidatesMode(t *testing.T) {
	api := newTestAPI(t)
	w := api.do(t, "POST", "/api/recordings/start", `{"mode": "telepathy"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestStartRecordingWhileBusy(t *testing.T) {
	api := newTestAPI(t)
	api.recorder.startErr = recorder.ErrBusy
	w := api.do(t, "POST", "/api/recordings/start", `{}`)
	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", w.Code)
	}
}

func TestStartRecordingUnconfiguredBackend(t *testing.T) {
	api := newTestAPI(t)
	api.recorder.startErr = &recorder.ConfigurationError{Err: errors.New("no api key")}
	w := api.do(t, "POST", "/api/recordings/start", `{"backend": "cloud"}`)
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", w.Code)
	}
}

func TestStopRecording(t *testing.T) {
	api := newTestAPI(t)
	ended := time.Now()
	api.recorder.stopped = &transcript.RecordingSession{ID: "s1", EndedAt: &ended}

	w := api.do(t, "POST", "/api/recordings/stop", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	api.recorder.stopErr = recorder.ErrNotRecording
	w = api.do(t, "POST", "/api/recordings/stop", "")
	if w.Code != http.StatusConflict {
		t.Errorf("idle stop: status = %d, want 409", w.Code)
	}
}

func TestCurrentRecording(t *testing.T) {
	api := newTestAPI(t)
	api.recorder.status = recorder.Status{State: "recording", Session: &transcript.RecordingSession{ID: "live"}}

	w := api.do(t, "GET", "/api/recordings/current", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var status recorder.Status
	if err := json.Unmarshal(w.Body.Bytes(), &status); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if status.State != "recording" || status.Session == nil || status.Session.ID != "live" {
		t.Errorf("status = %+v, want recording state with live session", status)
	}
}
