package httpapi

import (
	"fmt"
	"net/http"
	"os"

	"github.com/davidhora/notula/internal/export"
	"github.com/davidhora/notula/internal/transcript"
)

// findSession prefers the orchestrator's in-memory list (which includes
// the active session) and falls back to the store.
func (r *Router) findSession(req *http.Request, id string) (*transcript.RecordingSession, error) {
	if sess := r.recorder.SessionByID(id); sess != nil {
		return sess, nil
	}
	if st := r.recorder.Current(); st.Session != nil && st.Session.ID == id {
		return st.Session, nil
	}
	if r.store != nil {
		return r.store.GetSession(req.Context(), id)
	}
	return nil, nil
}

func (r *Router) handleListSessions(w http.ResponseWriter, req *http.Request) {
	sessions := r.recorder.Sessions()
	// Keep the payload light: segments are fetched per session.
	type listItem struct {
		ID        string `json:"id"`
		StartedAt string `json:"started_at"`
		EndedAt   string `json:"ended_at,omitempty"`
		Mode      string `json:"mode"`
		Backend   string `json:"backend"`
		Language  string `json:"language,omitempty"`
		Segments  int    `json:"segments"`
		Speakers  int    `json:"speakers"`
		CostCents int    `json:"cost_cents"`
	}
	items := make([]listItem, 0, len(sessions))
	for _, s := range sessions {
		item := listItem{
			ID:        s.ID,
			StartedAt: s.StartedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
			Mode:      string(s.Mode),
			Backend:   string(s.Backend),
			Language:  s.Language,
			Segments:  len(s.Segments),
			Speakers:  len(s.Speakers),
			CostCents: s.CostCents,
		}
		if s.EndedAt != nil {
			item.EndedAt = s.EndedAt.UTC().Format("2006-01-02T15:04:05Z07:00")
		}
		items = append(items, item)
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": items})
}

func (r *Router) handleGetSession(w http.ResponseWriter, req *http.Request) {
	sess, err := r.findSession(req, req.PathValue("id"))
	if err != nil {
		captureError(req, err, "loading session")
		writeError(w, http.StatusInternalServerError, "failed to load session")
		return
	}
	if sess == nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (r *Router) handleDeleteSession(w http.ResponseWriter, req *http.Request) {
	if r.store == nil {
		writeError(w, http.StatusServiceUnavailable, "no session store configured")
		return
	}
	id := req.PathValue("id")
	sess, err := r.store.GetSession(req.Context(), id)
	if err != nil {
		captureError(req, err, "loading session for delete")
		writeError(w, http.StatusInternalServerError, "failed to load session")
		return
	}
	if sess == nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	if err := r.store.DeleteSession(req.Context(), id); err != nil {
		captureError(req, err, "deleting session")
		writeError(w, http.StatusInternalServerError, "failed to delete session")
		return
	}
	for _, f := range sess.AudioFiles {
		if err := os.Remove(f); err != nil && !os.IsNotExist(err) {
			r.log.WithError(err).WithField("file", f).Warn("removing session audio failed")
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (r *Router) handleExportXLSX(w http.ResponseWriter, req *http.Request) {
	sess, err := r.findSession(req, req.PathValue("id"))
	if err != nil {
		captureError(req, err, "loading session for export")
		writeError(w, http.StatusInternalServerError, "failed to load session")
		return
	}
	if sess == nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="transcript-%s.xlsx"`, sess.ID))
	if err := export.WriteXLSX(w, sess); err != nil {
		captureError(req, err, "writing xlsx export")
	}
}

func (r *Router) handleExportText(w http.ResponseWriter, req *http.Request) {
	sess, err := r.findSession(req, req.PathValue("id"))
	if err != nil {
		captureError(req, err, "loading session for export")
		writeError(w, http.StatusInternalServerError, "failed to load session")
		return
	}
	if sess == nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(export.ExportText(sess)))
}
