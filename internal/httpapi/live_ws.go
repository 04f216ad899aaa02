package httpapi

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/davidhora/notula/internal/recorder"
	"github.com/davidhora/notula/internal/transcript"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// liveHub fans orchestrator events out to websocket subscribers and fires
// transcript-ready notifications when sessions finish.
type liveHub struct {
	router *Router
	events <-chan recorder.Event

	mu   sync.Mutex
	subs map[*liveClient]struct{}
}

type liveClient struct {
	conn *websocket.Conn
	mu   sync.Mutex // serializes writes
}

func (c *liveClient) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return c.conn.WriteJSON(v)
}

func newLiveHub(r *Router, events <-chan recorder.Event) *liveHub {
	return &liveHub{router: r, events: events, subs: make(map[*liveClient]struct{})}
}

func (h *liveHub) run() {
	for ev := range h.events {
		h.broadcast(ev)
		if ev.Kind == recorder.EventStopped {
			if sess := h.router.recorder.SessionByID(ev.SessionID); sess != nil {
				h.notifyFinished(sess)
			}
		}
	}
}

func (h *liveHub) broadcast(ev recorder.Event) {
	h.mu.Lock()
	clients := make([]*liveClient, 0, len(h.subs))
	for c := range h.subs {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		if err := c.writeJSON(ev); err != nil {
			h.remove(c)
		}
	}
}

// notifyFinished fires the configured outbound notifications for a
// completed session.
func (h *liveHub) notifyFinished(sess *transcript.RecordingSession) {
	if h == nil {
		return
	}
	ctx := context.Background()
	h.router.discord.NotifyTranscriptReady(ctx, sess)
	for _, token := range h.router.push.all() {
		if err := h.router.apns.SendTranscriptReady(token, sess); err != nil {
			h.router.log.WithError(err).Warn("transcript-ready push failed")
		}
	}
}

func (h *liveHub) add(c *liveClient) {
	h.mu.Lock()
	h.subs[c] = struct{}{}
	h.mu.Unlock()
}

func (h *liveHub) remove(c *liveClient) {
	h.mu.Lock()
	if _, ok := h.subs[c]; ok {
		delete(h.subs, c)
		c.conn.Close()
	}
	h.mu.Unlock()
}

// handleLiveWS streams recorder events to a websocket client. Auth rides
// in the token query parameter because browsers cannot set headers on
// websocket dials.
func (r *Router) handleLiveWS(w http.ResponseWriter, req *http.Request) {
	if r.hub == nil {
		http.Error(w, `{"error": "recorder not available"}`, http.StatusServiceUnavailable)
		return
	}
	if !r.validToken(req.URL.Query().Get("token")) {
		http.Error(w, `{"error": "invalid token"}`, http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	client := &liveClient{conn: conn}
	r.hub.add(client)
	r.log.Info("live subscriber connected")

	// The client never sends application data; the read loop only
	// surfaces disconnects.
	go func() {
		defer r.hub.remove(client)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
