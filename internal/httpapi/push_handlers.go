package httpapi

import (
	"encoding/json"
	"net/http"
	"sync"
)

// pushTokens is the in-memory device token set. The daemon serves one
// user's devices; tokens re-register on every app launch.
type pushTokens struct {
	mu     sync.Mutex
	tokens map[string]struct{}
}

func newPushTokens() *pushTokens {
	return &pushTokens{tokens: make(map[string]struct{})}
}

func (p *pushTokens) add(token string)    { p.mu.Lock(); p.tokens[token] = struct{}{}; p.mu.Unlock() }
func (p *pushTokens) remove(token string) { p.mu.Lock(); delete(p.tokens, token); p.mu.Unlock() }

func (p *pushTokens) all() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.tokens))
	for t := range p.tokens {
		out = append(out, t)
	}
	return out
}

// handlePushRegister registers a device push token
func (r *Router) handlePushRegister(w http.ResponseWriter, req *http.Request) {
	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		http.Error(w, `{"error": "invalid request body"}`, http.StatusBadRequest)
		return
	}
	if body.Token == "" {
		http.Error(w, `{"error": "token is required"}`, http.StatusBadRequest)
		return
	}
	r.push.add(body.Token)
	r.log.Info("push token registered")
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// handlePushUnregister removes a device push token
func (r *Router) handlePushUnregister(w http.ResponseWriter, req *http.Request) {
	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		http.Error(w, `{"error": "invalid request body"}`, http.StatusBadRequest)
		return
	}
	if body.Token == "" {
		http.Error(w, `{"error": "token is required"}`, http.StatusBadRequest)
		return
	}
	r.push.remove(body.Token)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
