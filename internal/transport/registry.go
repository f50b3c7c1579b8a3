package transport

import (
	"sync"

	"nhooyr.io/websocket"

	"yuzu/interviewer/internal/turn"
)

// Live is one accepted voice connection and the controller driving it.
type Live struct {
	ws   *websocket.Conn
	ctrl *turn.Controller
}

// Registry keeps at most one voice connection per session.
type Registry struct {
	mu   sync.Mutex
	live map[string]*Live
}

func NewRegistry() *Registry { return &Registry{live: make(map[string]*Live)} }

// Replace registers l for the session and closes the previous connection.
func (r *Registry) Replace(sessionID string, l *Live) (replaced bool) {
	r.mu.Lock()
	old := r.live[sessionID]
	r.live[sessionID] = l
	r.mu.Unlock()
	if old != nil && old != l {
		if old.ctrl != nil {
			old.ctrl.EndSession()
		}
		if old.ws != nil {
			_ = old.ws.Close(websocket.StatusNormalClosure, "replaced")
		}
		return true
	}
	return false
}

// Remove unregisters l if it is still the session's current connection.
func (r *Registry) Remove(sessionID string, l *Live) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.live[sessionID] == l {
		delete(r.live, sessionID)
	}
}

// End ends the live voice session, if any.
func (r *Registry) End(sessionID string) bool {
	r.mu.Lock()
	l := r.live[sessionID]
	r.mu.Unlock()
	if l == nil || l.ctrl == nil {
		return false
	}
	l.ctrl.EndSession()
	return true
}

func (r *Registry) Active(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.live[sessionID]
	return ok
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.live)
}
