package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"yuzu/interviewer/internal/types"
)

var (
	ErrSessionExists = errors.New("session already exists")
	ErrNotFound      = errors.New("session not found")
)

const maxEvents = 200

type Store struct {
	mu       sync.RWMutex
	sessions map[string]*types.Session
	events   map[string][]types.Event
	now      func() time.Time
}

func New() *Store {
	return &Store{
		sessions: make(map[string]*types.Session),
		events:   make(map[string][]types.Event),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) CreateSession(sess *types.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sess.ID]; ok {
		return ErrSessionExists
	}
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = s.now()
	}
	if sess.Status == "" {
		sess.Status = types.StatusCreated
	}
	sess.LastInteraction = s.now()
	cp := *sess
	s.sessions[sess.ID] = &cp
	s.events[sess.ID] = []types.Event{}
	return nil
}

// GetSession returns a copy of the session, or nil.
func (s *Store) GetSession(id string) *types.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil
	}
	cp := *sess
	return &cp
}

func (s *Store) Touch(id string) {
	s.mu.Lock()
	if sess, ok := s.sessions[id]; ok {
		sess.LastInteraction = s.now()
	}
	s.mu.Unlock()
}

func (s *Store) SetStatus(id, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return ErrNotFound
	}
	sess.Status = status
	sess.LastInteraction = s.now()
	return nil
}

// AppendOpening seeds the transcript with the interviewer's first line.
func (s *Store) AppendOpening(id, line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return ErrNotFound
	}
	sess.Transcript = "Interviewer: " + line
	return nil
}

// AppendExchange records one candidate utterance and the interviewer's reply
// and returns the completed-turn count.
func (s *Store) AppendExchange(id, candidate, interviewer string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return 0, ErrNotFound
	}
	if sess.Transcript != "" {
		sess.Transcript += "\n\n"
	}
	sess.Transcript += "Candidate: " + candidate + "\n\nInterviewer: " + interviewer
	sess.Turns++
	sess.Status = types.StatusActive
	sess.LastInteraction = s.now()
	return sess.Turns, nil
}

func (s *Store) MarkComplete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return ErrNotFound
	}
	sess.Complete = true
	sess.Status = types.StatusComplete
	sess.LastInteraction = s.now()
	return nil
}

func (s *Store) Delete(id string) {
	s.mu.Lock()
	delete(s.sessions, id)
	delete(s.events, id)
	s.mu.Unlock()
}

func (s *Store) AppendEvent(sessionID, typ string, payload map[string]any) types.Event {
	evt := types.Event{Type: typ, Ts: s.now(), Payload: payload}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[sessionID] = append(s.events[sessionID], evt)
	if l := len(s.events[sessionID]); l > maxEvents {
		// leave room for one truncation marker so the total stays at maxEvents
		keep := maxEvents - 1
		dropped := l - keep
		s.events[sessionID] = append([]types.Event(nil), s.events[sessionID][l-keep:]...)
		warn := types.Event{Type: "events_truncated", Ts: s.now(), Payload: map[string]any{"session_id": sessionID, "dropped": dropped, "kept": keep}}
		s.events[sessionID] = append(s.events[sessionID], warn)
	}
	return evt
}

func (s *Store) ListEvents(sessionID string) []types.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src := s.events[sessionID]
	out := make([]types.Event, len(src))
	copy(out, src)
	return out
}

func (s *Store) ListSessionIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		out = append(out, id)
	}
	return out
}

// Reap deletes sessions idle for longer than ttl and returns their ids.
func (s *Store) Reap(ttl time.Duration) []string {
	cutoff := s.now().Add(-ttl)
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for id, sess := range s.sessions {
		if sess.LastInteraction.Before(cutoff) {
			delete(s.sessions, id)
			delete(s.events, id)
			out = append(out, id)
		}
	}
	return out
}

// RunReaper calls Reap every interval until ctx is done.
func (s *Store) RunReaper(ctx context.Context, interval, ttl time.Duration, onReap func(ids []string)) {
	if interval <= 0 {
		interval = time.Minute
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			ids := s.Reap(ttl)
			metricReaped.Add(float64(len(ids)))
			if len(ids) > 0 && onReap != nil {
				onReap(ids)
			}
		}
	}
}
