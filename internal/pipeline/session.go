package pipeline

import (
	"sync"
	"time"

	"github.com/fyrsmithlabs/ctxrouter/internal/analyzer"
	"github.com/fyrsmithlabs/ctxrouter/internal/cache"
	"github.com/fyrsmithlabs/ctxrouter/internal/capability"
	"github.com/fyrsmithlabs/ctxrouter/internal/learning"
)

const (
	// historyLimit bounds the history kept per session.
	historyLimit = 8
	// sessionLimit bounds how many sessions are tracked at once.
	sessionLimit = 1024
)

// SessionContext is the state one invocation runs with. It is built fresh
// for every request; only the handles it points at are shared.
type SessionContext struct {
	Lineage  learning.Lineage
	History  []analyzer.HistoryEntry
	Registry *capability.Registry
	Cache    *cache.Cache
	Learning learning.Recorder
	Started  time.Time
}

// sessions keeps recent history per session id. The least recently seen
// session is forgotten when the limit is reached.
type sessions struct {
	mu    sync.Mutex
	limit int
	byID  map[string]*sessionState
}

type sessionState struct {
	history  []analyzer.HistoryEntry
	lastSeen time.Time
}

func newSessions(limit int) *sessions {
	return &sessions{limit: limit, byID: make(map[string]*sessionState)}
}

// history returns a copy of the session's history.
func (s *sessions) history(id string) []analyzer.HistoryEntry {
	if id == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.byID[id]
	if !ok {
		return nil
	}
	return append([]analyzer.HistoryEntry(nil), st.history...)
}

// observe appends p to the session's history.
func (s *sessions) observe(id string, p analyzer.RequestProfile, now time.Time) {
	if id == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.byID[id]
	if !ok {
		if len(s.byID) >= s.limit {
			s.forgetOldest()
		}
		st = &sessionState{}
		s.byID[id] = st
	}
	st.lastSeen = now
	st.history = append(st.history, analyzer.HistoryEntry{
		Category:     p.Category,
		Capabilities: append([]analyzer.Capability(nil), p.Capabilities...),
	})
	if n := len(st.history); n > historyLimit {
		st.history = append(st.history[:0:0], st.history[n-historyLimit:]...)
	}
}

// end forgets a session.
func (s *sessions) end(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byID, id)
}

func (s *sessions) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byID)
}

func (s *sessions) forgetOldest() {
	var oldest string
	var at time.Time
	for id, st := range s.byID {
		if oldest == "" || st.lastSeen.Before(at) || (st.lastSeen.Equal(at) && id < oldest) {
			oldest, at = id, st.lastSeen
		}
	}
	delete(s.byID, oldest)
}
