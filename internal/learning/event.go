// Package learning records decision outcomes and turns them into
// effectiveness estimates.
//
// Events are appended to a JSONL log shared by every process on the host.
// Each Store tails the log into an in-memory index and answers
// EffectivenessFor from that index, widening the lineage scope when a
// narrow scope has too little data.
package learning

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	// ErrWriteFailed wraps any failure to persist an event.
	ErrWriteFailed = errors.New("learning store write failed")

	// ErrInvalidEvent reports an event that cannot be recorded.
	ErrInvalidEvent = errors.New("invalid learning event")
)

// Neutral is returned when no scope has enough data.
const Neutral = 0.5

// Scope is a lineage level, narrowest first.
type Scope string

const (
	ScopeSession Scope = "session"
	ScopeUser    Scope = "user"
	ScopeProject Scope = "project"
	ScopeGlobal  Scope = "global"
)

// scopeOrder lists scopes from narrowest to broadest.
var scopeOrder = []Scope{ScopeSession, ScopeUser, ScopeProject, ScopeGlobal}

func (s Scope) rank() int {
	for i, o := range scopeOrder {
		if o == s {
			return i
		}
	}
	return -1
}

// Valid reports whether s is a known scope.
func (s Scope) Valid() bool {
	return s.rank() >= 0
}

// EventType names what produced an observation.
type EventType string

const (
	EventRouting     EventType = "routing_outcome"
	EventCompression EventType = "compression_outcome"
)

// Lineage identifies where an observation came from.
type Lineage struct {
	SessionID string `json:"session_id,omitempty"`
	UserID    string `json:"user_id,omitempty"`
	ProjectID string `json:"project_id,omitempty"`
}

// key returns the lineage component for scope, or "" when unset.
func (l Lineage) key(s Scope) string {
	switch s {
	case ScopeSession:
		return l.SessionID
	case ScopeUser:
		return l.UserID
	case ScopeProject:
		return l.ProjectID
	}
	return ""
}

// Narrowest returns the narrowest scope l identifies, or ScopeGlobal.
func (l Lineage) Narrowest() Scope {
	for _, s := range scopeOrder {
		if l.key(s) != "" {
			return s
		}
	}
	return ScopeGlobal
}

// matches reports whether an event with lineage l is visible to a query
// from q at scope s.
func (l Lineage) matches(q Lineage, s Scope) bool {
	if s == ScopeGlobal {
		return true
	}
	k := q.key(s)
	return k != "" && l.key(s) == k
}

// Event is one effectiveness observation. Events are never modified after
// they are recorded.
type Event struct {
	ID            string    `json:"id"`
	Type          EventType `json:"event_type"`
	Scope         Scope     `json:"scope"`
	Fingerprint   string    `json:"context_fingerprint"`
	Lineage       Lineage   `json:"lineage"`
	Effectiveness float64   `json:"observed_effectiveness"`
	Confidence    float64   `json:"confidence"`
	Timestamp     time.Time `json:"timestamp"`
}

// Validate checks the event can be recorded.
func (e Event) Validate() error {
	switch {
	case e.Fingerprint == "":
		return fmt.Errorf("%w: empty fingerprint", ErrInvalidEvent)
	case !e.Scope.Valid():
		return fmt.Errorf("%w: unknown scope %q", ErrInvalidEvent, e.Scope)
	case !inUnit(e.Effectiveness):
		return fmt.Errorf("%w: effectiveness %v outside [0,1]", ErrInvalidEvent, e.Effectiveness)
	case !inUnit(e.Confidence):
		return fmt.Errorf("%w: confidence %v outside [0,1]", ErrInvalidEvent, e.Confidence)
	}
	return nil
}

func inUnit(v float64) bool {
	return !math.IsNaN(v) && v >= 0 && v <= 1
}
