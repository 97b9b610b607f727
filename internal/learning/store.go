package learning

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	DefaultWindow    = 50
	DefaultMinEvents = 5
	DefaultAlpha     = 0.3

	// maxPerFingerprint bounds the in-memory index; older events stay in the
	// log but stop contributing.
	maxPerFingerprint = 4096
)

// Recorder accepts learning events.
type Recorder interface {
	Record(ctx context.Context, ev Event) error
}

// Estimator answers effectiveness queries.
type Estimator interface {
	EffectivenessFor(ctx context.Context, fingerprint string, lineage Lineage) float64
	Generation() uint64
}

// Store is the learning store: an append-only log plus an aggregation index.
// A Store opened with an empty path keeps events in memory only.
type Store struct {
	log    *Log
	logger *zap.Logger
	now    func() time.Time

	window    int
	minEvents int
	alpha     float64

	mu     sync.RWMutex
	offset int64
	byFP   map[string][]Event
	seen   map[string]struct{}
	total  int

	gen     atomic.Uint64
	skipped atomic.Int64
}

// Option configures a Store.
type Option func(*Store)

// WithWindow sets how many recent matching events the average covers.
func WithWindow(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.window = n
		}
	}
}

// WithMinEvents sets how many matching events a scope needs before it is
// trusted.
func WithMinEvents(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.minEvents = n
		}
	}
}

// WithAlpha sets the EWMA smoothing factor.
func WithAlpha(a float64) Option {
	return func(s *Store) {
		if a > 0 && a <= 1 {
			s.alpha = a
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// Open opens the store backed by the log at path and indexes its contents.
// An empty path yields a memory-only store.
func Open(path string, opts ...Option) (*Store, error) {
	s := &Store{
		logger:    zap.NewNop(),
		now:       time.Now,
		window:    DefaultWindow,
		minEvents: DefaultMinEvents,
		alpha:     DefaultAlpha,
		byFP:      make(map[string][]Event),
		seen:      make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if path == "" {
		return s, nil
	}

	l, err := OpenLog(path)
	if err != nil {
		return nil, err
	}
	s.log = l
	if err := s.refresh(); err != nil {
		_ = l.Close()
		return nil, err
	}
	return s, nil
}

// Record validates ev, assigns an ID and timestamp when missing, appends it
// to the log and indexes it.
func (s *Store) Record(ctx context.Context, ev Event) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = s.now().UTC()
	}
	return s.add(ev)
}

// Ingest records an event produced elsewhere, keeping its ID. Events
// already seen are ignored.
func (s *Store) Ingest(ctx context.Context, ev Event) error {
	if ev.ID == "" {
		return ErrInvalidEvent
	}
	s.mu.RLock()
	_, dup := s.seen[ev.ID]
	s.mu.RUnlock()
	if dup {
		return nil
	}
	return s.add(ev)
}

func (s *Store) add(ev Event) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	if s.log == nil {
		s.mu.Lock()
		s.index(ev)
		s.mu.Unlock()
		return nil
	}
	if err := s.log.Append(ev); err != nil {
		return err
	}
	return s.refresh()
}

// refresh tails the log into the index.
func (s *Store) refresh() error {
	if s.log == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	events, next, skipped, err := s.log.ReadFrom(s.offset)
	if err != nil {
		return err
	}
	if skipped > 0 {
		s.skipped.Add(int64(skipped))
		s.logger.Warn("skipped corrupt learning log lines",
			zap.Int("lines", skipped), zap.String("path", s.log.Path()))
	}
	s.offset = next
	for _, ev := range events {
		s.index(ev)
	}
	return nil
}

// index adds ev to the in-memory index. Caller holds s.mu.
func (s *Store) index(ev Event) {
	if _, dup := s.seen[ev.ID]; dup {
		return
	}
	s.seen[ev.ID] = struct{}{}
	list := append(s.byFP[ev.Fingerprint], ev)
	if len(list) > maxPerFingerprint {
		drop := len(list) - maxPerFingerprint
		for _, old := range list[:drop] {
			delete(s.seen, old.ID)
		}
		list = append([]Event(nil), list[drop:]...)
	}
	s.byFP[ev.Fingerprint] = list
	s.total++
	s.gen.Add(1)
}

// EffectivenessFor returns the confidence-weighted EWMA of the most recent
// matching events at the narrowest scope that has enough of them, or
// Neutral. The result is always in [0,1].
func (s *Store) EffectivenessFor(ctx context.Context, fingerprint string, lineage Lineage) float64 {
	if err := s.refresh(); err != nil {
		s.logger.Warn("learning log refresh failed", zap.Error(err))
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	events := s.byFP[fingerprint]
	if len(events) < s.minEvents {
		return Neutral
	}
	for _, scope := range scopeOrder {
		matched := visible(events, lineage, scope, s.window)
		if len(matched) >= s.minEvents {
			return ewma(matched, s.alpha)
		}
	}
	return Neutral
}

// Generation increases whenever the index changes. Callers cache derived
// decisions keyed on it.
func (s *Store) Generation() uint64 {
	if err := s.refresh(); err != nil {
		s.logger.Warn("learning log refresh failed", zap.Error(err))
	}
	return s.gen.Load()
}

// Stats summarizes the index.
type Stats struct {
	Events       int   `json:"events"`
	Fingerprints int   `json:"fingerprints"`
	SkippedLines int64 `json:"skipped_lines"`
}

// Stats returns index counters.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{Events: s.total, Fingerprints: len(s.byFP), SkippedLines: s.skipped.Load()}
}

// Close closes the log.
func (s *Store) Close() error {
	if s.log == nil {
		return nil
	}
	return s.log.Close()
}

// visible returns up to window of the most recent events a query from
// lineage may see at scope, oldest first. An event recorded at a broad
// scope is not visible to narrower queries.
func visible(events []Event, lineage Lineage, scope Scope, window int) []Event {
	out := make([]Event, 0, window)
	for i := len(events) - 1; i >= 0 && len(out) < window; i-- {
		ev := events[i]
		if ev.Scope.rank() > scope.rank() || !ev.Lineage.matches(lineage, scope) {
			continue
		}
		out = append(out, ev)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// ewma seeds at the first observation pulled toward Neutral by its
// confidence, then moves toward each later observation by alpha*confidence.
func ewma(events []Event, alpha float64) float64 {
	v := Neutral + events[0].Confidence*(events[0].Effectiveness-Neutral)
	for _, ev := range events[1:] {
		v += alpha * ev.Confidence * (ev.Effectiveness - v)
	}
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
