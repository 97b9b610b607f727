package cache

import (
	"errors"
	"math"
	"time"

	"github.com/fyrsmithlabs/ctxrouter/internal/fingerprint"
)

var (
	// ErrNotFound reports a cold-tier miss.
	ErrNotFound = errors.New("cache entry not found")

	// ErrCorruptEntry reports a stored entry whose checksum no longer matches
	// its payload. The entry is discarded and the lookup treated as a miss.
	ErrCorruptEntry = errors.New("cache entry corrupt")
)

// ContentType selects an entry's retention window.
type ContentType string

const (
	Documentation ContentType = "documentation"
	Pattern       ContentType = "pattern"
	Intelligence  ContentType = "intelligence"
)

// Default retention windows.
const (
	DefaultDocumentationTTL = 30 * time.Minute
	DefaultPatternTTL       = 60 * time.Minute
	DefaultIntelligenceTTL  = 15 * time.Minute
)

// Tier is where an entry currently lives.
type Tier string

const (
	TierHot  Tier = "hot"
	TierWarm Tier = "warm"
	TierCold Tier = "cold"
)

// Key addresses a cache entry by content type and normalized context.
type Key struct {
	Type    ContentType
	Context string
}

// ID returns the fingerprint the entry is stored under.
func (k Key) ID() string {
	return fingerprint.Of(string(k.Type), k.Context)
}

// Entry is a cached payload with its placement metadata.
type Entry struct {
	ID            string      `json:"id"`
	Type          ContentType `json:"content_type"`
	Payload       []byte      `json:"payload"`
	Tier          Tier        `json:"tier"`
	Effectiveness float64     `json:"effectiveness"`
	AccessCount   int         `json:"access_count"`
	LastAccess    time.Time   `json:"last_access"`
	ExpiresAt     time.Time   `json:"expires_at"`
}

func (e *Entry) expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt)
}

// weight is effectiveness discounted by time since last access, halving
// every ttl.
func (e *Entry) weight(now time.Time, ttl time.Duration) float64 {
	age := now.Sub(e.LastAccess)
	if age < 0 || ttl <= 0 {
		return e.Effectiveness
	}
	return e.Effectiveness * math.Exp2(-age.Seconds()/ttl.Seconds())
}

func clampUnit(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
