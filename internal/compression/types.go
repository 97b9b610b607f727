package compression

import (
	"errors"

	"github.com/fyrsmithlabs/ctxrouter/internal/learning"
)

// ErrQualityShortfall is reported by Result.Err when no level met its
// preservation threshold. The content is still usable.
var ErrQualityShortfall = errors.New("compression quality below threshold")

// Classification says how much a payload may be altered.
type Classification string

const (
	// Protected content is returned unmodified.
	Protected Classification = "PROTECTED"
	// User content is limited to whitespace changes.
	User Classification = "USER"
	// Session content follows the level table.
	Session Classification = "SESSION"
)

// Valid reports whether c is a known classification.
func (c Classification) Valid() bool {
	switch c {
	case Protected, User, Session:
		return true
	}
	return false
}

// Structural names the structural rewrite depth of a strategy.
type Structural string

const (
	StructuralNone       Structural = "none"
	StructuralWhitespace Structural = "whitespace"
	StructuralAggressive Structural = "aggressive"
	StructuralMaximal    Structural = "maximal"
)

// Strategy describes one compression level.
type Strategy struct {
	Level            int        `json:"level"`
	Name             string     `json:"name"`
	SymbolSystems    bool       `json:"symbol_systems"`
	Abbreviations    bool       `json:"abbreviations"`
	Structural       Structural `json:"structural"`
	QualityThreshold float64    `json:"quality_threshold"`
}

// Request is one compression call.
type Request struct {
	Content        string
	Classification Classification
	// Pressure in [0,1]; out-of-range values are clamped.
	Pressure float64
	// Lineage scopes learned adaptation and the recorded outcome.
	Lineage learning.Lineage
}

// Result is the outcome of a compression call.
type Result struct {
	Content           string   `json:"content"`
	Strategy          Strategy `json:"strategy"`
	PreservationScore float64  `json:"preservation_score"`
	QualityShortfall  bool     `json:"quality_shortfall"`
	// RequestedLevel is the level pressure and classification selected,
	// before adaptation and retries.
	RequestedLevel   int         `json:"requested_level"`
	Kind             ContentKind `json:"content_kind"`
	OriginalTokens   int         `json:"original_tokens"`
	CompressedTokens int         `json:"compressed_tokens"`
	BudgetExceeded   bool        `json:"budget_exceeded,omitempty"`
	Adapted          bool        `json:"adapted,omitempty"`
	CacheHit         bool        `json:"cache_hit"`
}

// Err returns ErrQualityShortfall when the result is flagged, nil otherwise.
func (r Result) Err() error {
	if r.QualityShortfall {
		return ErrQualityShortfall
	}
	return nil
}

// Applied reports whether the content was changed.
func (r Result) Applied() bool {
	return r.Strategy.Level > 0 && r.CompressedTokens < r.OriginalTokens
}

// EstimateTokens approximates a token count at four bytes per token.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}
