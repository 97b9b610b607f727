package analyzer

import (
	"slices"
	"time"
)

// Category is the coarse operation class a request falls into.
type Category string

const (
	CategoryRead     Category = "READ"
	CategoryWrite    Category = "WRITE"
	CategoryBuild    Category = "BUILD"
	CategoryTest     Category = "TEST"
	CategoryAnalyze  Category = "ANALYZE"
	CategoryRefactor Category = "REFACTOR"
)

// Capability is a tag a provider advertises and a request may need.
type Capability string

const (
	CapGeneration    Capability = "generation"
	CapAnalysis      Capability = "analysis"
	CapRefactoring   Capability = "refactoring"
	CapTesting       Capability = "testing"
	CapFrontend      Capability = "frontend"
	CapBackend       Capability = "backend"
	CapSecurity      Capability = "security"
	CapPerformance   Capability = "performance"
	CapDocumentation Capability = "documentation"
	CapArchitecture  Capability = "architecture"
)

// Scope counts the files and directories a request targets.
type Scope struct {
	FileCount int `json:"file_count"`
	DirCount  int `json:"dir_count"`
}

// OperationRequest is an incoming operation as the host describes it.
// It is not modified after construction.
type OperationRequest struct {
	OperationID     string    `json:"operation_id"`
	Kind            string    `json:"kind"`
	IntentText      string    `json:"intent_text"`
	Scope           Scope     `json:"scope"`
	DeclaredScope   []string  `json:"declared_scope,omitempty"`
	SessionID       string    `json:"session_id"`
	UserID          string    `json:"user_id,omitempty"`
	ProjectID       string    `json:"project_id,omitempty"`
	HasDependencies bool      `json:"has_dependencies,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

// RequestProfile is the analyzer's structured view of a request.
type RequestProfile struct {
	ComplexityScore      float64      `json:"complexity_score"`
	Category             Category     `json:"category"`
	Parallelizable       bool         `json:"parallelizable"`
	Capabilities         []Capability `json:"capabilities_needed"`
	RequiresIntelligence bool         `json:"requires_intelligence"`
	FileCount            int          `json:"file_count"`
	DirCount             int          `json:"dir_count"`
	// Shape is a coarse, stable summary used as the learning fingerprint.
	Shape string `json:"shape"`
}

// Needs reports whether the profile asks for capability c.
func (p RequestProfile) Needs(c Capability) bool {
	_, found := slices.BinarySearch(p.Capabilities, c)
	return found
}

// HistoryEntry is one prior profile from the same session.
type HistoryEntry struct {
	Category     Category     `json:"category"`
	Capabilities []Capability `json:"capabilities"`
}

// DefaultProfile is the safest profile: zero score, READ, nothing needed.
func DefaultProfile() RequestProfile {
	p := RequestProfile{
		Category:  CategoryRead,
		FileCount: 1,
		DirCount:  1,
	}
	p.Shape = shapeOf(p)
	return p
}
