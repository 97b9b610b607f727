package pipeline

import (
	"github.com/fyrsmithlabs/ctxrouter/internal/analyzer"
	"github.com/fyrsmithlabs/ctxrouter/internal/compression"
	"github.com/fyrsmithlabs/ctxrouter/internal/router"
)

// Request is the message the host sends for one operation. Context, when
// set, is compressed under Pressure before the response is returned.
type Request struct {
	analyzer.OperationRequest

	Context        string                     `json:"context,omitempty"`
	Pressure       float64                    `json:"resource_pressure,omitempty"`
	Classification compression.Classification `json:"classification,omitempty"`
}

// Response is the message returned to the host. Its schema is never
// omitted, only degraded.
type Response struct {
	OperationID        string            `json:"operation_id"`
	Enhanced           bool              `json:"enhanced"`
	Providers          []string          `json:"providers"`
	Strategy           router.Strategy   `json:"coordination_strategy"`
	EstimatedCostMS    int               `json:"estimated_cost_ms"`
	FallbackChain      []string          `json:"fallback_chain,omitempty"`
	CompressionApplied bool              `json:"compression_applied"`
	CompressedContext  string            `json:"compressed_context,omitempty"`
	FallbackMode       bool              `json:"fallback_mode"`
	Degraded           bool              `json:"degraded"`
	ComplexityScore    float64           `json:"complexity_score"`
	Category           analyzer.Category `json:"category"`
}

// FallbackResponse is returned when any stage fails.
func FallbackResponse(operationID string) Response {
	return Response{
		OperationID:  operationID,
		Enhanced:     false,
		Providers:    []string{},
		Strategy:     router.StrategyNone,
		FallbackMode: true,
	}
}

// CompressRequest is a standalone compression call.
type CompressRequest struct {
	Content        string                     `json:"content"`
	Classification compression.Classification `json:"classification,omitempty"`
	Pressure       float64                    `json:"resource_pressure"`
	SessionID      string                     `json:"session_id,omitempty"`
	UserID         string                     `json:"user_id,omitempty"`
	ProjectID      string                     `json:"project_id,omitempty"`
}

// CompressResponse is a compression result. FallbackMode means the engine
// failed and Content is the unmodified input.
type CompressResponse struct {
	compression.Result
	FallbackMode bool `json:"fallback_mode"`
}

// Outcome reports how well a routed operation went.
type Outcome struct {
	OperationID   string  `json:"operation_id"`
	Effectiveness float64 `json:"effectiveness"`
	// Confidence defaults to 1 when zero.
	Confidence float64 `json:"confidence,omitempty"`
	// ProviderID limits the outcome to one chosen provider.
	ProviderID string `json:"provider_id,omitempty"`
}
