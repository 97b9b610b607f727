package router

import (
	"slices"

	"github.com/fyrsmithlabs/ctxrouter/internal/analyzer"
	"github.com/fyrsmithlabs/ctxrouter/internal/capability"
)

// Strategy is how chosen providers are coordinated.
type Strategy string

const (
	StrategySingle     Strategy = "single"
	StrategyParallel   Strategy = "parallel"
	StrategySequential Strategy = "sequential_handoff"
	// StrategyNone means no provider: the host proceeds unassisted.
	StrategyNone Strategy = "none"
)

// Decision is the router's output.
type Decision struct {
	Providers       []string `json:"providers"`
	Strategy        Strategy `json:"coordination_strategy"`
	EstimatedCostMS int      `json:"estimated_cost_ms"`
	// FallbackChain is never empty and always ends with capability.Native.
	FallbackChain []string `json:"fallback_chain"`
	// Degraded is set when some needed tag had no available provider.
	Degraded            bool                  `json:"degraded"`
	DroppedCapabilities []analyzer.Capability `json:"dropped_capabilities,omitempty"`
	// CappedCapabilities had available providers but none fit under the
	// provider limit. They do not make a decision degraded.
	CappedCapabilities []analyzer.Capability `json:"capped_capabilities,omitempty"`
	TimedOut            bool                  `json:"timed_out,omitempty"`
	RegistryVersion     string                `json:"registry_version,omitempty"`
}

// Terminal returns the decision used when nothing else is possible.
func Terminal() Decision {
	return Decision{
		Providers:     []string{},
		Strategy:      StrategyNone,
		FallbackChain: []string{capability.Native},
	}
}

// Plan converts d into what the dispatcher executes.
func (d Decision) Plan() capability.Plan {
	return capability.Plan{
		Providers: slices.Clone(d.Providers),
		Parallel:  d.Strategy == StrategyParallel,
		Fallback:  slices.Clone(d.FallbackChain),
	}
}

// CostTable maps cost profiles to estimated milliseconds.
type CostTable struct {
	Light     int
	Standard  int
	Intensive int
}

// DefaultCosts are the documented per-profile estimates.
var DefaultCosts = CostTable{Light: 50, Standard: 150, Intensive: 400}

func (t CostTable) of(c capability.Cost) int {
	switch c {
	case capability.CostLight:
		return t.Light
	case capability.CostIntensive:
		return t.Intensive
	default:
		return t.Standard
	}
}
