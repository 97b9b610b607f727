// Package capability describes the external providers the router can
// delegate to.
//
// The router only ever sees Descriptors. Concrete adapters implement
// Provider and are invoked by the Dispatcher once a routing decision exists.
package capability

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/fyrsmithlabs/ctxrouter/internal/analyzer"
)

// Native is the terminal fallback step: no provider, the host executes the
// operation unassisted.
const Native = "native"

var (
	// ErrUnavailable is returned by Provider.Invoke when the provider cannot
	// serve the request right now.
	ErrUnavailable = errors.New("capability provider unavailable")

	// ErrInvalidDescriptor reports a descriptor that cannot be registered.
	ErrInvalidDescriptor = errors.New("invalid provider descriptor")
)

// Cost is a provider's coarse latency class.
type Cost string

const (
	CostLight     Cost = "light"
	CostStandard  Cost = "standard"
	CostIntensive Cost = "intensive"
)

// Rank orders costs cheapest first. Unknown costs rank last.
func (c Cost) Rank() int {
	switch c {
	case CostLight:
		return 0
	case CostStandard:
		return 1
	case CostIntensive:
		return 2
	default:
		return 3
	}
}

// Valid reports whether c is a known cost class.
func (c Cost) Valid() bool {
	return c.Rank() < 3
}

// Descriptor is what a provider registers with the router.
type Descriptor struct {
	ID        string                `json:"id"`
	Tags      []analyzer.Capability `json:"capability_tags"`
	Cost      Cost                  `json:"cost_profile"`
	Available bool                  `json:"available"`
}

// HasTag reports whether d advertises tag.
func (d Descriptor) HasTag(tag analyzer.Capability) bool {
	return slices.Contains(d.Tags, tag)
}

// Validate checks the descriptor is registrable.
func (d Descriptor) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidDescriptor)
	}
	if d.ID == Native {
		return fmt.Errorf("%w: id %q is reserved", ErrInvalidDescriptor, Native)
	}
	if len(d.Tags) == 0 {
		return fmt.Errorf("%w: provider %q has no capability tags", ErrInvalidDescriptor, d.ID)
	}
	if !d.Cost.Valid() {
		return fmt.Errorf("%w: provider %q has unknown cost %q", ErrInvalidDescriptor, d.ID, d.Cost)
	}
	return nil
}

// Result is what a provider returns for one invocation.
type Result struct {
	ProviderID string `json:"provider_id"`
	Output     string `json:"output,omitempty"`
	// Effectiveness is the provider's own estimate in [0,1]; zero means unknown.
	Effectiveness float64 `json:"effectiveness,omitempty"`
}

// Provider is the contract every provider adapter implements.
type Provider interface {
	ID() string
	Tags() []analyzer.Capability
	Cost() Cost
	Invoke(ctx context.Context, profile analyzer.RequestProfile) (Result, error)
}

// InvokeFunc is the body of a FuncProvider.
type InvokeFunc func(ctx context.Context, profile analyzer.RequestProfile) (Result, error)

// FuncProvider adapts a descriptor and a function into a Provider.
type FuncProvider struct {
	desc Descriptor
	fn   InvokeFunc
}

// NewFuncProvider creates a FuncProvider.
func NewFuncProvider(desc Descriptor, fn InvokeFunc) *FuncProvider {
	return &FuncProvider{desc: desc, fn: fn}
}

func (p *FuncProvider) ID() string                  { return p.desc.ID }
func (p *FuncProvider) Tags() []analyzer.Capability { return p.desc.Tags }
func (p *FuncProvider) Cost() Cost                  { return p.desc.Cost }

// Invoke calls the wrapped function, reporting ErrUnavailable when the
// descriptor is marked unavailable.
func (p *FuncProvider) Invoke(ctx context.Context, profile analyzer.RequestProfile) (Result, error) {
	if !p.desc.Available || p.fn == nil {
		return Result{}, fmt.Errorf("%s: %w", p.desc.ID, ErrUnavailable)
	}
	res, err := p.fn(ctx, profile)
	if res.ProviderID == "" {
		res.ProviderID = p.desc.ID
	}
	return res, err
}
