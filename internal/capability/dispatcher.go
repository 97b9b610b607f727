package capability

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/ctxrouter/internal/analyzer"
)

// Plan is the part of a routing decision the dispatcher executes.
type Plan struct {
	Providers []string
	Parallel  bool
	// Fallback ends with Native.
	Fallback []string
}

// Outcome records what happened to one planned provider slot.
type Outcome struct {
	// Planned is the provider the router chose for this slot.
	Planned string
	// ProviderID is the provider that actually served it, or Native.
	ProviderID string
	Result     Result
	Err        error
}

// Native reports whether the slot fell through to unassisted execution.
func (o Outcome) Native() bool {
	return o.ProviderID == Native
}

// Dispatcher invokes providers according to a Plan.
type Dispatcher struct {
	providers map[string]Provider
	logger    *zap.Logger
}

// NewDispatcher creates a Dispatcher over the given provider adapters.
func NewDispatcher(providers []Provider, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := make(map[string]Provider, len(providers))
	for _, p := range providers {
		m[p.ID()] = p
	}
	return &Dispatcher{providers: m, logger: logger}
}

// Dispatch invokes every planned provider. Parallel plans run concurrently;
// others run in order. A provider that reports ErrUnavailable (or has no
// adapter) is replaced by the next unused fallback entry, ending at Native.
// Dispatch never returns an error; failures are carried in each Outcome.
func (d *Dispatcher) Dispatch(ctx context.Context, plan Plan, profile analyzer.RequestProfile) []Outcome {
	fb := newFallbackCursor(plan)
	out := make([]Outcome, len(plan.Providers))

	if !plan.Parallel {
		for i, id := range plan.Providers {
			out[i] = d.serve(ctx, id, profile, fb)
		}
		return out
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, id := range plan.Providers {
		g.Go(func() error {
			out[i] = d.serve(gctx, id, profile, fb)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (d *Dispatcher) serve(ctx context.Context, planned string, profile analyzer.RequestProfile, fb *fallbackCursor) Outcome {
	id := planned
	for id != Native {
		if err := ctx.Err(); err != nil {
			return Outcome{Planned: planned, ProviderID: Native, Err: err}
		}
		p, ok := d.providers[id]
		if !ok {
			id = fb.next()
			continue
		}
		res, err := p.Invoke(ctx, profile)
		if errors.Is(err, ErrUnavailable) {
			d.logger.Debug("provider unavailable, trying fallback",
				zap.String("provider", id), zap.String("planned", planned))
			id = fb.next()
			continue
		}
		return Outcome{Planned: planned, ProviderID: id, Result: res, Err: err}
	}
	return Outcome{Planned: planned, ProviderID: Native}
}

// fallbackCursor hands out fallback entries once each across all slots.
type fallbackCursor struct {
	mu    sync.Mutex
	queue []string
}

func newFallbackCursor(plan Plan) *fallbackCursor {
	planned := make(map[string]struct{}, len(plan.Providers))
	for _, id := range plan.Providers {
		planned[id] = struct{}{}
	}
	q := make([]string, 0, len(plan.Fallback))
	for _, id := range plan.Fallback {
		if _, dup := planned[id]; dup || id == Native {
			continue
		}
		q = append(q, id)
	}
	return &fallbackCursor{queue: q}
}

func (c *fallbackCursor) next() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.queue) == 0 {
		return Native
	}
	id := c.queue[0]
	c.queue = c.queue[1:]
	return id
}
