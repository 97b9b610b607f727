// Package router selects capability providers for a request profile.
//
// Route never fails. Candidates are ranked by learned effectiveness for the
// profile shape, then by cost, then by registration order, and chosen
// greedily until every needed capability is covered. Anything that goes
// wrong, including running out of budget, yields a usable decision.
package router

import (
	"context"
	"encoding/json"
	"slices"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ctxrouter/internal/analyzer"
	"github.com/fyrsmithlabs/ctxrouter/internal/cache"
	"github.com/fyrsmithlabs/ctxrouter/internal/capability"
	"github.com/fyrsmithlabs/ctxrouter/internal/fingerprint"
	"github.com/fyrsmithlabs/ctxrouter/internal/learning"
)

const (
	DefaultBudget       = 150 * time.Millisecond
	DefaultMaxProviders = 3
)

// Fingerprint is the learning key for provider's effectiveness on requests
// of the given shape.
func Fingerprint(shape, providerID string) string {
	return fingerprint.Join("route", shape, providerID)
}

// Router routes request profiles to providers.
type Router struct {
	budget       time.Duration
	maxProviders int
	costs        CostTable
	estimator    learning.Estimator
	decisions    *cache.Cache
	logger       *zap.Logger
	tracer       trace.Tracer
}

// Option configures a Router.
type Option func(*Router)

// WithBudget sets the routing latency budget.
func WithBudget(d time.Duration) Option {
	return func(r *Router) {
		if d > 0 {
			r.budget = d
		}
	}
}

// WithMaxProviders caps how many providers one decision may choose.
func WithMaxProviders(n int) Option {
	return func(r *Router) {
		if n > 0 {
			r.maxProviders = n
		}
	}
}

// WithCosts overrides the cost estimates.
func WithCosts(t CostTable) Option {
	return func(r *Router) { r.costs = t }
}

// WithEstimator supplies learned effectiveness. Without one every provider
// ranks at learning.Neutral.
func WithEstimator(e learning.Estimator) Option {
	return func(r *Router) { r.estimator = e }
}

// WithDecisionCache memoizes decisions in c.
func WithDecisionCache(c *cache.Cache) Option {
	return func(r *Router) { r.decisions = c }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Router) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithTracer sets the tracer.
func WithTracer(t trace.Tracer) Option {
	return func(r *Router) {
		if t != nil {
			r.tracer = t
		}
	}
}

// New creates a Router.
func New(opts ...Option) *Router {
	r := &Router{
		budget:       DefaultBudget,
		maxProviders: DefaultMaxProviders,
		costs:        DefaultCosts,
		logger:       zap.NewNop(),
		tracer:       otel.Tracer("github.com/fyrsmithlabs/ctxrouter/internal/router"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// candidate is a provider with at least one needed tag.
type candidate struct {
	desc          capability.Descriptor
	relevant      []analyzer.Capability
	effectiveness float64
	order         int
}

// Route returns the routing decision for profile. Identical profile,
// registry, learning state and lineage yield identical decisions.
func (r *Router) Route(ctx context.Context, profile analyzer.RequestProfile, reg *capability.Registry, lineage learning.Lineage) Decision {
	ctx, cancel := context.WithTimeout(ctx, r.budget)
	defer cancel()
	ctx, span := r.tracer.Start(ctx, "router.route")
	defer span.End()

	if reg == nil || len(profile.Capabilities) == 0 {
		d := Terminal()
		if reg != nil {
			d.RegistryVersion = reg.Version()
		}
		return r.finish(span, d)
	}

	key, cacheable := r.decisionKey(profile, reg, lineage)
	if cacheable {
		if raw, ok := r.decisions.Get(ctx, key); ok {
			var d Decision
			if err := json.Unmarshal(raw, &d); err == nil {
				span.SetAttributes(attribute.Bool("router.cache_hit", true))
				return r.finish(span, d)
			}
		}
	}

	cands, ok := r.rank(ctx, profile, reg, lineage)
	if !ok {
		r.logger.Warn("routing exceeded budget",
			zap.String("shape", profile.Shape),
			zap.Duration("budget", r.budget))
		d := Terminal()
		d.TimedOut = true
		return r.finish(span, d)
	}

	d := r.decide(profile, reg, cands)
	if cacheable {
		if raw, err := json.Marshal(d); err == nil {
			r.decisions.Put(ctx, key, raw, meanEffectiveness(cands, d.Providers))
		}
	}
	return r.finish(span, d)
}

func (r *Router) finish(span trace.Span, d Decision) Decision {
	span.SetAttributes(
		attribute.String("router.strategy", string(d.Strategy)),
		attribute.Int("router.providers", len(d.Providers)),
		attribute.Bool("router.degraded", d.Degraded),
		attribute.Bool("router.timed_out", d.TimedOut),
	)
	return d
}

// rank scores candidates in ranking order. It reports false when the
// budget ran out.
func (r *Router) rank(ctx context.Context, profile analyzer.RequestProfile, reg *capability.Registry, lineage learning.Lineage) ([]candidate, bool) {
	var cands []candidate
	for i, desc := range reg.Descriptors() {
		if ctx.Err() != nil {
			return nil, false
		}
		var relevant []analyzer.Capability
		for _, tag := range desc.Tags {
			if profile.Needs(tag) {
				relevant = append(relevant, tag)
			}
		}
		if len(relevant) == 0 {
			continue
		}
		eff := learning.Neutral
		if r.estimator != nil && desc.Available {
			eff = r.estimator.EffectivenessFor(ctx, Fingerprint(profile.Shape, desc.ID), lineage)
		}
		cands = append(cands, candidate{desc: desc, relevant: relevant, effectiveness: eff, order: i})
	}
	if ctx.Err() != nil {
		return nil, false
	}

	slices.SortStableFunc(cands, func(a, b candidate) int {
		switch {
		case a.effectiveness > b.effectiveness:
			return -1
		case a.effectiveness < b.effectiveness:
			return 1
		}
		if c := a.desc.Cost.Rank() - b.desc.Cost.Rank(); c != 0 {
			return c
		}
		return a.order - b.order
	})
	return cands, true
}

// decide applies greedy selection, the fallback policy and strategy choice
// to ranked candidates.
func (r *Router) decide(profile analyzer.RequestProfile, reg *capability.Registry, cands []candidate) Decision {
	covered := make(map[analyzer.Capability]bool, len(profile.Capabilities))
	servable := make(map[analyzer.Capability]bool, len(profile.Capabilities))
	var chosen []candidate
	var rest []string

	for _, c := range cands {
		if !c.desc.Available {
			r.logger.Debug("skipping unavailable provider", zap.String("provider", c.desc.ID))
			continue
		}
		for _, tag := range c.relevant {
			servable[tag] = true
		}
		adds := false
		for _, tag := range c.relevant {
			if !covered[tag] {
				adds = true
				break
			}
		}
		if !adds || len(chosen) >= r.maxProviders {
			rest = append(rest, c.desc.ID)
			continue
		}
		for _, tag := range c.relevant {
			covered[tag] = true
		}
		chosen = append(chosen, c)
	}

	d := Decision{
		Providers:       []string{},
		FallbackChain:   append(rest, capability.Native),
		RegistryVersion: reg.Version(),
	}
	for _, tag := range profile.Capabilities {
		switch {
		case covered[tag]:
		case servable[tag]:
			d.CappedCapabilities = append(d.CappedCapabilities, tag)
		default:
			d.DroppedCapabilities = append(d.DroppedCapabilities, tag)
		}
	}
	d.Degraded = len(d.DroppedCapabilities) > 0
	if d.Degraded {
		r.logger.Info("routing with reduced capability set",
			zap.String("shape", profile.Shape),
			zap.Any("dropped", d.DroppedCapabilities))
	}

	if len(chosen) == 0 {
		d.Strategy = StrategyNone
		return d
	}

	d.Strategy, chosen = coordinate(profile, reg, chosen)
	for _, c := range chosen {
		d.Providers = append(d.Providers, c.desc.ID)
		cost := r.costs.of(c.desc.Cost)
		if d.Strategy == StrategyParallel {
			d.EstimatedCostMS = max(d.EstimatedCostMS, cost)
		} else {
			d.EstimatedCostMS += cost
		}
	}
	return d
}

// decisionKey returns the cache key for a decision. Decisions are cached
// only when a cache is configured.
func (r *Router) decisionKey(profile analyzer.RequestProfile, reg *capability.Registry, lineage learning.Lineage) (cache.Key, bool) {
	if r.decisions == nil {
		return cache.Key{}, false
	}
	var gen uint64
	if r.estimator != nil {
		gen = r.estimator.Generation()
	}
	// Lineage ids are hashed as given: learning matches them exactly.
	return cache.Key{
		Type: cache.Pattern,
		Context: fingerprint.Join(
			"route", profile.Shape, reg.Version(),
			strconv.FormatUint(gen, 10), strconv.Itoa(r.maxProviders),
			fingerprint.Exact(lineage.SessionID, lineage.UserID, lineage.ProjectID),
		),
	}, true
}

func meanEffectiveness(cands []candidate, chosen []string) float64 {
	if len(chosen) == 0 {
		return learning.Neutral
	}
	var sum float64
	for _, c := range cands {
		if slices.Contains(chosen, c.desc.ID) {
			sum += c.effectiveness
		}
	}
	return sum / float64(len(chosen))
}
