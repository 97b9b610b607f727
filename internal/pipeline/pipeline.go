package pipeline

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ctxrouter/internal/analyzer"
	"github.com/fyrsmithlabs/ctxrouter/internal/cache"
	"github.com/fyrsmithlabs/ctxrouter/internal/capability"
	"github.com/fyrsmithlabs/ctxrouter/internal/compression"
	"github.com/fyrsmithlabs/ctxrouter/internal/learning"
	"github.com/fyrsmithlabs/ctxrouter/internal/logging"
	"github.com/fyrsmithlabs/ctxrouter/internal/router"
)

var (
	// ErrUnknownOperation is returned for an outcome whose operation was
	// never routed, already reported, or has expired.
	ErrUnknownOperation = errors.New("unknown operation")

	// ErrUnknownProvider is returned for an outcome naming a provider the
	// decision did not choose.
	ErrUnknownProvider = errors.New("provider not chosen for operation")
)

// dispatchConfidence weights outcomes derived from provider results rather
// than reported by the host.
const dispatchConfidence = 0.5

// Options configures a Pipeline. Nil handles get working defaults, except
// Cache, Recorder, Estimator and Dispatcher, which are simply not used.
type Options struct {
	Analyzer    *analyzer.Analyzer
	Router      *router.Router
	Compression *compression.Engine
	Registry    capability.Source
	Cache       *cache.Cache
	Recorder    learning.Recorder
	Estimator   learning.Estimator
	Dispatcher  *capability.Dispatcher
	Metrics     *Metrics
	Logger      *zap.Logger
	Tracer      trace.Tracer
}

// Pipeline wires the stages together. It is safe for concurrent use by any
// number of sessions.
type Pipeline struct {
	analyzer    *analyzer.Analyzer
	router      *router.Router
	compression *compression.Engine
	registry    capability.Source
	cache       *cache.Cache
	recorder    learning.Recorder
	estimator   learning.Estimator
	dispatcher  *capability.Dispatcher
	metrics     *Metrics
	logger      *zap.Logger
	tracer      trace.Tracer

	sessions *sessions
	pending  *pendingOps
	now      func() time.Time
}

// New creates a Pipeline.
func New(opts Options) *Pipeline {
	p := &Pipeline{
		analyzer:    opts.Analyzer,
		router:      opts.Router,
		compression: opts.Compression,
		registry:    opts.Registry,
		cache:       opts.Cache,
		recorder:    opts.Recorder,
		estimator:   opts.Estimator,
		dispatcher:  opts.Dispatcher,
		metrics:     opts.Metrics,
		logger:      opts.Logger,
		tracer:      opts.Tracer,
		sessions:    newSessions(sessionLimit),
		pending:     newPendingOps(),
		now:         time.Now,
	}
	if p.logger == nil {
		p.logger = zap.NewNop()
	}
	if p.tracer == nil {
		p.tracer = otel.Tracer("github.com/fyrsmithlabs/ctxrouter/internal/pipeline")
	}
	if p.analyzer == nil {
		p.analyzer = analyzer.New(analyzer.WithLogger(p.logger))
	}
	if p.router == nil {
		p.router = router.New(router.WithEstimator(p.estimator), router.WithLogger(p.logger))
	}
	if p.registry == nil {
		p.registry = capability.NewStatic(capability.DefaultRegistry())
	}
	if p.metrics == nil {
		p.metrics = NewMetrics()
	}
	if p.compression == nil {
		engine, err := compression.NewEngine(
			compression.WithCache(p.cache),
			compression.WithEstimator(p.estimator),
			compression.WithRecorder(p.recorder),
			compression.WithLogger(p.logger),
		)
		if err != nil {
			p.logger.Warn("compression disabled", zap.Error(err))
		}
		p.compression = engine
	}
	return p
}

// session builds the SessionContext for one invocation.
func (p *Pipeline) session(req analyzer.OperationRequest) *SessionContext {
	return &SessionContext{
		Lineage: learning.Lineage{
			SessionID: req.SessionID,
			UserID:    req.UserID,
			ProjectID: req.ProjectID,
		},
		History:  p.sessions.history(req.SessionID),
		Registry: p.registry.Current(),
		Cache:    p.cache,
		Learning: p.recorder,
		Started:  p.now(),
	}
}

// Process analyzes and routes req, compressing req.Context when present.
// It never fails; any stage failure yields FallbackResponse.
func (p *Pipeline) Process(ctx context.Context, req Request) Response {
	resp, _, _ := p.process(ctx, req)
	return resp
}

func (p *Pipeline) process(ctx context.Context, req Request) (resp Response, profile analyzer.RequestProfile, decision router.Decision) {
	ctx, span := p.tracer.Start(ctx, "pipeline.process",
		trace.WithAttributes(attribute.String("operation_id", req.OperationID)))
	defer span.End()
	ctx = logging.WithOperationID(logging.WithSessionID(ctx, req.SessionID), req.OperationID)

	defer func() {
		if r := recover(); r != nil {
			p.metrics.panicked("process")
			p.metrics.request("fallback")
			p.logger.Error("pipeline panic recovered",
				append(logging.ContextFields(ctx), zap.Any("panic", r), zap.Stack("stack"))...)
			span.SetStatus(codes.Error, "panic recovered")
			resp = FallbackResponse(req.OperationID)
			decision = router.Terminal()
		}
	}()

	sc := p.session(req.OperationRequest)
	invalid := analyzer.Validate(req.OperationRequest) != nil

	start := p.now()
	profile = p.analyzer.Analyze(ctx, req.OperationRequest, sc.History)
	p.metrics.stage("analyze", start)

	start = p.now()
	decision = p.router.Route(ctx, profile, sc.Registry, sc.Lineage)
	p.metrics.stage("route", start)

	resp = Response{
		OperationID:     req.OperationID,
		Providers:       decision.Providers,
		Strategy:        decision.Strategy,
		EstimatedCostMS: decision.EstimatedCostMS,
		FallbackChain:   decision.FallbackChain,
		FallbackMode:    invalid || decision.TimedOut,
		Degraded:        decision.Degraded,
		ComplexityScore: profile.ComplexityScore,
		Category:        profile.Category,
	}
	if resp.Providers == nil {
		resp.Providers = []string{}
	}

	if req.Context != "" {
		cr := p.compress(ctx, req.Context, req.Classification, req.Pressure, sc.Lineage)
		if !cr.FallbackMode && cr.Applied() {
			resp.CompressionApplied = true
			resp.CompressedContext = cr.Content
		}
	}
	resp.Enhanced = len(resp.Providers) > 0 || resp.CompressionApplied

	if !invalid {
		p.sessions.observe(req.SessionID, profile, sc.Started)
		p.metrics.sessions(p.sessions.len())
	}
	if len(decision.Providers) > 0 {
		p.pending.add(req.OperationID, pendingOp{
			shape:     profile.Shape,
			providers: slices.Clone(decision.Providers),
			lineage:   sc.Lineage,
			at:        sc.Started,
		})
	}

	switch {
	case resp.FallbackMode:
		p.metrics.request("fallback")
	case resp.Enhanced:
		p.metrics.request("enhanced")
	default:
		p.metrics.request("native")
	}

	span.SetAttributes(
		attribute.Bool("pipeline.enhanced", resp.Enhanced),
		attribute.Bool("pipeline.fallback_mode", resp.FallbackMode),
	)
	p.logger.Debug("request routed", append(logging.ContextFields(ctx),
		zap.String("category", string(profile.Category)),
		zap.Strings("providers", resp.Providers),
		zap.String("strategy", string(resp.Strategy)),
		zap.Bool("fallback_mode", resp.FallbackMode))...)
	return resp, profile, decision
}

// Compress runs one standalone compression call. It never fails; an engine
// failure returns the content unmodified with FallbackMode set.
func (p *Pipeline) Compress(ctx context.Context, req CompressRequest) CompressResponse {
	lineage := learning.Lineage{SessionID: req.SessionID, UserID: req.UserID, ProjectID: req.ProjectID}
	return p.compress(ctx, req.Content, req.Classification, req.Pressure, lineage)
}

func (p *Pipeline) compress(ctx context.Context, content string, c compression.Classification, pressure float64, lineage learning.Lineage) (resp CompressResponse) {
	defer func() {
		if r := recover(); r != nil {
			p.metrics.panicked("compress")
			p.logger.Error("compression panic recovered", zap.Any("panic", r), zap.Stack("stack"))
			resp = uncompressed(content)
		}
	}()

	if p.compression == nil {
		return uncompressed(content)
	}

	start := p.now()
	defer p.metrics.stage("compress", start)
	res := p.compression.Compress(ctx, compression.Request{
		Content:        content,
		Classification: c,
		Pressure:       pressure,
		Lineage:        lineage,
	})
	return CompressResponse{Result: res}
}

func uncompressed(content string) CompressResponse {
	tokens := compression.EstimateTokens(content)
	return CompressResponse{
		Result: compression.Result{
			Content:           content,
			Strategy:          compression.StrategyFor(0),
			PreservationScore: 1,
			OriginalTokens:    tokens,
			CompressedTokens:  tokens,
		},
		FallbackMode: true,
	}
}

// RecordOutcome records how a routed operation went, once per chosen
// provider (or only o.ProviderID). Learning store write failures are logged
// and dropped.
func (p *Pipeline) RecordOutcome(ctx context.Context, o Outcome) error {
	if o.Confidence == 0 {
		o.Confidence = 1
	}
	probe := learning.Event{Scope: learning.ScopeGlobal, Fingerprint: "-", Effectiveness: o.Effectiveness, Confidence: o.Confidence}
	if err := probe.Validate(); err != nil {
		p.metrics.outcome("rejected")
		return err
	}

	now := p.now()
	op, ok := p.pending.take(o.OperationID, now)
	if !ok {
		p.metrics.outcome("unknown")
		return fmt.Errorf("%w: %q", ErrUnknownOperation, o.OperationID)
	}

	targets := op.providers
	if o.ProviderID != "" {
		if !slices.Contains(op.providers, o.ProviderID) {
			p.pending.add(o.OperationID, op)
			p.metrics.outcome("rejected")
			return fmt.Errorf("%w: %q", ErrUnknownProvider, o.ProviderID)
		}
		targets = []string{o.ProviderID}
		if rest := slices.DeleteFunc(slices.Clone(op.providers), func(id string) bool { return id == o.ProviderID }); len(rest) > 0 {
			op.providers = rest
			p.pending.add(o.OperationID, op)
		}
	}

	for _, id := range targets {
		p.record(ctx, learning.Event{
			Type:          learning.EventRouting,
			Scope:         op.lineage.Narrowest(),
			Fingerprint:   router.Fingerprint(op.shape, id),
			Lineage:       op.lineage,
			Effectiveness: o.Effectiveness,
			Confidence:    o.Confidence,
			Timestamp:     now.UTC(),
		})
	}
	p.metrics.outcome("recorded")
	return nil
}

func (p *Pipeline) record(ctx context.Context, ev learning.Event) {
	if p.recorder == nil {
		return
	}
	if err := p.recorder.Record(ctx, ev); err != nil {
		p.logger.Warn("dropping learning event",
			zap.String("fingerprint", ev.Fingerprint),
			zap.Error(err))
	}
}

// Execute processes req and, when providers were chosen, invokes them
// through the dispatcher. Each served slot is recorded as a routing outcome
// for the provider that actually served it.
func (p *Pipeline) Execute(ctx context.Context, req Request) (Response, []capability.Outcome) {
	resp, profile, decision := p.process(ctx, req)
	if p.dispatcher == nil || len(decision.Providers) == 0 || resp.FallbackMode {
		return resp, nil
	}

	outcomes := p.dispatch(ctx, decision, profile)
	op, ok := p.pending.take(req.OperationID, p.now())
	if !ok {
		return resp, outcomes
	}
	for _, out := range outcomes {
		if out.Native() {
			continue
		}
		eff := out.Result.Effectiveness
		switch {
		case out.Err != nil:
			eff = 0
		case eff <= 0 || eff > 1:
			eff = 1
		}
		p.record(ctx, learning.Event{
			Type:          learning.EventRouting,
			Scope:         op.lineage.Narrowest(),
			Fingerprint:   router.Fingerprint(op.shape, out.ProviderID),
			Lineage:       op.lineage,
			Effectiveness: eff,
			Confidence:    dispatchConfidence,
			Timestamp:     p.now().UTC(),
		})
	}
	return resp, outcomes
}

func (p *Pipeline) dispatch(ctx context.Context, d router.Decision, profile analyzer.RequestProfile) (outcomes []capability.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			p.metrics.panicked("dispatch")
			p.logger.Error("dispatch panic recovered", zap.Any("panic", r), zap.Stack("stack"))
			outcomes = nil
		}
	}()
	start := p.now()
	defer p.metrics.stage("dispatch", start)
	return p.dispatcher.Dispatch(ctx, d.Plan(), profile)
}

// Effectiveness returns the learned effectiveness for fingerprint, or
// learning.Neutral without an estimator.
func (p *Pipeline) Effectiveness(ctx context.Context, fingerprint string, lineage learning.Lineage) float64 {
	if p.estimator == nil {
		return learning.Neutral
	}
	return p.estimator.EffectivenessFor(ctx, fingerprint, lineage)
}

// EndSession forgets the session's history.
func (p *Pipeline) EndSession(sessionID string) {
	p.sessions.end(sessionID)
	p.metrics.sessions(p.sessions.len())
}

// Registry returns the registry in force.
func (p *Pipeline) Registry() *capability.Registry {
	return p.registry.Current()
}
