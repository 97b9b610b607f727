package compression

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ctxrouter/internal/cache"
	"github.com/fyrsmithlabs/ctxrouter/internal/learning"
)

const (
	tracerName = "github.com/fyrsmithlabs/ctxrouter/internal/compression"
	meterName  = "compression"

	DefaultBudget          = 150 * time.Millisecond
	DefaultAdaptationFloor = 0.4

	// outcomeConfidence is the weight of self-recorded outcomes. The score
	// is measured, not observed downstream.
	outcomeConfidence = 0.5
)

// Engine compresses content. It is safe for concurrent use.
type Engine struct {
	budget        time.Duration
	floor         float64
	detectSecrets bool
	cache         *cache.Cache
	estimator     learning.Estimator
	recorder      learning.Recorder

	logger *zap.Logger
	tracer trace.Tracer
	meter  metric.Meter

	// Metrics
	compressionCounter metric.Int64Counter
	compressionTime    metric.Float64Histogram
	compressionRatio   metric.Float64Histogram
	compressionQuality metric.Float64Histogram
	shortfallCounter   metric.Int64Counter
}

// Option configures an Engine.
type Option func(*Engine)

// WithBudget sets the wall-clock budget for one Compress call.
func WithBudget(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.budget = d
		}
	}
}

// WithCache memoizes results in c as pattern entries.
func WithCache(c *cache.Cache) Option {
	return func(e *Engine) { e.cache = c }
}

// WithEstimator enables learned adaptation: a level whose learned
// effectiveness for the content kind is below the adaptation floor is
// stepped down before compressing.
func WithEstimator(est learning.Estimator) Option {
	return func(e *Engine) { e.estimator = est }
}

// WithRecorder records the preservation score of each fresh result.
func WithRecorder(r learning.Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// WithAdaptationFloor sets the learned effectiveness below which a level
// is stepped down.
func WithAdaptationFloor(f float64) Option {
	return func(e *Engine) {
		if f >= 0 && f <= 1 {
			e.floor = f
		}
	}
}

// WithDetectSecrets scans USER and SESSION content for credentials and
// treats content holding one as PROTECTED.
func WithDetectSecrets(on bool) Option {
	return func(e *Engine) { e.detectSecrets = on }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithTracer sets the tracer.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) {
		if t != nil {
			e.tracer = t
		}
	}
}

// WithMeter sets the meter metrics are created on.
func WithMeter(m metric.Meter) Option {
	return func(e *Engine) {
		if m != nil {
			e.meter = m
		}
	}
}

// NewEngine creates a compression engine.
func NewEngine(opts ...Option) (*Engine, error) {
	e := &Engine{
		budget: DefaultBudget,
		floor:  DefaultAdaptationFloor,
		logger: zap.NewNop(),
		tracer: otel.Tracer(tracerName),
		meter:  otel.Meter(meterName),
	}
	for _, opt := range opts {
		opt(e)
	}

	if err := e.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}
	return e, nil
}

// Compress compresses req.Content. It never fails: a result below every
// threshold is flagged, and a call that runs out of budget returns the
// level 1 rendition.
func (e *Engine) Compress(ctx context.Context, req Request) Result {
	ctx, span := e.tracer.Start(ctx, "compression.compress",
		trace.WithAttributes(attribute.Int("content_length", len(req.Content))),
	)
	defer span.End()

	start := time.Now()

	// The budget covers level selection and the passes; classification may
	// load the secret rules on first use.
	class := e.classification(req)
	if class == Protected {
		res := passthrough(req.Content)
		e.observe(ctx, span, class, res, start)
		return res
	}

	ctx, cancel := context.WithTimeout(ctx, e.budget)
	defer cancel()

	kind := DetectKind(req.Content)
	requested := LevelFor(req.Pressure, class)
	level, adapted := e.adapt(ctx, kind, requested, req.Lineage)

	key := cache.Key{Type: cache.Pattern, Context: cacheContext(class, level, req.Content)}
	if res, ok := e.cached(ctx, key); ok {
		e.observe(ctx, span, class, res, start)
		return res
	}

	res := e.compress(ctx, req.Content, level)
	res.RequestedLevel = requested
	res.Kind = kind
	res.Adapted = adapted

	if !res.BudgetExceeded {
		if e.cache != nil {
			if raw, err := json.Marshal(res); err == nil {
				e.cache.Put(ctx, key, raw, res.PreservationScore)
			}
		}
		e.record(ctx, res, req.Lineage)
	} else {
		e.logger.Warn("compression exceeded budget",
			zap.Int("requested_level", requested),
			zap.Duration("budget", e.budget))
	}

	e.observe(ctx, span, class, res, start)
	return res
}

// classification resolves the effective classification. Unknown labels are
// classified from the content.
func (e *Engine) classification(req Request) Classification {
	c := req.Classification
	if !c.Valid() {
		return Classify(req.Content)
	}
	if c != Protected && e.detectSecrets && ContainsSecret(req.Content) {
		return Protected
	}
	return c
}

// adapt steps level down once when learning says this kind compresses
// poorly there.
func (e *Engine) adapt(ctx context.Context, kind ContentKind, level int, lineage learning.Lineage) (int, bool) {
	if e.estimator == nil || level <= 1 {
		return level, false
	}
	eff := e.estimator.EffectivenessFor(ctx, Fingerprint(kind, level), lineage)
	if eff >= e.floor {
		return level, false
	}
	e.logger.Debug("stepping compression level down",
		zap.String("kind", string(kind)),
		zap.Int("level", level),
		zap.Float64("effectiveness", eff))
	return level - 1, true
}

// compress tries level, retries once a level down, and falls back to a
// flagged level 1 result.
func (e *Engine) compress(ctx context.Context, content string, level int) Result {
	segs := split(content)
	for tries := 0; tries < 2; tries++ {
		if ctx.Err() != nil {
			res := attempt(content, segs, 1)
			res.BudgetExceeded = true
			return res
		}
		res := attempt(content, segs, level)
		if res.PreservationScore >= res.Strategy.QualityThreshold {
			return res
		}
		if level <= 1 {
			res.QualityShortfall = true
			return res
		}
		e.logger.Debug("compression below threshold",
			zap.Int("level", level),
			zap.Float64("score", res.PreservationScore),
			zap.Float64("threshold", res.Strategy.QualityThreshold))
		level--
	}
	res := attempt(content, segs, 1)
	res.QualityShortfall = true
	return res
}

func attempt(content string, segs []segment, level int) Result {
	s := StrategyFor(level)
	out := run(segs, s)
	return Result{
		Content:           out,
		Strategy:          s,
		PreservationScore: Measure(content, out).Score(),
		OriginalTokens:    EstimateTokens(content),
		CompressedTokens:  EstimateTokens(out),
	}
}

func passthrough(content string) Result {
	tokens := EstimateTokens(content)
	return Result{
		Content:           content,
		Strategy:          StrategyFor(0),
		PreservationScore: 1.0,
		Kind:              DetectKind(content),
		OriginalTokens:    tokens,
		CompressedTokens:  tokens,
	}
}

// cacheContext keys on the exact bytes; fingerprint normalization would
// fold case.
func cacheContext(c Classification, level int, content string) string {
	sum := sha256.Sum256([]byte(content))
	return "compress|" + string(c) + "|" + strconv.Itoa(level) + "|" + hex.EncodeToString(sum[:])
}

func (e *Engine) cached(ctx context.Context, key cache.Key) (Result, bool) {
	if e.cache == nil {
		return Result{}, false
	}
	raw, ok := e.cache.Get(ctx, key)
	if !ok {
		return Result{}, false
	}
	var res Result
	if err := json.Unmarshal(raw, &res); err != nil {
		e.logger.Warn("discarding undecodable cached compression result", zap.Error(err))
		return Result{}, false
	}
	res.CacheHit = true
	return res, true
}

func (e *Engine) record(ctx context.Context, res Result, lineage learning.Lineage) {
	if e.recorder == nil {
		return
	}
	ev := learning.Event{
		Type:          learning.EventCompression,
		Scope:         lineage.Narrowest(),
		Fingerprint:   Fingerprint(res.Kind, res.Strategy.Level),
		Lineage:       lineage,
		Effectiveness: res.PreservationScore,
		Confidence:    outcomeConfidence,
		Timestamp:     time.Now().UTC(),
	}
	if err := e.recorder.Record(ctx, ev); err != nil {
		e.logger.Debug("failed to record compression outcome", zap.Error(err))
	}
}

func (e *Engine) observe(ctx context.Context, span trace.Span, c Classification, res Result, start time.Time) {
	elapsed := time.Since(start).Seconds()
	ratio := 1.0
	if res.CompressedTokens > 0 {
		ratio = float64(res.OriginalTokens) / float64(res.CompressedTokens)
	}

	attrs := metric.WithAttributes(
		attribute.String("classification", string(c)),
		attribute.Int("level", res.Strategy.Level),
	)
	e.compressionCounter.Add(ctx, 1, attrs)
	e.compressionTime.Record(ctx, elapsed, attrs)
	e.compressionRatio.Record(ctx, ratio, attrs)
	e.compressionQuality.Record(ctx, res.PreservationScore, attrs)
	if res.QualityShortfall {
		e.shortfallCounter.Add(ctx, 1, attrs)
	}

	span.SetAttributes(
		attribute.String("compression.classification", string(c)),
		attribute.Int("compression.level", res.Strategy.Level),
		attribute.Int("compression.requested_level", res.RequestedLevel),
		attribute.Float64("compression.preservation_score", res.PreservationScore),
		attribute.Bool("compression.quality_shortfall", res.QualityShortfall),
		attribute.Bool("compression.cache_hit", res.CacheHit),
		attribute.Bool("compression.budget_exceeded", res.BudgetExceeded),
	)
}

// initMetrics initializes OpenTelemetry metrics
func (e *Engine) initMetrics() error {
	var err error

	e.compressionCounter, err = e.meter.Int64Counter(
		"compression.operations_total",
		metric.WithDescription("Total number of compression operations"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create compression counter: %w", err)
	}

	e.compressionTime, err = e.meter.Float64Histogram(
		"compression.duration_seconds",
		metric.WithDescription("Time spent on compression operations"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.15, 0.5),
	)
	if err != nil {
		return fmt.Errorf("failed to create compression time histogram: %w", err)
	}

	e.compressionRatio, err = e.meter.Float64Histogram(
		"compression.ratio",
		metric.WithDescription("Compression ratios achieved"),
		metric.WithUnit("1"),
		metric.WithExplicitBucketBoundaries(1.0, 1.1, 1.25, 1.5, 2.0, 3.0, 5.0),
	)
	if err != nil {
		return fmt.Errorf("failed to create compression ratio histogram: %w", err)
	}

	e.compressionQuality, err = e.meter.Float64Histogram(
		"compression.preservation_score",
		metric.WithDescription("Preservation scores of compression results"),
		metric.WithUnit("1"),
		metric.WithExplicitBucketBoundaries(0.5, 0.8, 0.85, 0.9, 0.95, 0.98, 1.0),
	)
	if err != nil {
		return fmt.Errorf("failed to create compression quality histogram: %w", err)
	}

	e.shortfallCounter, err = e.meter.Int64Counter(
		"compression.shortfalls_total",
		metric.WithDescription("Results below every preservation threshold"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create compression shortfall counter: %w", err)
	}

	return nil
}
