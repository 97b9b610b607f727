// Package analyzer turns raw operation requests into request profiles.
//
// Analysis is pure CPU work over small rule tables. It never fails: any
// malformed request or overrun of the latency budget yields DefaultProfile.
package analyzer

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ErrMalformedRequest reports a request the analyzer cannot interpret.
var ErrMalformedRequest = errors.New("malformed operation request")

const (
	// DefaultBudget is the tightest per-stage budget of any call site.
	DefaultBudget = 15 * time.Millisecond

	// maxIntentLength bounds regex work on pathological input.
	maxIntentLength = 4096

	// historyWindow is how many trailing history entries are inspected.
	historyWindow = 5
	// continuationThreshold entries of the same category trigger the
	// continuation bias.
	continuationThreshold = 3

	intelligenceFileThreshold = 5
	analysisScoreThreshold    = 0.7
)

// Analyzer computes RequestProfiles.
type Analyzer struct {
	budget time.Duration
	logger *zap.Logger
	tracer trace.Tracer
	now    func() time.Time
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithBudget sets the latency budget.
func WithBudget(d time.Duration) Option {
	return func(a *Analyzer) {
		if d > 0 {
			a.budget = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(a *Analyzer) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithTracer sets the tracer.
func WithTracer(t trace.Tracer) Option {
	return func(a *Analyzer) {
		if t != nil {
			a.tracer = t
		}
	}
}

// New creates an Analyzer.
func New(opts ...Option) *Analyzer {
	a := &Analyzer{
		budget: DefaultBudget,
		logger: zap.NewNop(),
		tracer: otel.Tracer("github.com/fyrsmithlabs/ctxrouter/internal/analyzer"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Validate reports whether req can be analyzed.
func Validate(req OperationRequest) error {
	switch {
	case strings.TrimSpace(req.Kind) == "" && strings.TrimSpace(req.IntentText) == "":
		return fmt.Errorf("%w: kind and intent are both empty", ErrMalformedRequest)
	case req.Scope.FileCount < 0 || req.Scope.DirCount < 0:
		return fmt.Errorf("%w: negative scope counts", ErrMalformedRequest)
	case !utf8.ValidString(req.Kind) || !utf8.ValidString(req.IntentText):
		return fmt.Errorf("%w: invalid UTF-8", ErrMalformedRequest)
	}
	return nil
}

// Analyze profiles req using the session's recent history.
func (a *Analyzer) Analyze(ctx context.Context, req OperationRequest, history []HistoryEntry) RequestProfile {
	ctx, span := a.tracer.Start(ctx, "analyzer.analyze")
	defer span.End()

	start := a.now()

	if err := Validate(req); err != nil {
		a.logger.Debug("analysis fell back to default profile",
			zap.String("operation_id", req.OperationID),
			zap.Error(err))
		span.SetAttributes(attribute.Bool("analyzer.fallback", true))
		return DefaultProfile()
	}

	p := a.profile(req, history)

	if elapsed := a.now().Sub(start); elapsed > a.budget || ctx.Err() != nil {
		a.logger.Warn("analysis exceeded budget",
			zap.String("operation_id", req.OperationID),
			zap.Duration("elapsed", elapsed),
			zap.Duration("budget", a.budget))
		span.SetAttributes(attribute.Bool("analyzer.fallback", true))
		return DefaultProfile()
	}

	span.SetAttributes(
		attribute.String("analyzer.category", string(p.Category)),
		attribute.Float64("analyzer.complexity", p.ComplexityScore),
		attribute.Int("analyzer.capabilities", len(p.Capabilities)),
	)
	return p
}

func (a *Analyzer) profile(req OperationRequest, history []HistoryEntry) RequestProfile {
	intent := req.IntentText
	if len(intent) > maxIntentLength {
		intent = intent[:maxIntentLength]
	}

	files := max(req.Scope.FileCount, 1)
	dirs := max(req.Scope.DirCount, 1)

	category, ok := matchKind(req.Kind)
	if !ok {
		if category, ok = matchCategory(intent); !ok {
			category = CategoryRead
		}
	}

	requiresIntel := intelligencePattern.MatchString(intent) || files > intelligenceFileThreshold

	score := baseScore[category] + 0.1*float64(files-1) + 0.05*float64(dirs-1)
	if requiresIntel {
		score += 0.2
	}
	score = clamp01(score)

	caps := make(map[Capability]struct{})
	for _, c := range categoryCapabilities[category] {
		caps[c] = struct{}{}
	}
	for _, r := range capabilityRules {
		if r.regex.MatchString(intent) {
			caps[r.capability] = struct{}{}
		}
	}
	if requiresIntel && score >= analysisScoreThreshold {
		caps[CapAnalysis] = struct{}{}
	}
	for _, c := range continuationCapabilities(category, history) {
		caps[c] = struct{}{}
	}

	p := RequestProfile{
		ComplexityScore:      score,
		Category:             category,
		Parallelizable:       (category == CategoryRead || category == CategoryTest) && files > 1 && !req.HasDependencies,
		Capabilities:         sortedCapabilities(caps),
		RequiresIntelligence: requiresIntel,
		FileCount:            files,
		DirCount:             dirs,
	}
	p.Shape = shapeOf(p)
	return p
}

// continuationCapabilities returns the union of capabilities from recent
// history entries of the same category, when enough of them agree.
func continuationCapabilities(category Category, history []HistoryEntry) []Capability {
	if len(history) > historyWindow {
		history = history[len(history)-historyWindow:]
	}
	var matched int
	var union []Capability
	for _, h := range history {
		if h.Category != category {
			continue
		}
		matched++
		union = append(union, h.Capabilities...)
	}
	if matched < continuationThreshold {
		return nil
	}
	return union
}

func sortedCapabilities(set map[Capability]struct{}) []Capability {
	out := make([]Capability, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	slices.Sort(out)
	return out
}

// shapeOf renders category, scope buckets, capabilities and parallelism.
func shapeOf(p RequestProfile) string {
	tags := make([]string, len(p.Capabilities))
	for i, c := range p.Capabilities {
		tags[i] = string(c)
	}
	return strings.Join([]string{
		string(p.Category),
		"f" + bucket(p.FileCount),
		"d" + bucket(p.DirCount),
		strings.Join(tags, ","),
		strconv.FormatBool(p.Parallelizable),
	}, "|")
}

func bucket(n int) string {
	switch {
	case n <= 1:
		return "1"
	case n <= 5:
		return "2-5"
	case n <= 20:
		return "6-20"
	default:
		return "21+"
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
