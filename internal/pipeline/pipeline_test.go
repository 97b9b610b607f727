package pipeline

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/ctxrouter/internal/analyzer"
	"github.com/fyrsmithlabs/ctxrouter/internal/capability"
	"github.com/fyrsmithlabs/ctxrouter/internal/compression"
	"github.com/fyrsmithlabs/ctxrouter/internal/learning"
	"github.com/fyrsmithlabs/ctxrouter/internal/logging"
	"github.com/fyrsmithlabs/ctxrouter/internal/router"
	"github.com/fyrsmithlabs/ctxrouter/internal/telemetry"
)

type fakeRecorder struct {
	mu     sync.Mutex
	events []learning.Event
	err    error
}

func (f *fakeRecorder) Record(_ context.Context, ev learning.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeRecorder) Events() []learning.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.events)
}

type panicSource struct{}

func (panicSource) Current() *capability.Registry { panic("registry exploded") }

func dashboardRequest(opID, session string) Request {
	return Request{OperationRequest: analyzer.OperationRequest{
		OperationID: opID,
		Kind:        "build",
		IntentText:  "implement dashboard with caching",
		Scope:       analyzer.Scope{FileCount: 8},
		SessionID:   session,
		UserID:      "u1",
	}}
}

func shapeOf(t *testing.T, req Request) string {
	t.Helper()
	return analyzer.New(analyzer.WithBudget(time.Second)).Analyze(context.Background(), req.OperationRequest, nil).Shape
}

func TestProcess_ReadNeedsNoProvider(t *testing.T) {
	p := New(Options{})

	resp := p.Process(context.Background(), Request{OperationRequest: analyzer.OperationRequest{
		OperationID: "op-1",
		Kind:        "read",
		Scope:       analyzer.Scope{FileCount: 1},
		SessionID:   "s1",
	}})

	assert.Equal(t, "op-1", resp.OperationID)
	assert.InDelta(t, 0.0, resp.ComplexityScore, 1e-9)
	assert.Equal(t, router.StrategyNone, resp.Strategy)
	assert.False(t, resp.Enhanced)
	assert.False(t, resp.FallbackMode)
	assert.NotNil(t, resp.Providers)
	assert.Empty(t, resp.Providers)
}

func TestProcess_BuildDashboard(t *testing.T) {
	p := New(Options{})

	resp := p.Process(context.Background(), dashboardRequest("op-2", "s1"))

	assert.True(t, resp.Enhanced)
	assert.Greater(t, resp.ComplexityScore, 0.6)
	assert.Equal(t, analyzer.CategoryBuild, resp.Category)
	require.NotEmpty(t, resp.Providers)

	reg := capability.DefaultRegistry()
	found := false
	for _, id := range resp.Providers {
		d, ok := reg.Lookup(id)
		require.True(t, ok)
		if d.HasTag(analyzer.CapAnalysis) || d.HasTag(analyzer.CapGeneration) {
			found = true
		}
	}
	assert.True(t, found, "providers %v", resp.Providers)
	require.NotEmpty(t, resp.FallbackChain)
	assert.Equal(t, capability.Native, resp.FallbackChain[len(resp.FallbackChain)-1])
}

func TestProcess_MalformedRequestFallsBack(t *testing.T) {
	p := New(Options{})

	resp := p.Process(context.Background(), Request{OperationRequest: analyzer.OperationRequest{
		OperationID: "op-3",
		Kind:        "build",
		Scope:       analyzer.Scope{FileCount: -2},
	}})

	assert.True(t, resp.FallbackMode)
	assert.False(t, resp.Enhanced)
	assert.Equal(t, router.StrategyNone, resp.Strategy)
	assert.Equal(t, analyzer.CategoryRead, resp.Category)
}

func TestProcess_RecoversPanics(t *testing.T) {
	tl := logging.NewTestLogger()
	m := NewMetrics()
	before := testutil.ToFloat64(m.PanicsTotal.WithLabelValues("process"))
	p := New(Options{Registry: panicSource{}, Metrics: m, Logger: tl.Underlying()})

	var resp Response
	require.NotPanics(t, func() {
		resp = p.Process(context.Background(), dashboardRequest("op-4", "s1"))
	})

	assert.Equal(t, FallbackResponse("op-4"), resp)
	assert.Equal(t, before+1, testutil.ToFloat64(m.PanicsTotal.WithLabelValues("process")))
	tl.AssertLogged(t, zapcore.ErrorLevel, "pipeline panic recovered")
	tl.AssertField(t, "pipeline panic recovered", "operation.id", "op-4")
}

func TestFallbackResponse_Schema(t *testing.T) {
	resp := FallbackResponse("x")
	assert.False(t, resp.Enhanced)
	assert.True(t, resp.FallbackMode)
	assert.Equal(t, []string{}, resp.Providers)
	assert.Equal(t, router.StrategyNone, resp.Strategy)
}

func TestProcess_CompressesContext(t *testing.T) {
	p := New(Options{})
	req := dashboardRequest("op-5", "s1")
	req.Context = "The configuration leads to a performance increase in production.\n"
	req.Classification = compression.Session
	req.Pressure = 0.92

	resp := p.Process(context.Background(), req)

	assert.True(t, resp.CompressionApplied)
	assert.Contains(t, resp.CompressedContext, "cfg")

	req.OperationID = "op-6"
	req.Classification = compression.Protected
	resp = p.Process(context.Background(), req)
	assert.False(t, resp.CompressionApplied)
	assert.Empty(t, resp.CompressedContext)
}

func TestCompress_Standalone(t *testing.T) {
	rec := &fakeRecorder{}
	p := New(Options{Recorder: rec})

	resp := p.Compress(context.Background(), CompressRequest{
		Content:        "User: please fix the   database   configuration\n",
		Classification: compression.User,
		Pressure:       0.99,
		SessionID:      "s1",
	})

	assert.False(t, resp.FallbackMode)
	assert.Equal(t, 1, resp.Strategy.Level)
	assert.Equal(t, "User: please fix the database configuration\n", resp.Content)
	require.Len(t, rec.Events(), 1)
	assert.Equal(t, learning.EventCompression, rec.Events()[0].Type)
}

func TestRecordOutcome(t *testing.T) {
	rec := &fakeRecorder{}
	p := New(Options{Recorder: rec})
	req := dashboardRequest("op-7", "s1")
	resp := p.Process(context.Background(), req)
	require.NotEmpty(t, resp.Providers)

	require.NoError(t, p.RecordOutcome(context.Background(), Outcome{OperationID: "op-7", Effectiveness: 0.9}))

	events := rec.Events()
	require.Len(t, events, len(resp.Providers))
	shape := shapeOf(t, req)
	for i, ev := range events {
		assert.Equal(t, learning.EventRouting, ev.Type)
		assert.Equal(t, router.Fingerprint(shape, resp.Providers[i]), ev.Fingerprint)
		assert.Equal(t, learning.ScopeSession, ev.Scope)
		assert.InDelta(t, 0.9, ev.Effectiveness, 1e-9)
		assert.InDelta(t, 1.0, ev.Confidence, 1e-9)
	}

	err := p.RecordOutcome(context.Background(), Outcome{OperationID: "op-7", Effectiveness: 0.9})
	assert.ErrorIs(t, err, ErrUnknownOperation)
}

func TestRecordOutcome_PerProvider(t *testing.T) {
	rec := &fakeRecorder{}
	p := New(Options{Recorder: rec})
	resp := p.Process(context.Background(), dashboardRequest("op-8", "s1"))
	require.Len(t, resp.Providers, 2)
	first, second := resp.Providers[0], resp.Providers[1]

	err := p.RecordOutcome(context.Background(), Outcome{OperationID: "op-8", Effectiveness: 0.4, ProviderID: "scribe"})
	assert.ErrorIs(t, err, ErrUnknownProvider)

	require.NoError(t, p.RecordOutcome(context.Background(), Outcome{OperationID: "op-8", Effectiveness: 0.4, ProviderID: first}))
	require.NoError(t, p.RecordOutcome(context.Background(), Outcome{OperationID: "op-8", Effectiveness: 0.6, ProviderID: second}))
	assert.ErrorIs(t, p.RecordOutcome(context.Background(), Outcome{OperationID: "op-8", Effectiveness: 0.6}), ErrUnknownOperation)

	events := rec.Events()
	require.Len(t, events, 2)
	assert.Contains(t, events[0].Fingerprint, first)
	assert.Contains(t, events[1].Fingerprint, second)
}

func TestRecordOutcome_Invalid(t *testing.T) {
	p := New(Options{Recorder: &fakeRecorder{}})
	p.Process(context.Background(), dashboardRequest("op-9", "s1"))

	err := p.RecordOutcome(context.Background(), Outcome{OperationID: "op-9", Effectiveness: 1.5})
	assert.ErrorIs(t, err, learning.ErrInvalidEvent)

	// the operation is still pending after a rejected outcome
	assert.NoError(t, p.RecordOutcome(context.Background(), Outcome{OperationID: "op-9", Effectiveness: 1}))
}

func TestRecordOutcome_WriteFailureIsDropped(t *testing.T) {
	tl := logging.NewTestLogger()
	rec := &fakeRecorder{err: fmt.Errorf("disk full: %w", learning.ErrWriteFailed)}
	p := New(Options{Recorder: rec, Logger: tl.Underlying()})
	p.Process(context.Background(), dashboardRequest("op-10", "s1"))

	assert.NoError(t, p.RecordOutcome(context.Background(), Outcome{OperationID: "op-10", Effectiveness: 0.5}))
	tl.AssertLogged(t, zapcore.WarnLevel, "dropping learning event")
}

func TestOutcomesFeedBackIntoEffectiveness(t *testing.T) {
	store, err := learning.Open("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	p := New(Options{Recorder: store, Estimator: store})

	var providers []string
	for i := range 5 {
		opID := fmt.Sprintf("op-%d", i)
		resp := p.Process(context.Background(), dashboardRequest(opID, fmt.Sprintf("s-%d", i)))
		providers = resp.Providers
		require.NoError(t, p.RecordOutcome(context.Background(), Outcome{OperationID: opID, Effectiveness: 0.1}))
	}
	require.NotEmpty(t, providers)

	fp := router.Fingerprint(shapeOf(t, dashboardRequest("x", "fresh")), providers[0])
	got := p.Effectiveness(context.Background(), fp, learning.Lineage{SessionID: "fresh", UserID: "u1"})
	assert.InDelta(t, 0.1, got, 1e-9)

	// another user sees only the global scope, which also has five events
	assert.InDelta(t, 0.1, p.Effectiveness(context.Background(), fp, learning.Lineage{UserID: "u2"}), 1e-9)
	assert.InDelta(t, learning.Neutral, p.Effectiveness(context.Background(), "unseen", learning.Lineage{}), 1e-9)
}

func TestEffectiveness_NoEstimator(t *testing.T) {
	p := New(Options{})
	assert.Equal(t, learning.Neutral, p.Effectiveness(context.Background(), "fp", learning.Lineage{}))
}

func TestExecute_DispatchesAndRecords(t *testing.T) {
	rec := &fakeRecorder{}
	served := map[string]bool{}
	var mu sync.Mutex
	var providers []capability.Provider
	for _, d := range capability.DefaultRegistry().Descriptors() {
		desc := d
		if desc.ID == "performance" {
			desc.Available = false
		}
		providers = append(providers, capability.NewFuncProvider(desc, func(context.Context, analyzer.RequestProfile) (capability.Result, error) {
			mu.Lock()
			served[desc.ID] = true
			mu.Unlock()
			return capability.Result{Effectiveness: 0.8}, nil
		}))
	}
	p := New(Options{Recorder: rec, Dispatcher: capability.NewDispatcher(providers, nil)})
	req := dashboardRequest("op-11", "s1")

	resp, outcomes := p.Execute(context.Background(), req)

	require.Equal(t, []string{"frontend", "performance"}, resp.Providers)
	require.Len(t, outcomes, 2)
	assert.Equal(t, "frontend", outcomes[0].ProviderID)
	assert.Equal(t, "performance", outcomes[1].Planned)
	assert.NotEqual(t, "performance", outcomes[1].ProviderID)
	assert.False(t, served["performance"])

	shape := shapeOf(t, req)
	events := rec.Events()
	var fps []string
	for _, ev := range events {
		fps = append(fps, ev.Fingerprint)
		assert.InDelta(t, dispatchConfidence, ev.Confidence, 1e-9)
		assert.InDelta(t, 0.8, ev.Effectiveness, 1e-9)
	}
	assert.Contains(t, fps, router.Fingerprint(shape, "frontend"))
	assert.NotContains(t, fps, router.Fingerprint(shape, "performance"))

	// outcome already recorded by dispatch
	assert.ErrorIs(t, p.RecordOutcome(context.Background(), Outcome{OperationID: "op-11", Effectiveness: 1}), ErrUnknownOperation)
}

func TestProcess_Telemetry(t *testing.T) {
	tt := telemetry.NewTestTelemetry()
	p := New(Options{Tracer: tt.Tracer("pipeline")})

	p.Process(context.Background(), dashboardRequest("op-12", "s1"))

	tt.AssertSpanExists(t, "pipeline.process")
	tt.AssertSpanAttribute(t, "pipeline.process", "pipeline.enhanced", true)
}

func TestProcess_Metrics(t *testing.T) {
	m := NewMetrics()
	enhanced := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("enhanced"))
	native := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("native"))
	p := New(Options{Metrics: m})

	p.Process(context.Background(), dashboardRequest("op-13", "s1"))
	p.Process(context.Background(), Request{OperationRequest: analyzer.OperationRequest{OperationID: "op-14", Kind: "read", Scope: analyzer.Scope{FileCount: 1}}})

	assert.Equal(t, enhanced+1, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("enhanced")))
	assert.Equal(t, native+1, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("native")))
}

func TestNew_DefaultsToSharedMetrics(t *testing.T) {
	m := NewMetrics()
	native := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("native"))
	p := New(Options{})

	p.Process(context.Background(), Request{OperationRequest: analyzer.OperationRequest{OperationID: "op-15", Kind: "read", Scope: analyzer.Scope{FileCount: 1}}})

	assert.Equal(t, native+1, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("native")))
}

func TestEndSession(t *testing.T) {
	p := New(Options{})
	p.Process(context.Background(), dashboardRequest("op-15", "s1"))
	require.NotEmpty(t, p.sessions.history("s1"))

	p.EndSession("s1")
	assert.Empty(t, p.sessions.history("s1"))
}
