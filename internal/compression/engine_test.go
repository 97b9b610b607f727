package compression

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/ctxrouter/internal/cache"
	"github.com/fyrsmithlabs/ctxrouter/internal/learning"
	"github.com/fyrsmithlabs/ctxrouter/internal/logging"
	"github.com/fyrsmithlabs/ctxrouter/internal/telemetry"
)

type fakeEstimator struct {
	scores map[string]float64
	delay  time.Duration
}

func (f *fakeEstimator) EffectivenessFor(ctx context.Context, fp string, _ learning.Lineage) float64 {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
		}
	}
	if v, ok := f.scores[fp]; ok {
		return v
	}
	return learning.Neutral
}

func (f *fakeEstimator) Generation() uint64 { return 0 }

type fakeRecorder struct {
	mu     sync.Mutex
	events []learning.Event
}

func (f *fakeRecorder) Record(_ context.Context, ev learning.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeRecorder) Events() []learning.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]learning.Event(nil), f.events...)
}

const sampleProse = "The configuration leads to a performance increase in production.\n" +
	"Run `make deploy` and check https://status.example.com before 5pm.\n"

func newTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	e, err := NewEngine(opts...)
	require.NoError(t, err)
	return e
}

func TestCompress_CriticalPressureSelectsLevel4(t *testing.T) {
	e := newTestEngine(t)

	res := e.Compress(context.Background(), Request{Content: sampleProse, Classification: Session, Pressure: 0.92})

	assert.Equal(t, 4, res.Strategy.Level)
	assert.Equal(t, 4, res.RequestedLevel)
	assert.InDelta(t, 0.85, res.Strategy.QualityThreshold, 1e-9)
	assert.False(t, res.QualityShortfall)
	assert.NoError(t, res.Err())
	assert.GreaterOrEqual(t, res.PreservationScore, 0.85)
	assert.Contains(t, res.Content, "cfg → a perf ↑ in prod")
	assert.Contains(t, res.Content, "`make deploy`")
	assert.Contains(t, res.Content, "https://status.example.com")
	assert.Less(t, res.CompressedTokens, res.OriginalTokens)
	assert.True(t, res.Applied())
}

func TestCompress_UserCappedAtLevel1(t *testing.T) {
	e := newTestEngine(t)

	res := e.Compress(context.Background(), Request{Content: sampleProse, Classification: User, Pressure: 0.99})

	assert.Equal(t, 1, res.Strategy.Level)
	assert.Equal(t, 1, res.RequestedLevel)
	assert.Contains(t, res.Content, "configuration leads to")
}

func TestCompress_UserKeepsWordsApartFromSpans(t *testing.T) {
	e := newTestEngine(t)
	content := "Run `make deploy` and check https://status.example.com now."

	res := e.Compress(context.Background(), Request{Content: content, Classification: User, Pressure: 0.99})

	assert.Equal(t, content, res.Content)
	assert.False(t, res.QualityShortfall)
	assert.InDelta(t, 1.0, res.PreservationScore, 1e-9)
}

func TestCompress_ProtectedIsUntouched(t *testing.T) {
	e := newTestEngine(t)
	content := "  keep   this\n\n\n\nexactly as written, and with spacing.  "

	for _, p := range []float64{0, 0.5, 0.92, 1} {
		res := e.Compress(context.Background(), Request{Content: content, Classification: Protected, Pressure: p})
		assert.Equal(t, content, res.Content)
		assert.Equal(t, 0, res.Strategy.Level)
		assert.InDelta(t, 1.0, res.PreservationScore, 1e-9)

		again := e.Compress(context.Background(), Request{Content: res.Content, Classification: Protected, Pressure: p})
		assert.Equal(t, content, again.Content)
	}
}

func TestCompress_RetriesOneLevelDown(t *testing.T) {
	e := newTestEngine(t)
	content := "Run the migration (postgres replicas failover snapshots) tonight."

	res := e.Compress(context.Background(), Request{Content: content, Classification: Session, Pressure: 0.99})

	assert.Equal(t, 5, res.RequestedLevel)
	assert.Equal(t, 4, res.Strategy.Level)
	assert.False(t, res.QualityShortfall)
	assert.Contains(t, res.Content, "(postgres replicas failover snapshots)")
}

func TestCompress_ShortfallFallsBackToLevel1(t *testing.T) {
	e := newTestEngine(t)
	content := "Deploy service.\n<!-- kubernetes manifests rollout canary staging observability dashboards alerting runbook -->\n"

	res := e.Compress(context.Background(), Request{Content: content, Classification: Session, Pressure: 0.99})

	assert.Equal(t, 1, res.Strategy.Level)
	assert.True(t, res.QualityShortfall)
	assert.ErrorIs(t, res.Err(), ErrQualityShortfall)
	assert.Contains(t, res.Content, "kubernetes manifests")
}

func TestCompress_PreservationMeetsThresholdOrFlags(t *testing.T) {
	e := newTestEngine(t)
	samples := []string{
		sampleProse,
		mixedDoc,
		"Deploy service.\n<!-- kubernetes manifests rollout canary -->\n",
		"It is important to note that the database (postgres) is very slow because of the configuration.",
		"Human: can you just really fix the authentication error?\nAssistant: yes, basically the parameter is wrong.",
	}
	for _, s := range samples {
		for p := 0.0; p <= 1.0; p += 0.05 {
			res := e.Compress(context.Background(), Request{Content: s, Classification: Session, Pressure: p})
			if !res.QualityShortfall {
				assert.GreaterOrEqual(t, res.PreservationScore, res.Strategy.QualityThreshold,
					"pressure %.2f level %d", p, res.Strategy.Level)
			}
			assert.LessOrEqual(t, res.Strategy.Level, res.RequestedLevel)
		}
	}
}

func TestCompress_CachesResults(t *testing.T) {
	c := cache.New()
	e := newTestEngine(t, WithCache(c))
	req := Request{Content: sampleProse, Classification: Session, Pressure: 0.8}

	first := e.Compress(context.Background(), req)
	second := e.Compress(context.Background(), req)

	assert.False(t, first.CacheHit)
	assert.True(t, second.CacheHit)
	assert.Equal(t, first.Content, second.Content)
	assert.Equal(t, first.Strategy, second.Strategy)

	// case matters: a differently cased payload is a different entry
	other := e.Compress(context.Background(), Request{Content: "THE " + sampleProse, Classification: Session, Pressure: 0.8})
	assert.False(t, other.CacheHit)
}

func TestCompress_AdaptsToLearnedEffectiveness(t *testing.T) {
	kind := DetectKind(sampleProse)
	est := &fakeEstimator{scores: map[string]float64{Fingerprint(kind, 4): 0.2}}
	e := newTestEngine(t, WithEstimator(est))

	res := e.Compress(context.Background(), Request{Content: sampleProse, Classification: Session, Pressure: 0.92})

	assert.Equal(t, 4, res.RequestedLevel)
	assert.Equal(t, 3, res.Strategy.Level)
	assert.True(t, res.Adapted)

	// above the floor nothing changes
	est.scores[Fingerprint(kind, 4)] = 0.6
	res = e.Compress(context.Background(), Request{Content: sampleProse, Classification: Session, Pressure: 0.92})
	assert.Equal(t, 4, res.Strategy.Level)
	assert.False(t, res.Adapted)
}

func TestCompress_RecordsOutcome(t *testing.T) {
	rec := &fakeRecorder{}
	e := newTestEngine(t, WithRecorder(rec))
	lineage := learning.Lineage{SessionID: "s1", ProjectID: "p1"}

	res := e.Compress(context.Background(), Request{Content: sampleProse, Classification: Session, Pressure: 0.5, Lineage: lineage})

	events := rec.Events()
	require.Len(t, events, 1)
	ev := events[0]
	assert.Equal(t, learning.EventCompression, ev.Type)
	assert.Equal(t, learning.ScopeSession, ev.Scope)
	assert.Equal(t, Fingerprint(res.Kind, res.Strategy.Level), ev.Fingerprint)
	assert.Equal(t, lineage, ev.Lineage)
	assert.InDelta(t, res.PreservationScore, ev.Effectiveness, 1e-9)
	assert.NoError(t, ev.Validate())

	// protected content is not an outcome
	e.Compress(context.Background(), Request{Content: sampleProse, Classification: Protected})
	assert.Len(t, rec.Events(), 1)
}

func TestCompress_BudgetExceededFallsBackToLevel1(t *testing.T) {
	tl := logging.NewTestLogger()
	est := &fakeEstimator{delay: 50 * time.Millisecond}
	rec := &fakeRecorder{}
	e := newTestEngine(t,
		WithBudget(5*time.Millisecond),
		WithEstimator(est),
		WithRecorder(rec),
		WithLogger(tl.Underlying()),
	)

	res := e.Compress(context.Background(), Request{Content: sampleProse, Classification: Session, Pressure: 0.92})

	assert.True(t, res.BudgetExceeded)
	assert.Equal(t, 1, res.Strategy.Level)
	assert.Equal(t, 4, res.RequestedLevel)
	assert.Empty(t, rec.Events())
	tl.AssertLogged(t, zapcore.WarnLevel, "compression exceeded budget")
}

func TestCompress_UnlabelledContentIsClassified(t *testing.T) {
	e := newTestEngine(t)

	res := e.Compress(context.Background(), Request{Content: secretContent, Pressure: 1})
	assert.Equal(t, secretContent, res.Content)
	assert.Equal(t, 0, res.Strategy.Level)

	res = e.Compress(context.Background(), Request{Content: "User: the configuration   is   broken\n", Pressure: 1})
	assert.Equal(t, 1, res.Strategy.Level)
}

func TestCompress_DetectSecretsOverridesLabel(t *testing.T) {
	content := secretContent + "\nThe configuration leads to a performance increase."

	plain := newTestEngine(t).Compress(context.Background(), Request{Content: content, Classification: Session, Pressure: 0.92})
	assert.NotEqual(t, content, plain.Content)

	guarded := newTestEngine(t, WithDetectSecrets(true)).
		Compress(context.Background(), Request{Content: content, Classification: Session, Pressure: 0.92})
	assert.Equal(t, content, guarded.Content)
	assert.Equal(t, 0, guarded.Strategy.Level)
}

func TestCompress_Telemetry(t *testing.T) {
	tt := telemetry.NewTestTelemetry()
	e := newTestEngine(t,
		WithTracer(tt.Tracer(tracerName)),
		WithMeter(tt.Meter(meterName)),
	)

	e.Compress(context.Background(), Request{Content: sampleProse, Classification: Session, Pressure: 0.92})
	e.Compress(context.Background(), Request{Content: sampleProse, Classification: Protected})

	tt.AssertSpanExists(t, "compression.compress")
	assert.Equal(t, int64(2), tt.CounterValue(t, "compression.operations_total"))
}
