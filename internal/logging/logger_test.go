package logging

import (
	"context"
	"strings"
	"testing"

	"github.com/fyrsmithlabs/ctxrouter/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger(NewDefaultConfig(), nil)
	require.NoError(t, err)
	assert.True(t, logger.Enabled(zapcore.InfoLevel))
	assert.False(t, logger.Enabled(zapcore.DebugLevel))
	assert.NotNil(t, logger.Underlying())
}

func TestNewLogger_InvalidConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Format = "xml"
	_, err := NewLogger(cfg, nil)
	assert.Error(t, err)

	cfg = NewDefaultConfig()
	cfg.Output.Stderr = false
	_, err = NewLogger(cfg, nil)
	assert.Error(t, err)
}

func TestFromConfig(t *testing.T) {
	cfg := FromConfig(config.LoggingConfig{Level: "trace", Format: "console"}, true)
	assert.Equal(t, TraceLevel, cfg.Level)
	assert.Equal(t, "console", cfg.Format)
	assert.True(t, cfg.Output.OTEL)

	cfg = FromConfig(config.LoggingConfig{Level: "loud"}, false)
	assert.Equal(t, zapcore.InfoLevel, cfg.Level)
	assert.Equal(t, "json", cfg.Format)
}

func TestLevelFromString(t *testing.T) {
	lvl, err := LevelFromString("trace")
	require.NoError(t, err)
	assert.Equal(t, TraceLevel, lvl)

	lvl, err = LevelFromString("warn")
	require.NoError(t, err)
	assert.Equal(t, zapcore.WarnLevel, lvl)

	_, err = LevelFromString("nope")
	assert.Error(t, err)
}

func TestLogger_ContextFields(t *testing.T) {
	tl := NewTestLogger()

	ctx := WithSessionID(context.Background(), "sess_1")
	ctx = WithOperationID(ctx, "op-42")
	tl.Info(ctx, "routed", zap.String("strategy", "single"))

	tl.AssertLogged(t, zapcore.InfoLevel, "routed")
	tl.AssertField(t, "routed", "session.id", "sess_1")
	tl.AssertField(t, "routed", "operation.id", "op-42")
	tl.AssertField(t, "routed", "strategy", "single")
}

func TestLogger_TraceCorrelation(t *testing.T) {
	tl := NewTestLogger()
	tp := sdktrace.NewTracerProvider()
	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	defer span.End()

	tl.Debug(ctx, "inside span")

	entries := tl.FilterMessage("inside span").All()
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].ContextMap(), "trace_id")
	assert.Contains(t, entries[0].ContextMap(), "span_id")
}

func TestWithSessionID_DropsInvalid(t *testing.T) {
	ctx := WithSessionID(context.Background(), "bad id with spaces")
	assert.Empty(t, SessionIDFromContext(ctx))

	ctx = WithRequestID(context.Background(), strings.Repeat("a", maxIDLen+1))
	assert.Empty(t, RequestIDFromContext(ctx))
}

func TestValidateID(t *testing.T) {
	assert.NoError(t, ValidateID("proj:alpha-1", "id"))
	assert.Error(t, ValidateID("", "id"))
	assert.Error(t, ValidateID("a/b", "id"))
}

func TestFromContext(t *testing.T) {
	assert.NotNil(t, FromContext(context.Background()))

	tl := NewTestLogger()
	ctx := WithLogger(context.Background(), tl.Logger)
	FromContext(ctx).Warn(ctx, "from ctx")
	tl.AssertLogged(t, zapcore.WarnLevel, "from ctx")
}

func TestSampledCore_ErrorsNeverSampled(t *testing.T) {
	core, observed := observer.New(zapcore.DebugLevel)
	sampled := newSampledCore(core, SamplingConfig{
		Enabled:    true,
		Tick:       config.Duration(1e9),
		Initial:    1,
		Thereafter: 0,
	})
	zl := zap.New(sampled)

	for i := 0; i < 5; i++ {
		zl.Info("repeat")
		zl.Error("failure")
	}

	assert.Equal(t, 1, observed.FilterMessage("repeat").Len())
	assert.Equal(t, 5, observed.FilterMessage("failure").Len())
}

func TestTestLogger_Reset(t *testing.T) {
	tl := NewTestLogger()
	tl.Trace(context.Background(), "detail")
	require.Len(t, tl.All(), 1)
	tl.Reset()
	assert.Empty(t, tl.All())
	tl.AssertNotLogged(t, TraceLevel, "detail")
}
