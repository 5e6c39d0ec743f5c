package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/skribblez2718/penny-sub000/internal/config"
)

func TestNewLogger(t *testing.T) {
	cfg := NewDefaultConfig()

	logger, err := NewLogger(cfg, nil)
	require.NoError(t, err)
	require.NotNil(t, logger.Underlying())
	assert.Equal(t, cfg, logger.config)
}

func TestNewLogger_RejectsOTELOnlyWithoutProvider(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Output.Stdout = false
	cfg.Output.OTEL = true

	_, err := NewLogger(cfg, nil)
	require.Error(t, err)
}

func TestLogger_LevelsAndContextFields(t *testing.T) {
	tl := NewTestLogger()

	ctx := WithTask(context.Background(), "task-1", "flow-a")
	ctx = WithPhase(ctx, "analyze")
	ctx = WithRequestID(ctx, "req-9")

	tl.Trace(ctx, "resolved context", zap.Int("artifacts", 2))
	tl.Debug(ctx, "compressing")
	tl.Info(ctx, "phase committed", zap.Int64("version", 3))
	tl.Warn(ctx, "worker error")
	tl.Error(ctx, "store failure")

	tl.AssertLogged(t, TraceLevel, "resolved context")
	tl.AssertLogged(t, zapcore.DebugLevel, "compressing")
	tl.AssertLogged(t, zapcore.InfoLevel, "phase committed")
	tl.AssertLogged(t, zapcore.WarnLevel, "worker error")
	tl.AssertLogged(t, zapcore.ErrorLevel, "store failure")
	tl.AssertNotLogged(t, zapcore.ErrorLevel, "phase committed")

	tl.AssertField(t, "phase committed", "task.id", "task-1")
	tl.AssertField(t, "phase committed", "workflow.id", "flow-a")
	tl.AssertField(t, "phase committed", "phase.id", "analyze")
	tl.AssertField(t, "phase committed", "request.id", "req-9")
	tl.AssertField(t, "phase committed", "version", int64(3))
}

func TestLogger_NamedAndWith(t *testing.T) {
	tl := NewTestLogger()
	child := tl.Named("engine").With(zap.String("component", "fsm"))

	child.Info(context.Background(), "transition")

	entries := tl.FilterMessage("transition").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "engine", entries[0].LoggerName)
	assert.Equal(t, "fsm", entries[0].ContextMap()["component"])
}

func TestFromContext_DefaultsToNop(t *testing.T) {
	l := FromContext(context.Background())
	require.NotNil(t, l)
	assert.False(t, l.Enabled(zapcore.ErrorLevel))

	tl := NewTestLogger()
	ctx := WithLogger(context.Background(), tl.Logger)
	assert.Same(t, tl.Logger, FromContext(ctx))
}

func TestTaskFromContext(t *testing.T) {
	ctx := WithTask(context.Background(), "t", "w")
	taskID, workflowID := TaskFromContext(ctx)
	assert.Equal(t, "t", taskID)
	assert.Equal(t, "w", workflowID)

	taskID, workflowID = TaskFromContext(context.Background())
	assert.Empty(t, taskID)
	assert.Empty(t, workflowID)
}

func TestLevelFromString(t *testing.T) {
	lvl, err := LevelFromString("trace")
	require.NoError(t, err)
	assert.Equal(t, TraceLevel, lvl)

	lvl, err = LevelFromString("warn")
	require.NoError(t, err)
	assert.Equal(t, zapcore.WarnLevel, lvl)

	_, err = LevelFromString("loud")
	assert.Error(t, err)
}

func TestFromSettings(t *testing.T) {
	cfg, err := FromSettings(config.LoggingConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.Equal(t, zapcore.DebugLevel, cfg.Level)
	assert.Equal(t, "console", cfg.Format)

	_, err = FromSettings(config.LoggingConfig{Level: "nope"})
	assert.Error(t, err)

	_, err = FromSettings(config.LoggingConfig{Format: "xml"})
	assert.Error(t, err)
}

func TestRedactingEncoder(t *testing.T) {
	enc := NewRedactingEncoder(zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()), []string{"token"})
	var buf bytes.Buffer
	core := zapcore.NewCore(enc, zapcore.AddSync(&buf), zapcore.InfoLevel)
	logger := zap.New(core).With(zap.String("Token", "bound-secret"))

	logger.Info("worker call",
		zap.String("token", "entry-secret"),
		zap.String("endpoint", "http://worker"),
		Secret("bearer", config.Secret("abcd")),
	)

	out := buf.String()
	assert.NotContains(t, out, "bound-secret")
	assert.NotContains(t, out, "entry-secret")
	assert.NotContains(t, out, "abcd")

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "[REDACTED]", decoded["token"])
	assert.Equal(t, "[REDACTED]", decoded["Token"])
	assert.Equal(t, "http://worker", decoded["endpoint"])
	assert.Equal(t, "[REDACTED:4]", decoded["bearer"])
}

func TestSampledCore_ErrorsAlwaysPass(t *testing.T) {
	var buf bytes.Buffer
	base := zapcore.NewCore(zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()), zapcore.AddSync(&buf), zapcore.DebugLevel)
	cfg := NewDefaultConfig().Sampling
	cfg.Initial = 1
	cfg.Thereafter = 0

	logger := zap.New(newSampledCore(base, cfg))
	for i := 0; i < 5; i++ {
		logger.Info("noisy")
		logger.Error("failure")
	}

	lines := bytes.Count(buf.Bytes(), []byte("\n"))
	assert.Equal(t, 6, lines, "one sampled info line plus five error lines")
}
