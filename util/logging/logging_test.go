package logging_test

import (
	"context"
	"testing"

	"github.com/lambda-feedback/jobproc/util/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLoggerFromContext(t *testing.T) {
	_, err := logging.LoggerFromContext(context.Background())
	assert.ErrorIs(t, err, logging.ErrNoLoggerInContext)

	log := zap.NewNop()
	ctx := logging.ContextWithLogger(context.Background(), log)

	actual, err := logging.LoggerFromContext(ctx)
	require.NoError(t, err)
	assert.Same(t, log, actual)
	assert.Same(t, log, logging.LoggerFromContextOrNop(ctx))
}

func TestLoggerFromContextOrNop_FallsBackToNop(t *testing.T) {
	assert.NotNil(t, logging.LoggerFromContextOrNop(context.Background()))
}

func TestNamedLogger_AttachesNameAndFields(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)

	log := logging.NamedLogger("runner", zap.String("job", "build"))(zap.New(core))
	log.Info("hello")

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "runner", entry.LoggerName)
	assert.Equal(t, "build", entry.ContextMap()["job"])
}
