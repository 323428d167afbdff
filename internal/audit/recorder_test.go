package audit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLogRecorder(t *testing.T) {
	// Arrange
	core, logs := observer.New(zapcore.InfoLevel)
	recorder := NewLogRecorder(zap.New(core))

	// Act
	require.NoError(t, recorder.RecordAction(context.Background(), "deposit.created", "transaction", map[string]any{"amount": "10.00"}))
	require.NoError(t, recorder.RecordAction(context.Background(), "deposit.failed", "transaction", map[string]any{"error": "boom"}))

	// Assert
	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.Equal(t, "deposit.created", entries[0].ContextMap()["action"])
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, "audit", entries[1].LoggerName)
}
