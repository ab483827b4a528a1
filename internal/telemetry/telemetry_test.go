package telemetry

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitLoggerWritesJSON(t *testing.T) {
	dir := t.TempDir()
	var buf bytes.Buffer

	logger, closer, err := InitLogger(dir, true, &buf)
	require.NoError(t, err)

	logger.Debug("widget mounted", "chatbot_id", "bot-1")
	require.NoError(t, closer.Close())

	assert.Contains(t, buf.String(), `"msg":"widget mounted"`)
	assert.Contains(t, buf.String(), `"chatbot_id":"bot-1"`)

	data, err := os.ReadFile(filepath.Join(dir, "querywidget.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "widget mounted")
}

func TestInitLoggerLeavesDefaultAlone(t *testing.T) {
	prev := slog.Default()

	logger, closer, err := InitLogger(t.TempDir(), false)
	require.NoError(t, err)
	defer closer.Close()

	assert.Same(t, prev, slog.Default())
	assert.NotSame(t, logger, slog.Default())
}

func TestGlobalProvidersAreUsable(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	_, span := Tracer().Start(ctx, "noop")
	span.End()

	counter, err := Meter().Int64Counter("widget.test")
	require.NoError(t, err)
	counter.Add(ctx, 1)
}
