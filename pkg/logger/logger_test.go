package logger

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlogHandler(t *testing.T) {
	var buf bytes.Buffer
	l := New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	l.Debug("session opened", "session", "abc")
	l.Warn("session faulted", "error", "boom")

	out := buf.String()
	assert.Contains(t, out, "session opened")
	assert.Contains(t, out, "session=abc")
	assert.Contains(t, out, "level=WARN")
}

func TestZerologHandler(t *testing.T) {
	var buf bytes.Buffer
	l := NewZerolog(zerolog.New(&buf).Level(zerolog.DebugLevel))

	l.Info("listener resubscribing", "attempt", 3)

	line := strings.TrimSpace(buf.String())
	require.NotEmpty(t, line)
	assert.Contains(t, line, `"message":"listener resubscribing"`)
	assert.Contains(t, line, `"attempt":3`)
}

func TestNop(t *testing.T) {
	l := Nop()
	l.Error("nothing happens")
	l.Warn("nothing happens")
	l.Info("nothing happens")
	l.Debug("nothing happens")
}
