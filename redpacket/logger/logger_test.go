package logger

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCustomHandlerFormatsTypeAndAttrs(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(NewHandler(&buf, slog.LevelDebug))

	log.Info("Grab processed", slog.String("type", "grab"), slog.Int64("activity_id", 7))

	out := buf.String()
	assert.Contains(t, out, "[RedPacket]")
	assert.Contains(t, out, "[INFO]")
	assert.Contains(t, out, "[GRAB]")
	assert.Contains(t, out, "activity_id=7")
	assert.NotContains(t, out, "\033[")
}

func TestCustomHandlerInlinesErrors(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(NewHandler(&buf, slog.LevelInfo)).With(slog.String("component", "reconcile"))

	log.Error("Credit failed", slog.String("type", "error"), slog.Any("error", errors.New("ledger down")))
	log.Debug("hidden")

	out := buf.String()
	assert.Contains(t, out, "[ERR] Credit failed: ledger down")
	assert.Contains(t, out, "component=reconcile")
	assert.NotContains(t, out, "hidden")
}

func TestNewSelectsJSON(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, slog.LevelInfo, "json", false).Info("hello", slog.String("k", "v"))

	assert.Contains(t, buf.String(), `"msg":"hello"`)
	assert.Contains(t, buf.String(), `"k":"v"`)
}
