package logging

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewWithFormat_RenamesErrorKey(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithFormat(&buf, slog.LevelInfo, FormatText)
	log.Info("dispatch failed", "error", "boom")

	assert.Contains(t, buf.String(), "err=boom")
	assert.NotContains(t, buf.String(), "error=")
}

func TestNewWithFormat_JSON(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithFormat(&buf, slog.LevelWarn, FormatJSON)
	log.Info("hidden")
	log.Warn("policy", "error", "x")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"err":"x"`)
}

func TestNewWithFormat_AutoOnBufferIsText(t *testing.T) {
	var buf bytes.Buffer
	NewWithFormat(&buf, slog.LevelInfo, FormatAuto).Info("hello")
	assert.Contains(t, buf.String(), "msg=hello")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
}
