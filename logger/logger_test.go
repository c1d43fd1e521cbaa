package logger_test

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/becomeliminal/nim-memory/config"
	"github.com/becomeliminal/nim-memory/logger"
)

func TestNewWriter_JSON(t *testing.T) {
	var buf bytes.Buffer
	l, err := logger.NewWriter(&buf, config.Logging{Level: "debug", Format: "json"})
	require.NoError(t, err)

	l.Debug("stored memory", "id", "abc")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "stored memory", entry["msg"])
	assert.Equal(t, "abc", entry["id"])
	assert.Equal(t, "debug", entry["level"])
}

func TestNewWriter_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	l, err := logger.NewWriter(&buf, config.Logging{Level: "warn", Format: "logfmt"})
	require.NoError(t, err)

	l.Info("hidden")
	l.Warn("shown", "k", "v")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.True(t, strings.Contains(out, "msg=shown"), out)
	assert.Contains(t, out, "k=v")
}

func TestNewWriter_BadLevel(t *testing.T) {
	_, err := logger.NewWriter(&bytes.Buffer{}, config.Logging{Level: "loud"})
	assert.Error(t, err)
}
