package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	req := require.New(t)
	req.Equal(slog.LevelDebug, ParseLevel("DEBUG"))
	req.Equal(slog.LevelWarn, ParseLevel("warning"))
	req.Equal(slog.LevelError, ParseLevel(" error "))
	req.Equal(slog.LevelInfo, ParseLevel("info"))
	req.Equal(slog.LevelInfo, ParseLevel("chatty"))
}

func TestNewJSONRespectsLevel(t *testing.T) {
	req := require.New(t)
	var buf bytes.Buffer
	log := New("warn", "json", &buf)

	log.Info("dropped")
	log.Warn("kept", "user_id", "u1")

	var record map[string]any
	req.NoError(json.Unmarshal(buf.Bytes(), &record))
	req.Equal("kept", record["msg"])
	req.Equal("u1", record["user_id"])
}

func TestNewTextFormat(t *testing.T) {
	var buf bytes.Buffer
	New("info", "", &buf).Info("hello")
	require.Contains(t, buf.String(), "msg=hello")
}
