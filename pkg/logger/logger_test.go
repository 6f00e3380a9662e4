package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureJSON(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetFormat("json")
	SetOutput(&buf)
	t.Cleanup(func() {
		SetOutput(os.Stderr)
		SetFormat("console")
		SetLevel(INFO)
	})
	return &buf
}

func TestInfoCF_WritesComponentAndFields(t *testing.T) {
	buf := captureJSON(t)
	SetLevel(INFO)

	InfoCF("matchmaking", "Session created", map[string]any{
		"anchor": "1700000000.000100",
		"count":  4,
	})

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "info", record["level"])
	assert.Equal(t, "matchmaking", record["component"])
	assert.Equal(t, "Session created", record["message"])
	assert.Equal(t, "1700000000.000100", record["anchor"])
	assert.EqualValues(t, 4, record["count"])
}

func TestSetLevel_FiltersBelowThreshold(t *testing.T) {
	buf := captureJSON(t)
	SetLevel(WARN)

	DebugC("test", "hidden debug")
	InfoC("test", "hidden info")
	WarnC("test", "visible warn")
	ErrorCF("test", "visible error", map[string]any{"error": "boom"})

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "visible warn")
	assert.Contains(t, out, "visible error")
	assert.Equal(t, 2, strings.Count(out, "\n"))
}

func TestSetLevel_DebugEnablesDebug(t *testing.T) {
	buf := captureJSON(t)
	SetLevel(DEBUG)

	DebugCF("test", "debug line", nil)
	assert.Contains(t, buf.String(), "debug line")
	assert.Equal(t, DEBUG, GetLevel())
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want LogLevel
	}{
		{"debug", DEBUG},
		{"INFO", INFO},
		{"warning", WARN},
		{" error ", ERROR},
		{"fatal", FATAL},
		{"verbose", INFO},
		{"", INFO},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseLevel(tt.in), "ParseLevel(%q)", tt.in)
	}
}

func TestLogLevel_String(t *testing.T) {
	assert.Equal(t, "WARN", WARN.String())
	assert.Equal(t, "UNKNOWN", LogLevel(42).String())
}
