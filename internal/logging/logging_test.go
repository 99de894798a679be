package logging

import (
	"bytes"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// resetAfter restores the default logger once a test that reconfigures
// the package-global state finishes.
func resetAfter(t *testing.T) {
	t.Helper()
	t.Cleanup(func() {
		Close()
		Init(DefaultConfig())
	})
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"DEBUG", DebugLevel},
		{"debug", DebugLevel},
		{"  info  ", InfoLevel},
		{"WARN", WarnLevel},
		{"warning", WarnLevel},
		{"Error", ErrorLevel},
		{"FATAL", FatalLevel},
		{"nonsense", InfoLevel},
		{"", InfoLevel},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseLevel(tt.in), "ParseLevel(%q)", tt.in)
	}
}

func TestInitWritesJSONToConfiguredOutput(t *testing.T) {
	resetAfter(t)
	var buf bytes.Buffer
	Init(Config{Level: InfoLevel, Output: &buf})

	Info().Str("key", "value").Msg("hello")

	line := buf.String()
	assert.Contains(t, line, `"key":"value"`)
	assert.Contains(t, line, `"message":"hello"`)
	assert.Contains(t, line, `"level":"info"`)
}

func TestLevelFiltering(t *testing.T) {
	resetAfter(t)
	var buf bytes.Buffer
	Init(Config{Level: WarnLevel, Output: &buf})

	Debug().Msg("dropped")
	Info().Msg("dropped too")
	Warn().Msg("kept")

	out := buf.String()
	assert.NotContains(t, out, "dropped")
	assert.Contains(t, out, "kept")
}

func TestPrettyOutputIsNotJSON(t *testing.T) {
	resetAfter(t)
	var buf bytes.Buffer
	Init(Config{Level: InfoLevel, Output: &buf, Pretty: true})

	Info().Msg("console line")

	out := buf.String()
	assert.Contains(t, out, "console line")
	assert.False(t, strings.HasPrefix(strings.TrimSpace(out), "{"), "pretty output should not be raw JSON: %q", out)
}

func TestLogToFileCreatesAndReportsFile(t *testing.T) {
	resetAfter(t)
	dir := t.TempDir()
	Init(Config{Level: InfoLevel, Output: &bytes.Buffer{}, LogToFile: true, LogDir: dir})

	path := GetLogFilePath()
	require.NotEmpty(t, path)
	assert.Contains(t, path, "agentcore-")

	Info().Msg("persisted line")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "persisted line")

	Close()
	assert.Empty(t, GetLogFilePath())
}

func TestReinitReplacesLogFile(t *testing.T) {
	resetAfter(t)
	dir := t.TempDir()

	Init(Config{Output: &bytes.Buffer{}, LogToFile: true, LogDir: dir})
	first := GetLogFilePath()
	require.NotEmpty(t, first)

	Init(Config{Output: &bytes.Buffer{}, LogToFile: false, LogDir: dir})
	assert.Empty(t, GetLogFilePath(), "a file-less reinit closes the previous file")
}

func TestGetLogFilePathWithoutFileLogging(t *testing.T) {
	resetAfter(t)
	Init(Config{Output: &bytes.Buffer{}})
	assert.Empty(t, GetLogFilePath())
}

func TestComponentTagsChildLogger(t *testing.T) {
	resetAfter(t)
	var buf bytes.Buffer
	Init(Config{Level: InfoLevel, Output: &buf})

	logger := Component("sweeper")
	logger.Info().Msg("tick")

	assert.Contains(t, buf.String(), `"component":"sweeper"`)
}
