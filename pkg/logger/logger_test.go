package logger

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"attachdl/pkg/config"
)

func TestNew(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		cfg     *config.LoggingConfig
		wantErr bool
	}{
		{"info level", &config.LoggingConfig{Level: "info"}, false},
		{"debug level", &config.LoggingConfig{Level: "debug"}, false},
		{"json format", &config.LoggingConfig{Level: "info", Format: "json"}, false},
		{"invalid level", &config.LoggingConfig{Level: "loud"}, true},
		{"file output", &config.LoggingConfig{Level: "info", File: filepath.Join(dir, "logs", "run.log")}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := NewWithWriter(tt.cfg, &bytes.Buffer{})
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, l)
		})
	}
}

func TestNewWritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "attachdl.log")
	l, err := NewWithWriter(&config.LoggingConfig{Level: "info", File: path}, &bytes.Buffer{})
	require.NoError(t, err)

	l.WithField("run_id", "r-1").Info("batch completed")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"run_id":"r-1"`)
	assert.Contains(t, string(data), `"app":"attachdl"`)
	assert.Contains(t, string(data), `"message":"batch completed"`)
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		level    string
		expected zerolog.Level
		wantErr  bool
	}{
		{"debug", zerolog.DebugLevel, false},
		{"DEBUG", zerolog.DebugLevel, false},
		{"info", zerolog.InfoLevel, false},
		{"", zerolog.InfoLevel, false},
		{"warning", zerolog.WarnLevel, false},
		{"error", zerolog.ErrorLevel, false},
		{"disabled", zerolog.Disabled, false},
		{"invalid", zerolog.InfoLevel, true},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			level, err := parseLogLevel(tt.level)
			assert.Equal(t, tt.wantErr, err != nil)
			assert.Equal(t, tt.expected, level)
		})
	}
}

func bufferLogger(buf *bytes.Buffer) *zerologLogger {
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	zlog := zerolog.New(buf).Level(zerolog.DebugLevel)
	return &zerologLogger{logger: &zlog, fields: make(map[string]interface{})}
}

func TestWithFieldsDoesNotLeakIntoParent(t *testing.T) {
	var buf bytes.Buffer
	parent := bufferLogger(&buf)

	child := parent.WithFields(map[string]interface{}{"batch": int64(3)})
	child.Info("child message")
	parent.Info("parent message")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"batch":3`)
	assert.NotContains(t, lines[1], "batch")
}

func TestStructuredLogging(t *testing.T) {
	var buf bytes.Buffer
	l := bufferLogger(&buf)

	l.WithError(errors.New("disk full")).WarnWithFields("attachment failed", map[string]interface{}{
		"attachment_id": "00P000000000001",
		"attempts":      5,
		"skipped":       false,
	})

	out := buf.String()
	assert.Contains(t, out, `"attachment_id":"00P000000000001"`)
	assert.Contains(t, out, `"attempts":5`)
	assert.Contains(t, out, `"skipped":false`)
	assert.Contains(t, out, `"error":"disk full"`)

	assert.Same(t, l, l.WithError(nil))
}

func TestTestLogger(t *testing.T) {
	l := NewTestLogger()
	child := l.WithField("run_id", "abc")

	child.InfoWithFields("checkpoint saved", map[string]interface{}{"sequence": 2})
	child.WithError(errors.New("boom")).Error("fatal")

	msgs := l.GetMessages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "abc", msgs[0].Fields["run_id"])
	assert.Equal(t, 2, msgs[0].Fields["sequence"])
	assert.True(t, l.HasMessage("checkpoint saved"))
	assert.True(t, l.HasError())
	assert.EqualError(t, msgs[1].Error, "boom")

	l.Clear()
	assert.Empty(t, l.GetMessages())
}

func TestGlobalLogger(t *testing.T) {
	prev := globalLogger
	defer func() { globalLogger = prev }()

	tl := NewTestLogger()
	SetLogger(tl)
	GetLogger().Info("hello")
	assert.True(t, tl.HasMessage("hello"))
}
