package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	for raw, want := range map[string]Level{
		"trace":   LevelTrace,
		"DEBUG":   LevelDebug,
		"":        LevelInfo,
		"warning": LevelWarn,
		" error ": LevelError,
	} {
		got, err := ParseLevel(raw)
		require.NoError(t, err, raw)
		require.Equal(t, want, got, raw)
	}

	_, err := ParseLevel("loud")
	require.Error(t, err)
}

func TestLevelThresholdFiltersRecords(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	prev := CurrentLevel()
	defer SetLevel(prev)

	SetLevel(LevelWarn)
	Debugf("hidden %d", 1)
	Infof("hidden %d", 2)
	Warnf("shown %s", "warn")
	Errorf("shown %s", "error")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	require.Equal(t, "warn", rec["level"])
	require.Equal(t, "shown warn", rec["message"])
	require.Equal(t, "tsl", rec["sdk"])

	require.True(t, Enabled(LevelError))
	require.False(t, Enabled(LevelTrace))
}

func TestTraceLeavesZerologGlobalLevelAlone(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	prev := CurrentLevel()
	defer SetLevel(prev)
	global := zerolog.GlobalLevel()

	SetLevel(LevelTrace)
	Tracef("frame %d", 3)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &rec))
	require.Equal(t, "trace", rec["level"])
	require.Equal(t, "frame 3", rec["message"])
	require.Equal(t, global, zerolog.GlobalLevel())
	require.Equal(t, zerolog.DebugLevel, global)
}
