package logging

import (
	"bytes"
	"os"
	"testing"

	"github.com/go-kit/log/level"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupDisabled(t *testing.T) {
	l, err := Setup(t.TempDir(), false, true, nil)
	require.NoError(t, err)
	assert.Nil(t, l)

	// A nil logger is safe to use.
	l.Info("ignored")
	l.Debug("ignored")
	assert.NoError(t, l.Close())
	assert.NotNil(t, l.Kit())
	assert.Empty(t, l.Path())
}

func TestSetupWritesFile(t *testing.T) {
	dir := t.TempDir()
	l, err := Setup(dir, false, false, []string{"framegate", "process"})
	require.NoError(t, err)
	require.NotNil(t, l)

	l.Info("frame processed", "cache_hit", true)
	l.Debug("hidden without verbose")
	require.NoError(t, l.Close())

	data, err := os.ReadFile(l.Path())
	require.NoError(t, err)
	out := string(data)
	assert.Contains(t, out, `msg="framegate starting"`)
	assert.Contains(t, out, `command="framegate process"`)
	assert.Contains(t, out, "cache_hit=true")
	assert.NotContains(t, out, "hidden without verbose")
}

func TestNewLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, true)
	require.NoError(t, level.Debug(logger).Log("msg", "debug line"))
	assert.Contains(t, buf.String(), "level=debug")

	buf.Reset()
	logger = NewLogger(&buf, false)
	require.NoError(t, level.Debug(logger).Log("msg", "debug line"))
	assert.Empty(t, buf.String())
}
