package logger

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_LevelAndFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "client.log")

	require.NoError(t, Init(Config{Level: "debug", OutputFile: path, Quiet: true}))
	assert.Equal(t, logrus.DebugLevel, L().GetLevel())
	assert.Equal(t, path, GetCurrentLogFile())
}

func TestInit_UnknownLevelFallsBackToInfo(t *testing.T) {
	require.NoError(t, Init(Config{Level: "chatty"}))
	assert.Equal(t, logrus.InfoLevel, L().GetLevel())
}

func TestComponentField(t *testing.T) {
	require.NoError(t, Init(Config{Level: "info", JSON: true}))
	var buf bytes.Buffer
	SetOutput(&buf)

	Component("session").Info("renewed")

	assert.Contains(t, buf.String(), `"component":"session"`)
	assert.Contains(t, buf.String(), `"msg":"renewed"`)
}
