package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupWritesFile(t *testing.T) {
	prev := Default()
	t.Cleanup(func() {
		mu.Lock()
		std = prev
		mu.Unlock()
	})

	dir := t.TempDir()
	require.NoError(t, Setup(&Settings{
		Path:       dir,
		Name:       "em-hiredis",
		Ext:        "log",
		TimeFormat: "2006-01-02",
		Level:      "debug",
	}))
	assert.Equal(t, logrus.DebugLevel, Default().GetLevel())

	Info("hello file")
	files, err := filepath.Glob(filepath.Join(dir, "em-hiredis-*.log"))
	require.NoError(t, err)
	require.Len(t, files, 1)
	data, err := os.ReadFile(files[0])
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello file")
}

func TestSetupBadLevel(t *testing.T) {
	assert.Error(t, Setup(&Settings{Level: "loud"}))
}
