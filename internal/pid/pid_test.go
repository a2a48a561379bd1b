package pid

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"codeberg.org/mutker/cpufreqctl/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteAndRemove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run", pidFile)

	require.NoError(t, Write(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid()), string(data))

	// Our own pid file is not a conflict.
	require.NoError(t, Write(path))

	require.NoError(t, Remove(path))
	assert.NoFileExists(t, path)
	assert.NoError(t, Remove(path))
}

func TestWriteRefusesLiveOwner(t *testing.T) {
	// The parent of this test binary is alive for the whole test run.
	path := filepath.Join(t.TempDir(), pidFile)
	require.NoError(t, os.WriteFile(path, []byte(strconv.Itoa(os.Getppid())), 0o600))

	err := Write(path)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrAlreadyRunning))
}

func TestWriteReplacesStaleFile(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "garbage", content: "not-a-pid"},
		{name: "empty", content: ""},
		{name: "negative", content: "-4"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), pidFile)
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o600))

			require.NoError(t, Write(path))

			data, err := os.ReadFile(path)
			require.NoError(t, err)
			assert.Equal(t, strconv.Itoa(os.Getpid()), string(data))
		})
	}
}

func TestDefaultPath(t *testing.T) {
	assert.Equal(t, filepath.Join(os.TempDir(), "cpufreqctl.pid"), DefaultPath())
}
