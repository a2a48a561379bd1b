package pid

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"codeberg.org/mutker/cpufreqctl/internal/errors"
	"github.com/shirou/gopsutil/v3/process"
)

const (
	pidFile = "cpufreqctl.pid"
)

// DefaultPath is the pid file in the system temp directory.
func DefaultPath() string {
	return filepath.Join(os.TempDir(), pidFile)
}

// Write writes the current process ID to path. It fails with
// ErrAlreadyRunning while another live process owns the file; a stale or
// unreadable file is replaced.
func Write(path string) error {
	errFactory := errors.New()
	pid := os.Getpid()

	if owner, ok := readOwner(path); ok && owner != pid {
		running, err := process.PidExists(int32(owner))
		if err != nil {
			return errFactory.Wrap(errors.ErrInternal, err)
		}
		if running {
			return errFactory.WithData(errors.ErrAlreadyRunning, owner)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errFactory.Wrap(errors.ErrInternal, err)
	}

	err := os.WriteFile(path, []byte(strconv.Itoa(pid)), 0o600)
	if err != nil {
		return errFactory.Wrap(errors.ErrInternal, err)
	}

	return nil
}

// Remove removes the PID file.
func Remove(path string) error {
	errFactory := errors.New()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	if err := os.Remove(path); err != nil {
		return errFactory.Wrap(errors.ErrInternal, err)
	}

	return nil
}

func readOwner(path string) (int, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, false
	}

	return pid, true
}
