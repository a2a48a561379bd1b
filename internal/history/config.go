package history

import (
	"path/filepath"
	"time"

	"codeberg.org/mutker/cpufreqctl/internal/errors"
)

const (
	defaultDirPerm       = 0o755
	defaultBatchSize     = 32
	defaultFlushInterval = 5 * time.Second
)

type Config struct {
	DBPath        string
	BackupDir     string
	BatchSize     int
	FlushInterval time.Duration
	Enabled       bool
}

func DefaultConfig(dbPath string) Config {
	return Config{
		DBPath:        dbPath,
		BackupDir:     filepath.Join(filepath.Dir(dbPath), "backups"),
		BatchSize:     defaultBatchSize,
		FlushInterval: defaultFlushInterval,
		Enabled:       true,
	}
}

func (c Config) Validate() error {
	errFactory := errors.New()

	// Only validate paths if history is enabled
	if !c.Enabled {
		return nil
	}
	if c.DBPath == "" {
		return errFactory.New(ErrInvalidDBPath)
	}
	if c.BatchSize < 1 {
		return errFactory.WithData(ErrInvalidConfig, "batch size must be positive")
	}
	return nil
}
