package sampler

import (
	"strings"

	"codeberg.org/mutker/cpufreqctl/internal/errors"
)

// Mode selects the measurement strategy.
type Mode string

const (
	// ModePrimary reads one clock per logical core from the OS.
	ModePrimary Mode = "primary"
	// ModeFallback derives one aggregate clock by timing a calibration loop.
	ModeFallback Mode = "fallback"
)

// ParseMode accepts the mode names plus the numeric selectors "1" and "2"
// used by older settings files.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(ModePrimary), "1":
		return ModePrimary, nil
	case string(ModeFallback), "2":
		return ModeFallback, nil
	}
	return "", errors.New().WithData(ErrInvalidMode, s)
}

func (m Mode) String() string {
	return string(m)
}

// IsValid returns whether the mode is one of the known strategies
func (m Mode) IsValid() bool {
	return m == ModePrimary || m == ModeFallback
}
