package sampler

import (
	"context"

	"codeberg.org/mutker/cpufreqctl/internal/errors"
	"github.com/spf13/afero"
)

// Source produces frequency readings in MHz for the given mode.
type Source interface {
	Sample(ctx context.Context, mode Mode) ([]uint64, error)
}

// Sampler dispatches to the per-core reader or the calibration loop.
type Sampler struct {
	primary  *CoreReader
	fallback *Calibrator
}

func New(fs afero.Fs) *Sampler {
	return &Sampler{
		primary:  NewCoreReader(fs, DefaultSysfsRoot),
		fallback: NewCalibrator(),
	}
}

func (s *Sampler) Sample(ctx context.Context, mode Mode) ([]uint64, error) {
	switch mode {
	case ModePrimary:
		return s.primary.Read(ctx)
	case ModeFallback:
		mhz, err := s.fallback.Measure(ctx)
		if err != nil {
			return nil, err
		}
		return []uint64{mhz}, nil
	}

	return nil, errors.New().WithData(ErrInvalidMode, string(mode))
}
