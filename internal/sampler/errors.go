package sampler

import "codeberg.org/mutker/cpufreqctl/internal/errors"

const (
	ErrInvalidMode        = errors.ErrorCode("sampler_invalid_mode")
	ErrNoCores            = errors.ErrorCode("sampler_no_cores")
	ErrReadFrequency      = errors.ErrorCode("sampler_read_frequency_failed")
	ErrCalibrationFailed  = errors.ErrorCode("sampler_calibration_failed")
	ErrImplausibleReading = errors.ErrorCode("sampler_implausible_reading")
	ErrCanceled           = errors.ErrorCode("sampler_canceled")
)
