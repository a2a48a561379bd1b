package power

import "codeberg.org/mutker/cpufreqctl/internal/errors"

const (
	ErrCommandFailed = errors.ErrorCode("power_command_failed")
	ErrPlanNotFound  = errors.ErrorCode("power_plan_not_found")
	ErrPlanActive    = errors.ErrorCode("power_plan_active")
	ErrInvalidPlanID = errors.ErrorCode("power_invalid_plan_id")
	ErrInvalidName   = errors.ErrorCode("power_invalid_name")
	ErrInvalidPath   = errors.ErrorCode("power_invalid_path")
	ErrUnexpected    = errors.ErrorCode("power_unexpected_output")
)

func errUnsupported(what string) error {
	return errors.New().WithData(errors.ErrNotImplemented, what)
}
