package action

import "codeberg.org/mutker/cpufreqctl/internal/errors"

const (
	ErrNotFound           = errors.ErrorCode("action_not_found")
	ErrInvalid            = errors.ErrorCode("action_invalid")
	ErrPlanInvalid        = errors.ErrorCode("action_plan_invalid")
	ErrUnsupportedWorker  = errors.ErrorCode("action_unsupported_worker")
	ErrNoneEnabled        = errors.ErrorCode("action_none_enabled")
	ErrBusy               = errors.ErrorCode("action_busy")
	ErrLoad               = errors.ErrorCode("action_load_failed")
	ErrSave               = errors.ErrorCode("action_save_failed")
	ErrUnsupportedVersion = errors.ErrorCode("action_unsupported_version")
	ErrActivate           = errors.ErrorCode("action_activate_failed")
	ErrCanceled           = errors.ErrorCode("action_canceled")
)
