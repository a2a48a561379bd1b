package config

import (
	"fmt"
	"time"

	"codeberg.org/mutker/cpufreqctl/internal/errors"
	"codeberg.org/mutker/cpufreqctl/internal/sampler"
	"github.com/spf13/cast"
)

// Setting keys understood by Store.
const (
	KeyRefreshInterval           = "refresh_interval"
	KeyFrequencyThreshold        = "frequency_threshold"
	KeyFrequencyMode             = "frequency_mode"
	KeyAutoSwitchEnabled         = "auto_switch_enabled"
	KeyAutoSwitchThreshold       = "auto_switch_threshold"
	KeyTriggerActionEnabled      = "trigger_action_enabled"
	KeyFrequencyDetectionEnabled = "frequency_detection_enabled"
	KeyAlertDebounceSeconds      = "alert_debounce_seconds"
)

// Settings is a typed copy of every setting.
type Settings struct {
	RefreshInterval           int          `json:"refresh_interval"`
	FrequencyThreshold        float64      `json:"frequency_threshold"`
	FrequencyMode             sampler.Mode `json:"frequency_mode"`
	AutoSwitchEnabled         bool         `json:"auto_switch_enabled"`
	AutoSwitchThreshold       int          `json:"auto_switch_threshold"`
	TriggerActionEnabled      bool         `json:"trigger_action_enabled"`
	FrequencyDetectionEnabled bool         `json:"frequency_detection_enabled"`
	AlertDebounceSeconds      int          `json:"alert_debounce_seconds"`
}

// Interval returns the refresh interval as a duration.
func (s Settings) Interval() time.Duration {
	return time.Duration(s.RefreshInterval) * time.Millisecond
}

func (s Settings) AlertDebounce() time.Duration {
	return time.Duration(s.AlertDebounceSeconds) * time.Second
}

type keySpec struct {
	def       any
	normalize func(key string, value any) (any, error)
}

var keySpecs = map[string]keySpec{
	KeyRefreshInterval:           {def: 1000, normalize: intRange(100, 10000)},
	KeyFrequencyThreshold:        {def: 3.5, normalize: floatRange(0.5, 10.0)},
	KeyFrequencyMode:             {def: string(sampler.ModePrimary), normalize: mode},
	KeyAutoSwitchEnabled:         {def: false, normalize: boolean},
	KeyAutoSwitchThreshold:       {def: 15, normalize: intRange(5, 100)},
	KeyTriggerActionEnabled:      {def: false, normalize: boolean},
	KeyFrequencyDetectionEnabled: {def: true, normalize: boolean},
	KeyAlertDebounceSeconds:      {def: 15, normalize: intRange(1, 3600)},
}

// Keys returns every known setting key.
func Keys() []string {
	keys := make([]string, 0, len(keySpecs))
	for k := range keySpecs {
		keys = append(keys, k)
	}
	return keys
}

// Defaults returns the default value of every setting.
func Defaults() map[string]any {
	values := make(map[string]any, len(keySpecs))
	for k, spec := range keySpecs {
		values[k] = spec.def
	}
	return values
}

// Normalize coerces value to the canonical type for key and checks its range.
func Normalize(key string, value any) (any, error) {
	spec, ok := keySpecs[key]
	if !ok {
		return nil, errors.New().WithData(errors.ErrUnknownSetting, key)
	}
	return spec.normalize(key, value)
}

func intRange(lo, hi int) func(string, any) (any, error) {
	return func(key string, value any) (any, error) {
		n, err := cast.ToIntE(value)
		if err != nil {
			return nil, errors.New().Wrap(errors.ErrInvalidSetting, err).WithData(key)
		}
		if n < lo || n > hi {
			return nil, errors.New().WithData(errors.ErrInvalidSetting,
				fmt.Sprintf("%s=%d outside %d..%d", key, n, lo, hi))
		}
		return n, nil
	}
}

func floatRange(lo, hi float64) func(string, any) (any, error) {
	return func(key string, value any) (any, error) {
		f, err := cast.ToFloat64E(value)
		if err != nil {
			return nil, errors.New().Wrap(errors.ErrInvalidSetting, err).WithData(key)
		}
		if f < lo || f > hi {
			return nil, errors.New().WithData(errors.ErrInvalidSetting,
				fmt.Sprintf("%s=%g outside %g..%g", key, f, lo, hi))
		}
		return f, nil
	}
}

func boolean(key string, value any) (any, error) {
	b, err := cast.ToBoolE(value)
	if err != nil {
		return nil, errors.New().Wrap(errors.ErrInvalidSetting, err).WithData(key)
	}
	return b, nil
}

func mode(key string, value any) (any, error) {
	s, err := cast.ToStringE(value)
	if err != nil {
		return nil, errors.New().Wrap(errors.ErrInvalidSetting, err).WithData(key)
	}
	m, err := sampler.ParseMode(s)
	if err != nil {
		return nil, errors.New().Wrap(errors.ErrInvalidSetting, err).WithData(key)
	}
	return string(m), nil
}
