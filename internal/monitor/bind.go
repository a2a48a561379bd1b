package monitor

import (
	"codeberg.org/mutker/cpufreqctl/internal/config"
	"codeberg.org/mutker/cpufreqctl/internal/sampler"
	"github.com/spf13/cast"
)

// Bind subscribes the engine to the settings that change its behaviour.
// Threshold, debounce and run length need no hook; the loop reads them
// every cycle.
func (e *Engine) Bind(r HookRegistry) {
	r.OnChange(config.KeyRefreshInterval, func(string, any) {
		e.restartIfRunning()
	})

	r.OnChange(config.KeyFrequencyMode, func(_ string, value any) {
		if !e.switching.Load() {
			e.autoSwitched.Store(false)
			mode := sampler.Mode(cast.ToString(value))
			e.notifier.Notify("Sampling mode changed", "Now using "+mode.String()+" sampling")
		}
		e.clearReadings()
		e.restartIfRunning()
	})

	r.OnChange(config.KeyFrequencyDetectionEnabled, func(_ string, value any) {
		if cast.ToBool(value) {
			e.Start()
			return
		}
		e.Stop()
	})

	r.OnChange(config.KeyTriggerActionEnabled, func(_ string, value any) {
		if !cast.ToBool(value) {
			e.alerts.reset()
		}
	})

	r.OnChange(config.KeyAutoSwitchEnabled, func(_ string, value any) {
		if cast.ToBool(value) {
			return
		}
		e.resetStagnation.Store(true)

		e.mu.Lock()
		e.state.LastUpdateCount = 0
		snapshot := e.state.clone()
		e.mu.Unlock()
		e.publishState(snapshot)
	})
}

func (e *Engine) restartIfRunning() {
	if e.Running() {
		e.Start()
	}
}
