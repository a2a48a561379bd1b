package monitor

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"codeberg.org/mutker/cpufreqctl/internal/action"
	"codeberg.org/mutker/cpufreqctl/internal/config"
	"codeberg.org/mutker/cpufreqctl/internal/errors"
	"codeberg.org/mutker/cpufreqctl/internal/events"
	"codeberg.org/mutker/cpufreqctl/internal/logger"
	"codeberg.org/mutker/cpufreqctl/internal/notify"
	"codeberg.org/mutker/cpufreqctl/internal/sampler"
	"codeberg.org/mutker/cpufreqctl/internal/telemetry"
)

const (
	DefaultSampleTimeout = 5 * time.Second
	DefaultRefreshPulse  = 200 * time.Millisecond

	// stopped is the generation of an engine with no current loop.
	stopped int64 = 0
)

// Settings is the part of the settings store the engine reads and writes.
type Settings interface {
	Snapshot() config.Settings
	Set(key string, value any) error
}

// HookRegistry lets the engine subscribe to setting changes.
type HookRegistry interface {
	OnChange(key string, hook config.Hook)
}

// Actions returns the trigger action to run on an alert.
type Actions interface {
	Active() (action.TriggerAction, bool)
}

// Executor runs a trigger action.
type Executor interface {
	Run(ctx context.Context, a action.TriggerAction) (action.Result, error)
}

type Deps struct {
	Settings  Settings
	Source    sampler.Source
	Actions   Actions
	Executor  Executor
	Notifier  notify.Notifier
	Publisher events.Publisher
}

// ModeSwitchedPayload is published with events.ModeSwitched.
type ModeSwitchedPayload struct {
	Mode           sampler.Mode `json:"mode"`
	UnchangedCount int          `json:"unchanged_count"`
}

// ThresholdPayload is published with events.ThresholdExceeded.
type ThresholdPayload struct {
	Severity     Indicator `json:"severity"`
	Cores        []int     `json:"cores"`
	Frequencies  []uint64  `json:"frequencies"`
	ThresholdGHz float64   `json:"threshold_ghz"`
}

// Engine runs the sampling loop. A loop belongs to the generation that
// started it and exits once the live generation differs. Start and Stop
// swap the generation under mu, and state writes re-check it under mu.
type Engine struct {
	settings Settings
	source   sampler.Source
	actions  Actions
	executor Executor
	notifier notify.Notifier
	pub      events.Publisher
	log      logger.Logger

	sampleTimeout time.Duration
	refreshPulse  time.Duration

	generation      atomic.Int64
	autoSwitched    atomic.Bool
	switching       atomic.Bool
	resetStagnation atomic.Bool
	pulseSeq        atomic.Uint64

	alerts *debouncer

	mu    sync.RWMutex
	state State

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(d Deps) *Engine {
	ctx, cancel := context.WithCancel(context.Background())

	return &Engine{
		settings:      d.Settings,
		source:        d.Source,
		actions:       d.Actions,
		executor:      d.Executor,
		notifier:      d.Notifier,
		pub:           d.Publisher,
		log:           logger.With("engine"),
		sampleTimeout: DefaultSampleTimeout,
		refreshPulse:  DefaultRefreshPulse,
		alerts:        newDebouncer(),
		state:         State{Frequencies: []uint64{}, IndicatorStatus: IndicatorNormal},
		ctx:           ctx,
		cancel:        cancel,
	}
}

// Start supersedes any running loop with a new one. It does nothing while
// sampling is disabled.
func (e *Engine) Start() {
	if !e.settings.Snapshot().FrequencyDetectionEnabled {
		e.log.Debug().Msg("Sampling disabled, not starting")
		return
	}
	if e.ctx.Err() != nil {
		return
	}

	e.mu.Lock()
	gen := e.nextGeneration()
	e.mu.Unlock()

	telemetry.EngineRestarts.Inc()
	e.log.Info().Int64("generation", gen).Msg("Starting sampling loop")

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.loop(gen)
	}()
}

// Stop invalidates the running loop and clears the published state.
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.generation.Swap(stopped) == stopped {
		e.mu.Unlock()
		return
	}
	e.state = State{Frequencies: []uint64{}, IndicatorStatus: IndicatorNormal}
	snapshot := e.state.clone()
	e.mu.Unlock()

	e.log.Info().Msg("Stopping sampling loop")
	e.publishState(snapshot)
}

// Close stops the engine and interrupts pending samples and trigger action
// pauses, then waits for loops to exit.
func (e *Engine) Close() {
	e.Stop()
	e.cancel()
	e.wg.Wait()
}

// Running reports whether a loop is current.
func (e *Engine) Running() bool {
	return e.generation.Load() != stopped
}

// Generation returns the live generation, 0 when stopped.
func (e *Engine) Generation() int64 {
	return e.generation.Load()
}

// ModeAutoSwitched reports whether stagnation moved sampling to the
// fallback mode since the last manual mode change.
func (e *Engine) ModeAutoSwitched() bool {
	return e.autoSwitched.Load()
}

func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state.clone()
}

// LastAlert returns when the last alert fired, zero if none has.
func (e *Engine) LastAlert() time.Time {
	return e.alerts.lastAlert()
}

// nextGeneration installs a generation strictly greater than any before.
// Callers hold mu so that no state write of an older generation can follow.
func (e *Engine) nextGeneration() int64 {
	for {
		old := e.generation.Load()
		gen := time.Now().UnixNano()
		if gen <= old {
			gen = old + 1
		}
		if e.generation.CompareAndSwap(old, gen) {
			return gen
		}
	}
}

func (e *Engine) current(gen int64) bool {
	return e.generation.Load() == gen && e.ctx.Err() == nil
}

func (e *Engine) loop(gen int64) {
	det := &stagnation{}
	first := true

	for {
		if !e.current(gen) || !e.settings.Snapshot().FrequencyDetectionEnabled {
			return
		}

		if !first {
			t := time.NewTimer(e.settings.Snapshot().Interval())
			select {
			case <-e.ctx.Done():
				t.Stop()
				return
			case <-t.C:
			}
		}
		first = false

		cfg := e.settings.Snapshot()
		if !e.current(gen) || !cfg.FrequencyDetectionEnabled {
			return
		}

		freqs := e.sample(cfg.FrequencyMode)

		if !e.current(gen) || !e.settings.Snapshot().FrequencyDetectionEnabled {
			e.log.Debug().Int64("generation", gen).Msg("Discarding sample from superseded loop")
			return
		}

		e.cycle(gen, det, cfg, freqs)
	}
}

// cycle runs stagnation detection, publishes and alerts for one sample of
// generation gen. Nothing is written once gen is no longer live.
func (e *Engine) cycle(gen int64, det *stagnation, cfg config.Settings, freqs []uint64) {
	if e.resetStagnation.Swap(false) {
		det.reset()
	}

	count := 0
	if cfg.AutoSwitchEnabled && cfg.FrequencyMode == sampler.ModePrimary {
		count = det.observe(freqs)
		if count > 0 {
			e.log.Debug().Int("count", count).Int("threshold", cfg.AutoSwitchThreshold).Msg("Readings unchanged")
		}
		// count excludes the baseline sample; the run is count+1 samples long.
		if len(freqs) > 0 && count+1 >= cfg.AutoSwitchThreshold {
			det.reset()
			if e.current(gen) {
				e.switchToFallback(count + 1)
			}
			return
		}
	} else {
		det.reset()
	}

	indicator, breaching := Classify(freqs, cfg.FrequencyThreshold)

	e.mu.Lock()
	if !e.current(gen) {
		e.mu.Unlock()
		e.log.Debug().Int64("generation", gen).Msg("Discarding sample from superseded loop")
		return
	}
	prev := e.state.IndicatorStatus
	e.state.Frequencies = append(make([]uint64, 0, len(freqs)), freqs...)
	e.state.Mode = cfg.FrequencyMode
	e.state.IndicatorStatus = indicator
	e.state.LastUpdateCount = count
	snapshot := e.state.clone()
	e.mu.Unlock()

	e.record(snapshot)
	e.publishState(snapshot)
	if prev != indicator {
		e.pub.Publish(events.IndicatorChanged, indicator)
	}

	e.alert(cfg, freqs, indicator, breaching)
}

func (e *Engine) sample(mode sampler.Mode) []uint64 {
	ctx, cancel := context.WithTimeout(e.ctx, e.sampleTimeout)
	defer cancel()

	start := time.Now()
	freqs, err := e.source.Sample(ctx, mode)
	telemetry.SampleDuration.WithLabelValues(string(mode)).Observe(time.Since(start).Seconds())

	if err != nil {
		code := errors.CodeOf(err)
		telemetry.SampleErrors.WithLabelValues(string(mode), string(code)).Inc()
		e.log.Warn().Err(err).Str("mode", string(mode)).Str("error_code", string(code)).Msg("Sampling failed")
		return []uint64{}
	}

	telemetry.SamplesTotal.WithLabelValues(string(mode)).Inc()
	if freqs == nil {
		freqs = []uint64{}
	}
	return freqs
}

// switchToFallback rewrites the mode setting. The mode hook restarts the
// engine, which supersedes the calling loop.
func (e *Engine) switchToFallback(count int) {
	e.log.Warn().Int("count", count).Msg("Readings stopped changing, switching to fallback sampling")

	e.autoSwitched.Store(true)
	telemetry.ModeAutoSwitches.Inc()

	e.notifier.Notify("Sampling mode switched automatically",
		fmt.Sprintf("Readings did not change for %d samples, using calibrated sampling instead", count))
	e.pub.Publish(events.ModeSwitched, ModeSwitchedPayload{Mode: sampler.ModeFallback, UnchangedCount: count})

	e.switching.Store(true)
	err := e.settings.Set(config.KeyFrequencyMode, string(sampler.ModeFallback))
	e.switching.Store(false)

	if err != nil {
		e.log.Error().Err(err).Msg("Failed to switch sampling mode")
	}
}

func (e *Engine) alert(cfg config.Settings, freqs []uint64, indicator Indicator, breaching []int) {
	if len(breaching) == 0 || !e.alerts.allow(cfg.AlertDebounce()) {
		return
	}

	telemetry.AlertsTotal.WithLabelValues(string(indicator)).Inc()
	e.pub.Publish(events.ThresholdExceeded, ThresholdPayload{
		Severity:     indicator,
		Cores:        breaching,
		Frequencies:  append([]uint64(nil), freqs...),
		ThresholdGHz: cfg.FrequencyThreshold,
	})

	body := fmt.Sprintf("%d of %d cores above %.1f GHz", len(breaching), len(freqs), cfg.FrequencyThreshold)
	if indicator == IndicatorDanger {
		body = fmt.Sprintf("All %d cores above %.1f GHz", len(freqs), cfg.FrequencyThreshold)
	}
	e.log.Warn().Ints("cores", breaching).Float64("threshold", cfg.FrequencyThreshold).Msg("Frequency threshold exceeded")
	e.notifier.Notify("CPU frequency alert", body)

	if !cfg.TriggerActionEnabled {
		return
	}

	a, ok := e.actions.Active()
	if !ok {
		return
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if _, err := e.executor.Run(e.ctx, a); err != nil && errors.HasCode(err, action.ErrBusy) {
			e.log.Debug().Str("id", a.ID).Msg("Trigger action still running")
		}
	}()
}

// RefreshNow takes one sample outside the loop and publishes it with a
// short is_refreshing pulse. A loop restart during the sample discards it.
func (e *Engine) RefreshNow(ctx context.Context) (State, error) {
	cfg := e.settings.Snapshot()
	if !cfg.FrequencyDetectionEnabled {
		return e.State(), errors.New().WithMessage(errors.ErrUnavailable, "frequency detection is disabled")
	}

	gen := e.generation.Load()

	sctx, cancel := context.WithTimeout(ctx, e.sampleTimeout)
	defer cancel()

	freqs, err := e.source.Sample(sctx, cfg.FrequencyMode)
	if err != nil {
		e.log.Warn().Err(err).Msg("Refresh sample failed")
		freqs = []uint64{}
	}
	if freqs == nil {
		freqs = []uint64{}
	}

	indicator, _ := Classify(freqs, cfg.FrequencyThreshold)

	e.mu.Lock()
	if e.generation.Load() != gen {
		snapshot := e.state.clone()
		e.mu.Unlock()
		return snapshot, nil
	}
	e.state.Frequencies = freqs
	e.state.Mode = cfg.FrequencyMode
	e.state.IndicatorStatus = indicator
	e.state.IsRefreshing = true
	snapshot := e.state.clone()
	e.mu.Unlock()

	e.record(snapshot)
	e.publishState(snapshot)
	e.endRefreshAfter(e.refreshPulse)

	return snapshot, nil
}

// clearReadings drops the frequencies of the previous mode and pulses
// is_refreshing.
func (e *Engine) clearReadings() {
	e.mu.Lock()
	e.state.Frequencies = []uint64{}
	e.state.LastUpdateCount = 0
	e.state.IndicatorStatus = IndicatorNormal
	e.state.IsRefreshing = true
	snapshot := e.state.clone()
	e.mu.Unlock()

	e.publishState(snapshot)
	e.endRefreshAfter(e.refreshPulse)
}

// endRefreshAfter clears is_refreshing unless a newer pulse started.
func (e *Engine) endRefreshAfter(d time.Duration) {
	seq := e.pulseSeq.Add(1)
	time.AfterFunc(d, func() {
		if e.pulseSeq.Load() != seq {
			return
		}

		e.mu.Lock()
		if !e.state.IsRefreshing {
			e.mu.Unlock()
			return
		}
		e.state.IsRefreshing = false
		snapshot := e.state.clone()
		e.mu.Unlock()

		e.publishState(snapshot)
	})
}

func (e *Engine) publishState(s State) {
	e.pub.Publish(events.StateUpdated, s)
}

func (e *Engine) record(s State) {
	telemetry.Indicator.Set(s.IndicatorStatus.Level())
	telemetry.StagnationCount.Set(float64(s.LastUpdateCount))
	if len(s.Frequencies) == 0 {
		telemetry.CoreFrequency.Reset()
	}
	for i, mhz := range s.Frequencies {
		telemetry.CoreFrequency.WithLabelValues(strconv.Itoa(i)).Set(float64(mhz))
	}
}
