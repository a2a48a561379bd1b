package action

import (
	"context"
	"fmt"
	"sync"
	"time"

	"codeberg.org/mutker/cpufreqctl/internal/errors"
	"codeberg.org/mutker/cpufreqctl/internal/events"
	"codeberg.org/mutker/cpufreqctl/internal/logger"
	"codeberg.org/mutker/cpufreqctl/internal/notify"
	"codeberg.org/mutker/cpufreqctl/internal/telemetry"
)

// Phase is a step of a trigger action run.
type Phase string

const (
	PhaseIdle             Phase = "idle"
	PhaseActivatingTemp   Phase = "activating_temp"
	PhasePausing          Phase = "pausing"
	PhaseActivatingTarget Phase = "activating_target"
	PhaseDone             Phase = "done"
	PhaseFailed           Phase = "failed"
)

// Activator switches the active power plan.
type Activator interface {
	Activate(ctx context.Context, id string) error
}

// Result describes a finished run.
type Result struct {
	ActionID   string    `json:"action_id"`
	ActionName string    `json:"action_name"`
	Phase      Phase     `json:"phase"`
	FailedAt   Phase     `json:"failed_at,omitempty"`
	Error      string    `json:"error,omitempty"`
	Started    time.Time `json:"started"`
	Finished   time.Time `json:"finished"`
}

// Executor runs the temp-pause-target plan swap of a trigger action. Runs of
// the same action never overlap.
type Executor struct {
	power    Activator
	notifier notify.Notifier
	pub      events.Publisher
	log      logger.Logger

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time

	mu      sync.Mutex
	running map[string]struct{}
}

func NewExecutor(power Activator, notifier notify.Notifier, pub events.Publisher) *Executor {
	return &Executor{
		power:    power,
		notifier: notifier,
		pub:      pub,
		log:      logger.With("executor"),
		sleep:    sleepContext,
		now:      time.Now,
		running:  make(map[string]struct{}),
	}
}

// Run executes a to completion. It returns ErrBusy without side effects
// when a run of the same action is still in progress.
func (e *Executor) Run(ctx context.Context, a TriggerAction) (Result, error) {
	w, ok := a.Simple()
	if !ok {
		return Result{}, errors.New().WithData(ErrUnsupportedWorker, kindOf(a.Worker))
	}

	if !e.acquire(a.ID) {
		return Result{}, errors.New().WithData(ErrBusy, a.ID)
	}
	defer e.release(a.ID)

	res := Result{ActionID: a.ID, ActionName: a.Name, Phase: PhaseIdle, Started: e.now()}
	e.log.Info().
		Str("id", a.ID).
		Str("name", a.Name).
		Str("temp", w.TempPlanID).
		Str("target", w.TargetPlanID).
		Int("pause", w.PauseSeconds).
		Msg("Running trigger action")

	res.Phase = PhaseActivatingTemp
	if err := e.power.Activate(ctx, w.TempPlanID); err != nil {
		return e.fail(a, res, errors.New().Wrap(ErrActivate, err).WithData(w.TempPlanID),
			"could not activate the temporary plan")
	}

	res.Phase = PhasePausing
	if err := e.sleep(ctx, w.Pause()); err != nil {
		return e.fail(a, res, errors.New().Wrap(ErrCanceled, err), "interrupted while pausing")
	}

	res.Phase = PhaseActivatingTarget
	if err := e.power.Activate(ctx, w.TargetPlanID); err != nil {
		return e.fail(a, res, errors.New().Wrap(ErrActivate, err).WithData(w.TargetPlanID),
			"could not activate the target plan")
	}

	res.Phase = PhaseDone
	res.Finished = e.now()

	e.log.Info().Str("id", a.ID).Dur("took", res.Finished.Sub(res.Started)).Msg("Trigger action completed")
	e.notifier.Notify("Trigger action completed", fmt.Sprintf("%s switched to the target power plan", a.Name))
	e.finish(res)

	return res, nil
}

// IsRunning reports whether a run of the action is in progress.
func (e *Executor) IsRunning(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.running[id]
	return ok
}

func (e *Executor) fail(a TriggerAction, res Result, err errors.Error, reason string) (Result, error) {
	res.FailedAt = res.Phase
	res.Phase = PhaseFailed
	res.Error = err.Error()
	res.Finished = e.now()

	e.log.ErrorWithCode(err).Str("id", a.ID).Str("phase", string(res.FailedAt)).Msg("Trigger action failed")
	e.notifier.Notify("Trigger action failed", fmt.Sprintf("%s: %s", a.Name, reason))
	e.finish(res)

	return res, err
}

func (e *Executor) finish(res Result) {
	telemetry.ActionRuns.WithLabelValues(string(res.Phase)).Inc()
	e.pub.Publish(events.ActionFinished, res)
}

func (e *Executor) acquire(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, busy := e.running[id]; busy {
		return false
	}
	e.running[id] = struct{}{}
	return true
}

func (e *Executor) release(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.running, id)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
