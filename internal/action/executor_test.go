package action

import (
	"context"
	"sync"
	"testing"
	"time"

	"codeberg.org/mutker/cpufreqctl/internal/errors"
	"codeberg.org/mutker/cpufreqctl/internal/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeActivator struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]error
}

func (f *fakeActivator) Activate(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "activate:"+id)
	return f.fail[id]
}

func newTestExecutor(power *fakeActivator) (*Executor, *fakeNotifier, *recordingBus, *[]time.Duration) {
	notifier := &fakeNotifier{}
	bus := &recordingBus{}
	e := NewExecutor(power, notifier, bus)

	var pauses []time.Duration
	e.sleep = func(_ context.Context, d time.Duration) error {
		power.mu.Lock()
		power.calls = append(power.calls, "pause:"+d.String())
		power.mu.Unlock()
		pauses = append(pauses, d)
		return nil
	}

	return e, notifier, bus, &pauses
}

var coolDown = TriggerAction{ID: "a1", Name: "Cool down", Enabled: true, Worker: SimpleWorker{"T", "G", 2}}

func TestExecutorRunsPhasesInOrder(t *testing.T) {
	power := &fakeActivator{}
	e, notifier, bus, pauses := newTestExecutor(power)

	res, err := e.Run(context.Background(), coolDown)
	require.NoError(t, err)

	assert.Equal(t, PhaseDone, res.Phase)
	assert.Equal(t, []string{"activate:T", "pause:2s", "activate:G"}, power.calls)
	assert.Equal(t, []time.Duration{2 * time.Second}, *pauses)

	notes := notifier.all()
	require.Len(t, notes, 1)
	assert.Equal(t, "Trigger action completed", notes[0].Title)

	finished := bus.ofType(events.ActionFinished)
	require.Len(t, finished, 1)
	assert.Equal(t, PhaseDone, finished[0].Payload.(Result).Phase)
	assert.False(t, e.IsRunning("a1"))
}

func TestExecutorStopsWhenTempPlanFails(t *testing.T) {
	power := &fakeActivator{fail: map[string]error{"T": errors.New().New(errors.ErrOperationFailed)}}
	e, notifier, _, pauses := newTestExecutor(power)

	res, err := e.Run(context.Background(), coolDown)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, ErrActivate))

	assert.Equal(t, PhaseFailed, res.Phase)
	assert.Equal(t, PhaseActivatingTemp, res.FailedAt)
	assert.Equal(t, []string{"activate:T"}, power.calls, "target is never attempted")
	assert.Empty(t, *pauses)

	notes := notifier.all()
	require.Len(t, notes, 1)
	assert.Equal(t, "Trigger action failed", notes[0].Title)
}

func TestExecutorTargetFailure(t *testing.T) {
	power := &fakeActivator{fail: map[string]error{"G": errors.New().New(errors.ErrOperationFailed)}}
	e, notifier, _, _ := newTestExecutor(power)

	res, err := e.Run(context.Background(), coolDown)
	require.Error(t, err)
	assert.Equal(t, PhaseActivatingTarget, res.FailedAt)
	assert.Equal(t, []string{"activate:T", "pause:2s", "activate:G"}, power.calls)
	assert.Equal(t, "Trigger action failed", notifier.all()[0].Title)
}

func TestExecutorRejectsOverlap(t *testing.T) {
	power := &fakeActivator{}
	e := NewExecutor(power, &fakeNotifier{}, &recordingBus{})

	entered := make(chan struct{})
	release := make(chan struct{})
	e.sleep = func(ctx context.Context, _ time.Duration) error {
		close(entered)
		<-release
		return nil
	}

	done := make(chan error, 1)
	go func() {
		_, err := e.Run(context.Background(), coolDown)
		done <- err
	}()

	<-entered
	assert.True(t, e.IsRunning("a1"))

	_, err := e.Run(context.Background(), coolDown)
	assert.True(t, errors.HasCode(err, ErrBusy))

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, []string{"activate:T", "activate:G"}, power.calls)
}

func TestExecutorPauseIsInterruptible(t *testing.T) {
	power := &fakeActivator{}
	e := NewExecutor(power, &fakeNotifier{}, &recordingBus{})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	long := TriggerAction{ID: "a9", Name: "Long", Worker: SimpleWorker{"T", "G", 3600}}
	start := time.Now()
	res, err := e.Run(ctx, long)

	assert.True(t, errors.HasCode(err, ErrCanceled))
	assert.Equal(t, PhasePausing, res.FailedAt)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, []string{"activate:T"}, power.calls)
}

func TestExecutorRejectsUnknownWorker(t *testing.T) {
	e := NewExecutor(&fakeActivator{}, &fakeNotifier{}, &recordingBus{})

	_, err := e.Run(context.Background(), TriggerAction{ID: "x", Worker: RawWorker{kind: "script"}})
	assert.True(t, errors.HasCode(err, ErrUnsupportedWorker))
}
