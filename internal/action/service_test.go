package action

import (
	"context"
	"encoding/json"
	"testing"

	"codeberg.org/mutker/cpufreqctl/internal/errors"
	"codeberg.org/mutker/cpufreqctl/internal/events"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type serviceFixture struct {
	svc      *Service
	fs       afero.Fs
	plans    fakePlans
	master   *fakeMaster
	notifier *fakeNotifier
	bus      *recordingBus
}

func newServiceFixture(t *testing.T, seed ...TriggerAction) *serviceFixture {
	t.Helper()

	f := &serviceFixture{
		fs:       afero.NewMemMapFs(),
		plans:    fakePlans{"T": true, "G": true},
		master:   &fakeMaster{},
		notifier: &fakeNotifier{},
		bus:      &recordingBus{},
	}

	store := NewFileStore(f.fs, actionsPath)
	if len(seed) > 0 {
		require.NoError(t, store.Save(seed))
	}

	svc, err := NewService(store, f.plans, f.master, f.notifier, f.bus)
	require.NoError(t, err)
	f.svc = svc

	return f
}

func (f *serviceFixture) persisted(t *testing.T) []TriggerAction {
	t.Helper()
	actions, err := NewFileStore(f.fs, actionsPath).Load()
	require.NoError(t, err)
	return actions
}

func TestSaveAssignsID(t *testing.T) {
	f := newServiceFixture(t)

	saved, err := f.svc.Save(context.Background(), TriggerAction{
		Name:   "Cool down",
		Worker: SimpleWorker{"T", "G", 2},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, saved.ID)

	got, err := f.svc.Get(saved.ID)
	require.NoError(t, err)
	assert.Equal(t, saved, got)
	assert.Equal(t, []TriggerAction{saved}, f.persisted(t))
}

func TestSaveValidates(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	_, err := f.svc.Save(ctx, TriggerAction{Name: " ", Worker: SimpleWorker{"T", "G", 2}})
	assert.True(t, errors.HasCode(err, ErrInvalid))

	_, err = f.svc.Save(ctx, TriggerAction{Name: "x", Worker: SimpleWorker{"T", "G", 0}})
	assert.True(t, errors.HasCode(err, ErrInvalid))

	_, err = f.svc.Save(ctx, TriggerAction{Name: "x", Enabled: true, Worker: SimpleWorker{"T", "missing", 2}})
	assert.True(t, errors.HasCode(err, ErrPlanInvalid))

	assert.Empty(t, f.svc.List())
}

func TestSaveRejectsWorkerWithoutKind(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	var a TriggerAction
	require.NoError(t, json.Unmarshal([]byte(`{"name":"x","worker":{"temp_plan_id":"T","target_plan_id":"G","pause_seconds":2}}`), &a))

	_, err := f.svc.Save(ctx, a)
	assert.True(t, errors.HasCode(err, ErrInvalid))
	assert.Empty(t, f.svc.List())
	assert.Empty(t, f.persisted(t))

	require.NoError(t, json.Unmarshal([]byte(`{"name":"y","worker":{"kind":"script"}}`), &a))
	saved, err := f.svc.Save(ctx, a)
	require.NoError(t, err, "unknown kinds are kept disabled")
	assert.Equal(t, WorkerKind("script"), saved.Worker.Kind())
}

func TestEnableWithMissingPlanChangesNothing(t *testing.T) {
	f := newServiceFixture(t, TriggerAction{ID: "a1", Name: "One", Worker: SimpleWorker{"gone", "G", 2}})

	err := f.svc.SetEnabled(context.Background(), "a1", true)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, ErrPlanInvalid))

	a, err := f.svc.Get("a1")
	require.NoError(t, err)
	assert.False(t, a.Enabled)
	assert.False(t, f.persisted(t)[0].Enabled)
}

func TestEnableAndActive(t *testing.T) {
	f := newServiceFixture(t,
		TriggerAction{ID: "a1", Name: "One", Worker: SimpleWorker{"T", "G", 2}},
		TriggerAction{ID: "a2", Name: "Two", Worker: SimpleWorker{"G", "T", 2}},
	)
	ctx := context.Background()

	_, ok := f.svc.Active()
	assert.False(t, ok)
	assert.Error(t, f.svc.ValidateMasterSwitch(true))
	assert.NoError(t, f.svc.ValidateMasterSwitch(false))

	require.NoError(t, f.svc.SetEnabled(ctx, "a2", true))
	require.NoError(t, f.svc.SetEnabled(ctx, "a1", true))

	active, ok := f.svc.Active()
	require.True(t, ok)
	assert.Equal(t, "a1", active.ID, "first enabled action wins")
	assert.NoError(t, f.svc.ValidateMasterSwitch(true))

	assert.True(t, errors.HasCode(f.svc.SetEnabled(ctx, "nope", true), ErrNotFound))
}

func TestDisablingLastActionTurnsMasterOff(t *testing.T) {
	f := newServiceFixture(t, TriggerAction{ID: "a1", Name: "One", Enabled: true, Worker: SimpleWorker{"T", "G", 2}})
	f.master.enabled = true

	require.NoError(t, f.svc.SetEnabled(context.Background(), "a1", false))
	assert.False(t, f.master.enabled)
}

func TestDeleteAction(t *testing.T) {
	f := newServiceFixture(t,
		TriggerAction{ID: "a1", Name: "One", Enabled: true, Worker: SimpleWorker{"T", "G", 2}},
		TriggerAction{ID: "a2", Name: "Two", Worker: SimpleWorker{"G", "T", 2}},
	)
	f.master.enabled = true

	require.NoError(t, f.svc.Delete("a1"))
	assert.Len(t, f.persisted(t), 1)
	assert.False(t, f.master.enabled)

	assert.True(t, errors.HasCode(f.svc.Delete("a1"), ErrNotFound))
}

func TestReconcileDisablesInvalidActions(t *testing.T) {
	f := newServiceFixture(t,
		TriggerAction{ID: "a1", Name: "Stale", Enabled: true, Worker: SimpleWorker{"T", "deleted", 2}},
		TriggerAction{ID: "a2", Name: "Fine", Enabled: true, Worker: SimpleWorker{"T", "G", 2}},
		TriggerAction{ID: "a3", Name: "Off", Worker: SimpleWorker{"deleted", "G", 2}},
	)
	f.master.enabled = true

	disabled, err := f.svc.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a1"}, disabled)

	persisted := f.persisted(t)
	assert.False(t, persisted[0].Enabled)
	assert.True(t, persisted[1].Enabled)
	assert.False(t, f.master.enabled, "master switch is forced off")

	notes := f.notifier.all()
	require.Len(t, notes, 1)
	assert.Contains(t, notes[0].Body, "Stale")

	evs := f.bus.ofType(events.ActionsDisabled)
	require.Len(t, evs, 1)
	assert.Equal(t, DisabledPayload{IDs: []string{"a1"}}, evs[0].Payload)
}

func TestReconcileNothingToDo(t *testing.T) {
	f := newServiceFixture(t, TriggerAction{ID: "a1", Name: "Fine", Enabled: true, Worker: SimpleWorker{"T", "G", 2}})
	f.master.enabled = true

	disabled, err := f.svc.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Empty(t, disabled)
	assert.True(t, f.master.enabled)
	assert.Empty(t, f.notifier.all())
}

func TestUnknownWorkerCannotBeEnabled(t *testing.T) {
	f := newServiceFixture(t)
	require.NoError(t, afero.WriteFile(f.fs, actionsPath, []byte(
		`{"version":1,"actions":[{"id":"x","name":"Script","enabled":false,"worker":{"kind":"script"}}]}`), 0o644))

	svc, err := NewService(NewFileStore(f.fs, actionsPath), f.plans, f.master, f.notifier, f.bus)
	require.NoError(t, err)

	err = svc.SetEnabled(context.Background(), "x", true)
	assert.True(t, errors.HasCode(err, ErrUnsupportedWorker))
}
