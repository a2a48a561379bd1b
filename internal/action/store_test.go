package action

import (
	"testing"

	"codeberg.org/mutker/cpufreqctl/internal/errors"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const actionsPath = "/data/trigger_actions.json"

func TestFileStoreMissingFile(t *testing.T) {
	actions, err := NewFileStore(afero.NewMemMapFs(), actionsPath).Load()
	require.NoError(t, err)
	assert.Empty(t, actions)
}

func TestFileStoreRoundTrip(t *testing.T) {
	fs := afero.NewMemMapFs()
	store := NewFileStore(fs, actionsPath)

	want := []TriggerAction{
		{ID: "a1", Name: "One", Enabled: true, Worker: SimpleWorker{"T", "G", 2}},
		{ID: "a2", Name: "Two", Worker: SimpleWorker{"G", "T", 5}},
	}
	require.NoError(t, store.Save(want))

	got, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, want, got)

	entries, err := afero.ReadDir(fs, "/data")
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary file is renamed into place")
}

func TestFileStoreMigratesLegacyArray(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, actionsPath, []byte(`[
  {"id": "a1", "name": "Old", "temp_plan_guid": "T", "target_plan_guid": "G", "pause_seconds": 3, "enabled": true}
]`), 0o644))

	store := NewFileStore(fs, actionsPath)
	got, err := store.Load()
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, TriggerAction{ID: "a1", Name: "Old", Enabled: true, Worker: SimpleWorker{"T", "G", 3}}, got[0])

	data, err := afero.ReadFile(fs, actionsPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"version": 1`)
	assert.Contains(t, string(data), `"kind": "simple"`)
}

func TestFileStoreRejectsNewerVersion(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, actionsPath, []byte(`{"version": 2, "actions": []}`), 0o644))

	_, err := NewFileStore(fs, actionsPath).Load()
	assert.True(t, errors.HasCode(err, ErrUnsupportedVersion))
}

func TestFileStoreMalformed(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, actionsPath, []byte(`{"version": 1, "actions": [`), 0o644))

	_, err := NewFileStore(fs, actionsPath).Load()
	assert.True(t, errors.HasCode(err, ErrLoad))
}
