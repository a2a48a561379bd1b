package config

import (
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReloadAppliesExternalEdits(t *testing.T) {
	fs := afero.NewMemMapFs()
	store, err := NewStore(fs, "/cfg/settings.json")
	require.NoError(t, err)

	var changed []string
	store.OnAnyChange(func(key string, _ any) { changed = append(changed, key) })

	require.NoError(t, afero.WriteFile(fs, "/cfg/settings.json", []byte(`{
  "refresh_interval": 500,
  "frequency_threshold": 3.5,
  "frequency_mode": "primary",
  "auto_switch_enabled": false,
  "auto_switch_threshold": 2,
  "trigger_action_enabled": false,
  "frequency_detection_enabled": true,
  "alert_debounce_seconds": 15
}`), 0o644))

	store.reload()

	assert.Equal(t, []string{KeyRefreshInterval}, changed)
	assert.Equal(t, 500, store.Snapshot().RefreshInterval)
	assert.Equal(t, 15, store.Snapshot().AutoSwitchThreshold, "rejected value keeps the current one")

	values, _, err := store.read()
	require.NoError(t, err)
	assert.InDelta(t, 15, values[KeyAutoSwitchThreshold], 1e-9, "rejected value is reverted on disk")
}

// gatedFs holds the first Open of path until release is closed.
type gatedFs struct {
	afero.Fs
	path    string
	once    sync.Once
	armed   chan struct{}
	entered chan struct{}
	release chan struct{}
}

func (g *gatedFs) Open(name string) (afero.File, error) {
	if name == g.path {
		select {
		case <-g.armed:
			g.once.Do(func() {
				close(g.entered)
				<-g.release
			})
		default:
		}
	}
	return g.Fs.Open(name)
}

func TestSetDuringReloadIsKept(t *testing.T) {
	fs := &gatedFs{
		Fs:      afero.NewMemMapFs(),
		path:    "/cfg/settings.json",
		armed:   make(chan struct{}),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	store, err := NewStore(fs, "/cfg/settings.json")
	require.NoError(t, err)

	var mu sync.Mutex
	var seen []any
	store.OnChange(KeyRefreshInterval, func(_ string, value any) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, value)
	})

	close(fs.armed)
	reloaded := make(chan struct{})
	go func() {
		defer close(reloaded)
		store.reload()
	}()
	<-fs.entered

	set := make(chan error, 1)
	go func() { set <- store.Set(KeyRefreshInterval, 500) }()

	// Give Set the chance to run ahead of the blocked reload.
	time.Sleep(50 * time.Millisecond)
	close(fs.release)

	require.NoError(t, <-set)
	<-reloaded

	assert.Equal(t, 500, store.Snapshot().RefreshInterval)

	values, _, err := store.read()
	require.NoError(t, err)
	assert.InDelta(t, 500, values[KeyRefreshInterval], 1e-9)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []any{500}, seen, "reload must not fire with the older value")
}
