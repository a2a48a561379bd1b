package config

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"codeberg.org/mutker/cpufreqctl/internal/errors"
	"codeberg.org/mutker/cpufreqctl/internal/logger"
	"codeberg.org/mutker/cpufreqctl/internal/sampler"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/afero"
	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

// Hook is called after a setting has been persisted with a new value.
type Hook func(key string, value any)

// Validator may reject a coerced value before it is persisted.
type Validator func(value any) error

// Store is the runtime settings surface. Every Set persists before it
// returns and then runs the hooks registered for the key.
type Store struct {
	fs   afero.Fs
	path string
	log  logger.Logger

	// writeMu serializes persistence so file order matches Set order.
	writeMu sync.Mutex

	mu         sync.RWMutex
	values     map[string]any
	extra      map[string]any
	hooks      map[string][]Hook
	anyHooks   []Hook
	validators map[string][]Validator

	watching atomic.Bool
}

// NewStore loads the settings file at path, repairing it as needed. Content
// problems never fail; only an unusable path does.
func NewStore(fs afero.Fs, path string) (*Store, error) {
	s := &Store{
		fs:         fs,
		path:       path,
		log:        logger.With("settings"),
		values:     Defaults(),
		extra:      make(map[string]any),
		hooks:      make(map[string][]Hook),
		validators: make(map[string][]Validator),
	}

	if err := fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.New().Wrap(errors.ErrWriteConfig, err).WithData(path)
	}

	if err := s.load(); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *Store) Path() string {
	return s.path
}

func (s *Store) load() error {
	raw, found, err := s.read()
	dirty := false

	switch {
	case err != nil:
		backup := s.path + ".bak"
		s.log.Warn().Err(err).Str("backup", backup).Msg("Settings file is malformed, replacing with defaults")
		if rerr := s.fs.Rename(s.path, backup); rerr != nil {
			s.log.Warn().Err(rerr).Msg("Failed to back up malformed settings file")
		}
		dirty = true
	case !found:
		dirty = true
	}

	for key, value := range raw {
		if _, known := keySpecs[key]; !known {
			s.extra[key] = value
			continue
		}

		normalized, nerr := Normalize(key, value)
		if nerr != nil {
			s.log.Warn().Str("key", key).Interface("value", value).Msg("Invalid setting reset to default")
			dirty = true
			continue
		}
		if fmt.Sprint(normalized) != fmt.Sprint(value) {
			dirty = true
		}
		s.values[key] = normalized
	}

	for key := range keySpecs {
		if _, ok := raw[key]; !ok {
			dirty = true
		}
	}

	if !dirty {
		return nil
	}

	return s.persist(s.values)
}

// read returns the raw top-level settings of the file. found is false when
// the file does not exist.
func (s *Store) read() (values map[string]any, found bool, err error) {
	exists, err := afero.Exists(s.fs, s.path)
	if err != nil || !exists {
		return nil, false, nil
	}

	data, err := afero.ReadFile(s.fs, s.path)
	if err != nil {
		return nil, true, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, true, errors.New().WithData(errors.ErrReadConfig, "empty settings file")
	}

	v := viper.New()
	v.SetConfigType("json")
	if err := v.ReadConfig(strings.NewReader(string(data))); err != nil {
		return nil, true, err
	}

	return v.AllSettings(), true, nil
}

// persist writes values plus any keys this store does not own to a temporary
// file and renames it over the settings file.
func (s *Store) persist(values map[string]any) error {
	w := viper.New()
	w.SetFs(s.fs)
	for k, v := range s.extra {
		w.Set(k, v)
	}
	for k, v := range values {
		w.Set(k, v)
	}

	dir, base := filepath.Split(s.path)
	tmp := filepath.Join(dir, "."+strings.TrimSuffix(base, filepath.Ext(base))+".tmp.json")

	if err := w.WriteConfigAs(tmp); err != nil {
		return errors.New().Wrap(errors.ErrWriteConfig, err).WithData(s.path)
	}
	if err := s.fs.Rename(tmp, s.path); err != nil {
		_ = s.fs.Remove(tmp)
		return errors.New().Wrap(errors.ErrWriteConfig, err).WithData(s.path)
	}

	return nil
}

// Get returns the current value of key.
func (s *Store) Get(key string) (any, error) {
	if _, ok := keySpecs[key]; !ok {
		return nil, errors.New().WithData(errors.ErrUnknownSetting, key)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.values[key], nil
}

// Set coerces, validates and persists value, then runs the hooks for key.
// Setting a key to its current value is a no-op.
func (s *Store) Set(key string, value any) error {
	normalized, err := Normalize(key, value)
	if err != nil {
		return err
	}

	s.writeMu.Lock()

	s.mu.RLock()
	old := s.values[key]
	validators := append([]Validator(nil), s.validators[key]...)
	s.mu.RUnlock()

	if old == normalized {
		s.writeMu.Unlock()
		return nil
	}

	for _, validate := range validators {
		if err := validate(normalized); err != nil {
			s.writeMu.Unlock()
			return err
		}
	}

	next := s.copyValues()
	next[key] = normalized
	if err := s.persist(next); err != nil {
		s.writeMu.Unlock()
		return err
	}

	s.mu.Lock()
	s.values = next
	hooks := s.hooksFor(key)
	s.mu.Unlock()
	s.writeMu.Unlock()

	s.log.Debug().Str("key", key).Interface("value", normalized).Msg("Setting changed")

	for _, hook := range hooks {
		hook(key, normalized)
	}

	return nil
}

// OnChange registers hook for key.
func (s *Store) OnChange(key string, hook Hook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks[key] = append(s.hooks[key], hook)
}

// OnAnyChange registers hook for every key. It runs after the per-key hooks.
func (s *Store) OnAnyChange(hook Hook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.anyHooks = append(s.anyHooks, hook)
}

// AddValidator registers a precondition for key. Validators run with the
// store's write lock held and must not call Set.
func (s *Store) AddValidator(key string, fn Validator) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.validators[key] = append(s.validators[key], fn)
}

// caller must hold mu
func (s *Store) hooksFor(key string) []Hook {
	hooks := make([]Hook, 0, len(s.hooks[key])+len(s.anyHooks))
	hooks = append(hooks, s.hooks[key]...)
	return append(hooks, s.anyHooks...)
}

func (s *Store) copyValues() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]any, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

// Snapshot returns a typed copy of all settings.
func (s *Store) Snapshot() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Settings{
		RefreshInterval:           cast.ToInt(s.values[KeyRefreshInterval]),
		FrequencyThreshold:        cast.ToFloat64(s.values[KeyFrequencyThreshold]),
		FrequencyMode:             sampler.Mode(cast.ToString(s.values[KeyFrequencyMode])),
		AutoSwitchEnabled:         cast.ToBool(s.values[KeyAutoSwitchEnabled]),
		AutoSwitchThreshold:       cast.ToInt(s.values[KeyAutoSwitchThreshold]),
		TriggerActionEnabled:      cast.ToBool(s.values[KeyTriggerActionEnabled]),
		FrequencyDetectionEnabled: cast.ToBool(s.values[KeyFrequencyDetectionEnabled]),
		AlertDebounceSeconds:      cast.ToInt(s.values[KeyAlertDebounceSeconds]),
	}
}

func (s *Store) RefreshInterval() time.Duration { return s.Snapshot().Interval() }
func (s *Store) FrequencyThreshold() float64    { return s.Snapshot().FrequencyThreshold }
func (s *Store) FrequencyMode() sampler.Mode    { return s.Snapshot().FrequencyMode }
func (s *Store) AutoSwitchEnabled() bool        { return s.Snapshot().AutoSwitchEnabled }
func (s *Store) AutoSwitchThreshold() int       { return s.Snapshot().AutoSwitchThreshold }
func (s *Store) TriggerActionEnabled() bool     { return s.Snapshot().TriggerActionEnabled }
func (s *Store) SamplingEnabled() bool          { return s.Snapshot().FrequencyDetectionEnabled }
func (s *Store) AlertDebounce() time.Duration   { return s.Snapshot().AlertDebounce() }

// Watch applies external edits of the settings file until ctx is done.
// It needs a real filesystem path.
func (s *Store) Watch(ctx context.Context) error {
	if !s.watching.CompareAndSwap(false, true) {
		return nil
	}

	v := viper.New()
	v.SetConfigFile(s.path)
	v.SetConfigType("json")
	if err := v.ReadInConfig(); err != nil {
		s.watching.Store(false)
		return errors.New().Wrap(errors.ErrReadConfig, err).WithData(s.path)
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if ctx.Err() != nil {
			return
		}
		if e.Op&(fsnotify.Write|fsnotify.Create) == 0 {
			return
		}
		s.reload()
	})
	v.WatchConfig()

	go func() {
		<-ctx.Done()
		s.watching.Store(false)
	}()

	s.log.Info().Str("path", s.path).Msg("Watching settings file")

	return nil
}

// reload re-reads the file and applies every changed key. Values that fail
// coercion or validation are reverted in the file. The read happens under
// writeMu so a concurrent Set is either fully on disk or not started.
func (s *Store) reload() {
	s.writeMu.Lock()

	raw, found, err := s.read()
	if err != nil || !found {
		s.writeMu.Unlock()
		s.log.Warn().Err(err).Msg("Ignoring unreadable settings file change")
		return
	}

	next := s.copyValues()
	changed := make([]string, 0)
	rejected := false

	s.mu.RLock()
	for key, value := range raw {
		if _, known := keySpecs[key]; !known {
			continue
		}

		normalized, nerr := Normalize(key, value)
		if nerr == nil {
			for _, validate := range s.validators[key] {
				if nerr = validate(normalized); nerr != nil {
					break
				}
			}
		}
		if nerr != nil {
			s.log.Warn().Err(nerr).Str("key", key).Msg("Rejected external setting change")
			rejected = true
			continue
		}

		if next[key] != normalized {
			next[key] = normalized
			changed = append(changed, key)
		}
	}
	s.mu.RUnlock()

	if rejected {
		if err := s.persist(next); err != nil {
			s.log.Warn().Err(err).Msg("Failed to rewrite settings file")
		}
	}

	type firing struct {
		key   string
		value any
		hooks []Hook
	}

	s.mu.Lock()
	s.values = next
	firings := make([]firing, 0, len(changed))
	for _, key := range changed {
		firings = append(firings, firing{key: key, value: next[key], hooks: s.hooksFor(key)})
	}
	s.mu.Unlock()
	s.writeMu.Unlock()

	for _, f := range firings {
		s.log.Info().Str("key", f.key).Interface("value", f.value).Msg("Setting changed externally")
		for _, hook := range f.hooks {
			hook(f.key, f.value)
		}
	}
}
