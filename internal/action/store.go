package action

import (
	"bytes"
	"encoding/json"
	"path/filepath"

	"codeberg.org/mutker/cpufreqctl/internal/errors"
	"github.com/spf13/afero"
)

const fileVersion = 1

// Store persists the full list of trigger actions.
type Store interface {
	Load() ([]TriggerAction, error)
	Save(actions []TriggerAction) error
}

type fileFormat struct {
	Version int             `json:"version"`
	Actions []TriggerAction `json:"actions"`
}

// FileStore keeps actions in a versioned JSON document.
type FileStore struct {
	fs   afero.Fs
	path string
}

func NewFileStore(fs afero.Fs, path string) *FileStore {
	return &FileStore{fs: fs, path: path}
}

// Load reads the actions file. A missing file is an empty list; a legacy
// flat array is converted and written back in the current format.
func (s *FileStore) Load() ([]TriggerAction, error) {
	errFactory := errors.New()

	exists, err := afero.Exists(s.fs, s.path)
	if err != nil {
		return nil, errFactory.Wrap(ErrLoad, err).WithData(s.path)
	}
	if !exists {
		return []TriggerAction{}, nil
	}

	data, err := afero.ReadFile(s.fs, s.path)
	if err != nil {
		return nil, errFactory.Wrap(ErrLoad, err).WithData(s.path)
	}

	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return []TriggerAction{}, nil
	}

	if data[0] == '[' {
		var legacy []legacyAction
		if err := json.Unmarshal(data, &legacy); err != nil {
			return nil, errFactory.Wrap(ErrLoad, err).WithData(s.path)
		}

		actions := make([]TriggerAction, 0, len(legacy))
		for _, l := range legacy {
			actions = append(actions, l.migrate())
		}

		if err := s.Save(actions); err != nil {
			return nil, err
		}
		return actions, nil
	}

	var doc fileFormat
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errFactory.Wrap(ErrLoad, err).WithData(s.path)
	}
	if doc.Version > fileVersion {
		return nil, errFactory.WithData(ErrUnsupportedVersion, doc.Version)
	}
	if doc.Actions == nil {
		doc.Actions = []TriggerAction{}
	}

	return doc.Actions, nil
}

// Save replaces the file atomically.
func (s *FileStore) Save(actions []TriggerAction) error {
	errFactory := errors.New()

	if actions == nil {
		actions = []TriggerAction{}
	}

	data, err := json.MarshalIndent(fileFormat{Version: fileVersion, Actions: actions}, "", "  ")
	if err != nil {
		return errFactory.Wrap(ErrSave, err)
	}

	dir := filepath.Dir(s.path)
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return errFactory.Wrap(ErrSave, err).WithData(dir)
	}

	tmp, err := afero.TempFile(s.fs, dir, "."+filepath.Base(s.path)+"-*")
	if err != nil {
		return errFactory.Wrap(ErrSave, err).WithData(dir)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		_ = s.fs.Remove(tmp.Name())
		return errFactory.Wrap(ErrSave, err).WithData(tmp.Name())
	}
	if err := tmp.Close(); err != nil {
		_ = s.fs.Remove(tmp.Name())
		return errFactory.Wrap(ErrSave, err).WithData(tmp.Name())
	}

	if err := s.fs.Rename(tmp.Name(), s.path); err != nil {
		_ = s.fs.Remove(tmp.Name())
		return errFactory.Wrap(ErrSave, err).WithData(s.path)
	}

	return nil
}
