package device

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// SavedDevice identifies a default device that was replaced by the
// virtual device.
type SavedDevice struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name,omitempty"`
}

// SavedDefaults holds the original default devices to restore on teardown.
type SavedDefaults struct {
	Input  *SavedDevice `yaml:"input,omitempty"`
	Output *SavedDevice `yaml:"output,omitempty"`
}

// Empty reports whether nothing is saved.
func (s SavedDefaults) Empty() bool { return s.Input == nil && s.Output == nil }

// DefaultsStore keeps SavedDefaults between runs, so a later process can
// restore what an earlier one replaced.
type DefaultsStore interface {
	Load() (SavedDefaults, error)
	Save(SavedDefaults) error
}

// MemoryStore keeps the saved defaults for the life of the process.
type MemoryStore struct {
	mu    sync.Mutex
	saved SavedDefaults
}

func (m *MemoryStore) Load() (SavedDefaults, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saved, nil
}

func (m *MemoryStore) Save(s SavedDefaults) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = s
	return nil
}

// FileStore keeps the saved defaults in a YAML file. The file is removed
// once nothing is left to restore.
type FileStore struct {
	Path string
}

// NewFileStore returns a store backed by path.
func NewFileStore(path string) *FileStore {
	return &FileStore{Path: path}
}

// DefaultStatePath returns <user config dir>/micbridge/defaults.yaml.
func DefaultStatePath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "micbridge", "defaults.yaml"), nil
}

func (f *FileStore) Load() (SavedDefaults, error) {
	var s SavedDefaults
	data, err := os.ReadFile(f.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return s, fmt.Errorf("read saved defaults: %w", err)
	}
	if err := yaml.Unmarshal(data, &s); err != nil {
		return SavedDefaults{}, fmt.Errorf("parse saved defaults %s: %w", f.Path, err)
	}
	return s, nil
}

func (f *FileStore) Save(s SavedDefaults) error {
	if s.Empty() {
		if err := os.Remove(f.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove saved defaults: %w", err)
		}
		return nil
	}
	data, err := yaml.Marshal(s)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(f.Path), 0o755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}
	if err := os.WriteFile(f.Path, data, 0o600); err != nil {
		return fmt.Errorf("write saved defaults: %w", err)
	}
	return nil
}

func storeOf(deps Dependencies) DefaultsStore {
	if deps.Store != nil {
		return deps.Store
	}
	return &MemoryStore{}
}

// loadSaved reads the store, logging and ignoring a broken file.
func loadSaved(store DefaultsStore) SavedDefaults {
	s, err := store.Load()
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "loadSaved",
			"error":    err.Error(),
		}).Warn("Ignoring saved default devices")
		return SavedDefaults{}
	}
	return s
}

// persistSaved writes s, logging failures. Routing already happened, so
// a lost record only costs the later restore.
func persistSaved(store DefaultsStore, s SavedDefaults) {
	if err := store.Save(s); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "persistSaved",
			"error":    err.Error(),
		}).Warn("Saving the original default devices failed")
	}
}
