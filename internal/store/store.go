// Package store persists the selected input device across restarts.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// ErrPersistence wraps every failure to read or write the backing store.
var ErrPersistence = errors.New("selection store failure")

// SelectedDeviceKey is the single key the selection lives under.
const SelectedDeviceKey = "SelectedMicID"

// Backend is a durable string key/value store.
type Backend interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
	Remove(key string) error
}

// FileBackend keeps all keys in one JSON object on disk. Writes go through a
// temp file and rename, so a value is durable once Set returns.
type FileBackend struct {
	path string

	mu sync.Mutex
}

func NewFileBackend(path string) *FileBackend {
	return &FileBackend{path: path}
}

func (f *FileBackend) Path() string {
	return f.path
}

func (f *FileBackend) read() (map[string]string, error) {
	values := map[string]string{}
	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return values, nil
	}
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return values, nil
	}
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("parse %s: %w", f.path, err)
	}
	return values, nil
}

func (f *FileBackend) write(values map[string]string) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(values, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), filepath.Base(f.path)+".tmp*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), f.path)
}

func (f *FileBackend) Get(key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	values, err := f.read()
	if err != nil {
		return "", false, err
	}
	v, ok := values[key]
	return v, ok, nil
}

func (f *FileBackend) Set(key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	values, err := f.read()
	if err != nil {
		return err
	}
	values[key] = value
	return f.write(values)
}

func (f *FileBackend) Remove(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	values, err := f.read()
	if err != nil {
		return err
	}
	if _, ok := values[key]; !ok {
		return nil
	}
	delete(values, key)
	return f.write(values)
}

// Selection stores the chosen device id under SelectedDeviceKey.
type Selection struct {
	backend Backend
}

func NewSelection(backend Backend) *Selection {
	return &Selection{backend: backend}
}

// Load returns the persisted device id, if any.
func (s *Selection) Load() (string, bool, error) {
	id, ok, err := s.backend.Get(SelectedDeviceKey)
	if err != nil {
		return "", false, fmt.Errorf("%w: load: %v", ErrPersistence, err)
	}
	if !ok || id == "" {
		return "", false, nil
	}
	return id, true, nil
}

// Save persists id. Saving the value already stored does not write.
func (s *Selection) Save(id string) error {
	if cur, ok, err := s.backend.Get(SelectedDeviceKey); err == nil && ok && cur == id {
		return nil
	}
	if err := s.backend.Set(SelectedDeviceKey, id); err != nil {
		return fmt.Errorf("%w: save: %v", ErrPersistence, err)
	}
	return nil
}

// Clear removes the persisted selection.
func (s *Selection) Clear() error {
	if err := s.backend.Remove(SelectedDeviceKey); err != nil {
		return fmt.Errorf("%w: clear: %v", ErrPersistence, err)
	}
	return nil
}
