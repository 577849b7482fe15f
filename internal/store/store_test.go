package store

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingBackend is an in-memory Backend that records writes
type countingBackend struct {
	values  map[string]string
	sets    int
	removes int
	failSet bool
	failGet bool
}

func newCountingBackend() *countingBackend {
	return &countingBackend{values: map[string]string{}}
}

func (b *countingBackend) Get(key string) (string, bool, error) {
	if b.failGet {
		return "", false, errors.New("disk gone")
	}
	v, ok := b.values[key]
	return v, ok, nil
}

func (b *countingBackend) Set(key, value string) error {
	if b.failSet {
		return errors.New("read-only filesystem")
	}
	b.sets++
	b.values[key] = value
	return nil
}

func (b *countingBackend) Remove(key string) error {
	b.removes++
	delete(b.values, key)
	return nil
}

func TestFileBackendPersistsAcrossInstances(t *testing.T) {
	path := filepath.Join(t.TempDir(), "miclock", "selection.json")

	first := NewFileBackend(path)
	_, ok, err := first.Get(SelectedDeviceKey)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, first.Set(SelectedDeviceKey, "BuiltInMicrophoneDevice"))
	require.NoError(t, first.Set("other", "kept"))

	second := NewFileBackend(path)
	v, ok, err := second.Get(SelectedDeviceKey)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "BuiltInMicrophoneDevice", v)

	require.NoError(t, second.Remove(SelectedDeviceKey))
	require.NoError(t, second.Remove(SelectedDeviceKey), "removing a missing key is fine")

	_, ok, err = first.Get(SelectedDeviceKey)
	require.NoError(t, err)
	assert.False(t, ok)

	v, _, err = first.Get("other")
	require.NoError(t, err)
	assert.Equal(t, "kept", v)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

func TestFileBackendCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "selection.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	sel := NewSelection(NewFileBackend(path))
	_, _, err := sel.Load()
	assert.ErrorIs(t, err, ErrPersistence)
}

func TestSelectionLoadSaveClear(t *testing.T) {
	backend := newCountingBackend()
	sel := NewSelection(backend)

	_, ok, err := sel.Load()
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, sel.Save("B"))
	id, ok, err := sel.Load()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "B", id)
	assert.Equal(t, "B", backend.values[SelectedDeviceKey])

	require.NoError(t, sel.Clear())
	_, ok, err = sel.Load()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSelectionSaveIsIdempotent(t *testing.T) {
	backend := newCountingBackend()
	sel := NewSelection(backend)

	require.NoError(t, sel.Save("A"))
	require.NoError(t, sel.Save("A"))
	require.NoError(t, sel.Save("A"))
	assert.Equal(t, 1, backend.sets)

	require.NoError(t, sel.Save("B"))
	assert.Equal(t, 2, backend.sets)
}

func TestSelectionErrorsWrapPersistence(t *testing.T) {
	backend := newCountingBackend()
	backend.failSet = true
	sel := NewSelection(backend)

	assert.ErrorIs(t, sel.Save("A"), ErrPersistence)

	backend.failGet = true
	_, _, err := sel.Load()
	assert.ErrorIs(t, err, ErrPersistence)
}

func TestSelectionEmptyValueMeansNone(t *testing.T) {
	backend := newCountingBackend()
	backend.values[SelectedDeviceKey] = ""

	_, ok, err := NewSelection(backend).Load()
	require.NoError(t, err)
	assert.False(t, ok)
}
