package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oddyssey/stream/internal/event"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	s := NewMemoryStore()

	keys, err := s.Load(event.KindBetPlaced)
	require.NoError(t, err)
	assert.Empty(t, keys)

	require.NoError(t, s.Save(event.KindBetPlaced, []string{"a", "b"}))

	keys, err = s.Load(event.KindBetPlaced)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, keys)

	// Kinds are isolated.
	keys, err = s.Load(event.KindPoolCreated)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestFileStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()

	s, err := NewFileStore(dir)
	require.NoError(t, err)

	require.NoError(t, s.Save(event.KindCycleResolved, []string{"7|100", "8|101"}))

	// A fresh store over the same directory sees the saved set.
	s2, err := NewFileStore(dir)
	require.NoError(t, err)
	keys, err := s2.Load(event.KindCycleResolved)
	require.NoError(t, err)
	assert.Equal(t, []string{"7|100", "8|101"}, keys)
}

func TestFileStoreNaming(t *testing.T) {
	dir := t.TempDir()

	s, err := NewFileStore(dir)
	require.NoError(t, err)
	require.NoError(t, s.Save(event.KindBetPlaced, []string{"x"}))

	_, err = os.Stat(filepath.Join(dir, "seen_events_bet:placed.json"))
	assert.NoError(t, err)
}

func TestFileStoreCorruptFile(t *testing.T) {
	dir := t.TempDir()

	s, err := NewFileStore(dir)
	require.NoError(t, err)

	path := filepath.Join(dir, "seen_events_bet:placed.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	// Corrupt state starts fresh instead of failing.
	keys, err := s.Load(event.KindBetPlaced)
	require.NoError(t, err)
	assert.Empty(t, keys)
}
