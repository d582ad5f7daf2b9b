package upload

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkStore_WriteAndRead(t *testing.T) {
	store, err := NewChunkStore(filepath.Join(t.TempDir(), "staging"))
	require.NoError(t, err)

	dir, err := store.CreateArea("u1")
	require.NoError(t, err)
	assert.DirExists(t, dir)
	assert.Equal(t, store.AreaPath("u1"), dir)

	n, err := store.WriteChunk("u1", 3, bytes.NewReader([]byte("hello")))
	require.NoError(t, err)
	assert.EqualValues(t, 5, n)

	size, err := store.StatChunk("u1", 3)
	require.NoError(t, err)
	assert.EqualValues(t, 5, size)

	f, err := store.OpenChunk("u1", 3)
	require.NoError(t, err)
	defer f.Close()
	data, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	assert.Equal(t, filepath.Join(dir, "chunk_00000003"), store.ChunkPath("u1", 3))
}

func TestChunkStore_LastWriteWins(t *testing.T) {
	store, err := NewChunkStore(t.TempDir())
	require.NoError(t, err)
	_, err = store.CreateArea("u1")
	require.NoError(t, err)

	_, err = store.WriteChunk("u1", 0, bytes.NewReader([]byte("first")))
	require.NoError(t, err)
	_, err = store.WriteChunk("u1", 0, bytes.NewReader([]byte("second")))
	require.NoError(t, err)

	data, err := os.ReadFile(store.ChunkPath("u1", 0))
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))

	// no temp files left behind
	entries, err := os.ReadDir(store.AreaPath("u1"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestChunkStore_StageCommitDiscard(t *testing.T) {
	store, err := NewChunkStore(t.TempDir())
	require.NoError(t, err)
	_, err = store.CreateArea("u1")
	require.NoError(t, err)

	kept, err := store.StageChunk("u1", 0, bytes.NewReader([]byte("kept")))
	require.NoError(t, err)
	dropped, err := store.StageChunk("u1", 0, bytes.NewReader([]byte("drop")))
	require.NoError(t, err)
	assert.EqualValues(t, 4, kept.Size)

	// staged payloads are invisible until committed
	assert.NoFileExists(t, store.ChunkPath("u1", 0))

	require.NoError(t, kept.Commit())
	require.NoError(t, dropped.Discard())

	data, err := os.ReadFile(store.ChunkPath("u1", 0))
	require.NoError(t, err)
	assert.Equal(t, "kept", string(data))
	entries, err := os.ReadDir(store.AreaPath("u1"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	// commit into a removed area
	late, err := store.StageChunk("u1", 1, bytes.NewReader([]byte("late")))
	require.NoError(t, err)
	require.NoError(t, store.RemoveArea("u1"))
	assert.ErrorIs(t, late.Commit(), ErrAreaNotFound)
	assert.NoError(t, late.Discard())
}

func TestChunkStore_WriteWithoutArea(t *testing.T) {
	store, err := NewChunkStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.WriteChunk("missing", 0, bytes.NewReader([]byte("x")))
	assert.ErrorIs(t, err, ErrAreaNotFound)
}

func TestChunkStore_RemoveAreaIdempotent(t *testing.T) {
	store, err := NewChunkStore(t.TempDir())
	require.NoError(t, err)
	_, err = store.CreateArea("u1")
	require.NoError(t, err)
	_, err = store.WriteChunk("u1", 0, bytes.NewReader([]byte("x")))
	require.NoError(t, err)

	require.NoError(t, store.RemoveArea("u1"))
	assert.NoDirExists(t, store.AreaPath("u1"))
	require.NoError(t, store.RemoveArea("u1"))
}

func TestChunkStore_AreaPathStaysUnderRoot(t *testing.T) {
	store, err := NewChunkStore(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, store.Root(), filepath.Dir(store.AreaPath("../../etc")))
}

func TestNewChunkStore_RequiresRoot(t *testing.T) {
	_, err := NewChunkStore("")
	assert.Error(t, err)
}
