package upload

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAssembler(t *testing.T) (*ChunkStore, *Assembler) {
	t.Helper()
	root := t.TempDir()
	store, err := NewChunkStore(filepath.Join(root, "staging"))
	require.NoError(t, err)
	asm, err := NewAssembler(store, filepath.Join(root, "final"))
	require.NoError(t, err)
	return store, asm
}

// stageChunks splits data into chunkSize pieces, writes them to the store and returns their rows.
func stageChunks(t *testing.T, store *ChunkStore, s *Session, data []byte) []*Chunk {
	t.Helper()
	_, err := store.CreateArea(s.UploadID)
	require.NoError(t, err)

	var chunks []*Chunk
	for i := 0; i < s.TotalChunks; i++ {
		start := int64(i) * s.ChunkSize
		end := min(start+s.ChunkSize, int64(len(data)))
		n, err := store.WriteChunk(s.UploadID, i, bytes.NewReader(data[start:end]))
		require.NoError(t, err)
		chunks = append(chunks, &Chunk{SessionID: s.ID, ChunkIndex: i, Size: n})
	}
	return chunks
}

func testSession(uploadID, fileName string, size, chunkSize int64) *Session {
	return &Session{
		ID:          "sid-" + uploadID,
		UploadID:    uploadID,
		FileName:    fileName,
		FileSize:    size,
		ChunkSize:   chunkSize,
		TotalChunks: int((size + chunkSize - 1) / chunkSize),
	}
}

func TestAssembler_AssemblesInIndexOrder(t *testing.T) {
	store, asm := newTestAssembler(t)
	data := bytes.Repeat([]byte("0123456789"), 25) // 250 bytes
	s := testSession("u1", "survey.las", int64(len(data)), 64)

	chunks := stageChunks(t, store, s, data)
	// rows arrive in any order
	chunks[0], chunks[3] = chunks[3], chunks[0]

	path, err := asm.Assemble(context.Background(), s, chunks)
	require.NoError(t, err)
	assert.Equal(t, asm.FinalPath(s), path)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, data, got)
	assert.NoFileExists(t, path+partialSuffix)

	// staging is the coordinator's to remove
	assert.DirExists(t, store.AreaPath("u1"))
}

func TestAssembler_MissingChunkFile(t *testing.T) {
	store, asm := newTestAssembler(t)
	data := bytes.Repeat([]byte("x"), 100)
	s := testSession("u2", "a.bin", 100, 40)

	chunks := stageChunks(t, store, s, data)
	require.NoError(t, os.Remove(store.ChunkPath("u2", 1)))

	_, err := asm.Assemble(context.Background(), s, chunks)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chunk 1")
	assert.NoFileExists(t, asm.FinalPath(s))
	assert.NoFileExists(t, asm.FinalPath(s)+partialSuffix)
	assert.FileExists(t, store.ChunkPath("u2", 0))
}

func TestAssembler_MissingRow(t *testing.T) {
	store, asm := newTestAssembler(t)
	s := testSession("u3", "a.bin", 100, 40)
	chunks := stageChunks(t, store, s, bytes.Repeat([]byte("y"), 100))

	_, err := asm.Assemble(context.Background(), s, chunks[:2])
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chunk 2 has no record")
}

func TestAssembler_SizeMismatch(t *testing.T) {
	store, asm := newTestAssembler(t)
	s := testSession("u4", "a.bin", 100, 40)
	chunks := stageChunks(t, store, s, bytes.Repeat([]byte("z"), 100))

	// truncate a staged chunk behind the row's back
	require.NoError(t, os.WriteFile(store.ChunkPath("u4", 0), []byte("short"), 0o644))

	_, err := asm.Assemble(context.Background(), s, chunks)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "on disk")
}

func TestAssembler_ContextCancelled(t *testing.T) {
	store, asm := newTestAssembler(t)
	s := testSession("u5", "a.bin", 100, 40)
	chunks := stageChunks(t, store, s, bytes.Repeat([]byte("z"), 100))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := asm.Assemble(ctx, s, chunks)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAssembler_LockArea(t *testing.T) {
	store, asm := newTestAssembler(t)
	_, err := store.CreateArea("u6")
	require.NoError(t, err)

	unlock, err := asm.LockArea(context.Background(), "u6")
	require.NoError(t, err)

	// a second holder waits until the first releases
	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	_, err = asm.LockArea(ctx, "u6")
	require.Error(t, err)

	unlock()
	unlock2, err := asm.LockArea(context.Background(), "u6")
	require.NoError(t, err)
	unlock2()

	// missing areas have nothing to lock
	noop, err := asm.LockArea(context.Background(), "nope")
	require.NoError(t, err)
	noop()
}

func TestSanitizeFileName(t *testing.T) {
	tests := map[string]string{
		"ortho.tif":          "ortho.tif",
		"../../etc/passwd":   "passwd",
		`..\..\boot.ini`:     "boot.ini",
		"nested/dir/map.png": "map.png",
		"..":                 "artifact",
		"/":                  "artifact",
	}
	for in, want := range tests {
		assert.Equal(t, want, sanitizeFileName(in), in)
	}
}
