package upload

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/dronehq/chunkup/internal/utils"
)

const chunkFilePattern = "chunk_%08d"

var ErrAreaNotFound = errors.New("staging area not found")

// ChunkStore persists chunk payloads in a per-upload staging directory under root.
type ChunkStore struct {
	root string
}

func NewChunkStore(root string) (*ChunkStore, error) {
	if root == "" {
		return nil, errors.New("chunk store root is required")
	}
	root, err := utils.ResolvePath(root)
	if err != nil {
		return nil, fmt.Errorf("resolve chunk store root: %w", err)
	}
	if err := utils.EnsureDir(root); err != nil {
		return nil, fmt.Errorf("create chunk store root: %w", err)
	}
	return &ChunkStore{root: root}, nil
}

func (s *ChunkStore) Root() string {
	return s.root
}

// AreaPath returns the staging directory of uploadID. It does not check existence.
func (s *ChunkStore) AreaPath(uploadID string) string {
	return filepath.Join(s.root, filepath.Base(uploadID))
}

func (s *ChunkStore) ChunkPath(uploadID string, index int) string {
	return filepath.Join(s.AreaPath(uploadID), fmt.Sprintf(chunkFilePattern, index))
}

// CreateArea creates the staging directory for uploadID.
func (s *ChunkStore) CreateArea(uploadID string) (string, error) {
	dir := s.AreaPath(uploadID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create staging area: %w", err)
	}
	return dir, nil
}

// StagedChunk is a fully written chunk payload that is not yet visible under its
// chunk name. Exactly one of Commit or Discard should be called.
type StagedChunk struct {
	store    *ChunkStore
	uploadID string
	index    int
	path     string
	Size     int64
}

// StageChunk writes r to a private temp file inside the staging area of uploadID.
func (s *ChunkStore) StageChunk(uploadID string, index int, r io.Reader) (*StagedChunk, error) {
	dir := s.AreaPath(uploadID)
	if !utils.DirExists(dir) {
		return nil, ErrAreaNotFound
	}

	tmp, err := os.CreateTemp(dir, ".incoming-*")
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrAreaNotFound
		}
		return nil, fmt.Errorf("create chunk temp file: %w", err)
	}
	tmpName := tmp.Name()

	n, err := io.Copy(tmp, r)
	if err == nil {
		err = tmp.Sync()
	}
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmpName)
		return nil, fmt.Errorf("write chunk %d: %w", index, err)
	}
	return &StagedChunk{store: s, uploadID: uploadID, index: index, path: tmpName, Size: n}, nil
}

// Commit renames the staged payload onto the chunk file. An existing chunk file is replaced.
func (c *StagedChunk) Commit() error {
	if err := os.Rename(c.path, c.store.ChunkPath(c.uploadID, c.index)); err != nil {
		os.Remove(c.path)
		if errors.Is(err, os.ErrNotExist) {
			return ErrAreaNotFound
		}
		return fmt.Errorf("commit chunk %d: %w", c.index, err)
	}
	return nil
}

// Discard drops the staged payload. Discarding after the area was removed is not an error.
func (c *StagedChunk) Discard() error {
	if err := os.Remove(c.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("discard chunk %d: %w", c.index, err)
	}
	return nil
}

// WriteChunk stages r and commits it in one step. Last write wins.
func (s *ChunkStore) WriteChunk(uploadID string, index int, r io.Reader) (int64, error) {
	staged, err := s.StageChunk(uploadID, index, r)
	if err != nil {
		return 0, err
	}
	if err := staged.Commit(); err != nil {
		return 0, err
	}
	return staged.Size, nil
}

func (s *ChunkStore) OpenChunk(uploadID string, index int) (*os.File, error) {
	return os.Open(s.ChunkPath(uploadID, index))
}

// StatChunk returns the stored size of chunk index.
func (s *ChunkStore) StatChunk(uploadID string, index int) (int64, error) {
	info, err := os.Stat(s.ChunkPath(uploadID, index))
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// RemoveArea deletes the staging directory and everything in it. Removing a missing area is not an error.
func (s *ChunkStore) RemoveArea(uploadID string) error {
	if err := os.RemoveAll(s.AreaPath(uploadID)); err != nil {
		return fmt.Errorf("remove staging area: %w", err)
	}
	return nil
}
