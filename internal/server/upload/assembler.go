package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gofrs/flock"

	"github.com/dronehq/chunkup/internal/utils"
)

const (
	lockFileName     = ".assemble.lock"
	partialSuffix    = ".partial"
	lockPollInterval = 50 * time.Millisecond
)

// Assembler concatenates the chunks of a session into its final artifact.
type Assembler struct {
	store     *ChunkStore
	finalRoot string
}

func NewAssembler(store *ChunkStore, finalRoot string) (*Assembler, error) {
	if finalRoot == "" {
		return nil, errors.New("assembler final root is required")
	}
	finalRoot, err := utils.ResolvePath(finalRoot)
	if err != nil {
		return nil, fmt.Errorf("resolve final root: %w", err)
	}
	if err := utils.EnsureDir(finalRoot); err != nil {
		return nil, fmt.Errorf("create final root: %w", err)
	}
	return &Assembler{store: store, finalRoot: finalRoot}, nil
}

func (a *Assembler) Root() string {
	return a.finalRoot
}

// FinalPath is the deterministic artifact location for a session.
func (a *Assembler) FinalPath(s *Session) string {
	return filepath.Join(a.finalRoot, filepath.Base(s.UploadID), sanitizeFileName(s.FileName))
}

// LockArea takes the exclusive lock on a session's staging area. Assembly and cancellation
// both hold it so neither observes the other half way. If the staging area is already gone
// there is nothing to protect and the returned unlock is a no-op.
func (a *Assembler) LockArea(ctx context.Context, uploadID string) (func(), error) {
	dir := a.store.AreaPath(uploadID)
	if !utils.DirExists(dir) {
		return func() {}, nil
	}

	fl := flock.New(filepath.Join(dir, lockFileName))
	locked, err := fl.TryLockContext(ctx, lockPollInterval)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return func() {}, nil
		}
		return nil, fmt.Errorf("lock staging area: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("lock staging area: %w", ctx.Err())
	}
	return func() {
		if err := fl.Unlock(); err != nil {
			slog.Warn("unlock staging area", "uploadId", uploadID, "error", err)
		}
	}, nil
}

// Assemble writes chunks 0..TotalChunks-1 of s, in index order, into the final artifact and
// returns its path. Every chunk must have a row and a stored file of exactly the recorded size.
// On failure the partial output is removed and the staging area is left untouched.
func (a *Assembler) Assemble(ctx context.Context, s *Session, chunks []*Chunk) (string, error) {
	byIndex := make(map[int]*Chunk, len(chunks))
	for _, c := range chunks {
		byIndex[c.ChunkIndex] = c
	}

	finalPath := a.FinalPath(s)
	if err := utils.EnsureParent(finalPath); err != nil {
		return "", fmt.Errorf("create artifact directory: %w", err)
	}

	partialPath := finalPath + partialSuffix
	out, err := os.OpenFile(partialPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return "", fmt.Errorf("create artifact: %w", err)
	}

	start := time.Now()
	written, err := a.copyChunks(ctx, out, s, byIndex)
	if err == nil {
		err = out.Sync()
	}
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err == nil && written != s.FileSize {
		err = fmt.Errorf("assembled %d bytes, expected %d", written, s.FileSize)
	}
	if err == nil {
		err = os.Rename(partialPath, finalPath)
	}
	if err != nil {
		os.Remove(partialPath)
		return "", err
	}

	slog.Info("upload assembled",
		"uploadId", s.UploadID,
		"chunks", s.TotalChunks,
		"size", humanize.IBytes(uint64(written)),
		"took", time.Since(start),
		"path", finalPath,
	)
	return finalPath, nil
}

func (a *Assembler) copyChunks(ctx context.Context, w io.Writer, s *Session, byIndex map[int]*Chunk) (int64, error) {
	var written int64
	for i := 0; i < s.TotalChunks; i++ {
		if err := ctx.Err(); err != nil {
			return written, err
		}

		row, ok := byIndex[i]
		if !ok {
			return written, fmt.Errorf("chunk %d has no record", i)
		}
		if want := s.ExpectedChunkSize(i); row.Size != want {
			return written, fmt.Errorf("chunk %d recorded as %d bytes, expected %d", i, row.Size, want)
		}

		size, err := a.store.StatChunk(s.UploadID, i)
		if err != nil {
			return written, fmt.Errorf("chunk %d missing from staging area: %w", i, err)
		}
		if size != row.Size {
			return written, fmt.Errorf("chunk %d is %d bytes on disk, recorded %d", i, size, row.Size)
		}

		f, err := a.store.OpenChunk(s.UploadID, i)
		if err != nil {
			return written, fmt.Errorf("open chunk %d: %w", i, err)
		}
		n, err := io.CopyN(w, f, row.Size)
		f.Close()
		written += n
		if err != nil {
			return written, fmt.Errorf("copy chunk %d: %w", i, err)
		}
	}
	return written, nil
}

func sanitizeFileName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(filepath.Clean("/" + name))
	if name == "/" || name == "." || name == ".." || name == "" {
		return "artifact"
	}
	return name
}
