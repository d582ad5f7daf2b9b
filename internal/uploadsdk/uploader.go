package uploadsdk

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

const defaultWorkers = 4

// UploadParams describes one file transfer.
type UploadParams struct {
	FilePath  string
	FileName  string // defaults to the base name of FilePath
	MimeType  string
	ChunkSize int64 // 0 uses the server default
	Metadata  map[string]string
	Workers   int
	// ResumeDir keeps the state that lets an interrupted transfer continue.
	// Defaults to <os temp>/chunkup-resume.
	ResumeDir string
	Callback  func(uploaded, total int64)
}

// UploadFile transfers a file in chunks. When a resume record for the same file
// exists, only the chunks the server is missing are sent.
func (c *Client) UploadFile(ctx context.Context, params *UploadParams) (*CompleteResponse, error) {
	if params == nil || params.FilePath == "" {
		return nil, ErrNoFile
	}

	absPath, err := filepath.Abs(params.FilePath)
	if err != nil {
		return nil, fmt.Errorf("resolve file path: %w", err)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat file: %w", err)
	}
	if info.Size() == 0 {
		return nil, ErrEmptyFile
	}

	resume := newResumeStore(params.ResumeDir, absPath, info)

	state, missing, err := c.resumeSession(ctx, resume)
	if err != nil {
		return nil, err
	}
	if state == nil {
		state, err = c.startSession(ctx, params, absPath, info)
		if err != nil {
			return nil, err
		}
		if err := resume.save(state); err != nil {
			return nil, err
		}
		missing = make([]int, state.TotalChunks)
		for i := range missing {
			missing[i] = i
		}
	}

	if err := c.sendChunks(ctx, file, state, missing, params); err != nil {
		return nil, err
	}

	res, err := c.Complete(ctx, state.UploadID)
	if err != nil {
		return nil, err
	}
	if err := resume.clear(); err != nil {
		slog.Warn("remove resume file", "path", resume.path, "error", err)
	}
	return res, nil
}

func (c *Client) startSession(ctx context.Context, params *UploadParams, absPath string, info os.FileInfo) (*resumeState, error) {
	fileName := params.FileName
	if fileName == "" {
		fileName = filepath.Base(absPath)
	}

	res, err := c.Initiate(ctx, &InitiateRequest{
		FileName:  fileName,
		FileSize:  info.Size(),
		MimeType:  params.MimeType,
		ChunkSize: params.ChunkSize,
		Metadata:  params.Metadata,
	})
	if err != nil {
		return nil, err
	}

	slog.Debug("upload started", "uploadId", res.UploadID, "chunks", res.TotalChunks, "chunkSize", res.ChunkSize)
	return &resumeState{
		UploadID:    res.UploadID,
		FilePath:    absPath,
		Fingerprint: fingerprint(info),
		Size:        info.Size(),
		ChunkSize:   res.ChunkSize,
		TotalChunks: res.TotalChunks,
	}, nil
}

// resumeSession returns the stored session and the chunks it still needs, or nil
// when the transfer has to start over.
func (c *Client) resumeSession(ctx context.Context, resume *resumeStore) (*resumeState, []int, error) {
	state, err := resume.load()
	if err != nil || state == nil {
		return nil, nil, err
	}

	status, err := c.Status(ctx, state.UploadID)
	if HasCode(err, CodeUploadNotFound) {
		slog.Info("resumable upload no longer exists, starting over", "uploadId", state.UploadID)
		return nil, nil, resume.clear()
	} else if err != nil {
		return nil, nil, err
	}

	switch status.Status {
	case "cancelled":
		slog.Info("resumable upload was cancelled, starting over", "uploadId", state.UploadID)
		return nil, nil, resume.clear()
	case "completed":
		return state, nil, nil
	}

	missing, err := c.Missing(ctx, state.UploadID)
	if err != nil {
		return nil, nil, err
	}
	slog.Info("resuming upload", "uploadId", state.UploadID, "missing", len(missing), "total", state.TotalChunks)
	return state, missing, nil
}

func (c *Client) sendChunks(ctx context.Context, file io.ReaderAt, state *resumeState, indices []int, params *UploadParams) error {
	workers := params.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}

	var uploaded atomic.Int64
	uploaded.Store(state.Size - missingBytes(state, indices))
	if params.Callback != nil && uploaded.Load() > 0 {
		params.Callback(uploaded.Load(), state.Size)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for _, index := range indices {
		g.Go(func() error {
			payload := make([]byte, state.chunkLen(index))
			if _, err := file.ReadAt(payload, state.offset(index)); err != nil && !errors.Is(err, io.EOF) {
				return fmt.Errorf("read chunk %d: %w", index, err)
			}

			if _, err := c.UploadChunk(gctx, state.UploadID, index, payload); err != nil {
				return err
			}

			done := uploaded.Add(int64(len(payload)))
			if params.Callback != nil {
				params.Callback(done, state.Size)
			}
			return nil
		})
	}

	return g.Wait()
}

func missingBytes(state *resumeState, indices []int) int64 {
	var total int64
	for _, index := range indices {
		total += state.chunkLen(index)
	}
	return total
}
