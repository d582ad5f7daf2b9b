package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/singleflight"

	"github.com/dronehq/chunkup/internal/utils"
)

var activeStatuses = []Status{StatusPending, StatusUploading}

// IncompleteUpload errors list at most this many missing indices; missingCount has the total.
const maxMissingDetails = 1000

// Service coordinates upload sessions: it validates requests, enforces chunk idempotency,
// and drives the chunk store, repository, assembler and publisher.
type Service struct {
	config    *Config
	repo      Repository
	store     *ChunkStore
	assembler *Assembler
	publisher Publisher
	now       func() time.Time

	completeGroup singleflight.Group
}

type ServiceOption func(*Service)

// WithPublisher mirrors every assembled artifact through p before the session is finalized.
func WithPublisher(p Publisher) ServiceOption {
	return func(s *Service) {
		s.publisher = p
	}
}

func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		s.now = now
	}
}

func NewService(cfg *Config, repo Repository, store *ChunkStore, assembler *Assembler, opts ...ServiceOption) (*Service, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	svc := &Service{
		config:    cfg,
		repo:      repo,
		store:     store,
		assembler: assembler,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Shutdown releases the repository.
func (s *Service) Shutdown(ctx context.Context) error {
	slog.Debug("upload service shutdown")
	return s.repo.Close()
}

func (s *Service) Initiate(ctx context.Context, req *InitiateRequest) (*InitiateResult, error) {
	if req == nil {
		return nil, invalidArgument("initiate request is required")
	}

	fileName := strings.TrimSpace(req.FileName)
	if fileName == "" {
		return nil, invalidArgument("fileName is required")
	}
	if req.FileSize <= 0 {
		return nil, invalidArgument("fileSize must be positive, got %d", req.FileSize)
	}
	if limit := s.config.MaxFileSize.Int64(); limit > 0 && req.FileSize > limit {
		return nil, invalidArgument("fileSize %s exceeds the limit of %s",
			humanize.IBytes(uint64(req.FileSize)), s.config.MaxFileSize)
	}

	chunkSize := req.ChunkSize
	if chunkSize == 0 {
		chunkSize = s.config.DefaultChunkSize.Int64()
	}
	if chunkSize < 0 {
		return nil, invalidArgument("chunkSize must be positive, got %d", chunkSize)
	}
	if chunkSize > s.config.MaxChunkSize.Int64() {
		return nil, invalidArgument("chunkSize %s exceeds the limit of %s",
			humanize.IBytes(uint64(chunkSize)), s.config.MaxChunkSize)
	}

	// ceil without the FileSize+chunkSize overflow
	totalChunks := (req.FileSize-1)/chunkSize + 1
	if limit := s.config.ChunkLimit(); totalChunks > int64(limit) {
		return nil, invalidArgument("%s in chunks of %s needs %d chunks, the limit is %d",
			humanize.IBytes(uint64(req.FileSize)), humanize.IBytes(uint64(chunkSize)), totalChunks, limit)
	}

	owner := req.OwnerID
	if owner == "" {
		owner = OwnerFromContext(ctx)
	}
	mimeType := req.MimeType
	if mimeType == "" {
		mimeType = utils.DetectContentType(fileName)
	}

	uploadID := uuid.NewString()
	tempPath, err := s.store.CreateArea(uploadID)
	if err != nil {
		return nil, ioFailure(err, "create staging area")
	}

	now := s.now()
	session := &Session{
		ID:          uuid.NewString(),
		UploadID:    uploadID,
		OwnerID:     owner,
		FileName:    fileName,
		MimeType:    mimeType,
		FileSize:    req.FileSize,
		ChunkSize:   chunkSize,
		TotalChunks: int(totalChunks),
		Status:      StatusPending,
		TempPath:    tempPath,
		Metadata:    req.Metadata,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.CreateSession(ctx, session); err != nil {
		if rmErr := s.store.RemoveArea(uploadID); rmErr != nil {
			slog.Warn("remove staging area", "uploadId", uploadID, "error", rmErr)
		}
		return nil, internal(err, "create upload session")
	}

	sessionsInitiated.Inc()
	slog.Info("upload initiated",
		"uploadId", uploadID,
		"owner", owner,
		"file", fileName,
		"size", humanize.IBytes(uint64(req.FileSize)),
		"chunks", session.TotalChunks,
	)

	return &InitiateResult{
		UploadID:    uploadID,
		ChunkSize:   chunkSize,
		TotalChunks: session.TotalChunks,
	}, nil
}

func (s *Service) UploadChunk(ctx context.Context, req *ChunkRequest) (*ChunkResult, error) {
	if req == nil || req.Payload == nil {
		return nil, invalidArgument("chunk payload is required")
	}

	session, err := s.loadSession(ctx, req.UploadID)
	if err != nil {
		return nil, err
	}
	if session.Status.IsTerminal() {
		return nil, invalidState("upload %s is %s", session.UploadID, session.Status)
	}
	if req.ChunkIndex < 0 || req.ChunkIndex >= session.TotalChunks {
		return nil, invalidArgument("chunkIndex %d out of range [0, %d)", req.ChunkIndex, session.TotalChunks)
	}

	checksum, err := ParseChecksum(req.Checksum)
	if err != nil {
		chunksReceived.WithLabelValues("rejected").Inc()
		return nil, err
	}

	if _, err := s.repo.FindChunk(ctx, session.ID, req.ChunkIndex); err == nil {
		chunksReceived.WithLabelValues("duplicate").Inc()
		return chunkResult(session, req.ChunkIndex, session.UploadedChunks, true), nil
	} else if !errors.Is(err, ErrChunkNotFound) {
		return nil, internal(err, "look up chunk %d", req.ChunkIndex)
	}

	expected := session.ExpectedChunkSize(req.ChunkIndex)
	payload, err := io.ReadAll(io.LimitReader(req.Payload, expected+1))
	if err != nil {
		return nil, ioFailure(err, "read chunk %d", req.ChunkIndex)
	}
	if err := validatePayloadSize(req.ChunkIndex, int64(len(payload)), expected); err != nil {
		chunksReceived.WithLabelValues("rejected").Inc()
		return nil, err
	}
	if checksum != nil && !checksum.Verify(payload) {
		chunksReceived.WithLabelValues("rejected").Inc()
		return nil, newError(KindChecksumMismatch, nil, "chunk %d does not match %s checksum", req.ChunkIndex, checksum.Algorithm)
	}

	// the payload only becomes the chunk file once its row wins the insert
	staged, err := s.store.StageChunk(session.UploadID, req.ChunkIndex, bytes.NewReader(payload))
	if err != nil {
		return nil, s.storeFailure(ctx, session, req.ChunkIndex, err)
	}

	chunk := &Chunk{
		SessionID:  session.ID,
		ChunkIndex: req.ChunkIndex,
		Size:       staged.Size,
		CreatedAt:  s.now(),
	}
	if checksum != nil {
		chunk.Checksum = checksum.String()
	}

	inserted, uploaded, err := s.repo.InsertChunk(ctx, chunk)
	if err != nil || !inserted {
		if discardErr := staged.Discard(); discardErr != nil {
			slog.Warn("discard chunk", "uploadId", session.UploadID, "index", req.ChunkIndex, "error", discardErr)
		}
	}
	if errors.Is(err, ErrStatusConflict) {
		slog.Warn("chunk arrived after upload was finalized", "uploadId", session.UploadID, "index", req.ChunkIndex)
		return nil, invalidState("upload %s was finalized while chunk %d was being stored", session.UploadID, req.ChunkIndex)
	} else if err != nil {
		return nil, internal(err, "record chunk %d", req.ChunkIndex)
	}

	if !inserted {
		chunksReceived.WithLabelValues("duplicate").Inc()
		return chunkResult(session, req.ChunkIndex, uploaded, true), nil
	}

	if err := staged.Commit(); err != nil {
		// the row is already counted; Complete reports the missing file by index
		return nil, s.storeFailure(ctx, session, req.ChunkIndex, err)
	}

	chunksReceived.WithLabelValues("stored").Inc()
	chunkBytes.Add(float64(staged.Size))
	slog.Debug("chunk stored",
		"uploadId", session.UploadID,
		"index", req.ChunkIndex,
		"size", humanize.IBytes(uint64(staged.Size)),
		"uploaded", uploaded,
		"total", session.TotalChunks,
	)
	return chunkResult(session, req.ChunkIndex, uploaded, false), nil
}

// storeFailure maps a staging write error. A staging area removed by a concurrent
// cancel is reported as InvalidState so callers stop retrying.
func (s *Service) storeFailure(ctx context.Context, session *Session, index int, err error) error {
	slog.Warn("write chunk", "uploadId", session.UploadID, "index", index, "error", err)
	if errors.Is(err, ErrAreaNotFound) {
		if current, getErr := s.repo.GetSessionByUploadID(ctx, session.UploadID); getErr == nil && current.Status.IsTerminal() {
			return invalidState("upload %s is %s", session.UploadID, current.Status)
		}
	}
	return ioFailure(err, "store chunk %d", index)
}

// Complete assembles the artifact once every chunk is present. Completing an already
// completed upload returns the recorded result. Concurrent calls for one upload share
// a single assembly.
func (s *Service) Complete(ctx context.Context, uploadID string) (*CompleteResult, error) {
	session, err := s.loadSession(ctx, uploadID)
	if err != nil {
		return nil, err
	}
	if res, err := s.checkCompletable(ctx, session); res != nil || err != nil {
		return res, err
	}

	v, err, shared := s.completeGroup.Do(session.UploadID, func() (any, error) {
		return s.complete(context.WithoutCancel(ctx), session.UploadID)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		slog.Debug("complete shared", "uploadId", session.UploadID)
	}
	return v.(*CompleteResult), nil
}

func (s *Service) complete(ctx context.Context, uploadID string) (*CompleteResult, error) {
	unlock, err := s.assembler.LockArea(ctx, uploadID)
	if err != nil {
		return nil, ioFailure(err, "lock staging area")
	}
	defer unlock()

	// status may have moved while waiting for the lock
	session, err := s.repo.GetSessionByUploadID(ctx, uploadID)
	if err != nil {
		return nil, internal(err, "reload upload %s", uploadID)
	}
	if res, err := s.checkCompletable(ctx, session); res != nil || err != nil {
		return res, err
	}

	chunks, err := s.repo.ListChunks(ctx, session.ID)
	if err != nil {
		return nil, internal(err, "list chunks")
	}

	timer := prometheus.NewTimer(assemblyDuration)
	finalPath, err := s.assembler.Assemble(ctx, session, chunks)
	timer.ObserveDuration()
	if err != nil {
		assemblyErrors.Inc()
		slog.Error("assemble upload", "uploadId", uploadID, "error", err)
		return nil, ioFailure(err, "assemble upload %s", uploadID)
	}

	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, session, finalPath); err != nil {
			publishErrors.Inc()
			slog.Error("publish upload", "uploadId", uploadID, "error", err)
			if rmErr := os.Remove(finalPath); rmErr != nil {
				slog.Warn("remove unpublished artifact", "path", finalPath, "error", rmErr)
			}
			return nil, ioFailure(err, "publish upload %s", uploadID)
		}
	}

	status := StatusCompleted
	noPath := ""
	completedAt := s.now()
	err = s.repo.UpdateSession(ctx, uploadID, &SessionUpdate{
		Status:       &status,
		FinalPath:    &finalPath,
		TempPath:     &noPath,
		CompletedAt:  &completedAt,
		ExpectStatus: activeStatuses,
	})
	if errors.Is(err, ErrStatusConflict) {
		return nil, invalidState("upload %s was finalized concurrently", uploadID)
	} else if err != nil {
		return nil, internal(err, "finalize upload %s", uploadID)
	}

	if err := s.store.RemoveArea(uploadID); err != nil {
		slog.Warn("remove staging area", "uploadId", uploadID, "error", err)
	}

	sessionsFinished.WithLabelValues(string(StatusCompleted)).Inc()
	slog.Info("upload completed", "uploadId", uploadID, "file", session.FileName, "path", finalPath)

	return &CompleteResult{
		FileName:  session.FileName,
		FinalPath: finalPath,
		FileSize:  session.FileSize,
	}, nil
}

// checkCompletable returns the recorded result for completed sessions, an error for sessions
// that cannot be completed, and (nil, nil) when assembly should proceed.
func (s *Service) checkCompletable(ctx context.Context, session *Session) (*CompleteResult, error) {
	switch session.Status {
	case StatusCompleted:
		return &CompleteResult{
			FileName:  session.FileName,
			FinalPath: session.FinalPath,
			FileSize:  session.FileSize,
		}, nil
	case StatusCancelled:
		return nil, invalidState("upload %s is cancelled", session.UploadID)
	}

	if session.UploadedChunks < session.TotalChunks {
		missing, err := s.missingChunks(ctx, session)
		if err != nil {
			return nil, err
		}
		shortfall := session.TotalChunks - session.UploadedChunks
		return nil, &Error{
			Kind:    KindIncompleteUpload,
			Message: fmt.Sprintf("upload %s is missing %d of %d chunks", session.UploadID, shortfall, session.TotalChunks),
			Details: map[string]any{
				"missing":        missing[:min(len(missing), maxMissingDetails)],
				"missingCount":   shortfall,
				"uploadedChunks": session.UploadedChunks,
				"totalChunks":    session.TotalChunks,
			},
		}
	}
	return nil, nil
}

// Cancel abandons a non-terminal upload and discards its staged chunks.
func (s *Service) Cancel(ctx context.Context, uploadID string) (*CancelResult, error) {
	session, err := s.loadSession(ctx, uploadID)
	if err != nil {
		return nil, err
	}
	if err := s.cancel(ctx, session); err != nil {
		return nil, err
	}
	return &CancelResult{Status: StatusCancelled}, nil
}

func (s *Service) cancel(ctx context.Context, session *Session) error {
	if session.Status.IsTerminal() {
		return invalidState("upload %s is already %s", session.UploadID, session.Status)
	}

	unlock, err := s.assembler.LockArea(ctx, session.UploadID)
	if err != nil {
		return ioFailure(err, "lock staging area")
	}
	defer unlock()

	status := StatusCancelled
	noPath := ""
	err = s.repo.UpdateSession(ctx, session.UploadID, &SessionUpdate{
		Status:       &status,
		TempPath:     &noPath,
		ExpectStatus: activeStatuses,
	})
	if errors.Is(err, ErrStatusConflict) {
		return invalidState("upload %s was finalized concurrently", session.UploadID)
	} else if err != nil {
		return internal(err, "cancel upload %s", session.UploadID)
	}

	if err := s.store.RemoveArea(session.UploadID); err != nil {
		slog.Warn("remove staging area", "uploadId", session.UploadID, "error", err)
	}

	sessionsFinished.WithLabelValues(string(StatusCancelled)).Inc()
	slog.Info("upload cancelled", "uploadId", session.UploadID, "uploaded", session.UploadedChunks, "total", session.TotalChunks)
	return nil
}

func (s *Service) Status(ctx context.Context, uploadID string) (*StatusResult, error) {
	session, err := s.loadSession(ctx, uploadID)
	if err != nil {
		return nil, err
	}
	return &StatusResult{Session: session, Progress: session.Progress()}, nil
}

// MissingChunks returns the sorted chunk indices that have not been stored yet.
func (s *Service) MissingChunks(ctx context.Context, uploadID string) ([]int, error) {
	session, err := s.loadSession(ctx, uploadID)
	if err != nil {
		return nil, err
	}
	return s.missingChunks(ctx, session)
}

func (s *Service) missingChunks(ctx context.Context, session *Session) ([]int, error) {
	indices, err := s.repo.ListChunkIndices(ctx, session.ID)
	if err != nil {
		return nil, internal(err, "list chunk indices")
	}

	stored := mapset.NewThreadUnsafeSet(indices...)
	missing := make([]int, 0, session.TotalChunks-stored.Cardinality())
	for i := 0; i < session.TotalChunks; i++ {
		if !stored.Contains(i) {
			missing = append(missing, i)
		}
	}
	return missing, nil
}

// Purge cancels every pending or uploading session not updated within olderThan
// and returns how many were cancelled. With deleteRecords the cancelled sessions and
// their chunk rows are removed from the repository as well.
func (s *Service) Purge(ctx context.Context, olderThan time.Duration, deleteRecords bool) (int, error) {
	cutoff := s.now().Add(-olderThan)
	stale, err := s.repo.ListStaleSessions(ctx, cutoff)
	if err != nil {
		return 0, internal(err, "list stale sessions")
	}

	purged := 0
	for _, session := range stale {
		if err := ctx.Err(); err != nil {
			return purged, err
		}
		if err := s.cancel(ctx, session); err != nil {
			if errors.Is(err, ErrInvalidState) {
				continue
			}
			return purged, err
		}
		purged++

		if !deleteRecords {
			continue
		}
		if err := s.repo.DeleteSession(ctx, session.UploadID); err != nil && !errors.Is(err, ErrSessionNotFound) {
			return purged, internal(err, "delete upload %s", session.UploadID)
		}
	}

	slog.Info("purged stale uploads", "count", purged, "cutoff", cutoff, "deleted", deleteRecords)
	return purged, nil
}

func (s *Service) loadSession(ctx context.Context, uploadID string) (*Session, error) {
	uploadID = strings.TrimSpace(uploadID)
	if uploadID == "" {
		return nil, invalidArgument("uploadId is required")
	}

	session, err := s.repo.GetSessionByUploadID(ctx, uploadID)
	if errors.Is(err, ErrSessionNotFound) {
		return nil, newError(KindNotFound, nil, "upload %s not found", uploadID)
	} else if err != nil {
		return nil, internal(err, "get upload %s", uploadID)
	}

	// other owners' sessions are indistinguishable from missing ones
	if owner := OwnerFromContext(ctx); owner != "" && session.OwnerID != owner {
		return nil, newError(KindNotFound, nil, "upload %s not found", uploadID)
	}
	return session, nil
}

func validatePayloadSize(index int, got, expected int64) error {
	switch {
	case got == 0:
		return invalidArgument("chunk %d is empty", index)
	case got > expected:
		return invalidArgument("chunk %d exceeds the expected %d bytes", index, expected)
	case got < expected:
		return invalidArgument("chunk %d is %d bytes, expected %d", index, got, expected)
	}
	return nil
}

func chunkResult(session *Session, index, uploaded int, duplicate bool) *ChunkResult {
	progress := 0.0
	if session.TotalChunks > 0 {
		progress = float64(uploaded) / float64(session.TotalChunks) * 100
	}
	return &ChunkResult{
		ChunkIndex:      index,
		UploadedChunks:  uploaded,
		TotalChunks:     session.TotalChunks,
		Progress:        progress,
		AlreadyUploaded: duplicate,
	}
}

type ownerKey struct{}

// WithOwner scopes the Service calls made with ctx to sessions owned by owner.
func WithOwner(ctx context.Context, owner string) context.Context {
	return context.WithValue(ctx, ownerKey{}, owner)
}

func OwnerFromContext(ctx context.Context) string {
	owner, _ := ctx.Value(ownerKey{}).(string)
	return owner
}
