package upload

import (
	"context"
	"time"
)

// Repository is the durable bookkeeping for sessions and chunk rows.
// The Service is its only writer.
type Repository interface {
	CreateSession(ctx context.Context, session *Session) error

	// GetSessionByUploadID returns ErrSessionNotFound for unknown ids.
	GetSessionByUploadID(ctx context.Context, uploadID string) (*Session, error)

	// UpdateSession applies the non-nil fields of update. It returns ErrStatusConflict
	// when update.ExpectStatus is set and the stored status is not one of them.
	UpdateSession(ctx context.Context, uploadID string, update *SessionUpdate) error

	// InsertChunk inserts the chunk row and increments the session's uploaded counter as one
	// atomic unit. If a row for (SessionID, ChunkIndex) already exists nothing changes and
	// inserted is false. Inserting into a completed or cancelled session returns ErrStatusConflict.
	InsertChunk(ctx context.Context, chunk *Chunk) (inserted bool, uploadedChunks int, err error)

	// FindChunk returns ErrChunkNotFound when no row exists.
	FindChunk(ctx context.Context, sessionID string, index int) (*Chunk, error)

	// ListChunks returns all chunk rows ordered by index.
	ListChunks(ctx context.Context, sessionID string) ([]*Chunk, error)

	// ListChunkIndices returns the stored indices in ascending order.
	ListChunkIndices(ctx context.Context, sessionID string) ([]int, error)

	// ListStaleSessions returns non-terminal sessions last updated before the cutoff.
	ListStaleSessions(ctx context.Context, before time.Time) ([]*Session, error)

	DeleteSession(ctx context.Context, uploadID string) error

	Close() error
}
