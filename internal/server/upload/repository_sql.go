package upload

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
)

var schemaSQL = []string{
	`CREATE TABLE IF NOT EXISTS upload_sessions (
		id TEXT PRIMARY KEY,
		upload_id TEXT NOT NULL UNIQUE,
		owner_id TEXT NOT NULL,
		file_name TEXT NOT NULL,
		mime_type TEXT NOT NULL DEFAULT '',
		file_size BIGINT NOT NULL,
		chunk_size BIGINT NOT NULL,
		total_chunks INTEGER NOT NULL,
		uploaded_chunks INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		temp_path TEXT NOT NULL DEFAULT '',
		final_path TEXT NOT NULL DEFAULT '',
		metadata TEXT NOT NULL DEFAULT '{}',
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL,
		completed_at BIGINT,
		CHECK (uploaded_chunks <= total_chunks)
	)`,
	`CREATE TABLE IF NOT EXISTS upload_chunks (
		session_id TEXT NOT NULL REFERENCES upload_sessions(id) ON DELETE CASCADE,
		chunk_index INTEGER NOT NULL,
		chunk_size BIGINT NOT NULL,
		checksum TEXT NOT NULL DEFAULT '',
		created_at BIGINT NOT NULL,
		PRIMARY KEY (session_id, chunk_index)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_upload_sessions_stale ON upload_sessions(status, updated_at)`,
}

const sessionColumns = `id, upload_id, owner_id, file_name, mime_type, file_size, chunk_size, total_chunks,
	uploaded_chunks, status, temp_path, final_path, metadata, created_at, updated_at, completed_at`

// sessionRow is the storage shape of a Session. Timestamps are unix nanoseconds so
// the same schema behaves identically on SQLite and PostgreSQL.
type sessionRow struct {
	ID             string        `db:"id"`
	UploadID       string        `db:"upload_id"`
	OwnerID        string        `db:"owner_id"`
	FileName       string        `db:"file_name"`
	MimeType       string        `db:"mime_type"`
	FileSize       int64         `db:"file_size"`
	ChunkSize      int64         `db:"chunk_size"`
	TotalChunks    int           `db:"total_chunks"`
	UploadedChunks int           `db:"uploaded_chunks"`
	Status         string        `db:"status"`
	TempPath       string        `db:"temp_path"`
	FinalPath      string        `db:"final_path"`
	Metadata       string        `db:"metadata"`
	CreatedAt      int64         `db:"created_at"`
	UpdatedAt      int64         `db:"updated_at"`
	CompletedAt    sql.NullInt64 `db:"completed_at"`
}

func (r *sessionRow) toSession() (*Session, error) {
	s := &Session{
		ID:             r.ID,
		UploadID:       r.UploadID,
		OwnerID:        r.OwnerID,
		FileName:       r.FileName,
		MimeType:       r.MimeType,
		FileSize:       r.FileSize,
		ChunkSize:      r.ChunkSize,
		TotalChunks:    r.TotalChunks,
		UploadedChunks: r.UploadedChunks,
		Status:         Status(r.Status),
		TempPath:       r.TempPath,
		FinalPath:      r.FinalPath,
		CreatedAt:      time.Unix(0, r.CreatedAt).UTC(),
		UpdatedAt:      time.Unix(0, r.UpdatedAt).UTC(),
	}
	if r.CompletedAt.Valid {
		t := time.Unix(0, r.CompletedAt.Int64).UTC()
		s.CompletedAt = &t
	}
	if r.Metadata != "" && r.Metadata != "{}" {
		if err := json.Unmarshal([]byte(r.Metadata), &s.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata for %s: %w", r.UploadID, err)
		}
	}
	return s, nil
}

type chunkRow struct {
	SessionID  string `db:"session_id"`
	ChunkIndex int    `db:"chunk_index"`
	Size       int64  `db:"chunk_size"`
	Checksum   string `db:"checksum"`
	CreatedAt  int64  `db:"created_at"`
}

// SQLRepository stores sessions in a relational database through sqlx.
// Queries are written with ? placeholders and rebound for the driver in use.
type SQLRepository struct {
	db *sqlx.DB
}

func NewSQLRepository(db *sqlx.DB) (*SQLRepository, error) {
	for _, stmt := range schemaSQL {
		if _, err := db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("failed to initialize upload schema: %w", err)
		}
	}
	return &SQLRepository{db: db}, nil
}

func (r *SQLRepository) CreateSession(ctx context.Context, s *Session) error {
	meta := "{}"
	if len(s.Metadata) > 0 {
		b, err := json.Marshal(s.Metadata)
		if err != nil {
			return fmt.Errorf("encode metadata: %w", err)
		}
		meta = string(b)
	}

	var completedAt sql.NullInt64
	if s.CompletedAt != nil {
		completedAt = sql.NullInt64{Int64: s.CompletedAt.UnixNano(), Valid: true}
	}

	_, err := r.db.ExecContext(ctx, r.db.Rebind(`INSERT INTO upload_sessions (`+sessionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		s.ID, s.UploadID, s.OwnerID, s.FileName, s.MimeType, s.FileSize, s.ChunkSize, s.TotalChunks,
		s.UploadedChunks, string(s.Status), s.TempPath, s.FinalPath, meta,
		s.CreatedAt.UnixNano(), s.UpdatedAt.UnixNano(), completedAt,
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (r *SQLRepository) GetSessionByUploadID(ctx context.Context, uploadID string) (*Session, error) {
	var row sessionRow
	err := r.db.GetContext(ctx, &row, r.db.Rebind(`SELECT `+sessionColumns+` FROM upload_sessions WHERE upload_id = ?`), uploadID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	} else if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return row.toSession()
}

func (r *SQLRepository) UpdateSession(ctx context.Context, uploadID string, update *SessionUpdate) error {
	sets := []string{"updated_at = ?"}
	args := []any{time.Now().UnixNano()}

	if update.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*update.Status))
	}
	if update.TempPath != nil {
		sets = append(sets, "temp_path = ?")
		args = append(args, *update.TempPath)
	}
	if update.FinalPath != nil {
		sets = append(sets, "final_path = ?")
		args = append(args, *update.FinalPath)
	}
	if update.CompletedAt != nil {
		sets = append(sets, "completed_at = ?")
		args = append(args, update.CompletedAt.UnixNano())
	}

	query := `UPDATE upload_sessions SET ` + strings.Join(sets, ", ") + ` WHERE upload_id = ?`
	args = append(args, uploadID)

	if len(update.ExpectStatus) > 0 {
		statuses := make([]string, len(update.ExpectStatus))
		for i, st := range update.ExpectStatus {
			statuses[i] = string(st)
		}
		query += ` AND status IN (?)`
		var err error
		query, args, err = sqlx.In(query, append(args, statuses)...)
		if err != nil {
			return fmt.Errorf("build update: %w", err)
		}
	}

	res, err := r.db.ExecContext(ctx, r.db.Rebind(query), args...)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if n == 0 {
		if _, err := r.GetSessionByUploadID(ctx, uploadID); err != nil {
			return err
		}
		return ErrStatusConflict
	}
	return nil
}

func (r *SQLRepository) InsertChunk(ctx context.Context, chunk *Chunk) (inserted bool, uploaded int, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil || !inserted {
			tx.Rollback()
		}
	}()

	if err = tx.GetContext(ctx, &uploaded, tx.Rebind(`SELECT uploaded_chunks FROM upload_sessions WHERE id = ?`), chunk.SessionID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = ErrSessionNotFound
		}
		return false, 0, err
	}

	// the primary key on (session_id, chunk_index) makes this the idempotency check
	res, err := tx.ExecContext(ctx, tx.Rebind(`INSERT INTO upload_chunks (session_id, chunk_index, chunk_size, checksum, created_at)
		VALUES (?, ?, ?, ?, ?) ON CONFLICT (session_id, chunk_index) DO NOTHING`),
		chunk.SessionID, chunk.ChunkIndex, chunk.Size, chunk.Checksum, chunk.CreatedAt.UnixNano(),
	)
	if err != nil {
		return false, 0, fmt.Errorf("insert chunk: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, 0, fmt.Errorf("insert chunk: %w", err)
	}
	if n == 0 {
		return false, uploaded, nil
	}

	res, err = tx.ExecContext(ctx, tx.Rebind(`UPDATE upload_sessions
		SET uploaded_chunks = uploaded_chunks + 1, status = ?, updated_at = ?
		WHERE id = ? AND status IN (?, ?)`),
		string(StatusUploading), time.Now().UnixNano(), chunk.SessionID, string(StatusPending), string(StatusUploading),
	)
	if err != nil {
		return false, 0, fmt.Errorf("increment uploaded chunks: %w", err)
	}
	if n, err = res.RowsAffected(); err != nil {
		return false, 0, fmt.Errorf("increment uploaded chunks: %w", err)
	} else if n == 0 {
		err = ErrStatusConflict
		return false, 0, err
	}

	if err = tx.GetContext(ctx, &uploaded, tx.Rebind(`SELECT uploaded_chunks FROM upload_sessions WHERE id = ?`), chunk.SessionID); err != nil {
		return false, 0, fmt.Errorf("read uploaded chunks: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return false, 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return true, uploaded, nil
}

func (r *SQLRepository) FindChunk(ctx context.Context, sessionID string, index int) (*Chunk, error) {
	var row chunkRow
	err := r.db.GetContext(ctx, &row, r.db.Rebind(`SELECT session_id, chunk_index, chunk_size, checksum, created_at
		FROM upload_chunks WHERE session_id = ? AND chunk_index = ?`), sessionID, index)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrChunkNotFound
	} else if err != nil {
		return nil, fmt.Errorf("find chunk: %w", err)
	}
	return row.toChunk(), nil
}

func (r *SQLRepository) ListChunks(ctx context.Context, sessionID string) ([]*Chunk, error) {
	var rows []chunkRow
	err := r.db.SelectContext(ctx, &rows, r.db.Rebind(`SELECT session_id, chunk_index, chunk_size, checksum, created_at
		FROM upload_chunks WHERE session_id = ? ORDER BY chunk_index`), sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list chunks: %w", err)
	}
	out := make([]*Chunk, len(rows))
	for i := range rows {
		out[i] = rows[i].toChunk()
	}
	return out, nil
}

func (r *SQLRepository) ListChunkIndices(ctx context.Context, sessionID string) ([]int, error) {
	indices := []int{}
	err := r.db.SelectContext(ctx, &indices, r.db.Rebind(`SELECT chunk_index FROM upload_chunks WHERE session_id = ? ORDER BY chunk_index`), sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list chunk indices: %w", err)
	}
	return indices, nil
}

func (r *SQLRepository) ListStaleSessions(ctx context.Context, before time.Time) ([]*Session, error) {
	var rows []sessionRow
	err := r.db.SelectContext(ctx, &rows, r.db.Rebind(`SELECT `+sessionColumns+` FROM upload_sessions
		WHERE status IN (?, ?) AND updated_at < ? ORDER BY updated_at`),
		string(StatusPending), string(StatusUploading), before.UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale sessions: %w", err)
	}
	out := make([]*Session, 0, len(rows))
	for i := range rows {
		s, err := rows[i].toSession()
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func (r *SQLRepository) DeleteSession(ctx context.Context, uploadID string) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var sessionID string
	if err = tx.GetContext(ctx, &sessionID, tx.Rebind(`SELECT id FROM upload_sessions WHERE upload_id = ?`), uploadID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = ErrSessionNotFound
		}
		return err
	}
	if _, err = tx.ExecContext(ctx, tx.Rebind(`DELETE FROM upload_chunks WHERE session_id = ?`), sessionID); err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}
	if _, err = tx.ExecContext(ctx, tx.Rebind(`DELETE FROM upload_sessions WHERE id = ?`), sessionID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return tx.Commit()
}

// Close releases the underlying database handle
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

func (c *chunkRow) toChunk() *Chunk {
	return &Chunk{
		SessionID:  c.SessionID,
		ChunkIndex: c.ChunkIndex,
		Size:       c.Size,
		Checksum:   c.Checksum,
		CreatedAt:  time.Unix(0, c.CreatedAt).UTC(),
	}
}

var _ Repository = (*SQLRepository)(nil)
