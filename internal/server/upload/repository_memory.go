package upload

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"
)

// MemoryRepository keeps sessions in process memory. It backs tests and single-node
// deployments that do not need bookkeeping to survive a restart.
type MemoryRepository struct {
	mu       sync.RWMutex
	sessions map[string]*Session       // upload id -> session
	byID     map[string]string         // session id -> upload id
	chunks   map[string]map[int]*Chunk // session id -> index -> chunk
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		sessions: make(map[string]*Session),
		byID:     make(map[string]string),
		chunks:   make(map[string]map[int]*Chunk),
	}
}

func (r *MemoryRepository) CreateSession(_ context.Context, session *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[session.UploadID]; exists {
		return internal(nil, "upload id %s already exists", session.UploadID)
	}
	r.sessions[session.UploadID] = session.clone()
	r.byID[session.ID] = session.UploadID
	r.chunks[session.ID] = make(map[int]*Chunk)
	return nil
}

func (r *MemoryRepository) GetSessionByUploadID(_ context.Context, uploadID string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[uploadID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s.clone(), nil
}

func (r *MemoryRepository) UpdateSession(_ context.Context, uploadID string, update *SessionUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[uploadID]
	if !ok {
		return ErrSessionNotFound
	}
	if len(update.ExpectStatus) > 0 && !slices.Contains(update.ExpectStatus, s.Status) {
		return ErrStatusConflict
	}

	if update.Status != nil {
		s.Status = *update.Status
	}
	if update.TempPath != nil {
		s.TempPath = *update.TempPath
	}
	if update.FinalPath != nil {
		s.FinalPath = *update.FinalPath
	}
	if update.CompletedAt != nil {
		t := *update.CompletedAt
		s.CompletedAt = &t
	}
	s.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *MemoryRepository) InsertChunk(_ context.Context, chunk *Chunk) (bool, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	uploadID, ok := r.byID[chunk.SessionID]
	if !ok {
		return false, 0, ErrSessionNotFound
	}
	s := r.sessions[uploadID]

	rows := r.chunks[chunk.SessionID]
	if _, exists := rows[chunk.ChunkIndex]; exists {
		return false, s.UploadedChunks, nil
	}
	if s.Status.IsTerminal() {
		return false, s.UploadedChunks, ErrStatusConflict
	}

	c := *chunk
	rows[chunk.ChunkIndex] = &c
	s.UploadedChunks++
	s.Status = StatusUploading
	s.UpdatedAt = time.Now().UTC()
	return true, s.UploadedChunks, nil
}

func (r *MemoryRepository) FindChunk(_ context.Context, sessionID string, index int) (*Chunk, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.chunks[sessionID][index]
	if !ok {
		return nil, ErrChunkNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *MemoryRepository) ListChunks(_ context.Context, sessionID string) ([]*Chunk, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rows := r.chunks[sessionID]
	out := make([]*Chunk, 0, len(rows))
	for _, c := range rows {
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ChunkIndex < out[j].ChunkIndex
	})
	return out, nil
}

func (r *MemoryRepository) ListChunkIndices(_ context.Context, sessionID string) ([]int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rows := r.chunks[sessionID]
	out := make([]int, 0, len(rows))
	for idx := range rows {
		out = append(out, idx)
	}
	sort.Ints(out)
	return out, nil
}

func (r *MemoryRepository) ListStaleSessions(_ context.Context, before time.Time) ([]*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Session
	for _, s := range r.sessions {
		if !s.Status.IsTerminal() && s.UpdatedAt.Before(before) {
			out = append(out, s.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.Before(out[j].UpdatedAt)
	})
	return out, nil
}

func (r *MemoryRepository) DeleteSession(_ context.Context, uploadID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[uploadID]
	if !ok {
		return ErrSessionNotFound
	}
	delete(r.chunks, s.ID)
	delete(r.byID, s.ID)
	delete(r.sessions, uploadID)
	return nil
}

func (r *MemoryRepository) Close() error {
	return nil
}

var _ Repository = (*MemoryRepository)(nil)
