package upload

import (
	"io"
	"time"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusUploading Status = "uploading"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// IsTerminal reports whether no further chunk or completion operations are valid.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Session is the durable record of one logical file transfer.
type Session struct {
	ID             string            `json:"-" db:"id"`
	UploadID       string            `json:"uploadId" db:"upload_id"`
	OwnerID        string            `json:"ownerId" db:"owner_id"`
	FileName       string            `json:"fileName" db:"file_name"`
	MimeType       string            `json:"mimeType,omitempty" db:"mime_type"`
	FileSize       int64             `json:"fileSize" db:"file_size"`
	ChunkSize      int64             `json:"chunkSize" db:"chunk_size"`
	TotalChunks    int               `json:"totalChunks" db:"total_chunks"`
	UploadedChunks int               `json:"uploadedChunks" db:"uploaded_chunks"`
	Status         Status            `json:"status" db:"status"`
	TempPath       string            `json:"-" db:"temp_path"`
	FinalPath      string            `json:"finalPath,omitempty" db:"final_path"`
	Metadata       map[string]string `json:"metadata,omitempty" db:"-"`
	CreatedAt      time.Time         `json:"createdAt" db:"created_at"`
	UpdatedAt      time.Time         `json:"updatedAt" db:"updated_at"`
	CompletedAt    *time.Time        `json:"completedAt,omitempty" db:"completed_at"`
}

// Progress returns the percentage of chunks stored.
func (s *Session) Progress() float64 {
	if s.TotalChunks == 0 {
		return 0
	}
	return float64(s.UploadedChunks) / float64(s.TotalChunks) * 100
}

// ExpectedChunkSize returns the number of bytes chunk index must hold.
// Every chunk is ChunkSize long except the last, which carries the remainder.
func (s *Session) ExpectedChunkSize(index int) int64 {
	if index < 0 || index >= s.TotalChunks {
		return 0
	}
	if index == s.TotalChunks-1 {
		return s.FileSize - int64(index)*s.ChunkSize
	}
	return s.ChunkSize
}

func (s *Session) clone() *Session {
	c := *s
	if s.Metadata != nil {
		c.Metadata = make(map[string]string, len(s.Metadata))
		for k, v := range s.Metadata {
			c.Metadata[k] = v
		}
	}
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// Chunk is the bookkeeping row for one stored chunk.
type Chunk struct {
	SessionID  string    `json:"-" db:"session_id"`
	ChunkIndex int       `json:"chunkIndex" db:"chunk_index"`
	Size       int64     `json:"size" db:"chunk_size"`
	Checksum   string    `json:"checksum,omitempty" db:"checksum"`
	CreatedAt  time.Time `json:"createdAt" db:"created_at"`
}

// SessionUpdate carries the mutable fields of a session. Nil fields are left untouched.
// When ExpectStatus is set the update only applies if the stored status is one of them.
type SessionUpdate struct {
	Status       *Status
	TempPath     *string
	FinalPath    *string
	CompletedAt  *time.Time
	ExpectStatus []Status
}

type InitiateRequest struct {
	OwnerID   string
	FileName  string
	FileSize  int64
	MimeType  string
	ChunkSize int64
	Metadata  map[string]string
}

type InitiateResult struct {
	UploadID    string `json:"uploadId"`
	ChunkSize   int64  `json:"chunkSize"`
	TotalChunks int    `json:"totalChunks"`
}

type ChunkRequest struct {
	UploadID   string
	ChunkIndex int
	Payload    io.Reader
	Checksum   string
}

type ChunkResult struct {
	ChunkIndex      int     `json:"chunkIndex"`
	UploadedChunks  int     `json:"uploadedChunks"`
	TotalChunks     int     `json:"totalChunks"`
	Progress        float64 `json:"progress"`
	AlreadyUploaded bool    `json:"alreadyUploaded"`
}

type CompleteResult struct {
	FileName  string `json:"fileName"`
	FinalPath string `json:"finalPath"`
	FileSize  int64  `json:"fileSize"`
}

type CancelResult struct {
	Status Status `json:"status"`
}

// StatusResult is a session snapshot with its computed progress.
type StatusResult struct {
	*Session
	Progress float64 `json:"progress"`
}
