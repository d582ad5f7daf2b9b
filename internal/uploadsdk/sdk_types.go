package uploadsdk

import "time"

type envelope[T any] struct {
	Success bool      `json:"success"`
	Data    T         `json:"data"`
	Error   *APIError `json:"error"`
}

type InitiateRequest struct {
	FileName  string            `json:"fileName"`
	FileSize  int64             `json:"fileSize"`
	MimeType  string            `json:"mimeType,omitempty"`
	ChunkSize int64             `json:"chunkSize,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

type InitiateResponse struct {
	UploadID    string `json:"uploadId"`
	ChunkSize   int64  `json:"chunkSize"`
	TotalChunks int    `json:"totalChunks"`
}

type ChunkResponse struct {
	ChunkIndex      int     `json:"chunkIndex"`
	UploadedChunks  int     `json:"uploadedChunks"`
	TotalChunks     int     `json:"totalChunks"`
	Progress        float64 `json:"progress"`
	AlreadyUploaded bool    `json:"alreadyUploaded"`
}

type CompleteResponse struct {
	FileName  string `json:"fileName"`
	FinalPath string `json:"finalPath"`
	FileSize  int64  `json:"fileSize"`
}

type CancelResponse struct {
	Status string `json:"status"`
}

type StatusResponse struct {
	UploadID       string            `json:"uploadId"`
	OwnerID        string            `json:"ownerId"`
	FileName       string            `json:"fileName"`
	MimeType       string            `json:"mimeType"`
	FileSize       int64             `json:"fileSize"`
	ChunkSize      int64             `json:"chunkSize"`
	TotalChunks    int               `json:"totalChunks"`
	UploadedChunks int               `json:"uploadedChunks"`
	Status         string            `json:"status"`
	FinalPath      string            `json:"finalPath"`
	Metadata       map[string]string `json:"metadata"`
	Progress       float64           `json:"progress"`
	CreatedAt      time.Time         `json:"createdAt"`
	UpdatedAt      time.Time         `json:"updatedAt"`
	CompletedAt    *time.Time        `json:"completedAt"`
}

type missingResponse struct {
	UploadID      string `json:"uploadId"`
	MissingChunks []int  `json:"missingChunks"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type TokenResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}
