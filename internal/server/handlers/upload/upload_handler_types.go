package upload

// InitiateRequest opens a new upload session. Field validation is left to the service.
type InitiateRequest struct {
	FileName  string            `json:"fileName"`
	FileSize  int64             `json:"fileSize"`
	MimeType  string            `json:"mimeType"`
	ChunkSize int64             `json:"chunkSize"`
	Metadata  map[string]string `json:"metadata"`
}

// ChunkRequest carries the form fields of a multipart chunk upload. The payload
// itself is the "chunk" file part.
type ChunkRequest struct {
	UploadID   string `form:"uploadId" binding:"required"`
	ChunkIndex *int   `form:"chunkIndex" binding:"required,gte=0"`
	Checksum   string `form:"checksum"`
}

// SessionRequest addresses an existing session in complete and cancel calls.
type SessionRequest struct {
	UploadID string `json:"uploadId" binding:"required"`
}

type SessionURI struct {
	UploadID string `uri:"uploadId" binding:"required"`
}

type MissingResponse struct {
	UploadID      string `json:"uploadId"`
	MissingChunks []int  `json:"missingChunks"`
}
