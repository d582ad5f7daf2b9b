package uploadsdk

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/minio/sha256-simd"

	"github.com/dronehq/chunkup/internal/utils"
)

// resumeState is persisted after initiate so a later run can continue the same upload.
type resumeState struct {
	UploadID    string `json:"uploadId"`
	FilePath    string `json:"filePath"`
	Fingerprint string `json:"fingerprint"`
	Size        int64  `json:"size"`
	ChunkSize   int64  `json:"chunkSize"`
	TotalChunks int    `json:"totalChunks"`
}

func (s *resumeState) offset(index int) int64 {
	return int64(index) * s.ChunkSize
}

func (s *resumeState) chunkLen(index int) int64 {
	if index == s.TotalChunks-1 {
		return s.Size - s.offset(index)
	}
	return s.ChunkSize
}

type resumeStore struct {
	path        string
	filePath    string
	fingerprint string
	size        int64
}

func newResumeStore(dir, absPath string, info os.FileInfo) *resumeStore {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "chunkup-resume")
	}
	hash := sha256.Sum256([]byte(absPath))
	return &resumeStore{
		path:        filepath.Join(dir, hex.EncodeToString(hash[:16])+".json"),
		filePath:    absPath,
		fingerprint: fingerprint(info),
		size:        info.Size(),
	}
}

func fingerprint(info os.FileInfo) string {
	return fmt.Sprintf("%d:%d", info.Size(), info.ModTime().UnixNano())
}

// load returns nil when no usable record exists. Records for a file that changed
// since they were written are discarded.
func (r *resumeStore) load() (*resumeState, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read resume file: %w", err)
	}

	var s resumeState
	if err := jsonUnmarshal(data, &s); err != nil {
		_ = os.Remove(r.path)
		return nil, nil
	}

	if s.UploadID == "" || s.FilePath != r.filePath || s.Fingerprint != r.fingerprint || s.Size != r.size ||
		s.ChunkSize <= 0 || s.TotalChunks <= 0 {
		_ = os.Remove(r.path)
		return nil, nil
	}
	return &s, nil
}

func (r *resumeStore) save(s *resumeState) error {
	if err := utils.EnsureParent(r.path); err != nil {
		return fmt.Errorf("ensure resume dir: %w", err)
	}
	data, err := jsonMarshal(s)
	if err != nil {
		return fmt.Errorf("encode resume file: %w", err)
	}
	return os.WriteFile(r.path, data, 0o644)
}

func (r *resumeStore) clear() error {
	if err := os.Remove(r.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
