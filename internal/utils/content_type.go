package utils

import (
	"mime"
	"path/filepath"
	"strings"
)

// text formats that mime.TypeByExtension doesn't know on every platform
var textExtensions = map[string]string{
	".csv":  "text/csv; charset=utf-8",
	".log":  "text/plain; charset=utf-8",
	".md":   "text/markdown; charset=utf-8",
	".yaml": "application/yaml",
	".yml":  "application/yaml",
	".toml": "application/toml",
}

// DetectContentType guesses a mime type from a file name, falling back to application/octet-stream.
func DetectContentType(fileName string) string {
	ext := strings.ToLower(filepath.Ext(fileName))
	if ext == "" {
		return "application/octet-stream"
	}
	if ct, ok := textExtensions[ext]; ok {
		return ct
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
