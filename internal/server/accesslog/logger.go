package accesslog

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"
	lru "github.com/hashicorp/golang-lru/v2"
	"gopkg.in/natefinch/lumberjack.v2"
)

// AccessLogger keeps one rotated JSON-lines file per owner under baseDir.
type AccessLogger struct {
	baseDir string
	writers *lru.Cache[string, *lumberjack.Logger]
	logger  *slog.Logger
}

func New(baseDir string, logger *slog.Logger) (*AccessLogger, error) {
	if err := os.MkdirAll(baseDir, LogDirPerm); err != nil {
		return nil, fmt.Errorf("create access log dir: %w", err)
	}

	writers, err := lru.NewWithEvict(MaxOpenWriters, func(_ string, w *lumberjack.Logger) {
		w.Close()
	})
	if err != nil {
		return nil, err
	}

	return &AccessLogger{
		baseDir: baseDir,
		writers: writers,
		logger:  logger.With("component", "access_logger"),
	}, nil
}

// Log appends the entry to its owner's log. Failures are logged, never returned.
func (al *AccessLogger) Log(entry Entry) {
	if entry.Owner == "" {
		entry.Owner = anonymousOwner
	}

	data, err := json.Marshal(entry)
	if err != nil {
		al.logger.Error("encode access log entry", "owner", entry.Owner, "error", err)
		return
	}

	if _, err := al.writer(entry.Owner).Write(append(data, '\n')); err != nil {
		al.logger.Error("write access log", "owner", entry.Owner, "path", entry.Path, "error", err)
	}
}

func (al *AccessLogger) writer(owner string) *lumberjack.Logger {
	if w, ok := al.writers.Get(owner); ok {
		return w
	}
	w := &lumberjack.Logger{
		Filename:   al.logPath(owner),
		MaxSize:    MaxLogSizeMB,
		MaxBackups: MaxLogFiles,
		Compress:   true,
	}
	if prev, ok, _ := al.writers.PeekOrAdd(owner, w); ok {
		return prev
	}
	return w
}

func (al *AccessLogger) logPath(owner string) string {
	return filepath.Join(al.baseDir, sanitizeOwner(owner), "access.log")
}

// Recent returns up to limit of the owner's newest entries from the current log file,
// oldest first.
func (al *AccessLogger) Recent(owner string, limit int) ([]Entry, error) {
	if owner == "" {
		owner = anonymousOwner
	}

	file, err := os.Open(al.logPath(owner))
	if os.IsNotExist(err) {
		return []Entry{}, nil
	} else if err != nil {
		return nil, err
	}
	defer file.Close()

	entries := []Entry{}
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var entry Entry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return entries, nil
}

func (al *AccessLogger) Close() error {
	al.writers.Purge()
	return nil
}

// sanitizeOwner converts an owner id to a filesystem-safe directory name
func sanitizeOwner(owner string) string {
	result := make([]byte, 0, len(owner))
	for i := 0; i < len(owner); i++ {
		c := owner[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '@' || c == '.' || c == '-' || c == '_' {
			result = append(result, c)
		} else {
			result = append(result, '_')
		}
	}
	if len(result) == 0 || string(result) == "." || string(result) == ".." {
		return anonymousOwner
	}
	return string(result)
}
