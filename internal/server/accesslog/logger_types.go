package accesslog

import (
	"time"

	"github.com/goccy/go-json"
)

const (
	MaxLogSizeMB   = 10
	MaxLogFiles    = 5
	MaxOpenWriters = 128
	LogDirPerm     = 0o700

	timestampLayout = "2006-01-02 15:04:05.000 UTC"
	anonymousOwner  = "anonymous"
)

// Entry is one upload API call as recorded in the owner's activity log.
type Entry struct {
	Timestamp  time.Time `json:"-"`
	Owner      string    `json:"owner"`
	Action     string    `json:"action"`
	UploadID   string    `json:"upload_id,omitempty"`
	Method     string    `json:"method"`
	Path       string    `json:"path"`
	IP         string    `json:"ip"`
	UserAgent  string    `json:"user_agent"`
	StatusCode int       `json:"status_code"`
	Bytes      int64     `json:"bytes"`
	LatencyMs  int64     `json:"latency_ms"`
}

type entryJSON Entry

type entryWire struct {
	entryJSON
	Timestamp string `json:"timestamp"`
}

// MarshalJSON writes the timestamp in a human readable UTC form.
func (e Entry) MarshalJSON() ([]byte, error) {
	return json.Marshal(&entryWire{
		entryJSON: entryJSON(e),
		Timestamp: e.Timestamp.UTC().Format(timestampLayout),
	})
}

func (e *Entry) UnmarshalJSON(data []byte) error {
	var aux entryWire
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	ts, err := time.Parse(timestampLayout, aux.Timestamp)
	if err != nil {
		if ts, err = time.Parse(time.RFC3339, aux.Timestamp); err != nil {
			return err
		}
	}

	*e = Entry(aux.entryJSON)
	e.Timestamp = ts
	return nil
}
