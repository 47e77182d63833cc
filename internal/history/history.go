// Package history records one entry per submission so replies can be found
// again after the fact.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound indicates a requested record was not found.
var ErrNotFound = errors.New("submission not found")

// Record sources.
const (
	SourceCLI   = "cli"
	SourceRelay = "relay"
)

// Record describes one completed or failed submission.
type Record struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Source    string    `json:"source"`

	Host string `json:"host"`
	Path string `json:"path"`

	// StatusCode is zero when no response was received.
	StatusCode int   `json:"status_code,omitempty"`
	DurationMs int64 `json:"duration_ms"`

	// Fields are the text field names in the order they were sent.
	Fields []string  `json:"fields"`
	File   *FileInfo `json:"file,omitempty"`

	// PayloadHash is the xxhash64 of the submitted field values and file bytes.
	PayloadHash string `json:"payload_hash"`
	// TaskID is the job id found in a JSON reply, if any.
	TaskID string `json:"task_id,omitempty"`
	// ResponseBytes is the length of the upstream reply.
	ResponseBytes int `json:"response_bytes"`

	ErrorType    string `json:"error_type,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// FileInfo describes the attached file without its content.
type FileInfo struct {
	FieldName   string `json:"field_name"`
	FileName    string `json:"file_name"`
	ContentType string `json:"content_type"`
	Size        int    `json:"size"`
}

// Store persists records. List returns records ordered by created_at desc,
// id desc, starting after the record with id after.
type Store interface {
	Create(ctx context.Context, rec *Record) error
	CreateBatch(ctx context.Context, recs []*Record) error
	Get(ctx context.Context, id string) (*Record, error)
	List(ctx context.Context, limit int, after string) ([]*Record, error)
	Close() error
}

// Default and maximum page sizes. Stores accept one more than MaxListLimit
// so a caller can ask for a page plus one to detect whether more follow.
const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

func normalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultListLimit
	case limit > MaxListLimit+1:
		return MaxListLimit + 1
	default:
		return limit
	}
}

func validateRecord(rec *Record) error {
	if rec == nil || rec.ID == "" {
		return fmt.Errorf("record id is required")
	}
	return nil
}

func serializeRecord(rec *Record) ([]byte, error) {
	if err := validateRecord(rec); err != nil {
		return nil, err
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("marshal record: %w", err)
	}
	return b, nil
}

func deserializeRecord(raw []byte) (*Record, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty record payload")
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal record: %w", err)
	}
	return &rec, nil
}

func cloneRecord(src *Record) (*Record, error) {
	b, err := serializeRecord(src)
	if err != nil {
		return nil, err
	}
	return deserializeRecord(b)
}
