package history

import (
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"formpost/internal/core"
	"formpost/internal/formdata"
)

// Submission is what a caller knows after one call to the submit client.
type Submission struct {
	Source     string
	Host       string
	Path       string
	Fields     []formdata.Field
	File       *formdata.FilePart
	StatusCode int
	Body       []byte
	Duration   time.Duration
	Err        error
}

// taskIDPaths are tried in order against a JSON reply.
var taskIDPaths = []string{"id", "task_id", "data.id", "data.task_id"}

// NewRecord builds a Record with a fresh time-ordered id.
func NewRecord(s Submission) *Record {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}

	rec := &Record{
		ID:            id.String(),
		CreatedAt:     time.Now().UTC(),
		Source:        s.Source,
		Host:          s.Host,
		Path:          s.Path,
		StatusCode:    s.StatusCode,
		DurationMs:    s.Duration.Milliseconds(),
		Fields:        make([]string, 0, len(s.Fields)),
		PayloadHash:   PayloadHash(s.Fields, s.File),
		TaskID:        TaskID(s.Body),
		ResponseBytes: len(s.Body),
	}
	for _, f := range s.Fields {
		rec.Fields = append(rec.Fields, f.Name)
	}
	if s.File != nil {
		contentType := s.File.ContentType
		if contentType == "" {
			contentType = formdata.ContentTypeFor(s.File.FileName)
		}
		rec.File = &FileInfo{
			FieldName:   s.File.FieldName,
			FileName:    s.File.FileName,
			ContentType: contentType,
			Size:        len(s.File.Content),
		}
	}
	if s.Err != nil {
		rec.ErrorType = string(core.TypeOf(s.Err))
		if rec.ErrorType == "" {
			rec.ErrorType = "error"
		}
		rec.ErrorMessage = s.Err.Error()
	}
	return rec
}

// PayloadHash hashes names, values and file content in wire order. Two
// submissions of the same form hash equally regardless of boundary.
func PayloadHash(fields []formdata.Field, file *formdata.FilePart) string {
	d := xxhash.New()
	sep := []byte{0}
	if file != nil {
		_, _ = d.WriteString(file.FieldName)
		_, _ = d.Write(sep)
		_, _ = d.WriteString(file.FileName)
		_, _ = d.Write(sep)
		_, _ = d.Write(file.Content)
		_, _ = d.Write(sep)
	}
	for _, f := range fields {
		_, _ = d.WriteString(f.Name)
		_, _ = d.Write(sep)
		_, _ = d.WriteString(f.Value)
		_, _ = d.Write(sep)
	}
	return fmt.Sprintf("%016x", d.Sum64())
}

// TaskID returns the first non-empty id found in a JSON reply, or "".
func TaskID(body []byte) string {
	if len(body) == 0 || !gjson.ValidBytes(body) {
		return ""
	}
	for _, v := range gjson.GetManyBytes(body, taskIDPaths...) {
		if v.Exists() && v.Type != gjson.JSON {
			if s := v.String(); s != "" {
				return s
			}
		}
	}
	return ""
}
