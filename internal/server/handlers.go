package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"formpost/config"
	"formpost/internal/cache"
	"formpost/internal/core"
	"formpost/internal/formdata"
	"formpost/internal/history"
	"formpost/internal/submit"
)

// Relay headers.
const (
	HeaderIdempotencyKey     = "Idempotency-Key"
	HeaderIdempotentReplayed = "Idempotent-Replayed"
	HeaderSubmissionID       = "X-Submission-ID"
)

// Submitter is the part of *submit.Client the relay uses.
type Submitter interface {
	Submit(ctx context.Context, req *submit.Request) (*submit.Response, error)
	Fetch(ctx context.Context, req *submit.FetchRequest) (*submit.Response, error)
}

// Handler holds the HTTP handlers
type Handler struct {
	client  Submitter
	target  targetConfig
	cache   cache.Cache
	history history.Recorder
	records history.Store
}

type targetConfig struct {
	host     string
	path     string
	taskPath string
	apiKey   string
	timeout  time.Duration
}

// NewHandler creates a new handler forwarding through client.
func NewHandler(client Submitter, cfg *Config) *Handler {
	h := &Handler{
		client: client,
		target: targetConfig{
			host:     cfg.Target.Host,
			path:     cfg.Target.Path,
			taskPath: cfg.Target.TaskPath,
			apiKey:   cfg.Target.APIKey,
			timeout:  cfg.Timeout,
		},
		cache:   cfg.Cache,
		history: cfg.History,
		records: cfg.Records,
	}
	if h.history == nil {
		h.history = history.NoopWriter{}
	}
	return h
}

// Health handles GET /health
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// Submit handles POST /v1/submit
func (h *Handler) Submit(c echo.Context) error {
	ctx := c.Request().Context()
	key := c.Request().Header.Get(HeaderIdempotencyKey)

	if key != "" && h.cache != nil {
		entry, err := h.cache.Get(ctx, key)
		if err != nil {
			slog.Warn("idempotency cache lookup failed", "error", err)
		} else if entry != nil {
			c.Response().Header().Set(HeaderIdempotentReplayed, "true")
			if entry.RecordID != "" {
				c.Response().Header().Set(HeaderSubmissionID, entry.RecordID)
			}
			return c.Blob(entry.StatusCode, entry.ContentType, entry.Body)
		}
	}

	fields, file, err := readUpload(c.Request())
	if err != nil {
		var httpErr *echo.HTTPError
		if errors.As(err, &httpErr) {
			return httpErr
		}
		return handleError(c, err)
	}

	targetPath := h.target.path
	if p := c.QueryParam("path"); p != "" {
		targetPath = p
	}

	headers := map[string]string{}
	if id := c.Response().Header().Get(echo.HeaderXRequestID); id != "" {
		headers[echo.HeaderXRequestID] = id
	}

	start := time.Now()
	resp, err := h.client.Submit(ctx, &submit.Request{
		Host:        h.target.host,
		Path:        targetPath,
		BearerToken: h.target.apiKey,
		Fields:      fields,
		File:        file,
		Headers:     headers,
		Timeout:     h.target.timeout,
	})

	sub := history.Submission{
		Source:   history.SourceRelay,
		Host:     h.target.host,
		Path:     targetPath,
		Fields:   fields,
		File:     file,
		Duration: time.Since(start),
		Err:      err,
	}
	if resp != nil {
		sub.StatusCode = resp.StatusCode
		sub.Body = resp.Body
	}
	rec := history.NewRecord(sub)
	h.history.Record(rec)

	if err != nil {
		slog.Warn("submission failed",
			"host", h.target.host,
			"path", targetPath,
			"error_type", core.TypeOf(err),
			"error", err,
		)
		return handleError(c, err)
	}

	contentType := resp.Header.Get(echo.HeaderContentType)
	if key != "" && h.cache != nil {
		entry := &cache.Entry{
			StatusCode:  resp.StatusCode,
			ContentType: contentType,
			Body:        resp.Body,
			RecordID:    rec.ID,
			StoredAt:    time.Now().UTC(),
		}
		if err := h.cache.Set(ctx, key, entry); err != nil {
			slog.Warn("idempotency cache store failed", "error", err)
		}
	}

	c.Response().Header().Set(HeaderSubmissionID, rec.ID)
	if contentType == "" {
		contentType = echo.MIMEOctetStream
	}
	return c.Blob(resp.StatusCode, contentType, resp.Body)
}

// readUpload reads the incoming parts in arrival order. The first part with
// a filename is the file; every other part is a text field.
func readUpload(r *http.Request) ([]formdata.Field, *formdata.FilePart, error) {
	reader, err := r.MultipartReader()
	if err != nil {
		return nil, nil, core.NewInvalidRequestError("expected a multipart/form-data upload: "+err.Error(), err)
	}

	var fields []formdata.Field
	var file *formdata.FilePart
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, uploadReadError(err)
		}

		data, err := readPart(part)
		if err != nil {
			return nil, nil, uploadReadError(err)
		}

		name := part.FormName()
		if name == "" {
			return nil, nil, core.NewInvalidRequestError("part without a form name", nil)
		}
		if err := formdata.ValidateName(name); err != nil {
			return nil, nil, core.NewInvalidRequestError("form name: "+err.Error(), err)
		}

		if part.FileName() != "" {
			if err := formdata.ValidateName(part.FileName()); err != nil {
				return nil, nil, core.NewInvalidRequestError("filename: "+err.Error(), err)
			}
			if file != nil {
				return nil, nil, core.NewInvalidRequestError("only one file part is allowed, got a second in "+name, nil)
			}
			file = &formdata.FilePart{
				FieldName: name,
				FileName:  part.FileName(),
				Content:   data,
			}
			continue
		}
		fields = append(fields, formdata.Field{Name: name, Value: string(data)})
	}
	return fields, file, nil
}

func readPart(part *multipart.Part) ([]byte, error) {
	defer func() {
		_ = part.Close()
	}()
	return io.ReadAll(part)
}

func uploadReadError(err error) error {
	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr
	}
	return core.NewInvalidRequestError("failed to read upload: "+err.Error(), err)
}

// ListSubmissions handles GET /v1/submissions
func (h *Handler) ListSubmissions(c echo.Context) error {
	if h.records == nil {
		return handleError(c, core.NewNotFoundError("submission history is disabled"))
	}

	limit := history.DefaultListLimit
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > history.MaxListLimit {
			return handleError(c, core.NewInvalidRequestError("limit must be an integer between 1 and 100", err))
		}
		limit = n
	}

	items, err := h.records.List(c.Request().Context(), limit+1, c.QueryParam("after"))
	if err != nil {
		if errors.Is(err, history.ErrNotFound) {
			return handleError(c, core.NewNotFoundError("after cursor not found: "+c.QueryParam("after")))
		}
		return handleError(c, err)
	}

	hasMore := len(items) > limit
	if hasMore {
		items = items[:limit]
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"object":   "list",
		"data":     items,
		"has_more": hasMore,
	})
}

// GetSubmission handles GET /v1/submissions/:id
func (h *Handler) GetSubmission(c echo.Context) error {
	if h.records == nil {
		return handleError(c, core.NewNotFoundError("submission history is disabled"))
	}

	id := c.Param("id")
	rec, err := h.records.Get(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, history.ErrNotFound) {
			return handleError(c, core.NewNotFoundError("submission not found: "+id))
		}
		return handleError(c, err)
	}
	return c.JSON(http.StatusOK, rec)
}

// GetSubmissionTask handles GET /v1/submissions/:id/task. It looks up the
// upstream task the submission created, once, with the server-held token.
func (h *Handler) GetSubmissionTask(c echo.Context) error {
	if h.records == nil {
		return handleError(c, core.NewNotFoundError("submission history is disabled"))
	}
	if h.target.taskPath == "" {
		return handleError(c, core.NewNotFoundError("task lookup is not configured"))
	}

	ctx := c.Request().Context()
	id := c.Param("id")
	rec, err := h.records.Get(ctx, id)
	if err != nil {
		if errors.Is(err, history.ErrNotFound) {
			return handleError(c, core.NewNotFoundError("submission not found: "+id))
		}
		return handleError(c, err)
	}
	if rec.TaskID == "" {
		return handleError(c, core.NewNotFoundError("submission has no task id: "+id))
	}

	headers := map[string]string{}
	if reqID := c.Response().Header().Get(echo.HeaderXRequestID); reqID != "" {
		headers[echo.HeaderXRequestID] = reqID
	}
	taskPath := strings.ReplaceAll(h.target.taskPath, config.TaskIDPlaceholder, url.PathEscape(rec.TaskID))

	resp, err := h.client.Fetch(ctx, &submit.FetchRequest{
		Host:        h.target.host,
		Path:        taskPath,
		BearerToken: h.target.apiKey,
		Headers:     headers,
		Timeout:     h.target.timeout,
	})
	if err != nil {
		slog.Warn("task lookup failed",
			"submission_id", id,
			"task_id", rec.TaskID,
			"error_type", core.TypeOf(err),
			"error", err,
		)
		return handleError(c, err)
	}

	c.Response().Header().Set(HeaderSubmissionID, rec.ID)
	contentType := resp.Header.Get(echo.HeaderContentType)
	if contentType == "" {
		contentType = echo.MIMEOctetStream
	}
	return c.Blob(resp.StatusCode, contentType, resp.Body)
}

// handleError converts submission errors to appropriate HTTP responses
func handleError(c echo.Context, err error) error {
	var submitErr *core.SubmitError
	if errors.As(err, &submitErr) {
		return c.JSON(submitErr.HTTPStatusCode(), submitErr.ToJSON())
	}

	slog.Error("unexpected relay error", "error", err)
	return c.JSON(http.StatusInternalServerError, map[string]interface{}{
		"error": map[string]interface{}{
			"type":    "internal_error",
			"message": "an unexpected error occurred",
		},
	})
}
