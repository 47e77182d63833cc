package submit

import (
	"context"
	"net/http"
	"time"

	"formpost/internal/core"
)

// FetchRequest describes one authenticated GET, used to look up the task an
// earlier submission created.
type FetchRequest struct {
	Host        string
	Path        string
	BearerToken string
	Headers     map[string]string
	Timeout     time.Duration
}

// Fetch GETs req.Path once and reads the full reply. Like Submit, any status
// is returned as data and there is no polling or retry.
func (c *Client) Fetch(ctx context.Context, req *FetchRequest) (*Response, error) {
	if req == nil {
		return nil, core.NewInvalidRequestError("request is required", nil)
	}

	target, err := targetURL(req.Host, req.Path)
	if err != nil {
		return nil, err
	}

	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}
	ctx, connected := traceConnection(ctx)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, core.NewInvalidRequestError("failed to create request", err)
	}
	for key, value := range req.Headers {
		httpReq.Header.Set(key, value)
	}
	httpReq.Header.Set("Authorization", "Bearer "+req.BearerToken)

	return c.do(httpReq, target.Host, connected)
}
