// Package submit performs one multipart/form-data POST over TLS and returns the
// raw reply.
//
// A call is a single linear exchange: encode the form, open a connection, send,
// read the whole response, close. There are no retries and no interpretation
// of the reply; any HTTP status, including 4xx and 5xx, is returned as data.
// Failures are *core.SubmitError values of type connection_error (no
// connection was ever obtained) or transport_error (the connection broke
// mid-exchange).
package submit

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptrace"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"formpost/internal/core"
	"formpost/internal/formdata"
	"formpost/internal/httpclient"
)

// Request describes one submission.
type Request struct {
	// Host is the target authority, optionally with a port. TLS is always used.
	Host string
	// Path is the request path, optionally with a query string.
	Path string
	// BearerToken is sent as "Authorization: Bearer <token>".
	BearerToken string
	// Fields are emitted in order after the file part.
	Fields []formdata.Field
	// File is the optional single attachment.
	File *formdata.FilePart
	// Headers are merged over the defaults. Authorization cannot be replaced.
	Headers map[string]string
	// Boundary is the multipart delimiter; a random one is used when empty.
	Boundary string
	// Timeout bounds this call. Zero leaves the client's defaults in place.
	Timeout time.Duration
}

// Response is the raw upstream reply.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// OK reports whether the status code is 2xx.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Info describes a submission to an Observer.
type Info struct {
	Host         string
	Path         string
	RequestBytes int
}

// Observer is notified around each submission that reaches the network.
// Implementations must be safe for concurrent use.
type Observer interface {
	SubmissionStarted(info Info)
	SubmissionFinished(info Info, statusCode int, duration time.Duration, err error)
}

// Client submits multipart requests. It is safe for concurrent use.
type Client struct {
	httpClient *http.Client
	observer   Observer
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default per-call-connection client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// WithObserver installs submission hooks (metrics).
func WithObserver(observer Observer) Option {
	return func(c *Client) {
		c.observer = observer
	}
}

// New creates a Client. Without options it uses httpclient.NewDefaultHTTPClient.
func New(opts ...Option) *Client {
	c := &Client{}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = httpclient.NewDefaultHTTPClient()
	}
	return c
}

// Submit is the one-shot form of Client.Submit using a default client.
func Submit(ctx context.Context, host, path, bearerToken string, fields []formdata.Field, file *formdata.FilePart, extraHeaders map[string]string) (int, []byte, error) {
	resp, err := New().Submit(ctx, &Request{
		Host:        host,
		Path:        path,
		BearerToken: bearerToken,
		Fields:      fields,
		File:        file,
		Headers:     extraHeaders,
	})
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, resp.Body, nil
}

// Submit encodes req, POSTs it and reads the full reply.
func (c *Client) Submit(ctx context.Context, req *Request) (*Response, error) {
	if req == nil {
		return nil, core.NewInvalidRequestError("request is required", nil)
	}

	target, err := targetURL(req.Host, req.Path)
	if err != nil {
		return nil, err
	}

	form := &formdata.Form{
		Boundary: req.Boundary,
		File:     req.File,
		Fields:   req.Fields,
	}
	body, err := form.Encode()
	if err != nil {
		return nil, core.NewInvalidRequestError("failed to encode multipart body: "+err.Error(), err)
	}

	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}
	ctx, connected := traceConnection(ctx)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String(), bytes.NewReader(body.Bytes))
	if err != nil {
		return nil, core.NewInvalidRequestError("failed to create request", err)
	}
	httpReq.Header.Set("Content-Type", body.ContentType())
	for key, value := range req.Headers {
		if strings.EqualFold(key, "Host") {
			httpReq.Host = value
			continue
		}
		httpReq.Header.Set(key, value)
	}
	httpReq.Header.Set("Authorization", "Bearer "+req.BearerToken)

	info := Info{Host: target.Host, Path: target.RequestURI(), RequestBytes: len(body.Bytes)}
	start := time.Now()
	if c.observer != nil {
		c.observer.SubmissionStarted(info)
	}

	resp, err := c.do(httpReq, target.Host, connected)
	if c.observer != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		c.observer.SubmissionFinished(info, status, time.Since(start), err)
	}
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// traceConnection marks the returned flag once a connection is obtained, which
// separates "never connected" from "connection lost".
func traceConnection(ctx context.Context) (context.Context, *atomic.Bool) {
	connected := new(atomic.Bool)
	ctx = httptrace.WithClientTrace(ctx, &httptrace.ClientTrace{
		GotConn: func(httptrace.GotConnInfo) {
			connected.Store(true)
		},
	})
	return ctx, connected
}

func (c *Client) do(httpReq *http.Request, host string, connected *atomic.Bool) (*Response, error) {
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if connected.Load() {
			return nil, core.NewTransportError(host, "failed to send request: "+err.Error(), err)
		}
		return nil, core.NewConnectionError(host, "failed to connect: "+err.Error(), err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, core.NewTransportError(host, "failed to read response: "+err.Error(), err)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
	}, nil
}

func targetURL(host, path string) (*url.URL, error) {
	host = strings.TrimSpace(host)
	if host == "" {
		return nil, core.NewInvalidRequestError("host is required", nil)
	}
	if strings.Contains(host, "://") || strings.ContainsAny(host, "/?#") {
		return nil, core.NewInvalidRequestError("host must be a bare authority, got "+host, nil)
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	u, err := url.Parse("https://" + host + path)
	if err != nil {
		return nil, core.NewInvalidRequestError("invalid target: "+err.Error(), err)
	}
	return u, nil
}
