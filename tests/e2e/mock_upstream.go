//go:build e2e

package e2e

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
)

// RecordingUpstream is a TLS submission target that keeps the raw bytes of
// every request it receives.
type RecordingUpstream struct {
	server *httptest.Server

	mu       sync.Mutex
	requests []RecordedRequest
	status   int
	body     string
}

// RecordedRequest stores what arrived on the wire.
type RecordedRequest struct {
	Method  string
	Path    string
	Headers http.Header
	Body    []byte
}

// NewRecordingUpstream creates a new recording upstream answering 200.
func NewRecordingUpstream() *RecordingUpstream {
	u := &RecordingUpstream{status: http.StatusOK, body: `{"id":"task-e2e"}`}
	u.server = httptest.NewTLSServer(http.HandlerFunc(u.handle))
	return u
}

func (u *RecordingUpstream) handle(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	u.mu.Lock()
	u.requests = append(u.requests, RecordedRequest{
		Method:  r.Method,
		Path:    r.URL.Path,
		Headers: r.Header.Clone(),
		Body:    body,
	})
	status, reply := u.status, u.body
	u.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, reply)
}

// Respond sets the status and body of the following replies.
func (u *RecordingUpstream) Respond(status int, body string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.status, u.body = status, body
}

// Reset clears recorded requests and restores the 200 reply.
func (u *RecordingUpstream) Reset() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.requests = nil
	u.status, u.body = http.StatusOK, `{"id":"task-e2e"}`
}

// Requests returns a copy of the recorded requests.
func (u *RecordingUpstream) Requests() []RecordedRequest {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]RecordedRequest(nil), u.requests...)
}

// Host returns the host:port of the upstream.
func (u *RecordingUpstream) Host() string { return u.server.Listener.Addr().String() }

// Client returns an HTTP client trusting the upstream certificate.
func (u *RecordingUpstream) Client() *http.Client { return u.server.Client() }

// Close shuts the upstream down.
func (u *RecordingUpstream) Close() { u.server.Close() }
