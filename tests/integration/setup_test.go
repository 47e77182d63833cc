//go:build integration

package integration

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"formpost/config"
	"formpost/internal/app"
	"formpost/tests/integration/dbassert"
)

// TestServerConfig configures how the test server is set up.
type TestServerConfig struct {
	// DBType is either "postgresql" or "mongodb"
	DBType string

	// CacheType is "memory" (default) or "redis"
	CacheType string

	// MasterKey sets the relay master key (empty = unsafe mode)
	MasterKey string
}

// TestServerFixture holds test server resources.
type TestServerFixture struct {
	// ServerURL is the base URL of the relay
	ServerURL string

	// App is the running application
	App *app.App

	// Upstream is the mock submission target
	Upstream *MockUpstream

	// PgPool is the PostgreSQL connection pool (for DB assertions)
	PgPool *pgxpool.Pool

	// MongoDb is the MongoDB database (for DB assertions)
	MongoDb *mongo.Database

	// DBType is the configured database type
	DBType string

	shutdown atomic.Bool
}

// SetupTestServer starts a relay backed by the selected database.
func SetupTestServer(t *testing.T, cfg TestServerConfig) *TestServerFixture {
	t.Helper()

	fixture := &TestServerFixture{DBType: cfg.DBType}
	switch cfg.DBType {
	case "postgresql":
		fixture.PgPool = GetPostgreSQLPool()
		dbassert.ClearSubmissions(t, fixture.PgPool)
	case "mongodb":
		fixture.MongoDb = GetMongoDatabase()
		dbassert.ClearSubmissionsMongo(t, fixture.MongoDb)
	}

	fixture.Upstream = NewMockUpstream()

	port, err := findAvailablePort()
	require.NoError(t, err, "failed to find available port")

	appCfg := buildAppConfig(t, cfg, fixture.Upstream.Host(), port)

	application, err := app.New(GetTestContext(), app.Config{
		AppConfig:  appCfg,
		HTTPClient: fixture.Upstream.Client(),
	})
	require.NoError(t, err, "failed to create app")
	fixture.App = application

	fixture.ServerURL = fmt.Sprintf("http://127.0.0.1:%d", port)
	go func() {
		_ = application.Start(fmt.Sprintf("127.0.0.1:%d", port))
	}()

	require.NoError(t, waitForServer(fixture.ServerURL+"/health"), "server failed to become healthy")

	t.Cleanup(func() { fixture.Shutdown(t) })
	return fixture
}

// FlushAndClose drains the history writer and stops the relay.
// Call this before making any DB assertions.
func (f *TestServerFixture) FlushAndClose(t *testing.T) {
	t.Helper()
	if !f.shutdown.CompareAndSwap(false, true) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	require.NoError(t, f.App.Shutdown(ctx), "failed to shutdown app")
}

// Shutdown stops the relay and the mock upstream.
func (f *TestServerFixture) Shutdown(t *testing.T) {
	t.Helper()

	if f.shutdown.CompareAndSwap(false, true) {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = f.App.Shutdown(ctx)
	}
	f.Upstream.Close()
}

func buildAppConfig(t *testing.T, cfg TestServerConfig, upstreamHost string, port int) *config.Config {
	t.Helper()

	appCfg := config.Defaults()
	appCfg.Server.Port = fmt.Sprintf("%d", port)
	appCfg.Server.MasterKey = cfg.MasterKey
	appCfg.Target.Host = upstreamHost
	appCfg.Target.APIKey = upstreamToken
	appCfg.History = config.HistoryConfig{
		Enabled:       true,
		BufferSize:    100,
		FlushInterval: 100 * time.Millisecond,
	}

	switch cfg.DBType {
	case "postgresql":
		appCfg.Storage.Type = config.StoragePostgreSQL
		appCfg.Storage.PostgreSQL = config.PostgreSQLConfig{URL: GetPostgreSQLURL(), MaxConns: 5}
	case "mongodb":
		appCfg.Storage.Type = config.StorageMongoDB
		appCfg.Storage.MongoDB = config.MongoDBConfig{URL: GetMongoURL(), Database: "formpost_test"}
	default:
		t.Fatalf("unsupported DB type: %s", cfg.DBType)
	}

	if cfg.CacheType == config.CacheRedis {
		appCfg.Cache.Type = config.CacheRedis
		appCfg.Cache.Redis = config.RedisConfig{URL: GetRedisURL(), Prefix: "formpost:test:" + t.Name() + ":"}
	}

	require.NoError(t, appCfg.Validate())
	return appCfg
}

// waitForServer waits for the server to become healthy.
func waitForServer(healthURL string) error {
	client := &http.Client{Timeout: 2 * time.Second}
	for i := 0; i < 50; i++ {
		resp, err := client.Get(healthURL)
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("server did not become healthy within timeout")
}

// findAvailablePort finds an available TCP port on loopback.
func findAvailablePort() (int, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer func() { _ = listener.Close() }()
	return listener.Addr().(*net.TCPAddr).Port, nil
}

const upstreamToken = "sk-upstream-test"

// MockUpstream is a TLS submission target that answers with a task id.
type MockUpstream struct {
	server *httptest.Server
	calls  atomic.Int64
}

// NewMockUpstream creates a new mock upstream.
func NewMockUpstream() *MockUpstream {
	m := &MockUpstream{}
	m.server = httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := m.calls.Add(1)

		if r.Header.Get("Authorization") != "Bearer "+upstreamToken {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = io.WriteString(w, `{"error":{"message":"invalid token"}}`)
			return
		}
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintf(w, `{"id":"task-%d","status":"queued"}`, n)
	}))
	return m
}

// Host returns the host:port of the upstream.
func (m *MockUpstream) Host() string { return m.server.Listener.Addr().String() }

// Client returns an HTTP client trusting the upstream certificate.
func (m *MockUpstream) Client() *http.Client { return m.server.Client() }

// Calls returns how many requests reached the upstream.
func (m *MockUpstream) Calls() int { return int(m.calls.Load()) }

// Close shuts the upstream down.
func (m *MockUpstream) Close() { m.server.Close() }

// postUpload sends a multipart upload to the relay.
func postUpload(t *testing.T, url string, headers map[string]string, fields [][2]string, fileName string, content []byte) *http.Response {
	t.Helper()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for _, f := range fields {
		require.NoError(t, mw.WriteField(f[0], f[1]))
	}
	if fileName != "" {
		fw, err := mw.CreateFormFile("init_image", fileName)
		require.NoError(t, err)
		_, err = fw.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, url, &body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := (&http.Client{Timeout: 30 * time.Second}).Do(req)
	require.NoError(t, err)
	return resp
}

func readBody(t *testing.T, resp *http.Response) []byte {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return data
}
