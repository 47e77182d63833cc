package history

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"formpost/config"
	"formpost/internal/storage"
)

func newTestRecord(id string, createdAt time.Time) *Record {
	return &Record{
		ID:          id,
		CreatedAt:   createdAt,
		Source:      SourceCLI,
		Host:        "api.302ai.cn",
		Path:        "/runway/submit",
		StatusCode:  200,
		DurationMs:  1200,
		Fields:      []string{"text_prompt", "seconds", "seed", "image_as_end_frame"},
		File:        &FileInfo{FieldName: "init_image", FileName: "pupu.png", ContentType: "image/png", Size: 4},
		PayloadHash: "00000000deadbeef",
		TaskID:      "task-" + id,
	}
}

// runStoreContract exercises the behavior every backend must share.
func runStoreContract(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.Create(ctx, newTestRecord("a", base)))
	require.NoError(t, store.CreateBatch(ctx, []*Record{
		newTestRecord("b", base.Add(time.Second)),
		newTestRecord("c", base.Add(2*time.Second)),
		// same instant as c: ties break on id desc
		newTestRecord("d", base.Add(2*time.Second)),
	}))

	t.Run("get", func(t *testing.T) {
		got, err := store.Get(ctx, "b")
		require.NoError(t, err)
		assert.Equal(t, "b", got.ID)
		assert.True(t, got.CreatedAt.Equal(base.Add(time.Second)))
		assert.Equal(t, []string{"text_prompt", "seconds", "seed", "image_as_end_frame"}, got.Fields)
		require.NotNil(t, got.File)
		assert.Equal(t, "pupu.png", got.File.FileName)
		assert.Equal(t, "task-b", got.TaskID)
	})

	t.Run("get missing", func(t *testing.T) {
		_, err := store.Get(ctx, "missing")
		assert.True(t, errors.Is(err, ErrNotFound))
	})

	t.Run("duplicate id rejected", func(t *testing.T) {
		assert.Error(t, store.Create(ctx, newTestRecord("a", base)))
	})

	t.Run("missing id rejected", func(t *testing.T) {
		assert.Error(t, store.Create(ctx, &Record{}))
	})

	t.Run("list newest first", func(t *testing.T) {
		items, err := store.List(ctx, 0, "")
		require.NoError(t, err)
		assert.Equal(t, []string{"d", "c", "b", "a"}, ids(items))
	})

	t.Run("list pages with after cursor", func(t *testing.T) {
		page1, err := store.List(ctx, 2, "")
		require.NoError(t, err)
		assert.Equal(t, []string{"d", "c"}, ids(page1))

		page2, err := store.List(ctx, 2, page1[len(page1)-1].ID)
		require.NoError(t, err)
		assert.Equal(t, []string{"b", "a"}, ids(page2))

		page3, err := store.List(ctx, 2, "a")
		require.NoError(t, err)
		assert.Empty(t, page3)
	})

	t.Run("list unknown cursor", func(t *testing.T) {
		_, err := store.List(ctx, 2, "missing")
		assert.True(t, errors.Is(err, ErrNotFound))
	})
}

func ids(items []*Record) []string {
	out := make([]string, 0, len(items))
	for _, r := range items {
		out = append(out, r.ID)
	}
	return out
}

func TestMemoryStore(t *testing.T) {
	runStoreContract(t, NewMemoryStore())
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	rec := newTestRecord("x", time.Now())
	require.NoError(t, store.Create(ctx, rec))

	rec.Host = "mutated"
	got, err := store.Get(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, "api.302ai.cn", got.Host)

	got.Host = "mutated again"
	again, err := store.Get(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, "api.302ai.cn", again.Host)
}

func TestSQLiteStore(t *testing.T) {
	st, err := storage.NewSQLite(context.Background(), config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "history.db")})
	require.NoError(t, err)
	defer st.Close()

	store, err := NewSQLiteStore(st.SQLiteDB())
	require.NoError(t, err)

	runStoreContract(t, store)
}

func TestSQLiteStore_ReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	ctx := context.Background()

	st, err := storage.NewSQLite(ctx, config.SQLiteConfig{Path: path})
	require.NoError(t, err)
	store, err := NewSQLiteStore(st.SQLiteDB())
	require.NoError(t, err)
	require.NoError(t, store.Create(ctx, newTestRecord("persisted", time.Now())))
	require.NoError(t, st.Close())

	st, err = storage.NewSQLite(ctx, config.SQLiteConfig{Path: path})
	require.NoError(t, err)
	defer st.Close()
	store, err = NewSQLiteStore(st.SQLiteDB())
	require.NoError(t, err)

	got, err := store.Get(ctx, "persisted")
	require.NoError(t, err)
	assert.Equal(t, "task-persisted", got.TaskID)
}

func TestNormalizeLimit(t *testing.T) {
	for _, tt := range []struct{ in, want int }{
		{-1, DefaultListLimit},
		{0, DefaultListLimit},
		{5, 5},
		{MaxListLimit + 1, MaxListLimit + 1},
		{MaxListLimit + 50, MaxListLimit + 1},
	} {
		assert.Equal(t, tt.want, normalizeLimit(tt.in), fmt.Sprint(tt.in))
	}
}

func TestNew_Disabled(t *testing.T) {
	cfg := config.Defaults()
	cfg.History.Enabled = false

	res, err := New(context.Background(), cfg)
	require.NoError(t, err)
	assert.Nil(t, res.Store)
	assert.IsType(t, NoopWriter{}, res.Writer)
	assert.NoError(t, res.Close())
}

func TestNew_SQLite(t *testing.T) {
	cfg := config.Defaults()
	cfg.History.Enabled = true
	cfg.Storage.SQLite.Path = filepath.Join(t.TempDir(), "history.db")

	res, err := New(context.Background(), cfg)
	require.NoError(t, err)
	require.NotNil(t, res.Store)
	require.NotNil(t, res.Storage)
	assert.IsType(t, &SQLiteStore{}, res.Store)
	assert.NoError(t, res.Close())
}
