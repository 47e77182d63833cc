package history

import (
	"context"
	"errors"
	"fmt"

	"formpost/config"
	"formpost/internal/storage"
)

// Result holds the initialized store, its writer and optional owned storage.
// Store is nil when history is disabled; Writer is then a NoopWriter.
type Result struct {
	Store   Store
	Writer  Recorder
	Storage storage.Storage
}

// Close drains the writer, then releases the store and owned storage.
func (r *Result) Close() error {
	var errs []error
	if r.Writer != nil {
		if err := r.Writer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("writer close: %w", err))
		}
	}
	if r.Store != nil {
		if err := r.Store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("store close: %w", err))
		}
	}
	if r.Storage != nil {
		if err := r.Storage.Close(); err != nil {
			errs = append(errs, fmt.Errorf("storage close: %w", err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %w", errors.Join(errs...))
	}
	return nil
}

// New opens storage per cfg and creates the history store on it.
func New(ctx context.Context, cfg *config.Config) (*Result, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if !cfg.History.Enabled {
		return &Result{Writer: NoopWriter{}}, nil
	}

	shared, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage: %w", err)
	}

	store, err := createStore(ctx, shared)
	if err != nil {
		_ = shared.Close()
		return nil, err
	}

	return &Result{
		Store:   store,
		Writer:  NewWriter(store, cfg.History),
		Storage: shared,
	}, nil
}

// NewWithSharedStorage creates a history store on a storage connection owned
// by the caller.
func NewWithSharedStorage(ctx context.Context, shared storage.Storage, cfg config.HistoryConfig) (*Result, error) {
	if shared == nil {
		return nil, fmt.Errorf("shared storage is required")
	}
	store, err := createStore(ctx, shared)
	if err != nil {
		return nil, err
	}
	return &Result{
		Store:  store,
		Writer: NewWriter(store, cfg),
	}, nil
}

func createStore(ctx context.Context, shared storage.Storage) (Store, error) {
	switch shared.Type() {
	case storage.TypeSQLite:
		return NewSQLiteStore(shared.SQLiteDB())
	case storage.TypePostgreSQL:
		return NewPostgreSQLStore(ctx, shared.PostgreSQLPool())
	case storage.TypeMongoDB:
		return NewMongoDBStore(shared.MongoDatabase())
	default:
		return nil, fmt.Errorf("unknown storage type: %s", shared.Type())
	}
}
