// Package storage opens the database connection shared by the history store.
package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"formpost/config"
)

// Backend names, matching the config values.
const (
	TypeSQLite     = config.StorageSQLite
	TypePostgreSQL = config.StoragePostgreSQL
	TypeMongoDB    = config.StorageMongoDB
)

// Defaults applied when the config leaves a value empty.
const (
	DefaultSQLitePath    = "data/formpost.db"
	DefaultMongoDatabase = "formpost"
	DefaultMaxConns      = 10
)

// Storage is an open database connection. Exactly one of the accessors
// returns a non-nil value, selected by Type.
// Implementations must be safe for concurrent use.
type Storage interface {
	Type() string

	SQLiteDB() *sql.DB
	PostgreSQLPool() *pgxpool.Pool
	MongoDatabase() *mongo.Database

	// Ping checks that the database is reachable.
	Ping(ctx context.Context) error

	Close() error
}

// New opens the backend named by cfg.Type.
func New(ctx context.Context, cfg config.StorageConfig) (Storage, error) {
	switch cfg.Type {
	case TypeSQLite:
		return NewSQLite(ctx, cfg.SQLite)
	case TypePostgreSQL:
		return NewPostgreSQL(ctx, cfg.PostgreSQL)
	case TypeMongoDB:
		return NewMongoDB(ctx, cfg.MongoDB)
	default:
		return nil, fmt.Errorf("unknown storage type: %s (valid: sqlite, postgresql, mongodb)", cfg.Type)
	}
}
