package history

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgreSQLStore stores records in PostgreSQL.
type PostgreSQLStore struct {
	pool *pgxpool.Pool
}

// NewPostgreSQLStore creates the submissions table and indexes if needed.
func NewPostgreSQLStore(ctx context.Context, pool *pgxpool.Pool) (*PostgreSQLStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("connection pool is required")
	}

	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS submissions (
			id TEXT PRIMARY KEY,
			created_at BIGINT NOT NULL,
			host TEXT NOT NULL,
			status_code INTEGER NOT NULL,
			task_id TEXT,
			data JSONB NOT NULL
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create submissions table: %w", err)
	}

	if _, err := pool.Exec(ctx, "CREATE INDEX IF NOT EXISTS idx_submissions_created_at ON submissions(created_at DESC)"); err != nil {
		return nil, fmt.Errorf("failed to create submissions created_at index: %w", err)
	}
	if _, err := pool.Exec(ctx, "CREATE INDEX IF NOT EXISTS idx_submissions_task_id ON submissions(task_id)"); err != nil {
		return nil, fmt.Errorf("failed to create submissions task_id index: %w", err)
	}

	return &PostgreSQLStore{pool: pool}, nil
}

const postgresInsert = `
	INSERT INTO submissions (id, created_at, host, status_code, task_id, data)
	VALUES ($1, $2, $3, $4, $5, $6::jsonb)
`

// Create inserts a new record.
func (s *PostgreSQLStore) Create(ctx context.Context, rec *Record) error {
	payload, err := serializeRecord(rec)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, postgresInsert,
		rec.ID, rec.CreatedAt.UnixNano(), rec.Host, rec.StatusCode, rec.TaskID, payload)
	if err != nil {
		return fmt.Errorf("insert submission: %w", err)
	}
	return nil
}

// CreateBatch sends all inserts in one pgx batch.
func (s *PostgreSQLStore) CreateBatch(ctx context.Context, recs []*Record) error {
	if len(recs) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, rec := range recs {
		payload, err := serializeRecord(rec)
		if err != nil {
			return err
		}
		batch.Queue(postgresInsert,
			rec.ID, rec.CreatedAt.UnixNano(), rec.Host, rec.StatusCode, rec.TaskID, payload)
	}

	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()

	for range recs {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("insert submission batch: %w", err)
		}
	}
	return nil
}

// Get returns a record by id.
func (s *PostgreSQLStore) Get(ctx context.Context, id string) (*Record, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx, "SELECT data FROM submissions WHERE id = $1", id).Scan(&payload)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query submission: %w", err)
	}
	return deserializeRecord(payload)
}

// List returns records ordered by created_at desc, id desc.
func (s *PostgreSQLStore) List(ctx context.Context, limit int, after string) ([]*Record, error) {
	limit = normalizeLimit(limit)

	var rows pgx.Rows
	var err error
	if after == "" {
		rows, err = s.pool.Query(ctx, `
			SELECT data
			FROM submissions
			ORDER BY created_at DESC, id DESC
			LIMIT $1
		`, limit)
	} else {
		var cursorCreatedAt int64
		err = s.pool.QueryRow(ctx, "SELECT created_at FROM submissions WHERE id = $1", after).Scan(&cursorCreatedAt)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, ErrNotFound
			}
			return nil, fmt.Errorf("query after cursor: %w", err)
		}
		rows, err = s.pool.Query(ctx, `
			SELECT data
			FROM submissions
			WHERE (created_at < $1) OR (created_at = $1 AND id < $2)
			ORDER BY created_at DESC, id DESC
			LIMIT $3
		`, cursorCreatedAt, after, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	defer rows.Close()

	items := make([]*Record, 0, limit)
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan submission row: %w", err)
		}
		rec, err := deserializeRecord(payload)
		if err != nil {
			return nil, fmt.Errorf("decode submission row: %w", err)
		}
		items = append(items, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate submission rows: %w", err)
	}
	return items, nil
}

// Close is a no-op; the pool lifecycle is managed by the storage layer.
func (s *PostgreSQLStore) Close() error {
	return nil
}
