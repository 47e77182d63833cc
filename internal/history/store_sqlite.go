package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// SQLiteStore stores records in SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates the submissions table and indexes if needed.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS submissions (
			id TEXT PRIMARY KEY,
			created_at INTEGER NOT NULL,
			host TEXT NOT NULL,
			status_code INTEGER NOT NULL,
			task_id TEXT,
			data TEXT NOT NULL
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create submissions table: %w", err)
	}

	if _, err := db.Exec("CREATE INDEX IF NOT EXISTS idx_submissions_created_at ON submissions(created_at DESC)"); err != nil {
		return nil, fmt.Errorf("failed to create submissions created_at index: %w", err)
	}
	if _, err := db.Exec("CREATE INDEX IF NOT EXISTS idx_submissions_task_id ON submissions(task_id)"); err != nil {
		return nil, fmt.Errorf("failed to create submissions task_id index: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

const sqliteInsert = `
	INSERT INTO submissions (id, created_at, host, status_code, task_id, data)
	VALUES (?, ?, ?, ?, ?, ?)
`

// Create inserts a new record.
func (s *SQLiteStore) Create(ctx context.Context, rec *Record) error {
	payload, err := serializeRecord(rec)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, sqliteInsert,
		rec.ID, rec.CreatedAt.UnixNano(), rec.Host, rec.StatusCode, rec.TaskID, string(payload))
	if err != nil {
		return fmt.Errorf("insert submission: %w", err)
	}
	return nil
}

// CreateBatch inserts records in one transaction.
func (s *SQLiteStore) CreateBatch(ctx context.Context, recs []*Record) error {
	if len(recs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	stmt, err := tx.PrepareContext(ctx, sqliteInsert)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range recs {
		payload, err := serializeRecord(rec)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx,
			rec.ID, rec.CreatedAt.UnixNano(), rec.Host, rec.StatusCode, rec.TaskID, string(payload)); err != nil {
			return fmt.Errorf("insert submission %s: %w", rec.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Get returns a record by id.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Record, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, "SELECT data FROM submissions WHERE id = ?", id).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query submission: %w", err)
	}
	return deserializeRecord([]byte(payload))
}

// List returns records ordered by created_at desc, id desc.
func (s *SQLiteStore) List(ctx context.Context, limit int, after string) ([]*Record, error) {
	limit = normalizeLimit(limit)

	var rows *sql.Rows
	var err error
	if after == "" {
		rows, err = s.db.QueryContext(ctx, `
			SELECT data
			FROM submissions
			ORDER BY created_at DESC, id DESC
			LIMIT ?
		`, limit)
	} else {
		var cursorCreatedAt int64
		err = s.db.QueryRowContext(ctx, "SELECT created_at FROM submissions WHERE id = ?", after).Scan(&cursorCreatedAt)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, ErrNotFound
			}
			return nil, fmt.Errorf("query after cursor: %w", err)
		}

		rows, err = s.db.QueryContext(ctx, `
			SELECT data
			FROM submissions
			WHERE (created_at < ?) OR (created_at = ? AND id < ?)
			ORDER BY created_at DESC, id DESC
			LIMIT ?
		`, cursorCreatedAt, cursorCreatedAt, after, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	defer rows.Close()

	items := make([]*Record, 0, limit)
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan submission row: %w", err)
		}
		rec, err := deserializeRecord([]byte(payload))
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

// Close is a no-op; the DB lifecycle is managed by the storage layer.
func (s *SQLiteStore) Close() error {
	return nil
}
