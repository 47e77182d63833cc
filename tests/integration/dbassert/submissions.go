//go:build integration

// Package dbassert provides database assertion helpers for integration tests.
// It queries the submissions table in PostgreSQL and collection in MongoDB
// directly, bypassing the history store.
package dbassert

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

// Submission mirrors the indexed columns plus the decoded JSON payload.
type Submission struct {
	ID         string
	CreatedAt  int64
	Host       string
	StatusCode int
	TaskID     string
	Data       map[string]any
}

// QuerySubmissionByID loads one submission row from PostgreSQL.
func QuerySubmissionByID(t *testing.T, pool *pgxpool.Pool, id string) Submission {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var sub Submission
	var taskID *string
	var data []byte
	err := pool.QueryRow(ctx, `
		SELECT id, created_at, host, status_code, task_id, data
		FROM submissions
		WHERE id = $1
	`, id).Scan(&sub.ID, &sub.CreatedAt, &sub.Host, &sub.StatusCode, &taskID, &data)
	require.NoError(t, err, "failed to query submission %s", id)

	if taskID != nil {
		sub.TaskID = *taskID
	}
	require.NoError(t, json.Unmarshal(data, &sub.Data), "failed to decode submission data")
	return sub
}

// QuerySubmissionByIDMongo loads one submission document from MongoDB.
func QuerySubmissionByIDMongo(t *testing.T, db *mongo.Database, id string) Submission {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var doc struct {
		ID         string `bson:"_id"`
		CreatedAt  int64  `bson:"created_at"`
		Host       string `bson:"host"`
		StatusCode int    `bson:"status_code"`
		TaskID     string `bson:"task_id"`
		Data       []byte `bson:"data"`
	}
	err := db.Collection("submissions").FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&doc)
	require.NoError(t, err, "failed to query submission %s", id)

	sub := Submission{
		ID:         doc.ID,
		CreatedAt:  doc.CreatedAt,
		Host:       doc.Host,
		StatusCode: doc.StatusCode,
		TaskID:     doc.TaskID,
	}
	require.NoError(t, json.Unmarshal(doc.Data, &sub.Data), "failed to decode submission data")
	return sub
}

// CountSubmissions counts rows in PostgreSQL.
func CountSubmissions(t *testing.T, pool *pgxpool.Pool) int {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var n int
	require.NoError(t, pool.QueryRow(ctx, "SELECT COUNT(*) FROM submissions").Scan(&n))
	return n
}

// CountSubmissionsMongo counts documents in MongoDB.
func CountSubmissionsMongo(t *testing.T, db *mongo.Database) int {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	n, err := db.Collection("submissions").CountDocuments(ctx, bson.D{})
	require.NoError(t, err)
	return int(n)
}

// ClearSubmissions removes all rows from PostgreSQL, if the table exists.
func ClearSubmissions(t *testing.T, pool *pgxpool.Pool) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := pool.Exec(ctx, `
		DO $$ BEGIN
			IF EXISTS (SELECT FROM pg_tables WHERE tablename = 'submissions') THEN
				TRUNCATE submissions;
			END IF;
		END $$`)
	require.NoError(t, err, "failed to clear submissions")
}

// ClearSubmissionsMongo removes all documents from MongoDB.
func ClearSubmissionsMongo(t *testing.T, db *mongo.Database) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := db.Collection("submissions").DeleteMany(ctx, bson.D{})
	require.NoError(t, err, "failed to clear submissions")
}
