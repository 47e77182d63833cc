package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

type mongoSubmissionDocument struct {
	ID         string `bson:"_id"`
	CreatedAt  int64  `bson:"created_at"`
	Host       string `bson:"host"`
	StatusCode int    `bson:"status_code"`
	TaskID     string `bson:"task_id,omitempty"`
	Data       []byte `bson:"data"`
}

func newMongoDocument(rec *Record) (*mongoSubmissionDocument, error) {
	payload, err := serializeRecord(rec)
	if err != nil {
		return nil, err
	}
	return &mongoSubmissionDocument{
		ID:         rec.ID,
		CreatedAt:  rec.CreatedAt.UnixNano(),
		Host:       rec.Host,
		StatusCode: rec.StatusCode,
		TaskID:     rec.TaskID,
		Data:       payload,
	}, nil
}

// MongoDBStore stores records in MongoDB.
type MongoDBStore struct {
	collection *mongo.Collection
}

// NewMongoDBStore creates collection indexes if needed.
func NewMongoDBStore(database *mongo.Database) (*MongoDBStore, error) {
	if database == nil {
		return nil, fmt.Errorf("database is required")
	}

	coll := database.Collection("submissions")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	indexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}},
		{Keys: bson.D{{Key: "task_id", Value: 1}}},
	}
	if _, err := coll.Indexes().CreateMany(ctx, indexes); err != nil {
		return nil, fmt.Errorf("create submissions indexes: %w", err)
	}

	return &MongoDBStore{collection: coll}, nil
}

// Create inserts a new record.
func (s *MongoDBStore) Create(ctx context.Context, rec *Record) error {
	doc, err := newMongoDocument(rec)
	if err != nil {
		return err
	}
	if _, err := s.collection.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("insert submission: %w", err)
	}
	return nil
}

// CreateBatch inserts records with one unordered InsertMany.
func (s *MongoDBStore) CreateBatch(ctx context.Context, recs []*Record) error {
	if len(recs) == 0 {
		return nil
	}
	docs := make([]any, 0, len(recs))
	for _, rec := range recs {
		doc, err := newMongoDocument(rec)
		if err != nil {
			return err
		}
		docs = append(docs, doc)
	}
	if _, err := s.collection.InsertMany(ctx, docs, options.InsertMany().SetOrdered(false)); err != nil {
		return fmt.Errorf("insert submission batch: %w", err)
	}
	return nil
}

// Get returns a record by id.
func (s *MongoDBStore) Get(ctx context.Context, id string) (*Record, error) {
	var doc mongoSubmissionDocument
	err := s.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query submission: %w", err)
	}
	return deserializeRecord(doc.Data)
}

// List returns records ordered by created_at desc, id desc.
func (s *MongoDBStore) List(ctx context.Context, limit int, after string) ([]*Record, error) {
	limit = normalizeLimit(limit)
	filter := bson.M{}

	if after != "" {
		var cursorDoc mongoSubmissionDocument
		err := s.collection.FindOne(ctx, bson.M{"_id": after}).Decode(&cursorDoc)
		if err != nil {
			if errors.Is(err, mongo.ErrNoDocuments) {
				return nil, ErrNotFound
			}
			return nil, fmt.Errorf("query after cursor: %w", err)
		}
		filter = bson.M{
			"$or": bson.A{
				bson.M{"created_at": bson.M{"$lt": cursorDoc.CreatedAt}},
				bson.M{
					"created_at": cursorDoc.CreatedAt,
					"_id":        bson.M{"$lt": cursorDoc.ID},
				},
			},
		}
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}).
		SetLimit(int64(limit))
	cursor, err := s.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	defer cursor.Close(ctx)

	items := make([]*Record, 0, limit)
	for cursor.Next(ctx) {
		var doc mongoSubmissionDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode submission document: %w", err)
		}
		rec, err := deserializeRecord(doc.Data)
		if err != nil {
			return nil, fmt.Errorf("decode submission payload: %w", err)
		}
		items = append(items, rec)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("iterate submissions cursor: %w", err)
	}
	return items, nil
}

// Close is a no-op; the client lifecycle is managed by the storage layer.
func (s *MongoDBStore) Close() error {
	return nil
}
