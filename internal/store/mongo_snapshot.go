package store

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// MongoSnapshotStore is the MongoDB-backed snapshot store.
type MongoSnapshotStore struct {
	collection *mongo.Collection
	logger     *zap.Logger
}

// NewMongoSnapshotStore creates the store and its indexes.
func NewMongoSnapshotStore(ctx context.Context, client *mongo.Client, database, collection string, logger *zap.Logger) (*MongoSnapshotStore, error) {
	coll := client.Database(database).Collection(collection)

	indexModels := []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "document_id", Value: 1},
				{Key: "version", Value: -1},
			},
			Options: options.Index().SetUnique(true),
		},
	}
	if _, err := coll.Indexes().CreateMany(ctx, indexModels); err != nil {
		return nil, errors.Wrap(err, "failed to create snapshot indexes")
	}

	return &MongoSnapshotStore{collection: coll, logger: logger}, nil
}

// Create persists a snapshot of text at version.
func (s *MongoSnapshotStore) Create(ctx context.Context, documentID, text string, version int64) (*Snapshot, error) {
	snap := &Snapshot{
		DocumentID: documentID,
		Version:    version,
		Text:       text,
		CreatedAt:  time.Now(),
	}
	opts := options.Replace().SetUpsert(true)
	filter := bson.M{"document_id": documentID, "version": version}
	if _, err := s.collection.ReplaceOne(ctx, filter, snap, opts); err != nil {
		return nil, errors.Wrap(err, "failed to save snapshot")
	}

	s.logger.Info("Snapshot created",
		zap.String("document_id", documentID),
		zap.Int64("version", version),
		zap.Int("text_len", len(text)))
	return snap, nil
}

// Latest returns the most recent snapshot, or (nil, nil) when none exists.
func (s *MongoSnapshotStore) Latest(ctx context.Context, documentID string) (*Snapshot, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "version", Value: -1}})
	var snap Snapshot
	err := s.collection.FindOne(ctx, bson.M{"document_id": documentID}, opts).Decode(&snap)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to query latest snapshot")
	}
	return &snap, nil
}

// DeleteUpTo deletes snapshots with version <= version.
func (s *MongoSnapshotStore) DeleteUpTo(ctx context.Context, documentID string, version int64) (int64, error) {
	res, err := s.collection.DeleteMany(ctx, bson.M{
		"document_id": documentID,
		"version":     bson.M{"$lte": version},
	})
	if err != nil {
		return 0, errors.Wrap(err, "failed to delete snapshots")
	}
	return res.DeletedCount, nil
}

// Documents lists every document id with at least one snapshot.
func (s *MongoSnapshotStore) Documents(ctx context.Context) ([]string, error) {
	raw, err := s.collection.Distinct(ctx, "document_id", bson.M{})
	if err != nil {
		return nil, errors.Wrap(err, "failed to list snapshot documents")
	}
	ids := make([]string, 0, len(raw))
	for _, v := range raw {
		if id, ok := v.(string); ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// Close is a no-op; the mongo client is owned by the caller.
func (s *MongoSnapshotStore) Close(ctx context.Context) error {
	return nil
}
