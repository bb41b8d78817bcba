package store

import (
	"context"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"collabtext/internal/domain"
)

// operationDoc is the persisted shape of an operation. The operation itself
// is embedded; document_id keys the log.
type operationDoc struct {
	DocumentID string            `bson:"document_id"`
	Version    int64             `bson:"version"`
	Op         *domain.Operation `bson:"op"`
}

// MongoOperationStore is the MongoDB-backed operation log. Each operation
// is one document in the collection with a unique (document_id, version)
// index, so a double append of the same version fails instead of forking
// the history.
type MongoOperationStore struct {
	collection *mongo.Collection
	logger     *zap.Logger
}

// NewMongoOperationStore creates the store and its indexes.
func NewMongoOperationStore(ctx context.Context, client *mongo.Client, database, collection string, logger *zap.Logger) (*MongoOperationStore, error) {
	coll := client.Database(database).Collection(collection)

	indexModels := []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "document_id", Value: 1},
				{Key: "version", Value: 1},
			},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{
				{Key: "op.author", Value: 1},
			},
		},
	}
	if _, err := coll.Indexes().CreateMany(ctx, indexModels); err != nil {
		return nil, errors.Wrap(err, "failed to create operation indexes")
	}

	return &MongoOperationStore{collection: coll, logger: logger}, nil
}

// Append persists op under (documentID, op.Version).
func (s *MongoOperationStore) Append(ctx context.Context, documentID string, op *domain.Operation) error {
	doc := operationDoc{
		DocumentID: documentID,
		Version:    op.Version,
		Op:         op,
	}
	if _, err := s.collection.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return errors.Wrapf(err, "version %d already persisted for document %s", op.Version, documentID)
		}
		return errors.Wrap(err, "failed to insert operation")
	}

	s.logger.Debug("Operation persisted",
		zap.String("document_id", documentID),
		zap.Int64("version", op.Version),
		zap.String("type", string(op.Type)))
	return nil
}

// LoadSince returns operations with version > version in ascending order.
func (s *MongoOperationStore) LoadSince(ctx context.Context, documentID string, version int64) ([]*domain.Operation, error) {
	filter := bson.M{
		"document_id": documentID,
		"version":     bson.M{"$gt": version},
	}
	opts := options.Find().SetSort(bson.D{{Key: "version", Value: 1}})

	cursor, err := s.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query operations")
	}
	defer cursor.Close(ctx)

	var ops []*domain.Operation
	for cursor.Next(ctx) {
		var doc operationDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, errors.Wrap(err, "failed to decode operation")
		}
		ops = append(ops, doc.Op)
	}
	if err := cursor.Err(); err != nil {
		return nil, errors.Wrap(err, "operation cursor failed")
	}
	return ops, nil
}

// MaxVersion returns the highest persisted version for the document.
func (s *MongoOperationStore) MaxVersion(ctx context.Context, documentID string) (int64, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "version", Value: -1}})
	var doc operationDoc
	err := s.collection.FindOne(ctx, bson.M{"document_id": documentID}, opts).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrap(err, "failed to query max version")
	}
	return doc.Version, nil
}

// CountOperations returns the number of persisted operations.
func (s *MongoOperationStore) CountOperations(ctx context.Context, documentID string) (int64, error) {
	n, err := s.collection.CountDocuments(ctx, bson.M{"document_id": documentID})
	if err != nil {
		return 0, errors.Wrap(err, "failed to count operations")
	}
	return n, nil
}

// TruncateUpTo deletes operations with version <= version.
func (s *MongoOperationStore) TruncateUpTo(ctx context.Context, documentID string, version int64) (int64, error) {
	res, err := s.collection.DeleteMany(ctx, bson.M{
		"document_id": documentID,
		"version":     bson.M{"$lte": version},
	})
	if err != nil {
		return 0, errors.Wrap(err, "failed to truncate operations")
	}
	if res.DeletedCount > 0 {
		s.logger.Info("Operation log truncated",
			zap.String("document_id", documentID),
			zap.Int64("up_to_version", version),
			zap.Int64("deleted", res.DeletedCount))
	}
	return res.DeletedCount, nil
}

// Ping verifies the MongoDB connection.
func (s *MongoOperationStore) Ping(ctx context.Context) error {
	return s.collection.Database().Client().Ping(ctx, nil)
}

// Close is a no-op; the mongo client is owned by the caller.
func (s *MongoOperationStore) Close(ctx context.Context) error {
	return nil
}
