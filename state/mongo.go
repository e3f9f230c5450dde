package state

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/rs/zerolog"
	"github.com/tarungka/weir/internal/logger"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoConfig configures the mongo-based backend.
type MongoConfig struct {
	// URI is the mongodb connection string.
	URI string `koanf:"uri" json:"uri"`

	// Database defaults to "weir".
	Database string `koanf:"database" json:"database"`

	// Collection defaults to "checkpoint_state".
	Collection string `koanf:"collection" json:"collection"`
}

// DefaultMongoConfig returns a MongoConfig with default values.
func DefaultMongoConfig() MongoConfig {
	return MongoConfig{
		URI:        "mongodb://localhost:27017",
		Database:   "weir",
		Collection: "checkpoint_state",
	}
}

type mongoStateDoc struct {
	CheckpointID int64  `bson:"checkpoint_id"`
	OperatorID   string `bson:"operator_id"`
	State        []byte `bson:"state"`
}

// MongoBackend stores operator state as one document per
// (checkpoint, operator) pair in a mongo collection.
type MongoBackend struct {
	client *mongo.Client
	coll   *mongo.Collection
	logger zerolog.Logger
}

// NewMongoBackend connects to mongo and ensures the compound index that
// makes save an upsert and load a point read.
func NewMongoBackend(ctx context.Context, cfg MongoConfig) (*MongoBackend, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("connect to mongo: %w", err)
	}
	coll := client.Database(cfg.Database).Collection(cfg.Collection)

	_, err = coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "checkpoint_id", Value: 1}, {Key: "operator_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return nil, fmt.Errorf("create state index: %w", err)
	}

	return &MongoBackend{
		client: client,
		coll:   coll,
		logger: logger.GetLogger("mongo-backend"),
	}, nil
}

// SaveState upserts the state document for the pair, so re-saving the same
// snapshot is harmless.
func (b *MongoBackend) SaveState(ctx context.Context, checkpointID int64, operatorID string, data []byte) (string, error) {
	filter := bson.M{"checkpoint_id": checkpointID, "operator_id": operatorID}
	doc := mongoStateDoc{CheckpointID: checkpointID, OperatorID: operatorID, State: data}
	_, err := b.coll.ReplaceOne(ctx, filter, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return "", fmt.Errorf("mongo save: %w", err)
	}
	return fmt.Sprintf("mongodb://%s/%s#%d/%s", b.coll.Database().Name(), b.coll.Name(), checkpointID, operatorID), nil
}

// LoadState fetches the state document for the pair.
func (b *MongoBackend) LoadState(ctx context.Context, checkpointID int64, operatorID string) ([]byte, error) {
	filter := bson.M{"checkpoint_id": checkpointID, "operator_id": operatorID}
	var doc mongoStateDoc
	err := b.coll.FindOne(ctx, filter).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("checkpoint %d operator %s: %w", checkpointID, operatorID, ErrNotFound)
		}
		return nil, fmt.Errorf("mongo load: %w", err)
	}
	return doc.State, nil
}

// DeleteCheckpoint removes every document under the checkpoint id.
func (b *MongoBackend) DeleteCheckpoint(ctx context.Context, checkpointID int64) error {
	_, err := b.coll.DeleteMany(ctx, bson.M{"checkpoint_id": checkpointID})
	if err != nil {
		return fmt.Errorf("mongo delete checkpoint: %w", err)
	}
	return nil
}

// ListCheckpoints returns the distinct checkpoint ids, ascending.
func (b *MongoBackend) ListCheckpoints(ctx context.Context) ([]int64, error) {
	raw, err := b.coll.Distinct(ctx, "checkpoint_id", bson.M{})
	if err != nil {
		return nil, fmt.Errorf("mongo list checkpoints: %w", err)
	}
	ids := make([]int64, 0, len(raw))
	for _, v := range raw {
		switch id := v.(type) {
		case int64:
			ids = append(ids, id)
		case int32:
			ids = append(ids, int64(id))
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// Close disconnects from mongo.
func (b *MongoBackend) Close() error {
	return b.client.Disconnect(context.Background())
}
