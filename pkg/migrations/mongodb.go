package migrations

import (
	"context"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// EnsureMongoIndexes creates the indexes the system of record queries by.
// Both collections are created on first write.
func EnsureMongoIndexes(ctx context.Context, db *mongo.Database, messagesCollection, surfaceStatesCollection string) error {
	messageIndexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "consumed", Value: 1}, {Key: "consumed_at", Value: -1}},
			Options: options.Index().SetName("idx_messages_consumed"),
		},
		{
			Keys:    bson.D{{Key: "recipient_id", Value: 1}, {Key: "created_at_millis", Value: -1}},
			Options: options.Index().SetName("idx_messages_recipient_created"),
		},
	}
	if err := createIndexes(ctx, db.Collection(messagesCollection), messageIndexes); err != nil {
		return err
	}

	stateIndexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "updated_at_millis", Value: -1}},
			Options: options.Index().SetName("idx_surface_states_updated"),
		},
	}
	return createIndexes(ctx, db.Collection(surfaceStatesCollection), stateIndexes)
}

func createIndexes(ctx context.Context, collection *mongo.Collection, indexes []mongo.IndexModel) error {
	_, err := collection.Indexes().CreateMany(ctx, indexes)
	if err != nil && !strings.Contains(err.Error(), "already exists") {
		return fmt.Errorf("failed to create indexes on %s: %w", collection.Name(), err)
	}
	return nil
}
