package remote

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"surfacesync/internal/reconcile"
	"surfacesync/pkg/models"
)

type surfaceStateDocument struct {
	RecipientID string                      `bson:"_id"`
	Snapshot    models.SurfaceStateSnapshot `bson:"snapshot"`
	UpdatedAt   int64                       `bson:"updated_at_millis"`
}

// MongoRecord stores messages keyed by message id and one surface state
// document per recipient.
type MongoRecord struct {
	messages      *mongo.Collection
	surfaceStates *mongo.Collection
	now           func() time.Time
}

func NewMongoRecord(db *mongo.Database, messagesCollection, surfaceStatesCollection string) *MongoRecord {
	return &MongoRecord{
		messages:      db.Collection(messagesCollection),
		surfaceStates: db.Collection(surfaceStatesCollection),
		now:           time.Now,
	}
}

func (r *MongoRecord) Name() string { return "mongodb" }

// MarkConsumed sets consumed and keeps the earliest consumed_at, so replays
// leave the document unchanged. Unknown ids match nothing and count as
// committed.
func (r *MongoRecord) MarkConsumed(ctx context.Context, messageIDs []string) error {
	if len(messageIDs) == 0 {
		return nil
	}

	now := r.now().UnixMilli()
	writes := make([]mongo.WriteModel, 0, len(messageIDs))
	for _, id := range messageIDs {
		writes = append(writes, mongo.NewUpdateOneModel().
			SetFilter(bson.M{"_id": id}).
			SetUpdate(bson.M{
				"$set": bson.M{"consumed": true},
				"$min": bson.M{"consumed_at": now},
			}))
	}

	_, err := r.messages.BulkWrite(ctx, writes, options.BulkWrite().SetOrdered(false))
	if err == nil {
		return nil
	}

	var bulkErr mongo.BulkWriteException
	if errors.As(err, &bulkErr) && bulkErr.WriteConcernError == nil && len(bulkErr.WriteErrors) > 0 {
		failedIdx := make(map[int]struct{}, len(bulkErr.WriteErrors))
		for _, we := range bulkErr.WriteErrors {
			failedIdx[we.Index] = struct{}{}
		}
		partial := &reconcile.PartialCommitError{Err: err}
		for i, id := range messageIDs {
			if _, failed := failedIdx[i]; failed {
				partial.Failed = append(partial.Failed, id)
			} else {
				partial.Committed = append(partial.Committed, id)
			}
		}
		return partial
	}

	return fmt.Errorf("mark consumed: %w", err)
}

func (r *MongoRecord) PutSurfaceState(ctx context.Context, recipientID string, snapshot models.SurfaceStateSnapshot) error {
	doc := surfaceStateDocument{
		RecipientID: recipientID,
		Snapshot:    snapshot,
		UpdatedAt:   r.now().UnixMilli(),
	}
	_, err := r.surfaceStates.ReplaceOne(ctx, bson.M{"_id": recipientID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("put surface state: %w", err)
	}
	return nil
}

// SurfaceState reads back the stored snapshot for recipientID.
func (r *MongoRecord) SurfaceState(ctx context.Context, recipientID string) (models.SurfaceStateSnapshot, error) {
	var doc surfaceStateDocument
	if err := r.surfaceStates.FindOne(ctx, bson.M{"_id": recipientID}).Decode(&doc); err != nil {
		return models.SurfaceStateSnapshot{}, err
	}
	return doc.Snapshot, nil
}
