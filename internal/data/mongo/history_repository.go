package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/credit-ledger/internal/domain/history"
)

const (
	// HistoryCollectionName is the name of the credit event collection in MongoDB
	HistoryCollectionName = "credit_events"
)

// HistoryRepository implements the history.Repository interface for MongoDB
type HistoryRepository struct {
	db     *mongo.Database
	logger *slog.Logger
}

// NewHistoryRepository creates a new MongoDB credit event repository
func NewHistoryRepository(logger *slog.Logger, db *mongo.Database) *HistoryRepository {
	return &HistoryRepository{
		db:     db,
		logger: logger,
	}
}

// EnsureIndexes creates the unique event id index and the per-identity listing index
func (r *HistoryRepository) EnsureIndexes(ctx context.Context) error {
	collection := r.db.Collection(HistoryCollectionName)

	_, err := collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "event_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "identity_id", Value: 1}, {Key: "occurred_at", Value: -1}},
		},
	})
	if err != nil {
		r.logger.Error("Failed to create credit event indexes", "error", err)
		return fmt.Errorf("failed to create credit event indexes: %w", err)
	}
	return nil
}

// Record stores a credit event. Returns ErrDuplicateEvent if the event id was already recorded.
func (r *HistoryRepository) Record(ctx context.Context, event *history.Event) error {
	collection := r.db.Collection(HistoryCollectionName)

	_, err := collection.InsertOne(ctx, event)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return history.ErrDuplicateEvent{EventID: event.EventID}
		}
		r.logger.Error("Failed to record credit event",
			"event_id", event.EventID,
			"event_type", event.EventType,
			"error", err)
		return fmt.Errorf("failed to record credit event: %w", err)
	}

	return nil
}

// ListByIdentity retrieves paginated credit events for an identity, newest first.
func (r *HistoryRepository) ListByIdentity(ctx context.Context, identityID string, limit, offset int) ([]*history.Event, error) {
	collection := r.db.Collection(HistoryCollectionName)

	filter := bson.M{"identity_id": identityID}
	opts := options.Find().
		SetSort(bson.D{{Key: "occurred_at", Value: -1}}).
		SetSkip(int64(offset)).
		SetLimit(int64(limit))

	cursor, err := collection.Find(ctx, filter, opts)
	if err != nil {
		r.logger.Error("Failed to get credit events",
			"identity_id", identityID,
			"error", err)
		return nil, fmt.Errorf("failed to get credit events: %w", err)
	}
	defer cursor.Close(ctx)

	var events []*history.Event
	if err := cursor.All(ctx, &events); err != nil {
		r.logger.Error("Failed to decode credit events",
			"identity_id", identityID,
			"error", err)
		return nil, fmt.Errorf("failed to decode credit events: %w", err)
	}

	return events, nil
}

// CountByIdentity counts the credit events recorded for an identity
func (r *HistoryRepository) CountByIdentity(ctx context.Context, identityID string) (int64, error) {
	collection := r.db.Collection(HistoryCollectionName)

	count, err := collection.CountDocuments(ctx, bson.M{"identity_id": identityID})
	if err != nil {
		r.logger.Error("Failed to count credit events",
			"identity_id", identityID,
			"error", err)
		return 0, fmt.Errorf("failed to count credit events: %w", err)
	}

	return count, nil
}

// GetByEventID returns the recorded event or mongo.ErrNoDocuments wrapped
func (r *HistoryRepository) GetByEventID(ctx context.Context, eventID string) (*history.Event, error) {
	collection := r.db.Collection(HistoryCollectionName)

	var event history.Event
	err := collection.FindOne(ctx, bson.M{"event_id": eventID}).Decode(&event)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("credit event %s: %w", eventID, err)
		}
		r.logger.Error("Failed to get credit event",
			"event_id", eventID,
			"error", err)
		return nil, fmt.Errorf("failed to get credit event: %w", err)
	}

	return &event, nil
}
