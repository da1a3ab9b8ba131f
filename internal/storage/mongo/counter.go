package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/xenking/rental-checkout/internal/domain/sequence"
)

var _ sequence.CounterStore = (*CounterRepository)(nil)

type counterDoc struct {
	Name       string `bson:"_id"`
	LastNumber int64  `bson:"last_number"`
}

// CounterRepository implements sequence.CounterStore with an atomic
// find-and-modify on the counter document.
type CounterRepository struct {
	collection *mongo.Collection
}

// NewCounterRepository returns a CounterRepository on db.
func NewCounterRepository(db *mongo.Database) *CounterRepository {
	return &CounterRepository{collection: db.Collection(countersCollection)}
}

// Increment bumps last_number and returns the new value. The read and the
// write are one document operation.
func (r *CounterRepository) Increment(ctx context.Context, name string) (int64, error) {
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)
	update := bson.M{
		"$inc":         bson.M{"last_number": int64(1)},
		"$currentDate": bson.M{"updated_at": true},
	}

	var doc counterDoc
	err := r.collection.FindOneAndUpdate(ctx, bson.M{"_id": name}, update, opts).Decode(&doc)
	if err != nil {
		// Two concurrent upserts of a missing counter: the loser may retry.
		if mongo.IsDuplicateKeyError(err) {
			return 0, fmt.Errorf("incrementing counter %q: %w: %w", name, sequence.ErrContention, err)
		}
		return 0, fmt.Errorf("incrementing counter %q: %w", name, err)
	}
	return doc.LastNumber, nil
}

// Seed raises the counter to at least value. It never lowers the counter
// and returns the resulting value.
func (r *CounterRepository) Seed(ctx context.Context, name string, value int64) (int64, error) {
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)
	update := bson.M{
		"$max":         bson.M{"last_number": value},
		"$currentDate": bson.M{"updated_at": true},
	}

	var doc counterDoc
	if err := r.collection.FindOneAndUpdate(ctx, bson.M{"_id": name}, update, opts).Decode(&doc); err != nil {
		return 0, fmt.Errorf("seeding counter %q: %w", name, err)
	}
	return doc.LastNumber, nil
}
