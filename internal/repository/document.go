package repository

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/mongo"

	"github.com/kai-familiar/marmot-cli/internal/model"
)

const DefaultCollection = "notifications"

type DocumentRepository struct {
	coll *mongo.Collection
}

func NewDocumentRepository(db *mongo.Database, collection string) *DocumentRepository {
	if collection == "" {
		collection = DefaultCollection
	}

	return &DocumentRepository{coll: db.Collection(collection)}
}

// InsertNotification keys the document by message id; a second insert of the
// same message reports false instead of failing.
func (r *DocumentRepository) InsertNotification(ctx context.Context, rec *model.Record) (bool, error) {
	if _, err := r.coll.InsertOne(ctx, rec); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to insert notification document: %w", err)
	}

	return true, nil
}
