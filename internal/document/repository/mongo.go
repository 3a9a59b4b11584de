package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/elshodweb/diploma-backend/internal/document"
	"github.com/elshodweb/diploma-backend/pkg/apperrors"
)

// MongoRepo implements a MongoDB-backed repository for documents.
// Rows are keyed by the string "id" field rather than _id.
type MongoRepo struct {
	col *mongo.Collection
}

// NewMongoRepo ensures a unique index on "id" and an index on "ownerId".
func NewMongoRepo(ctx context.Context, col *mongo.Collection) (*MongoRepo, error) {
	_, err := col.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "ownerId", Value: 1}, {Key: "createdAt", Value: 1}}},
	})
	if err != nil {
		return nil, fmt.Errorf("document indexes: %w", err)
	}
	return &MongoRepo{col: col}, nil
}

func (m *MongoRepo) Save(ctx context.Context, d *document.Document) error {
	if _, err := m.col.InsertOne(ctx, d); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("save document %s: already exists: %w", d.ID, apperrors.ErrInvalidInput)
		}
		return err
	}
	return nil
}

func (m *MongoRepo) LoadByID(ctx context.Context, id string) (*document.Document, error) {
	var d document.Document
	err := m.col.FindOne(ctx, bson.M{"id": id}).Decode(&d)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("document %s: %w", id, apperrors.ErrNotFound)
		}
		return nil, err
	}
	normalize(&d)
	return &d, nil
}

func (m *MongoRepo) ListByOwner(ctx context.Context, ownerID string) ([]*document.Document, error) {
	return m.find(ctx, bson.M{"ownerId": ownerID})
}

func (m *MongoRepo) ListAll(ctx context.Context) ([]*document.Document, error) {
	return m.find(ctx, bson.M{})
}

func (m *MongoRepo) find(ctx context.Context, filter bson.M) ([]*document.Document, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "id", Value: 1}})
	cur, err := m.col.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	out := []*document.Document{}
	for cur.Next(ctx) {
		var d document.Document
		if err := cur.Decode(&d); err != nil {
			return nil, err
		}
		normalize(&d)
		out = append(out, &d)
	}
	return out, cur.Err()
}

func (m *MongoRepo) Delete(ctx context.Context, id string) error {
	res, err := m.col.DeleteOne(ctx, bson.M{"id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("document %s: %w", id, apperrors.ErrNotFound)
	}
	return nil
}

// CASUpdateStatus filters on {id, status} so the update is atomic per row.
func (m *MongoRepo) CASUpdateStatus(ctx context.Context, id string, expected, next document.Status, at time.Time) (*document.Document, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var d document.Document
	err := m.col.FindOneAndUpdate(ctx,
		bson.M{"id": id, "status": expected},
		bson.M{"$set": bson.M{"status": next, "updatedAt": at}},
		opts,
	).Decode(&d)
	if err == nil {
		normalize(&d)
		return &d, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, err
	}
	// Distinguish a missing row from a lost race.
	if _, lerr := m.LoadByID(ctx, id); lerr != nil {
		return nil, lerr
	}
	return nil, fmt.Errorf("document %s: %w", id, ErrStatusConflict)
}

func (m *MongoRepo) UpdateMetadata(ctx context.Context, id string, title, description *string, at time.Time) (*document.Document, error) {
	set := bson.M{"updatedAt": at}
	if title != nil {
		set["title"] = *title
	}
	if description != nil {
		set["description"] = *description
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var d document.Document
	err := m.col.FindOneAndUpdate(ctx, bson.M{"id": id}, bson.M{"$set": set}, opts).Decode(&d)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("document %s: %w", id, apperrors.ErrNotFound)
		}
		return nil, err
	}
	normalize(&d)
	return &d, nil
}

// normalize restores UTC timestamps after a BSON round trip.
func normalize(d *document.Document) {
	d.CreatedAt = d.CreatedAt.UTC()
	d.UpdatedAt = d.UpdatedAt.UTC()
}
