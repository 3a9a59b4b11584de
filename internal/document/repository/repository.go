package repository

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/elshodweb/diploma-backend/internal/document"
)

// ErrStatusConflict is returned by CASUpdateStatus when the stored status no
// longer equals the expected one.
var ErrStatusConflict = errors.New("document status changed concurrently")

// Repository persists document rows. Missing rows are reported as
// apperrors.ErrNotFound.
type Repository interface {
	Save(ctx context.Context, d *document.Document) error
	LoadByID(ctx context.Context, id string) (*document.Document, error)
	ListByOwner(ctx context.Context, ownerID string) ([]*document.Document, error)
	ListAll(ctx context.Context) ([]*document.Document, error)
	Delete(ctx context.Context, id string) error
	// CASUpdateStatus sets status to next and updatedAt to at only if the
	// row's status is still expected.
	CASUpdateStatus(ctx context.Context, id string, expected, next document.Status, at time.Time) (*document.Document, error)
	// UpdateMetadata changes title and/or description; nil leaves a field
	// untouched.
	UpdateMetadata(ctx context.Context, id string, title, description *string, at time.Time) (*document.Document, error)
}

// sortDocuments orders rows oldest first, ties broken by id.
func sortDocuments(docs []*document.Document) {
	sort.Slice(docs, func(i, j int) bool {
		if !docs[i].CreatedAt.Equal(docs[j].CreatedAt) {
			return docs[i].CreatedAt.Before(docs[j].CreatedAt)
		}
		return docs[i].ID < docs[j].ID
	})
}
