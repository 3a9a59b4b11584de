package service

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/elshodweb/diploma-backend/internal/document"
	"github.com/elshodweb/diploma-backend/internal/document/lifecycle"
	"github.com/elshodweb/diploma-backend/internal/document/repository"
	"github.com/elshodweb/diploma-backend/internal/ledger"
	"github.com/elshodweb/diploma-backend/internal/models"
	"github.com/elshodweb/diploma-backend/pkg/apperrors"
	"github.com/elshodweb/diploma-backend/pkg/logger"
	"github.com/elshodweb/diploma-backend/pkg/metrics"
)

// Service defines the document operations used by the handler layer.
type Service interface {
	Ingest(ctx context.Context, ownerID, title, description string, data []byte) (*document.Document, error)
	ChangeStatus(ctx context.Context, id string, status document.Status, p models.Principal) (*document.Document, error)
	Retrieve(ctx context.Context, id string) ([]byte, error)
	Get(ctx context.Context, id string, p models.Principal) (*document.Document, error)
	Delete(ctx context.Context, id string, p models.Principal) error
	ListAccessible(ctx context.Context, p models.Principal) ([]*document.Document, error)
	UpdateMetadata(ctx context.Context, id string, title, description *string, p models.Principal) (*document.Document, error)
	History(ctx context.Context, id string) iter.Seq2[ledger.Entry, error]
	VerifyHistory(ctx context.Context, id string) ([]Verification, error)
	UploadEvent(ctx context.Context, id string) (ledger.Entry, error)
}

// BlobStore is the content-addressed store for document bytes.
type BlobStore interface {
	Put(ctx context.Context, data []byte) (string, error)
	Get(ctx context.Context, hash string) ([]byte, error)
}

// Ledger records and verifies custody entries.
type Ledger interface {
	Append(ctx context.Context, documentID, contentHash, committedBy string) (ledger.Entry, error)
	History(ctx context.Context, documentID string) iter.Seq2[ledger.Entry, error]
	Verify(ctx context.Context, e ledger.Entry) bool
	UploadEvent(ctx context.Context, documentID string) (ledger.Entry, error)
}

// Verification is the audit result for one ledger entry.
type Verification struct {
	Entry ledger.Entry `json:"entry"`
	Valid bool         `json:"valid"`
}

// Option customises a Coordinator.
type Option func(*Coordinator)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// WithIDGenerator replaces the UUID document id generator.
func WithIDGenerator(gen func() string) Option {
	return func(c *Coordinator) { c.newID = gen }
}

// Coordinator orchestrates the content store, the ledger and the document
// repository. It is the only component external callers use.
type Coordinator struct {
	blobs  BlobStore
	ledger Ledger
	repo   repository.Repository
	now    func() time.Time
	newID  func() string
	log    *zap.Logger
}

var _ Service = (*Coordinator)(nil)

func New(blobs BlobStore, l Ledger, repo repository.Repository, opts ...Option) *Coordinator {
	c := &Coordinator{
		blobs:  blobs,
		ledger: l,
		repo:   repo,
		now:    time.Now,
		newID:  uuid.NewString,
		log:    logger.Named("documents"),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Coordinator) timestamp() time.Time {
	return c.now().UTC().Truncate(time.Millisecond)
}

// Ingest stores data, records its upload in the ledger and only then saves
// the document row, so no document exists without a ledger entry.
func (c *Coordinator) Ingest(ctx context.Context, ownerID, title, description string, data []byte) (*document.Document, error) {
	title = strings.TrimSpace(title)
	if ownerID == "" || title == "" {
		return nil, fmt.Errorf("ingest: owner and title are required: %w", apperrors.ErrInvalidInput)
	}

	hash, err := c.blobs.Put(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("ingest: %w", err)
	}
	// The blob is idempotent and may be left behind; nothing else may run.
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("ingest aborted after store: %w", err)
	}

	id := c.newID()
	entry, err := c.ledger.Append(ctx, id, hash, ownerID)
	if err != nil {
		c.log.Warn("ingest aborted: ledger append failed", zap.String("document_id", id), zap.String("content_hash", hash), zap.Error(err))
		return nil, fmt.Errorf("ingest: %w", err)
	}

	now := c.timestamp()
	doc := &document.Document{
		ID:          id,
		Title:       title,
		Description: strings.TrimSpace(description),
		ContentHash: hash,
		Size:        int64(len(data)),
		Status:      document.StatusDraft,
		OwnerID:     ownerID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := c.repo.Save(ctx, doc); err != nil {
		c.log.Error("document row not saved after ledger append", zap.String("document_id", id), zap.Uint64("entry_id", entry.EntryID), zap.Error(err))
		return nil, fmt.Errorf("ingest: save %s: %w", id, err)
	}

	metrics.DocumentsIngested.Inc()
	c.log.Info("document ingested", zap.String("document_id", id), zap.String("owner_id", ownerID), zap.String("content_hash", hash), zap.String("reference", entry.Reference))
	return doc, nil
}

// ChangeStatus applies a validated transition with compare-and-swap on the
// current status. The loser of a concurrent change gets ErrInvalidTransition.
func (c *Coordinator) ChangeStatus(ctx context.Context, id string, status document.Status, p models.Principal) (*document.Document, error) {
	to := string(status)
	if err := lifecycle.Authorize(p.Role); err != nil {
		metrics.StatusTransitions.WithLabelValues(to, "forbidden").Inc()
		return nil, err
	}
	cur, err := c.repo.LoadByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := lifecycle.Validate(cur.Status, status, p.Role); err != nil {
		metrics.StatusTransitions.WithLabelValues(to, "invalid").Inc()
		return nil, err
	}

	updated, err := c.repo.CASUpdateStatus(ctx, id, cur.Status, status, c.timestamp())
	if err != nil {
		if errors.Is(err, repository.ErrStatusConflict) {
			metrics.StatusTransitions.WithLabelValues(to, "conflict").Inc()
			return nil, fmt.Errorf("%s -> %s: %v: %w", cur.Status, status, err, apperrors.ErrInvalidTransition)
		}
		return nil, err
	}

	metrics.StatusTransitions.WithLabelValues(to, "applied").Inc()
	c.log.Info("document status changed", zap.String("document_id", id), zap.String("from", string(cur.Status)), zap.String("to", to), zap.String("by", p.ID))
	return updated, nil
}

// Retrieve returns the stored bytes of a document.
func (c *Coordinator) Retrieve(ctx context.Context, id string) ([]byte, error) {
	d, err := c.repo.LoadByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return c.blobs.Get(ctx, d.ContentHash)
}

// Get loads a document the principal may see. Documents owned by someone
// else are reported as not found to non-admins.
func (c *Coordinator) Get(ctx context.Context, id string, p models.Principal) (*document.Document, error) {
	d, err := c.repo.LoadByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !visible(d, p) {
		return nil, fmt.Errorf("document %s: %w", id, apperrors.ErrNotFound)
	}
	return d, nil
}

func visible(d *document.Document, p models.Principal) bool {
	return p.IsAdmin() || d.OwnerID == p.ID
}

// Delete removes the document row. Its ledger history is kept.
func (c *Coordinator) Delete(ctx context.Context, id string, p models.Principal) error {
	if !p.IsAdmin() {
		return fmt.Errorf("delete %s: %w", id, apperrors.ErrForbidden)
	}
	if err := c.repo.Delete(ctx, id); err != nil {
		return err
	}
	c.log.Info("document deleted", zap.String("document_id", id), zap.String("by", p.ID))
	return nil
}

func (c *Coordinator) ListAccessible(ctx context.Context, p models.Principal) ([]*document.Document, error) {
	if p.IsAdmin() {
		return c.repo.ListAll(ctx)
	}
	return c.repo.ListByOwner(ctx, p.ID)
}

// UpdateMetadata edits title and description. Only the owner may edit.
func (c *Coordinator) UpdateMetadata(ctx context.Context, id string, title, description *string, p models.Principal) (*document.Document, error) {
	if title == nil && description == nil {
		return nil, fmt.Errorf("update %s: nothing to change: %w", id, apperrors.ErrInvalidInput)
	}
	if title != nil {
		t := strings.TrimSpace(*title)
		if t == "" {
			return nil, fmt.Errorf("update %s: empty title: %w", id, apperrors.ErrInvalidInput)
		}
		title = &t
	}
	d, err := c.Get(ctx, id, p)
	if err != nil {
		return nil, err
	}
	if d.OwnerID != p.ID {
		return nil, fmt.Errorf("update %s: only the owner may edit: %w", id, apperrors.ErrForbidden)
	}
	updated, err := c.repo.UpdateMetadata(ctx, id, title, description, c.timestamp())
	if err != nil {
		return nil, err
	}
	c.log.Info("document metadata updated", zap.String("document_id", id))
	return updated, nil
}

// History is the ledger history of a document. It does not require the
// document row to exist, since deleted documents keep their history.
func (c *Coordinator) History(ctx context.Context, id string) iter.Seq2[ledger.Entry, error] {
	return c.ledger.History(ctx, id)
}

// VerifyHistory re-checks every ledger entry of a document.
func (c *Coordinator) VerifyHistory(ctx context.Context, id string) ([]Verification, error) {
	out := []Verification{}
	for e, err := range c.ledger.History(ctx, id) {
		if err != nil {
			return nil, err
		}
		out = append(out, Verification{Entry: e, Valid: c.ledger.Verify(ctx, e)})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("history of %s: %w", id, apperrors.ErrNotFound)
	}
	return out, nil
}

func (c *Coordinator) UploadEvent(ctx context.Context, id string) (ledger.Entry, error) {
	return c.ledger.UploadEvent(ctx, id)
}
