package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/elshodweb/diploma-backend/internal/document"
	"github.com/elshodweb/diploma-backend/pkg/apperrors"
)

// MemoryRepo is an in-memory repository used for development and unit
// tests. Rows are copied in and out so callers never share state.
type MemoryRepo struct {
	mu    sync.RWMutex
	store map[string]document.Document
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{store: make(map[string]document.Document)}
}

func (m *MemoryRepo) Save(ctx context.Context, d *document.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d.ID == "" {
		return fmt.Errorf("save document: empty id: %w", apperrors.ErrInvalidInput)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.store[d.ID]; exists {
		return fmt.Errorf("save document %s: already exists: %w", d.ID, apperrors.ErrInvalidInput)
	}
	m.store[d.ID] = *d
	return nil
}

func (m *MemoryRepo) LoadByID(ctx context.Context, id string) (*document.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.store[id]
	if !ok {
		return nil, fmt.Errorf("document %s: %w", id, apperrors.ErrNotFound)
	}
	return &d, nil
}

func (m *MemoryRepo) ListByOwner(ctx context.Context, ownerID string) ([]*document.Document, error) {
	return m.list(ctx, func(d document.Document) bool { return d.OwnerID == ownerID })
}

func (m *MemoryRepo) ListAll(ctx context.Context) ([]*document.Document, error) {
	return m.list(ctx, func(document.Document) bool { return true })
}

func (m *MemoryRepo) list(ctx context.Context, keep func(document.Document) bool) ([]*document.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	out := make([]*document.Document, 0, len(m.store))
	for _, d := range m.store {
		if keep(d) {
			d := d
			out = append(out, &d)
		}
	}
	m.mu.RUnlock()
	sortDocuments(out)
	return out, nil
}

func (m *MemoryRepo) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.store[id]; !ok {
		return fmt.Errorf("document %s: %w", id, apperrors.ErrNotFound)
	}
	delete(m.store, id)
	return nil
}

func (m *MemoryRepo) CASUpdateStatus(ctx context.Context, id string, expected, next document.Status, at time.Time) (*document.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.store[id]
	if !ok {
		return nil, fmt.Errorf("document %s: %w", id, apperrors.ErrNotFound)
	}
	if d.Status != expected {
		return nil, fmt.Errorf("document %s is %s, expected %s: %w", id, d.Status, expected, ErrStatusConflict)
	}
	d.Status = next
	d.UpdatedAt = at
	m.store[id] = d
	return &d, nil
}

func (m *MemoryRepo) UpdateMetadata(ctx context.Context, id string, title, description *string, at time.Time) (*document.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.store[id]
	if !ok {
		return nil, fmt.Errorf("document %s: %w", id, apperrors.ErrNotFound)
	}
	if title != nil {
		d.Title = *title
	}
	if description != nil {
		d.Description = *description
	}
	d.UpdatedAt = at
	m.store[id] = d
	return &d, nil
}
