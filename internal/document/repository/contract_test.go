package repository

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elshodweb/diploma-backend/internal/document"
	"github.com/elshodweb/diploma-backend/pkg/apperrors"
)

func newDoc(owner string, created time.Time) *document.Document {
	return &document.Document{
		ID:          uuid.NewString(),
		Title:       "thesis.pdf",
		Description: "draft",
		ContentHash: fmt.Sprintf("%064x", created.UnixNano()),
		Size:        5,
		Status:      document.StatusDraft,
		OwnerID:     owner,
		CreatedAt:   created,
		UpdatedAt:   created,
	}
}

// runRepositoryContract exercises behaviour every Repository must share.
func runRepositoryContract(t *testing.T, r Repository) {
	ctx := context.Background()
	base := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)

	t.Run("save and load", func(t *testing.T) {
		d := newDoc("u1", base)
		require.NoError(t, r.Save(ctx, d))

		got, err := r.LoadByID(ctx, d.ID)
		require.NoError(t, err)
		assert.Equal(t, d.ContentHash, got.ContentHash)
		assert.Equal(t, document.StatusDraft, got.Status)
		assert.True(t, d.CreatedAt.Equal(got.CreatedAt))

		require.Error(t, r.Save(ctx, d))
	})

	t.Run("missing rows", func(t *testing.T) {
		_, err := r.LoadByID(ctx, "missing")
		require.ErrorIs(t, err, apperrors.ErrNotFound)
		require.ErrorIs(t, r.Delete(ctx, "missing"), apperrors.ErrNotFound)
		_, err = r.CASUpdateStatus(ctx, "missing", document.StatusDraft, document.StatusApproved, base)
		require.ErrorIs(t, err, apperrors.ErrNotFound)
		title := "x"
		_, err = r.UpdateMetadata(ctx, "missing", &title, nil, base)
		require.ErrorIs(t, err, apperrors.ErrNotFound)
	})

	t.Run("list by owner", func(t *testing.T) {
		owner := "owner-" + uuid.NewString()
		first := newDoc(owner, base.Add(time.Minute))
		second := newDoc(owner, base.Add(2*time.Minute))
		other := newDoc("someone-else", base.Add(3*time.Minute))
		for _, d := range []*document.Document{second, first, other} {
			require.NoError(t, r.Save(ctx, d))
		}

		mine, err := r.ListByOwner(ctx, owner)
		require.NoError(t, err)
		require.Len(t, mine, 2)
		assert.Equal(t, first.ID, mine[0].ID)
		assert.Equal(t, second.ID, mine[1].ID)

		all, err := r.ListAll(ctx)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, len(all), 3)
	})

	t.Run("compare and swap", func(t *testing.T) {
		d := newDoc("u1", base)
		require.NoError(t, r.Save(ctx, d))
		at := base.Add(time.Hour)

		got, err := r.CASUpdateStatus(ctx, d.ID, document.StatusDraft, document.StatusApproved, at)
		require.NoError(t, err)
		assert.Equal(t, document.StatusApproved, got.Status)
		assert.True(t, at.Equal(got.UpdatedAt))

		_, err = r.CASUpdateStatus(ctx, d.ID, document.StatusDraft, document.StatusRejected, at)
		require.ErrorIs(t, err, ErrStatusConflict)

		reloaded, err := r.LoadByID(ctx, d.ID)
		require.NoError(t, err)
		assert.Equal(t, document.StatusApproved, reloaded.Status)
	})

	t.Run("compare and swap race", func(t *testing.T) {
		d := newDoc("u1", base)
		require.NoError(t, r.Save(ctx, d))

		var wg sync.WaitGroup
		errs := make([]error, 2)
		for i, next := range []document.Status{document.StatusApproved, document.StatusRejected} {
			wg.Add(1)
			go func(i int, next document.Status) {
				defer wg.Done()
				_, errs[i] = r.CASUpdateStatus(ctx, d.ID, document.StatusDraft, next, base.Add(time.Minute))
			}(i, next)
		}
		wg.Wait()

		wins := 0
		for _, err := range errs {
			if err == nil {
				wins++
			} else {
				require.ErrorIs(t, err, ErrStatusConflict)
			}
		}
		assert.Equal(t, 1, wins)
	})

	t.Run("update metadata", func(t *testing.T) {
		d := newDoc("u1", base)
		require.NoError(t, r.Save(ctx, d))
		title := "final.pdf"
		got, err := r.UpdateMetadata(ctx, d.ID, &title, nil, base.Add(time.Minute))
		require.NoError(t, err)
		assert.Equal(t, "final.pdf", got.Title)
		assert.Equal(t, "draft", got.Description)
		assert.Equal(t, d.ContentHash, got.ContentHash)
	})

	t.Run("delete", func(t *testing.T) {
		d := newDoc("u1", base)
		require.NoError(t, r.Save(ctx, d))
		require.NoError(t, r.Delete(ctx, d.ID))
		_, err := r.LoadByID(ctx, d.ID)
		require.ErrorIs(t, err, apperrors.ErrNotFound)
	})
}
