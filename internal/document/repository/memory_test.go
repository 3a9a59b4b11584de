package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/elshodweb/diploma-backend/internal/document"
)

func TestMemoryRepo(t *testing.T) {
	runRepositoryContract(t, NewMemoryRepo())
}

func TestMemoryRepoReturnsCopies(t *testing.T) {
	r := NewMemoryRepo()
	d := newDoc("u1", time.Now().UTC())
	require.NoError(t, r.Save(context.Background(), d))

	d.Status = document.StatusApproved
	got, err := r.LoadByID(context.Background(), d.ID)
	require.NoError(t, err)
	require.Equal(t, document.StatusDraft, got.Status)

	got.Title = "mutated"
	again, err := r.LoadByID(context.Background(), d.ID)
	require.NoError(t, err)
	require.Equal(t, "thesis.pdf", again.Title)
}
