//go:build integration

package ledger

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elshodweb/diploma-backend/internal/testhelpers"
)

func mongoEntry(id uint64, doc string, pos uint64) Entry {
	return Entry{
		EntryID:     id,
		DocumentID:  doc,
		Position:    pos,
		Kind:        KindUpload,
		ContentHash: fmt.Sprintf("%064x", id),
		CommittedBy: "u1",
		CommittedAt: time.Date(2026, 4, 1, 8, 0, int(id), 0, time.UTC),
		Reference:   fmt.Sprintf("%064x", id+1000),
		Network:     "hashchain",
	}
}

func TestMongoEntryStore(t *testing.T) {
	db := testhelpers.MongoDatabase(t)
	ctx := context.Background()
	store, err := NewMongoEntryStore(ctx, db.Collection("ledger_entries"))
	require.NoError(t, err)

	last, err := store.LastSequence(ctx)
	require.NoError(t, err)
	assert.Zero(t, last)

	require.NoError(t, store.Insert(ctx, mongoEntry(2, "doc", 2)))
	require.NoError(t, store.Insert(ctx, mongoEntry(1, "doc", 1)))
	require.NoError(t, store.Insert(ctx, mongoEntry(3, "other", 1)))

	err = store.Insert(ctx, mongoEntry(1, "third", 1))
	require.ErrorIs(t, err, ErrDuplicateEntry)
	err = store.Insert(ctx, mongoEntry(9, "doc", 2))
	require.ErrorIs(t, err, ErrDuplicateEntry)

	got, err := store.ListByDocument(ctx, "doc")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, mongoEntry(1, "doc", 1), got[0])
	assert.Equal(t, mongoEntry(2, "doc", 2), got[1])

	none, err := store.ListByDocument(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, none)

	n, err := store.CountByDocument(ctx, "doc")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), n)

	last, err = store.LastSequence(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), last)
}

func TestMongoEntryStore_SequenceStartsAboveExistingEntries(t *testing.T) {
	db := testhelpers.MongoDatabase(t)
	ctx := context.Background()
	col := db.Collection("ledger_entries")

	_, err := col.InsertOne(ctx, mongoEntry(41, "legacy", 1))
	require.NoError(t, err)

	store, err := NewMongoEntryStore(ctx, col)
	require.NoError(t, err)
	n, err := store.NextSequence(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), n)

	// Reopening must not move the counter backwards.
	again, err := NewMongoEntryStore(ctx, col)
	require.NoError(t, err)
	n, err = again.NextSequence(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(43), n)
}

func TestMongoEntryStore_ConcurrentNextSequence(t *testing.T) {
	db := testhelpers.MongoDatabase(t)
	ctx := context.Background()
	col := db.Collection("ledger_entries")

	a, err := NewMongoEntryStore(ctx, col)
	require.NoError(t, err)
	b, err := NewMongoEntryStore(ctx, col)
	require.NoError(t, err)

	var mu sync.Mutex
	seen := map[uint64]bool{}
	var wg sync.WaitGroup
	for i := range 40 {
		store := a
		if i%2 == 1 {
			store = b
		}
		wg.Add(1)
		go func(store *MongoEntryStore) {
			defer wg.Done()
			n, err := store.NextSequence(ctx)
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			seen[n] = true
			mu.Unlock()
		}(store)
	}
	wg.Wait()
	assert.Len(t, seen, 40)
	for n := uint64(1); n <= 40; n++ {
		assert.True(t, seen[n], n)
	}
}

func TestLedger_ReplicasShareMongoStore(t *testing.T) {
	db := testhelpers.MongoDatabase(t)
	ctx := context.Background()
	col := db.Collection("ledger_entries")
	chain := NewHashChain(testKey)

	storeA, err := NewMongoEntryStore(ctx, col)
	require.NoError(t, err)
	storeB, err := NewMongoEntryStore(ctx, col)
	require.NoError(t, err)
	a := newTestLedger(t, chain, storeA)
	b := newTestLedger(t, chain, storeB)

	ea, err := a.Append(ctx, "doc-a", fmt.Sprintf("%064x", 1), "u1")
	require.NoError(t, err)
	eb, err := b.Append(ctx, "doc-b", fmt.Sprintf("%064x", 2), "u2")
	require.NoError(t, err)
	assert.NotEqual(t, ea.EntryID, eb.EntryID)

	history, err := a.Entries(ctx, "doc-b")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, eb, history[0])
	assert.True(t, a.Verify(ctx, history[0]))
}
