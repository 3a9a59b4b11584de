package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// EntryStore indexes committed entries for lookup by document. It is only
// written after the commit backend has accepted an entry.
type EntryStore interface {
	Insert(ctx context.Context, e Entry) error
	ListByDocument(ctx context.Context, documentID string) ([]Entry, error)
	LastSequence(ctx context.Context) (uint64, error)
	// NextSequence atomically reserves the next entry id. Ids are never
	// handed out twice, also not to ledgers in other processes.
	NextSequence(ctx context.Context) (uint64, error)
	CountByDocument(ctx context.Context, documentID string) (uint64, error)
}

// ErrDuplicateEntry is returned when an entry id is inserted twice.
var ErrDuplicateEntry = errors.New("duplicate ledger entry")

// MemoryEntryStore keeps entries in process memory.
type MemoryEntryStore struct {
	mu      sync.RWMutex
	byDoc   map[string][]Entry
	seen    map[uint64]struct{}
	lastSeq uint64
	issued  uint64
}

func NewMemoryEntryStore() *MemoryEntryStore {
	return &MemoryEntryStore{byDoc: make(map[string][]Entry), seen: make(map[uint64]struct{})}
}

func (m *MemoryEntryStore) Insert(ctx context.Context, e Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.seen[e.EntryID]; dup {
		return fmt.Errorf("%w: %d", ErrDuplicateEntry, e.EntryID)
	}
	m.seen[e.EntryID] = struct{}{}
	m.byDoc[e.DocumentID] = append(m.byDoc[e.DocumentID], e)
	if e.EntryID > m.lastSeq {
		m.lastSeq = e.EntryID
	}
	return nil
}

func (m *MemoryEntryStore) ListByDocument(ctx context.Context, documentID string) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	out := append([]Entry(nil), m.byDoc[documentID]...)
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (m *MemoryEntryStore) LastSequence(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastSeq, nil
}

func (m *MemoryEntryStore) NextSequence(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.issued = max(m.issued, m.lastSeq) + 1
	return m.issued, nil
}

func (m *MemoryEntryStore) CountByDocument(ctx context.Context, documentID string) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return uint64(len(m.byDoc[documentID])), nil
}

// MongoEntryStore stores entries in a MongoDB collection. Entry ids come
// from a counter document in the "counters" collection of the same
// database, keyed by the entry collection name.
type MongoEntryStore struct {
	col      *mongo.Collection
	counters *mongo.Collection
}

// NewMongoEntryStore ensures a unique index on entryId and a compound index
// on (documentId, position), and lifts the id counter above any entry
// already stored.
func NewMongoEntryStore(ctx context.Context, col *mongo.Collection) (*MongoEntryStore, error) {
	_, err := col.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "entryId", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "documentId", Value: 1}, {Key: "position", Value: 1}}, Options: options.Index().SetUnique(true)},
	})
	if err != nil {
		return nil, fmt.Errorf("ledger entry indexes: %w", err)
	}
	m := &MongoEntryStore{col: col, counters: col.Database().Collection("counters")}
	last, err := m.LastSequence(ctx)
	if err != nil {
		return nil, fmt.Errorf("ledger last sequence: %w", err)
	}
	_, err = m.counters.UpdateOne(ctx,
		bson.M{"_id": col.Name()},
		bson.M{"$max": bson.M{"seq": int64(last)}},
		options.Update().SetUpsert(true),
	)
	if err != nil && !mongo.IsDuplicateKeyError(err) {
		return nil, fmt.Errorf("ledger sequence counter: %w", err)
	}
	return m, nil
}

func (m *MongoEntryStore) Insert(ctx context.Context, e Entry) error {
	if _, err := m.col.InsertOne(ctx, e); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: %d", ErrDuplicateEntry, e.EntryID)
		}
		return err
	}
	return nil
}

func (m *MongoEntryStore) ListByDocument(ctx context.Context, documentID string) ([]Entry, error) {
	opts := options.Find().SetSort(bson.D{{Key: "position", Value: 1}})
	cur, err := m.col.Find(ctx, bson.M{"documentId": documentID}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	out := []Entry{}
	for cur.Next(ctx) {
		var e Entry
		if err := cur.Decode(&e); err != nil {
			return nil, err
		}
		e.CommittedAt = e.CommittedAt.UTC()
		out = append(out, e)
	}
	return out, cur.Err()
}

func (m *MongoEntryStore) LastSequence(ctx context.Context) (uint64, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "entryId", Value: -1}})
	var e Entry
	err := m.col.FindOne(ctx, bson.M{}, opts).Decode(&e)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return 0, nil
		}
		return 0, err
	}
	return e.EntryID, nil
}

func (m *MongoEntryStore) NextSequence(ctx context.Context) (uint64, error) {
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
	var counter struct {
		Seq int64 `bson:"seq"`
	}
	err := m.counters.FindOneAndUpdate(ctx, bson.M{"_id": m.col.Name()}, bson.M{"$inc": bson.M{"seq": int64(1)}}, opts).Decode(&counter)
	if err != nil {
		return 0, fmt.Errorf("ledger next sequence: %w", err)
	}
	return uint64(counter.Seq), nil
}

func (m *MongoEntryStore) CountByDocument(ctx context.Context, documentID string) (uint64, error) {
	n, err := m.col.CountDocuments(ctx, bson.M{"documentId": documentID})
	if err != nil {
		return 0, err
	}
	return uint64(n), nil
}
