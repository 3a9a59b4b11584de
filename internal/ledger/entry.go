// Package ledger records the custody history of documents as an
// append-only sequence of entries, each anchored in a tamper-evident
// commit backend that hands back a verifiable reference.
package ledger

import (
	"fmt"
	"time"

	"github.com/elshodweb/diploma-backend/internal/codec"
)

// Kind classifies a ledger entry.
type Kind string

const (
	KindUpload Kind = "UPLOAD"
	// KindStatusChange is reserved. Status transitions are not ledgered.
	KindStatusChange Kind = "STATUS_CHANGE"
)

// Entry is one immutable fact about a document. Entries are never mutated
// or deleted once appended.
type Entry struct {
	EntryID     uint64    `json:"entryId" bson:"entryId"`
	DocumentID  string    `json:"documentId" bson:"documentId"`
	Position    uint64    `json:"position" bson:"position"`
	Kind        Kind      `json:"kind" bson:"kind"`
	ContentHash string    `json:"contentHash" bson:"contentHash"`
	Reference   string    `json:"reference" bson:"reference"`
	Network     string    `json:"network" bson:"network"`
	CommittedBy string    `json:"committedBy" bson:"committedBy"`
	CommittedAt time.Time `json:"committedAt" bson:"committedAt"`
}

// payload is the canonical form anchored by the commit backend. Reference
// and Network are outputs of the commit and therefore excluded.
type payload struct {
	EntryID     uint64 `cbor:"1,keyasint"`
	DocumentID  string `cbor:"2,keyasint"`
	Position    uint64 `cbor:"3,keyasint"`
	Kind        string `cbor:"4,keyasint"`
	ContentHash string `cbor:"5,keyasint"`
	CommittedBy string `cbor:"6,keyasint"`
	CommittedAt int64  `cbor:"7,keyasint"`
}

// Payload returns the deterministic CBOR encoding of the entry's committed
// fields. Equal entries always produce equal bytes.
func (e Entry) Payload() ([]byte, error) {
	return codec.Marshal(payload{
		EntryID:     e.EntryID,
		DocumentID:  e.DocumentID,
		Position:    e.Position,
		Kind:        string(e.Kind),
		ContentHash: e.ContentHash,
		CommittedBy: e.CommittedBy,
		CommittedAt: e.CommittedAt.UnixNano(),
	})
}

// DecodePayload rebuilds the committed fields of an entry from its payload.
// Reference and Network are left empty.
func DecodePayload(data []byte) (Entry, error) {
	var p payload
	if err := codec.Unmarshal(data, &p); err != nil {
		return Entry{}, fmt.Errorf("decode ledger payload: %w", err)
	}
	return Entry{
		EntryID:     p.EntryID,
		DocumentID:  p.DocumentID,
		Position:    p.Position,
		Kind:        Kind(p.Kind),
		ContentHash: p.ContentHash,
		CommittedBy: p.CommittedBy,
		CommittedAt: time.Unix(0, p.CommittedAt).UTC(),
	}, nil
}
