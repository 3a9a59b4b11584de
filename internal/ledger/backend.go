package ledger

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/zeebo/blake3"
)

// CommitBackend durably anchors ledger payloads and returns a reference that
// can later be checked against the same payload.
type CommitBackend interface {
	Name() string
	Commit(ctx context.Context, payload []byte) (string, error)
	Verify(ctx context.Context, reference string, payload []byte) (bool, error)
}

// ErrChainBroken is returned when a stored chain does not re-hash to the
// references it records.
var ErrChainBroken = errors.New("hash chain broken")

const chainKeyContext = "diploma-backend provenance ledger 2026-01 chain key"

// genesisRef is the predecessor of the first record of every chain.
var genesisRef = strings.Repeat("0", 64)

// DeriveChainKey turns a configured secret into the 32-byte key used for
// keyed chain hashing.
func DeriveChainKey(secret string) []byte {
	key := make([]byte, 32)
	blake3.DeriveKey(chainKeyContext, []byte(secret), key)
	return key
}

// ChainRecord is one link of a hash chain as persisted by HashChain
// journals and RedisChain.
type ChainRecord struct {
	Index       uint64 `json:"index"`
	Prev        string `json:"prev"`
	PayloadHash string `json:"payloadHash"`
	Payload     []byte `json:"payload"`
	Ref         string `json:"ref"`
}

func payloadHash(payload []byte) string {
	sum := blake3.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// chainRef computes hex(BLAKE3-keyed(key, prev || payloadHash)).
func chainRef(key []byte, prev, payloadHashHex string) (string, error) {
	h, err := blake3.NewKeyed(key)
	if err != nil {
		return "", err
	}
	prevRaw, err := hex.DecodeString(prev)
	if err != nil {
		return "", fmt.Errorf("bad previous reference: %w", err)
	}
	phRaw, err := hex.DecodeString(payloadHashHex)
	if err != nil {
		return "", fmt.Errorf("bad payload hash: %w", err)
	}
	_, _ = h.Write(prevRaw)
	_, _ = h.Write(phRaw)
	return hex.EncodeToString(h.Sum(nil)), nil
}

func newRecord(key []byte, index uint64, prev string, payload []byte) (ChainRecord, error) {
	ph := payloadHash(payload)
	ref, err := chainRef(key, prev, ph)
	if err != nil {
		return ChainRecord{}, err
	}
	return ChainRecord{Index: index, Prev: prev, PayloadHash: ph, Payload: append([]byte(nil), payload...), Ref: ref}, nil
}

// check verifies a record against its expected predecessor.
func (r ChainRecord) check(key []byte, index uint64, prev string) error {
	if r.Index != index {
		return fmt.Errorf("%w: record %d has index %d", ErrChainBroken, index, r.Index)
	}
	if r.Prev != prev {
		return fmt.Errorf("%w: record %d does not link to its predecessor", ErrChainBroken, index)
	}
	if payloadHash(r.Payload) != r.PayloadHash {
		return fmt.Errorf("%w: record %d payload hash mismatch", ErrChainBroken, index)
	}
	want, err := chainRef(key, r.Prev, r.PayloadHash)
	if err != nil {
		return fmt.Errorf("%w: record %d: %v", ErrChainBroken, index, err)
	}
	if want != r.Ref {
		return fmt.Errorf("%w: record %d reference mismatch", ErrChainBroken, index)
	}
	return nil
}

// verifyRecords walks a full chain from genesis and returns the head
// reference.
func verifyRecords(key []byte, records []ChainRecord) (string, error) {
	prev := genesisRef
	for i, r := range records {
		if err := r.check(key, uint64(i), prev); err != nil {
			return "", err
		}
		prev = r.Ref
	}
	return prev, nil
}
