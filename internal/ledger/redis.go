package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const maxWatchAttempts = 16

// RedisChain keeps the hash chain in Redis so several service replicas can
// append to one chain. Records live in a list; a hash maps each reference
// to its list index. Appends run under WATCH on the list.
type RedisChain struct {
	client  *redis.Client
	key     []byte
	records string
	refs    string
}

// NewRedisChain stores the chain under prefix (default "ledger:chain").
func NewRedisChain(client *redis.Client, key []byte, prefix string) *RedisChain {
	if prefix == "" {
		prefix = "ledger:chain"
	}
	return &RedisChain{client: client, key: key, records: prefix + ":records", refs: prefix + ":refs"}
}

func (r *RedisChain) Name() string { return "redis" }

func (r *RedisChain) Commit(ctx context.Context, payload []byte) (string, error) {
	var ref string
	txf := func(tx *redis.Tx) error {
		n, err := tx.LLen(ctx, r.records).Result()
		if err != nil {
			return err
		}
		prev := genesisRef
		if n > 0 {
			last, err := r.recordAt(ctx, tx, n-1)
			if err != nil {
				return err
			}
			prev = last.Ref
		}
		rec, err := newRecord(r.key, uint64(n), prev, payload)
		if err != nil {
			return err
		}
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.RPush(ctx, r.records, data)
			pipe.HSet(ctx, r.refs, rec.Ref, n)
			return nil
		})
		if err == nil {
			ref = rec.Ref
		}
		return err
	}

	for attempt := 0; attempt < maxWatchAttempts; attempt++ {
		err := r.client.Watch(ctx, txf, r.records)
		if err == nil {
			return ref, nil
		}
		if !errors.Is(err, redis.TxFailedErr) {
			return "", err
		}
	}
	return "", fmt.Errorf("redis chain: append contended %d times", maxWatchAttempts)
}

func (r *RedisChain) Verify(ctx context.Context, reference string, payload []byte) (bool, error) {
	idx, err := r.client.HGet(ctx, r.refs, reference).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, err
	}
	rec, err := r.recordAt(ctx, r.client, idx)
	if err != nil {
		return false, err
	}
	prev := genesisRef
	if idx > 0 {
		before, err := r.recordAt(ctx, r.client, idx-1)
		if err != nil {
			return false, err
		}
		prev = before.Ref
	}
	if rec.check(r.key, uint64(idx), prev) != nil || rec.Ref != reference {
		return false, nil
	}
	return bytes.Equal(rec.Payload, payload), nil
}

// VerifyChain loads the whole chain and re-hashes every link.
func (r *RedisChain) VerifyChain(ctx context.Context) (int, string, error) {
	raw, err := r.client.LRange(ctx, r.records, 0, -1).Result()
	if err != nil {
		return 0, "", err
	}
	records := make([]ChainRecord, len(raw))
	for i, s := range raw {
		if err := json.Unmarshal([]byte(s), &records[i]); err != nil {
			return 0, "", fmt.Errorf("%w: record %d: %v", ErrChainBroken, i, err)
		}
	}
	head, err := verifyRecords(r.key, records)
	if err != nil {
		return 0, "", err
	}
	return len(records), head, nil
}

func (r *RedisChain) recordAt(ctx context.Context, c redis.Cmdable, idx int64) (ChainRecord, error) {
	s, err := c.LIndex(ctx, r.records, idx).Result()
	if err != nil {
		return ChainRecord{}, fmt.Errorf("redis chain: record %d: %w", idx, err)
	}
	var rec ChainRecord
	if err := json.Unmarshal([]byte(s), &rec); err != nil {
		return ChainRecord{}, fmt.Errorf("%w: record %d: %v", ErrChainBroken, idx, err)
	}
	return rec, nil
}
