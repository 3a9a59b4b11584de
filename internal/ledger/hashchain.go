package ledger

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sync"
)

// journalFile is the part of *os.File the chain journal needs.
type journalFile interface {
	io.WriteCloser
	Sync() error
	Truncate(size int64) error
}

// HashChain is a local hash-chained append log. Each reference commits to
// the previous reference and the payload, so altering any committed payload
// breaks every later link. With a journal path the chain survives restarts;
// the journal is re-verified in full when opened.
type HashChain struct {
	key []byte

	// commitMu serialises appends, including the journal write.
	commitMu sync.Mutex

	mu      sync.RWMutex
	records []ChainRecord
	byRef   map[string]uint64

	journal    journalFile
	journalEnd int64
	// journalErr is set when a failed append could not be rolled back; the
	// chain then refuses further commits.
	journalErr error
}

// NewHashChain returns an in-memory chain.
func NewHashChain(key []byte) *HashChain {
	return &HashChain{key: key, byRef: make(map[string]uint64)}
}

// OpenHashChain opens or creates a journal-backed chain at path.
func OpenHashChain(key []byte, path string) (*HashChain, error) {
	c := NewHashChain(key)
	records, err := ReadJournal(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	if _, err := verifyRecords(key, records); err != nil {
		return nil, fmt.Errorf("journal %s: %w", path, err)
	}
	for _, r := range records {
		c.byRef[r.Ref] = r.Index
	}
	c.records = records

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", path, err)
	}
	end, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("open journal %s: %w", path, err)
	}
	c.journal = f
	c.journalEnd = end
	return c, nil
}

// VerifyJournal reads and verifies a journal without opening it for append.
// It returns the records and the head reference.
func VerifyJournal(key []byte, path string) ([]ChainRecord, string, error) {
	records, err := ReadJournal(path)
	if err != nil {
		return nil, "", err
	}
	head, err := verifyRecords(key, records)
	if err != nil {
		return records, "", fmt.Errorf("journal %s: %w", path, err)
	}
	return records, head, nil
}

// ReadJournal loads every record of a journal without verifying it.
func ReadJournal(path string) ([]ChainRecord, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var records []ChainRecord
	sc := bufio.NewScanner(bytes.NewReader(raw))
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		if len(bytes.TrimSpace(sc.Bytes())) == 0 {
			continue
		}
		var r ChainRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			return nil, fmt.Errorf("journal %s line %d: %w", path, line, err)
		}
		records = append(records, r)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("journal %s: %w", path, err)
	}
	return records, nil
}

func (c *HashChain) Name() string { return "hashchain" }

func (c *HashChain) Commit(ctx context.Context, payload []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	c.commitMu.Lock()
	defer c.commitMu.Unlock()

	c.mu.RLock()
	index := uint64(len(c.records))
	prev := genesisRef
	if index > 0 {
		prev = c.records[index-1].Ref
	}
	c.mu.RUnlock()

	rec, err := newRecord(c.key, index, prev, payload)
	if err != nil {
		return "", err
	}
	if c.journal != nil {
		if err := c.appendJournal(rec); err != nil {
			return "", err
		}
	}

	c.mu.Lock()
	c.records = append(c.records, rec)
	c.byRef[rec.Ref] = index
	c.mu.Unlock()
	return rec.Ref, nil
}

// appendJournal writes rec as one line and fsyncs it. On failure the
// journal is cut back to its previous end, so a retried commit does not
// leave a second record with the same index behind.
func (c *HashChain) appendJournal(rec ChainRecord) error {
	if c.journalErr != nil {
		return c.journalErr
	}
	line, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	line = append(line, '\n')

	_, err = c.journal.Write(line)
	if err != nil {
		err = fmt.Errorf("journal write: %w", err)
	} else if serr := c.journal.Sync(); serr != nil {
		err = fmt.Errorf("journal sync: %w", serr)
	}
	if err == nil {
		c.journalEnd += int64(len(line))
		return nil
	}

	if terr := c.journal.Truncate(c.journalEnd); terr != nil {
		c.journalErr = fmt.Errorf("%w: journal rollback to %d failed: %v", ErrChainBroken, c.journalEnd, terr)
		return errors.Join(err, c.journalErr)
	}
	return err
}

// Verify reports whether reference is a link of this chain that commits to
// exactly payload.
func (c *HashChain) Verify(ctx context.Context, reference string, payload []byte) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	idx, ok := c.byRef[reference]
	if !ok {
		return false, nil
	}
	rec := c.records[idx]
	prev := genesisRef
	if idx > 0 {
		prev = c.records[idx-1].Ref
	}
	if rec.check(c.key, idx, prev) != nil {
		return false, nil
	}
	return bytes.Equal(rec.Payload, payload), nil
}

// VerifyChain re-hashes every link and returns the number of records and
// the head reference.
func (c *HashChain) VerifyChain() (int, string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	head, err := verifyRecords(c.key, c.records)
	if err != nil {
		return 0, "", err
	}
	return len(c.records), head, nil
}

// Records returns a copy of the chain.
func (c *HashChain) Records() []ChainRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]ChainRecord(nil), c.records...)
}

// Close releases the journal file, if any.
func (c *HashChain) Close() error {
	c.commitMu.Lock()
	defer c.commitMu.Unlock()
	if c.journal == nil {
		return nil
	}
	err := c.journal.Close()
	c.journal = nil
	return err
}
