package ledger

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/elshodweb/diploma-backend/pkg/apperrors"
	"github.com/elshodweb/diploma-backend/pkg/logger"
	"github.com/elshodweb/diploma-backend/pkg/metrics"
	"github.com/elshodweb/diploma-backend/pkg/retry"
)

// ErrClosed is returned by Append after Close, wrapped in
// apperrors.ErrCommitFailed.
var ErrClosed = errors.New("ledger closed")

// Config tunes commit behaviour.
type Config struct {
	// Retry bounds the commit attempts. Nil uses retry.DefaultConfig.
	Retry *retry.Config
	// CommitTimeout caps a single backend commit attempt. Zero means 10s.
	CommitTimeout time.Duration
	// Now is the clock used for CommittedAt. Nil uses time.Now.
	Now func() time.Time
}

// Ledger is the provenance ledger. One sequencer goroutine numbers entries and
// talks to the commit backend, so entries are totally
// ordered without any caller holding a lock across I/O.
type Ledger struct {
	backend CommitBackend
	store   EntryStore
	retry   *retry.Config
	timeout time.Duration
	now     func() time.Time
	log     *zap.Logger

	requests chan appendRequest
	done     chan struct{}
	stopped  chan struct{}
	once     sync.Once
}

type appendRequest struct {
	ctx         context.Context
	documentID  string
	contentHash string
	committedBy string
	reply       chan appendResult
}

type appendResult struct {
	entry Entry
	err   error
}

// New starts a ledger over backend and store. Entry ids are drawn from
// store.NextSequence, so ledgers in several processes can share one store.
func New(ctx context.Context, backend CommitBackend, store EntryStore, cfg Config) (*Ledger, error) {
	if _, err := store.LastSequence(ctx); err != nil {
		return nil, fmt.Errorf("ledger: entry store unavailable: %w", err)
	}
	if cfg.Retry == nil {
		cfg.Retry = retry.DefaultConfig()
	}
	if cfg.CommitTimeout <= 0 {
		cfg.CommitTimeout = 10 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	l := &Ledger{
		backend:  backend,
		store:    store,
		retry:    cfg.Retry,
		timeout:  cfg.CommitTimeout,
		now:      cfg.Now,
		log:      logger.Named("ledger").With(zap.String("network", backend.Name())),
		requests: make(chan appendRequest),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	go l.run()
	return l, nil
}

// Network names the commit backend.
func (l *Ledger) Network() string { return l.backend.Name() }

// Append records an upload of contentHash for documentID by committedBy and
// returns the committed entry. The entry is returned only after the commit
// backend confirmed it. A cancelled ctx aborts the append only while it is
// still queued; once the sequencer has taken the request it runs to
// completion.
func (l *Ledger) Append(ctx context.Context, documentID, contentHash, committedBy string) (Entry, error) {
	if documentID == "" || contentHash == "" || committedBy == "" {
		return Entry{}, fmt.Errorf("ledger append: document, hash and principal are required: %w", apperrors.ErrInvalidInput)
	}
	req := appendRequest{
		ctx:         ctx,
		documentID:  documentID,
		contentHash: contentHash,
		committedBy: committedBy,
		reply:       make(chan appendResult, 1),
	}
	select {
	case l.requests <- req:
	case <-ctx.Done():
		return Entry{}, fmt.Errorf("ledger append: %w", ctx.Err())
	case <-l.done:
		return Entry{}, fmt.Errorf("%w: %w", apperrors.ErrCommitFailed, ErrClosed)
	}
	res := <-req.reply
	return res.entry, res.err
}

func (l *Ledger) run() {
	defer close(l.stopped)
	for {
		select {
		case req := <-l.requests:
			var res appendResult
			res.entry, res.err = l.commit(req)
			req.reply <- res
		case <-l.done:
			return
		}
	}
}

// commit runs on the sequencer goroutine. A sequence number drawn from the
// store is never reused, even when the commit fails afterwards.
func (l *Ledger) commit(req appendRequest) (Entry, error) {
	if err := req.ctx.Err(); err != nil {
		metrics.LedgerCommits.WithLabelValues("cancelled").Inc()
		return Entry{}, fmt.Errorf("ledger append: %w", err)
	}
	start := time.Now()
	ctx := context.WithoutCancel(req.ctx)

	seq, err := retry.DoWithResult(ctx, l.retry, func() (uint64, error) {
		return l.store.NextSequence(ctx)
	})
	if err != nil {
		metrics.LedgerCommits.WithLabelValues("failed").Inc()
		return Entry{}, fmt.Errorf("%w: next sequence: %v", apperrors.ErrCommitFailed, err)
	}

	count, err := retry.DoWithResult(ctx, l.retry, func() (uint64, error) {
		return l.store.CountByDocument(ctx, req.documentID)
	})
	if err != nil {
		metrics.LedgerCommits.WithLabelValues("failed").Inc()
		return Entry{}, fmt.Errorf("%w: read position of %s: %v", apperrors.ErrCommitFailed, req.documentID, err)
	}

	entry := Entry{
		EntryID:     seq,
		DocumentID:  req.documentID,
		Position:    count + 1,
		Kind:        KindUpload,
		ContentHash: req.contentHash,
		CommittedBy: req.committedBy,
		// Millisecond precision survives every entry store round trip.
		CommittedAt: l.now().UTC().Truncate(time.Millisecond),
	}
	payload, err := entry.Payload()
	if err != nil {
		metrics.LedgerCommits.WithLabelValues("failed").Inc()
		return Entry{}, fmt.Errorf("%w: encode payload: %v", apperrors.ErrCommitFailed, err)
	}

	ref, err := retry.DoWithResult(ctx, l.retry, func() (string, error) {
		attemptCtx, cancel := context.WithTimeout(ctx, l.timeout)
		defer cancel()
		r, cerr := l.backend.Commit(attemptCtx, payload)
		if cerr != nil {
			l.log.Warn("commit attempt failed", zap.String("document_id", req.documentID), zap.Uint64("entry_id", entry.EntryID), zap.Error(cerr))
		}
		return r, cerr
	})
	if err != nil {
		metrics.LedgerCommits.WithLabelValues("failed").Inc()
		l.log.Error("commit failed", zap.String("document_id", req.documentID), zap.Uint64("entry_id", entry.EntryID), zap.Error(err))
		return Entry{}, fmt.Errorf("%w: %v", apperrors.ErrCommitFailed, err)
	}
	entry.Reference = ref
	entry.Network = l.backend.Name()

	err = retry.Do(ctx, l.retry, func() error {
		ierr := l.store.Insert(ctx, entry)
		if errors.Is(ierr, ErrDuplicateEntry) {
			return retry.Permanent(ierr)
		}
		return ierr
	})
	if err != nil {
		metrics.LedgerCommits.WithLabelValues("failed").Inc()
		l.log.Error("entry index insert failed after commit", zap.String("document_id", req.documentID), zap.Uint64("entry_id", entry.EntryID), zap.String("reference", ref), zap.Error(err))
		return Entry{}, fmt.Errorf("%w: index entry %d: %v", apperrors.ErrCommitFailed, entry.EntryID, err)
	}

	metrics.LedgerCommits.WithLabelValues("committed").Inc()
	metrics.LedgerCommitSeconds.Observe(time.Since(start).Seconds())
	l.log.Info("entry committed", zap.String("document_id", entry.DocumentID), zap.Uint64("entry_id", entry.EntryID), zap.Uint64("position", entry.Position), zap.String("reference", ref))
	return entry, nil
}

// History returns the entries of documentID in commit order. Every
// iteration queries the entry store again, so the sequence can be ranged
// over repeatedly.
func (l *Ledger) History(ctx context.Context, documentID string) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		entries, err := l.store.ListByDocument(ctx, documentID)
		if err != nil {
			yield(Entry{}, fmt.Errorf("ledger history %s: %w", documentID, err))
			return
		}
		for _, e := range entries {
			if !yield(e, nil) {
				return
			}
		}
	}
}

// Entries collects History into a slice.
func (l *Ledger) Entries(ctx context.Context, documentID string) ([]Entry, error) {
	var out []Entry
	for e, err := range l.History(ctx, documentID) {
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// UploadEvent returns the upload entry of documentID.
func (l *Ledger) UploadEvent(ctx context.Context, documentID string) (Entry, error) {
	for e, err := range l.History(ctx, documentID) {
		if err != nil {
			return Entry{}, err
		}
		if e.Kind == KindUpload {
			return e, nil
		}
	}
	return Entry{}, fmt.Errorf("upload event for %s: %w", documentID, apperrors.ErrNotFound)
}

// Verify re-checks entry against the commit backend. Backend errors are
// logged and reported as false.
func (l *Ledger) Verify(ctx context.Context, entry Entry) bool {
	if entry.Reference == "" || (entry.Network != "" && entry.Network != l.backend.Name()) {
		return false
	}
	payload, err := entry.Payload()
	if err != nil {
		return false
	}
	ok, err := l.backend.Verify(ctx, entry.Reference, payload)
	if err != nil {
		l.log.Warn("verify failed", zap.Uint64("entry_id", entry.EntryID), zap.Error(err))
		return false
	}
	return ok
}

// Close stops the sequencer. Appends already taken by the sequencer finish
// first.
func (l *Ledger) Close() {
	l.once.Do(func() { close(l.done) })
	<-l.stopped
}
