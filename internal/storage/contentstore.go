package storage

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/elshodweb/diploma-backend/pkg/apperrors"
	"github.com/elshodweb/diploma-backend/pkg/logger"
	"github.com/elshodweb/diploma-backend/pkg/metrics"
	"github.com/elshodweb/diploma-backend/pkg/retry"
)

// ContentStore is the only component that touches document bytes. Objects
// are keyed by HashContent, so identical uploads share one stored object.
type ContentStore struct {
	backend Backend
	retry   *retry.Config
	log     *zap.Logger
}

// NewContentStore wraps backend. A nil retry config uses retry.DefaultConfig.
func NewContentStore(backend Backend, cfg *retry.Config) *ContentStore {
	if cfg == nil {
		cfg = retry.DefaultConfig()
	}
	return &ContentStore{backend: backend, retry: cfg, log: logger.Named("contentstore")}
}

// Backend returns the name of the underlying backend.
func (s *ContentStore) Backend() string { return s.backend.Name() }

// Put stores data and returns its content hash. Empty data is a valid
// object. An object that already exists is not rewritten. After a write the object is read back and
// re-hashed before the hash is returned.
func (s *ContentStore) Put(ctx context.Context, data []byte) (string, error) {
	hash := HashContent(data)

	exists, err := s.backend.Exists(ctx, hash)
	if err != nil {
		s.log.Warn("existence check failed, writing anyway", zap.String("hash", hash), zap.Error(err))
	}
	if exists {
		metrics.BlobWrites.WithLabelValues("deduplicated").Inc()
		return hash, nil
	}

	err = retry.Do(ctx, s.retry, func() error {
		if werr := s.backend.Write(ctx, hash, data); werr != nil {
			if ctx.Err() != nil {
				return retry.Permanent(werr)
			}
			s.log.Warn("blob write failed, retrying", zap.String("hash", hash), zap.Error(werr))
			return werr
		}
		return nil
	})
	if err != nil {
		metrics.BlobWrites.WithLabelValues("failed").Inc()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", fmt.Errorf("content store write %s: %w", hash, ctxErr)
		}
		return "", fmt.Errorf("%w: write %s: %v", apperrors.ErrStorageUnavailable, hash, err)
	}

	stored, err := s.read(ctx, hash)
	if err != nil {
		metrics.BlobWrites.WithLabelValues("failed").Inc()
		if errors.Is(err, apperrors.ErrNotFound) {
			return "", fmt.Errorf("%w: %s missing after write", apperrors.ErrIntegrityCheckFailed, hash)
		}
		return "", err
	}
	if HashContent(stored) != hash {
		metrics.BlobWrites.WithLabelValues("failed").Inc()
		s.log.Error("post-write verification mismatch", zap.String("hash", hash))
		return "", fmt.Errorf("%w: %s re-read does not match", apperrors.ErrIntegrityCheckFailed, hash)
	}

	metrics.BlobWrites.WithLabelValues("stored").Inc()
	s.log.Debug("blob stored", zap.String("hash", hash), zap.Int("bytes", len(data)), zap.String("backend", s.backend.Name()))
	return hash, nil
}

// Get returns the bytes stored under hash. Objects whose bytes no longer
// hash to their key are reported as ErrIntegrityCheckFailed.
func (s *ContentStore) Get(ctx context.Context, hash string) ([]byte, error) {
	if !ValidHash(hash) {
		return nil, fmt.Errorf("content %q: %w", hash, apperrors.ErrNotFound)
	}
	data, err := s.read(ctx, hash)
	if err != nil {
		return nil, err
	}
	if HashContent(data) != hash {
		s.log.Error("stored object is corrupt", zap.String("hash", hash))
		return nil, fmt.Errorf("%w: %s", apperrors.ErrIntegrityCheckFailed, hash)
	}
	return data, nil
}

// Exists reports whether an object is stored under hash. Backend failures
// are logged and reported as false.
func (s *ContentStore) Exists(ctx context.Context, hash string) bool {
	if !ValidHash(hash) {
		return false
	}
	ok, err := s.backend.Exists(ctx, hash)
	if err != nil {
		s.log.Warn("existence check failed", zap.String("hash", hash), zap.Error(err))
		return false
	}
	return ok
}

func (s *ContentStore) read(ctx context.Context, hash string) ([]byte, error) {
	data, err := retry.DoWithResult(ctx, s.retry, func() ([]byte, error) {
		b, rerr := s.backend.Read(ctx, hash)
		if rerr != nil {
			if errors.Is(rerr, ErrObjectNotFound) || ctx.Err() != nil {
				return nil, retry.Permanent(rerr)
			}
			return nil, rerr
		}
		return b, nil
	})
	if err == nil {
		return data, nil
	}
	if errors.Is(err, ErrObjectNotFound) {
		return nil, fmt.Errorf("content %s: %w", hash, apperrors.ErrNotFound)
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, fmt.Errorf("content store read %s: %w", hash, ctxErr)
	}
	return nil, fmt.Errorf("%w: read %s: %v", apperrors.ErrStorageUnavailable, hash, err)
}
