package storage

import (
	"context"
	"errors"
)

// ErrObjectNotFound is returned by Backend.Read when no object is stored
// under the requested key.
var ErrObjectNotFound = errors.New("object not found")

// Backend is the durable byte store underneath ContentStore. Keys are
// content hashes; implementations never interpret the bytes.
type Backend interface {
	Write(ctx context.Context, key string, data []byte) error
	Read(ctx context.Context, key string) ([]byte, error)
	Exists(ctx context.Context, key string) (bool, error)
	Name() string
}
