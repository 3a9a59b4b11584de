package storage

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression selects how FilesystemBackend frames objects on disk.
type Compression uint8

const (
	CompressionNone Compression = 0
	CompressionLZ4  Compression = 1
	CompressionZstd Compression = 2
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", c)
	}
}

// ParseCompression maps a config value to a Compression. Empty means none.
func ParseCompression(name string) (Compression, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZstd, nil
	default:
		return 0, fmt.Errorf("unknown compression %q", name)
	}
}

var errIncompressible = errors.New("data is incompressible")

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("storage: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("storage: zstd decoder initialization failed: " + err.Error())
	}
}

// FilesystemBackend stores one file per object under dir, fanned out by
// the first two hex characters of the key. Each file is a frame:
// 1 byte compression tag, uvarint uncompressed length, body.
type FilesystemBackend struct {
	dir         string
	compression Compression
}

// NewFilesystemBackend creates dir if needed.
func NewFilesystemBackend(dir string, compression Compression) (*FilesystemBackend, error) {
	if dir == "" {
		return nil, errors.New("filesystem backend: directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("filesystem backend: create %s: %w", dir, err)
	}
	return &FilesystemBackend{dir: dir, compression: compression}, nil
}

func (f *FilesystemBackend) Name() string { return "filesystem" }

func (f *FilesystemBackend) path(key string) (string, error) {
	if len(key) < 3 || strings.ContainsAny(key, `/\.`) {
		return "", fmt.Errorf("filesystem backend: invalid key %q", key)
	}
	return filepath.Join(f.dir, key[:2], key), nil
}

// Write stores data atomically: temp file in the target directory, fsync,
// rename, fsync of the directory. A concurrent writer of the same key ends
// with identical bytes.
func (f *FilesystemBackend) Write(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	target, err := f.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}

	frame, err := encodeFrame(data, f.compression)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".tmp-"+key[:8]+"-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(frame); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, target); err != nil {
		return err
	}
	return syncDir(filepath.Dir(target))
}

// syncDir flushes a directory entry so a completed rename survives a crash.
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	if err := d.Sync(); err != nil {
		d.Close()
		return fmt.Errorf("filesystem backend: sync %s: %w", dir, err)
	}
	return d.Close()
}

func (f *FilesystemBackend) Read(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	target, err := f.path(key)
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(target)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrObjectNotFound
		}
		return nil, err
	}
	return decodeFrame(raw)
}

func (f *FilesystemBackend) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	target, err := f.path(key)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(target)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

func encodeFrame(data []byte, c Compression) ([]byte, error) {
	body, tag := data, CompressionNone
	switch c {
	case CompressionLZ4:
		if out, err := compressLZ4(data); err == nil {
			body, tag = out, CompressionLZ4
		} else if !errors.Is(err, errIncompressible) {
			return nil, err
		}
	case CompressionZstd:
		if out := zstdEncoder.EncodeAll(data, nil); len(out) < len(data) {
			body, tag = out, CompressionZstd
		}
	}

	header := make([]byte, 1+binary.MaxVarintLen64)
	header[0] = byte(tag)
	n := binary.PutUvarint(header[1:], uint64(len(data)))
	frame := make([]byte, 0, 1+n+len(body))
	frame = append(frame, header[:1+n]...)
	return append(frame, body...), nil
}

func decodeFrame(frame []byte) ([]byte, error) {
	if len(frame) < 2 {
		return nil, errors.New("filesystem backend: truncated frame")
	}
	size, n := binary.Uvarint(frame[1:])
	if n <= 0 {
		return nil, errors.New("filesystem backend: bad frame length")
	}
	body := frame[1+n:]
	switch Compression(frame[0]) {
	case CompressionNone:
		if uint64(len(body)) != size {
			return nil, fmt.Errorf("filesystem backend: size %d does not match header %d", len(body), size)
		}
		return body, nil
	case CompressionLZ4:
		out := make([]byte, size)
		read, err := lz4.UncompressBlock(body, out)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		if uint64(read) != size {
			return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d", read, size)
		}
		return out, nil
	case CompressionZstd:
		out, err := zstdDecoder.DecodeAll(body, make([]byte, 0, size))
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		if uint64(len(out)) != size {
			return nil, fmt.Errorf("zstd decompress: got %d bytes, expected %d", len(out), size)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("filesystem backend: unknown compression tag %d", frame[0])
	}
}

func compressLZ4(data []byte) ([]byte, error) {
	dst := make([]byte, lz4.CompressBlockBound(len(data)))
	written, err := lz4.CompressBlock(data, dst, nil)
	if err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	if written == 0 || written >= len(data) {
		return nil, errIncompressible
	}
	return dst[:written], nil
}
