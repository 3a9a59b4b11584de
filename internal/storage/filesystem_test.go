package storage

import (
	"bytes"
	"context"
	"crypto/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilesystemBackend_RoundTrip(t *testing.T) {
	compressible := bytes.Repeat([]byte("lorem ipsum dolor sit amet "), 200)
	random := make([]byte, 2048)
	_, err := rand.Read(random)
	require.NoError(t, err)

	for _, c := range []Compression{CompressionNone, CompressionLZ4, CompressionZstd} {
		t.Run(c.String(), func(t *testing.T) {
			fs, err := NewFilesystemBackend(t.TempDir(), c)
			require.NoError(t, err)
			ctx := context.Background()

			for _, data := range [][]byte{compressible, random, []byte("x"), {}} {
				key := HashContent(data)
				require.NoError(t, fs.Write(ctx, key, data))

				ok, err := fs.Exists(ctx, key)
				require.NoError(t, err)
				assert.True(t, ok)

				got, err := fs.Read(ctx, key)
				require.NoError(t, err)
				assert.Equal(t, data, got)
			}
		})
	}
}

func TestFilesystemBackend_CompressesOnDisk(t *testing.T) {
	dir := t.TempDir()
	fs, err := NewFilesystemBackend(dir, CompressionZstd)
	require.NoError(t, err)

	data := bytes.Repeat([]byte("a"), 64*1024)
	key := HashContent(data)
	require.NoError(t, fs.Write(context.Background(), key, data))

	info, err := os.Stat(filepath.Join(dir, key[:2], key))
	require.NoError(t, err)
	assert.Less(t, info.Size(), int64(len(data)/10))
}

func TestFilesystemBackend_Missing(t *testing.T) {
	fs, err := NewFilesystemBackend(t.TempDir(), CompressionNone)
	require.NoError(t, err)
	key := HashContent([]byte("absent"))

	ok, err := fs.Exists(context.Background(), key)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = fs.Read(context.Background(), key)
	require.ErrorIs(t, err, ErrObjectNotFound)
}

func TestFilesystemBackend_RejectsPathKeys(t *testing.T) {
	fs, err := NewFilesystemBackend(t.TempDir(), CompressionNone)
	require.NoError(t, err)
	require.Error(t, fs.Write(context.Background(), "../../etc/passwd", []byte("x")))
}

func TestFilesystemBackend_WithContentStore(t *testing.T) {
	fs, err := NewFilesystemBackend(t.TempDir(), CompressionLZ4)
	require.NoError(t, err)
	store := NewContentStore(fs, fastRetry())
	ctx := context.Background()

	data := bytes.Repeat([]byte("chapter one. "), 500)
	hash, err := store.Put(ctx, data)
	require.NoError(t, err)
	got, err := store.Get(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestFilesystemBackend_WriteLeavesOnlyTarget(t *testing.T) {
	dir := t.TempDir()
	fs, err := NewFilesystemBackend(dir, CompressionNone)
	require.NoError(t, err)
	ctx := context.Background()

	data := []byte("signed approval sheet")
	key := HashContent(data)
	require.NoError(t, fs.Write(ctx, key, data))
	require.NoError(t, fs.Write(ctx, key, data))

	entries, err := os.ReadDir(filepath.Join(dir, key[:2]))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, key, entries[0].Name())

	got, err := fs.Read(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestSyncDir(t *testing.T) {
	require.NoError(t, syncDir(t.TempDir()))
	require.Error(t, syncDir(filepath.Join(t.TempDir(), "missing")))
}

func TestParseCompression(t *testing.T) {
	for in, want := range map[string]Compression{"": CompressionNone, "none": CompressionNone, "LZ4": CompressionLZ4, " zstd ": CompressionZstd} {
		got, err := ParseCompression(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseCompression("brotli")
	require.Error(t, err)
}
