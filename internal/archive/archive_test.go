package archive

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/watzon/cobble/internal/config"
)

const page = "<html><body>--- Session shop (state: running) ---</body></html>"

func readAll(t *testing.T, b Backend, key string) string {
	t.Helper()
	rc, err := b.Get(context.Background(), key)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return string(data)
}

func TestFilesystemBackend(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	b, err := NewFilesystemBackend(root)
	require.NoError(t, err)

	require.NoError(t, b.Put(ctx, "status/shop/a.html", strings.NewReader(page)))
	assert.Equal(t, page, readAll(t, b, "status/shop/a.html"))

	onDisk, err := os.ReadFile(filepath.Join(root, "status", "shop", "a.html"))
	require.NoError(t, err)
	assert.Equal(t, page, string(onDisk))

	require.NoError(t, b.Delete(ctx, "status/shop/a.html"))
	require.NoError(t, b.Delete(ctx, "status/shop/a.html"), "delete is idempotent")

	_, err = b.Get(ctx, "status/shop/a.html")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFilesystemBackend_RejectsBadKeys(t *testing.T) {
	b, err := NewFilesystemBackend(t.TempDir())
	require.NoError(t, err)

	for _, key := range []string{"", "../escape.html", "status/../../escape", "/etc/passwd", "C:/windows", "a\x00b"} {
		err := b.Put(context.Background(), key, strings.NewReader("x"))
		assert.ErrorIs(t, err, ErrInvalidKey, key)
	}
}

func TestCompressedBackend(t *testing.T) {
	for _, compression := range []string{"gzip", "zstd"} {
		t.Run(compression, func(t *testing.T) {
			ctx := context.Background()
			root := t.TempDir()
			fs, err := NewFilesystemBackend(root)
			require.NoError(t, err)
			b, err := NewCompressedBackend(fs, compression)
			require.NoError(t, err)

			body := strings.Repeat(page, 200)
			require.NoError(t, b.Put(ctx, "export.html", strings.NewReader(body)))
			assert.Equal(t, body, readAll(t, b, "export.html"))

			raw := readAll(t, fs, "export.html")
			assert.Less(t, len(raw), len(body), "stored compressed")
			assert.False(t, bytes.Contains([]byte(raw), []byte("Session shop")))
		})
	}
}

func TestNewCompressedBackend_Passthrough(t *testing.T) {
	fs, err := NewFilesystemBackend(t.TempDir())
	require.NoError(t, err)

	b, err := NewCompressedBackend(fs, "")
	require.NoError(t, err)
	assert.Same(t, fs, b)

	_, err = NewCompressedBackend(fs, "lz4")
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestOpen(t *testing.T) {
	b, err := Open(context.Background(), config.ArchiveConfig{Type: "filesystem", Path: t.TempDir(), Compression: "zstd"})
	require.NoError(t, err)
	assert.IsType(t, &CompressedBackend{}, b)

	_, err = Open(context.Background(), config.ArchiveConfig{Type: "ftp"})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = Open(context.Background(), config.ArchiveConfig{Type: "s3", S3: config.S3Config{Region: "eu-west-1"}})
	assert.ErrorContains(t, err, "bucket is required")
}

func TestKey(t *testing.T) {
	at := time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC)

	assert.Equal(t, "status/shop/20260314T150926Z.html", Key([]string{"shop"}, at, ""))
	assert.Equal(t, "status/all/20260314T150926Z.html.gz", Key([]string{"a", "b"}, at, "gzip"))
	assert.Equal(t, "status/all/20260314T150926Z.html.zst", Key(nil, at, "zstd"))
}

func TestS3Backend(t *testing.T) {
	endpoint := os.Getenv("S3_ENDPOINT")
	if endpoint == "" {
		t.Skip("S3_ENDPOINT not set, skipping S3 integration test")
	}

	ctx := context.Background()
	b, err := NewS3Backend(ctx, config.S3Config{
		Endpoint:        endpoint,
		Region:          os.Getenv("S3_REGION"),
		Bucket:          os.Getenv("S3_BUCKET"),
		AccessKeyID:     os.Getenv("S3_ACCESS_KEY_ID"),
		SecretAccessKey: os.Getenv("S3_SECRET_ACCESS_KEY"),
		ForcePathStyle:  true,
	})
	require.NoError(t, err)

	key := Key([]string{"s3-test"}, time.Now(), "")
	require.NoError(t, b.Put(ctx, key, strings.NewReader(page)))
	assert.Equal(t, page, readAll(t, b, key))
	require.NoError(t, b.Delete(ctx, key))

	_, err = b.Get(ctx, key)
	assert.ErrorIs(t, err, ErrNotFound)
}
