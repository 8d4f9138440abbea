// Package archive stores exported status logs on the local filesystem or in
// S3-compatible object storage, optionally compressed.
package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/watzon/cobble/internal/config"
)

var (
	ErrNotFound      = errors.New("archive not found")
	ErrInvalidConfig = errors.New("invalid archive configuration")
	ErrInvalidKey    = errors.New("invalid archive key")
)

// Backend stores opaque objects by key.
type Backend interface {
	Put(ctx context.Context, key string, r io.Reader) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

// Open builds the backend described by cfg, wrapped in the configured
// compression.
func Open(ctx context.Context, cfg config.ArchiveConfig) (Backend, error) {
	var (
		b   Backend
		err error
	)
	switch cfg.Type {
	case "filesystem":
		b, err = NewFilesystemBackend(cfg.Path)
	case "s3":
		b, err = NewS3Backend(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("%w: unknown backend type %q", ErrInvalidConfig, cfg.Type)
	}
	if err != nil {
		return nil, err
	}
	return NewCompressedBackend(b, cfg.Compression)
}

// Key names the archive object for an export of the given sessions. The
// compression suffix lets a reader tell the encoding from the key alone.
func Key(sessionIDs []string, at time.Time, compression string) string {
	scope := "all"
	if len(sessionIDs) == 1 {
		scope = sessionIDs[0]
	}
	key := fmt.Sprintf("status/%s/%s.html", scope, at.UTC().Format("20060102T150405Z"))
	return key + Extension(compression)
}

// Extension returns the file suffix for a compression type.
func Extension(compression string) string {
	switch compression {
	case "gzip":
		return ".gz"
	case "zstd":
		return ".zst"
	}
	return ""
}

func validateKey(key string) error {
	if key == "" || strings.Contains(key, "\x00") {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	if strings.HasPrefix(key, "/") || strings.HasPrefix(key, `\`) || (len(key) >= 2 && key[1] == ':') {
		return fmt.Errorf("%w: absolute keys are not allowed", ErrInvalidKey)
	}
	for _, part := range strings.FieldsFunc(key, func(r rune) bool { return r == '/' || r == '\\' }) {
		if part == ".." {
			return fmt.Errorf("%w: key contains path traversal", ErrInvalidKey)
		}
	}
	return nil
}
