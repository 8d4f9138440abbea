package archive

import (
	"context"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// CompressedBackend compresses on Put and decompresses on Get.
type CompressedBackend struct {
	backend     Backend
	compression string
}

// NewCompressedBackend returns backend unchanged when compression is empty.
func NewCompressedBackend(backend Backend, compression string) (Backend, error) {
	switch compression {
	case "":
		return backend, nil
	case "gzip", "zstd":
		return &CompressedBackend{backend: backend, compression: compression}, nil
	default:
		return nil, fmt.Errorf("%w: unsupported compression %q", ErrInvalidConfig, compression)
	}
}

func (c *CompressedBackend) Put(ctx context.Context, key string, r io.Reader) error {
	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(c.compress(pw, r))
	}()
	err := c.backend.Put(ctx, key, pr)
	// Unblocks the compressor if the backend stopped reading early.
	pr.CloseWithError(err)
	return err
}

func (c *CompressedBackend) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	rc, err := c.backend.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	pr, pw := io.Pipe()
	go func() {
		err := c.decompress(pw, rc)
		rc.Close()
		pw.CloseWithError(err)
	}()
	return pr, nil
}

func (c *CompressedBackend) Delete(ctx context.Context, key string) error {
	return c.backend.Delete(ctx, key)
}

func (c *CompressedBackend) compress(w io.Writer, r io.Reader) error {
	var zw io.WriteCloser
	if c.compression == "gzip" {
		zw = gzip.NewWriter(w)
	} else {
		enc, err := zstd.NewWriter(w)
		if err != nil {
			return err
		}
		zw = enc
	}
	if _, err := io.Copy(zw, r); err != nil {
		zw.Close()
		return err
	}
	return zw.Close()
}

func (c *CompressedBackend) decompress(w io.Writer, r io.Reader) error {
	if c.compression == "gzip" {
		gr, err := gzip.NewReader(r)
		if err != nil {
			return err
		}
		defer gr.Close()
		_, err = io.Copy(w, gr)
		return err
	}

	zr, err := zstd.NewReader(r)
	if err != nil {
		return err
	}
	defer zr.Close()
	_, err = io.Copy(w, zr)
	return err
}
