package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// FilesystemBackend keeps archives as files under a root directory.
type FilesystemBackend struct {
	root string
}

func NewFilesystemBackend(root string) (*FilesystemBackend, error) {
	if root == "" {
		return nil, fmt.Errorf("%w: path is required", ErrInvalidConfig)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving archive path: %w", err)
	}
	return &FilesystemBackend{root: abs}, nil
}

func (f *FilesystemBackend) path(key string) (string, error) {
	if err := validateKey(key); err != nil {
		return "", err
	}
	full := filepath.Join(f.root, filepath.FromSlash(key))
	if !strings.HasPrefix(full, f.root+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: key escapes archive root", ErrInvalidKey)
	}
	return full, nil
}

// Put writes to a temporary file first so a failed export never leaves a
// truncated archive behind.
func (f *FilesystemBackend) Put(ctx context.Context, key string, r io.Reader) error {
	full, err := f.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(full), ".archive-*")
	if err != nil {
		return fmt.Errorf("creating file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return fmt.Errorf("writing file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing file: %w", err)
	}
	if err := os.Rename(tmp.Name(), full); err != nil {
		return fmt.Errorf("renaming file: %w", err)
	}
	return nil
}

// Get returns ErrNotFound for missing keys. The caller closes the reader.
func (f *FilesystemBackend) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	full, err := f.path(key)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(full)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("opening file: %w", err)
	}
	return file, nil
}

// Delete is idempotent.
func (f *FilesystemBackend) Delete(ctx context.Context, key string) error {
	full, err := f.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing file: %w", err)
	}
	return nil
}
