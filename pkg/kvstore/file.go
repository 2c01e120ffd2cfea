package kvstore

import (
	"context"
	stderrors "errors"
	"net/url"
	"os"
	"path/filepath"
	"sync"

	"github.com/jllopis/reportcard/pkg/errors"
)

// File stores each key in its own file under a directory. Writes go to a
// temporary file first and are renamed into place.
type File struct {
	dir string
	mu  sync.Mutex
}

// NewFile creates a file store rooted at dir, creating it if needed.
func NewFile(dir string) (*File, error) {
	if dir == "" {
		return nil, errors.New(errors.CodeInvalidInput, "storage path is empty", nil)
	}
	if err := ensureDir(dir); err != nil {
		return nil, err
	}
	return &File{dir: dir}, nil
}

// Dir returns the root directory.
func (f *File) Dir() string { return f.dir }

func (f *File) path(key string) string {
	return filepath.Join(f.dir, url.PathEscape(key)+".json")
}

func (f *File) Get(_ context.Context, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, err := os.ReadFile(f.path(key))
	if err != nil {
		if stderrors.Is(err, os.ErrNotExist) {
			return "", false, nil
		}
		return "", false, errors.New(errors.CodeInternal, "read storage file", err).WithContext("key", key)
	}
	return string(data), true, nil
}

func (f *File) Set(_ context.Context, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	tmp, err := os.CreateTemp(f.dir, ".kv-*")
	if err != nil {
		return errors.New(errors.CodeInternal, "create temp file", err).WithContext("key", key)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(value); err != nil {
		_ = tmp.Close()
		return errors.New(errors.CodeInternal, "write storage file", err).WithContext("key", key)
	}
	if err := tmp.Close(); err != nil {
		return errors.New(errors.CodeInternal, "close storage file", err).WithContext("key", key)
	}
	if err := os.Rename(tmp.Name(), f.path(key)); err != nil {
		return errors.New(errors.CodeInternal, "replace storage file", err).WithContext("key", key)
	}
	return nil
}

func (f *File) Remove(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.Remove(f.path(key)); err != nil && !stderrors.Is(err, os.ErrNotExist) {
		return errors.New(errors.CodeInternal, "remove storage file", err).WithContext("key", key)
	}
	return nil
}

func ensureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.New(errors.CodeInternal, "create storage directory", err).WithContext("path", dir)
	}
	return nil
}
