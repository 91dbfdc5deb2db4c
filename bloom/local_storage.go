package bloom

import (
	"context"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// LocalFileStorage is a StorageProvider backed by a directory on local
// disk, replacing each key's file via write-to-temp-then-rename so a crash
// never leaves a half-written snapshot, the same durability idiom used
// throughout this module's persistence layers.
type LocalFileStorage struct {
	dir string
}

// NewLocalFileStorage opens a LocalFileStorage rooted at dir, creating it
// if necessary.
func NewLocalFileStorage(dir string) (*LocalFileStorage, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "bloom: create storage dir")
	}
	return &LocalFileStorage{dir: dir}, nil
}

func (l *LocalFileStorage) pathFor(key string) string {
	return filepath.Join(l.dir, filepath.FromSlash(key))
}

// Put writes data to key, creating parent directories as needed.
func (l *LocalFileStorage) Put(_ context.Context, key string, data []byte) error {
	path := l.pathFor(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, "bloom: create storage parent dir")
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return errors.Wrap(err, "bloom: open temp file")
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return errors.Wrap(err, "bloom: write temp file")
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return errors.Wrap(err, "bloom: fsync temp file")
	}
	if err := f.Close(); err != nil {
		return errors.Wrap(err, "bloom: close temp file")
	}
	if err := os.Rename(tmp, path); err != nil {
		return errors.Wrap(err, "bloom: rename into place")
	}
	return nil
}

// Get reads the bytes stored at key.
func (l *LocalFileStorage) Get(_ context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(l.pathFor(key))
	if err != nil {
		return nil, errors.Wrap(err, "bloom: read storage file")
	}
	return data, nil
}
