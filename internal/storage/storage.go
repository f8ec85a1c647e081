package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Storage is an interface for uploading files.
type Storage interface {
	UploadFile(ctx context.Context, objectName string, reader io.Reader) error
	Location(objectName string) string
}

// LocalStorage writes objects as files below a directory.
type LocalStorage struct {
	Dir string
}

// NewLocalStorage creates dir if needed and returns a storage rooted there.
func NewLocalStorage(dir string) (*LocalStorage, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory %s: %w", dir, err)
	}
	return &LocalStorage{Dir: dir}, nil
}

// UploadFile writes the object, replacing any existing file of that name.
func (l *LocalStorage) UploadFile(ctx context.Context, objectName string, data io.Reader) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	path := l.Location(objectName)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for '%s': %w", objectName, err)
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file '%s': %w", path, err)
	}
	if _, err := io.Copy(file, data); err != nil {
		file.Close()
		return fmt.Errorf("failed to write file '%s': %w", path, err)
	}
	return file.Close()
}

func (l *LocalStorage) Location(objectName string) string {
	return filepath.Join(l.Dir, filepath.FromSlash(objectName))
}
