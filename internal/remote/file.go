package remote

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// FileStore keeps resources as files below a root directory. Resource ids
// are slash-separated paths relative to the root.
type FileStore struct {
	root string
}

// NewFileStore creates a FileStore rooted at dir.
func NewFileStore(dir string) *FileStore {
	return &FileStore{root: dir}
}

func (s *FileStore) path(id string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(id))
	if id == "" || filepath.IsAbs(clean) || clean == "." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) || clean == ".." {
		return "", fmt.Errorf("invalid resource id %q", id)
	}
	return filepath.Join(s.root, clean), nil
}

// Exists implements Store.
func (s *FileStore) Exists(_ context.Context, id string) (bool, error) {
	p, err := s.path(id)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return info.Mode().IsRegular(), nil
}

// Fetch implements Store.
func (s *FileStore) Fetch(_ context.Context, id string) ([]byte, error) {
	p, err := s.path(id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	return data, nil
}

// Update implements Store. The file must already exist; the new content is
// written to a temporary file and renamed over it.
func (s *FileStore) Update(ctx context.Context, id string, data []byte) (string, error) {
	ok, err := s.Exists(ctx, id)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("update %s: %w", id, ErrNotFound)
	}
	p, _ := s.path(id)
	if err := writeAtomic(p, data); err != nil {
		return "", err
	}
	return id, nil
}

// Find implements Store. The id of a file name below parentID is its
// relative path.
func (s *FileStore) Find(ctx context.Context, parentID, name string) (string, bool, error) {
	id := filepath.ToSlash(filepath.Join(parentID, name))
	ok, err := s.Exists(ctx, id)
	if err != nil || !ok {
		return "", false, err
	}
	return id, true, nil
}

// Create implements Store. It fails if the resource already exists.
func (s *FileStore) Create(_ context.Context, parentID, name string, data []byte) (string, error) {
	id := filepath.ToSlash(filepath.Join(parentID, name))
	p, err := s.path(id)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return "", err
	}
	f, err := os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", id, err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	return id, nil
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".upload-*")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
