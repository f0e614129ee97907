package server

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// FileStore keeps uploaded blobs on disk, one file per upload, keyed by
// a generated UUID. Metadata lives in the database; this store only
// holds bytes.
type FileStore struct {
	dir string
}

// NewFileStore creates the blob directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create files directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Save writes a blob and returns its generated id.
func (fs *FileStore) Save(contents []byte) (string, error) {
	id := uuid.NewString()
	if err := os.WriteFile(fs.path(id), contents, 0600); err != nil {
		return "", fmt.Errorf("failed to write blob %s: %w", id, err)
	}
	return id, nil
}

// Load reads a blob back by id. The id must parse as a UUID, which also
// keeps arbitrary strings from reaching the filesystem.
func (fs *FileStore) Load(id string) ([]byte, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("invalid file id %q: %w", id, err)
	}
	contents, err := os.ReadFile(fs.path(id))
	if err != nil {
		return nil, fmt.Errorf("failed to read blob %s: %w", id, err)
	}
	return contents, nil
}

func (fs *FileStore) path(id string) string {
	return filepath.Join(fs.dir, "file_"+id)
}
