// Package webhook persists per-session webhook subscriptions and delivers
// events to them.
package webhook

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"wamux/internal/constants"
	apperrors "wamux/internal/errors"
	"wamux/internal/models"
	"wamux/internal/security"
)

// Store loads and replaces the whole subscription table. Implementations
// do not coordinate concurrent writers: the last Save wins.
type Store interface {
	Load(ctx context.Context) (models.WebhookTable, error)
	Save(ctx context.Context, table models.WebhookTable) error
}

// FileStore keeps the table as a single JSON document.
type FileStore struct {
	path string
}

func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		path = constants.DefaultWebhookFile
	}
	if err := security.ValidateFilePath(path); err != nil {
		return nil, apperrors.NewPersistenceError("init", path, err)
	}
	return &FileStore{path: path}, nil
}

func (s *FileStore) Path() string { return s.path }

// Load returns an empty table when the file does not exist yet.
func (s *FileStore) Load(ctx context.Context) (models.WebhookTable, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return models.WebhookTable{}, nil
	}
	if err != nil {
		return nil, apperrors.NewPersistenceError("load", s.path, err)
	}
	if len(data) == 0 {
		return models.WebhookTable{}, nil
	}

	table := models.WebhookTable{}
	if err := json.Unmarshal(data, &table); err != nil {
		return nil, apperrors.NewPersistenceError("load", s.path, err)
	}
	return table, nil
}

// Save rewrites the file through a temp file and rename.
func (s *FileStore) Save(ctx context.Context, table models.WebhookTable) error {
	data, err := json.MarshalIndent(table, "", "  ")
	if err != nil {
		return apperrors.NewPersistenceError("save", s.path, err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, constants.DefaultDirectoryPermissions); err != nil {
		return apperrors.NewPersistenceError("save", s.path, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return apperrors.NewPersistenceError("save", s.path, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return apperrors.NewPersistenceError("save", s.path, err)
	}
	if err := tmp.Close(); err != nil {
		return apperrors.NewPersistenceError("save", s.path, err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return apperrors.NewPersistenceError("save", s.path, err)
	}
	return nil
}
