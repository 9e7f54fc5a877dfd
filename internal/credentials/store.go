// Package credentials persists per-session authentication state as a
// directory of files, one directory per session.
package credentials

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"wamux/internal/constants"
	apperrors "wamux/internal/errors"
	"wamux/internal/models"
	"wamux/internal/security"
	"wamux/pkg/whatsapp/types"
)

const tempPrefix = ".tmp-"

// Store maps session ids to credential directories under a root.
type Store struct {
	root   string
	suffix string
	enc    *encryptor

	mu sync.Mutex
}

// NewStore creates the root directory if needed. When cfg.Encrypt is set
// the key is derived from WAMUX_ENCRYPTION_SECRET.
func NewStore(cfg models.CredentialsConfig) (*Store, error) {
	root := cfg.Dir
	if root == "" {
		root = constants.DefaultCredentialsDir
	}
	suffix := cfg.Suffix
	if suffix == "" {
		suffix = constants.DefaultCredentialsSuffix
	}
	if err := security.ValidateFilePath(root); err != nil {
		return nil, apperrors.NewPersistenceError("init", root, err)
	}
	if err := os.MkdirAll(root, constants.DefaultDirectoryPermissions); err != nil {
		return nil, apperrors.NewPersistenceError("init", root, err)
	}

	s := &Store{root: root, suffix: suffix}
	if cfg.Encrypt {
		enc, err := newEncryptor()
		if err != nil {
			return nil, apperrors.NewPersistenceError("init", root, err)
		}
		s.enc = enc
	}
	return s, nil
}

// Root returns the directory holding every session's credentials.
func (s *Store) Root() string { return s.root }

// Dir returns the credential directory path for a session.
func (s *Store) Dir(sessionID string) string {
	return filepath.Join(s.root, sessionID+s.suffix)
}

// Exists reports whether the session has a non-empty credential directory.
func (s *Store) Exists(sessionID string) bool {
	entries, err := os.ReadDir(s.Dir(sessionID))
	if err != nil {
		return false
	}
	for _, e := range entries {
		if e.Type().IsRegular() && !strings.HasPrefix(e.Name(), tempPrefix) {
			return true
		}
	}
	return false
}

// Load reads every credential file for a session. A missing directory
// yields empty credentials.
func (s *Store) Load(sessionID string) (types.Credentials, error) {
	dir := s.Dir(sessionID)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return types.Credentials{}, nil
	}
	if err != nil {
		return nil, apperrors.NewPersistenceError("load", dir, err)
	}

	creds := make(types.Credentials, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() || strings.HasPrefix(e.Name(), tempPrefix) {
			continue
		}
		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path) // #nosec G304 - path built from a directory listing under the store root
		if err != nil {
			return nil, apperrors.NewPersistenceError("load", path, err)
		}
		if s.enc != nil {
			if data, err = s.enc.open(data); err != nil {
				return nil, apperrors.NewPersistenceError("load", path, err)
			}
		}
		creds[e.Name()] = data
	}
	return creds, nil
}

// Save merges files into the session's directory. A nil value removes
// that file. Each file is replaced atomically.
func (s *Store) Save(sessionID string, files types.Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := s.Dir(sessionID)
	if err := os.MkdirAll(dir, constants.DefaultDirectoryPermissions); err != nil {
		return apperrors.NewPersistenceError("save", dir, err)
	}

	for name, data := range files {
		path, err := security.SafeJoin(dir, name)
		if err != nil {
			return apperrors.NewPersistenceError("save", name, err)
		}
		if data == nil {
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				return apperrors.NewPersistenceError("save", path, err)
			}
			continue
		}
		if s.enc != nil {
			if data, err = s.enc.seal(data); err != nil {
				return apperrors.NewPersistenceError("save", path, err)
			}
		}
		if err := writeAtomic(dir, path, data); err != nil {
			return apperrors.NewPersistenceError("save", path, err)
		}
	}
	return nil
}

func writeAtomic(dir, path string, data []byte) error {
	tmp, err := os.CreateTemp(dir, tempPrefix+"*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(constants.DefaultFilePermissions); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// Purge removes a session's credential directory. Purging a session with
// no directory is not an error.
func (s *Store) Purge(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := s.Dir(sessionID)
	if err := os.RemoveAll(dir); err != nil {
		return apperrors.NewPersistenceError("purge", dir, err)
	}
	return nil
}

// List returns the ids of every session with a credential directory,
// sorted. Ids are the directory names with the suffix removed.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.NewPersistenceError("list", s.root, err)
	}

	var ids []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		id, ok := strings.CutSuffix(e.Name(), s.suffix)
		if !ok || id == "" {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}
