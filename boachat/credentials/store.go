package credentials

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/afero"
)

// MemoryStore keeps credentials in process memory only.
type MemoryStore struct {
	mu    sync.RWMutex
	creds *Credentials
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Get() (*Credentials, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.creds == nil {
		return nil, false
	}
	c := *s.creds
	return &c, true
}

func (s *MemoryStore) Put(creds Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds = &creds
	return nil
}

func (s *MemoryStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds = nil
	return nil
}

// FileStore persists credentials as a JSON document on an afero filesystem.
// The file is read once on first access and rewritten on every Put.
type FileStore struct {
	fs   afero.Fs
	path string

	mu     sync.Mutex
	loaded bool
	creds  *Credentials
}

// NewFileStore returns a store backed by path on fs.
func NewFileStore(fs afero.Fs, path string) *FileStore {
	return &FileStore{fs: fs, path: path}
}

// Path returns the location of the credentials file.
func (s *FileStore) Path() string { return s.path }

func (s *FileStore) Get() (*Credentials, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(); err != nil || s.creds == nil {
		return nil, false
	}
	c := *s.creds
	return &c, true
}

func (s *FileStore) Put(creds Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return fmt.Errorf("credentials: encode: %w", err)
	}
	if err := s.fs.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("credentials: create directory: %w", err)
	}
	if err := afero.WriteFile(s.fs, s.path, data, 0o600); err != nil {
		return fmt.Errorf("credentials: write %s: %w", s.path, err)
	}
	s.creds = &creds
	s.loaded = true
	return nil
}

func (s *FileStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds = nil
	s.loaded = true
	if err := s.fs.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("credentials: remove %s: %w", s.path, err)
	}
	return nil
}

func (s *FileStore) loadLocked() error {
	if s.loaded {
		return nil
	}
	data, err := afero.ReadFile(s.fs, s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.loaded = true
			return nil
		}
		return fmt.Errorf("credentials: read %s: %w", s.path, err)
	}
	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return fmt.Errorf("credentials: decode %s: %w", s.path, err)
	}
	s.creds = &creds
	s.loaded = true
	return nil
}
