package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"crypto-alerts/internal/tenant"
)

var _ tenant.Store = (*FileStore)(nil)

// FileStore keeps the tenant set in a single JSON document. Used when no database is configured.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore returns a store backed by path. The file is created on first save.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the backing file location.
func (f *FileStore) Path() string {
	return f.path
}

// LoadTenants reads the tenant set; a missing file is an empty set.
func (f *FileStore) LoadTenants(_ context.Context) ([]tenant.Tenant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	raw, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return []tenant.Tenant{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read tenant file: %w", err)
	}
	if len(raw) == 0 {
		return []tenant.Tenant{}, nil
	}

	var tenants []tenant.Tenant
	if err := json.Unmarshal(raw, &tenants); err != nil {
		return nil, fmt.Errorf("decode tenant file %s: %w", f.path, err)
	}
	return tenants, nil
}

// SaveTenants writes the full set to a temp file and renames it over the target.
func (f *FileStore) SaveTenants(_ context.Context, tenants []tenant.Tenant) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if tenants == nil {
		tenants = []tenant.Tenant{}
	}
	raw, err := json.MarshalIndent(tenants, "", "  ")
	if err != nil {
		return fmt.Errorf("encode tenants: %w", err)
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create tenant dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".tenants-*.json")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("replace tenant file: %w", err)
	}
	return nil
}
