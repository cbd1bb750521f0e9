package snapshot

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

const fileExt = ".yaml"

// FileStore keeps each snapshot in its own YAML file.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

// NewFileStore creates dir if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(name string) string {
	return filepath.Join(s.dir, name+fileExt)
}

func (s *FileStore) Save(ctx context.Context, snap *Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := prepare(snap); err != nil {
		return err
	}

	data, err := yaml.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot %s: %w", snap.Name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Write then rename so readers never see a partial file.
	tmp := s.path(snap.Name) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write snapshot %s: %w", snap.Name, err)
	}
	if err := os.Rename(tmp, s.path(snap.Name)); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write snapshot %s: %w", snap.Name, err)
	}
	return nil
}

func (s *FileStore) Load(ctx context.Context, name string) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	s.mu.Lock()
	data, err := os.ReadFile(s.path(name))
	s.mu.Unlock()
	if errors.Is(err, fs.ErrNotExist) {
		return nil, notFound(name)
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot %s: %w", name, err)
	}

	var snap Snapshot
	if err := yaml.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", name, err)
	}
	if snap.Values == nil {
		snap.Values = map[string]any{}
	}
	return &snap, nil
}

func (s *FileStore) List(ctx context.Context) ([]Info, error) {
	s.mu.Lock()
	entries, err := os.ReadDir(s.dir)
	s.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}

	var out []Info
	for _, e := range entries {
		name, ok := strings.CutSuffix(e.Name(), fileExt)
		if e.IsDir() || !ok || ValidateName(name) != nil {
			continue
		}
		snap, err := s.Load(ctx, name)
		if err != nil {
			return nil, err
		}
		out = append(out, Info{Name: snap.Name, CreatedAt: snap.CreatedAt})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *FileStore) Delete(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := ValidateName(name); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	err := os.Remove(s.path(name))
	if errors.Is(err, fs.ErrNotExist) {
		return notFound(name)
	}
	return err
}

func (s *FileStore) Close() error {
	return nil
}
