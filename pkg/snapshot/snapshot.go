// Package snapshot persists named copies of the configuration tree so an
// operator can save a known-good configuration and restore it later.
//
// Four backends are available: plain YAML files, BadgerDB, SQLite and
// PostgreSQL. All of them store the same Snapshot value.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"
)

var (
	// ErrNotFound is returned when no snapshot has the requested name.
	ErrNotFound = errors.New("snapshot not found")

	// ErrInvalidName is returned for names unusable as file or key names.
	ErrInvalidName = errors.New("invalid snapshot name")
)

var nameRE = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// Snapshot is a named copy of a configuration tree.
type Snapshot struct {
	Name      string         `json:"name" yaml:"name"`
	CreatedAt time.Time      `json:"created_at" yaml:"created_at"`
	Values    map[string]any `json:"values" yaml:"values"`
}

// Info describes a stored snapshot without its values.
type Info struct {
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Store persists snapshots. Saving a name that already exists replaces it.
type Store interface {
	Save(ctx context.Context, s *Snapshot) error
	Load(ctx context.Context, name string) (*Snapshot, error)
	List(ctx context.Context) ([]Info, error)
	Delete(ctx context.Context, name string) error
	Close() error
}

// ValidateName checks that name can be used by every backend.
func ValidateName(name string) error {
	if !nameRE.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

func notFound(name string) error {
	return fmt.Errorf("%w: %s", ErrNotFound, name)
}

func encode(s *Snapshot) ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot %s: %w", s.Name, err)
	}
	return data, nil
}

func decode(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if s.Values == nil {
		s.Values = map[string]any{}
	}
	return &s, nil
}

func prepare(s *Snapshot) error {
	if s == nil {
		return errors.New("nil snapshot")
	}
	if err := ValidateName(s.Name); err != nil {
		return err
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	if s.Values == nil {
		s.Values = map[string]any{}
	}
	return nil
}
