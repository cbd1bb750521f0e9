package snapshot

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func backends(t *testing.T) map[string]func(t *testing.T) Store {
	t.Helper()
	out := map[string]func(t *testing.T) Store{
		"file": func(t *testing.T) Store {
			s, err := New(Config{Backend: BackendFile, File: FileConfig{Dir: t.TempDir()}})
			require.NoError(t, err)
			return s
		},
		"badger": func(t *testing.T) Store {
			s, err := New(Config{Backend: BackendBadger, Badger: BadgerConfig{InMemory: true}})
			require.NoError(t, err)
			return s
		},
		"sqlite": func(t *testing.T) Store {
			s, err := New(Config{Backend: BackendSQLite, SQLite: SQLiteConfig{Path: filepath.Join(t.TempDir(), "snap.db")}})
			require.NoError(t, err)
			return s
		},
	}

	if host := os.Getenv("DITTOBOOT_TEST_POSTGRES_HOST"); host != "" {
		out["postgres"] = func(t *testing.T) Store {
			cfg := Config{Backend: BackendPostgres, Postgres: PostgresConfig{
				Host:     host,
				Database: os.Getenv("DITTOBOOT_TEST_POSTGRES_DB"),
				User:     os.Getenv("DITTOBOOT_TEST_POSTGRES_USER"),
				Password: os.Getenv("DITTOBOOT_TEST_POSTGRES_PASSWORD"),
			}}
			cfg.ApplyDefaults("")
			s, err := New(cfg)
			require.NoError(t, err)
			return s
		}
	}
	return out
}

func TestStoreConformance(t *testing.T) {
	ctx := context.Background()

	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			t.Cleanup(func() { _ = s.Close() })

			list, err := s.List(ctx)
			require.NoError(t, err)
			assert.Empty(t, list)

			_, err = s.Load(ctx, "missing")
			assert.ErrorIs(t, err, ErrNotFound)
			assert.ErrorIs(t, s.Delete(ctx, "missing"), ErrNotFound)

			snap := &Snapshot{
				Name: "known-good",
				Values: map[string]any{
					"kernel": "standard",
					"logging": map[string]any{
						"level": "DEBUG",
					},
					"metrics": map[string]any{"enabled": true},
				},
			}
			require.NoError(t, s.Save(ctx, snap))
			assert.False(t, snap.CreatedAt.IsZero())

			got, err := s.Load(ctx, "known-good")
			require.NoError(t, err)
			assert.Equal(t, "known-good", got.Name)
			assert.Equal(t, "standard", got.Values["kernel"])
			assert.Equal(t, map[string]any{"level": "DEBUG"}, got.Values["logging"])
			assert.Equal(t, map[string]any{"enabled": true}, got.Values["metrics"])
			assert.WithinDuration(t, snap.CreatedAt, got.CreatedAt, time.Second)

			// Save replaces.
			require.NoError(t, s.Save(ctx, &Snapshot{Name: "known-good", Values: map[string]any{"kernel": "other"}}))
			got, err = s.Load(ctx, "known-good")
			require.NoError(t, err)
			assert.Equal(t, "other", got.Values["kernel"])

			require.NoError(t, s.Save(ctx, &Snapshot{Name: "alpha"}))
			list, err = s.List(ctx)
			require.NoError(t, err)
			require.Len(t, list, 2)
			assert.Equal(t, "alpha", list[0].Name)
			assert.Equal(t, "known-good", list[1].Name)

			require.NoError(t, s.Delete(ctx, "alpha"))
			_, err = s.Load(ctx, "alpha")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestInvalidNames(t *testing.T) {
	ctx := context.Background()
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	for _, name := range []string{"", "../escape", "with space", ".hidden", "a/b"} {
		assert.ErrorIs(t, s.Save(ctx, &Snapshot{Name: name}), ErrInvalidName, name)
		_, err := s.Load(ctx, name)
		assert.ErrorIs(t, err, ErrInvalidName, name)
	}
	assert.NoError(t, ValidateName("v1.2_prod-a"))
}

func TestFileStoreIgnoresForeignFiles(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o600))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.yaml"), 0o755))
	require.NoError(t, s.Save(context.Background(), &Snapshot{Name: "one"}))

	list, err := s.List(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "one", list[0].Name)
}

func TestConfigDefaultsAndValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
		check   func(t *testing.T, c Config)
	}{
		{
			name: "EmptyDefaultsToFile",
			check: func(t *testing.T, c Config) {
				assert.Equal(t, BackendFile, c.Backend)
				assert.Equal(t, filepath.Join("base", "snapshots"), c.File.Dir)
			},
		},
		{
			name: "BadgerPath",
			cfg:  Config{Backend: BackendBadger},
			check: func(t *testing.T, c Config) {
				assert.Equal(t, filepath.Join("base", "snapshots.badger"), c.Badger.Path)
			},
		},
		{
			name: "PostgresDefaults",
			cfg:  Config{Backend: BackendPostgres, Postgres: PostgresConfig{Host: "db", Database: "boot", User: "boot"}},
			check: func(t *testing.T, c Config) {
				assert.Equal(t, 5432, c.Postgres.Port)
				assert.Equal(t, "disable", c.Postgres.SSLMode)
				assert.Contains(t, c.Postgres.DSN(), "host=db port=5432")
			},
		},
		{name: "PostgresMissingHost", cfg: Config{Backend: BackendPostgres}, wantErr: true},
		{name: "UnknownBackend", cfg: Config{Backend: "etcd"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := tt.cfg
			c.ApplyDefaults("base")
			err := c.Validate()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.check(t, c)
		})
	}
}
