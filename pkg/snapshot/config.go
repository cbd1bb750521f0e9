package snapshot

import (
	"fmt"
	"path/filepath"
)

// Backend selects the snapshot storage.
type Backend string

const (
	BackendFile     Backend = "file"
	BackendBadger   Backend = "badger"
	BackendSQLite   Backend = "sqlite"
	BackendPostgres Backend = "postgres"
)

// FileConfig configures the YAML file backend.
type FileConfig struct {
	// Dir holds one <name>.yaml file per snapshot.
	Dir string `mapstructure:"dir" yaml:"dir,omitempty"`
}

// BadgerConfig configures the BadgerDB backend.
type BadgerConfig struct {
	Path string `mapstructure:"path" yaml:"path,omitempty"`

	// InMemory keeps the database in memory; Path is ignored.
	InMemory bool `mapstructure:"in_memory" yaml:"in_memory,omitempty"`
}

// SQLiteConfig configures the SQLite backend.
type SQLiteConfig struct {
	// Path is the database file, or ":memory:".
	Path string `mapstructure:"path" yaml:"path,omitempty"`
}

// PostgresConfig configures the PostgreSQL backend.
type PostgresConfig struct {
	Host         string `mapstructure:"host" yaml:"host,omitempty"`
	Port         int    `mapstructure:"port" yaml:"port,omitempty" validate:"omitempty,min=1,max=65535"`
	Database     string `mapstructure:"database" yaml:"database,omitempty"`
	User         string `mapstructure:"user" yaml:"user,omitempty"`
	Password     string `mapstructure:"password" yaml:"password,omitempty"`
	SSLMode      string `mapstructure:"sslmode" yaml:"sslmode,omitempty"`
	MaxOpenConns int    `mapstructure:"max_open_conns" yaml:"max_open_conns,omitempty"`
	MaxIdleConns int    `mapstructure:"max_idle_conns" yaml:"max_idle_conns,omitempty"`
}

// DSN returns the PostgreSQL connection string.
func (c *PostgresConfig) DSN() string {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s",
		c.Host, c.Port, c.User, c.Password, c.Database)
	if c.SSLMode != "" {
		dsn += fmt.Sprintf(" sslmode=%s", c.SSLMode)
	}
	return dsn
}

// Config selects and configures a backend.
type Config struct {
	Backend  Backend        `mapstructure:"backend" yaml:"backend" validate:"omitempty,oneof=file badger sqlite postgres"`
	File     FileConfig     `mapstructure:"file" yaml:"file,omitempty"`
	Badger   BadgerConfig   `mapstructure:"badger" yaml:"badger,omitempty"`
	SQLite   SQLiteConfig   `mapstructure:"sqlite" yaml:"sqlite,omitempty"`
	Postgres PostgresConfig `mapstructure:"postgres" yaml:"postgres,omitempty"`
}

// ApplyDefaults fills in missing values. Relative default locations are
// placed under baseDir.
func (c *Config) ApplyDefaults(baseDir string) {
	if c.Backend == "" {
		c.Backend = BackendFile
	}

	switch c.Backend {
	case BackendFile:
		if c.File.Dir == "" {
			c.File.Dir = filepath.Join(baseDir, "snapshots")
		}
	case BackendBadger:
		if c.Badger.Path == "" && !c.Badger.InMemory {
			c.Badger.Path = filepath.Join(baseDir, "snapshots.badger")
		}
	case BackendSQLite:
		if c.SQLite.Path == "" {
			c.SQLite.Path = filepath.Join(baseDir, "snapshots.db")
		}
	case BackendPostgres:
		if c.Postgres.Port == 0 {
			c.Postgres.Port = 5432
		}
		if c.Postgres.SSLMode == "" {
			c.Postgres.SSLMode = "disable"
		}
		if c.Postgres.MaxOpenConns == 0 {
			c.Postgres.MaxOpenConns = 5
		}
		if c.Postgres.MaxIdleConns == 0 {
			c.Postgres.MaxIdleConns = 2
		}
	}
}

// Validate checks the selected backend has what it needs.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendFile:
		if c.File.Dir == "" {
			return fmt.Errorf("snapshot file dir is required")
		}
	case BackendBadger:
		if c.Badger.Path == "" && !c.Badger.InMemory {
			return fmt.Errorf("snapshot badger path is required")
		}
	case BackendSQLite:
		if c.SQLite.Path == "" {
			return fmt.Errorf("snapshot sqlite path is required")
		}
	case BackendPostgres:
		if c.Postgres.Host == "" {
			return fmt.Errorf("snapshot postgres host is required")
		}
		if c.Postgres.Database == "" {
			return fmt.Errorf("snapshot postgres database is required")
		}
		if c.Postgres.User == "" {
			return fmt.Errorf("snapshot postgres user is required")
		}
	default:
		return fmt.Errorf("unsupported snapshot backend: %q", c.Backend)
	}
	return nil
}

// New opens the configured store. Defaults must have been applied.
func New(cfg Config) (Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid snapshot configuration: %w", err)
	}

	switch cfg.Backend {
	case BackendFile:
		return NewFileStore(cfg.File.Dir)
	case BackendBadger:
		return NewBadgerStore(cfg.Badger)
	case BackendSQLite, BackendPostgres:
		return NewGORMStore(cfg)
	default:
		return nil, fmt.Errorf("unsupported snapshot backend: %q", cfg.Backend)
	}
}
