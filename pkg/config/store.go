package config

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cast"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/marmos91/dittoboot/internal/logger"
	"github.com/marmos91/dittoboot/pkg/kernel"
	"github.com/marmos91/dittoboot/pkg/snapshot"
)

// Values is the read-only lookup the kernel finder consumes.
type Values = kernel.Values

// Store is a typed view over a configuration tree addressed by dotted
// paths ("plugins.pidfile.path"). It is safe for concurrent use.
type Store struct {
	mu sync.RWMutex
	v  *viper.Viper
}

var _ Values = (*Store)(nil)

// NewStore wraps v.
func NewStore(v *viper.Viper) *Store {
	return &Store{v: v}
}

// NewEmptyStore returns a store with no keys, which still honors
// DITTOBOOT_* environment variables.
func NewEmptyStore() *Store {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return NewStore(v)
}

// GetString returns the value at key as a string and whether it is set.
func (s *Store) GetString(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.v.IsSet(key) {
		return "", false
	}
	return s.v.GetString(key), true
}

// String returns the value at key, or def when unset.
func (s *Store) String(key, def string) string {
	if v, ok := s.GetString(key); ok {
		return v
	}
	return def
}

func (s *Store) lookup(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.v.IsSet(key) {
		return nil, false
	}
	return s.v.Get(key), true
}

// Bool returns the value at key, or def when unset or not a boolean.
func (s *Store) Bool(key string, def bool) bool {
	return get(s, key, def, cast.ToBoolE)
}

// Int returns the value at key, or def when unset or not an integer.
func (s *Store) Int(key string, def int) int {
	return get(s, key, def, cast.ToIntE)
}

// Int64 returns the value at key, or def when unset or not an integer.
func (s *Store) Int64(key string, def int64) int64 {
	return get(s, key, def, cast.ToInt64E)
}

// Float64 returns the value at key, or def when unset or not a number.
func (s *Store) Float64(key string, def float64) float64 {
	return get(s, key, def, cast.ToFloat64E)
}

// Duration returns the value at key, or def when unset or not a duration.
func (s *Store) Duration(key string, def time.Duration) time.Duration {
	return get(s, key, def, cast.ToDurationE)
}

// Strings returns the list at key, or def when unset. A comma separated
// string is split.
func (s *Store) Strings(key string, def []string) []string {
	return get(s, key, def, func(v any) ([]string, error) {
		if str, ok := v.(string); ok {
			return splitList(str), nil
		}
		return cast.ToStringSliceE(v)
	})
}

// Ints returns the list at key, or def when unset or not a list of integers.
func (s *Store) Ints(key string, def []int) []int {
	return get(s, key, def, func(v any) ([]int, error) {
		if str, ok := v.(string); ok {
			return cast.ToIntSliceE(splitList(str))
		}
		return cast.ToIntSliceE(v)
	})
}

func get[T any](s *Store, key string, def T, conv func(any) (T, error)) T {
	raw, ok := s.lookup(key)
	if !ok {
		return def
	}
	v, err := conv(raw)
	if err != nil {
		logger.Debug("Ignoring configuration value of the wrong type", "key", key, logger.Err(err))
		return def
	}
	return v
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Set overrides key. Overrides take precedence over every other source.
func (s *Store) Set(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.v.Set(key, value)
}

// HasPath reports whether key is set by any source.
func (s *Store) HasPath(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.v.IsSet(key)
}

// Contains reports whether name is a sub-configuration (a map of keys).
func (s *Store) Contains(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.v.Get(name).(map[string]any)
	return ok
}

// Sub returns the sub-configuration at name, or an empty store.
func (s *Store) Sub(name string) *Store {
	s.mu.RLock()
	sub := s.v.Sub(name)
	s.mu.RUnlock()
	if sub == nil {
		return NewStore(viper.New())
	}
	return NewStore(sub)
}

// Keys returns every known key, sorted.
func (s *Store) Keys() []string {
	s.mu.RLock()
	keys := s.v.AllKeys()
	s.mu.RUnlock()
	sort.Strings(keys)
	return keys
}

// Settings returns the merged configuration tree.
func (s *Store) Settings() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.v.AllSettings()
}

// ConfigFile returns the file the store was read from, if any.
func (s *Store) ConfigFile() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.v.ConfigFileUsed()
}

// Save stores the merged configuration tree under name.
func (s *Store) Save(ctx context.Context, snaps snapshot.Store, name string) error {
	snap := &snapshot.Snapshot{Name: name, Values: s.Settings()}
	if err := snaps.Save(ctx, snap); err != nil {
		return fmt.Errorf("save snapshot %s: %w", name, err)
	}
	logger.InfoCtx(ctx, "Configuration snapshot saved", logger.KeySnapshot, name, "keys", len(s.Keys()))
	return nil
}

// Restore replaces the file layer of the store with the snapshot name.
// Environment variables and Set overrides still apply on top.
func (s *Store) Restore(ctx context.Context, snaps snapshot.Store, name string) error {
	snap, err := snaps.Load(ctx, name)
	if err != nil {
		return err
	}

	data, err := yaml.Marshal(snap.Values)
	if err != nil {
		return fmt.Errorf("encode snapshot %s: %w", name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.v.SetConfigType("yaml")
	if err := s.v.ReadConfig(bytes.NewReader(data)); err != nil {
		return fmt.Errorf("restore snapshot %s: %w", name, err)
	}
	logger.InfoCtx(ctx, "Configuration snapshot restored", logger.KeySnapshot, name)
	return nil
}

// WriteConfig writes the file layer back to the file it was read from, or
// to path when given.
func (s *Store) WriteConfig(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if path != "" {
		return s.v.WriteConfigAs(path)
	}
	return s.v.WriteConfig()
}

// Watch calls onChange every time the config file changes on disk. It does
// nothing for stores not backed by a file.
func (s *Store) Watch(onChange func(fsnotify.Event)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.v.ConfigFileUsed() == "" {
		return
	}
	s.v.OnConfigChange(func(e fsnotify.Event) {
		logger.Info("Configuration file changed", logger.KeyPath, e.Name, "op", e.Op.String())
		if onChange != nil {
			onChange(e)
		}
	})
	s.v.WatchConfig()
}

type storeKey struct{}

// WithStore returns a context carrying s. Plugins read their settings from it.
func WithStore(ctx context.Context, s *Store) context.Context {
	return context.WithValue(ctx, storeKey{}, s)
}

// FromContext returns the store carried by ctx, or an empty store.
func FromContext(ctx context.Context) *Store {
	if s, ok := ctx.Value(storeKey{}).(*Store); ok && s != nil {
		return s
	}
	return NewEmptyStore()
}
