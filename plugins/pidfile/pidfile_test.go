package pidfile

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittoboot/pkg/bios"
	"github.com/marmos91/dittoboot/pkg/config"
)

func ctxWithPath(path string) context.Context {
	store := config.NewEmptyStore()
	store.Set("plugins.pidfile.path", path)
	return config.WithStore(context.Background(), store)
}

func TestLoadUnload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run", "test.pid")
	ctx := ctxWithPath(path)

	m := New()
	require.NoError(t, m.Load(ctx, nil))
	assert.Equal(t, path, m.Path())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid()), strings.TrimSpace(string(data)))

	require.NoError(t, m.Unload(ctx))
	_, err = os.Stat(path)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestUnloadKeepsReplacedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.pid")
	ctx := ctxWithPath(path)

	m := New()
	require.NoError(t, m.Load(ctx, nil))
	require.NoError(t, os.WriteFile(path, []byte("1\n"), 0o644))

	require.NoError(t, m.Unload(ctx))
	_, err := os.Stat(path)
	assert.NoError(t, err)
}

func TestUnloadWithoutLoad(t *testing.T) {
	assert.NoError(t, New().Unload(context.Background()))
}

func TestUnloadMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.pid")
	ctx := ctxWithPath(path)

	m := New()
	require.NoError(t, m.Load(ctx, nil))
	require.NoError(t, os.Remove(path))
	assert.NoError(t, m.Unload(ctx))
}

func TestRegistered(t *testing.T) {
	found := bios.DefaultRegistry().Lookup(Name)
	require.Len(t, found, 1)
	assert.IsType(t, &Module{}, found[0].Instance)
}
