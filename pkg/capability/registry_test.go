package capability

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type greeter struct{ id int }

func counter() (Factory[*greeter], *int) {
	n := 0
	return func() *greeter {
		n++
		return &greeter{id: n}
	}, &n
}

func TestRegister(t *testing.T) {
	t.Run("NormalizesVersionAndKind", func(t *testing.T) {
		r := NewRegistry[*greeter](KindKernel)
		f, _ := counter()

		require.NoError(t, r.Register(Descriptor{Name: "standard", Kind: KindEarlyModule, Version: "v1.2"}, f))

		d := r.Descriptors()
		require.Len(t, d, 1)
		assert.Equal(t, KindKernel, d[0].Kind)
		assert.Equal(t, "1.2.0", d[0].Version)
	})

	t.Run("Rejects", func(t *testing.T) {
		r := NewRegistry[*greeter](KindEarlyModule)
		f, _ := counter()
		require.NoError(t, r.Register(Descriptor{Name: "a"}, f))

		tests := []struct {
			name string
			desc Descriptor
			fac  Factory[*greeter]
			want error
		}{
			{"Duplicate", Descriptor{Name: "a"}, f, ErrDuplicate},
			{"EmptyName", Descriptor{Name: ""}, f, ErrInvalidName},
			{"SpaceInName", Descriptor{Name: "a b"}, f, ErrInvalidName},
			{"BadVersion", Descriptor{Name: "b", Version: "not-a-version"}, f, ErrInvalidVersion},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				assert.ErrorIs(t, r.Register(tt.desc, tt.fac), tt.want)
			})
		}

		assert.Error(t, r.Register(Descriptor{Name: "c"}, nil))
		assert.Equal(t, 1, r.Len())
	})

	t.Run("MustRegisterPanics", func(t *testing.T) {
		r := NewRegistry[*greeter](KindEarlyModule)
		f, _ := counter()
		r.MustRegister(Descriptor{Name: "a"}, f)
		assert.Panics(t, func() { r.MustRegister(Descriptor{Name: "a"}, f) })
	})
}

func TestProviders(t *testing.T) {
	r := NewRegistry[*greeter](KindEarlyModule)
	fb, nb := counter()
	fa, na := counter()
	require.NoError(t, r.Register(Descriptor{Name: "beta"}, fb))
	require.NoError(t, r.Register(Descriptor{Name: "alpha"}, fa))

	first := r.Providers()
	require.Len(t, first, 2)
	assert.Equal(t, "alpha", first[0].Name)
	assert.Equal(t, "beta", first[1].Name)

	second := r.Providers()
	assert.NotSame(t, first[0].Instance, second[0].Instance)
	assert.Equal(t, 2, *na)
	assert.Equal(t, 2, *nb)
}

func TestLookup(t *testing.T) {
	r := NewRegistry[*greeter](KindKernel)
	f, _ := counter()
	require.NoError(t, r.Register(Descriptor{Name: "standard"}, f))

	found := r.Lookup("standard")
	require.Len(t, found, 1)
	assert.Equal(t, "standard", found[0].Name)
	assert.NotNil(t, found[0].Instance)

	assert.Empty(t, r.Lookup("missing"))

	assert.True(t, r.Unregister("standard"))
	assert.False(t, r.Unregister("standard"))
	assert.Empty(t, r.Lookup("standard"))
}

func TestConcurrentRegister(t *testing.T) {
	r := NewRegistry[*greeter](KindEarlyModule)

	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			f, _ := counter()
			_ = r.Register(Descriptor{Name: fmt.Sprintf("m%02d", i%32)}, f)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 32, r.Len())
	assert.Len(t, r.Providers(), 32)
}
