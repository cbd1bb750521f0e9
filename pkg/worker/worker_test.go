package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFactoryNaming(t *testing.T) {
	f := NewFactory("bios-module")

	assert.Equal(t, "bios-module-1", f.NewWorker(func(context.Context) {}).Name())
	assert.Equal(t, "bios-module-2", f.NewWorker(func(context.Context) {}).Name())
	assert.Equal(t, uint64(2), f.Created())
	assert.Equal(t, "bios-module", f.Prefix())
}

func TestFactoryConcurrentNamesAreUnique(t *testing.T) {
	f := NewFactory("w")

	const n = 500
	names := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			names <- f.NextName()
		}()
	}
	wg.Wait()
	close(names)

	seen := make(map[string]struct{}, n)
	for name := range names {
		_, dup := seen[name]
		require.False(t, dup, "duplicate name %s", name)
		seen[name] = struct{}{}
	}
	assert.Len(t, seen, n)
	assert.Contains(t, seen, "w-1")
	assert.Contains(t, seen, "w-500")
}

func TestWorkerRunSetsLabel(t *testing.T) {
	f := NewFactory("probe")

	var got string
	w := f.NewWorker(func(ctx context.Context) {
		got, _ = NameFromContext(ctx)
	})
	w.Run(context.Background())

	assert.Equal(t, "probe-1", got)
}

func TestWorkerGoIsDetached(t *testing.T) {
	done := make(chan string, 1)
	NewFactory("bg").NewWorker(func(ctx context.Context) {
		name, _ := NameFromContext(ctx)
		done <- name
	}).Go(context.Background())

	select {
	case name := <-done:
		assert.Equal(t, "bg-1", name)
	case <-time.After(time.Second):
		t.Fatal("worker did not run")
	}
}

func TestPool(t *testing.T) {
	t.Run("RunsTasksWithNamedWorkers", func(t *testing.T) {
		p, err := NewPool("bios-module", 2)
		require.NoError(t, err)
		defer func() { _ = p.Release(0) }()

		assert.Equal(t, 2, p.Cap())

		var mu sync.Mutex
		names := map[string]bool{}
		var wg sync.WaitGroup
		for i := 0; i < 5; i++ {
			wg.Add(1)
			require.NoError(t, p.Submit(context.Background(), func(ctx context.Context) {
				defer wg.Done()
				name, _ := NameFromContext(ctx)
				mu.Lock()
				names[name] = true
				mu.Unlock()
			}))
		}
		wg.Wait()

		assert.Len(t, names, 5)
		assert.True(t, names["bios-module-5"])
	})

	t.Run("DefaultSizeIsHostConcurrency", func(t *testing.T) {
		p, err := NewPool("x", 0)
		require.NoError(t, err)
		defer func() { _ = p.Release(0) }()

		assert.Equal(t, HostConcurrency(), p.Cap())
		assert.GreaterOrEqual(t, p.Cap(), 1)
	})

	t.Run("PanicIsContained", func(t *testing.T) {
		p, err := NewPool("panicky", 1)
		require.NoError(t, err)
		defer func() { _ = p.Release(0) }()

		var deferred atomic.Bool
		done := make(chan struct{})
		require.NoError(t, p.Submit(context.Background(), func(context.Context) {
			defer close(done)
			defer deferred.Store(true)
			panic("boom")
		}))
		<-done
		assert.True(t, deferred.Load())

		ran := make(chan struct{})
		require.NoError(t, p.Submit(context.Background(), func(context.Context) { close(ran) }))
		select {
		case <-ran:
		case <-time.After(time.Second):
			t.Fatal("pool unusable after panic")
		}
	})

	t.Run("SubmitAfterRelease", func(t *testing.T) {
		p, err := NewPool("closed", 1)
		require.NoError(t, err)
		require.NoError(t, p.Release(time.Second))
		require.NoError(t, p.Release(time.Second))

		err = p.Submit(context.Background(), func(context.Context) {})
		assert.ErrorIs(t, err, ErrPoolClosed)
	})
}
