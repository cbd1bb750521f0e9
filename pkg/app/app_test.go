package app

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittoboot/pkg/bios"
	"github.com/marmos91/dittoboot/pkg/capability"
	"github.com/marmos91/dittoboot/pkg/control"
	"github.com/marmos91/dittoboot/pkg/kernel"
)

type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(s string) {
	l.mu.Lock()
	l.events = append(l.events, s)
	l.mu.Unlock()
}

func (l *eventLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

func (l *eventLog) count(s string) int {
	n := 0
	for _, e := range l.snapshot() {
		if e == s {
			n++
		}
	}
	return n
}

func (l *eventLog) index(s string) int {
	return slices.Index(l.snapshot(), s)
}

type testModule struct {
	name    string
	log     *eventLog
	loadErr error
}

func (m *testModule) Load(context.Context, []string) error {
	m.log.add("load:" + m.name)
	return m.loadErr
}

func (m *testModule) Unload(context.Context) error {
	m.log.add("unload:" + m.name)
	return nil
}

// testKernel blocks in Init until terminated, unless returnAtOnce is set.
type testKernel struct {
	name         string
	log          *eventLog
	returnAtOnce bool
	initErr      error
	onInit       func(ctx context.Context, k *testKernel)
	ctrl         control.Controller
	started      chan<- string

	stop     chan struct{}
	stopOnce sync.Once
}

func (k *testKernel) Init(ctx context.Context) error {
	k.log.add("init:" + k.name)
	if k.onInit != nil {
		k.onInit(ctx, k)
	}
	if k.started != nil {
		k.started <- k.name
	}
	if !k.returnAtOnce {
		select {
		case <-k.stop:
		case <-ctx.Done():
		}
	}
	return k.initErr
}

func (k *testKernel) Terminate(context.Context) error {
	k.log.add("terminate:" + k.name)
	k.stopOnce.Do(func() { close(k.stop) })
	return nil
}

func (k *testKernel) Controller() control.Controller {
	return k.ctrl
}

type fixture struct {
	log     *eventLog
	modules *capability.Registry[bios.Module]
	kernels *capability.Registry[kernel.Kernel]
	reg     *control.Register
}

func newFixture(t *testing.T, modules ...string) *fixture {
	t.Helper()
	f := &fixture{
		log:     &eventLog{},
		modules: capability.NewRegistry[bios.Module](capability.KindEarlyModule),
		kernels: capability.NewRegistry[kernel.Kernel](capability.KindKernel),
		reg:     control.NewRegister(),
	}
	for _, name := range modules {
		f.addModule(t, name, nil)
	}
	return f
}

func (f *fixture) addModule(t *testing.T, name string, loadErr error) {
	t.Helper()
	require.NoError(t, f.modules.Register(capability.Descriptor{Name: name}, func() bios.Module {
		return &testModule{name: name, log: f.log, loadErr: loadErr}
	}))
}

// addKernel registers a kernel; configure is applied to every fresh instance.
func (f *fixture) addKernel(t *testing.T, name string, configure func(k *testKernel)) {
	t.Helper()
	require.NoError(t, f.kernels.Register(capability.Descriptor{Name: name}, func() kernel.Kernel {
		k := &testKernel{name: name, log: f.log, stop: make(chan struct{}), ctrl: control.NewHostController()}
		if configure != nil {
			configure(k)
		}
		return k
	}))
}

func (f *fixture) app(values kernel.Values) *Application {
	return New(Options{
		Modules:         f.modules,
		Kernels:         f.kernels,
		Values:          values,
		DisableSignals:  true,
		ShutdownTimeout: 5 * time.Second,
		Register:        f.reg,
		LoaderOptions:   []bios.Option{bios.WithPoolSize(2), bios.WithStartBackoff(time.Millisecond)},
	})
}

type mapValues map[string]string

func (m mapValues) GetString(key string) (string, bool) {
	v, ok := m[key]
	return v, ok
}

// runAsync runs a in the background and returns a channel with its result.
func runAsync(ctx context.Context, a *Application) <-chan error {
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	return done
}

func waitRun(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
		return nil
	}
}

func waitStarted(t *testing.T, started <-chan string) string {
	t.Helper()
	select {
	case name := <-started:
		return name
	case <-time.After(5 * time.Second):
		t.Fatal("kernel was not initialized")
		return ""
	}
}

func TestRunNormalFlow(t *testing.T) {
	f := newFixture(t, "m1", "m2")
	f.addKernel(t, "standard", func(k *testKernel) { k.returnAtOnce = true })

	a := f.app(nil)
	require.NoError(t, a.Run(context.Background()))

	for _, m := range []string{"m1", "m2"} {
		assert.Less(t, f.log.index("load:"+m), f.log.index("init:standard"))
		assert.Greater(t, f.log.index("unload:"+m), f.log.index("terminate:standard"))
	}
	assert.Equal(t, 1, f.log.count("terminate:standard"))

	st := a.Status()
	assert.Equal(t, a.RunID(), st.RunID)
	assert.Empty(t, st.Kernel)
	require.Len(t, st.Modules, 2)
	for _, m := range st.Modules {
		assert.Equal(t, bios.StateUnloaded, m.State)
	}
}

func TestRunResolutionFailureStillUnloads(t *testing.T) {
	tests := []struct {
		name    string
		kernels []string
		values  kernel.Values
		wantErr error
	}{
		{name: "NoneRegistered", wantErr: kernel.ErrNoneRegistered},
		{name: "Ambiguous", kernels: []string{"k1", "k2"}, wantErr: kernel.ErrAmbiguous},
		{name: "NotFound", kernels: []string{"k1"}, values: mapValues{kernel.PreferredKey: "nope"}, wantErr: kernel.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, "m1")
			for _, k := range tt.kernels {
				f.addKernel(t, k, nil)
			}

			err := f.app(tt.values).Run(context.Background())
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)

			var rerr *kernel.ResolutionError
			assert.ErrorAs(t, err, &rerr)
			assert.Equal(t, 1, f.log.count("unload:m1"))
			for _, k := range tt.kernels {
				assert.Zero(t, f.log.count("init:"+k))
			}
		})
	}
}

func TestRunPreferredKernel(t *testing.T) {
	f := newFixture(t)
	f.addKernel(t, "k1", func(k *testKernel) { k.returnAtOnce = true })
	f.addKernel(t, "k2", func(k *testKernel) { k.returnAtOnce = true })

	require.NoError(t, f.app(mapValues{kernel.PreferredKey: "k2"}).Run(context.Background()))
	assert.Equal(t, []string{"init:k2", "terminate:k2"}, f.log.snapshot())
}

func TestRunInitErrorIsReturned(t *testing.T) {
	boom := errors.New("boom")
	f := newFixture(t, "m1")
	f.addKernel(t, "standard", func(k *testKernel) {
		k.returnAtOnce = true
		k.initErr = boom
	})

	err := f.app(nil).Run(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, f.log.count("terminate:standard"))
	assert.Equal(t, 1, f.log.count("unload:m1"))
}

func TestRunInitPanicIsRecovered(t *testing.T) {
	f := newFixture(t)
	f.addKernel(t, "standard", func(k *testKernel) {
		k.onInit = func(context.Context, *testKernel) { panic("kaboom") }
	})

	err := f.app(nil).Run(context.Background())
	var perr *bios.PanicError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, 1, f.log.count("terminate:standard"))
}

func TestRunToleratesModuleFailure(t *testing.T) {
	f := newFixture(t, "good")
	f.addModule(t, "bad", errors.New("no disk"))
	f.addKernel(t, "standard", func(k *testKernel) { k.returnAtOnce = true })

	require.NoError(t, f.app(nil).Run(context.Background()))
	assert.Equal(t, 1, f.log.count("init:standard"))
	assert.Equal(t, 1, f.log.count("unload:bad"))
	assert.Equal(t, 1, f.log.count("unload:good"))
}

func TestRunTwice(t *testing.T) {
	f := newFixture(t)
	started := make(chan string, 1)
	f.addKernel(t, "standard", func(k *testKernel) { k.started = started })

	a := f.app(nil)
	done := runAsync(context.Background(), a)
	waitStarted(t, started)

	assert.ErrorIs(t, a.Run(context.Background()), ErrAlreadyRunning)

	a.Trigger("test")
	require.NoError(t, waitRun(t, done))
}

func TestTriggerTerminatesKernelOnce(t *testing.T) {
	f := newFixture(t, "m1")
	started := make(chan string, 1)
	f.addKernel(t, "standard", func(k *testKernel) { k.started = started })

	a := f.app(nil)
	done := runAsync(context.Background(), a)
	waitStarted(t, started)

	a.Trigger("first")
	assert.Eventually(t, func() bool { return a.Status().Terminating }, time.Second, 5*time.Millisecond)
	a.abort(context.Background(), "second")
	require.NoError(t, waitRun(t, done))

	assert.Equal(t, 1, f.log.count("terminate:standard"))
	assert.Equal(t, 1, f.log.count("unload:m1"))
	assert.Greater(t, f.log.index("unload:m1"), f.log.index("terminate:standard"))
	assert.True(t, a.Status().Terminating)
}

func TestAbortOnlyFirstCallActs(t *testing.T) {
	f := newFixture(t)
	k := &testKernel{name: "standard", log: f.log, stop: make(chan struct{})}

	a := f.app(nil)
	var cancels atomic.Int32
	a.current = newKernelRun("standard", k)
	a.cancel = func() { cancels.Add(1) }

	a.abort(context.Background(), "first")
	a.current = newKernelRun("standard", k)
	a.abort(context.Background(), "second")

	assert.Equal(t, 1, f.log.count("terminate:standard"))
	assert.Equal(t, int32(1), cancels.Load())
	assert.True(t, a.Status().Terminating)
}

func TestContextCancelTerminates(t *testing.T) {
	f := newFixture(t, "m1")
	started := make(chan string, 1)
	f.addKernel(t, "standard", func(k *testKernel) { k.started = started })

	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(ctx, f.app(nil))
	waitStarted(t, started)

	cancel()
	require.NoError(t, waitRun(t, done))
	assert.Equal(t, 1, f.log.count("terminate:standard"))
	assert.Equal(t, 1, f.log.count("unload:m1"))
}

func TestTriggerBeforeRun(t *testing.T) {
	f := newFixture(t, "m1")
	f.addKernel(t, "standard", nil)

	a := f.app(nil)
	a.Trigger("early")
	require.NoError(t, waitRun(t, runAsync(context.Background(), a)))

	assert.Equal(t, f.log.count("init:standard"), f.log.count("terminate:standard"))
	assert.LessOrEqual(t, f.log.count("terminate:standard"), 1)
	assert.Equal(t, 1, f.log.count("unload:m1"))
}

func TestControllerIsDesignatedWhileRunning(t *testing.T) {
	f := newFixture(t)
	var seen atomic.Bool
	f.addKernel(t, "standard", func(k *testKernel) {
		k.returnAtOnce = true
		k.onInit = func(ctx context.Context, k *testKernel) {
			reg := control.FromContext(ctx)
			seen.Store(reg == f.reg && reg.Active() == k.ctrl)
		}
	})

	require.NoError(t, f.app(nil).Run(context.Background()))
	assert.True(t, seen.Load())
	assert.False(t, f.reg.IsActive())
}

func TestNilControllerDesignatesNone(t *testing.T) {
	f := newFixture(t)
	var active control.Controller
	f.addKernel(t, "standard", func(k *testKernel) {
		k.returnAtOnce = true
		k.ctrl = nil
		k.onInit = func(ctx context.Context, _ *testKernel) {
			active = control.FromContext(ctx).Active()
		}
	})

	require.NoError(t, f.app(nil).Run(context.Background()))
	assert.Equal(t, control.None, active)
}

// mapController cannot be compared with ==.
type mapController struct {
	m map[string]int
}

func (mapController) Restart(context.Context) error             { return nil }
func (mapController) StopModule(context.Context, string) error  { return nil }
func (mapController) StartModule(context.Context, string) error { return nil }

func TestUncomparableControllerStillUnloads(t *testing.T) {
	f := newFixture(t, "m1")
	f.addKernel(t, "standard", func(k *testKernel) {
		k.returnAtOnce = true
		k.ctrl = mapController{m: map[string]int{}}
	})

	a := f.app(nil)
	var err error
	require.NotPanics(t, func() { err = a.Run(context.Background()) })
	require.NoError(t, err)

	assert.Equal(t, 1, f.log.count("terminate:standard"))
	assert.Equal(t, 1, f.log.count("unload:m1"))
	assert.False(t, f.reg.IsActive())
}

func TestRestartThroughController(t *testing.T) {
	f := newFixture(t, "m1")
	started := make(chan string, 2)
	var inits atomic.Int32
	f.addKernel(t, "standard", func(k *testKernel) {
		k.started = started
		k.onInit = func(ctx context.Context, k *testKernel) {
			if inits.Add(1) == 1 {
				assert.NoError(t, control.FromContext(ctx).Active().Restart(ctx))
			}
		}
	})

	a := f.app(nil)
	done := runAsync(context.Background(), a)
	waitStarted(t, started)
	waitStarted(t, started)

	assert.Eventually(t, func() bool { return a.Status().Kernel == "standard" }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, a.Status().Restarts)

	a.Trigger("test")
	require.NoError(t, waitRun(t, done))

	assert.Equal(t, 2, f.log.count("init:standard"))
	assert.Equal(t, 2, f.log.count("terminate:standard"))
	assert.Equal(t, 1, f.log.count("load:m1"))
	assert.Equal(t, 1, f.log.count("unload:m1"))
}

func TestStopStartModuleThroughController(t *testing.T) {
	f := newFixture(t, "m1")
	f.addKernel(t, "standard", func(k *testKernel) {
		k.returnAtOnce = true
		k.onInit = func(ctx context.Context, _ *testKernel) {
			ctrl := control.FromContext(ctx).Active()
			assert.NoError(t, ctrl.StopModule(ctx, "m1"))
			assert.NoError(t, ctrl.StartModule(ctx, "m1"))
			assert.ErrorIs(t, ctrl.StopModule(ctx, "missing"), bios.ErrModuleNotFound)
		}
	})

	require.NoError(t, f.app(nil).Run(context.Background()))
	assert.Equal(t, []string{"load:m1", "init:standard", "unload:m1", "load:m1"}, f.log.snapshot()[:4])
	assert.Equal(t, 2, f.log.count("unload:m1"))
}

func TestHostOperationsOutsideRun(t *testing.T) {
	a := newFixture(t).app(nil)
	ctx := context.Background()

	assert.ErrorIs(t, a.RestartKernel(ctx), ErrNoActiveKernel)
	assert.ErrorIs(t, a.StopModule(ctx, "m1"), ErrNotRunning)
	assert.ErrorIs(t, a.StartModule(ctx, "m1"), ErrNotRunning)

	st := a.Status()
	assert.False(t, st.Ready)
	assert.Empty(t, st.Modules)
}

func TestStatusWhileRunning(t *testing.T) {
	f := newFixture(t, "m1")
	started := make(chan string, 1)
	f.addKernel(t, "standard", func(k *testKernel) { k.started = started })

	a := f.app(nil)
	done := runAsync(context.Background(), a)
	waitStarted(t, started)

	st := a.Status()
	assert.True(t, st.Ready)
	assert.Equal(t, "standard", st.Kernel)
	assert.False(t, st.KernelSince.IsZero())
	require.Len(t, st.Modules, 1)
	assert.Equal(t, bios.StateLoaded, st.Modules[0].State)

	a.Trigger("test")
	require.NoError(t, waitRun(t, done))
}

type recordingMetrics struct {
	mu       sync.Mutex
	started  []string
	stopped  []string
	restarts int
	failures []string
}

func (m *recordingMetrics) KernelStarted(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started = append(m.started, name)
}

func (m *recordingMetrics) KernelStopped(name string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = append(m.stopped, name)
}

func (m *recordingMetrics) KernelRestarted(string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.restarts++
}

func (m *recordingMetrics) ResolutionFailed(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = append(m.failures, reason)
}

func TestMetrics(t *testing.T) {
	f := newFixture(t)
	f.addKernel(t, "standard", func(k *testKernel) { k.returnAtOnce = true })

	m := &recordingMetrics{}
	a := f.app(nil)
	a.opts.Metrics = m
	require.NoError(t, a.Run(context.Background()))
	assert.Equal(t, []string{"standard"}, m.started)
	assert.Equal(t, []string{"standard"}, m.stopped)

	empty := newFixture(t)
	m = &recordingMetrics{}
	b := empty.app(nil)
	b.opts.Metrics = m
	require.Error(t, b.Run(context.Background()))
	assert.Equal(t, []string{"NoneRegistered"}, m.failures)
}

type fakeServer struct {
	started atomic.Bool
	stopped atomic.Bool
}

func (s *fakeServer) Start(ctx context.Context) error {
	s.started.Store(true)
	<-ctx.Done()
	return nil
}

func (s *fakeServer) Stop(context.Context) error {
	s.stopped.Store(true)
	return nil
}

func (s *fakeServer) Port() int { return 0 }

func TestAuxiliaryServers(t *testing.T) {
	f := newFixture(t)
	started := make(chan string, 1)
	f.addKernel(t, "standard", func(k *testKernel) { k.started = started })

	srv := &fakeServer{}
	a := f.app(nil)
	require.NoError(t, a.AddAuxiliary(srv))

	done := runAsync(context.Background(), a)
	waitStarted(t, started)
	assert.Eventually(t, srv.started.Load, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, a.AddAuxiliary(&fakeServer{}), ErrAlreadyRunning)

	a.Trigger("test")
	require.NoError(t, waitRun(t, done))
	assert.True(t, srv.stopped.Load())
}
