package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittoboot/pkg/app"
	"github.com/marmos91/dittoboot/pkg/config"
	"github.com/marmos91/dittoboot/pkg/metrics"
)

type fakeSource struct {
	mu sync.Mutex
	st app.Status
}

func (f *fakeSource) Status() app.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.st
}

func (f *fakeSource) set(fn func(*app.Status)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(&f.st)
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestLiveness(t *testing.T) {
	h := NewRouter(&fakeSource{}, 0)
	assert.Equal(t, http.StatusOK, get(t, h, "/health/live").Code)

	// One goroutine is always running.
	h = NewRouter(&fakeSource{}, 1)
	assert.Equal(t, http.StatusServiceUnavailable, get(t, h, "/health/live").Code)
}

func TestReadiness(t *testing.T) {
	src := &fakeSource{}
	h := NewRouter(src, 0)

	rec := get(t, h, "/health/ready?full=1")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), errNotReady.Error())

	src.set(func(st *app.Status) { st.Ready = true })
	assert.Equal(t, http.StatusOK, get(t, h, "/health/ready").Code)

	src.set(func(st *app.Status) { st.Terminating = true })
	rec = get(t, h, "/health/ready?full=1")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), errTerminating.Error())
}

func TestStatus(t *testing.T) {
	src := &fakeSource{st: app.Status{RunID: "run-1", Kernel: "standard", Restarts: 2, Ready: true}}
	h := NewRouter(src, 0)

	rec := get(t, h, "/status")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var got map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "run-1", got["run_id"])
	assert.Equal(t, "standard", got["kernel"])
	assert.EqualValues(t, 2, got["restarts"])
	assert.Equal(t, true, got["ready"])

	rec = get(t, h, "/")
	assert.Equal(t, http.StatusTemporaryRedirect, rec.Code)
	assert.Equal(t, "/status", rec.Header().Get("Location"))
}

func TestMetricsEndpoint(t *testing.T) {
	metrics.Reset()
	t.Cleanup(metrics.Reset)

	h := NewRouter(&fakeSource{}, 0)
	assert.Equal(t, http.StatusNotFound, get(t, h, "/metrics").Code)

	metrics.InitRegistry()
	h = NewRouter(&fakeSource{}, 0)
	rec := get(t, h, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestServerLifecycle(t *testing.T) {
	src := &fakeSource{st: app.Status{RunID: "run-2", Ready: true}}
	srv := NewServer(config.ProbeConfig{
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
		IdleTimeout:  time.Second,
	}, src)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx) }()

	require.Eventually(t, func() bool { return srv.Port() != 0 }, 5*time.Second, 10*time.Millisecond)

	var resp *http.Response
	require.Eventually(t, func() bool {
		r, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/status", srv.Port()))
		if err != nil {
			return false
		}
		resp = r
		return true
	}, 5*time.Second, 20*time.Millisecond)
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), "run-2")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after cancellation")
	}

	// Stop after shutdown is a no-op.
	assert.NoError(t, srv.Stop(context.Background()))
}

func TestServerStopBeforeStart(t *testing.T) {
	srv := NewServer(config.ProbeConfig{}, &fakeSource{})
	require.NoError(t, srv.Stop(context.Background()))

	err := srv.Start(context.Background())
	assert.NoError(t, err)
}

func TestServerListenError(t *testing.T) {
	busy := NewServer(config.ProbeConfig{}, &fakeSource{})
	go func() { _ = busy.Start(context.Background()) }()
	require.Eventually(t, func() bool { return busy.Port() != 0 }, 5*time.Second, 10*time.Millisecond)
	defer func() { _ = busy.Stop(context.Background()) }()

	srv := NewServer(config.ProbeConfig{Port: busy.Port()}, &fakeSource{})
	err := srv.Start(context.Background())
	assert.Error(t, err)
}
