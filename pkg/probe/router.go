package probe

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/heptiolabs/healthcheck"

	"github.com/marmos91/dittoboot/internal/logger"
	"github.com/marmos91/dittoboot/pkg/metrics"
)

var (
	errNotReady    = errors.New("boot not ready")
	errTerminating = errors.New("boot terminating")
)

// NewRouter creates the chi router serving the probe endpoints. A positive
// goroutineThreshold fails liveness once the process runs more goroutines.
func NewRouter(src StatusSource, goroutineThreshold int) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))

	health := healthcheck.NewHandler()
	if goroutineThreshold > 0 {
		health.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(goroutineThreshold))
	}
	health.AddReadinessCheck("boot", func() error {
		st := src.Status()
		switch {
		case st.Terminating:
			return errTerminating
		case !st.Ready:
			return errNotReady
		}
		return nil
	})

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", health.LiveEndpoint)
		r.Get("/ready", health.ReadyEndpoint)
	})
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, src.Status())
	})

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/status", http.StatusTemporaryRedirect)
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Debug("Failed to write probe response", logger.Err(err))
	}
}

// requestLogger logs probe requests at DEBUG; orchestrators poll them often.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		args := []any{
			"request_id", middleware.GetReqID(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			logger.DurationMs(start),
		}
		if ww.Status() >= http.StatusInternalServerError && !strings.HasPrefix(r.URL.Path, "/health") {
			logger.Warn("Probe request failed", args...)
			return
		}
		logger.Debug("Probe request completed", args...)
	})
}
