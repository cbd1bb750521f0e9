// Package prometheus implements the boot metrics sinks on top of the shared
// registry.
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/dittoboot/pkg/app"
	"github.com/marmos91/dittoboot/pkg/bios"
	"github.com/marmos91/dittoboot/pkg/metrics"
)

// durationBuckets covers module loads from sub-millisecond to a minute.
var durationBuckets = []float64{
	1,     // 1ms
	5,     // 5ms
	25,    // 25ms
	100,   // 100ms
	500,   // 500ms
	1000,  // 1s
	5000,  // 5s
	15000, // 15s
	60000, // 1m
}

// BootMetrics records module and kernel lifecycle events.
type BootMetrics struct {
	moduleOps      *prometheus.CounterVec
	moduleDuration *prometheus.HistogramVec

	kernelStarts   *prometheus.CounterVec
	kernelRestarts *prometheus.CounterVec
	kernelUptime   *prometheus.HistogramVec
	kernelRunning  *prometheus.GaugeVec
	resolutionErrs *prometheus.CounterVec
}

var (
	_ bios.Metrics = (*BootMetrics)(nil)
	_ app.Metrics  = (*BootMetrics)(nil)
)

// NewBootMetrics creates the boot collectors.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewBootMetrics() *BootMetrics {
	if !metrics.IsEnabled() {
		return nil
	}

	reg := metrics.GetRegistry()

	return &BootMetrics{
		moduleOps: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metrics.Namespace,
				Name:      "module_operations_total",
				Help:      "Total number of early module operations by module, operation and status",
			},
			[]string{"module", "operation", "status"}, // operation: "load", "unload"
		),
		moduleDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metrics.Namespace,
				Name:      "module_operation_duration_milliseconds",
				Help:      "Duration of early module operations in milliseconds",
				Buckets:   durationBuckets,
			},
			[]string{"module", "operation"},
		),
		kernelStarts: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metrics.Namespace,
				Name:      "kernel_starts_total",
				Help:      "Total number of kernel initializations",
			},
			[]string{"kernel"},
		),
		kernelRestarts: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metrics.Namespace,
				Name:      "kernel_restarts_total",
				Help:      "Total number of kernel restarts requested through the controller",
			},
			[]string{"kernel"},
		),
		kernelUptime: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metrics.Namespace,
				Name:      "kernel_uptime_seconds",
				Help:      "Time between kernel initialization and termination",
				Buckets:   prometheus.ExponentialBuckets(1, 4, 10),
			},
			[]string{"kernel"},
		),
		kernelRunning: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metrics.Namespace,
				Name:      "kernel_running",
				Help:      "1 while the kernel is initialized",
			},
			[]string{"kernel"},
		),
		resolutionErrs: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metrics.Namespace,
				Name:      "kernel_resolution_failures_total",
				Help:      "Total number of failed kernel resolutions by reason",
			},
			[]string{"reason"}, // "NotFound", "NoneRegistered", "Ambiguous"
		),
	}
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func (m *BootMetrics) ObserveLoad(module string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.moduleOps.WithLabelValues(module, "load", status(err)).Inc()
	m.moduleDuration.WithLabelValues(module, "load").Observe(float64(d.Microseconds()) / 1000)
}

func (m *BootMetrics) ObserveUnload(module string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.moduleOps.WithLabelValues(module, "unload", status(err)).Inc()
	m.moduleDuration.WithLabelValues(module, "unload").Observe(float64(d.Microseconds()) / 1000)
}

func (m *BootMetrics) KernelStarted(name string) {
	if m == nil {
		return
	}
	m.kernelStarts.WithLabelValues(name).Inc()
	m.kernelRunning.WithLabelValues(name).Set(1)
}

func (m *BootMetrics) KernelStopped(name string, uptime time.Duration) {
	if m == nil {
		return
	}
	m.kernelRunning.WithLabelValues(name).Set(0)
	m.kernelUptime.WithLabelValues(name).Observe(uptime.Seconds())
}

func (m *BootMetrics) KernelRestarted(name string) {
	if m == nil {
		return
	}
	m.kernelRestarts.WithLabelValues(name).Inc()
}

func (m *BootMetrics) ResolutionFailed(reason string) {
	if m == nil {
		return
	}
	m.resolutionErrs.WithLabelValues(reason).Inc()
}
