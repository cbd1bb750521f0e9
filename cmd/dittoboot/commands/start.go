package commands

import (
	"context"
	"fmt"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/marmos91/dittoboot/internal/logger"
	"github.com/marmos91/dittoboot/internal/telemetry"
	"github.com/marmos91/dittoboot/pkg/app"
	"github.com/marmos91/dittoboot/pkg/bios"
	"github.com/marmos91/dittoboot/pkg/config"
	"github.com/marmos91/dittoboot/pkg/control"
	"github.com/marmos91/dittoboot/pkg/kernel"
	"github.com/marmos91/dittoboot/pkg/metrics"
	"github.com/marmos91/dittoboot/pkg/metrics/prometheus"
	"github.com/marmos91/dittoboot/pkg/probe"
)

var (
	startKernel string
	startWatch  bool
)

var startCmd = &cobra.Command{
	Use:   "start [-- module args...]",
	Short: "Run the boot sequence",
	Long: `Load every early module, run the kernel until it stops or the process
receives SIGINT/SIGTERM, then unload the early modules.

Arguments after "--" are handed to every early module.

Use --config to specify a custom configuration file, or it will use the
default location at $XDG_CONFIG_HOME/dittoboot/config.yaml.

Examples:
  # Start with the default config location
  dittoboot start

  # Pick the kernel when several are registered
  dittoboot start --kernel standard

  # Restart the kernel whenever the "kernel" key changes on disk
  dittoboot start --watch

  # Start with environment variable overrides
  DITTOBOOT_LOGGING_LEVEL=DEBUG dittoboot start`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().StringVar(&startKernel, "kernel", "", "Kernel to run (overrides the kernel key and "+kernel.PreferredEnv+")")
	startCmd.Flags().BoolVar(&startWatch, "watch", false, "Watch the config file and restart the kernel when the kernel key changes")
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, store, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}
	if startKernel != "" {
		store.Set(kernel.PreferredKey, startKernel)
	}

	if err := InitLogger(cfg); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	// Initialize OpenTelemetry (if enabled)
	telemetryShutdown, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "dittoboot",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SampleRate:     cfg.Telemetry.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := telemetryShutdown(context.WithoutCancel(ctx)); err != nil {
			logger.Error("telemetry shutdown error", logger.Err(err))
		}
	}()

	// Initialize Pyroscope profiling (if enabled)
	profilingShutdown, err := telemetry.InitProfiling(telemetry.ProfilingConfig{
		Enabled:        cfg.Telemetry.Profiling.Enabled,
		ServiceName:    "dittoboot",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Profiling.Endpoint,
		ProfileTypes:   cfg.Telemetry.Profiling.ProfileTypes,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize profiling: %w", err)
	}
	defer func() {
		if err := profilingShutdown(); err != nil {
			logger.Error("profiling shutdown error", logger.Err(err))
		}
	}()

	logger.Info("Configuration loaded", "source", getConfigSource(GetConfigFile()))
	logger.Info("Log level", "level", cfg.Logging.Level, "format", cfg.Logging.Format)
	if telemetry.IsEnabled() {
		logger.Info("Telemetry enabled", "endpoint", cfg.Telemetry.Endpoint, "sample_rate", cfg.Telemetry.SampleRate)
	}

	opts := app.Options{
		Values:          store,
		Args:            args,
		ShutdownTimeout: cfg.ShutdownTimeout,
		LoaderOptions: []bios.Option{
			bios.WithPoolSize(cfg.Workers.PoolSize),
			bios.WithStartAttempts(cfg.Modules.StartAttempts),
			bios.WithStartBackoff(cfg.Modules.StartBackoff),
		},
	}

	// Metrics must be enabled before the collectors are created.
	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
		m := prometheus.NewBootMetrics()
		opts.Metrics = m
		opts.LoaderOptions = append(opts.LoaderOptions, bios.WithMetrics(m))
		logger.Info("Metrics enabled")
	}

	a := app.New(opts)

	if cfg.Probe.Enabled {
		srv := probe.NewServer(cfg.Probe, a)
		if err := a.AddAuxiliary(srv); err != nil {
			return err
		}
		logger.Info("Probe server enabled", "port", cfg.Probe.Port)
	}

	if startWatch {
		watchKernel(ctx, store)
	}

	ctx = config.WithStore(ctx, store)
	return a.Run(ctx)
}

// watchKernel restarts the running kernel when the kernel key of the config
// file changes. Resolution picks the new value up on restart.
func watchKernel(ctx context.Context, store *config.Store) {
	if store.ConfigFile() == "" {
		logger.Warn("Nothing to watch: no configuration file in use")
		return
	}

	last := store.String(kernel.PreferredKey, "")
	store.Watch(func(fsnotify.Event) {
		current := store.String(kernel.PreferredKey, "")
		if current == last {
			return
		}
		logger.Info("Preferred kernel changed", "from", last, "to", current)
		last = current

		if err := control.FromContext(ctx).Active().Restart(ctx); err != nil {
			logger.Warn("Kernel restart failed", logger.Err(err))
		}
	})
}
