// Package daemon implements the dgawatch process lifecycle.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"firestige.xyz/dgawatch/internal/capture"
	"firestige.xyz/dgawatch/internal/config"
	"firestige.xyz/dgawatch/internal/core"
	"firestige.xyz/dgawatch/internal/lifecycle"
	logpkg "firestige.xyz/dgawatch/internal/log"
	"firestige.xyz/dgawatch/internal/metrics"
	"firestige.xyz/dgawatch/internal/pipeline"
	"firestige.xyz/dgawatch/internal/publish"
	"firestige.xyz/dgawatch/internal/reputation"
)

// Daemon owns the detector pipeline and everything around it.
type Daemon struct {
	// Configuration
	config     *config.Config
	configPath string
	flags      *pflag.FlagSet

	// Core components
	pipeline      *pipeline.Pipeline
	metricsServer *metrics.Server // nil if metrics disabled
	sig           *lifecycle.Signal

	// Collaborator factories, replaced in tests.
	openSource    func(config.CaptureConfig, string) (capture.Source, error)
	openStore     func(*config.Config) (reputation.Store, error)
	openPublisher func(*config.Config) (publish.Publisher, error)

	sigChan chan os.Signal
}

// New creates a daemon for a loaded configuration. configPath and flags are kept so
// SIGHUP can reload logging settings.
func New(cfg *config.Config, configPath string, flags *pflag.FlagSet) *Daemon {
	return &Daemon{
		config:        cfg,
		configPath:    configPath,
		flags:         flags,
		sig:           lifecycle.NewSignal(context.Background()),
		openSource:    capture.Open,
		openStore:     OpenStore,
		openPublisher: OpenPublisher,
	}
}

// Start initializes logging, the PID file, the metrics server and the collaborators,
// then builds the pipeline. Failures carry the exit code the process should end with.
func (d *Daemon) Start() error {
	// 1. Initialize logging system
	if err := logpkg.Init(d.config.Log); err != nil {
		return core.WithExitCode(core.ExitConfigCheckFailure, fmt.Errorf("failed to initialize logging: %w", err))
	}

	slog.Info("starting dgawatch",
		"interface", d.config.Interface,
		"source", d.config.Capture.Source,
		"store", d.config.Store.Type,
		"broker", d.config.Broker.Type,
		"dry_run", d.config.DryRun,
		"config", d.configPath,
	)

	// 2. Write PID file
	if err := WritePIDFile(d.config.Control.PIDFile); err != nil {
		return core.WithExitCode(core.ExitFailure, err)
	}

	// 3. Start metrics server
	if err := d.startMetrics(); err != nil {
		d.cleanup()
		return core.WithExitCode(core.ExitFailure, err)
	}

	// 4. Reputation store: liveness is checked before anything captures
	store, err := d.openStore(d.config)
	if err != nil {
		d.cleanup()
		return core.WithExitCode(configOr(err, core.ExitStoreConnectionFailure), fmt.Errorf("failed to open reputation store: %w", err))
	}

	// 5. Broker
	pub, err := d.openPublisher(d.config)
	if err != nil {
		_ = store.Close()
		d.cleanup()
		return core.WithExitCode(configOr(err, core.ExitPublisherCreationFailure), fmt.Errorf("failed to create publisher: %w", err))
	}

	// 6. Capture source
	src, err := d.openSource(d.config.Capture, d.config.Interface)
	if err != nil {
		_ = pub.Close()
		_ = store.Close()
		d.cleanup()
		return core.WithExitCode(configOr(err, core.ExitCaptureCreationFailure), fmt.Errorf("failed to open capture: %w", err))
	}

	// 7. Pipeline
	p, err := pipeline.NewBuilder().
		FromConfig(d.config).
		WithSource(src).
		WithStore(store).
		WithPublisher(pub).
		Build(d.sig)
	if err != nil {
		_ = src.Close()
		_ = pub.Close()
		_ = store.Close()
		d.cleanup()
		return core.WithExitCode(core.ExitConfigCheckFailure, fmt.Errorf("failed to build pipeline: %w", err))
	}
	d.pipeline = p

	slog.Info("daemon started successfully")
	return nil
}

// Run runs the pipeline until it drains, fails, or SIGINT/SIGTERM sets the signal.
// SIGHUP reloads logging settings. Run stops the daemon before returning.
func (d *Daemon) Run() error {
	d.sigChan = make(chan os.Signal, 1)
	signal.Notify(d.sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)

	done := make(chan error, 1)
	go func() { done <- d.pipeline.Run() }()

	slog.Info("daemon running, waiting for signals")
	for {
		select {
		case s := <-d.sigChan:
			switch s {
			case syscall.SIGTERM, syscall.SIGINT:
				slog.Info("received shutdown signal", "signal", s)
				d.sig.Cancel(fmt.Errorf("received %s", s))

			case syscall.SIGHUP:
				slog.Info("received reload signal")
				if err := d.Reload(); err != nil {
					slog.Error("failed to reload config", "error", err)
				}
			}

		case err := <-done:
			d.sig.Cancel(nil)
			d.Stop()
			return err
		}
	}
}

// Stop releases the collaborators, the metrics server and the PID file.
func (d *Daemon) Stop() {
	slog.Info("initiating graceful shutdown")

	if d.sigChan != nil {
		signal.Stop(d.sigChan)
	}
	if d.pipeline != nil {
		if err := d.pipeline.Close(); err != nil {
			slog.Error("error closing collaborators", "error", err)
		}
		d.pipeline = nil
	}
	d.cleanup()

	slog.Info("daemon stopped gracefully")
	_ = logpkg.Close()
}

// Reload re-reads the configuration and applies the logging settings.
// Everything else requires a restart.
func (d *Daemon) Reload() error {
	slog.Info("reloading configuration", "path", d.configPath)

	newConfig, err := config.Load(d.configPath, d.flags)
	if err != nil {
		return fmt.Errorf("failed to load new config: %w", err)
	}
	if err := logpkg.Init(newConfig.Log); err != nil {
		return fmt.Errorf("failed to reinitialize logging: %w", err)
	}

	requiresRestart := []string{}
	if newConfig.Interface != d.config.Interface {
		requiresRestart = append(requiresRestart, "interface")
	}
	if newConfig.Capture.Source != d.config.Capture.Source {
		requiresRestart = append(requiresRestart, "capture.source")
	}
	if newConfig.Store.URI != d.config.Store.URI || newConfig.Store.Database != d.config.Store.Database {
		requiresRestart = append(requiresRestart, "store")
	}
	if newConfig.Broker.URL != d.config.Broker.URL || newConfig.Broker.Queue != d.config.Broker.Queue {
		requiresRestart = append(requiresRestart, "broker")
	}
	if newConfig.Metrics.Listen != d.config.Metrics.Listen {
		requiresRestart = append(requiresRestart, "metrics.listen")
	}
	d.config.Log = newConfig.Log

	slog.Info("configuration reloaded", "hot_reloaded", []string{"log"}, "requires_restart", requiresRestart)
	return nil
}

// Signal exposes the cancellation signal shared by the pipeline.
func (d *Daemon) Signal() *lifecycle.Signal { return d.sig }

func (d *Daemon) startMetrics() error {
	if !d.config.Metrics.Enabled {
		slog.Info("metrics server disabled")
		return nil
	}

	d.metricsServer = metrics.NewServer(d.config.Metrics.Listen, d.config.Metrics.Path)
	if err := d.metricsServer.Start(d.sig.Context()); err != nil {
		d.metricsServer = nil
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	slog.Info("metrics server started",
		"addr", d.metricsServer.Addr(),
		"path", d.config.Metrics.Path,
	)
	return nil
}

// configOr reports collaborator errors caused by bad settings as config failures.
func configOr(err error, code core.ExitCode) core.ExitCode {
	if errors.Is(err, core.ErrConfigInvalid) || errors.Is(err, core.ErrInvalidConnString) {
		return core.ExitConfigCheckFailure
	}
	return code
}

func (d *Daemon) cleanup() {
	if d.metricsServer != nil {
		slog.Info("stopping metrics server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := d.metricsServer.Stop(shutdownCtx); err != nil {
			slog.Error("error stopping metrics server", "error", err)
		}
		d.metricsServer = nil
	}
	if err := RemovePIDFile(d.config.Control.PIDFile); err != nil {
		slog.Error("error removing PID file", "error", err)
	}
}
