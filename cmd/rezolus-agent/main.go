// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/antimetal/rezolus-agent/internal/collectors"
	"github.com/antimetal/rezolus-agent/internal/config"
	"github.com/antimetal/rezolus-agent/internal/exposition"
	"github.com/antimetal/rezolus-agent/internal/exposition/promformat"
	"github.com/antimetal/rezolus-agent/internal/metric"
	"github.com/antimetal/rezolus-agent/internal/probe"
	"github.com/antimetal/rezolus-agent/internal/sampler"
	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
)

var (
	setupLog logr.Logger

	configPath string
	verbose    bool
	hostProc   string
)

func init() {
	flag.StringVar(&configPath, "config", "/etc/rezolus/agent.toml",
		"Path to the agent's TOML configuration file")
	flag.BoolVar(&verbose, "verbose", false,
		"Enable debug-level structured logging")
	flag.StringVar(&hostProc, "host-proc", getEnvOrDefault("HOST_PROC", "/proc"),
		"Path the container's /proc is mounted at")
	flag.Parse()

	var zapLog *zap.Logger
	var err error
	if verbose {
		zapLog, err = zap.NewDevelopment()
	} else {
		zapLog, err = zap.NewProduction()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "unable to build logger: %v\n", err)
		os.Exit(1)
	}

	setupLog = zapr.NewLogger(zapLog).WithName("setup")
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(configPath)
	if err != nil {
		setupLog.Error(err, "unable to load configuration")
		os.Exit(1)
	}

	reg := metric.NewRegistry()

	mgr, err := probe.NewManager(setupLog)
	if err != nil {
		setupLog.Error(err, "unable to create probe manager")
		os.Exit(1)
	}
	defer mgr.Close()

	families, err := buildProbeFamilies(cfg, reg, mgr, setupLog)
	if err != nil {
		setupLog.Error(err, "unable to build probe families")
		os.Exit(1)
	}

	for _, family := range families {
		family.Start(ctx)
	}
	setupLog.Info("started probe families", "count", len(families))

	listenAddr, err := cfg.General.ResolveListen()
	if err != nil {
		setupLog.Error(err, "unable to resolve listen address")
		os.Exit(1)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics/binary", exposition.NewHandler(reg, "rezolus-agent", version(), setupLog))
	mux.Handle("/metrics", promformat.Handler(reg, promformat.Options{
		Histograms:             cfg.Prometheus.Histograms,
		HistogramGroupingPower: cfg.Prometheus.HistogramGroupingPower,
	}))

	srv := &http.Server{
		Addr:    listenAddr.String(),
		Handler: mux,
	}

	errCh := make(chan error, 1)
	go func() {
		setupLog.Info("starting exposition server", "address", listenAddr.String())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		setupLog.Info("shutdown signal received")
	case err := <-errCh:
		setupLog.Error(err, "exposition server failed")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)

	for _, family := range families {
		family.Stop()
	}
	setupLog.Info("stopped all probe families")
}

// buildProbeFamilies registers every known probe family's collector
// against the registry. cpu_usage, memory_usage, tcp_traffic and uptime
// read proc/sysfs; hwcounter reads perf_event_open hardware counters. No
// family loads an eBPF program.
func buildProbeFamilies(cfg *config.Config, reg *metric.Registry, mgr *probe.Manager, logger logr.Logger) ([]*sampler.ProbeFamily, error) {
	registry := probe.NewRegistry()

	registry.Register("cpu_usage", time.Second, func(cfg *config.Config, reg *metric.Registry, mgr *probe.Manager, logger logr.Logger) (*sampler.ProbeFamily, error) {
		c := collectors.NewCPUUsage(hostProc, reg)
		interval := cfg.Interval("cpu_usage", time.Second)
		return sampler.NewProbeFamily("cpu_usage", logger, []sampler.Refresher{c}, interval), nil
	})

	registry.Register("memory_usage", time.Second, func(cfg *config.Config, reg *metric.Registry, mgr *probe.Manager, logger logr.Logger) (*sampler.ProbeFamily, error) {
		c, err := collectors.NewMemoryUsage(hostProc, reg)
		if err != nil {
			return nil, err
		}
		interval := cfg.Interval("memory_usage", time.Second)
		return sampler.NewProbeFamily("memory_usage", logger, []sampler.Refresher{c}, interval), nil
	})

	registry.Register("tcp_traffic", time.Second, func(cfg *config.Config, reg *metric.Registry, mgr *probe.Manager, logger logr.Logger) (*sampler.ProbeFamily, error) {
		c, err := collectors.NewTCPTraffic(hostProc, reg)
		if err != nil {
			return nil, err
		}
		interval := cfg.Interval("tcp_traffic", time.Second)
		return sampler.NewProbeFamily("tcp_traffic", logger, []sampler.Refresher{c}, interval), nil
	})

	registry.Register("uptime", 10*time.Second, func(cfg *config.Config, reg *metric.Registry, mgr *probe.Manager, logger logr.Logger) (*sampler.ProbeFamily, error) {
		c, err := collectors.NewUptime(hostProc, reg)
		if err != nil {
			return nil, err
		}
		interval := cfg.Interval("uptime", 10*time.Second)
		return sampler.NewProbeFamily("uptime", logger, []sampler.Refresher{c}, interval), nil
	})

	registry.Register("hwcounter", time.Second, func(cfg *config.Config, reg *metric.Registry, mgr *probe.Manager, logger logr.Logger) (*sampler.ProbeFamily, error) {
		c, err := collectors.NewHWCounters(reg, []sampler.HWCounter{sampler.HWCycles, sampler.HWInstructions})
		if err != nil {
			return nil, err
		}
		if c == nil {
			return nil, nil
		}
		interval := cfg.Interval("hwcounter", time.Second)
		return sampler.NewProbeFamily("hwcounter", logger, []sampler.Refresher{c}, interval), nil
	})

	return registry.Build(cfg, reg, mgr, logger)
}

func version() string {
	if v := os.Getenv("REZOLUS_VERSION"); v != "" {
		return v
	}
	return "dev"
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
