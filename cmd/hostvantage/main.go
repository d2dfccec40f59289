package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/HerbHall/hostvantage/internal/collector"
	"github.com/HerbHall/hostvantage/internal/config"
	"github.com/HerbHall/hostvantage/internal/envctx"
	"github.com/HerbHall/hostvantage/internal/export"
	"github.com/HerbHall/hostvantage/internal/registry"
	"github.com/HerbHall/hostvantage/internal/scheduler"
	"github.com/HerbHall/hostvantage/internal/server"
	"github.com/HerbHall/hostvantage/internal/version"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "path to configuration file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Info())
		return
	}

	// Initialize logger
	logger, err := zap.NewProduction()
	if err != nil {
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("HostVantage agent starting", zap.String("version", version.Short()))

	// Load configuration; any validation failure refuses startup.
	settings, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Detect the runtime environment once; it is immutable afterwards.
	env := envctx.Detect(ctx, logger.Named("envctx"))

	// Build the registry from the configured collectors (compile-time
	// composition: every collector registered its builder at its
	// definition site).
	reg := registry.New(logger.Named("registry"), env, settings.Collectors.Timeout)
	for _, name := range settings.Collectors.Enabled {
		builder, ok := collector.Lookup(name)
		if !ok {
			logger.Fatal("unknown collector in configuration",
				zap.String("collector", name),
				zap.Strings("known", collector.Names()),
			)
		}
		c := builder(collector.Options{
			Logger: logger.Named(name),
			Memory: settings.Collectors.Memory,
			SMART:  settings.Collectors.SMART,
		})
		if err := reg.Register(c); err != nil {
			logger.Fatal("failed to register collector", zap.Error(err))
		}
	}

	// Select the single export channel for the process lifetime.
	var exporter export.Exporter
	switch settings.Export.Format {
	case config.FormatFile:
		exporter = export.NewFileExporter(settings.Export.File.Path, logger.Named("export"))
	case config.FormatOTLP:
		exporter, err = export.NewOTLPExporter(settings.Export.OTLP, env, logger.Named("export"))
		if err != nil {
			logger.Fatal("failed to create otlp exporter", zap.Error(err))
		}
	}
	defer exporter.Close()

	sched := scheduler.New(reg, exporter, settings.Interval, logger.Named("scheduler"))
	go func() {
		if err := sched.Run(ctx); err != nil {
			logger.Error("scheduler error", zap.Error(err))
		}
	}()

	// Create and start the status HTTP server.
	addr := fmt.Sprintf("%s:%d", settings.Server.Host, settings.Server.Port)
	srv := server.New(addr, sched, logger.Named("server"))

	go func() {
		if err := srv.Start(); err != nil {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	logger.Info("HostVantage agent ready",
		zap.String("addr", addr),
		zap.String("export", settings.Export.Format),
		zap.Duration("interval", settings.Interval),
	)

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	logger.Info("received shutdown signal", zap.String("signal", sig.String()))

	// Graceful shutdown: cancel any in-flight cycle, then drain the
	// HTTP server within a bounded grace period.
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}

	logger.Info("HostVantage agent stopped")
}
