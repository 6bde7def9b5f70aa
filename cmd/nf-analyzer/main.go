package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"NetflowAnalyzer/internal/api"
	"NetflowAnalyzer/internal/config"
	"NetflowAnalyzer/internal/engine/dispatcher"
	"NetflowAnalyzer/internal/engine/manager"
	"NetflowAnalyzer/internal/logging"
	"NetflowAnalyzer/internal/metrics"
	"NetflowAnalyzer/internal/notification"

	// Analysis modules register themselves with the factory.
	_ "NetflowAnalyzer/internal/engine/impl/chwriter"
	_ "NetflowAnalyzer/internal/engine/impl/ddos"
	_ "NetflowAnalyzer/internal/engine/impl/natspub"
	_ "NetflowAnalyzer/internal/engine/impl/topports"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "configs/config.yaml", "Path to the configuration file")
	flag.Parse()

	// 1. Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	logger, logCloser, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to set up logging: %v\n", err)
		return 1
	}
	defer logCloser.Close()
	slog.SetDefault(logger)
	logger.Info("Starting nf-analyzer", "config", *configPath)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	// 2. Build the manager and dispatcher, and bind the socket before any
	// module starts.
	mgr := manager.New(manager.Options{
		QueueSize:   cfg.Dispatch.QueueSize,
		Overflow:    manager.OverflowPolicy(cfg.Dispatch.OverflowPolicy),
		JoinTimeout: cfg.Dispatch.JoinTimeout,
		Logger:      logger,
		Metrics:     m,
		Notifier:    notification.FromConfig(cfg.SMTP, logger),
	})
	disp := dispatcher.New(mgr, dispatcher.Options{
		PollInterval: cfg.Listener.PollInterval,
		ReadBuffer:   cfg.Listener.ReadBuffer,
		Logger:       logger,
		Metrics:      m,
	})
	if err := disp.Listen(cfg.Listener.Addr()); err != nil {
		logger.Error("Failed to bind netflow socket", "addr", cfg.Listener.Addr(), "error", err)
		return 1
	}

	// 3. Start analysis modules
	mgr.RegisterAll(cfg.EnabledModules())

	// 4. Status API and health service
	var apiServer *api.Server
	if cfg.API.Enabled {
		apiServer = api.NewServer(cfg.API.ListenAddr, api.NewRouter(disp, mgr, reg, logger), logger)
		apiServer.Start()
	}
	var healthSvc *api.Health
	if cfg.Health.Enabled {
		healthSvc = api.NewHealth(disp, mgr, logger)
		if err := healthSvc.Serve(cfg.Health.ListenAddr); err != nil {
			logger.Error("Failed to start health service", "error", err)
			healthSvc = nil
		} else {
			go healthSvc.Watch(ctx, time.Second)
		}
	}

	// 5. Ingest until a shutdown signal arrives
	summary, err := disp.Run(ctx)
	if err != nil {
		logger.Error("Dispatcher failed", "error", err)
		return 1
	}
	if len(summary.Abandoned) > 0 {
		logger.Warn("Some modules were abandoned at shutdown", "modules", summary.Abandoned)
	}

	if healthSvc != nil {
		healthSvc.Shutdown()
	}
	if apiServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("API shutdown failed", "error", err)
		}
	}
	logger.Info("Shutdown complete")
	return 0
}
