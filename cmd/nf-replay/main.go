package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"NetflowAnalyzer/internal/config"
	"NetflowAnalyzer/internal/engine/dispatcher"
	"NetflowAnalyzer/internal/engine/manager"
	"NetflowAnalyzer/internal/logging"
	"NetflowAnalyzer/internal/notification"
	"NetflowAnalyzer/pkg/pcap"

	_ "NetflowAnalyzer/internal/engine/impl/chwriter"
	_ "NetflowAnalyzer/internal/engine/impl/ddos"
	_ "NetflowAnalyzer/internal/engine/impl/natspub"
	_ "NetflowAnalyzer/internal/engine/impl/topports"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "configs/config.yaml", "Path to the configuration file")
	port := flag.Uint("port", 0, "Only replay datagrams sent to this UDP port (0 = listener port from config)")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] <path_to_pcap_file>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 || *port > 65535 {
		flag.Usage()
		return 1
	}
	pcapFilePath := flag.Arg(0)

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

	dstPort := uint16(*port)
	if dstPort == 0 {
		dstPort = uint16(cfg.Listener.Port)
	}
	reader, err := pcap.NewReader(pcapFilePath, dstPort)
	if err != nil {
		logger.Error("Failed to open pcap file", "path", pcapFilePath, "error", err)
		return 1
	}
	defer reader.Close()

	// 2. Initialize modules
	mgr := manager.New(manager.Options{
		QueueSize:   cfg.Dispatch.QueueSize,
		Overflow:    manager.OverflowPolicy(cfg.Dispatch.OverflowPolicy),
		JoinTimeout: cfg.Dispatch.JoinTimeout,
		Logger:      logger,
		Notifier:    notification.FromConfig(cfg.SMTP, logger),
	})
	mgr.RegisterAll(cfg.EnabledModules())
	disp := dispatcher.New(mgr, dispatcher.Options{Logger: logger})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	// 3. Feed every captured datagram through the dispatcher
	logger.Info("Replaying capture", "path", pcapFilePath, "port", dstPort)
	datagrams := make(chan pcap.Datagram, 256)
	readErr := make(chan error, 1)
	go func() { readErr <- reader.ReadDatagrams(datagrams) }()

	interrupted := false
	for d := range datagrams {
		if ctx.Err() != nil {
			interrupted = true
			break
		}
		disp.HandleDatagram(d.Payload, d.Src)
	}

	// 4. Graceful shutdown
	summary := disp.Shutdown()
	if !interrupted {
		if err := <-readErr; err != nil {
			logger.Error("Failed while reading capture", "error", err)
		}
	}
	fmt.Printf("received=%d processed=%d elapsed=%s\n", summary.Received, summary.Processed, summary.Elapsed)
	return 0
}
