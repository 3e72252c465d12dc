package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"i4.energy/across/cellsock/modem"
)

func main() {
	configFile := flag.String("config", "", "Path to a YAML configuration file")
	flag.String("serial-port", "/dev/ttyUSB0", "Serial port to connect to the modem")
	flag.Int("baud-rate", 115200, "Baud rate for serial communication")
	flag.String("bind-address", "0.0.0.0:8080", "Bind address for the HTTP server")
	flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	flag.String("apn", "", "Access point name (empty uses the modem's built-in profile)")
	flag.String("apn-user", "", "Access point user name")
	flag.String("apn-password", "", "Access point password")
	flag.Duration("maintain-interval", time.Second, "Interval between background socket polls")
	flag.Duration("exchange-timeout", 30*time.Second, "Upper bound for a single exchange request")
	flag.Parse()

	config, err := LoadConfig(WithDefaults(), WithFile(*configFile), WithEnv(), WithFlags(flag.CommandLine))
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logLevel := slog.LevelInfo
	switch config.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	modemConfig, err := modem.NewConfigBuilder().
		WithATTimeout(2 * time.Second).
		WithInitTimeout(30 * time.Second).
		WithAttachRetries(3, 10*time.Second).
		WithLogger(logger.With("component", "modem")).
		WithRegisterer(registry).
		WithDialer(modem.SerialDialer{
			PortName: config.SerialPort,
			BaudRate: config.BaudRate,
		}).
		Build()
	if err != nil {
		logger.Error("Failed to create modem config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m, err := modem.New(ctx, modemConfig)
	if err != nil {
		logger.Error("Failed to create modem", "error", err)
		os.Exit(1)
	}

	if info, err := m.Info(ctx); err == nil {
		logger.Info("Modem ready", "info", info)
	}

	bearer := modem.Bearer{APN: config.APN, User: config.APNUser, Password: config.APNPassword}
	if err := m.Attach(ctx, bearer); err != nil {
		logger.Error("Failed to attach bearer", "error", err, "apn", config.APN)
		m.Close()
		os.Exit(1)
	}

	logger.Info("Starting cellular socket gateway")

	server := &Server{
		Logger:          logger.With("component", "server"),
		Modem:           m,
		Gatherer:        registry,
		ExchangeTimeout: config.ExchangeTimeout,
	}
	httpServer := &http.Server{
		Addr:    config.BindAddress,
		Handler: server,
	}

	go maintain(ctx, m, config.MaintainInterval, logger.With("component", "maintain"))
	go logNotifications(ctx, m, logger.With("component", "notifications"))

	// Start HTTP server in a goroutine
	go func() {
		logger.Info("Starting HTTP server", "address", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	<-ctx.Done()
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	logger.Info("Closing HTTP server")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Failed to gracefully shutdown server", "error", err)
	}

	logger.Info("Closing modem connection")
	if err := m.Close(); err != nil {
		logger.Error("Failed to close modem", "error", err)
		os.Exit(1)
	}
}

// maintain keeps socket state current while no request is using the modem.
func maintain(ctx context.Context, m *modem.Modem, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.Maintain(ctx); err != nil && ctx.Err() == nil {
				logger.Warn("Maintenance poll failed", "error", err)
			}
		}
	}
}

func logNotifications(ctx context.Context, m *modem.Modem, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case n := <-m.Notifications():
			logger.Info("Socket notification", "kind", n.Kind.String(), "socket", n.Socket)
		}
	}
}
