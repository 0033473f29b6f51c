package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/inferloop/mwem/internal/app"
	"github.com/inferloop/mwem/internal/config"
	"github.com/inferloop/mwem/internal/server"
)

func main() {
	flags := ParseFlags()
	if flags.Version {
		printVersion(os.Stdout)
		os.Exit(0)
	}

	cfg, err := config.Load(flags.ConfigFile)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}
	applyFlags(cfg, flags)
	if err := cfg.Validate(); err != nil {
		logrus.WithError(err).Fatal("Invalid configuration")
	}

	logger := setupLogger(cfg.Log.Level, cfg.Log.Format)

	logger.WithFields(logrus.Fields{
		"version":   Version,
		"commit":    GitCommit,
		"buildDate": BuildDate,
	}).Info("Starting MWEM release server")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize release service")
	}
	defer application.Close()

	if err := application.Metrics.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to start metrics server")
	}

	srv, err := server.NewServer(&server.Config{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     cfg.Server.IdleTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		MaxRequestSize:  cfg.Server.MaxRequestSize,
		TLSCertFile:     tlsFile(cfg.Server.EnableTLS, cfg.Server.TLSCert),
		TLSKeyFile:      tlsFile(cfg.Server.EnableTLS, cfg.Server.TLSKey),
	}, application.Service, logger,
		server.WithMetrics(application.Metrics),
		server.WithBuildInfo(GetBuildInfo()),
	)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create HTTP server")
	}

	go func() {
		if err := srv.Start(ctx); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	<-sigChan
	logger.Info("Shutdown signal received")

	if err := srv.Stop(context.Background()); err != nil {
		logger.WithError(err).Error("Server shutdown failed")
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer stopCancel()
	if err := application.Metrics.Stop(stopCtx); err != nil {
		logger.WithError(err).Error("Metrics server shutdown failed")
	}

	logger.Info("Server stopped")
}

// applyFlags overlays explicitly set process flags onto the loaded configuration
func applyFlags(cfg *config.Config, flags *Flags) {
	if flags.IsSet("host") {
		cfg.Server.Host = flags.Host
	}
	if flags.IsSet("port") {
		cfg.Server.Port = flags.Port
	}
	if flags.IsSet("log-level") {
		cfg.Log.Level = flags.LogLevel
	}
	if flags.IsSet("log-format") {
		cfg.Log.Format = flags.LogFormat
	}
	if flags.IsSet("metrics-port") {
		cfg.Metrics.Port = flags.MetricsPort
	}
	if flags.IsSet("storage") {
		cfg.Storage.Type = flags.StorageBackend
	}
	if flags.IsSet("tls-cert") {
		cfg.Server.TLSCert = flags.TLSCert
		cfg.Server.EnableTLS = true
	}
	if flags.IsSet("tls-key") {
		cfg.Server.TLSKey = flags.TLSKey
		cfg.Server.EnableTLS = true
	}
}

func tlsFile(enabled bool, path string) string {
	if !enabled {
		return ""
	}
	return path
}

func setupLogger(level, format string) *logrus.Logger {
	logger := logrus.New()

	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	if format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	return logger
}
