// Package main is the entry point for the sentramon monitoring
// server's HA control subsystem.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sentramon/server/internal/config"
	"github.com/sentramon/server/internal/ha"
	"github.com/sentramon/server/internal/ha/controlchannel"
	"github.com/sentramon/server/internal/ha/registry"
	"github.com/sentramon/server/internal/httpapi"
	"github.com/sentramon/server/internal/repository/postgres"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	configPath := flag.String("config", "", "Path to config file")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		println("sentramon server")
		println("Version:", version)
		println("Commit:", commit)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		println("Failed to load config:", err.Error())
		os.Exit(1)
	}

	logger := setupLogger(cfg.Logging)
	defer logger.Sync()

	logger.Info("starting sentramon server",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.Bool("cluster", cfg.HA.IsCluster()),
	)

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received signal", zap.String("signal", sig.String()))
		rootCancel()
	}()

	db, err := postgres.NewDB(rootCtx, cfg.Database, logger)
	if err != nil {
		logger.Fatal("failed to connect to postgresql", zap.Error(err))
	}
	defer db.Close()

	gw := registry.New(db.Pool(), logger)
	manager := ha.NewManager(cfg.HA, gw, logger)

	ccCtx, ccCancel := context.WithCancel(rootCtx)
	adapter := &ha.ControlAdapter{Manager: manager, Cancel: rootCancel}
	ccService := controlchannel.New(cfg.HA.SocketPath, manager, manager, adapter, logger)

	ccClient := controlchannel.NewClient(cfg.HA.SocketPath)
	httpServer := httpapi.New(cfg.Server, ccClient, logger)

	done := make(chan struct{}, 3)

	go func() {
		if err := ccService.Serve(ccCtx); err != nil {
			logger.Error("control channel stopped", zap.Error(err))
		}
		done <- struct{}{}
	}()

	go func() {
		if err := manager.Run(rootCtx); err != nil {
			logger.Error("ha manager stopped", zap.Error(err))
		}
		done <- struct{}{}
	}()

	go func() {
		if err := httpServer.ListenAndServe(rootCtx); err != nil {
			logger.Error("http server stopped", zap.Error(err))
		}
		done <- struct{}{}
	}()

	<-rootCtx.Done()
	ccCancel()
	<-done
	<-done
	<-done

	logger.Info("goodbye")
}

func setupLogger(cfg config.LoggingConfig) *zap.Logger {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var zapConfig zap.Config
	if cfg.Format == "console" {
		zapConfig = zap.NewDevelopmentConfig()
	} else {
		zapConfig = zap.NewProductionConfig()
	}
	zapConfig.Level = zap.NewAtomicLevelAt(level)

	logger, err := zapConfig.Build()
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	return logger
}
