package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"vesselchain/config"
	"vesselchain/gateway/middleware"
	"vesselchain/gateway/routes"
	"vesselchain/observability/logging"
	"vesselchain/storage"
)

func main() {
	var (
		cfgPath        string
		collateralPath string
	)
	flag.StringVar(&cfgPath, "config", "./config.toml", "path to vesseld config")
	flag.StringVar(&collateralPath, "collateral", "", "path to the collateral file (overrides CollateralFile)")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	env := strings.TrimSpace(os.Getenv("VESSELS_ENV"))
	if env == "" {
		env = cfg.Environment
	}
	logger := logging.Setup("vesseld", env, logging.Options{
		Level:      logging.ParseLevel(cfg.Log.Level),
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})

	if collateralPath == "" {
		collateralPath = cfg.CollateralFile
	}
	collaterals, err := config.LoadCollateral(collateralPath)
	if err != nil {
		logger.Error("load collateral", slog.Any("error", err))
		os.Exit(1)
	}

	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "vessels"))
	if err != nil {
		logger.Error("open database", slog.String("dir", cfg.DataDir), slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	n, err := newNode(cfg, collaterals, db, logger)
	if err != nil {
		logger.Error("initialise node", slog.Any("error", err))
		os.Exit(1)
	}

	handler := routes.New(routes.Config{
		Vessels:   n.engine,
		Assets:    n.params,
		Stability: n.pool,
		RateLimiter: middleware.NewRateLimiter(middleware.RateLimit{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		}, logger),
		Logger: logger,
	})
	server := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	listener, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		logger.Error("listen", slog.String("address", cfg.ListenAddress), slog.Any("error", err))
		return
	}
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("vesseld listening", slog.String("address", listener.Addr().String()))
		serverErr <- server.Serve(listener)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("serve", slog.Any("error", err))
		}
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", slog.Any("error", err))
	}
}
