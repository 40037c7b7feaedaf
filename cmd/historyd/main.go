package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"lendcore/observability/logging"
	"lendcore/services/historyd"
	"lendcore/services/historyd/collector"
	"lendcore/services/historyd/config"
	"lendcore/services/historyd/snapshot"
	"lendcore/services/historyd/storage"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "path to historyd YAML config")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("LEND_ENV"))

	cfg, err := config.Load(configPath)
	if err != nil {
		logging.Setup("historyd", env).Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	logger := logging.SetupRotating("historyd", env, logging.Rotation{
		Path:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	})

	store, err := storage.Open(cfg.Database)
	if err != nil {
		logger.Error("open history store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	authToken := cfg.Node.AuthToken
	if fromEnv := strings.TrimSpace(os.Getenv("LEND_NODE_TOKEN")); fromEnv != "" {
		authToken = fromEnv
	}
	coll, err := collector.New(collector.Config{
		Endpoint:    cfg.Node.Endpoint,
		AuthToken:   authToken,
		Store:       store,
		Log:         logger,
		DialTimeout: cfg.Node.DialTimeout,
	})
	if err != nil {
		logger.Error("configure collector", "error", err)
		os.Exit(1)
	}

	var exporter *snapshot.Exporter
	if strings.TrimSpace(cfg.Snapshots.Dir) != "" {
		exporter, err = snapshot.New(snapshot.Config{
			Store:    store,
			Dir:      cfg.Snapshots.Dir,
			Interval: cfg.Snapshots.Interval,
			Formats:  cfg.Snapshots.Formats,
			Log:      logger,
		})
		if err != nil {
			logger.Error("configure snapshot exporter", "error", err)
			os.Exit(1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	server := &http.Server{
		Addr:              cfg.Listen,
		Handler:           historyd.NewHandler(store, coll, exporter),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 3)
	go func() { errCh <- coll.Run(ctx) }()
	if exporter != nil {
		go func() { errCh <- exporter.Run(ctx) }()
	}
	go func() { errCh <- server.ListenAndServe() }()

	logger.Info("historyd started",
		"listen", cfg.Listen,
		"node", cfg.Node.Endpoint,
		"database", cfg.Database.Driver,
		"snapshots", cfg.Snapshots.Dir,
	)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("historyd component failed", "error", err)
		}
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown status server", "error", err)
	}
	logger.Info("historyd stopped")
}
