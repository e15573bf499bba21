package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SherClockHolmes/webpush-go"

	"weigh-station-backend/config"
	"weigh-station-backend/internal/api"
	"weigh-station-backend/internal/db"
	"weigh-station-backend/internal/hub"
	"weigh-station-backend/internal/notify"
	"weigh-station-backend/internal/scale"
	"weigh-station-backend/internal/store"
	"weigh-station-backend/internal/weigh"
)

func main() {
	logger := log.New(os.Stdout, "weighd ", log.LstdFlags)

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatalf("failed to load configuration from %s: %v", configPath, err)
	}
	logger.Printf("configuration loaded successfully from %s", configPath)

	webpushOptions := webpush.Options{
		VAPIDPublicKey:  cfg.Push.PublicKey,
		VAPIDPrivateKey: cfg.Push.PrivateKey,
		Subscriber:      cfg.Push.Subject,
		TTL:             cfg.Push.TTL,
	}

	gormDB, err := db.Init(&cfg.Database)
	if err != nil {
		logger.Fatalf("failed to initialize database: %v", err)
	}
	logger.Println("database initialized successfully")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	appStore := store.NewGormStore(gormDB)
	logger.Println("data store initialized")

	// Restore the newest persisted calibration, or fall back to the
	// configured counts-per-gram default on a fresh install.
	calibration := scale.NewCalibration(appStore, cfg.Scale.CountsPerGram)
	if row, err := appStore.LatestCalibration(ctx); err != nil {
		logger.Fatalf("failed to load calibration: %v", err)
	} else if row != nil {
		calibration.Set(row.ZeroOffset, row.ScaleFactor)
		logger.Printf("calibration restored: offset=%d factor=%g", row.ZeroOffset, row.ScaleFactor)
	} else {
		logger.Printf("no persisted calibration; using default counts-per-gram %g", cfg.Scale.CountsPerGram)
	}

	var alertPool *notify.WorkerPool
	var alerts scale.ConnectivitySink
	var results weigh.ResultSink
	if cfg.Push.PublicKey != "" && cfg.Push.PrivateKey != "" {
		alertPool = notify.NewWorkerPool(cfg.WorkerPool.Size, gormDB, &webpushOptions, cfg.Push.FailStreak)
		alertPool.Start(ctx)
		alerts = alertPool
		results = alertPool
		logger.Println("push alert worker pool started")
	} else {
		logger.Println("VAPID keys not configured; push alerts disabled")
	}

	readingHub := hub.New(hub.DefaultBuffer)
	scaleSvc := scale.NewService(cfg, calibration, readingHub, alerts)
	go scaleSvc.Run(ctx)

	weighSvc := weigh.NewService(appStore, scaleSvc, results)

	router := api.NewRouter(&cfg.Server, appStore, scaleSvc, readingHub, weighSvc, &webpushOptions)
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Printf("HTTP server starting on port %d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("HTTP server ListenAndServe: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	<-stop
	logger.Println("Shutdown signal received, stopping services...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Fatalf("HTTP server Shutdown: %v", err)
	}

	logger.Println("Server gracefully stopped")
}
