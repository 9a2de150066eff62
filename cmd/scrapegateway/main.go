package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/scrape-engine-gateway/internal/api"
	"github.com/JakeFAU/scrape-engine-gateway/internal/app"
	"github.com/JakeFAU/scrape-engine-gateway/internal/config"
	"github.com/JakeFAU/scrape-engine-gateway/internal/logging"
	"github.com/JakeFAU/scrape-engine-gateway/internal/metrics"
	"github.com/JakeFAU/scrape-engine-gateway/internal/telemetry"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	envFile := flag.String("env-file", ".env", "Optional dotenv file loaded before the environment is read")
	flag.Parse()

	if err := config.LoadEnvFiles(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "load env file failed: %v\n", err)
		os.Exit(1)
	}
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(logging.Options{Development: cfg.Logging.Development, Level: cfg.Logging.Level})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Tracing.Enabled {
		tp, err := telemetry.InitTracerProvider(ctx, cfg.Tracing.ServiceName)
		if err != nil {
			logger.Error("tracer provider init failed", zap.Error(err))
			return
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tp.Shutdown(shutdownCtx); err != nil {
				logger.Warn("tracer provider shutdown error", zap.Error(err))
			}
		}()
	}

	services, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("service init failed", zap.Error(err))
		return
	}
	defer services.Close()

	apiServer := api.NewServer(services.APIDeps(), api.Config{
		Auth:           cfg.Auth,
		RequestTimeout: cfg.Engine.Timeout + cfg.Engine.RequestTimeout,
		Propagator:     telemetry.NewPropagator(),
	}, logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port(cfg)),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
	}

	// Workers outlive the signal context so queued jobs can drain.
	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()
	poolDone := make(chan struct{})
	go func() {
		defer close(poolDone)
		logger.Info("worker pool started", zap.Int("workers", cfg.Worker.Concurrency))
		services.Pool.Run(workerCtx)
	}()

	go func() {
		logger.Info("http server started", zap.Int("port", port(cfg)), zap.String("engine", cfg.Engine.BaseURL))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	services.Queue.Close()
	select {
	case <-poolDone:
	case <-shutdownCtx.Done():
		logger.Warn("worker pool did not drain before shutdown timeout")
		cancelWorkers()
		<-poolDone
	}
	logger.Info("shutdown complete")
}

// port honors the PORT variable Cloud Run injects.
func port(cfg config.Config) int {
	if p, err := strconv.Atoi(os.Getenv("PORT")); err == nil && p > 0 {
		return p
	}
	return cfg.Server.Port
}
