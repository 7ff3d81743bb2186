package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/instant-demo/smake/internal/api"
	"github.com/instant-demo/smake/internal/config"
	"github.com/instant-demo/smake/internal/metadata"
	"github.com/instant-demo/smake/internal/metrics"
	"github.com/instant-demo/smake/internal/pool"
	"github.com/instant-demo/smake/internal/provider"
	"github.com/instant-demo/smake/internal/queue"
	"github.com/instant-demo/smake/internal/store"
	"github.com/instant-demo/smake/internal/ttl"
	"github.com/instant-demo/smake/pkg/logging"
)

func main() {
	// Load .env file if present (ignore error if file doesn't exist)
	_ = godotenv.Load()

	cfg := config.Load()

	logger := logging.New(cfg.Log.Level, cfg.Log.Format)
	metricsCollector := metrics.NewCollector()

	logger.Info("Starting smake", "provider", cfg.Provider.Mode, "strategy", cfg.Pool.Strategy)

	ctx := context.Background()

	// Create the provider adapter
	var prov provider.Provider
	switch cfg.Provider.Mode {
	case "ec2":
		ec2Prov, err := provider.NewEC2Provider(ctx, &cfg.Provider, logger)
		if err != nil {
			logger.Fatal("Failed to create EC2 provider", "error", err)
		}
		prov = ec2Prov
	case "docker":
		tagStore, err := store.NewValkeyTagStore(&cfg.Store)
		if err != nil {
			logger.Fatal("Failed to connect to Valkey", "error", err)
		}
		defer tagStore.Close()

		dockerProv, err := provider.NewDockerProvider(&cfg.Provider, tagStore, logger)
		if err != nil {
			logger.Fatal("Failed to create Docker provider", "error", err)
		}
		defer dockerProv.Close()
		prov = dockerProv
	case "memory":
		logger.Warn("Using in-memory provider; fleet state is lost on exit")
		prov = provider.NewMemoryProvider(nil, "")
	default:
		logger.Fatal("Unknown provider mode", "mode", cfg.Provider.Mode)
	}

	strategy, err := pool.NewStrategy(cfg.Pool.Strategy, cfg.Pool.Targets)
	if err != nil {
		logger.Fatal("Invalid pooling strategy", "error", err)
	}
	selection, err := pool.ParseSelection(cfg.Pool.Selection)
	if err != nil {
		logger.Fatal("Invalid pool selection", "error", err)
	}

	tags := metadata.NewStore(prov, metadata.Options{
		Attempts: cfg.Pool.TagWriteAttempts,
		Delay:    cfg.Pool.TagRetryDelay,
	}, logger, metricsCollector)

	opts := pool.Options{
		Provider:          cfg.Provider,
		Selection:         selection,
		ReconcileInterval: cfg.Pool.ReconcileInterval,
	}

	// Corrective operations go through NATS when enabled, else inline goroutines
	var publisher *queue.NATSPublisher
	if cfg.Queue.Enabled {
		publisher, err = queue.NewNATSPublisher(&cfg.Queue)
		if err != nil {
			logger.Fatal("Failed to create NATS publisher", "error", err)
		}
		defer publisher.Close()
		opts.Dispatcher = queue.NewNATSDispatcher(publisher)
		logger.Info("Connected to NATS JetStream", "stream", cfg.Queue.StreamName)
	}

	reconciler := pool.NewReconciler(prov, tags, strategy, opts, logger, metricsCollector)

	if publisher != nil {
		handlers := queue.NewHandlers(reconciler, logger, metricsCollector)
		consumer, err := queue.NewNATSConsumer(&cfg.Queue, handlers.ProvisionHandler, handlers.TerminateHandler, logger)
		if err != nil {
			logger.Fatal("Failed to create NATS consumer", "error", err)
		}
		if err := consumer.Start(ctx); err != nil {
			logger.Fatal("Failed to start NATS consumer", "error", err)
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = consumer.Stop(stopCtx)
		}()
		logger.Info("Started NATS consumer", "workers", cfg.Queue.WorkerCount)
	}

	// Rebuild TTL timers from tags before serving
	scheduler := ttl.NewScheduler(reconciler, tags, prov, nil, logger, metricsCollector)
	if err := scheduler.Recover(ctx); err != nil {
		logger.Error("TTL recovery scan failed", "error", err)
	}
	if cfg.TTL.SweepInterval > 0 {
		scheduler.StartSweep(ctx, cfg.TTL.SweepInterval)
	}
	defer scheduler.Stop()

	// Initial reconciliation pass
	if diff, err := reconciler.Reconcile(ctx); err != nil {
		logger.Error("Initial reconciliation failed", "error", err)
	} else {
		logger.Info("Initial reconciliation dispatched", "creates", diff.Creates(), "destroys", diff.Destroys())
	}

	if cfg.Pool.ReconcileInterval > 0 {
		if err := reconciler.StartReconcileLoop(ctx); err != nil {
			logger.Fatal("Failed to start reconcile loop", "error", err)
		}
		defer reconciler.StopReconcileLoop()
	}

	handler := api.NewHandler(cfg, reconciler, tags, scheduler, logger, metricsCollector)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErrCh := make(chan error, 1)

	go func() {
		logger.Info("Server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Server error", "error", err)
			serverErrCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("Received signal, shutting down", "signal", sig)
	case err := <-serverErrCh:
		logger.Error("Server failed, initiating shutdown", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
	}

	if d, ok := reconciler.Dispatcher().(*pool.InlineDispatcher); ok {
		d.Wait()
	}

	logger.Info("Server stopped")
}
