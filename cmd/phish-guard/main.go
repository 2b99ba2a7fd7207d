package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/mikey/phish-guard/internal/adapters/api"
	"github.com/mikey/phish-guard/internal/config"
	"github.com/mikey/phish-guard/internal/core"
	"github.com/mikey/phish-guard/internal/cron"
	"github.com/mikey/phish-guard/internal/di"
	"github.com/mikey/phish-guard/internal/ports"
)

func main() {
	// Build the dependency injection container
	container, err := di.BuildContainer()
	if err != nil {
		fmt.Printf("Failed to build dependency container: %v\n", err)
		os.Exit(1)
	}

	// Run the application
	if err := container.Invoke(run); err != nil {
		fmt.Printf("Application error: %v\n", err)
		os.Exit(1)
	}
}

// run is the main application function that gets all dependencies injected
func run(
	cfg *config.Config,
	logger *zap.Logger,
	apiServer *api.Server,
	emailFilter ports.EmailFilter,
	cronManager *cron.CronManager,
	scorer core.Scorer,
	store core.Store,
	cacheRepo core.CacheRepository,
	events core.EventPublisher,
	tracer io.Closer,
) error {
	defer logger.Sync()

	httpEnabled := cfg.GetHTTP().Enabled
	filterEnabled := cfg.GetServer().Enabled
	if !httpEnabled && !filterEnabled {
		return fmt.Errorf("nothing to run: both http.enabled and server.enabled are false")
	}

	if httpEnabled {
		if err := apiServer.Start(); err != nil {
			logger.Error("Failed to start API server", zap.Error(err))
			return err
		}
	}
	if filterEnabled {
		if err := emailFilter.Start(); err != nil {
			logger.Error("Failed to start filter", zap.Error(err))
			return err
		}
	}
	if err := cronManager.Start(); err != nil {
		logger.Error("Failed to start scheduler", zap.Error(err))
		return err
	}

	logger.Info("Phish guard started",
		zap.String("scorer", string(scorer.Mode())),
		zap.String("model_version", scorer.Version()),
		zap.Bool("http", httpEnabled),
		zap.Bool("filter", filterEnabled))

	// Handle graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	<-sigCh
	logger.Info("Shutting down...")

	if err := cronManager.Stop(); err != nil {
		logger.Error("Failed to stop scheduler", zap.Error(err))
	}
	if filterEnabled {
		if err := emailFilter.Stop(); err != nil {
			logger.Error("Failed to stop filter", zap.Error(err))
		}
	}
	if httpEnabled {
		if err := apiServer.Stop(); err != nil {
			logger.Error("Failed to stop API server", zap.Error(err))
		}
	}

	// Close any resources that need closing
	for name, r := range map[string]interface{}{
		"scorer": scorer,
		"store":  store,
		"events": events,
	} {
		if closer, ok := r.(interface{ Close() error }); ok {
			if err := closer.Close(); err != nil {
				logger.Error("Failed to close resource", zap.String("resource", name), zap.Error(err))
			}
		}
	}

	// Stop the cache if needed
	if stopper, ok := cacheRepo.(interface{ Stop() }); ok {
		stopper.Stop()
	}

	if err := tracer.Close(); err != nil {
		logger.Error("Failed to close tracer", zap.Error(err))
	}

	logger.Info("Shutdown complete")
	return nil
}
