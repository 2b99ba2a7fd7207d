package cache

import (
	"context"
	"time"

	"go.uber.org/zap"
)

type cleaner interface {
	Cleanup(ctx context.Context) error
}

// runCleanup calls Cleanup every freq until stop is closed
func runCleanup(c cleaner, logger *zap.Logger, freq time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(freq)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := c.Cleanup(context.Background()); err != nil {
				logger.Error("Failed to clean up cache", zap.Error(err))
			}
		case <-stop:
			return
		}
	}
}
