package background

import (
	"context"
	"log/slog"
	"time"
)

// ExpiredSweeper deletes expired rows and reports how many went.
type ExpiredSweeper interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// CleanupManager periodically sweeps expired verification codes from the
// database. The verification service also sweeps opportunistically on
// each issue; this timer covers quiet periods.
type CleanupManager struct {
	sweeper  ExpiredSweeper
	logger   *slog.Logger
	interval time.Duration
	stopCh   chan struct{}
}

func NewCleanupManager(sweeper ExpiredSweeper, logger *slog.Logger, interval time.Duration) *CleanupManager {
	return &CleanupManager{
		sweeper:  sweeper,
		logger:   logger,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the periodic sweep. It blocks until Stop is called or the
// context is cancelled, so run it in its own goroutine.
func (cm *CleanupManager) Start(ctx context.Context) {
	ticker := time.NewTicker(cm.interval)
	defer ticker.Stop()

	// Run immediately on startup
	cm.sweep(ctx)

	for {
		select {
		case <-ticker.C:
			cm.sweep(ctx)
		case <-cm.stopCh:
			cm.logger.Info("cleanup manager stopped")
			return
		case <-ctx.Done():
			cm.logger.Info("cleanup manager context cancelled")
			return
		}
	}
}

func (cm *CleanupManager) sweep(ctx context.Context) {
	sweepCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	deleted, err := cm.sweeper.DeleteExpired(sweepCtx)
	if err != nil {
		cm.logger.Error("failed to sweep expired verification codes", slog.Any("error", err))
		return
	}

	if deleted > 0 {
		cm.logger.Info("expired verification code sweep completed", slog.Int64("rows_deleted", deleted))
	}
}

// Stop signals the cleanup manager to stop
func (cm *CleanupManager) Stop() {
	close(cm.stopCh)
}
