package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/geoquiz-ledger/internal/config"
	"github.com/geoquiz-ledger/internal/domain"
)

// CacheRebuilder reloads one mode's cached ranking from the database
type CacheRebuilder interface {
	RebuildCache(ctx context.Context, mode domain.GameMode) error
}

// SyncWorker keeps the Redis leaderboard cache in line with PostgreSQL.
// Renames and direct database writes are picked up on the next cycle.
type SyncWorker struct {
	board   CacheRebuilder
	config  *config.SyncConfig
	logger  *slog.Logger
	stopCh  chan struct{}
	doneCh  chan struct{}
	mu      sync.Mutex
	running bool
}

// NewSyncWorker creates a new sync worker
func NewSyncWorker(board CacheRebuilder, cfg *config.SyncConfig, logger *slog.Logger) *SyncWorker {
	return &SyncWorker{
		board:  board,
		config: cfg,
		logger: logger,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start rebuilds every mode once, then keeps rebuilding on the interval
func (w *SyncWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	w.logger.Info("sync worker started", "interval", w.config.Interval)

	w.syncAll(ctx)
	go w.run(ctx)
	return nil
}

// Stop stops the background sync process
func (w *SyncWorker) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()

	w.logger.Info("sync worker stopped")
	return nil
}

func (w *SyncWorker) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.syncAll(ctx)
		}
	}
}

// syncAll rebuilds the cache of every game mode
func (w *SyncWorker) syncAll(ctx context.Context) (synced, failed int) {
	w.logger.Debug("starting sync cycle")
	startTime := time.Now()

	for _, mode := range domain.AllGameModes {
		if err := w.board.RebuildCache(ctx, mode); err != nil {
			w.logger.Error("failed to rebuild leaderboard cache",
				"game_mode", mode,
				"error", err,
			)
			failed++
			continue
		}
		synced++
	}

	w.logger.Info("sync cycle completed",
		"duration", time.Since(startTime),
		"synced", synced,
		"errors", failed,
	)
	return synced, failed
}

// IsRunning returns whether the worker is currently running
func (w *SyncWorker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// RunOnce runs a single sync cycle
func (w *SyncWorker) RunOnce(ctx context.Context) (synced, failed int) {
	return w.syncAll(ctx)
}
