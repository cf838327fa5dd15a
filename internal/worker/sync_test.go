package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geoquiz-ledger/internal/config"
	"github.com/geoquiz-ledger/internal/domain"
)

type countingBoard struct {
	mu      sync.Mutex
	calls   map[domain.GameMode]int
	failFor domain.GameMode
}

func (b *countingBoard) RebuildCache(_ context.Context, mode domain.GameMode) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.calls == nil {
		b.calls = make(map[domain.GameMode]int)
	}
	b.calls[mode]++
	if mode == b.failFor {
		return errors.New("database unavailable")
	}
	return nil
}

func (b *countingBoard) count(mode domain.GameMode) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[mode]
}

func newTestWorker(board CacheRebuilder, interval time.Duration) *SyncWorker {
	return NewSyncWorker(board, &config.SyncConfig{Interval: interval, Enabled: true},
		slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestRunOnce_RebuildsEveryMode(t *testing.T) {
	board := &countingBoard{failFor: domain.GameModePopulationQuiz}
	w := newTestWorker(board, time.Minute)

	synced, failed := w.RunOnce(context.Background())

	assert.Equal(t, len(domain.AllGameModes)-1, synced)
	assert.Equal(t, 1, failed)
	for _, mode := range domain.AllGameModes {
		assert.Equal(t, 1, board.count(mode))
	}
}

func TestStartStop(t *testing.T) {
	board := &countingBoard{}
	w := newTestWorker(board, 10*time.Millisecond)

	require.NoError(t, w.Start(context.Background()))
	assert.True(t, w.IsRunning())
	assert.Equal(t, 1, board.count(domain.GameModeFindFlag), "start rebuilds synchronously")

	assert.Eventually(t, func() bool {
		return board.count(domain.GameModeFindFlag) >= 2
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, w.Stop())
	assert.False(t, w.IsRunning())
	require.NoError(t, w.Stop())
}
