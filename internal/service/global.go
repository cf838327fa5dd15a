package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/geoquiz-ledger/internal/config"
	"github.com/geoquiz-ledger/internal/domain"
)

// ScoreStore is the database behind the remote ledger
type ScoreStore interface {
	InsertScore(ctx context.Context, rec domain.ScoreRecord) error
	BatchInsertScores(ctx context.Context, records []domain.ScoreRecord) error
	TopByTime(ctx context.Context, mode domain.GameMode, limit int) ([]domain.ScoreRecord, error)
	ListByOwner(ctx context.Context, mode domain.GameMode, owner string, limit int) ([]domain.ScoreRecord, error)
	RenameOwner(ctx context.Context, sessionID, oldOwner, newOwner string) (int64, error)
	ClaimName(ctx context.Context, sessionID, name, previous string) error
	ModeStats(ctx context.Context, mode domain.GameMode) (*domain.ModeStats, error)
	Ping(ctx context.Context) error
}

// ScoreCache holds the fastest games of each mode
type ScoreCache interface {
	Top(ctx context.Context, mode domain.GameMode, n int) ([]domain.ScoreRecord, error)
	Add(ctx context.Context, rec domain.ScoreRecord) error
	Replace(ctx context.Context, mode domain.GameMode, records []domain.ScoreRecord) error
	Invalidate(ctx context.Context, modes ...domain.GameMode) error
}

// Broadcaster pushes fresh global views to live subscribers
type Broadcaster interface {
	BroadcastLeaderboardUpdate(mode domain.GameMode, entries []domain.ScoreRecord)
}

// GlobalBoard is the shared remote ledger: the database, an optional cache in
// front of the ranking query, and an optional live broadcaster.
type GlobalBoard struct {
	store      ScoreStore
	cache      ScoreCache
	hub        Broadcaster
	config     *config.LedgerConfig
	cacheDepth int
	logger     *slog.Logger
}

// NewGlobalBoard creates a new global board
func NewGlobalBoard(store ScoreStore, cfg *config.LedgerConfig, logger *slog.Logger) *GlobalBoard {
	return &GlobalBoard{
		store:  store,
		config: cfg,
		logger: logger,
	}
}

// SetCache puts a ranking cache in front of the database
func (g *GlobalBoard) SetCache(cache ScoreCache, depth int) {
	g.cache = cache
	g.cacheDepth = depth
}

// SetHub sets the broadcaster notified after every write
func (g *GlobalBoard) SetHub(hub Broadcaster) {
	g.hub = hub
}

// Insert stores one completed game
func (g *GlobalBoard) Insert(ctx context.Context, rec domain.ScoreRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	if rec.Owner() == "" {
		return fmt.Errorf("%w: score has no owner", domain.ErrInvalidRequest)
	}

	if err := g.store.InsertScore(ctx, rec); err != nil {
		return fmt.Errorf("storing score: %w", err)
	}

	if g.cache != nil {
		if err := g.cache.Add(ctx, rec); err != nil {
			g.logger.Warn("failed to add score to cache", "game_mode", rec.GameMode, "error", err)
		}
	}

	g.broadcast(ctx, rec.GameMode)
	return nil
}

// IngestBatch stores many completed games, skipping invalid ones
func (g *GlobalBoard) IngestBatch(ctx context.Context, records []domain.ScoreRecord) (int, error) {
	valid := make([]domain.ScoreRecord, 0, len(records))
	modes := make(map[domain.GameMode]struct{})
	for _, rec := range records {
		if err := rec.Validate(); err != nil || rec.Owner() == "" {
			g.logger.Warn("skipping invalid score in batch",
				"id", rec.ID,
				"game_mode", rec.GameMode,
				"owner", rec.Owner(),
			)
			continue
		}
		valid = append(valid, rec)
		modes[rec.GameMode] = struct{}{}
	}

	if len(valid) == 0 {
		return 0, nil
	}

	if err := g.store.BatchInsertScores(ctx, valid); err != nil {
		return 0, fmt.Errorf("storing score batch: %w", err)
	}

	if g.cache != nil {
		for _, rec := range valid {
			if err := g.cache.Add(ctx, rec); err != nil {
				g.logger.Warn("failed to add score to cache", "game_mode", rec.GameMode, "error", err)
			}
		}
	}

	for mode := range modes {
		g.broadcast(ctx, mode)
	}
	return len(valid), nil
}

// TopByTime returns the fastest games of a mode, served from the cache when
// it is warm and deep enough.
func (g *GlobalBoard) TopByTime(ctx context.Context, mode domain.GameMode, limit int) ([]domain.ScoreRecord, error) {
	if !mode.Valid() {
		return nil, domain.ErrInvalidGameMode
	}
	limit = g.clampLimit(limit, g.config.GlobalLimit)

	if g.cache != nil && limit <= g.cacheDepth {
		cached, err := g.cache.Top(ctx, mode, limit)
		if err == nil {
			return domain.TopN(limit, cached), nil
		}
		g.logger.Debug("cache miss, loading from database", "game_mode", mode, "reason", err)

		records, err := g.store.TopByTime(ctx, mode, g.cacheDepth)
		if err != nil {
			return nil, err
		}
		if err := g.cache.Replace(ctx, mode, records); err != nil {
			g.logger.Warn("failed to refill cache", "game_mode", mode, "error", err)
		}
		return domain.TopN(limit, records), nil
	}

	return g.store.TopByTime(ctx, mode, limit)
}

// ListByOwner returns an owner's fastest games of a mode
func (g *GlobalBoard) ListByOwner(ctx context.Context, mode domain.GameMode, owner string, limit int) ([]domain.ScoreRecord, error) {
	if !mode.Valid() {
		return nil, domain.ErrInvalidGameMode
	}
	if owner == "" {
		return nil, domain.ErrNoIdentity
	}
	return g.store.ListByOwner(ctx, mode, owner, g.clampLimit(limit, g.config.PersonalLimit))
}

// RenameOwner re-attributes a session's remote records to a new owner
func (g *GlobalBoard) RenameOwner(ctx context.Context, sessionID, oldOwner, newOwner string) (int64, error) {
	if oldOwner == "" || newOwner == "" || oldOwner == newOwner {
		return 0, nil
	}

	n, err := g.store.RenameOwner(ctx, sessionID, oldOwner, newOwner)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, nil
	}

	// cached members embed the owner
	if g.cache != nil {
		if err := g.cache.Invalidate(ctx, domain.AllGameModes...); err != nil {
			g.logger.Warn("failed to invalidate cache after rename", "error", err)
		}
	}
	for _, mode := range domain.AllGameModes {
		g.broadcast(ctx, mode)
	}
	return n, nil
}

// ClaimName reserves a display name for a session
func (g *GlobalBoard) ClaimName(ctx context.Context, sessionID, name, previous string) error {
	if sessionID == "" {
		return fmt.Errorf("%w: missing session id", domain.ErrInvalidRequest)
	}
	normalized, err := domain.NormalizeName(name)
	if err != nil {
		return err
	}
	if normalized == "" {
		return domain.ErrInvalidName
	}
	return g.store.ClaimName(ctx, sessionID, normalized, previous)
}

// Rename claims a new name for a session and moves its records to it
func (g *GlobalBoard) Rename(ctx context.Context, sessionID, name, previous string) (int64, error) {
	if err := g.ClaimName(ctx, sessionID, name, previous); err != nil {
		return 0, err
	}
	normalized, _ := domain.NormalizeName(name)
	return g.RenameOwner(ctx, sessionID, previous, normalized)
}

// RebuildCache reloads a mode's cached ranking from the database
func (g *GlobalBoard) RebuildCache(ctx context.Context, mode domain.GameMode) error {
	if g.cache == nil {
		return nil
	}
	records, err := g.store.TopByTime(ctx, mode, g.cacheDepth)
	if err != nil {
		return fmt.Errorf("loading %s from database: %w", mode, err)
	}
	if err := g.cache.Replace(ctx, mode, records); err != nil {
		return fmt.Errorf("replacing %s cache: %w", mode, err)
	}
	return nil
}

// Stats returns aggregate numbers for a mode
func (g *GlobalBoard) Stats(ctx context.Context, mode domain.GameMode) (*domain.ModeStats, error) {
	if !mode.Valid() {
		return nil, domain.ErrInvalidGameMode
	}
	return g.store.ModeStats(ctx, mode)
}

// Ready reports whether the database answers
func (g *GlobalBoard) Ready(ctx context.Context) error {
	if g.store == nil {
		return domain.ErrRemoteDisabled
	}
	return g.store.Ping(ctx)
}

func (g *GlobalBoard) clampLimit(limit, fallback int) int {
	if limit <= 0 {
		limit = fallback
	}
	if g.config.MaxLimit > 0 && limit > g.config.MaxLimit {
		limit = g.config.MaxLimit
	}
	return limit
}

func (g *GlobalBoard) broadcast(ctx context.Context, mode domain.GameMode) {
	if g.hub == nil {
		return
	}
	top, err := g.TopByTime(ctx, mode, g.config.GlobalLimit)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			g.logger.Warn("failed to load leaderboard for broadcast", "game_mode", mode, "error", err)
		}
		return
	}
	g.hub.BroadcastLeaderboardUpdate(mode, top)
}
