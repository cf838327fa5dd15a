package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/geoquiz-ledger/internal/config"
	"github.com/geoquiz-ledger/internal/domain"
)

// ErrCacheCold means the mode has not been loaded since the last invalidation
var ErrCacheCold = errors.New("leaderboard cache not warm")

// LeaderboardCache keeps the fastest games of each mode in a sorted set
// scored by time elapsed.
type LeaderboardCache struct {
	client *redis.Client
	depth  int64
	logger *slog.Logger
}

// NewLeaderboardCache creates a new Redis leaderboard cache
func NewLeaderboardCache(ctx context.Context, cfg *config.RedisConfig, logger *slog.Logger) (*LeaderboardCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	// Test connection
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return &LeaderboardCache{
		client: client,
		depth:  int64(cfg.CacheDepth),
		logger: logger,
	}, nil
}

// Close closes the Redis connection
func (c *LeaderboardCache) Close() error {
	return c.client.Close()
}

// Ping checks that Redis is reachable
func (c *LeaderboardCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// globalKey returns the sorted set key for a mode
func globalKey(mode domain.GameMode) string {
	return fmt.Sprintf("leaderboard:%s:global", mode)
}

// warmKey marks a mode as fully loaded from the database
func warmKey(mode domain.GameMode) string {
	return fmt.Sprintf("leaderboard:%s:warm", mode)
}

// Top returns up to n cached records, fastest first
func (c *LeaderboardCache) Top(ctx context.Context, mode domain.GameMode, n int) ([]domain.ScoreRecord, error) {
	pipe := c.client.Pipeline()
	warmCmd := pipe.Exists(ctx, warmKey(mode))
	rangeCmd := pipe.ZRangeWithScores(ctx, globalKey(mode), 0, int64(n-1))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("getting cached top: %w", err)
	}

	if warmCmd.Val() == 0 {
		return nil, ErrCacheCold
	}

	results := rangeCmd.Val()
	records := make([]domain.ScoreRecord, 0, len(results))
	for _, z := range results {
		member, ok := z.Member.(string)
		if !ok {
			continue
		}
		var rec domain.ScoreRecord
		if err := json.Unmarshal([]byte(member), &rec); err != nil {
			c.logger.Warn("dropping unreadable cache member", "game_mode", mode, "error", err)
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// Add inserts a record into a warm mode and trims the set to the cache depth.
// Cold modes are left alone; the next read loads them from the database.
func (c *LeaderboardCache) Add(ctx context.Context, rec domain.ScoreRecord) error {
	warm, err := c.client.Exists(ctx, warmKey(rec.GameMode)).Result()
	if err != nil {
		return fmt.Errorf("checking cache: %w", err)
	}
	if warm == 0 {
		return nil
	}

	member, err := encodeMember(rec)
	if err != nil {
		return err
	}

	key := globalKey(rec.GameMode)
	pipe := c.client.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(rec.TimeElapsed), Member: member})
	if c.depth > 0 {
		pipe.ZRemRangeByRank(ctx, key, c.depth, -1)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("adding to cache: %w", err)
	}
	return nil
}

// Replace swaps a mode's cached records for the given set and marks it warm
func (c *LeaderboardCache) Replace(ctx context.Context, mode domain.GameMode, records []domain.ScoreRecord) error {
	key := globalKey(mode)
	members := make([]redis.Z, 0, len(records))
	for _, rec := range records {
		member, err := encodeMember(rec)
		if err != nil {
			return err
		}
		members = append(members, redis.Z{Score: float64(rec.TimeElapsed), Member: member})
	}

	pipe := c.client.TxPipeline()
	pipe.Del(ctx, key)
	if len(members) > 0 {
		pipe.ZAdd(ctx, key, members...)
	}
	pipe.Set(ctx, warmKey(mode), "1", 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("replacing cache: %w", err)
	}
	return nil
}

// Invalidate drops the cached sets of the given modes
func (c *LeaderboardCache) Invalidate(ctx context.Context, modes ...domain.GameMode) error {
	if len(modes) == 0 {
		return nil
	}
	keys := make([]string, 0, len(modes)*2)
	for _, mode := range modes {
		keys = append(keys, globalKey(mode), warmKey(mode))
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("invalidating cache: %w", err)
	}
	return nil
}

// Count returns the number of cached records for a mode
func (c *LeaderboardCache) Count(ctx context.Context, mode domain.GameMode) (int64, error) {
	count, err := c.client.ZCard(ctx, globalKey(mode)).Result()
	if err != nil {
		return 0, fmt.Errorf("getting count: %w", err)
	}
	return count, nil
}

// encodeMember serializes a record as its sorted set member. The id keeps
// members unique when two games share a time. PlayerName carries the owner,
// matching rows read back from the database.
func encodeMember(rec domain.ScoreRecord) (string, error) {
	rec.Synced = false
	rec.PlayerName = rec.Owner()
	data, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("encoding cache member: %w", err)
	}
	return string(data), nil
}
