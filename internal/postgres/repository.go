package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/geoquiz-ledger/internal/config"
	"github.com/geoquiz-ledger/internal/domain"
)

// uniqueViolation is the SQLSTATE for a unique constraint failure
const uniqueViolation = "23505"

// Repository provides the remote ledger on PostgreSQL
type Repository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewRepository creates a new PostgreSQL repository
func NewRepository(ctx context.Context, cfg *config.PostgresConfig, logger *slog.Logger) (*Repository, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConnections)
	poolConfig.MinConns = int32(cfg.MinConnections)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	poolConfig.ConnConfig.ConnectTimeout = cfg.ConnectTimeout

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	return &Repository{
		pool:   pool,
		logger: logger,
	}, nil
}

// Close closes the database connection pool
func (r *Repository) Close() {
	r.pool.Close()
}

// Ping checks that the database is reachable
func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// RunMigrations executes database migrations
func (r *Repository) RunMigrations(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS high_scores (
			id UUID PRIMARY KEY,
			game_mode VARCHAR(32) NOT NULL,
			score INT NOT NULL CHECK (score >= 0),
			time_elapsed INT NOT NULL CHECK (time_elapsed >= 0),
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			owner VARCHAR(64) NOT NULL,
			session_id VARCHAR(64),
			user_id VARCHAR(64)
		)`,
		`CREATE TABLE IF NOT EXISTS players (
			display_name VARCHAR(64) PRIMARY KEY,
			session_id VARCHAR(64) NOT NULL,
			claimed_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_high_scores_mode_time ON high_scores(game_mode, time_elapsed ASC, score DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_high_scores_owner ON high_scores(owner, game_mode)`,
		`CREATE INDEX IF NOT EXISTS idx_players_session ON players(session_id)`,
	}

	for _, migration := range migrations {
		if _, err := r.pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("executing migration: %w", err)
		}
	}

	r.logger.Info("database migrations completed")
	return nil
}

const insertScoreSQL = `
	INSERT INTO high_scores (id, game_mode, score, time_elapsed, created_at, owner, session_id, user_id)
	VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), NULLIF($8, ''))
	ON CONFLICT (id) DO NOTHING
`

// InsertScore stores one completed game. Re-inserting the same id is a no-op,
// so retried writes never duplicate a record.
func (r *Repository) InsertScore(ctx context.Context, rec domain.ScoreRecord) error {
	_, err := r.pool.Exec(ctx, insertScoreSQL,
		rec.ID,
		string(rec.GameMode),
		rec.Score,
		rec.TimeElapsed,
		rec.CreatedAt,
		rec.Owner(),
		rec.SessionID,
		rec.UserID,
	)
	if err != nil {
		return fmt.Errorf("inserting score: %w", err)
	}
	return nil
}

// BatchInsertScores inserts many records in one round trip
func (r *Repository) BatchInsertScores(ctx context.Context, records []domain.ScoreRecord) error {
	if len(records) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, rec := range records {
		batch.Queue(insertScoreSQL,
			rec.ID,
			string(rec.GameMode),
			rec.Score,
			rec.TimeElapsed,
			rec.CreatedAt,
			rec.Owner(),
			rec.SessionID,
			rec.UserID,
		)
	}

	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range records {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("batch inserting scores: %w", err)
		}
	}
	return nil
}

const selectScoreColumns = `id::text, game_mode, score, time_elapsed, created_at, owner, COALESCE(session_id, ''), COALESCE(user_id, '')`

// TopByTime returns the fastest games of a mode
func (r *Repository) TopByTime(ctx context.Context, mode domain.GameMode, limit int) ([]domain.ScoreRecord, error) {
	query := `
		SELECT ` + selectScoreColumns + `
		FROM high_scores
		WHERE game_mode = $1
		ORDER BY time_elapsed ASC, score DESC, created_at ASC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, string(mode), limit)
	if err != nil {
		return nil, fmt.Errorf("getting top scores: %w", err)
	}
	return collectScores(rows)
}

// ListByOwner returns an owner's fastest games of a mode
func (r *Repository) ListByOwner(ctx context.Context, mode domain.GameMode, owner string, limit int) ([]domain.ScoreRecord, error) {
	query := `
		SELECT ` + selectScoreColumns + `
		FROM high_scores
		WHERE game_mode = $1 AND owner = $2
		ORDER BY time_elapsed ASC, score DESC, created_at ASC
		LIMIT $3
	`
	rows, err := r.pool.Query(ctx, query, string(mode), owner, limit)
	if err != nil {
		return nil, fmt.Errorf("getting owner scores: %w", err)
	}
	return collectScores(rows)
}

func collectScores(rows pgx.Rows) ([]domain.ScoreRecord, error) {
	defer rows.Close()

	records := make([]domain.ScoreRecord, 0)
	for rows.Next() {
		var rec domain.ScoreRecord
		var mode string
		err := rows.Scan(
			&rec.ID,
			&mode,
			&rec.Score,
			&rec.TimeElapsed,
			&rec.CreatedAt,
			&rec.PlayerName,
			&rec.SessionID,
			&rec.UserID,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning score: %w", err)
		}
		rec.GameMode = domain.GameMode(mode)
		rec.Synced = true
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading scores: %w", err)
	}
	return records, nil
}

// RenameOwner moves a session's records from one owner to another
func (r *Repository) RenameOwner(ctx context.Context, sessionID, oldOwner, newOwner string) (int64, error) {
	query := `UPDATE high_scores SET owner = $3 WHERE owner = $2 AND session_id = $1`
	result, err := r.pool.Exec(ctx, query, sessionID, oldOwner, newOwner)
	if err != nil {
		return 0, fmt.Errorf("renaming owner: %w", err)
	}
	return result.RowsAffected(), nil
}

// ClaimName reserves a display name for a session and releases the name the
// session held before. Fails with ErrNameTaken if another session owns it.
func (r *Repository) ClaimName(ctx context.Context, sessionID, name, previous string) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		var holder string
		err := tx.QueryRow(ctx, `
			INSERT INTO players (display_name, session_id, claimed_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (display_name) DO UPDATE SET claimed_at = EXCLUDED.claimed_at
				WHERE players.session_id = EXCLUDED.session_id
			RETURNING session_id
		`, name, sessionID, time.Now().UTC()).Scan(&holder)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) || isUniqueViolation(err) {
				return domain.ErrNameTaken
			}
			return fmt.Errorf("claiming name: %w", err)
		}

		if previous != "" && previous != name {
			_, err := tx.Exec(ctx,
				`DELETE FROM players WHERE display_name = $1 AND session_id = $2`,
				previous, sessionID,
			)
			if err != nil {
				return fmt.Errorf("releasing previous name: %w", err)
			}
		}
		return nil
	})
}

// ModeStats returns aggregate numbers for a mode
func (r *Repository) ModeStats(ctx context.Context, mode domain.GameMode) (*domain.ModeStats, error) {
	query := `
		SELECT COUNT(*), COALESCE(MIN(time_elapsed), 0), COALESCE(MAX(time_elapsed), 0)
		FROM high_scores
		WHERE game_mode = $1
	`
	stats := &domain.ModeStats{GameMode: mode}
	err := r.pool.QueryRow(ctx, query, string(mode)).Scan(&stats.Games, &stats.BestTime, &stats.WorstTime)
	if err != nil {
		return nil, fmt.Errorf("getting mode stats: %w", err)
	}
	return stats, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
