// Package ledger implements the per-device log of completed games.
//
// Records are stored as one JSON array per game mode. Duplicates are found
// by a linear scan, which is fine for the handful of records a device keeps
// per mode.
package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/geoquiz-ledger/internal/domain"
	"github.com/google/uuid"
)

// Storage keys
const (
	scoresKeyPrefix = "local_scores_"
	playerNameKey   = "player_name"
	sessionIDKey    = "session_id"
	userIDKey       = "user_id"
)

// Ledger is the Local Ledger
type Ledger struct {
	store  Store
	logger *slog.Logger
	mu     sync.Mutex
}

// New creates a ledger over the given store
func New(store Store, logger *slog.Logger) *Ledger {
	return &Ledger{
		store:  store,
		logger: logger,
	}
}

func scoresKey(mode domain.GameMode) string {
	return scoresKeyPrefix + string(mode)
}

// Session loads the session context, creating a session id on first use
func (l *Ledger) Session(ctx context.Context) (domain.SessionContext, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	sessionID, ok, err := l.store.Get(ctx, sessionIDKey)
	if err != nil {
		return domain.SessionContext{}, fmt.Errorf("reading session id: %w", err)
	}
	if !ok || sessionID == "" {
		sessionID = uuid.New().String()
		if err := l.store.Set(ctx, sessionIDKey, sessionID); err != nil {
			return domain.SessionContext{}, fmt.Errorf("storing session id: %w", err)
		}
		l.logger.Info("created local session", "session_id", sessionID)
	}

	name, _, err := l.store.Get(ctx, playerNameKey)
	if err != nil {
		return domain.SessionContext{}, fmt.Errorf("reading player name: %w", err)
	}
	userID, _, err := l.store.Get(ctx, userIDKey)
	if err != nil {
		return domain.SessionContext{}, fmt.Errorf("reading user id: %w", err)
	}

	return domain.SessionContext{
		SessionID:  sessionID,
		PlayerName: name,
		UserID:     userID,
	}, nil
}

// SetUserID persists the authenticated user id, or removes it when empty
func (l *Ledger) SetUserID(ctx context.Context, userID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if userID == "" {
		return l.store.Delete(ctx, userIDKey)
	}
	if err := l.store.Set(ctx, userIDKey, userID); err != nil {
		return fmt.Errorf("storing user id: %w", err)
	}
	return nil
}

// Append adds rec to the mode's log unless the current session already holds
// a record with the same score and time. Returns whether it was stored.
// The stored copy is kept, along with its id and synced flag.
func (l *Ledger) Append(ctx context.Context, mode domain.GameMode, rec domain.ScoreRecord) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	records, err := l.load(ctx, mode)
	if err != nil {
		return false, err
	}

	key := rec.Key()
	for _, existing := range records {
		if belongsTo(existing, rec.SessionID) && existing.Key() == key {
			l.logger.Debug("skipping duplicate local score",
				"game_mode", mode,
				"score", rec.Score,
				"time_elapsed", rec.TimeElapsed,
			)
			return false, nil
		}
	}

	rec.GameMode = mode
	records = append(records, rec)
	if err := l.save(ctx, mode, records); err != nil {
		return false, err
	}
	return true, nil
}

// ListForSession returns the session's records for a mode in insertion order.
// Records written before session tagging existed count as the session's own.
func (l *Ledger) ListForSession(ctx context.Context, mode domain.GameMode, sessionID string) ([]domain.ScoreRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	records, err := l.load(ctx, mode)
	if err != nil {
		return nil, err
	}

	out := make([]domain.ScoreRecord, 0, len(records))
	for _, rec := range records {
		if belongsTo(rec, sessionID) {
			out = append(out, rec)
		}
	}
	return out, nil
}

// RelabelAll rewrites the player name on every record of the current
// session, across all modes, and persists the name itself.
func (l *Ledger) RelabelAll(ctx context.Context, name string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	sessionID, _, err := l.store.Get(ctx, sessionIDKey)
	if err != nil {
		return 0, fmt.Errorf("reading session id: %w", err)
	}

	relabeled := 0
	for _, mode := range domain.AllGameModes {
		records, err := l.load(ctx, mode)
		if err != nil {
			return relabeled, err
		}

		changed := false
		for i := range records {
			if !belongsTo(records[i], sessionID) {
				continue
			}
			if records[i].SessionID == "" {
				records[i].SessionID = sessionID
			}
			if records[i].PlayerName != name {
				records[i].PlayerName = name
				changed = true
				relabeled++
			}
		}

		if changed {
			if err := l.save(ctx, mode, records); err != nil {
				return relabeled, err
			}
		}
	}

	if name == "" {
		err = l.store.Delete(ctx, playerNameKey)
	} else {
		err = l.store.Set(ctx, playerNameKey, name)
	}
	if err != nil {
		return relabeled, fmt.Errorf("storing player name: %w", err)
	}

	return relabeled, nil
}

// Unsynced returns the current session's records that never reached the
// remote ledger, across all modes.
func (l *Ledger) Unsynced(ctx context.Context, sessionID string) ([]domain.ScoreRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []domain.ScoreRecord
	for _, mode := range domain.AllGameModes {
		records, err := l.load(ctx, mode)
		if err != nil {
			return nil, err
		}
		for _, rec := range records {
			if belongsTo(rec, sessionID) && !rec.Synced {
				out = append(out, rec)
			}
		}
	}
	return out, nil
}

// MarkSynced flags the given records of a mode as stored remotely
func (l *Ledger) MarkSynced(ctx context.Context, mode domain.GameMode, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	records, err := l.load(ctx, mode)
	if err != nil {
		return err
	}

	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}

	changed := false
	for i := range records {
		if _, ok := want[records[i].ID]; ok && !records[i].Synced {
			records[i].Synced = true
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return l.save(ctx, mode, records)
}

// Clear wipes every local ledger and the player name, then starts a new
// session. Returns the new session id.
func (l *Ledger) Clear(ctx context.Context) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	keys, err := l.store.Keys(ctx, "")
	if err != nil {
		return "", fmt.Errorf("listing local keys: %w", err)
	}
	for _, key := range keys {
		if err := l.store.Delete(ctx, key); err != nil {
			return "", fmt.Errorf("deleting %s: %w", key, err)
		}
	}

	sessionID := uuid.New().String()
	if err := l.store.Set(ctx, sessionIDKey, sessionID); err != nil {
		return "", fmt.Errorf("storing session id: %w", err)
	}

	l.logger.Info("cleared local data", "session_id", sessionID, "keys_removed", len(keys))
	return sessionID, nil
}

func (l *Ledger) load(ctx context.Context, mode domain.GameMode) ([]domain.ScoreRecord, error) {
	raw, ok, err := l.store.Get(ctx, scoresKey(mode))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", scoresKey(mode), err)
	}
	if !ok || raw == "" {
		return nil, nil
	}

	var records []domain.ScoreRecord
	if err := json.Unmarshal([]byte(raw), &records); err != nil {
		// A corrupt entry must not block play; start the mode over.
		l.logger.Warn("discarding unreadable local scores", "game_mode", mode, "error", err)
		return nil, nil
	}
	for i := range records {
		if records[i].GameMode == "" {
			records[i].GameMode = mode
		}
	}
	return records, nil
}

func (l *Ledger) save(ctx context.Context, mode domain.GameMode, records []domain.ScoreRecord) error {
	data, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("encoding local scores: %w", err)
	}
	if err := l.store.Set(ctx, scoresKey(mode), string(data)); err != nil {
		return fmt.Errorf("writing %s: %w", scoresKey(mode), err)
	}
	return nil
}

// belongsTo treats untagged records as the current session's
func belongsTo(rec domain.ScoreRecord, sessionID string) bool {
	return rec.SessionID == "" || rec.SessionID == sessionID
}
