package ledger

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/geoquiz-ledger/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLedger(t *testing.T) (*Ledger, *MemoryStore, domain.SessionContext) {
	t.Helper()
	store := NewMemoryStore()
	l := New(store, slog.New(slog.NewTextHandler(io.Discard, nil)))
	session, err := l.Session(context.Background())
	require.NoError(t, err)
	return l, store, session
}

func newRecord(session domain.SessionContext, score, elapsed int) domain.ScoreRecord {
	return domain.NewScoreRecord(domain.GameModeFindFlag, score, elapsed, session, time.Now())
}

func TestSession_CreatedOnceAndReused(t *testing.T) {
	l, _, first := newTestLedger(t)
	require.NotEmpty(t, first.SessionID)

	second, err := l.Session(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first.SessionID, second.SessionID)
}

func TestAppend_DistinctRecordsAreListed(t *testing.T) {
	ctx := context.Background()
	l, _, session := newTestLedger(t)

	for _, elapsed := range []int{120, 95, 300} {
		added, err := l.Append(ctx, domain.GameModeFindFlag, newRecord(session, 25, elapsed))
		require.NoError(t, err)
		assert.True(t, added)
	}

	records, err := l.ListForSession(ctx, domain.GameModeFindFlag, session.SessionID)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, 120, records[0].TimeElapsed)
	assert.Equal(t, 300, records[2].TimeElapsed)
}

func TestAppend_DuplicateStoredOnce(t *testing.T) {
	ctx := context.Background()
	l, _, session := newTestLedger(t)

	first := newRecord(session, 25, 120)
	added, err := l.Append(ctx, domain.GameModeFindFlag, first)
	require.NoError(t, err)
	assert.True(t, added)

	second := newRecord(session, 25, 120)
	require.NotEqual(t, first.ID, second.ID)
	added, err = l.Append(ctx, domain.GameModeFindFlag, second)
	require.NoError(t, err)
	assert.False(t, added)

	records, err := l.ListForSession(ctx, domain.GameModeFindFlag, session.SessionID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, first.ID, records[0].ID)
}

func TestAppend_ModesArePartitioned(t *testing.T) {
	ctx := context.Background()
	l, _, session := newTestLedger(t)

	_, err := l.Append(ctx, domain.GameModeFindFlag, newRecord(session, 25, 120))
	require.NoError(t, err)
	added, err := l.Append(ctx, domain.GameModeCapitalQuiz, newRecord(session, 25, 120))
	require.NoError(t, err)
	assert.True(t, added)

	capital, err := l.ListForSession(ctx, domain.GameModeCapitalQuiz, session.SessionID)
	require.NoError(t, err)
	require.Len(t, capital, 1)
	assert.Equal(t, domain.GameModeCapitalQuiz, capital[0].GameMode)
}

func TestAppend_OtherSessionNotADuplicate(t *testing.T) {
	ctx := context.Background()
	l, _, session := newTestLedger(t)

	other := session
	other.SessionID = "another-device"
	_, err := l.Append(ctx, domain.GameModeFindFlag, newRecord(other, 25, 120))
	require.NoError(t, err)

	added, err := l.Append(ctx, domain.GameModeFindFlag, newRecord(session, 25, 120))
	require.NoError(t, err)
	assert.True(t, added)

	mine, err := l.ListForSession(ctx, domain.GameModeFindFlag, session.SessionID)
	require.NoError(t, err)
	assert.Len(t, mine, 1)
}

func TestAppend_StorageFull(t *testing.T) {
	ctx := context.Background()
	l, store, session := newTestLedger(t)
	store.WithQuota(64)

	added, err := l.Append(ctx, domain.GameModeFindFlag, newRecord(session, 25, 120))
	assert.False(t, added)
	assert.ErrorIs(t, err, ErrStorageFull)
}

func TestListForSession_IncludesUntaggedLegacyRecords(t *testing.T) {
	ctx := context.Background()
	l, store, session := newTestLedger(t)

	legacy, err := json.Marshal([]map[string]any{
		{"score": 25, "time_elapsed": 140, "created_at": time.Now()},
		{"score": 25, "time_elapsed": 150, "created_at": time.Now(), "session_id": "someone-else"},
	})
	require.NoError(t, err)
	require.NoError(t, store.Set(ctx, "local_scores_find-flag", string(legacy)))

	records, err := l.ListForSession(ctx, domain.GameModeFindFlag, session.SessionID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 140, records[0].TimeElapsed)
	assert.Equal(t, domain.GameModeFindFlag, records[0].GameMode)
}

func TestRelabelAll(t *testing.T) {
	ctx := context.Background()
	l, _, session := newTestLedger(t)

	_, err := l.Append(ctx, domain.GameModeFindFlag, newRecord(session, 25, 120))
	require.NoError(t, err)
	_, err = l.Append(ctx, domain.GameModeFindFlag, newRecord(session, 25, 95))
	require.NoError(t, err)
	_, err = l.Append(ctx, domain.GameModeNameFlag, newRecord(session, 10, 61))
	require.NoError(t, err)

	n, err := l.RelabelAll(ctx, "Alice")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	for _, mode := range []domain.GameMode{domain.GameModeFindFlag, domain.GameModeNameFlag} {
		records, err := l.ListForSession(ctx, mode, session.SessionID)
		require.NoError(t, err)
		require.NotEmpty(t, records)
		for _, rec := range records {
			assert.Equal(t, "Alice", rec.PlayerName)
		}
	}

	reloaded, err := l.Session(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Alice", reloaded.PlayerName)
}

func TestUnsyncedAndMarkSynced(t *testing.T) {
	ctx := context.Background()
	l, _, session := newTestLedger(t)

	a := newRecord(session, 25, 120)
	b := newRecord(session, 25, 95)
	_, err := l.Append(ctx, domain.GameModeFindFlag, a)
	require.NoError(t, err)
	_, err = l.Append(ctx, domain.GameModeFindFlag, b)
	require.NoError(t, err)

	pending, err := l.Unsynced(ctx, session.SessionID)
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	require.NoError(t, l.MarkSynced(ctx, domain.GameModeFindFlag, a.ID))

	pending, err = l.Unsynced(ctx, session.SessionID)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, b.ID, pending[0].ID)
}

func TestClear(t *testing.T) {
	ctx := context.Background()
	l, _, session := newTestLedger(t)

	_, err := l.Append(ctx, domain.GameModeFindFlag, newRecord(session, 25, 120))
	require.NoError(t, err)
	_, err = l.RelabelAll(ctx, "Bob")
	require.NoError(t, err)

	newID, err := l.Clear(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, session.SessionID, newID)

	reloaded, err := l.Session(ctx)
	require.NoError(t, err)
	assert.Equal(t, newID, reloaded.SessionID)
	assert.Empty(t, reloaded.PlayerName)

	for _, mode := range domain.AllGameModes {
		records, err := l.ListForSession(ctx, mode, newID)
		require.NoError(t, err)
		assert.Empty(t, records)
	}
}

func TestLoad_CorruptEntryIsDiscarded(t *testing.T) {
	ctx := context.Background()
	l, store, session := newTestLedger(t)
	require.NoError(t, store.Set(ctx, "local_scores_find-flag", "{not json"))

	added, err := l.Append(ctx, domain.GameModeFindFlag, newRecord(session, 25, 120))
	require.NoError(t, err)
	assert.True(t, added)
}
