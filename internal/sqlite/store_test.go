package sqlite

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/geoquiz-ledger/internal/domain"
	"github.com/geoquiz-ledger/internal/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "device.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, path
}

func TestGetSetDelete(t *testing.T) {
	ctx := context.Background()
	s, _ := createTestStore(t)

	_, ok, err := s.Get(ctx, "player_name")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, "player_name", "Bob"))
	require.NoError(t, s.Set(ctx, "player_name", "Alice"))

	v, ok, err := s.Get(ctx, "player_name")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "Alice", v)

	require.NoError(t, s.Delete(ctx, "player_name"))
	require.NoError(t, s.Delete(ctx, "player_name"))

	_, ok, err = s.Get(ctx, "player_name")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestKeysByPrefix(t *testing.T) {
	ctx := context.Background()
	s, _ := createTestStore(t)

	require.NoError(t, s.Set(ctx, "local_scores_name-flag", "[]"))
	require.NoError(t, s.Set(ctx, "local_scores_find-flag", "[]"))
	require.NoError(t, s.Set(ctx, "session_id", "abc"))

	keys, err := s.Keys(ctx, "local_scores_")
	require.NoError(t, err)
	assert.Equal(t, []string{"local_scores_find-flag", "local_scores_name-flag"}, keys)

	all, err := s.Keys(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestLedgerSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, path := createTestStore(t)

	l := ledger.New(s, logger)
	session, err := l.Session(ctx)
	require.NoError(t, err)
	rec := domain.NewScoreRecord(domain.GameModeFindFlag, 25, 120, session, time.Now())
	_, err = l.Append(ctx, domain.GameModeFindFlag, rec)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	l2 := ledger.New(reopened, logger)
	session2, err := l2.Session(ctx)
	require.NoError(t, err)
	assert.Equal(t, session.SessionID, session2.SessionID)

	records, err := l2.ListForSession(ctx, domain.GameModeFindFlag, session2.SessionID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, rec.ID, records[0].ID)
}
