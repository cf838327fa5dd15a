package redis

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geoquiz-ledger/internal/domain"
)

func decodeMember(t *testing.T, member string) domain.ScoreRecord {
	t.Helper()
	var rec domain.ScoreRecord
	require.NoError(t, json.Unmarshal([]byte(member), &rec))
	return rec
}

func TestEncodeMember_OwnerCarriedAsPlayerName(t *testing.T) {
	rec := domain.ScoreRecord{
		ID:          "2c1f6f3e-6a53-4f39-9f0e-0d3b7f9f5a01",
		GameMode:    domain.GameModeNameFlag,
		Score:       20,
		TimeElapsed: 140,
		CreatedAt:   time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		SessionID:   "session-1",
		UserID:      "u-42",
		Synced:      true,
	}

	member, err := encodeMember(rec)
	require.NoError(t, err)

	cached := decodeMember(t, member)
	assert.Equal(t, "u-42", cached.PlayerName)
	assert.Equal(t, "u-42", cached.UserID)
	assert.Equal(t, rec.Owner(), cached.Owner())
	assert.False(t, cached.Synced)
}

func TestEncodeMember_NamedOwnerUnchanged(t *testing.T) {
	rec := domain.ScoreRecord{
		ID:          "7a9d2b4c-1e3f-4a5b-8c6d-9e0f1a2b3c4d",
		GameMode:    domain.GameModeFindFlag,
		Score:       25,
		TimeElapsed: 95,
		PlayerName:  "Alice",
		UserID:      "u-42",
	}

	member, err := encodeMember(rec)
	require.NoError(t, err)
	assert.Equal(t, "Alice", decodeMember(t, member).PlayerName)
}
