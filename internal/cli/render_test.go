package cli

import (
	"bytes"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"

	"github.com/geoquiz-ledger/internal/domain"
)

func newGoldie(t *testing.T) *goldie.Goldie {
	t.Helper()
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

var fetchedAt = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func TestFormatTime(t *testing.T) {
	tests := []struct {
		seconds int
		want    string
	}{
		{0, "0:00"},
		{5, "0:05"},
		{59, "0:59"},
		{60, "1:00"},
		{95, "1:35"},
		{601, "10:01"},
		{-3, "0:00"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatTime(tt.seconds))
	}
}

func TestRenderLeaderboards(t *testing.T) {
	personal := []domain.ScoreRecord{
		{GameMode: domain.GameModeFindFlag, Score: 25, TimeElapsed: 95},
		{GameMode: domain.GameModeFindFlag, Score: 20, TimeElapsed: 601},
	}

	tests := []struct {
		name   string
		boards domain.Leaderboards
	}{
		{
			name: "leaderboard_ready",
			boards: domain.Leaderboards{
				GameMode: domain.GameModeFindFlag,
				Global: []domain.ScoreRecord{
					{PlayerName: "Alice", Score: 25, TimeElapsed: 61},
					{PlayerName: "Bob", Score: 25, TimeElapsed: 95},
					{Score: 18, TimeElapsed: 120},
					{PlayerName: "Bartholomew Longname-Smith", Score: 10, TimeElapsed: 601},
				},
				Personal:     personal,
				GlobalStatus: domain.ViewStatusReady,
				FetchedAt:    fetchedAt,
			},
		},
		{
			name: "leaderboard_empty",
			boards: domain.Leaderboards{
				GameMode:     domain.GameModeCapitalQuiz,
				GlobalStatus: domain.ViewStatusReady,
				FetchedAt:    fetchedAt,
			},
		},
		{
			name: "leaderboard_local_only",
			boards: domain.Leaderboards{
				GameMode:     domain.GameModeFindFlag,
				Personal:     personal,
				GlobalStatus: domain.ViewStatusLocalOnly,
				FetchedAt:    fetchedAt,
			},
		},
		{
			name: "leaderboard_unavailable",
			boards: domain.Leaderboards{
				GameMode:     domain.GameModePopulationQuiz,
				GlobalStatus: domain.ViewStatusUnavailable,
				GlobalError:  "context deadline exceeded",
				FetchedAt:    fetchedAt,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			RenderLeaderboards(&buf, tt.boards)
			newGoldie(t).Assert(t, tt.name, buf.Bytes())
		})
	}
}

func TestRenderSubmit(t *testing.T) {
	rec := domain.ScoreRecord{GameMode: domain.GameModeNameFlag, Score: 22, TimeElapsed: 134}

	tests := []struct {
		name   string
		result domain.SubmitResult
	}{
		{
			name: "submit_anonymous",
			result: domain.SubmitResult{
				Record:        rec,
				State:         domain.StateNameCaptureOptional,
				StoredLocally: true,
			},
		},
		{
			name: "submit_reconciled",
			result: domain.SubmitResult{
				Record:        rec,
				State:         domain.StateReconciled,
				StoredLocally: true,
				StoredRemote:  true,
			},
		},
		{
			name: "submit_duplicate",
			result: domain.SubmitResult{
				Record:        rec,
				State:         domain.StateReconciled,
				Duplicate:     true,
				StoredLocally: true,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			RenderSubmit(&buf, tt.result)
			newGoldie(t).Assert(t, tt.name, buf.Bytes())
		})
	}
}
