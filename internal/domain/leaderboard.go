package domain

import (
	"fmt"
	"sort"
	"time"
)

// GameMode identifies one quiz format. Every ledger is partitioned by mode.
type GameMode string

const (
	GameModeFindFlag       GameMode = "find-flag"
	GameModeNameFlag       GameMode = "name-flag"
	GameModeCapitalQuiz    GameMode = "capital-quiz"
	GameModePopulationQuiz GameMode = "population-quiz"
)

// AllGameModes lists the supported modes in menu order.
var AllGameModes = []GameMode{
	GameModeFindFlag,
	GameModeNameFlag,
	GameModeCapitalQuiz,
	GameModePopulationQuiz,
}

// Valid reports whether m is a supported game mode
func (m GameMode) Valid() bool {
	for _, mode := range AllGameModes {
		if m == mode {
			return true
		}
	}
	return false
}

// ParseGameMode converts a string into a GameMode
func ParseGameMode(s string) (GameMode, error) {
	mode := GameMode(s)
	if !mode.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidGameMode, s)
	}
	return mode, nil
}

// ViewStatus describes whether the global view could be loaded
type ViewStatus string

const (
	ViewStatusReady       ViewStatus = "ready"
	ViewStatusUnavailable ViewStatus = "unavailable"
	ViewStatusLocalOnly   ViewStatus = "local-only"
)

// Leaderboards holds the two computed views for one game mode
type Leaderboards struct {
	GameMode     GameMode      `json:"game_mode"`
	Global       []ScoreRecord `json:"global"`
	Personal     []ScoreRecord `json:"personal"`
	GlobalStatus ViewStatus    `json:"global_status"`
	GlobalError  string        `json:"global_error,omitempty"`
	FetchedAt    time.Time     `json:"fetched_at"`
}

// SortByTime orders records best first: lower time, then higher score, then older.
func SortByTime(records []ScoreRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if a.TimeElapsed != b.TimeElapsed {
			return a.TimeElapsed < b.TimeElapsed
		}
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
}

// TopN sorts a copy of records and truncates it to limit. Records from
// different players may share a (score, time) pair, so nothing is dropped.
func TopN(limit int, records []ScoreRecord) []ScoreRecord {
	out := make([]ScoreRecord, len(records))
	copy(out, records)
	SortByTime(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// RankTop merges record sets, drops duplicate (score, time) pairs, sorts and
// truncates to limit. The first occurrence of a duplicate key wins.
func RankTop(limit int, sets ...[]ScoreRecord) []ScoreRecord {
	seen := make(map[DedupKey]struct{})
	merged := make([]ScoreRecord, 0)
	for _, set := range sets {
		for _, rec := range set {
			key := rec.Key()
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			merged = append(merged, rec)
		}
	}

	SortByTime(merged)
	if limit > 0 && len(merged) > limit {
		merged = merged[:limit]
	}
	return merged
}

// ModeStats contains aggregate numbers for one mode of the remote ledger
type ModeStats struct {
	GameMode  GameMode `json:"game_mode"`
	Games     int64    `json:"games"`
	BestTime  int      `json:"best_time,omitempty"`
	WorstTime int      `json:"worst_time,omitempty"`
}
