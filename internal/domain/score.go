package domain

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// MaxNameLength is the longest display name accepted, in runes
const MaxNameLength = 32

// ScoreRecord is one completed game
type ScoreRecord struct {
	ID          string    `json:"id"`
	GameMode    GameMode  `json:"game_mode"`
	Score       int       `json:"score"`
	TimeElapsed int       `json:"time_elapsed"`
	CreatedAt   time.Time `json:"created_at"`
	SessionID   string    `json:"session_id,omitempty"`
	PlayerName  string    `json:"player_name,omitempty"`
	UserID      string    `json:"user_id,omitempty"`

	// Synced is only meaningful in the local ledger.
	Synced bool `json:"synced,omitempty"`
}

// DedupKey is the exact tuple two records must share to count as duplicates
type DedupKey struct {
	Score       int
	TimeElapsed int
}

// Key returns the record's dedup key
func (r ScoreRecord) Key() DedupKey {
	return DedupKey{Score: r.Score, TimeElapsed: r.TimeElapsed}
}

// NewScoreRecord builds a record with a fresh id and creation time
func NewScoreRecord(mode GameMode, score, timeElapsed int, session SessionContext, now time.Time) ScoreRecord {
	return ScoreRecord{
		ID:          uuid.New().String(),
		GameMode:    mode,
		Score:       score,
		TimeElapsed: timeElapsed,
		CreatedAt:   now.UTC(),
		SessionID:   session.SessionID,
		PlayerName:  session.PlayerName,
		UserID:      session.UserID,
	}
}

// Owner returns the remote owner of the record
func (r ScoreRecord) Owner() string {
	if r.PlayerName != "" {
		return r.PlayerName
	}
	return r.UserID
}

// Validate checks the fields a client controls
func (r ScoreRecord) Validate() error {
	if !r.GameMode.Valid() {
		return ErrInvalidGameMode
	}
	if r.Score < 0 || r.TimeElapsed < 0 {
		return ErrInvalidScore
	}
	return nil
}

// Identity is what the identity provider knows about the player
type Identity struct {
	UserID      string `json:"user_id,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
}

// Owner returns the identifier scores are attributed to. The display name is
// canonical; an authenticated user id stands in only while no name is set.
func (i Identity) Owner() string {
	if name := strings.TrimSpace(i.DisplayName); name != "" {
		return name
	}
	return strings.TrimSpace(i.UserID)
}

// NormalizeName trims and validates a display name. Empty means anonymous.
func NormalizeName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if utf8.RuneCountInString(name) > MaxNameLength {
		return "", ErrInvalidName
	}
	for _, r := range name {
		if r < 0x20 || r == 0x7f {
			return "", ErrInvalidName
		}
	}
	return name, nil
}

// SessionContext is the per-device state the engine works against
type SessionContext struct {
	SessionID  string `json:"session_id"`
	PlayerName string `json:"player_name,omitempty"`
	UserID     string `json:"user_id,omitempty"`
}

// Identity returns the session's identity as the provider would report it
func (s SessionContext) Identity() Identity {
	return Identity{UserID: s.UserID, DisplayName: s.PlayerName}
}

// Owner returns the remote owner for new records, or "" if anonymous
func (s SessionContext) Owner() string {
	return s.Identity().Owner()
}

// CompletionState tracks one game-completion lifecycle
type CompletionState string

const (
	StatePlaying             CompletionState = "playing"
	StateCompleted           CompletionState = "completed"
	StateNameCaptureOptional CompletionState = "name-capture-optional"
	StateReconciled          CompletionState = "reconciled"
)

// SubmitResult reports what happened to one submission
type SubmitResult struct {
	Record        ScoreRecord     `json:"record"`
	State         CompletionState `json:"state"`
	Duplicate     bool            `json:"duplicate,omitempty"`
	StoredLocally bool            `json:"stored_locally"`
	StoredRemote  bool            `json:"stored_remote"`
	Advisories    []Advisory      `json:"advisories,omitempty"`
}

// AdvisoryKind classifies a non-blocking persistence problem
type AdvisoryKind string

const (
	AdvisoryLocalStorage AdvisoryKind = "local_storage"
	AdvisoryRemoteWrite  AdvisoryKind = "remote_write"
	AdvisoryRemoteRead   AdvisoryKind = "remote_read"
	AdvisoryNameTaken    AdvisoryKind = "name_taken"
)

// Advisory is a user-visible message about a persistence failure
type Advisory struct {
	Kind    AdvisoryKind `json:"kind"`
	Message string       `json:"message"`
	Err     error        `json:"-"`
}
