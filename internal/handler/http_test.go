package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geoquiz-ledger/internal/domain"
	"github.com/geoquiz-ledger/internal/websocket"
)

type fakeBoard struct {
	inserted  []domain.ScoreRecord
	lastLimit int
	lastOwner string
	renameErr error
	readyErr  error
	topErr    error
}

func (b *fakeBoard) Insert(_ context.Context, rec domain.ScoreRecord) error {
	if rec.Owner() == "" {
		return domain.ErrInvalidRequest
	}
	b.inserted = append(b.inserted, rec)
	return nil
}

func (b *fakeBoard) TopByTime(_ context.Context, mode domain.GameMode, limit int) ([]domain.ScoreRecord, error) {
	b.lastLimit = limit
	if b.topErr != nil {
		return nil, b.topErr
	}
	return []domain.ScoreRecord{{GameMode: mode, PlayerName: "Alice", Score: 25, TimeElapsed: 95}}, nil
}

func (b *fakeBoard) ListByOwner(_ context.Context, mode domain.GameMode, owner string, limit int) ([]domain.ScoreRecord, error) {
	b.lastOwner = owner
	b.lastLimit = limit
	return []domain.ScoreRecord{{GameMode: mode, PlayerName: owner, Score: 20, TimeElapsed: 120}}, nil
}

func (b *fakeBoard) Rename(_ context.Context, _, _, _ string) (int64, error) {
	if b.renameErr != nil {
		return 0, b.renameErr
	}
	return 3, nil
}

func (b *fakeBoard) Stats(_ context.Context, mode domain.GameMode) (*domain.ModeStats, error) {
	return &domain.ModeStats{GameMode: mode}, nil
}

func (b *fakeBoard) Ready(context.Context) error { return b.readyErr }

func newTestServer(t *testing.T, board *fakeBoard) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewHandler(board, websocket.NewHub(logger), logger).Router()
}

func do(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, APIResponse) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var resp APIResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return rec, resp
}

func TestHealthAndReady(t *testing.T) {
	board := &fakeBoard{}
	h := newTestServer(t, board)

	rec, resp := do(t, h, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.Success)

	rec, _ = do(t, h, http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	board.readyErr = errors.New("connection refused")
	rec, resp = do(t, h, http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.False(t, resp.Success)
}

func TestSubmitScore(t *testing.T) {
	board := &fakeBoard{}
	h := newTestServer(t, board)

	rec, resp := do(t, h, http.MethodPost, "/api/v1/scores",
		`{"game_mode":"find-flag","score":25,"time_elapsed":95,"player_name":"  Alice ","session_id":"s-1"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.True(t, resp.Success)

	require.Len(t, board.inserted, 1)
	stored := board.inserted[0]
	assert.Equal(t, "Alice", stored.PlayerName)
	assert.NotEmpty(t, stored.ID)
	assert.False(t, stored.CreatedAt.IsZero())
}

func TestSubmitScore_Rejects(t *testing.T) {
	tests := []struct {
		name string
		body string
		code int
	}{
		{"malformed", `{"game_mode":`, http.StatusBadRequest},
		{"unknown mode", `{"game_mode":"trivia","score":1,"time_elapsed":1,"player_name":"a"}`, http.StatusBadRequest},
		{"anonymous", `{"game_mode":"find-flag","score":1,"time_elapsed":1}`, http.StatusBadRequest},
		{"bad id", `{"id":"nope","game_mode":"find-flag","score":1,"time_elapsed":1,"player_name":"a"}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			board := &fakeBoard{}
			rec, resp := do(t, newTestServer(t, board), http.MethodPost, "/api/v1/scores", tt.body)
			assert.Equal(t, tt.code, rec.Code)
			assert.False(t, resp.Success)
			assert.Empty(t, board.inserted)
		})
	}
}

func TestGetTop(t *testing.T) {
	board := &fakeBoard{}
	h := newTestServer(t, board)

	rec, resp := do(t, h, http.MethodGet, "/api/v1/leaderboards/find-flag?limit=7", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.Success)
	assert.Equal(t, 7, board.lastLimit)

	rec, _ = do(t, h, http.MethodGet, "/api/v1/leaderboards/find-flag?limit=abc", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, board.lastLimit)

	rec, _ = do(t, h, http.MethodGet, "/api/v1/leaderboards/speed-round", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	board.topErr = errors.New("boom")
	rec, resp = do(t, h, http.MethodGet, "/api/v1/leaderboards/find-flag", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, domain.ErrInternalError.Error(), resp.Error)
}

func TestGetOwnerScores(t *testing.T) {
	board := &fakeBoard{}
	h := newTestServer(t, board)

	rec, _ := do(t, h, http.MethodGet, "/api/v1/leaderboards/capital-quiz/owners/Bob", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Bob", board.lastOwner)
}

func TestRenameSession(t *testing.T) {
	board := &fakeBoard{}
	h := newTestServer(t, board)

	rec, resp := do(t, h, http.MethodPut, "/api/v1/sessions/s-1/name", `{"name":"Robert","previous":"Bob"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, float64(3), data["moved"])

	board.renameErr = domain.ErrNameTaken
	rec, resp = do(t, h, http.MethodPut, "/api/v1/sessions/s-1/name", `{"name":"Robert"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, domain.ErrNameTaken.Error(), resp.Error)

	board.renameErr = domain.ErrInvalidName
	rec, _ = do(t, h, http.MethodPut, "/api/v1/sessions/s-1/name", `{"name":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListModesAndWebSocketStats(t *testing.T) {
	h := newTestServer(t, &fakeBoard{})

	rec, resp := do(t, h, http.MethodGet, "/api/v1/modes", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, resp.Data, len(domain.AllGameModes))

	rec, resp = do(t, h, http.MethodGet, "/api/v1/ws/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, float64(0), data["total_connections"])
}
