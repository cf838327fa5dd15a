package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/geoquiz-ledger/internal/domain"
	"github.com/geoquiz-ledger/internal/websocket"
)

// Board is the remote ledger the API serves
type Board interface {
	Insert(ctx context.Context, rec domain.ScoreRecord) error
	TopByTime(ctx context.Context, mode domain.GameMode, limit int) ([]domain.ScoreRecord, error)
	ListByOwner(ctx context.Context, mode domain.GameMode, owner string, limit int) ([]domain.ScoreRecord, error)
	Rename(ctx context.Context, sessionID, name, previous string) (int64, error)
	Stats(ctx context.Context, mode domain.GameMode) (*domain.ModeStats, error)
	Ready(ctx context.Context) error
}

// Handler provides HTTP handlers for the leaderboard API
type Handler struct {
	board  Board
	hub    *websocket.Hub
	logger *slog.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(board Board, hub *websocket.Hub, logger *slog.Logger) *Handler {
	return &Handler{
		board:  board,
		hub:    hub,
		logger: logger,
	}
}

// APIResponse represents a standard API response
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// SubmitScoreRequest is the body of POST /api/v1/scores
type SubmitScoreRequest struct {
	ID          string    `json:"id,omitempty"`
	GameMode    string    `json:"game_mode"`
	Score       int       `json:"score"`
	TimeElapsed int       `json:"time_elapsed"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
	SessionID   string    `json:"session_id,omitempty"`
	PlayerName  string    `json:"player_name,omitempty"`
	UserID      string    `json:"user_id,omitempty"`
}

// RenameRequest is the body of PUT /api/v1/sessions/{sessionID}/name
type RenameRequest struct {
	Name     string `json:"name"`
	Previous string `json:"previous,omitempty"`
}

// Router creates and configures the HTTP router
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(corsMiddleware)

	r.Get("/health", h.HealthCheck)
	r.Get("/ready", h.ReadyCheck)

	r.Get("/ws", h.HandleWebSocket)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/modes", h.ListModes)
		r.Post("/scores", h.SubmitScore)

		r.Route("/leaderboards/{mode}", func(r chi.Router) {
			r.Get("/", h.GetTop)
			r.Get("/owners/{owner}", h.GetOwnerScores)
		})

		r.Put("/sessions/{sessionID}/name", h.RenameSession)

		r.Get("/ws/stats", h.GetWebSocketStats)
	})

	return r
}

// corsMiddleware adds CORS headers
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-Request-ID")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (h *Handler) writeSuccess(w http.ResponseWriter, data interface{}) {
	h.writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    data,
	})
}

func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	h.writeJSON(w, status, APIResponse{
		Success: false,
		Error:   err.Error(),
	})
}

// writeDomainError maps a service error onto a status code
func (h *Handler) writeDomainError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, domain.ErrNameTaken):
		h.writeError(w, http.StatusConflict, err)
	case domain.IsValidationError(err), errors.Is(err, domain.ErrNoIdentity):
		h.writeError(w, http.StatusBadRequest, err)
	case domain.IsNotFoundError(err):
		h.writeError(w, http.StatusNotFound, err)
	default:
		h.logger.Error("request failed", "op", op, "error", err)
		h.writeError(w, http.StatusInternalServerError, domain.ErrInternalError)
	}
}

// parseMode reads the {mode} URL parameter
func (h *Handler) parseMode(w http.ResponseWriter, r *http.Request) (domain.GameMode, bool) {
	mode, err := domain.ParseGameMode(chi.URLParam(r, "mode"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return "", false
	}
	return mode, true
}

// parseLimit reads ?limit=, returning 0 when absent or malformed
func parseLimit(r *http.Request) int {
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			return l
		}
	}
	return 0
}

// HandleWebSocket handles WebSocket upgrade requests
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	websocket.ServeWs(h.hub, h.logger, w, r)
}

// GetWebSocketStats returns WebSocket connection statistics
func (h *Handler) GetWebSocketStats(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, h.hub.Stats())
}

// HealthCheck returns service health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]string{"status": "healthy"})
}

// ReadyCheck reports whether the database answers
func (h *Handler) ReadyCheck(w http.ResponseWriter, r *http.Request) {
	if err := h.board.Ready(r.Context()); err != nil {
		h.logger.Warn("readiness check failed", "error", err)
		h.writeError(w, http.StatusServiceUnavailable, errors.New("database unavailable"))
		return
	}
	h.writeSuccess(w, map[string]string{"status": "ready"})
}

// ListModes returns every game mode with its aggregate numbers
func (h *Handler) ListModes(w http.ResponseWriter, r *http.Request) {
	modes := make([]*domain.ModeStats, 0, len(domain.AllGameModes))
	for _, mode := range domain.AllGameModes {
		stats, err := h.board.Stats(r.Context(), mode)
		if err != nil {
			h.writeDomainError(w, "list modes", err)
			return
		}
		modes = append(modes, stats)
	}
	h.writeSuccess(w, modes)
}

// SubmitScore stores one completed game
func (h *Handler) SubmitScore(w http.ResponseWriter, r *http.Request) {
	var req SubmitScoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	mode, err := domain.ParseGameMode(req.GameMode)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	name, err := domain.NormalizeName(req.PlayerName)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	rec := domain.ScoreRecord{
		ID:          req.ID,
		GameMode:    mode,
		Score:       req.Score,
		TimeElapsed: req.TimeElapsed,
		CreatedAt:   req.CreatedAt.UTC(),
		SessionID:   req.SessionID,
		PlayerName:  name,
		UserID:      req.UserID,
	}
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	} else if _, err := uuid.Parse(rec.ID); err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}
	if req.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	if err := h.board.Insert(r.Context(), rec); err != nil {
		h.writeDomainError(w, "submit score", err)
		return
	}

	rec.Synced = true
	h.writeJSON(w, http.StatusCreated, APIResponse{
		Success: true,
		Data:    rec,
	})
}

// GetTop returns the fastest games of a mode
func (h *Handler) GetTop(w http.ResponseWriter, r *http.Request) {
	mode, ok := h.parseMode(w, r)
	if !ok {
		return
	}

	entries, err := h.board.TopByTime(r.Context(), mode, parseLimit(r))
	if err != nil {
		h.writeDomainError(w, "get top", err)
		return
	}
	h.writeSuccess(w, entries)
}

// GetOwnerScores returns an owner's fastest games of a mode
func (h *Handler) GetOwnerScores(w http.ResponseWriter, r *http.Request) {
	mode, ok := h.parseMode(w, r)
	if !ok {
		return
	}
	owner := chi.URLParam(r, "owner")

	entries, err := h.board.ListByOwner(r.Context(), mode, owner, parseLimit(r))
	if err != nil {
		h.writeDomainError(w, "get owner scores", err)
		return
	}
	h.writeSuccess(w, entries)
}

// RenameSession claims a new display name for a session and moves the
// session's records to it
func (h *Handler) RenameSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var req RenameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	moved, err := h.board.Rename(r.Context(), sessionID, req.Name, req.Previous)
	if err != nil {
		h.writeDomainError(w, "rename session", err)
		return
	}

	name, _ := domain.NormalizeName(req.Name)
	h.writeSuccess(w, map[string]interface{}{
		"session_id": sessionID,
		"name":       name,
		"moved":      moved,
	})
}
