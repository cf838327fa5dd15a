package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/eapache/go-resiliency/retrier"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/geoquiz-ledger/internal/config"
	"github.com/geoquiz-ledger/internal/domain"
	"github.com/geoquiz-ledger/internal/ledger"
)

// RemoteLedger is the shared table of completed games
type RemoteLedger interface {
	Insert(ctx context.Context, rec domain.ScoreRecord) error
	TopByTime(ctx context.Context, mode domain.GameMode, limit int) ([]domain.ScoreRecord, error)
	ListByOwner(ctx context.Context, mode domain.GameMode, owner string, limit int) ([]domain.ScoreRecord, error)
	RenameOwner(ctx context.Context, sessionID, oldOwner, newOwner string) (int64, error)
	ClaimName(ctx context.Context, sessionID, name, previous string) error
}

// Notifier receives persistence advisories for display to the player
type Notifier interface {
	Notify(adv domain.Advisory)
}

// NotifierFunc adapts a function to Notifier
type NotifierFunc func(adv domain.Advisory)

// Notify calls f(adv)
func (f NotifierFunc) Notify(adv domain.Advisory) { f(adv) }

// LogNotifier writes advisories to a logger
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a notifier that logs at warn level
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Notify logs the advisory
func (n *LogNotifier) Notify(adv domain.Advisory) {
	n.logger.Warn(adv.Message, "kind", adv.Kind, "error", adv.Err)
}

type recentSubmit struct {
	at     time.Time
	result domain.SubmitResult
}

// Engine is the Score Reconciliation Engine. It is the single entry point
// for completed games and computes both leaderboard views.
//
// Persistence failures never escape the engine: they are turned into
// advisories for the Notifier. Only invalid input is returned as an error.
type Engine struct {
	local   *ledger.Ledger
	remote  RemoteLedger
	config  *config.LedgerConfig
	retrier *retrier.Retrier
	logger  *slog.Logger

	notifier  Notifier
	onRefresh func(domain.Leaderboards)
	now       func() time.Time

	// opMu serializes submissions and identity changes
	opMu    sync.Mutex
	recent  map[string]recentSubmit
	submits singleflight.Group
	views   singleflight.Group

	mu      sync.RWMutex
	session *domain.SessionContext

	// notifyMu serializes notifier calls
	notifyMu sync.Mutex
}

// NewEngine creates the engine. remote may be nil for a local-only device.
// session is owned by the engine from here on and reset only by Clear.
func NewEngine(
	local *ledger.Ledger,
	remote RemoteLedger,
	session *domain.SessionContext,
	cfg *config.LedgerConfig,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		local:    local,
		remote:   remote,
		config:   cfg,
		retrier:  newRetrier(cfg.Retry),
		logger:   logger,
		notifier: NewLogNotifier(logger),
		now:      time.Now,
		recent:   make(map[string]recentSubmit),
		session:  session,
	}
}

// SetNotifier replaces the advisory sink. Notify is never called
// concurrently.
func (e *Engine) SetNotifier(n Notifier) {
	e.notifyMu.Lock()
	defer e.notifyMu.Unlock()
	e.notifier = n
}

// SetRefreshHandler registers a callback receiving views refreshed after
// successful remote writes
func (e *Engine) SetRefreshHandler(fn func(domain.Leaderboards)) {
	e.onRefresh = fn
}

// Session returns a copy of the current session context
func (e *Engine) Session() domain.SessionContext {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return *e.session
}

// Submit records one completed game. Repeat calls with the same mode, score
// and time inside the dedup window return the first call's result.
func (e *Engine) Submit(ctx context.Context, mode domain.GameMode, score, timeElapsed int) (domain.SubmitResult, error) {
	if !mode.Valid() {
		return domain.SubmitResult{}, domain.ErrInvalidGameMode
	}
	if score < 0 || timeElapsed < 0 {
		return domain.SubmitResult{}, domain.ErrInvalidScore
	}

	key := fmt.Sprintf("%s|%d|%d", mode, score, timeElapsed)
	v, err, _ := e.submits.Do(key, func() (any, error) {
		return e.submit(ctx, mode, score, timeElapsed, key), nil
	})
	if err != nil {
		return domain.SubmitResult{}, err
	}
	return v.(domain.SubmitResult), nil
}

func (e *Engine) submit(ctx context.Context, mode domain.GameMode, score, timeElapsed int, key string) domain.SubmitResult {
	e.opMu.Lock()
	defer e.opMu.Unlock()

	now := e.now()
	e.pruneRecent(now)
	if prev, ok := e.recent[key]; ok {
		e.logger.Debug("suppressing repeat submission",
			"game_mode", mode,
			"score", score,
			"time_elapsed", timeElapsed,
		)
		result := prev.result
		result.Duplicate = true
		result.Advisories = nil
		return result
	}

	session := e.Session()
	rec := domain.NewScoreRecord(mode, score, timeElapsed, session, now)
	result := domain.SubmitResult{Record: rec, State: domain.StateCompleted}

	stored, err := e.local.Append(ctx, mode, rec)
	switch {
	case err != nil:
		e.advise(&result.Advisories, domain.AdvisoryLocalStorage, "Could not save your score on this device", err)
	case !stored:
		result.Duplicate = true
		result.StoredLocally = true
	default:
		result.StoredLocally = true
	}

	if session.Owner() == "" {
		result.State = domain.StateNameCaptureOptional
		e.recent[key] = recentSubmit{at: now, result: result}
		return result
	}

	// the earlier copy is replayed by SyncPending if it never made it
	if result.Duplicate {
		e.recent[key] = recentSubmit{at: now, result: result}
		return result
	}

	if e.remote == nil {
		e.logger.Debug("no remote ledger, score kept locally", "game_mode", mode)
		e.recent[key] = recentSubmit{at: now, result: result}
		return result
	}

	err = withRetry(ctx, e.retrier, e.config.RemoteTimeout, func(ctx context.Context) error {
		return e.remote.Insert(ctx, rec)
	})
	if err != nil {
		e.advise(&result.Advisories, domain.AdvisoryRemoteWrite, "Could not save your score online; it is kept on this device", err)
		e.recent[key] = recentSubmit{at: now, result: result}
		return result
	}

	result.StoredRemote = true
	result.State = domain.StateReconciled
	result.Record.Synced = true
	if result.StoredLocally {
		if err := e.local.MarkSynced(ctx, mode, rec.ID); err != nil {
			e.logger.Warn("failed to mark score synced", "id", rec.ID, "error", err)
		}
	}

	e.recent[key] = recentSubmit{at: now, result: result}
	e.refresh(ctx, mode)
	return result
}

// SetIdentity reconciles the session with a new or changed identity. Local
// records are relabeled, remote records are moved to the new owner and
// records that never reached the remote ledger are replayed.
//
// A name already held by another session is rejected with ErrNameTaken and
// nothing is changed.
func (e *Engine) SetIdentity(ctx context.Context, id domain.Identity) error {
	name, err := domain.NormalizeName(id.DisplayName)
	if err != nil {
		return err
	}
	userID := strings.TrimSpace(id.UserID)

	e.opMu.Lock()
	defer e.opMu.Unlock()

	session := e.Session()
	if name == session.PlayerName && userID == session.UserID {
		return nil
	}

	oldOwner := session.Owner()
	newOwner := domain.Identity{UserID: userID, DisplayName: name}.Owner()

	if e.remote != nil && name != "" && name != session.PlayerName {
		err := withRetry(ctx, e.retrier, e.config.RemoteTimeout, func(ctx context.Context) error {
			return e.remote.ClaimName(ctx, session.SessionID, name, session.PlayerName)
		})
		switch {
		case errors.Is(err, domain.ErrNameTaken):
			e.advise(nil, domain.AdvisoryNameTaken, fmt.Sprintf("The name %q is already taken", name), err)
			return fmt.Errorf("claiming %q: %w", name, err)
		case err != nil:
			e.advise(nil, domain.AdvisoryRemoteWrite, "Could not reserve your name online", err)
		}
	}

	if userID != session.UserID {
		if err := e.local.SetUserID(ctx, userID); err != nil {
			e.advise(nil, domain.AdvisoryLocalStorage, "Could not save your account on this device", err)
		}
	}
	if name != session.PlayerName {
		n, err := e.local.RelabelAll(ctx, name)
		if err != nil {
			e.advise(nil, domain.AdvisoryLocalStorage, "Could not update your scores on this device", err)
		}
		e.logger.Info("relabeled local scores", "player_name", name, "count", n)
	}

	e.mu.Lock()
	e.session.PlayerName = name
	e.session.UserID = userID
	e.mu.Unlock()

	if e.remote == nil || newOwner == "" {
		return nil
	}

	if oldOwner != "" && oldOwner != newOwner {
		var moved int64
		err := withRetry(ctx, e.retrier, e.config.RemoteTimeout, func(ctx context.Context) error {
			var err error
			moved, err = e.remote.RenameOwner(ctx, session.SessionID, oldOwner, newOwner)
			return err
		})
		if err != nil {
			e.advise(nil, domain.AdvisoryRemoteWrite, "Could not move your online scores to the new name", err)
		} else {
			e.logger.Info("renamed remote owner", "from", oldOwner, "to", newOwner, "count", moved)
		}
	}

	if _, err := e.syncPending(ctx); err != nil {
		e.advise(nil, domain.AdvisoryRemoteWrite, "Some scores could not be saved online yet", err)
	}

	for _, mode := range domain.AllGameModes {
		e.refresh(ctx, mode)
	}
	return nil
}

// SyncPending replays local records that never reached the remote ledger.
// Returns the number of records written.
func (e *Engine) SyncPending(ctx context.Context) (int, error) {
	e.opMu.Lock()
	defer e.opMu.Unlock()

	n, err := e.syncPending(ctx)
	if n > 0 {
		for _, mode := range domain.AllGameModes {
			e.refresh(ctx, mode)
		}
	}
	return n, err
}

func (e *Engine) syncPending(ctx context.Context) (int, error) {
	if e.remote == nil {
		return 0, domain.ErrRemoteDisabled
	}
	session := e.Session()
	if session.Owner() == "" {
		return 0, domain.ErrNoIdentity
	}

	pending, err := e.local.Unsynced(ctx, session.SessionID)
	if err != nil {
		return 0, fmt.Errorf("listing unsynced scores: %w", err)
	}

	synced := 0
	for _, rec := range pending {
		rec.SessionID = session.SessionID
		rec.PlayerName = session.PlayerName
		rec.UserID = session.UserID

		err := withRetry(ctx, e.retrier, e.config.RemoteTimeout, func(ctx context.Context) error {
			return e.remote.Insert(ctx, rec)
		})
		if err != nil {
			return synced, fmt.Errorf("replaying score %s: %w", rec.ID, err)
		}
		if err := e.local.MarkSynced(ctx, rec.GameMode, rec.ID); err != nil {
			e.logger.Warn("failed to mark score synced", "id", rec.ID, "error", err)
		}
		synced++
	}

	if synced > 0 {
		e.logger.Info("replayed local scores", "count", synced, "owner", session.Owner())
	}
	return synced, nil
}

// FetchLeaderboards computes the global and personal views of a mode.
// A failing remote degrades the global view to empty with status
// unavailable; the personal view still resolves from the device.
func (e *Engine) FetchLeaderboards(ctx context.Context, mode domain.GameMode) (domain.Leaderboards, error) {
	if !mode.Valid() {
		return domain.Leaderboards{}, domain.ErrInvalidGameMode
	}

	v, err, _ := e.views.Do(string(mode), func() (any, error) {
		return e.fetch(ctx, mode), nil
	})
	if err != nil {
		return domain.Leaderboards{}, err
	}
	return v.(domain.Leaderboards), nil
}

func (e *Engine) fetch(ctx context.Context, mode domain.GameMode) domain.Leaderboards {
	session := e.Session()
	boards := domain.Leaderboards{
		GameMode:     mode,
		Global:       []domain.ScoreRecord{},
		GlobalStatus: domain.ViewStatusLocalOnly,
		FetchedAt:    e.now().UTC(),
	}

	// each view degrades on its own, so no goroutine reports an error.
	// Advisories are collected per view and delivered after both finish.
	var g errgroup.Group
	var globalAdvisories, personalAdvisories []domain.Advisory

	g.Go(func() error {
		if e.remote == nil {
			return nil
		}
		readCtx, cancel := e.readContext(ctx)
		defer cancel()

		top, err := e.remote.TopByTime(readCtx, mode, e.config.GlobalLimit)
		if err != nil {
			boards.GlobalStatus = domain.ViewStatusUnavailable
			boards.GlobalError = err.Error()
			globalAdvisories = append(globalAdvisories, domain.Advisory{
				Kind: domain.AdvisoryRemoteRead, Message: "Could not load the global leaderboard", Err: err,
			})
			return nil
		}
		boards.Global = domain.TopN(e.config.GlobalLimit, top)
		boards.GlobalStatus = domain.ViewStatusReady
		return nil
	})

	var personal []domain.ScoreRecord
	g.Go(func() error {
		var own []domain.ScoreRecord
		if owner := session.Owner(); e.remote != nil && owner != "" {
			readCtx, cancel := e.readContext(ctx)
			defer cancel()

			records, err := e.remote.ListByOwner(readCtx, mode, owner, e.config.PersonalLimit)
			if err != nil {
				personalAdvisories = append(personalAdvisories, domain.Advisory{
					Kind: domain.AdvisoryRemoteRead, Message: "Could not load your online scores", Err: err,
				})
			} else {
				own = records
			}
		}

		local, err := e.local.ListForSession(ctx, mode, session.SessionID)
		if err != nil {
			personalAdvisories = append(personalAdvisories, domain.Advisory{
				Kind: domain.AdvisoryLocalStorage, Message: "Could not read scores on this device", Err: err,
			})
		}

		personal = domain.RankTop(e.config.PersonalLimit, own, local)
		return nil
	})

	_ = g.Wait()
	for _, adv := range append(globalAdvisories, personalAdvisories...) {
		e.advise(nil, adv.Kind, adv.Message, adv.Err)
	}
	boards.Personal = personal
	return boards
}

// Clear wipes every local record and starts a fresh anonymous session.
// Returns the new session id.
func (e *Engine) Clear(ctx context.Context) (string, error) {
	e.opMu.Lock()
	defer e.opMu.Unlock()

	sessionID, err := e.local.Clear(ctx)
	if err != nil {
		return "", fmt.Errorf("clearing local data: %w", err)
	}

	e.mu.Lock()
	*e.session = domain.SessionContext{SessionID: sessionID}
	e.mu.Unlock()

	e.recent = make(map[string]recentSubmit)
	return sessionID, nil
}

func (e *Engine) refresh(ctx context.Context, mode domain.GameMode) {
	if e.onRefresh == nil {
		return
	}
	boards, err := e.FetchLeaderboards(ctx, mode)
	if err != nil {
		e.logger.Warn("failed to refresh leaderboards", "game_mode", mode, "error", err)
		return
	}
	e.onRefresh(boards)
}

func (e *Engine) readContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.config.RemoteTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.config.RemoteTimeout)
}

func (e *Engine) pruneRecent(now time.Time) {
	for key, prev := range e.recent {
		if now.Sub(prev.at) >= e.config.DedupWindow {
			delete(e.recent, key)
		}
	}
}

// advise hands an advisory to the notifier and appends it to list if given
func (e *Engine) advise(list *[]domain.Advisory, kind domain.AdvisoryKind, message string, err error) {
	adv := domain.Advisory{Kind: kind, Message: message, Err: err}
	if list != nil {
		*list = append(*list, adv)
	}
	e.notifyMu.Lock()
	defer e.notifyMu.Unlock()
	if e.notifier != nil {
		e.notifier.Notify(adv)
	}
}
