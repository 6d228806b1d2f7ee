package app

import (
	"context"
	"errors"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"trivia-board-service/internal/broadcast"
	"trivia-board-service/internal/domain"
)

const joinAttempts = 3

// Options configures sessions created by the GameService.
type Options struct {
	InstanceID     string
	Wager          WagerPolicy
	Timestamps     TimestampSource
	Retry          RetryPolicy
	Clock          clockwork.Clock
	PersistTimeout time.Duration
}

// GameService contains the live game use cases. It resolves the caller's session and checks
// what the caller's role may do; the session owns the game rules.
type GameService struct {
	sessions   SessionRepository
	boards     BoardRepository
	store      GameStore
	ledger     Ledger
	channel    *broadcast.Channel
	reconciler *Reconciler
	opts       Options
}

func NewGameService(
	sessions SessionRepository,
	boards BoardRepository,
	store GameStore,
	ledger Ledger,
	channel *broadcast.Channel,
	reconciler *Reconciler,
	opts Options,
) *GameService {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	return &GameService{
		sessions:   sessions,
		boards:     boards,
		store:      store,
		ledger:     ledger,
		channel:    channel,
		reconciler: reconciler,
		opts:       opts,
	}
}

// Join registers a participant and returns the view for its role. The first participant of
// a game on this instance starts the session, which reconciles with the backend.
func (s *GameService) Join(ctx context.Context, gameID string, p domain.Participant) (domain.GameView, error) {
	switch p.Role {
	case domain.RoleHost:
		if p.HostID == "" {
			return domain.GameView{}, domain.ErrUnauthorized
		}
	case domain.RolePlayer, domain.RoleBoard:
	default:
		return domain.GameView{}, domain.Invalid("role", "unknown role %q", p.Role)
	}

	var view domain.GameView
	// A concurrent Leave may retire the session between lookup and join; the next lookup
	// creates a fresh one.
	for attempt := 1; ; attempt++ {
		session, err := s.open(ctx, gameID)
		if err == nil {
			if p.Role == domain.RolePlayer && p.TeamID != "" && !session.hasTeam(p.TeamID) {
				return domain.GameView{}, domain.ErrTeamNotFound
			}
			view, err = session.join(p)
		}
		if err == nil {
			break
		}
		if !errors.Is(err, domain.ErrSessionClosed) || attempt == joinAttempts {
			return domain.GameView{}, err
		}
		log.Debug().Str("game_id", gameID).Int("attempt", attempt).Msg("session closed while joining, retrying")
	}
	log.Info().
		Str("game_id", gameID).
		Str("client_id", p.ClientID).
		Str("role", string(p.Role)).
		Str("team_id", p.TeamID).
		Msg("participant joined")
	return view, nil
}

func (s *GameService) open(ctx context.Context, gameID string) (*Session, error) {
	// Unknown games cannot be joined; this also warms the board cache.
	board, err := s.boards.GetBoard(ctx, gameID)
	if err != nil {
		return nil, err
	}
	session := s.sessions.GetOrCreate(gameID, func() *Session {
		return NewSession(SessionConfig{
			GameID:         gameID,
			InstanceID:     s.opts.InstanceID,
			Board:          board,
			Channel:        s.channel,
			Ledger:         s.ledger,
			Store:          s.store,
			Reconciler:     s.reconciler,
			Wager:          s.opts.Wager,
			Timestamps:     s.opts.Timestamps,
			Retry:          s.opts.Retry,
			Clock:          s.opts.Clock,
			PersistTimeout: s.opts.PersistTimeout,
		})
	})
	if err := session.Start(ctx); err != nil {
		return nil, err
	}
	return session, nil
}

// Subscribe returns a channel that receives game views for role.
// The caller must invoke the returned cancel function to avoid leaks.
func (s *GameService) Subscribe(_ context.Context, gameID string, role domain.Role) (<-chan domain.GameView, func(), error) {
	session, ok := s.sessions.Get(gameID)
	if !ok {
		return nil, nil, domain.ErrSessionNotFound
	}
	ch, cancel := session.subscribe(role)
	return ch, cancel, nil
}

// Leave removes a participant and shuts the session down once nobody is left.
func (s *GameService) Leave(_ context.Context, gameID, clientID string) {
	session, ok := s.sessions.Get(gameID)
	if !ok {
		return
	}
	session.leave(clientID)
	if s.sessions.DeleteIfEmpty(gameID, session) {
		session.Close()
		log.Info().Str("game_id", gameID).Msg("game session closed")
	}
}

// View returns the current view of a live game.
func (s *GameService) View(_ context.Context, gameID string, role domain.Role) (domain.GameView, error) {
	session, ok := s.sessions.Get(gameID)
	if !ok {
		return domain.GameView{}, domain.ErrSessionNotFound
	}
	return session.View(role), nil
}

// Reconcile refreshes a live game from authoritative state.
func (s *GameService) Reconcile(ctx context.Context, gameID string) (domain.GameView, error) {
	session, ok := s.sessions.Get(gameID)
	if !ok {
		return domain.GameView{}, domain.ErrSessionNotFound
	}
	return session.Reconcile(ctx)
}

// ReconcileAll refreshes every live session, for example after broadcasts may have been missed.
func (s *GameService) ReconcileAll(ctx context.Context) {
	for _, session := range s.sessions.All() {
		if _, err := session.Reconcile(ctx); err != nil {
			log.Warn().Err(err).Str("game_id", session.ID()).Msg("reconcile after reconnect failed")
		}
	}
}

// Shutdown closes every session and waits for in-flight backend mutations.
func (s *GameService) Shutdown(ctx context.Context) error {
	sessions := s.sessions.All()
	for _, session := range sessions {
		session.Close()
	}
	done := make(chan struct{})
	go func() {
		for _, session := range sessions {
			session.Wait()
		}
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *GameService) session(gameID string) (*Session, error) {
	session, ok := s.sessions.Get(gameID)
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return session, nil
}

func requireHost(actor domain.Participant) error {
	if actor.Role != domain.RoleHost || actor.HostID == "" {
		return domain.ErrUnauthorized
	}
	return nil
}

// requireTeam lets hosts act for any team and players only for their own.
func requireTeam(actor domain.Participant, teamID string) error {
	switch actor.Role {
	case domain.RoleHost:
		return requireHost(actor)
	case domain.RolePlayer:
		if actor.TeamID != "" && actor.TeamID == teamID {
			return nil
		}
	}
	return domain.ErrUnauthorized
}

func (s *GameService) hostAction(gameID string, actor domain.Participant, fn func(*Session) error) error {
	if err := requireHost(actor); err != nil {
		return err
	}
	session, err := s.session(gameID)
	if err != nil {
		return err
	}
	return fn(session)
}

func (s *GameService) teamAction(gameID string, actor domain.Participant, teamID string, fn func(*Session) error) error {
	if err := requireTeam(actor, teamID); err != nil {
		return err
	}
	session, err := s.session(gameID)
	if err != nil {
		return err
	}
	return fn(session)
}

func (s *GameService) SelectQuestion(ctx context.Context, gameID string, actor domain.Participant, questionID string) error {
	return s.hostAction(gameID, actor, func(session *Session) error {
		return session.SelectQuestion(ctx, questionID)
	})
}

// Buzz buzzes in for teamID. Players may only buzz for their own team.
func (s *GameService) Buzz(ctx context.Context, gameID string, actor domain.Participant, teamID string, timestamp int64) error {
	if teamID == "" {
		teamID = actor.TeamID
	}
	return s.teamAction(gameID, actor, teamID, func(session *Session) error {
		return session.Buzz(ctx, teamID, timestamp)
	})
}

func (s *GameService) ClearBuzzers(ctx context.Context, gameID string, actor domain.Participant) error {
	return s.hostAction(gameID, actor, func(session *Session) error {
		return session.ClearBuzzers(ctx)
	})
}

func (s *GameService) ChooseTeam(ctx context.Context, gameID string, actor domain.Participant, teamID string) error {
	return s.hostAction(gameID, actor, func(session *Session) error {
		return session.ChooseTeam(ctx, teamID)
	})
}

func (s *GameService) SubmitWager(ctx context.Context, gameID string, actor domain.Participant, teamID string, amount int) error {
	if teamID == "" {
		teamID = actor.TeamID
	}
	return s.teamAction(gameID, actor, teamID, func(session *Session) error {
		return session.SubmitWager(ctx, teamID, amount)
	})
}

func (s *GameService) Judge(ctx context.Context, gameID string, actor domain.Participant, correct bool) error {
	return s.hostAction(gameID, actor, func(session *Session) error {
		return session.Judge(ctx, actor.HostID, correct)
	})
}

func (s *GameService) CloseQuestion(ctx context.Context, gameID string, actor domain.Participant) error {
	return s.hostAction(gameID, actor, func(session *Session) error {
		return session.CloseQuestion(ctx)
	})
}

func (s *GameService) OpenFinal(ctx context.Context, gameID string, actor domain.Participant, category string) error {
	return s.hostAction(gameID, actor, func(session *Session) error {
		return session.OpenFinal(ctx, category)
	})
}

func (s *GameService) SubmitFinalWager(ctx context.Context, gameID string, actor domain.Participant, teamID string, amount int) error {
	if teamID == "" {
		teamID = actor.TeamID
	}
	return s.teamAction(gameID, actor, teamID, func(session *Session) error {
		return session.SubmitFinalWager(ctx, teamID, amount)
	})
}

func (s *GameService) SubmitFinalAnswer(ctx context.Context, gameID string, actor domain.Participant, teamID, answer string) error {
	if teamID == "" {
		teamID = actor.TeamID
	}
	return s.teamAction(gameID, actor, teamID, func(session *Session) error {
		return session.SubmitFinalAnswer(ctx, teamID, answer)
	})
}

func (s *GameService) JudgeFinal(ctx context.Context, gameID string, actor domain.Participant, teamID string, correct bool) error {
	return s.hostAction(gameID, actor, func(session *Session) error {
		return session.JudgeFinal(ctx, actor.HostID, teamID, correct)
	})
}

// DismissWarning clears the surfaced backend warning for everyone.
func (s *GameService) DismissWarning(_ context.Context, gameID string, actor domain.Participant) error {
	return s.hostAction(gameID, actor, func(session *Session) error {
		session.DismissWarning()
		return nil
	})
}
