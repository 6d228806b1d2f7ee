package app

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"trivia-board-service/internal/domain"
)

// Projection is the locally derived game state that reconciliation replaces.
type Projection struct {
	Used           map[string]bool
	Active         *domain.ActiveQuestionState
	Queue          []domain.BuzzEntry
	LockedOut      map[string]bool
	ExplicitChoice bool
	Teams          []domain.Team
	FinalOpen      bool
	// Settled holds score keys whose deltas are already part of Teams' scores.
	Settled map[domain.ScoreKey]bool
	// Unsettled holds deltas added locally for keys the backend had not yet reported.
	Unsettled map[domain.ScoreKey]int
}

// Reconcile derives the next projection from authoritative state. Authoritative data wins:
// teams and scores are taken as-is and the active question follows the persisted marker.
// Ephemeral buzz state survives only when the marker still names the locally open question.
// Used flags never revert, so the used set is the union of both sides. Score keys the backend
// already applied are settled: replaying their judgments must not add the delta again.
// A delta applied locally but not yet reported by the backend is added on top once; the next
// reconciliation trusts the backend alone.
func Reconcile(board domain.Board, auth domain.AuthoritativeState, local Projection) Projection {
	next := Projection{
		Used:      make(map[string]bool, len(local.Used)+len(auth.SelectedQuestions)),
		LockedOut: make(map[string]bool),
		Teams:     make([]domain.Team, 0, len(auth.Teams)),
		Settled:   make(map[domain.ScoreKey]bool, len(local.Settled)+len(auth.AppliedScores)),
		Unsettled: make(map[domain.ScoreKey]int),
	}
	for id := range local.Used {
		next.Used[id] = true
	}
	for key := range local.Settled {
		next.Settled[key] = true
	}
	for _, key := range auth.AppliedScores {
		next.Settled[key] = true
	}
	for _, id := range auth.SelectedQuestions {
		next.Used[id] = true
	}

	for _, t := range auth.Teams {
		team := t
		team.Final = copyFinal(t.Final)
		if team.Final.Wager != nil {
			next.FinalOpen = true
		}
		next.Teams = append(next.Teams, team)
	}
	for key, delta := range local.Unsettled {
		if next.Settled[key] {
			continue
		}
		for i := range next.Teams {
			if next.Teams[i].ID == key.TeamID {
				next.Teams[i].Score += delta
				next.Settled[key] = true
			}
		}
	}
	next.FinalOpen = next.FinalOpen || local.FinalOpen

	marker := auth.ActiveQuestionID
	if marker == "" {
		return next
	}
	if _, ok := board.Question(marker); !ok {
		return next
	}
	next.Used[marker] = true

	if local.Active != nil && local.Active.QuestionID == marker {
		active := *local.Active
		next.Active = &active
		next.Queue = append([]domain.BuzzEntry(nil), local.Queue...)
		for id := range local.LockedOut {
			next.LockedOut[id] = true
		}
		next.ExplicitChoice = local.ExplicitChoice
		return next
	}
	next.Active = &domain.ActiveQuestionState{QuestionID: marker, Phase: domain.PhaseOpened}
	return next
}

// Reconciler fetches authoritative game state, retrying transient failures.
// Concurrent fetches for the same game share one backend read.
type Reconciler struct {
	store  GameStore
	scores ScoreReader
	retry  RetryPolicy
	sf     singleflight.Group
}

// NewReconciler builds a Reconciler. scores may be nil when the store already carries scores.
func NewReconciler(store GameStore, scores ScoreReader, retry RetryPolicy) *Reconciler {
	return &Reconciler{store: store, scores: scores, retry: retry}
}

// Fetch reads the authoritative state of a game.
func (r *Reconciler) Fetch(ctx context.Context, gameID string) (domain.AuthoritativeState, error) {
	result, err, _ := r.sf.Do(gameID, func() (interface{}, error) {
		var state domain.AuthoritativeState
		err := r.retry.retry(ctx, "snapshot", func() error {
			snap, err := r.store.Snapshot(ctx, gameID)
			if err != nil {
				return err
			}
			if r.scores != nil {
				sheet, err := r.scores.Scores(ctx, gameID)
				if err != nil {
					return err
				}
				for i := range snap.Teams {
					if score, ok := sheet.Scores[snap.Teams[i].ID]; ok {
						snap.Teams[i].Score = score
					}
				}
				snap.AppliedScores = sheet.Applied
			}
			state = snap
			return nil
		})
		return state, err
	})
	if err != nil {
		return domain.AuthoritativeState{}, err
	}
	return result.(domain.AuthoritativeState), nil
}

// Reconcile replaces the local projection with authoritative state. Events arriving while the
// fetch is pending are buffered and replayed on top of the result. When the fetch fails the
// last-known state is kept and marked stale.
func (s *Session) Reconcile(ctx context.Context) (domain.GameView, error) {
	if s.reconciler == nil {
		return domain.GameView{}, fmt.Errorf("reconcile %s: no reconciler configured", s.id)
	}
	if err := s.lockOpen(); err != nil {
		return domain.GameView{}, err
	}
	s.reconciling++
	s.mu.Unlock()

	auth, err := s.reconciler.Fetch(ctx, s.id)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.reconciling--

	if err != nil {
		log.Warn().Err(err).Str("game_id", s.id).Msg("reconciliation fetch failed")
		s.stale = true
		s.warning = fmt.Sprintf("could not refresh game state: %v", err)
	} else {
		s.restoreLocked(Reconcile(s.board, auth, s.projectionLocked()))
		s.stale = false
		s.warning = ""
		log.Info().
			Str("game_id", s.id).
			Int("used_questions", len(s.used)).
			Str("active_question_id", auth.ActiveQuestionID).
			Msg("game state reconciled")
	}

	if s.reconciling == 0 && !s.closed {
		buffered := s.buffered
		s.buffered = nil
		for _, ev := range buffered {
			s.applyLocked(ev)
		}
	}
	if s.closed {
		return s.snapshotLocked(domain.RoleHost), domain.ErrSessionClosed
	}
	s.broadcastLocked()
	return s.snapshotLocked(domain.RoleHost), err
}

func (s *Session) projectionLocked() Projection {
	p := Projection{
		Used:           s.used,
		Queue:          s.queue.Entries(),
		LockedOut:      s.lockedOut,
		ExplicitChoice: s.explicitChoice,
		FinalOpen:      s.finalOpen,
		Settled:        s.settled,
		Unsettled:      s.unsettled,
	}
	if s.active != nil {
		active := *s.active
		p.Active = &active
	}
	return p
}

func (s *Session) restoreLocked(p Projection) {
	s.used = p.Used
	s.active = p.Active
	s.queue.Replace(p.Queue)
	s.lockedOut = p.LockedOut
	s.explicitChoice = p.ExplicitChoice
	s.finalOpen = p.FinalOpen
	if p.Settled != nil {
		s.settled = p.Settled
	}
	if p.Unsettled != nil {
		s.unsettled = p.Unsettled
	}

	teams := make(map[string]*domain.Team, len(p.Teams))
	for _, t := range p.Teams {
		team := t
		teams[t.ID] = &team
	}
	s.teams = teams
}
