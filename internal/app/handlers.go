package app

import (
	"context"

	"github.com/rs/zerolog/log"

	"trivia-board-service/internal/broadcast"
	"trivia-board-service/internal/domain"
)

// applyLocked runs one inbound event against the projection and reports whether anything
// changed. Every handler tolerates duplicates and events that arrive out of order across types.
func (s *Session) applyLocked(ev broadcast.Event) bool {
	switch p := ev.Body.(type) {
	case broadcast.QuestionSelected:
		return s.onQuestionSelected(ev.Envelope, p)
	case broadcast.Buzz:
		return s.onBuzz(p)
	case broadcast.BuzzersCleared:
		return s.onBuzzersCleared(p)
	case broadcast.TeamChosen:
		return s.onTeamChosen(p)
	case broadcast.WagerSubmitted:
		return s.onWager(p)
	case broadcast.AnswerJudged:
		return s.onAnswerJudged(ev.Envelope, p)
	case broadcast.QuestionClosed:
		return s.onQuestionClosed(ev.Envelope, p)
	case broadcast.FinalOpened:
		return s.onFinalOpened(p)
	case broadcast.FinalWager:
		return s.onFinalWager(ev.Envelope, p)
	case broadcast.FinalAnswer:
		return s.onFinalAnswer(ev.Envelope, p)
	case broadcast.FinalJudged:
		return s.onFinalJudged(ev.Envelope, p)
	}
	return false
}

func (s *Session) onQuestionSelected(env broadcast.Envelope, p broadcast.QuestionSelected) bool {
	if _, ok := s.board.Question(p.QuestionID); !ok {
		log.Warn().Str("game_id", s.id).Str("question_id", p.QuestionID).Msg("selected question is not on the board")
		return false
	}
	if s.used[p.QuestionID] {
		return false
	}
	if s.active != nil {
		// Two hosts raced; the later selection wins and the earlier question stays used.
		log.Warn().Str("game_id", s.id).
			Str("open_question_id", s.active.QuestionID).
			Str("question_id", p.QuestionID).
			Msg("question selected while another was open")
	}

	s.used[p.QuestionID] = true
	s.resetQuestionLocked()
	s.active = &domain.ActiveQuestionState{QuestionID: p.QuestionID, Phase: domain.PhaseOpened}

	if s.local(env) {
		s.enqueuePersistLocked("mark_question_used", func(ctx context.Context) error {
			return s.store.MarkQuestionUsed(ctx, s.id, p.QuestionID)
		})
		s.enqueuePersistLocked("set_active_question", func(ctx context.Context) error {
			return s.store.SetActiveQuestion(ctx, s.id, p.QuestionID)
		})
	}
	return true
}

func (s *Session) onBuzz(p broadcast.Buzz) bool {
	if s.active == nil || s.active.QuestionID != p.QuestionID {
		return false
	}
	if _, ok := s.teams[p.TeamID]; !ok {
		log.Warn().Str("game_id", s.id).Str("team_id", p.TeamID).Msg("buzz from unknown team")
		return false
	}
	if s.lockedOut[p.TeamID] {
		return false
	}
	if !s.queue.Add(p.TeamID, p.Timestamp) {
		return false
	}

	q, _ := s.board.Question(p.QuestionID)
	head, _ := s.queue.PeekFirst()
	switch {
	case !q.Wagered:
		// The head may change when an earlier press arrives late; every client converges on it.
		s.active.Phase = domain.PhaseAnswering
		s.active.AnsweringTeam = head.TeamID
	case s.active.Phase == domain.PhaseOpened:
		s.active.Phase = domain.PhaseWagering
		s.active.AnsweringTeam = head.TeamID
	case s.active.Phase == domain.PhaseWagering && !s.explicitChoice && !s.active.WagerSubmitted:
		s.active.AnsweringTeam = head.TeamID
	}
	return true
}

func (s *Session) onBuzzersCleared(p broadcast.BuzzersCleared) bool {
	if s.active == nil || s.active.QuestionID != p.QuestionID {
		return false
	}
	s.queue.Clear()
	q, _ := s.board.Question(p.QuestionID)
	if !q.Wagered || (!s.explicitChoice && !s.active.WagerSubmitted) {
		s.active.Phase = domain.PhaseOpened
		s.active.AnsweringTeam = ""
	}
	return true
}

func (s *Session) onTeamChosen(p broadcast.TeamChosen) bool {
	if s.active == nil || s.active.QuestionID != p.QuestionID || s.active.WagerSubmitted {
		return false
	}
	if q, _ := s.board.Question(p.QuestionID); !q.Wagered {
		return false
	}
	if _, ok := s.teams[p.TeamID]; !ok {
		return false
	}
	if s.explicitChoice && s.active.AnsweringTeam == p.TeamID {
		return false
	}
	s.explicitChoice = true
	s.active.Phase = domain.PhaseWagering
	s.active.AnsweringTeam = p.TeamID
	return true
}

func (s *Session) onWager(p broadcast.WagerSubmitted) bool {
	a := s.active
	if a == nil || a.QuestionID != p.QuestionID || a.Phase != domain.PhaseWagering || a.WagerSubmitted {
		return false
	}
	if a.AnsweringTeam != p.TeamID {
		return false
	}
	a.Wager = p.Amount
	a.WagerSubmitted = true
	a.Phase = domain.PhaseAnswering
	return true
}

func (s *Session) onAnswerJudged(env broadcast.Envelope, p broadcast.AnswerJudged) bool {
	key := domain.ScoreKey{QuestionID: p.QuestionID, TeamID: p.TeamID, Judgment: p.Judgment}
	if s.applied[key] {
		return false
	}
	team, ok := s.teams[p.TeamID]
	if !ok {
		log.Warn().Str("game_id", s.id).Str("team_id", p.TeamID).Msg("judgment for unknown team")
		return false
	}
	if s.active != nil && s.active.QuestionID == p.QuestionID {
		if s.lockedOut[p.TeamID] || (s.active.AnsweringTeam != "" && s.active.AnsweringTeam != p.TeamID) {
			log.Warn().
				Str("game_id", s.id).
				Str("team_id", p.TeamID).
				Str("answering_team", s.active.AnsweringTeam).
				Msg("judgment for a team that is not answering")
			delete(s.pendingHosts, key)
			return false
		}
	}
	s.applied[key] = true
	s.addScoreLocked(key, team, p.Delta)
	s.lastResolution = &domain.Resolution{QuestionID: p.QuestionID, TeamID: p.TeamID, Judgment: p.Judgment, Delta: p.Delta}

	closed := false
	if s.active != nil && s.active.QuestionID == p.QuestionID {
		q, _ := s.board.Question(p.QuestionID)
		switch {
		case p.Judgment == domain.JudgmentCorrect, q.Wagered:
			s.closeActiveLocked()
			closed = true
		default:
			s.queue.Remove(p.TeamID)
			s.lockedOut[p.TeamID] = true
			if head, ok := s.queue.PeekFirst(); ok {
				s.active.Phase = domain.PhaseAnswering
				s.active.AnsweringTeam = head.TeamID
			} else {
				// Question stays on screen until another buzz or a manual close.
				s.active.Phase = domain.PhaseOpened
				s.active.AnsweringTeam = ""
			}
		}
	}

	if s.local(env) {
		hostID := s.pendingHosts[key]
		delete(s.pendingHosts, key)
		s.persistScoreLocked(domain.ScoreDelta{
			GameID: s.id,
			TeamID: p.TeamID,
			HostID: hostID,
			Delta:  p.Delta,
			Key:    key,
		})
		if closed {
			s.persistCloseLocked(p.QuestionID)
		}
	}
	return true
}

func (s *Session) onQuestionClosed(env broadcast.Envelope, p broadcast.QuestionClosed) bool {
	if s.active != nil && s.active.QuestionID == p.QuestionID {
		s.closeActiveLocked()
		if s.local(env) {
			s.persistCloseLocked(p.QuestionID)
		}
		return true
	}
	if _, ok := s.board.Question(p.QuestionID); ok && !s.used[p.QuestionID] {
		// Close overtook its selection; the question is still done.
		s.used[p.QuestionID] = true
		return true
	}
	return false
}

// closeActiveLocked returns to idle. The used flag is set before the pointer is cleared.
func (s *Session) closeActiveLocked() {
	if s.active == nil {
		return
	}
	s.used[s.active.QuestionID] = true
	s.active = nil
	s.resetQuestionLocked()
}

func (s *Session) resetQuestionLocked() {
	s.queue.Clear()
	s.explicitChoice = false
	for team := range s.lockedOut {
		delete(s.lockedOut, team)
	}
}

func (s *Session) persistCloseLocked(questionID string) {
	s.enqueuePersistLocked("mark_question_used", func(ctx context.Context) error {
		return s.store.MarkQuestionUsed(ctx, s.id, questionID)
	})
	s.enqueuePersistLocked("clear_active_question", func(ctx context.Context) error {
		return s.store.SetActiveQuestion(ctx, s.id, "")
	})
}

// addScoreLocked adds a judged delta unless the backend already counted it in the score
// restored by reconciliation.
func (s *Session) addScoreLocked(key domain.ScoreKey, team *domain.Team, delta int) {
	if s.settled[key] {
		return
	}
	team.Score += delta
	s.unsettled[key] = delta
}
