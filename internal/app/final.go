package app

import (
	"context"

	"trivia-board-service/internal/broadcast"
	"trivia-board-service/internal/domain"
)

// OpenFinal starts the final round. No grid question may be open.
func (s *Session) OpenFinal(ctx context.Context, category string) error {
	if err := s.lockOpen(); err != nil {
		return err
	}
	switch {
	case s.active != nil:
		s.mu.Unlock()
		return domain.Invalid("final", "close question %s first", s.active.QuestionID)
	case s.finalOpen:
		s.mu.Unlock()
		return domain.Invalid("final", "the final round is already open")
	}
	s.mu.Unlock()
	return s.send(ctx, broadcast.FinalOpened{Category: category})
}

// SubmitFinalWager records a team's final wager, between zero and its current score.
func (s *Session) SubmitFinalWager(ctx context.Context, teamID string, amount int) error {
	if err := s.lockOpen(); err != nil {
		return err
	}
	team, err := s.finalTeamLocked(teamID)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if team.Final.Wager != nil {
		s.mu.Unlock()
		return domain.Invalid("wager", "team %s already wagered", teamID)
	}
	if err := validateFinalWager(team.Score, amount); err != nil {
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()
	return s.send(ctx, broadcast.FinalWager{TeamID: teamID, Amount: amount})
}

// SubmitFinalAnswer records a team's final answer. The first submission is kept.
func (s *Session) SubmitFinalAnswer(ctx context.Context, teamID, answer string) error {
	if err := s.lockOpen(); err != nil {
		return err
	}
	team, err := s.finalTeamLocked(teamID)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	switch {
	case team.Final.Wager == nil:
		s.mu.Unlock()
		return domain.Invalid("answer", "team %s has not wagered", teamID)
	case team.Final.SubmittedAt != nil:
		s.mu.Unlock()
		return domain.Invalid("answer", "team %s already answered", teamID)
	}
	submittedAt := s.clock.Now().UTC()
	s.mu.Unlock()
	return s.send(ctx, broadcast.FinalAnswer{TeamID: teamID, Answer: answer, SubmittedAt: submittedAt})
}

// JudgeFinal resolves a team's final answer for plus or minus its wager.
func (s *Session) JudgeFinal(ctx context.Context, hostID, teamID string, correct bool) error {
	if err := s.lockOpen(); err != nil {
		return err
	}
	team, err := s.finalTeamLocked(teamID)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	switch {
	case team.Final.Wager == nil:
		s.mu.Unlock()
		return domain.Invalid("judgment", "team %s has not wagered", teamID)
	case team.Final.Judgment != "":
		s.mu.Unlock()
		return domain.Invalid("judgment", "team %s was already judged", teamID)
	}
	judgment := domain.JudgmentFor(correct)
	delta := *team.Final.Wager
	if !correct {
		delta = -delta
	}
	key := domain.ScoreKey{QuestionID: domain.FinalQuestionID, TeamID: teamID, Judgment: judgment}
	s.pendingHosts[key] = hostID
	s.mu.Unlock()

	err = s.send(ctx, broadcast.FinalJudged{TeamID: teamID, Judgment: judgment, Delta: delta})
	if err != nil {
		s.mu.Lock()
		delete(s.pendingHosts, key)
		s.mu.Unlock()
	}
	return err
}

func (s *Session) finalTeamLocked(teamID string) (*domain.Team, error) {
	if !s.finalOpen {
		return nil, domain.Invalid("final", "the final round is not open")
	}
	team, ok := s.teams[teamID]
	if !ok {
		return nil, domain.ErrTeamNotFound
	}
	return team, nil
}

func (s *Session) onFinalOpened(broadcast.FinalOpened) bool {
	if s.finalOpen {
		return false
	}
	s.finalOpen = true
	return true
}

func (s *Session) onFinalWager(env broadcast.Envelope, p broadcast.FinalWager) bool {
	team, ok := s.teams[p.TeamID]
	if !ok || team.Final.Wager != nil {
		return false
	}
	// A wager proves the round is open even if the opening event has not arrived yet.
	s.finalOpen = true
	amount := p.Amount
	team.Final.Wager = &amount
	s.persistFinalLocked(env, team)
	return true
}

func (s *Session) onFinalAnswer(env broadcast.Envelope, p broadcast.FinalAnswer) bool {
	team, ok := s.teams[p.TeamID]
	if !ok || team.Final.SubmittedAt != nil {
		return false
	}
	s.finalOpen = true
	at := p.SubmittedAt
	team.Final.Answer = p.Answer
	team.Final.SubmittedAt = &at
	s.persistFinalLocked(env, team)
	return true
}

func (s *Session) onFinalJudged(env broadcast.Envelope, p broadcast.FinalJudged) bool {
	key := domain.ScoreKey{QuestionID: domain.FinalQuestionID, TeamID: p.TeamID, Judgment: p.Judgment}
	if s.applied[key] {
		return false
	}
	team, ok := s.teams[p.TeamID]
	// A restored judgment without a settled score is the same verdict arriving late.
	if !ok || (team.Final.Judgment != "" && team.Final.Judgment != p.Judgment) {
		return false
	}
	if team.Final.Judgment != "" && s.settled[key] {
		s.applied[key] = true
		return false
	}
	s.applied[key] = true
	s.finalOpen = true
	s.addScoreLocked(key, team, p.Delta)
	team.Final.Judgment = p.Judgment
	s.lastResolution = &domain.Resolution{QuestionID: domain.FinalQuestionID, TeamID: p.TeamID, Judgment: p.Judgment, Delta: p.Delta}

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
	}
	s.persistFinalLocked(env, team)
	return true
}

func (s *Session) persistFinalLocked(env broadcast.Envelope, team *domain.Team) {
	if !s.local(env) {
		return
	}
	teamID := team.ID
	entry := copyFinal(team.Final)
	s.enqueuePersistLocked("update_final", func(ctx context.Context) error {
		return s.store.UpdateFinal(ctx, s.id, teamID, entry)
	})
}

func copyFinal(e domain.FinalEntry) domain.FinalEntry {
	out := domain.FinalEntry{Answer: e.Answer, Judgment: e.Judgment}
	if e.Wager != nil {
		w := *e.Wager
		out.Wager = &w
	}
	if e.SubmittedAt != nil {
		at := *e.SubmittedAt
		out.SubmittedAt = &at
	}
	return out
}
