package app

import (
	"context"

	"github.com/rs/zerolog/log"

	"trivia-board-service/internal/broadcast"
	"trivia-board-service/internal/domain"
)

// Actions validate against the local projection, then publish. State changes only happen
// when the event comes back through the channel, for the sender as for everyone else.

func (s *Session) send(ctx context.Context, payload broadcast.Payload) error {
	env, err := s.channel.Send(ctx, s.id, s.instanceID, payload)
	if err != nil {
		log.Error().Err(err).Str("game_id", s.id).Str("event_type", string(payload.EventType())).Msg("broadcast failed")
		return domain.Transient("broadcast", err)
	}
	log.Debug().Str("game_id", s.id).Str("event_id", env.ID).Str("event_type", string(env.Type)).Msg("action sent")
	return nil
}

func (s *Session) lockOpen() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return domain.ErrSessionClosed
	}
	return nil
}

// SelectQuestion opens a question. It is marked used as soon as the selection is applied.
func (s *Session) SelectQuestion(ctx context.Context, questionID string) error {
	if err := s.lockOpen(); err != nil {
		return err
	}
	if _, ok := s.board.Question(questionID); !ok {
		s.mu.Unlock()
		return domain.ErrQuestionNotFound
	}
	switch {
	case s.used[questionID]:
		s.mu.Unlock()
		return domain.Invalid("questionId", "question %s was already played", questionID)
	case s.active != nil:
		s.mu.Unlock()
		return domain.Invalid("questionId", "question %s is still open", s.active.QuestionID)
	case s.finalOpen:
		s.mu.Unlock()
		return domain.Invalid("questionId", "the final round has started")
	}
	s.mu.Unlock()

	return s.send(ctx, broadcast.QuestionSelected{QuestionID: questionID})
}

// Buzz records a team's buzz-in on the open question. A team that already buzzed is a no-op.
// clientTimestamp is the unix-millisecond press time; it is ignored with server timestamps.
func (s *Session) Buzz(ctx context.Context, teamID string, clientTimestamp int64) error {
	if err := s.lockOpen(); err != nil {
		return err
	}
	active := s.active
	if active == nil {
		s.mu.Unlock()
		return domain.Invalid("questionId", "no question is open")
	}
	if _, ok := s.teams[teamID]; !ok {
		s.mu.Unlock()
		return domain.ErrTeamNotFound
	}
	if s.lockedOut[teamID] {
		s.mu.Unlock()
		return domain.Invalid("teamId", "team %s already answered this question", teamID)
	}
	if s.queue.Contains(teamID) {
		s.mu.Unlock()
		return nil
	}
	q, _ := s.board.Question(active.QuestionID)
	if q.Wagered && (s.explicitChoice || active.WagerSubmitted) {
		s.mu.Unlock()
		return domain.Invalid("teamId", "buzzers are locked for this question")
	}

	ts := clientTimestamp
	if s.timestamps == TimestampServer {
		ts = s.clock.Now().UnixMilli()
	}
	questionID := active.QuestionID
	s.mu.Unlock()

	if ts <= 0 {
		return domain.Invalid("timestamp", "must be a positive unix-millisecond time, got %d", ts)
	}
	return s.send(ctx, broadcast.Buzz{QuestionID: questionID, TeamID: teamID, Timestamp: ts})
}

// ClearBuzzers empties the queue of the open question.
func (s *Session) ClearBuzzers(ctx context.Context) error {
	questionID, err := s.activeQuestionID()
	if err != nil {
		return err
	}
	return s.send(ctx, broadcast.BuzzersCleared{QuestionID: questionID})
}

// ChooseTeam hands control of the open wagered question to teamID.
func (s *Session) ChooseTeam(ctx context.Context, teamID string) error {
	if err := s.lockOpen(); err != nil {
		return err
	}
	active := s.active
	if active == nil {
		s.mu.Unlock()
		return domain.Invalid("questionId", "no question is open")
	}
	if q, _ := s.board.Question(active.QuestionID); !q.Wagered {
		s.mu.Unlock()
		return domain.Invalid("questionId", "question %s is not wagered", active.QuestionID)
	}
	if active.WagerSubmitted {
		s.mu.Unlock()
		return domain.Invalid("teamId", "wager already submitted")
	}
	if _, ok := s.teams[teamID]; !ok {
		s.mu.Unlock()
		return domain.ErrTeamNotFound
	}
	questionID := active.QuestionID
	s.mu.Unlock()

	return s.send(ctx, broadcast.TeamChosen{QuestionID: questionID, TeamID: teamID})
}

// SubmitWager sets the controlling team's wager. Amounts outside the configured policy are
// rejected, never clamped.
func (s *Session) SubmitWager(ctx context.Context, teamID string, amount int) error {
	if err := s.lockOpen(); err != nil {
		return err
	}
	active := s.active
	if active == nil || active.Phase != domain.PhaseWagering {
		s.mu.Unlock()
		return domain.Invalid("wager", "no wager is expected")
	}
	if active.AnsweringTeam != teamID {
		s.mu.Unlock()
		return domain.Invalid("teamId", "team %s does not control this question", teamID)
	}
	team, ok := s.teams[teamID]
	if !ok {
		s.mu.Unlock()
		return domain.ErrTeamNotFound
	}
	if err := s.wager.Validate(team.Score, amount); err != nil {
		s.mu.Unlock()
		return err
	}
	questionID := active.QuestionID
	s.mu.Unlock()

	return s.send(ctx, broadcast.WagerSubmitted{QuestionID: questionID, TeamID: teamID, Amount: amount})
}

// Judge resolves the answering team's answer. hostID is forwarded to the ledger, which
// enforces that only the game's host may change scores.
func (s *Session) Judge(ctx context.Context, hostID string, correct bool) error {
	if err := s.lockOpen(); err != nil {
		return err
	}
	active := s.active
	if active == nil || active.Phase != domain.PhaseAnswering || active.AnsweringTeam == "" {
		s.mu.Unlock()
		return domain.Invalid("judgment", "no team is answering")
	}
	q, _ := s.board.Question(active.QuestionID)
	value := q.Value
	if q.Wagered {
		value = active.Wager
	}
	judgment := domain.JudgmentFor(correct)
	delta := value
	if !correct {
		delta = -value
	}
	key := domain.ScoreKey{QuestionID: q.ID, TeamID: active.AnsweringTeam, Judgment: judgment}
	if s.applied[key] {
		s.mu.Unlock()
		return domain.Invalid("judgment", "answer already judged")
	}
	s.pendingHosts[key] = hostID
	s.mu.Unlock()

	err := s.send(ctx, broadcast.AnswerJudged{
		QuestionID: key.QuestionID,
		TeamID:     key.TeamID,
		Judgment:   judgment,
		Delta:      delta,
	})
	if err != nil {
		s.mu.Lock()
		delete(s.pendingHosts, key)
		s.mu.Unlock()
	}
	return err
}

// CloseQuestion closes the open question without a judgment.
func (s *Session) CloseQuestion(ctx context.Context) error {
	questionID, err := s.activeQuestionID()
	if err != nil {
		return err
	}
	return s.send(ctx, broadcast.QuestionClosed{QuestionID: questionID})
}

func (s *Session) activeQuestionID() (string, error) {
	if err := s.lockOpen(); err != nil {
		return "", err
	}
	defer s.mu.Unlock()
	if s.active == nil {
		return "", domain.Invalid("questionId", "no question is open")
	}
	return s.active.QuestionID, nil
}
