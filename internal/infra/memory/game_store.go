package memory

import (
	"context"
	"sync"

	"trivia-board-service/internal/domain"
)

// GameStore keeps persisted game state in process memory. It implements app.GameStore,
// app.Ledger and app.ScoreReader for single-instance deployments and tests.
type GameStore struct {
	mu    sync.Mutex
	games map[string]*gameRecord
}

type gameRecord struct {
	hostID   string
	selected []string
	active   string
	teams    []domain.Team
	applied  map[domain.ScoreKey]bool
}

func NewGameStore() *GameStore {
	return &GameStore{games: make(map[string]*gameRecord)}
}

// Seed creates or replaces a game record.
func (s *GameStore) Seed(state domain.AuthoritativeState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := &gameRecord{
		hostID:   state.HostID,
		selected: append([]string(nil), state.SelectedQuestions...),
		active:   state.ActiveQuestionID,
		teams:    make([]domain.Team, len(state.Teams)),
		applied:  make(map[domain.ScoreKey]bool),
	}
	copy(rec.teams, state.Teams)
	for _, key := range state.AppliedScores {
		rec.applied[key] = true
	}
	s.games[state.GameID] = rec
}

func (s *GameStore) Snapshot(_ context.Context, gameID string) (domain.AuthoritativeState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.games[gameID]
	if !ok {
		return domain.AuthoritativeState{}, domain.ErrGameNotFound
	}
	state := domain.AuthoritativeState{
		GameID:            gameID,
		HostID:            rec.hostID,
		SelectedQuestions: append([]string(nil), rec.selected...),
		ActiveQuestionID:  rec.active,
		Teams:             make([]domain.Team, len(rec.teams)),
		AppliedScores:     rec.appliedKeys(),
	}
	copy(state.Teams, rec.teams)
	return state, nil
}

func (s *GameStore) MarkQuestionUsed(_ context.Context, gameID, questionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.games[gameID]
	if !ok {
		return domain.ErrGameNotFound
	}
	for _, id := range rec.selected {
		if id == questionID {
			return nil
		}
	}
	rec.selected = append(rec.selected, questionID)
	return nil
}

func (s *GameStore) SetActiveQuestion(_ context.Context, gameID, questionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.games[gameID]
	if !ok {
		return domain.ErrGameNotFound
	}
	rec.active = questionID
	return nil
}

func (s *GameStore) UpdateFinal(_ context.Context, gameID, teamID string, entry domain.FinalEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	team, err := s.teamLocked(gameID, teamID)
	if err != nil {
		return err
	}
	team.Final = entry
	return nil
}

// ApplyScoreDelta increments the team score once per score key; a repeated key returns the
// current score unchanged. Only the game's host may change scores.
func (s *GameStore) ApplyScoreDelta(_ context.Context, delta domain.ScoreDelta) (domain.ScoreResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.games[delta.GameID]
	if !ok {
		return domain.ScoreResult{}, domain.ErrGameNotFound
	}
	if rec.hostID != "" && rec.hostID != delta.HostID {
		return domain.ScoreResult{}, domain.ErrUnauthorized
	}
	team, err := s.teamLocked(delta.GameID, delta.TeamID)
	if err != nil {
		return domain.ScoreResult{}, err
	}
	if rec.applied[delta.Key] {
		return domain.ScoreResult{TeamID: team.ID, NewScore: team.Score}, nil
	}
	team.Score += delta.Delta
	rec.applied[delta.Key] = true
	return domain.ScoreResult{TeamID: team.ID, NewScore: team.Score, Applied: true}, nil
}

func (s *GameStore) Scores(_ context.Context, gameID string) (domain.ScoreSheet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.games[gameID]
	if !ok {
		return domain.ScoreSheet{}, domain.ErrGameNotFound
	}
	sheet := domain.ScoreSheet{Scores: make(map[string]int, len(rec.teams)), Applied: rec.appliedKeys()}
	for _, t := range rec.teams {
		sheet.Scores[t.ID] = t.Score
	}
	return sheet, nil
}

func (r *gameRecord) appliedKeys() []domain.ScoreKey {
	keys := make([]domain.ScoreKey, 0, len(r.applied))
	for key := range r.applied {
		keys = append(keys, key)
	}
	return keys
}

func (s *GameStore) teamLocked(gameID, teamID string) (*domain.Team, error) {
	rec, ok := s.games[gameID]
	if !ok {
		return nil, domain.ErrGameNotFound
	}
	for i := range rec.teams {
		if rec.teams[i].ID == teamID {
			return &rec.teams[i], nil
		}
	}
	return nil, domain.ErrTeamNotFound
}
