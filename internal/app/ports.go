package app

import (
	"context"

	"trivia-board-service/internal/domain"
)

// Ledger applies score deltas atomically on the backend. A second call with the same
// ScoreKey must not mutate again and returns the already-applied score.
type Ledger interface {
	ApplyScoreDelta(ctx context.Context, delta domain.ScoreDelta) (domain.ScoreResult, error)
}

// GameStore is the persisted key-value surface for mutable game state.
type GameStore interface {
	Snapshot(ctx context.Context, gameID string) (domain.AuthoritativeState, error)
	MarkQuestionUsed(ctx context.Context, gameID, questionID string) error
	// SetActiveQuestion stores the open question marker; an empty id clears it.
	SetActiveQuestion(ctx context.Context, gameID, questionID string) error
	UpdateFinal(ctx context.Context, gameID, teamID string, entry domain.FinalEntry) error
}

// ScoreReader overrides team scores during reconciliation when scores live outside the
// GameStore (for example in the redis ledger).
type ScoreReader interface {
	Scores(ctx context.Context, gameID string) (domain.ScoreSheet, error)
}

// BoardRepository loads immutable board content (from cache/backing store).
type BoardRepository interface {
	GetBoard(ctx context.Context, gameID string) (domain.Board, error)
}

// SessionRepository abstracts where live sessions are registered (in-memory, Redis, etc).
type SessionRepository interface {
	GetOrCreate(gameID string, create func() *Session) *Session
	Get(gameID string) (*Session, bool)
	// DeleteIfEmpty drops session when it is still the one registered for gameID and nobody
	// is connected. It reports whether it did.
	DeleteIfEmpty(gameID string, session *Session) bool
	All() []*Session
}
