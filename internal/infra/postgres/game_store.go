package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"trivia-board-service/internal/domain"
)

// GameStore persists game state in the games and teams tables. It implements app.GameStore
// and app.Ledger; scores are applied by the apply_score_delta function.
type GameStore struct {
	pool *pgxpool.Pool
}

func NewGameStore(pool *pgxpool.Pool) *GameStore {
	return &GameStore{pool: pool}
}

// Snapshot reads the game inside one repeatable-read transaction, so team scores and the
// score events behind them come from the same point in time.
func (s *GameStore) Snapshot(ctx context.Context, gameID string) (domain.AuthoritativeState, error) {
	state := domain.AuthoritativeState{GameID: gameID}
	opts := pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}
	err := s.pool.BeginTxFunc(ctx, opts, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			SELECT host_id, selected_questions, COALESCE(active_question_id, '')
			FROM games WHERE id = $1`, gameID).
			Scan(&state.HostID, &state.SelectedQuestions, &state.ActiveQuestionID)
		if err != nil {
			return err
		}
		if state.Teams, err = snapshotTeams(ctx, tx, gameID); err != nil {
			return err
		}
		state.AppliedScores, err = snapshotScoreKeys(ctx, tx, gameID)
		return err
	})
	if err != nil {
		return domain.AuthoritativeState{}, classify("snapshot", err)
	}
	return state, nil
}

func snapshotTeams(ctx context.Context, tx pgx.Tx, gameID string) ([]domain.Team, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, name, score, wager, answer, submitted_at, judgment
		FROM teams WHERE game_id = $1 ORDER BY id`, gameID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var teams []domain.Team
	for rows.Next() {
		var (
			team        domain.Team
			wager       *int32
			answer      *string
			submittedAt *time.Time
			judgment    *string
		)
		if err := rows.Scan(&team.ID, &team.Name, &team.Score, &wager, &answer, &submittedAt, &judgment); err != nil {
			return nil, fmt.Errorf("scan team: %w", err)
		}
		if wager != nil {
			w := int(*wager)
			team.Final.Wager = &w
		}
		if answer != nil {
			team.Final.Answer = *answer
		}
		team.Final.SubmittedAt = submittedAt
		if judgment != nil {
			team.Final.Judgment = domain.Judgment(*judgment)
		}
		teams = append(teams, team)
	}
	return teams, rows.Err()
}

func snapshotScoreKeys(ctx context.Context, tx pgx.Tx, gameID string) ([]domain.ScoreKey, error) {
	rows, err := tx.Query(ctx, `SELECT score_key FROM score_events WHERE game_id = $1`, gameID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []domain.ScoreKey
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan score key: %w", err)
		}
		if key, ok := domain.ParseScoreKey(raw); ok {
			keys = append(keys, key)
		}
	}
	return keys, rows.Err()
}

// MarkQuestionUsed appends to selected_questions unless the id is already there.
func (s *GameStore) MarkQuestionUsed(ctx context.Context, gameID, questionID string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE games SET selected_questions = array_append(selected_questions, $2)
		WHERE id = $1 AND NOT ($2 = ANY (selected_questions))`, gameID, questionID)
	if err != nil {
		return classify("mark question used", err)
	}
	if tag.RowsAffected() == 0 {
		return s.ensureGame(ctx, gameID)
	}
	return nil
}

func (s *GameStore) SetActiveQuestion(ctx context.Context, gameID, questionID string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE games SET active_question_id = NULLIF($2, '') WHERE id = $1`, gameID, questionID)
	if err != nil {
		return classify("set active question", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrGameNotFound
	}
	return nil
}

func (s *GameStore) UpdateFinal(ctx context.Context, gameID, teamID string, entry domain.FinalEntry) error {
	var judgment *string
	if entry.Judgment != "" {
		j := string(entry.Judgment)
		judgment = &j
	}
	var answer *string
	if entry.SubmittedAt != nil {
		answer = &entry.Answer
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE teams SET wager = $3, answer = $4, submitted_at = $5, judgment = $6
		WHERE game_id = $1 AND id = $2`,
		gameID, teamID, entry.Wager, answer, entry.SubmittedAt, judgment)
	if err != nil {
		return classify("update final", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrTeamNotFound
	}
	return nil
}

func (s *GameStore) ApplyScoreDelta(ctx context.Context, delta domain.ScoreDelta) (domain.ScoreResult, error) {
	result := domain.ScoreResult{TeamID: delta.TeamID}
	err := s.pool.QueryRow(ctx, `SELECT out_score, out_applied FROM apply_score_delta($1, $2, $3, $4, $5)`,
		delta.GameID, delta.TeamID, delta.HostID, delta.Delta, delta.Key.String()).
		Scan(&result.NewScore, &result.Applied)
	if err != nil {
		return domain.ScoreResult{}, classify("apply score delta", err)
	}
	return result, nil
}

func (s *GameStore) ensureGame(ctx context.Context, gameID string) error {
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM games WHERE id = $1)`, gameID).Scan(&exists); err != nil {
		return classify("lookup game", err)
	}
	if !exists {
		return domain.ErrGameNotFound
	}
	return nil
}

// classify maps Postgres failures onto domain errors. Server-side errors are permanent;
// anything that never reached the server (network, timeouts) may be retried.
func classify(op string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, domain.ErrGameNotFound)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "42501":
			return fmt.Errorf("%s: %w", op, domain.ErrUnauthorized)
		case "P0002":
			if strings.HasPrefix(pgErr.Message, "team") {
				return fmt.Errorf("%s: %w", op, domain.ErrTeamNotFound)
			}
			return fmt.Errorf("%s: %w", op, domain.ErrGameNotFound)
		case "40001", "40P01":
			// serialization failure, deadlock
			return domain.Transient(op, err)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	return domain.Transient(op, err)
}
