package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v4"

	"trivia-board-service/internal/domain"
)

// Seed replaces a game with the given board and teams in one transaction.
func (s *GameStore) Seed(ctx context.Context, state domain.AuthoritativeState, board domain.Board) error {
	return s.pool.BeginFunc(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM games WHERE id = $1`, state.GameID); err != nil {
			return classify("seed game", err)
		}
		selected := state.SelectedQuestions
		if selected == nil {
			selected = []string{}
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO games (id, host_id, selected_questions, active_question_id)
			VALUES ($1, $2, $3, NULLIF($4, ''))`,
			state.GameID, state.HostID, selected, state.ActiveQuestionID)
		if err != nil {
			return classify("seed game", err)
		}

		batch := &pgx.Batch{}
		for i, q := range board.Questions {
			batch.Queue(`
				INSERT INTO questions (game_id, id, category, value, prompt, answer, wagered, position)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
				state.GameID, q.ID, q.Category, q.Value, q.Prompt, q.Answer, q.Wagered, i)
		}
		for _, t := range state.Teams {
			batch.Queue(`INSERT INTO teams (game_id, id, name, score) VALUES ($1, $2, $3, $4)`,
				state.GameID, t.ID, t.Name, t.Score)
		}
		results := tx.SendBatch(ctx, batch)
		for i := 0; i < batch.Len(); i++ {
			if _, err := results.Exec(); err != nil {
				_ = results.Close()
				return fmt.Errorf("seed row %d: %w", i, err)
			}
		}
		return results.Close()
	})
}
