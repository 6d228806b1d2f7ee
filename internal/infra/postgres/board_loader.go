package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"

	"trivia-board-service/internal/domain"
)

// BoardLoader loads a game's question grid from Postgres.
type BoardLoader struct {
	pool *pgxpool.Pool
}

func NewBoardLoader(pool *pgxpool.Pool) *BoardLoader {
	return &BoardLoader{pool: pool}
}

func (l *BoardLoader) LoadBoard(ctx context.Context, gameID string) (domain.Board, error) {
	var exists bool
	if err := l.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM games WHERE id = $1)`, gameID).Scan(&exists); err != nil {
		return domain.Board{}, classify("load board", err)
	}
	if !exists {
		return domain.Board{}, domain.ErrGameNotFound
	}

	rows, err := l.pool.Query(ctx, `
		SELECT id, category, value, prompt, answer, wagered
		FROM questions
		WHERE game_id = $1
		ORDER BY position, category, value, id`, gameID)
	if err != nil {
		return domain.Board{}, classify("load board", err)
	}
	defer rows.Close()

	board := domain.Board{GameID: gameID}
	for rows.Next() {
		var q domain.Question
		if err := rows.Scan(&q.ID, &q.Category, &q.Value, &q.Prompt, &q.Answer, &q.Wagered); err != nil {
			return domain.Board{}, fmt.Errorf("scan question: %w", err)
		}
		board.Questions = append(board.Questions, q)
	}
	if err := rows.Err(); err != nil {
		return domain.Board{}, classify("load board", err)
	}
	return board, nil
}
