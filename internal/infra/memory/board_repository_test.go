package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"trivia-board-service/internal/domain"
)

func TestBoardRepositoryCaches(t *testing.T) {
	loader := &countingLoader{
		BoardLoader: NewStaticBoardLoader(map[string]domain.Board{
			"game-1": sampleBoard(),
		}),
	}
	clock := clockwork.NewFakeClock()
	repo := NewBoardRepository(loader, time.Minute, clock)

	if _, err := repo.GetBoard(context.Background(), "game-1"); err != nil {
		t.Fatalf("get board: %v", err)
	}
	if loader.calls != 1 {
		t.Fatalf("expected loader once, got %d", loader.calls)
	}

	if _, err := repo.GetBoard(context.Background(), "game-1"); err != nil {
		t.Fatalf("get board 2: %v", err)
	}
	if loader.calls != 1 {
		t.Fatalf("expected cache hit, loader calls %d", loader.calls)
	}

	// TTL plus the maximum 10% jitter.
	clock.Advance(time.Minute + 7*time.Second)
	if _, err := repo.GetBoard(context.Background(), "game-1"); err != nil {
		t.Fatalf("get board 3: %v", err)
	}
	if loader.calls != 2 {
		t.Fatalf("expected reload after expiry, loader calls %d", loader.calls)
	}
}

func TestBoardRepositoryUnknownGame(t *testing.T) {
	repo := NewBoardRepository(NewStaticBoardLoader(nil), time.Minute, nil)
	if _, err := repo.GetBoard(context.Background(), "missing"); !errors.Is(err, domain.ErrGameNotFound) {
		t.Fatalf("expected game not found, got %v", err)
	}
}

type countingLoader struct {
	BoardLoader
	calls int
}

func (l *countingLoader) LoadBoard(ctx context.Context, gameID string) (domain.Board, error) {
	l.calls++
	return l.BoardLoader.LoadBoard(ctx, gameID)
}

func sampleBoard() domain.Board {
	return domain.Board{
		GameID: "game-1",
		Questions: []domain.Question{
			{ID: "q1", Category: "Science", Value: 300, Prompt: "H2O", Answer: "Water"},
			{ID: "q2", Category: "Science", Value: 500, Prompt: "Au", Answer: "Gold", Wagered: true},
		},
	}
}
