package memory

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"

	"trivia-board-service/internal/domain"
)

// BoardLoader fetches board content from a backing store (e.g., postgres).
type BoardLoader interface {
	LoadBoard(ctx context.Context, gameID string) (domain.Board, error)
}

// BoardRepository caches boards with TTL to avoid repeated DB hits. Board content is
// immutable during play, so a stale entry is only ever an old edit.
type BoardRepository struct {
	loader BoardLoader
	ttl    time.Duration
	clock  clockwork.Clock
	sf     singleflight.Group
	rnd    *rand.Rand

	mu    sync.RWMutex
	cache map[string]cachedBoard
}

type cachedBoard struct {
	board     domain.Board
	expiresAt time.Time
}

func NewBoardRepository(loader BoardLoader, ttl time.Duration, clock clockwork.Clock) *BoardRepository {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &BoardRepository{
		loader: loader,
		ttl:    ttl,
		clock:  clock,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:  make(map[string]cachedBoard),
	}
}

func (r *BoardRepository) GetBoard(ctx context.Context, gameID string) (domain.Board, error) {
	if board, ok := r.cached(gameID); ok {
		return board, nil
	}

	result, err, _ := r.sf.Do(gameID, func() (interface{}, error) {
		if board, ok := r.cached(gameID); ok {
			return board, nil
		}

		board, err := r.loader.LoadBoard(ctx, gameID)
		if err != nil {
			return domain.Board{}, err
		}

		expiresAt := r.clock.Now().Add(r.ttlWithJitter())
		r.mu.Lock()
		r.cache[gameID] = cachedBoard{board: board, expiresAt: expiresAt}
		r.mu.Unlock()
		return board, nil
	})
	if err != nil {
		return domain.Board{}, err
	}
	return result.(domain.Board), nil
}

func (r *BoardRepository) cached(gameID string) (domain.Board, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.cache[gameID]
	if !ok || !entry.expiresAt.After(r.clock.Now()) {
		return domain.Board{}, false
	}
	return entry.board, true
}

func (r *BoardRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(r.ttl) / 10
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}

// StaticBoardLoader is a simple loader backed by an in-memory map (useful for tests/demos).
type StaticBoardLoader struct {
	boards map[string]domain.Board
}

func NewStaticBoardLoader(boards map[string]domain.Board) *StaticBoardLoader {
	return &StaticBoardLoader{boards: boards}
}

func (l *StaticBoardLoader) LoadBoard(_ context.Context, gameID string) (domain.Board, error) {
	if board, ok := l.boards[gameID]; ok {
		return board, nil
	}
	return domain.Board{}, domain.ErrGameNotFound
}
