package redis

import (
	"context"
	"encoding/json"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"trivia-board-service/internal/domain"
)

// BoardLoader fetches board content from a backing store (e.g., postgres).
type BoardLoader interface {
	LoadBoard(ctx context.Context, gameID string) (domain.Board, error)
}

// BoardRepository caches boards in Redis (hash per game) and falls back to a loader on cache miss.
// Questions are stored as: HSET game:{gameID}:board {questionID} {question JSON}
type BoardRepository struct {
	client *redis.Client
	loader BoardLoader
	ttl    time.Duration
	sf     singleflight.Group

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewBoardRepository(client *redis.Client, loader BoardLoader, ttl time.Duration) *BoardRepository {
	return &BoardRepository{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (r *BoardRepository) GetBoard(ctx context.Context, gameID string) (domain.Board, error) {
	if board, ok := r.fromCache(ctx, gameID); ok {
		return board, nil
	}

	result, err, _ := r.sf.Do(gameID, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		if board, ok := r.fromCache(ctx, gameID); ok {
			return board, nil
		}

		board, err := r.loader.LoadBoard(ctx, gameID)
		if err != nil {
			return domain.Board{}, err
		}
		r.store(ctx, board)
		return board, nil
	})
	if err != nil {
		return domain.Board{}, err
	}
	return result.(domain.Board), nil
}

func (r *BoardRepository) fromCache(ctx context.Context, gameID string) (domain.Board, bool) {
	fields, err := r.client.HGetAll(ctx, boardKey(gameID)).Result()
	if err != nil || len(fields) == 0 {
		return domain.Board{}, false
	}
	board := domain.Board{GameID: gameID, Questions: make([]domain.Question, 0, len(fields))}
	for id, raw := range fields {
		var q domain.Question
		if err := json.Unmarshal([]byte(raw), &q); err != nil {
			log.Warn().Err(err).Str("game_id", gameID).Str("question_id", id).Msg("discarding corrupt board cache")
			return domain.Board{}, false
		}
		board.Questions = append(board.Questions, q)
	}
	sortQuestions(board.Questions)
	return board, true
}

// store is best-effort; a failed write only costs another load.
func (r *BoardRepository) store(ctx context.Context, board domain.Board) {
	key := boardKey(board.GameID)
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, key)
	for _, q := range board.Questions {
		data, err := json.Marshal(q)
		if err != nil {
			return
		}
		pipe.HSet(ctx, key, q.ID, data)
	}
	if ttl := r.ttlWithJitter(); ttl > 0 {
		pipe.Expire(ctx, key, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		log.Warn().Err(err).Str("game_id", board.GameID).Msg("caching board failed")
	}
}

// sortQuestions restores grid order: by category, then value.
func sortQuestions(qs []domain.Question) {
	sort.Slice(qs, func(i, j int) bool {
		if qs[i].Category != qs[j].Category {
			return qs[i].Category < qs[j].Category
		}
		if qs[i].Value != qs[j].Value {
			return qs[i].Value < qs[j].Value
		}
		return qs[i].ID < qs[j].ID
	})
}

func (r *BoardRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	jitterMax := int64(r.ttl) / 10
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}
