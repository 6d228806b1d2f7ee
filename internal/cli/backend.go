package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"trivia-board-service/internal/app"
	"trivia-board-service/internal/config"
	"trivia-board-service/internal/domain"
	"trivia-board-service/internal/infra/memory"
	"trivia-board-service/internal/infra/postgres"
	redisinfra "trivia-board-service/internal/infra/redis"
)

// backend holds the storage side of the service as selected by configuration.
type backend struct {
	redis    *redis.Client
	pool     *pgxpool.Pool
	boards   app.BoardRepository
	store    app.GameStore
	ledger   app.Ledger
	scores   app.ScoreReader
	sessions app.SessionRepository
	// seed loads a game into the configured authoritative store.
	seed func(ctx context.Context, game config.GameSeed) error
}

func openBackend(ctx context.Context, cfg config.Config, games []config.GameSeed, clock clockwork.Clock) (*backend, error) {
	b := &backend{}
	if cfg.Redis.Addr != "" {
		b.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := b.redis.Ping(ctx).Err(); err != nil {
			b.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
	}
	if cfg.Postgres.URL != "" {
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		b.pool = pool
	}

	var loader memory.BoardLoader
	if b.pool != nil {
		loader = postgres.NewBoardLoader(b.pool)
	} else {
		boards := make(map[string]domain.Board, len(games))
		for _, g := range games {
			boards[g.ID] = g.Board()
		}
		loader = memory.NewStaticBoardLoader(boards)
	}
	boardTTL := config.TTLDuration(cfg.Board.TTL, 10*time.Minute)
	if b.redis != nil {
		b.boards = redisinfra.NewBoardRepository(b.redis, loader, boardTTL)
		b.sessions = redisinfra.NewSessionStore(b.redis, config.TTLDuration(cfg.Redis.TTL, 10*time.Minute))
	} else {
		b.boards = memory.NewBoardRepository(loader, boardTTL, clock)
		b.sessions = memory.NewSessionStore()
	}

	switch cfg.Ledger.Backend {
	case "", "memory":
		store := memory.NewGameStore()
		b.store, b.ledger, b.scores = store, store, store
		b.seed = func(_ context.Context, g config.GameSeed) error {
			store.Seed(g.State())
			return nil
		}
	case "redis":
		if b.redis == nil {
			b.Close()
			return nil, fmt.Errorf("ledger backend redis needs redis.addr")
		}
		store := redisinfra.NewGameStore(b.redis, config.TTLDuration(cfg.Ledger.DedupeTTL, 24*time.Hour))
		b.store, b.ledger, b.scores = store, store, store
		b.seed = func(ctx context.Context, g config.GameSeed) error {
			return store.Seed(ctx, g.State())
		}
	case "postgres":
		if b.pool == nil {
			b.Close()
			return nil, fmt.Errorf("ledger backend postgres needs postgres.url")
		}
		store := postgres.NewGameStore(b.pool)
		// Scores live in the teams table and come back with every snapshot.
		b.store, b.ledger = store, store
		b.seed = func(ctx context.Context, g config.GameSeed) error {
			return store.Seed(ctx, g.State(), g.Board())
		}
	default:
		b.Close()
		return nil, fmt.Errorf("unknown ledger backend %q", cfg.Ledger.Backend)
	}

	log.Info().
		Str("ledger", b.ledgerName(cfg)).
		Bool("redis", b.redis != nil).
		Bool("postgres", b.pool != nil).
		Msg("backend ready")
	return b, nil
}

func (b *backend) ledgerName(cfg config.Config) string {
	if cfg.Ledger.Backend == "" {
		return "memory"
	}
	return cfg.Ledger.Backend
}

// persistent reports whether seeded games survive a restart, in which case start must not
// overwrite them.
func (b *backend) persistent(cfg config.Config) bool {
	return cfg.Ledger.Backend == "redis" || cfg.Ledger.Backend == "postgres"
}

func (b *backend) Close() {
	if b.redis != nil {
		_ = b.redis.Close()
	}
	if b.pool != nil {
		b.pool.Close()
	}
}

func retryPolicy(cfg config.Config) app.RetryPolicy {
	policy := app.DefaultRetryPolicy()
	if cfg.Ledger.MaxRetries > 0 {
		policy.MaxRetries = cfg.Ledger.MaxRetries
	}
	policy.InitialInterval = config.TTLDuration(cfg.Ledger.InitialInterval, policy.InitialInterval)
	policy.MaxInterval = config.TTLDuration(cfg.Ledger.MaxInterval, policy.MaxInterval)
	return policy
}

func wagerPolicy(cfg config.Config) (app.WagerPolicy, error) {
	policy := app.DefaultWagerPolicy()
	kind, err := app.ParseWagerPolicyKind(cfg.Wager.Policy)
	if err != nil {
		return policy, err
	}
	policy.Kind = kind
	if cfg.Wager.Floor > 0 {
		policy.Floor = cfg.Wager.Floor
	}
	if cfg.Wager.Cap > 0 {
		policy.Cap = cfg.Wager.Cap
	}
	if cfg.Wager.BoardMax > 0 {
		policy.BoardMax = cfg.Wager.BoardMax
	}
	return policy, nil
}
