package cli

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jonboulle/clockwork"

	"trivia-board-service/internal/app"
	"trivia-board-service/internal/broadcast"
	"trivia-board-service/internal/config"
	"trivia-board-service/internal/infra/memory"
	redisinfra "trivia-board-service/internal/infra/redis"
)

func sampleGames(t *testing.T) []config.GameSeed {
	t.Helper()
	games, err := config.LoadGames("../../config/games.yaml")
	if err != nil {
		t.Fatalf("load games: %v", err)
	}
	return games
}

func TestMemoryBackend(t *testing.T) {
	ctx := context.Background()
	games := sampleGames(t)
	b, err := openBackend(ctx, config.Config{}, games, clockwork.NewFakeClock())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer b.Close()
	if _, ok := b.store.(*memory.GameStore); !ok {
		t.Fatalf("expected memory store, got %T", b.store)
	}
	if b.persistent(config.Config{}) {
		t.Fatalf("memory backend must not count as persistent")
	}
	if err := b.seed(ctx, games[0]); err != nil {
		t.Fatalf("seed: %v", err)
	}
	state, err := b.store.Snapshot(ctx, games[0].ID)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if state.HostID != games[0].HostID {
		t.Fatalf("unexpected host %s", state.HostID)
	}
	board, err := b.boards.GetBoard(ctx, games[0].ID)
	if err != nil || len(board.Questions) != len(games[0].Questions) {
		t.Fatalf("unexpected board %+v (%v)", board, err)
	}
}

func TestRedisBackend(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	cfg := config.Config{}
	cfg.Redis.Addr = mr.Addr()
	cfg.Ledger.Backend = "redis"

	games := sampleGames(t)
	b, err := openBackend(ctx, cfg, games, clockwork.NewFakeClock())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer b.Close()
	if _, ok := b.store.(*redisinfra.GameStore); !ok {
		t.Fatalf("expected redis store, got %T", b.store)
	}
	if _, ok := b.sessions.(*redisinfra.SessionStore); !ok {
		t.Fatalf("expected redis session store, got %T", b.sessions)
	}
	if err := b.seed(ctx, games[0]); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := b.store.Snapshot(ctx, games[0].ID); err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	relay, closeRelay, err := openTransport(func() config.Config {
		c := cfg
		c.Broadcast.Transport = "redis"
		return c
	}(), b, nil)
	if err != nil {
		t.Fatalf("transport: %v", err)
	}
	defer closeRelay()
	if _, ok := relay.(*redisinfra.PubSub); !ok {
		t.Fatalf("expected redis pubsub, got %T", relay)
	}
}

func TestRedisRelayResyncsGameAfterReconnect(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	cfg := config.Config{}
	cfg.Redis.Addr = mr.Addr()
	cfg.Ledger.Backend = "redis"
	cfg.Broadcast.Transport = "redis"

	b, err := openBackend(ctx, cfg, nil, clockwork.NewFakeClock())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer b.Close()

	resynced := make(chan string, 4)
	relay, closeRelay, err := openTransport(cfg, b, func(gameID string) { resynced <- gameID })
	if err != nil {
		t.Fatalf("transport: %v", err)
	}
	defer closeRelay()
	unsubscribe, err := relay.Subscribe(broadcast.Topic("g1"), func([]byte) {})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer unsubscribe()

	mr.Close()
	if err := mr.Restart(); err != nil {
		t.Fatalf("restart: %v", err)
	}
	select {
	case gameID := <-resynced:
		if gameID != "g1" {
			t.Fatalf("expected g1 resynced, got %q", gameID)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for resync")
	}
}

func TestBackendMisconfiguration(t *testing.T) {
	ctx := context.Background()
	for _, backend := range []string{"redis", "postgres", "carrier-pigeon"} {
		cfg := config.Config{}
		cfg.Ledger.Backend = backend
		if _, err := openBackend(ctx, cfg, nil, clockwork.NewFakeClock()); err == nil {
			t.Fatalf("%s: expected error", backend)
		}
	}

	cfg := config.Config{}
	cfg.Broadcast.Transport = "redis"
	if _, _, err := openTransport(cfg, &backend{}, nil); err == nil {
		t.Fatalf("expected redis transport without a client to fail")
	}
}

func TestPolicies(t *testing.T) {
	cfg := config.Config{}
	cfg.Ledger.MaxRetries = 2
	cfg.Ledger.InitialInterval = "50ms"
	retry := retryPolicy(cfg)
	if retry.MaxRetries != 2 || retry.InitialInterval != 50*time.Millisecond || retry.MaxInterval != app.DefaultRetryPolicy().MaxInterval {
		t.Fatalf("unexpected retry policy %+v", retry)
	}

	cfg.Wager.Policy = "board_max"
	cfg.Wager.BoardMax = 2000
	wager, err := wagerPolicy(cfg)
	if err != nil {
		t.Fatalf("wager policy: %v", err)
	}
	if wager.Kind != app.WagerBoardMax || wager.BoardMax != 2000 || wager.Cap != app.DefaultWagerPolicy().Cap {
		t.Fatalf("unexpected wager policy %+v", wager)
	}
	cfg.Wager.Policy = "all-in"
	if _, err := wagerPolicy(cfg); err == nil {
		t.Fatalf("expected unknown policy to fail")
	}
}
