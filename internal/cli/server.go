package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"trivia-board-service/internal/app"
	"trivia-board-service/internal/auth"
	"trivia-board-service/internal/broadcast"
	"trivia-board-service/internal/config"
	"trivia-board-service/internal/domain"
	natsinfra "trivia-board-service/internal/infra/nats"
	redisinfra "trivia-board-service/internal/infra/redis"
	transport "trivia-board-service/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the trivia board server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cfg.Log.Level != "" && os.Getenv("LOG_LEVEL") == "" {
		setupLogging(cfg.Log.Level)
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Postgres.URL != "" {
		if err := runMigrations(ctx, cfg.Postgres.URL); err != nil {
			return err
		}
	}

	var games []config.GameSeed
	if cfg.Board.Seed != "" {
		if games, err = config.LoadGames(cfg.Board.Seed); err != nil {
			return err
		}
	}

	clock := clockwork.NewRealClock()
	b, err := openBackend(ctx, cfg, games, clock)
	if err != nil {
		return err
	}
	defer b.Close()
	if !b.persistent(cfg) {
		for _, g := range games {
			if err := b.seed(ctx, g); err != nil {
				return err
			}
		}
	}

	wager, err := wagerPolicy(cfg)
	if err != nil {
		return err
	}
	timestamps, err := app.ParseTimestampSource(cfg.Buzz.TimestampSource)
	if err != nil {
		return err
	}
	retry := retryPolicy(cfg)
	instanceID := uuid.NewString()

	// Reconnect hooks need the service, which needs the transport. An empty game id
	// refreshes every live game.
	var live atomic.Pointer[app.GameService]
	resync := func(gameID string) {
		service := live.Load()
		if service == nil {
			return
		}
		reconcileCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if gameID == "" {
			service.ReconcileAll(reconcileCtx)
			return
		}
		if _, err := service.Reconcile(reconcileCtx, gameID); err != nil && !errors.Is(err, domain.ErrSessionNotFound) {
			log.Warn().Err(err).Str("game_id", gameID).Msg("reconcile after reconnect failed")
		}
	}
	relay, closeRelay, err := openTransport(cfg, b, resync)
	if err != nil {
		return err
	}
	defer closeRelay()

	service := app.NewGameService(
		b.sessions,
		b.boards,
		b.store,
		app.NewRetryingLedger(b.ledger, retry),
		broadcast.NewChannel(relay, clock),
		app.NewReconciler(b.store, b.scores, retry),
		app.Options{
			InstanceID:     instanceID,
			Wager:          wager,
			Timestamps:     timestamps,
			Retry:          retry,
			Clock:          clock,
			PersistTimeout: config.TTLDuration(cfg.Ledger.PersistTimeout, 5*time.Second),
		},
	)

	live.Store(service)

	verifier := auth.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	if !verifier.Enabled() {
		log.Warn().Msg("no jwt secret configured, host ids are trusted as sent")
	}
	router := transport.NewRouter(
		transport.NewWSHandler(service, verifier, transport.DefaultWSConfig()),
		transport.NewAPIHandler(service, cfg.Join.BaseURL),
		cfg.Server.AllowedOrigins,
	)

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}
	server := &http.Server{
		Addr:        ":" + finalPort,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().
			Str("addr", server.Addr).
			Str("instance_id", instanceID).
			Str("broadcast", cfg.Broadcast.Transport).
			Msg("starting trivia board service")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("http shutdown")
		}
		return service.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// openTransport picks the relay the broadcast channel publishes through. resync runs after
// the relay reconnects, since broadcasts sent in the meantime are gone.
func openTransport(cfg config.Config, b *backend, resync func(gameID string)) (broadcast.Transport, func(), error) {
	prefix := cfg.Broadcast.SubjectPrefix
	if prefix == "" {
		prefix = "trivia"
	}
	switch cfg.Broadcast.Transport {
	case "", "memory":
		return broadcast.NewHub(), func() {}, nil
	case "redis":
		if b.redis == nil {
			return nil, nil, errors.New("redis broadcast needs redis.addr")
		}
		onReconnect := func(topic string) {
			if gameID, ok := broadcast.GameID(topic); ok {
				resync(gameID)
			}
		}
		return redisinfra.NewPubSub(b.redis, prefix, onReconnect), func() {}, nil
	case "nats":
		natsCfg := natsinfra.DefaultConfig()
		if cfg.Broadcast.NatsURL != "" {
			natsCfg.URL = cfg.Broadcast.NatsURL
		}
		natsCfg.SubjectPrefix = prefix
		natsCfg.OnReconnect = func() { resync("") }
		t, err := natsinfra.Connect(natsCfg)
		if err != nil {
			return nil, nil, err
		}
		return t, func() {
			if err := t.Close(); err != nil {
				log.Warn().Err(err).Msg("close nats")
			}
		}, nil
	default:
		return nil, nil, errors.New("unknown broadcast transport " + cfg.Broadcast.Transport)
	}
}
