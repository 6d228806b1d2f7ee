package cli

import (
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"trivia-board-service/internal/config"
)

// NewSeedCmd loads games from a YAML file into the configured store, replacing existing ones.
func NewSeedCmd(configPath *string) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load games into the configured backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if file == "" {
				file = cfg.Board.Seed
			}
			if file == "" {
				return fmt.Errorf("no seed file given")
			}
			games, err := config.LoadGames(file)
			if err != nil {
				return err
			}
			if cfg.Postgres.URL != "" {
				if err := runMigrations(ctx, cfg.Postgres.URL); err != nil {
					return err
				}
			}
			b, err := openBackend(ctx, cfg, games, clockwork.NewRealClock())
			if err != nil {
				return err
			}
			defer b.Close()
			if !b.persistent(cfg) {
				return fmt.Errorf("ledger backend %q keeps nothing to seed", b.ledgerName(cfg))
			}
			for _, g := range games {
				if err := b.seed(ctx, g); err != nil {
					return fmt.Errorf("seed %s: %w", g.ID, err)
				}
				log.Info().Str("game_id", g.ID).Int("questions", len(g.Questions)).Msg("game seeded")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "games file (defaults to board.seed)")
	return cmd
}
