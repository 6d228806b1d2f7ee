package migrations

import (
	"context"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/migrate"
)

var Migrations = migrate.NewMigrations()

// register adds an up/down pair of SQL scripts under name.
func register(name, up, down string) {
	Migrations.Add(migrate.Migration{
		Name: name,
		Up: func(ctx context.Context, db *bun.DB) error {
			_, err := db.ExecContext(ctx, up)
			return err
		},
		Down: func(ctx context.Context, db *bun.DB) error {
			_, err := db.ExecContext(ctx, down)
			return err
		},
	})
}
