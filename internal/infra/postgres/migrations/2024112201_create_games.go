package migrations

import _ "embed"

//go:embed 0001_create_games.up.sql
var createGamesSQL string

//go:embed 0001_create_games.down.sql
var dropGamesSQL string

func init() {
	register("2024112201", createGamesSQL, dropGamesSQL)
}
