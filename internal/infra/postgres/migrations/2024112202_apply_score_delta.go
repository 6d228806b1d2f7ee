package migrations

import _ "embed"

//go:embed 0002_apply_score_delta.up.sql
var applyScoreDeltaSQL string

//go:embed 0002_apply_score_delta.down.sql
var dropApplyScoreDeltaSQL string

func init() {
	register("2024112202", applyScoreDeltaSQL, dropApplyScoreDeltaSQL)
}
