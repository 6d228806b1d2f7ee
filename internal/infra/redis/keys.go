package redis

// Keys share the {gameID} hash tag so the ledger script touches a single cluster slot.

func gameKey(gameID, suffix string) string {
	return "game:{" + gameID + "}:" + suffix
}

func hostKey(gameID string) string     { return gameKey(gameID, "host") }
func scoresKey(gameID string) string   { return gameKey(gameID, "scores") }
func teamsKey(gameID string) string    { return gameKey(gameID, "teams") }
func selectedKey(gameID string) string { return gameKey(gameID, "selected") }
func activeKey(gameID string) string   { return gameKey(gameID, "active") }
func finalKey(gameID string) string    { return gameKey(gameID, "final") }
func boardKey(gameID string) string    { return gameKey(gameID, "board") }
func scoredKey(gameID string) string   { return gameKey(gameID, "scored") }

func appliedKey(gameID, scoreKey string) string {
	return gameKey(gameID, "applied:"+scoreKey)
}
