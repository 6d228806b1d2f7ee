package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "games.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestLoadGames(t *testing.T) {
	games, err := LoadGames(writeFile(t, `
games:
  - id: g1
    host_id: h1
    teams:
      - {id: a, name: Alpha}
      - {id: b, name: Beta}
    questions:
      - {id: q1, category: Science, value: 100, prompt: p, answer: x}
      - {id: q2, category: Science, value: 200, prompt: p, answer: y, wagered: true}
`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(games) != 1 {
		t.Fatalf("expected one game, got %d", len(games))
	}
	board := games[0].Board()
	if len(board.Questions) != 2 || !board.Questions[1].Wagered {
		t.Fatalf("unexpected board %+v", board)
	}
	state := games[0].State()
	if state.HostID != "h1" || len(state.Teams) != 2 || state.Teams[0].Score != 0 {
		t.Fatalf("unexpected state %+v", state)
	}
}

func TestLoadGamesRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"no host":   "games:\n  - id: g1\n    teams: [{id: a}]\n",
		"no teams":  "games:\n  - id: g1\n    host_id: h\n",
		"duplicate": "games:\n  - id: g1\n    host_id: h\n    teams: [{id: a}]\n    questions: [{id: q1}, {id: q1}]\n",
		"reserved":  "games:\n  - id: g1\n    host_id: h\n    teams: [{id: a}]\n    questions: [{id: final}]\n",
	}
	for name, body := range cases {
		if _, err := LoadGames(writeFile(t, body)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestSampleGamesFile(t *testing.T) {
	games, err := LoadGames(filepath.Join("..", "..", "config", "games.yaml"))
	if err != nil {
		t.Fatalf("load sample: %v", err)
	}
	if len(games) == 0 || !strings.HasPrefix(games[0].HostID, "host-") {
		t.Fatalf("unexpected sample games %+v", games)
	}
}
