package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"trivia-board-service/internal/domain"
)

// GameSeed describes a game to load into the backend: its host, teams and board.
type GameSeed struct {
	ID     string `yaml:"id"`
	HostID string `yaml:"host_id"`
	Teams  []struct {
		ID   string `yaml:"id"`
		Name string `yaml:"name"`
	} `yaml:"teams"`
	Questions []struct {
		ID       string `yaml:"id"`
		Category string `yaml:"category"`
		Value    int    `yaml:"value"`
		Prompt   string `yaml:"prompt"`
		Answer   string `yaml:"answer"`
		Wagered  bool   `yaml:"wagered"`
	} `yaml:"questions"`
}

// LoadGames reads a seed file.
func LoadGames(path string) ([]GameSeed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var file struct {
		Games []GameSeed `yaml:"games"`
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	for _, g := range file.Games {
		if err := g.validate(); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}
	return file.Games, nil
}

func (g GameSeed) validate() error {
	if g.ID == "" || g.HostID == "" {
		return fmt.Errorf("game needs an id and a host_id")
	}
	if len(g.Teams) == 0 {
		return fmt.Errorf("game %s has no teams", g.ID)
	}
	seen := make(map[string]bool, len(g.Questions))
	for _, q := range g.Questions {
		if q.ID == "" || q.ID == domain.FinalQuestionID {
			return fmt.Errorf("game %s: invalid question id %q", g.ID, q.ID)
		}
		if seen[q.ID] {
			return fmt.Errorf("game %s: duplicate question %s", g.ID, q.ID)
		}
		seen[q.ID] = true
	}
	return nil
}

// Board returns the question grid of the game.
func (g GameSeed) Board() domain.Board {
	board := domain.Board{GameID: g.ID, Questions: make([]domain.Question, 0, len(g.Questions))}
	for _, q := range g.Questions {
		board.Questions = append(board.Questions, domain.Question{
			ID:       q.ID,
			Category: q.Category,
			Value:    q.Value,
			Prompt:   q.Prompt,
			Answer:   q.Answer,
			Wagered:  q.Wagered,
		})
	}
	return board
}

// State returns the initial authoritative state: no questions used, every score zero.
func (g GameSeed) State() domain.AuthoritativeState {
	state := domain.AuthoritativeState{GameID: g.ID, HostID: g.HostID, Teams: make([]domain.Team, 0, len(g.Teams))}
	for _, t := range g.Teams {
		state.Teams = append(state.Teams, domain.Team{ID: t.ID, Name: t.Name})
	}
	return state
}
