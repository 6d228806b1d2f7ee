package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"trivia-board-service/internal/domain"
)

// applyDeltaScript is the atomic read-modify-write behind ApplyScoreDelta.
// KEYS: host, scores, applied marker, applied set. ARGV: host id, team id, delta, marker ttl
// seconds, score key.
var applyDeltaScript = redis.NewScript(`
local host = redis.call('GET', KEYS[1])
if not host then
  return redis.error_reply('NOTFOUND game')
end
if host ~= ARGV[1] then
  return redis.error_reply('FORBIDDEN host')
end
if redis.call('HEXISTS', KEYS[2], ARGV[2]) == 0 then
  return redis.error_reply('NOTFOUND team')
end
if redis.call('EXISTS', KEYS[3]) == 1 then
  return {tonumber(redis.call('HGET', KEYS[2], ARGV[2])), 0}
end
local score = redis.call('HINCRBY', KEYS[2], ARGV[2], ARGV[3])
redis.call('SADD', KEYS[4], ARGV[5])
local ttl = tonumber(ARGV[4])
if ttl > 0 then
  redis.call('SET', KEYS[3], '1', 'EX', ttl)
  redis.call('EXPIRE', KEYS[4], ttl)
else
  redis.call('SET', KEYS[3], '1')
end
return {score, 1}
`)

// GameStore keeps live game state in Redis hashes and sets. It implements app.GameStore,
// app.Ledger and app.ScoreReader.
//
// Layout, per game:
//
//	game:{id}:host      host id allowed to change scores
//	game:{id}:teams     HSET team id -> display name
//	game:{id}:scores    HSET team id -> score
//	game:{id}:selected  SET of used question ids
//	game:{id}:active    open question id, absent when idle
//	game:{id}:final     HSET team id -> final entry JSON
//	game:{id}:scored    SET of score keys included in the scores
type GameStore struct {
	client    *redis.Client
	dedupeTTL time.Duration
}

// NewGameStore builds a store. dedupeTTL bounds how long applied score keys are remembered;
// zero keeps them forever.
func NewGameStore(client *redis.Client, dedupeTTL time.Duration) *GameStore {
	return &GameStore{client: client, dedupeTTL: dedupeTTL}
}

// Seed writes a game's initial state, replacing whatever was stored.
func (s *GameStore) Seed(ctx context.Context, state domain.AuthoritativeState) error {
	id := state.GameID
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, hostKey(id), teamsKey(id), scoresKey(id), selectedKey(id), activeKey(id), finalKey(id), scoredKey(id))
	pipe.Set(ctx, hostKey(id), state.HostID, 0)
	for _, t := range state.Teams {
		pipe.HSet(ctx, teamsKey(id), t.ID, t.Name)
		pipe.HSet(ctx, scoresKey(id), t.ID, t.Score)
		if t.Final != (domain.FinalEntry{}) {
			data, err := json.Marshal(t.Final)
			if err != nil {
				return fmt.Errorf("encode final entry: %w", err)
			}
			pipe.HSet(ctx, finalKey(id), t.ID, data)
		}
	}
	for _, q := range state.SelectedQuestions {
		pipe.SAdd(ctx, selectedKey(id), q)
	}
	for _, key := range state.AppliedScores {
		pipe.SAdd(ctx, scoredKey(id), key.String())
	}
	if state.ActiveQuestionID != "" {
		pipe.Set(ctx, activeKey(id), state.ActiveQuestionID, 0)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return domain.Transient("seed game", err)
	}
	return nil
}

// Snapshot reads every game key in one MULTI block so scores and applied keys agree.
func (s *GameStore) Snapshot(ctx context.Context, gameID string) (domain.AuthoritativeState, error) {
	pipe := s.client.TxPipeline()
	host := pipe.Get(ctx, hostKey(gameID))
	names := pipe.HGetAll(ctx, teamsKey(gameID))
	scores := pipe.HGetAll(ctx, scoresKey(gameID))
	selected := pipe.SMembers(ctx, selectedKey(gameID))
	active := pipe.Get(ctx, activeKey(gameID))
	finals := pipe.HGetAll(ctx, finalKey(gameID))
	scored := pipe.SMembers(ctx, scoredKey(gameID))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return domain.AuthoritativeState{}, domain.Transient("snapshot", err)
	}

	if errors.Is(host.Err(), redis.Nil) {
		return domain.AuthoritativeState{}, domain.ErrGameNotFound
	}
	state := domain.AuthoritativeState{
		GameID:            gameID,
		HostID:            host.Val(),
		SelectedQuestions: selected.Val(),
		ActiveQuestionID:  active.Val(),
		AppliedScores:     parseScoreKeys(scored.Val()),
	}
	sort.Strings(state.SelectedQuestions)

	for teamID, name := range names.Val() {
		team := domain.Team{ID: teamID, Name: name}
		if raw, ok := scores.Val()[teamID]; ok {
			score, err := strconv.Atoi(raw)
			if err != nil {
				return domain.AuthoritativeState{}, fmt.Errorf("score of team %s: %w", teamID, err)
			}
			team.Score = score
		}
		if raw, ok := finals.Val()[teamID]; ok {
			if err := json.Unmarshal([]byte(raw), &team.Final); err != nil {
				return domain.AuthoritativeState{}, fmt.Errorf("final entry of team %s: %w", teamID, err)
			}
		}
		state.Teams = append(state.Teams, team)
	}
	sort.Slice(state.Teams, func(i, j int) bool { return state.Teams[i].ID < state.Teams[j].ID })
	return state, nil
}

func (s *GameStore) MarkQuestionUsed(ctx context.Context, gameID, questionID string) error {
	if err := s.client.SAdd(ctx, selectedKey(gameID), questionID).Err(); err != nil {
		return domain.Transient("mark question used", err)
	}
	return nil
}

func (s *GameStore) SetActiveQuestion(ctx context.Context, gameID, questionID string) error {
	var err error
	if questionID == "" {
		err = s.client.Del(ctx, activeKey(gameID)).Err()
	} else {
		err = s.client.Set(ctx, activeKey(gameID), questionID, 0).Err()
	}
	if err != nil {
		return domain.Transient("set active question", err)
	}
	return nil
}

func (s *GameStore) UpdateFinal(ctx context.Context, gameID, teamID string, entry domain.FinalEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode final entry: %w", err)
	}
	if err := s.client.HSet(ctx, finalKey(gameID), teamID, data).Err(); err != nil {
		return domain.Transient("update final", err)
	}
	return nil
}

// ApplyScoreDelta increments the team's score once per score key inside a Lua script, so
// concurrent judgments never lose updates.
func (s *GameStore) ApplyScoreDelta(ctx context.Context, delta domain.ScoreDelta) (domain.ScoreResult, error) {
	keys := []string{
		hostKey(delta.GameID),
		scoresKey(delta.GameID),
		appliedKey(delta.GameID, delta.Key.String()),
		scoredKey(delta.GameID),
	}
	res, err := applyDeltaScript.Run(ctx, s.client, keys,
		delta.HostID, delta.TeamID, delta.Delta, int64(s.dedupeTTL/time.Second), delta.Key.String()).Int64Slice()
	if err != nil {
		return domain.ScoreResult{}, classify("apply score delta", err)
	}
	if len(res) != 2 {
		return domain.ScoreResult{}, fmt.Errorf("apply score delta: unexpected reply %v", res)
	}
	return domain.ScoreResult{TeamID: delta.TeamID, NewScore: int(res[0]), Applied: res[1] == 1}, nil
}

func (s *GameStore) Scores(ctx context.Context, gameID string) (domain.ScoreSheet, error) {
	pipe := s.client.TxPipeline()
	scores := pipe.HGetAll(ctx, scoresKey(gameID))
	scored := pipe.SMembers(ctx, scoredKey(gameID))
	if _, err := pipe.Exec(ctx); err != nil {
		return domain.ScoreSheet{}, domain.Transient("read scores", err)
	}
	sheet := domain.ScoreSheet{
		Scores:  make(map[string]int, len(scores.Val())),
		Applied: parseScoreKeys(scored.Val()),
	}
	for teamID, v := range scores.Val() {
		score, err := strconv.Atoi(v)
		if err != nil {
			return domain.ScoreSheet{}, fmt.Errorf("score of team %s: %w", teamID, err)
		}
		sheet.Scores[teamID] = score
	}
	return sheet, nil
}

func parseScoreKeys(raw []string) []domain.ScoreKey {
	keys := make([]domain.ScoreKey, 0, len(raw))
	for _, v := range raw {
		if key, ok := domain.ParseScoreKey(v); ok {
			keys = append(keys, key)
		}
	}
	return keys
}

// classify maps script error replies onto domain errors; anything else is a transport failure.
func classify(op string, err error) error {
	var replyErr redis.Error
	if errors.As(err, &replyErr) {
		msg := replyErr.Error()
		switch {
		case strings.HasPrefix(msg, "FORBIDDEN"):
			return fmt.Errorf("%s: %w", op, domain.ErrUnauthorized)
		case strings.HasPrefix(msg, "NOTFOUND team"):
			return fmt.Errorf("%s: %w", op, domain.ErrTeamNotFound)
		case strings.HasPrefix(msg, "NOTFOUND"):
			return fmt.Errorf("%s: %w", op, domain.ErrGameNotFound)
		}
	}
	return domain.Transient(op, err)
}
