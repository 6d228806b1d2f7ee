package redis

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"trivia-board-service/internal/app"
)

// SessionStore is a Redis-aware implementation of app.SessionRepository.
// Sessions themselves live in process; Redis only records which games are live here so
// operators can see them. Cross-instance fan-out goes through the broadcast transport.
type SessionStore struct {
	client   *redis.Client
	ttl      time.Duration
	mu       sync.RWMutex
	sessions map[string]*app.Session
}

func NewSessionStore(client *redis.Client, ttl time.Duration) *SessionStore {
	return &SessionStore{
		client:   client,
		ttl:      ttl,
		sessions: make(map[string]*app.Session),
	}
}

func (s *SessionStore) GetOrCreate(gameID string, create func() *app.Session) *app.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	if session, ok := s.sessions[gameID]; ok {
		s.touch(gameID)
		return session
	}
	session := create()
	s.sessions[gameID] = session
	s.touch(gameID)
	return session
}

func (s *SessionStore) Get(gameID string) (*app.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[gameID]
	return session, ok
}

func (s *SessionStore) DeleteIfEmpty(gameID string, session *app.Session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.sessions[gameID]
	if !ok || current != session || !session.Detach() {
		return false
	}
	delete(s.sessions, gameID)
	if err := s.client.Del(context.Background(), s.key(gameID)).Err(); err != nil {
		log.Warn().Err(err).Str("game_id", gameID).Msg("clearing session liveness key")
	}
	return true
}

func (s *SessionStore) All() []*app.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*app.Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		out = append(out, session)
	}
	return out
}

// touch refreshes the best-effort liveness marker.
func (s *SessionStore) touch(gameID string) {
	if err := s.client.Set(context.Background(), s.key(gameID), "1", s.ttl).Err(); err != nil {
		log.Warn().Err(err).Str("game_id", gameID).Msg("setting session liveness key")
	}
}

func (s *SessionStore) key(gameID string) string {
	return "game:session:" + gameID
}
