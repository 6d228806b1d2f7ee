package redis

import (
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"trivia-board-service/internal/app"
	"trivia-board-service/internal/broadcast"
	"trivia-board-service/internal/domain"
)

func TestSessionStoreSetsAndClearsKeys(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewSessionStore(client, time.Minute)

	session := store.GetOrCreate("game-1", func() *app.Session {
		return app.NewSession(app.SessionConfig{
			GameID:  "game-1",
			Board:   domain.Board{GameID: "game-1"},
			Channel: broadcast.NewChannel(broadcast.NewHub(), nil),
		})
	})
	defer session.Close()
	if !mr.Exists("game:session:game-1") {
		t.Fatalf("expected redis key to be set")
	}
	if ttl := mr.TTL("game:session:game-1"); ttl != time.Minute {
		t.Fatalf("expected liveness ttl, got %v", ttl)
	}

	if !store.DeleteIfEmpty("game-1", session) {
		t.Fatalf("expected empty session removed")
	}
	if mr.Exists("game:session:game-1") {
		t.Fatalf("expected redis key to be removed")
	}
}
