package memory

import (
	"context"
	"testing"

	"trivia-board-service/internal/app"
	"trivia-board-service/internal/broadcast"
	"trivia-board-service/internal/domain"
)

func TestSessionStoreLifecycle(t *testing.T) {
	store := NewSessionStore()
	created := 0
	create := func() *app.Session {
		created++
		return app.NewSession(app.SessionConfig{
			GameID:  "game-1",
			Board:   sampleBoard(),
			Channel: broadcast.NewChannel(broadcast.NewHub(), nil),
		})
	}

	session := store.GetOrCreate("game-1", create)
	if session == nil {
		t.Fatalf("expected session")
	}
	defer session.Close()
	if again := store.GetOrCreate("game-1", create); again != session || created != 1 {
		t.Fatalf("expected the registered session to be reused, created=%d", created)
	}
	if _, ok := store.Get("game-1"); !ok {
		t.Fatalf("expected session present")
	}
	if n := len(store.All()); n != 1 {
		t.Fatalf("expected one live session, got %d", n)
	}

	stranger := create()
	defer stranger.Close()
	if store.DeleteIfEmpty("game-1", stranger) {
		t.Fatalf("expected only the registered session to be removed")
	}
	if !store.DeleteIfEmpty("game-1", session) {
		t.Fatalf("expected empty session to be removed")
	}
	if _, ok := store.Get("game-1"); ok {
		t.Fatalf("expected session removed when empty")
	}
}

func TestSessionStoreKeepsOccupiedSession(t *testing.T) {
	store := NewSessionStore()
	hub := broadcast.NewHub()
	channel := broadcast.NewChannel(hub, nil)
	session := store.GetOrCreate("game-1", func() *app.Session {
		return app.NewSession(app.SessionConfig{GameID: "game-1", Board: sampleBoard(), Channel: channel})
	})
	defer session.Close()

	svc := app.NewGameService(store, NewBoardRepository(NewStaticBoardLoader(map[string]domain.Board{"game-1": sampleBoard()}), 0, nil), nil, nil, channel, nil, app.Options{InstanceID: "i1"})
	if _, err := svc.Join(context.Background(), "game-1", domain.Participant{ClientID: "c1", Role: domain.RoleBoard}); err != nil {
		t.Fatalf("join: %v", err)
	}
	if store.DeleteIfEmpty("game-1", session) {
		t.Fatalf("expected occupied session to stay registered")
	}
}
