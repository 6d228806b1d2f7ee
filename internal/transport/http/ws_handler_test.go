package http

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"trivia-board-service/internal/app"
	"trivia-board-service/internal/auth"
	"trivia-board-service/internal/broadcast"
	"trivia-board-service/internal/domain"
	"trivia-board-service/internal/infra/memory"
)

const testHostID = "host-1"

func newTestServer(t *testing.T, verifier *auth.Verifier) *httptest.Server {
	t.Helper()
	store := memory.NewGameStore()
	store.Seed(domain.AuthoritativeState{
		GameID: "game-1",
		HostID: testHostID,
		Teams:  []domain.Team{{ID: "a", Name: "Alpha"}, {ID: "b", Name: "Beta"}},
	})
	boards := memory.NewBoardRepository(memory.NewStaticBoardLoader(map[string]domain.Board{
		"game-1": {
			GameID: "game-1",
			Questions: []domain.Question{
				{ID: "q1", Category: "Science", Value: 300, Prompt: "H2O", Answer: "Water"},
				{ID: "q2", Category: "Science", Value: 500, Prompt: "Au", Answer: "Gold", Wagered: true},
			},
		},
	}), time.Minute, nil)
	retry := app.RetryPolicy{MaxRetries: 2, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond}
	clock := clockwork.NewRealClock()

	service := app.NewGameService(
		memory.NewSessionStore(),
		boards,
		store,
		app.NewRetryingLedger(store, retry),
		broadcast.NewChannel(broadcast.NewHub(), clock),
		app.NewReconciler(store, store, retry),
		app.Options{InstanceID: "instance-1", Retry: retry, Clock: clock},
	)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = service.Shutdown(ctx)
	})

	router := NewRouter(
		NewWSHandler(service, verifier, DefaultWSConfig()),
		NewAPIHandler(service, "https://play.example.com/join"),
		nil,
	)
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return server
}

func dial(t *testing.T, server *httptest.Server, params url.Values) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws?" + params.Encode()
	conn, resp, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		t.Fatalf("dial: %v (status %d)", err, status)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

type message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// readUntil reads messages until match accepts one, skipping the rest.
func readUntil(t *testing.T, conn *websocket.Conn, what string, match func(message) bool) message {
	t.Helper()
	for i := 0; i < 30; i++ {
		var msg message
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("waiting for %s: %v", what, err)
		}
		if match(msg) {
			return msg
		}
	}
	t.Fatalf("gave up waiting for %s", what)
	return message{}
}

func ofType(typ string) func(message) bool {
	return func(m message) bool { return m.Type == typ }
}

func stateWhere(pred func(domain.GameView) bool) func(message) bool {
	return func(m message) bool {
		if m.Type != "state" {
			return false
		}
		var view domain.GameView
		if err := json.Unmarshal(m.Payload, &view); err != nil {
			return false
		}
		return pred(view)
	}
}

func send(t *testing.T, conn *websocket.Conn, typ string, payload map[string]any) {
	t.Helper()
	if err := conn.WriteJSON(map[string]any{"type": typ, "payload": payload}); err != nil {
		t.Fatalf("write %s: %v", typ, err)
	}
}

func teamScore(view domain.GameView, teamID string) int {
	for _, team := range view.Teams {
		if team.TeamID == teamID {
			return team.Score
		}
	}
	return -1
}

func TestWebSocketGameFlow(t *testing.T) {
	server := newTestServer(t, nil)
	hostConn := dial(t, server, url.Values{"gameId": {"game-1"}, "role": {"host"}, "hostId": {testHostID}})
	readUntil(t, hostConn, "host joined", ofType("joined"))
	playerConn := dial(t, server, url.Values{"gameId": {"game-1"}, "clientId": {"p-a"}, "name": {"Ada"}, "teamId": {"a"}})
	joined := readUntil(t, playerConn, "player joined", ofType("joined"))

	var payload joinedPayload
	if err := json.Unmarshal(joined.Payload, &payload); err != nil {
		t.Fatalf("decode joined: %v", err)
	}
	if payload.ClientID != "p-a" || payload.Role != domain.RolePlayer || payload.TeamID != "a" {
		t.Fatalf("unexpected joined payload %+v", payload)
	}

	send(t, hostConn, "select", map[string]any{"questionId": "q1"})
	opened := readUntil(t, playerConn, "question opened", stateWhere(func(v domain.GameView) bool {
		return v.Phase == domain.PhaseOpened
	}))
	var view domain.GameView
	_ = json.Unmarshal(opened.Payload, &view)
	if view.Question == nil || view.Question.Answer != "" {
		t.Fatalf("players must see the prompt without the answer, got %+v", view.Question)
	}

	send(t, playerConn, "buzz", map[string]any{"timestamp": 100})
	readUntil(t, hostConn, "answering", stateWhere(func(v domain.GameView) bool {
		return v.Phase == domain.PhaseAnswering && v.Active != nil && v.Active.AnsweringTeam == "a"
	}))

	send(t, hostConn, "judge", map[string]any{"correct": true})
	readUntil(t, playerConn, "scored", stateWhere(func(v domain.GameView) bool {
		return v.Phase == domain.PhaseIdle && teamScore(v, "a") == 300
	}))
}

func TestWebSocketRejectsActions(t *testing.T) {
	server := newTestServer(t, nil)
	playerConn := dial(t, server, url.Values{"gameId": {"game-1"}, "teamId": {"b"}})
	readUntil(t, playerConn, "joined", ofType("joined"))

	cases := []struct {
		typ     string
		payload map[string]any
		code    string
	}{
		{"select", map[string]any{"questionId": "q1"}, "unauthorized"},
		{"buzz", map[string]any{"teamId": "a", "timestamp": 1}, "unauthorized"},
		{"shout", nil, "invalid"},
	}
	for _, tc := range cases {
		send(t, playerConn, tc.typ, tc.payload)
		msg := readUntil(t, playerConn, tc.typ+" error", ofType("error"))
		var e errorPayload
		if err := json.Unmarshal(msg.Payload, &e); err != nil {
			t.Fatalf("decode error: %v", err)
		}
		if e.Code != tc.code {
			t.Fatalf("%s: expected code %s, got %+v", tc.typ, tc.code, e)
		}
	}
}

func TestWebSocketUnknownTeam(t *testing.T) {
	server := newTestServer(t, nil)
	conn := dial(t, server, url.Values{"gameId": {"game-1"}, "teamId": {"zzz"}})
	msg := readUntil(t, conn, "error", ofType("error"))
	var e errorPayload
	_ = json.Unmarshal(msg.Payload, &e)
	if e.Code != "not_found" {
		t.Fatalf("expected not_found, got %+v", e)
	}
}

func TestHostTokenRequired(t *testing.T) {
	verifier := auth.NewVerifier("secret", "")
	server := newTestServer(t, verifier)
	base := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws?"

	_, resp, err := websocket.DefaultDialer.Dial(base+url.Values{
		"gameId": {"game-1"}, "role": {"host"}, "hostId": {testHostID},
	}.Encode(), nil)
	if err == nil {
		t.Fatalf("expected host without token to be rejected")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %+v", resp)
	}

	token, err := verifier.IssueHost(testHostID, "game-1", time.Hour, time.Now())
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	conn := dial(t, server, url.Values{"gameId": {"game-1"}, "role": {"host"}, "token": {token}})
	readUntil(t, conn, "joined", ofType("joined"))
	send(t, conn, "select", map[string]any{"questionId": "q1"})
	readUntil(t, conn, "opened", stateWhere(func(v domain.GameView) bool {
		return v.Phase == domain.PhaseOpened && v.Question != nil && v.Question.Answer == "Water"
	}))
}

func TestStateEndpoint(t *testing.T) {
	server := newTestServer(t, nil)

	resp, err := http.Get(server.URL + "/games/game-1/state")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 before anyone joined, got %d", resp.StatusCode)
	}

	conn := dial(t, server, url.Values{"gameId": {"game-1"}, "role": {"board"}})
	readUntil(t, conn, "joined", ofType("joined"))

	resp, err = http.Get(server.URL + "/games/game-1/state")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var view domain.GameView
	if err := json.NewDecoder(resp.Body).Decode(&view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if view.GameID != "game-1" || len(view.Teams) != 2 {
		t.Fatalf("unexpected view %+v", view)
	}
}

func TestQREndpoint(t *testing.T) {
	server := newTestServer(t, nil)
	resp, err := http.Get(server.URL + "/games/game-1/qr")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "image/png" {
		t.Fatalf("expected png, got %s", ct)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.HasPrefix(string(body), "\x89PNG") {
		t.Fatalf("expected png signature")
	}
}

func TestJoinURL(t *testing.T) {
	h := NewAPIHandler(nil, "https://play.example.com/join?lang=en")
	r := httptest.NewRequest(http.MethodGet, "/games/g%201/qr", nil)
	if got := h.joinURL(r, "g 1"); got != "https://play.example.com/join?gameId=g+1&lang=en" {
		t.Fatalf("unexpected join url %s", got)
	}

	h = NewAPIHandler(nil, "")
	r = httptest.NewRequest(http.MethodGet, "http://board.local/games/g1/qr", nil)
	r.Header.Set("X-Forwarded-Proto", "https")
	if got := h.joinURL(r, "g1"); got != "https://board.local/join?gameId=g1" {
		t.Fatalf("unexpected derived join url %s", got)
	}
}
