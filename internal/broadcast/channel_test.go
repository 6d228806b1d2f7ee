package broadcast

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

func TestSenderReceivesOwnEvent(t *testing.T) {
	hub := NewHub()
	ch := NewChannel(hub, clockwork.NewFakeClock())

	var got []Buzz
	sub, err := ch.Subscribe("g1", "host", Handlers{
		OnBuzz: func(_ Envelope, b Buzz) { got = append(got, b) },
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	env, err := ch.Send(context.Background(), "g1", "host", Buzz{QuestionID: "q1", TeamID: "a", Timestamp: 100})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if env.ID == "" || env.Origin != "host" {
		t.Fatalf("unexpected envelope %+v", env)
	}
	if len(got) != 1 || got[0].TeamID != "a" || got[0].Timestamp != 100 {
		t.Fatalf("expected own buzz delivered once, got %+v", got)
	}
}

func TestResubscribeReplacesHandlers(t *testing.T) {
	hub := NewHub()
	ch := NewChannel(hub, clockwork.NewFakeClock())

	first, second := 0, 0
	if _, err := ch.Subscribe("g1", "c1", Handlers{OnClear: func(Envelope, BuzzersCleared) { first++ }}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	sub, err := ch.Subscribe("g1", "c1", Handlers{OnClear: func(Envelope, BuzzersCleared) { second++ }})
	if err != nil {
		t.Fatalf("resubscribe: %v", err)
	}
	if n := hub.Subscribers(Topic("g1")); n != 1 {
		t.Fatalf("expected a single registration, got %d", n)
	}

	if _, err := ch.Send(context.Background(), "g1", "c1", BuzzersCleared{QuestionID: "q1"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if first != 0 || second != 1 {
		t.Fatalf("expected only the latest handlers to run, first=%d second=%d", first, second)
	}

	_ = sub.Close()
	if n := hub.Subscribers(Topic("g1")); n != 0 {
		t.Fatalf("expected no registrations after close, got %d", n)
	}
}

func TestMalformedEventsAreDropped(t *testing.T) {
	hub := NewHub()
	ch := NewChannel(hub, clockwork.NewFakeClock())

	calls := 0
	if _, err := ch.Subscribe("g1", "c1", Handlers{
		OnBuzz:   func(Envelope, Buzz) { calls++ },
		OnJudged: func(Envelope, AnswerJudged) { calls++ },
	}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	bad := [][]byte{
		[]byte(`not json`),
		envelopeJSON(t, "buzz", `{"questionId":"q1","teamId":"a"}`),             // no timestamp
		envelopeJSON(t, "buzz", `{"questionId":"q1","teamId":7,"timestamp":1}`), // wrong type
		envelopeJSON(t, "answer_judged", `{"questionId":"q1","teamId":"a","judgment":"maybe"}`),
		envelopeJSON(t, "answer_judged", `{"questionId":"q1","teamId":"a","judgment":"correct","delta":-5}`),
		envelopeJSON(t, "mystery", `{}`),
	}
	for _, data := range bad {
		if err := hub.Publish(context.Background(), Topic("g1"), data); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	if calls != 0 {
		t.Fatalf("expected malformed events to be dropped, handlers ran %d times", calls)
	}

	if err := hub.Publish(context.Background(), Topic("g1"), envelopeJSON(t, "buzz", `{"questionId":"q1","teamId":"a","timestamp":5}`)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected valid event to be applied, calls=%d", calls)
	}
}

func TestSendRejectsInvalidPayload(t *testing.T) {
	ch := NewChannel(NewHub(), nil)
	if _, err := ch.Send(context.Background(), "g1", "c1", Buzz{QuestionID: "q1"}); err == nil {
		t.Fatalf("expected validation error for buzz without team")
	}
}

func envelopeJSON(t *testing.T, typ, payload string) []byte {
	t.Helper()
	data, err := json.Marshal(Envelope{
		ID:      "evt-" + typ,
		GameID:  "g1",
		Type:    EventType(typ),
		Origin:  "test",
		SentAt:  time.Unix(0, 0).UTC(),
		Payload: json.RawMessage(payload),
	})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return data
}

func TestGameIDReversesTopic(t *testing.T) {
	if id, ok := GameID(Topic("g1")); !ok || id != "g1" {
		t.Fatalf("expected g1, got %q %v", id, ok)
	}
	for _, topic := range []string{"game.", "lobby.g1", ""} {
		if id, ok := GameID(topic); ok {
			t.Fatalf("expected %q rejected, got %q", topic, id)
		}
	}
}
