// Package broadcast propagates game events between every participant of a game.
//
// Delivery is at-least-once and includes the publisher itself, so the same handler path
// drives local and remote state changes. Events of one type from one sender arrive in send
// order; nothing is assumed across types.
package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Transport is the pub/sub collaborator: a named topic with fire-and-forget publish and
// multi-subscriber fan-out. Publishers must also receive their own messages.
type Transport interface {
	Publish(ctx context.Context, topic string, data []byte) error
	Subscribe(topic string, deliver func(data []byte)) (unsubscribe func() error, err error)
}

// Handlers receive validated events for one game. Nil handlers ignore their event type.
type Handlers struct {
	OnQuestionSelected func(Envelope, QuestionSelected)
	OnBuzz             func(Envelope, Buzz)
	OnClear            func(Envelope, BuzzersCleared)
	OnTeamChosen       func(Envelope, TeamChosen)
	OnWager            func(Envelope, WagerSubmitted)
	OnJudged           func(Envelope, AnswerJudged)
	OnQuestionClosed   func(Envelope, QuestionClosed)
	OnFinalOpened      func(Envelope, FinalOpened)
	OnFinalWager       func(Envelope, FinalWager)
	OnFinalAnswer      func(Envelope, FinalAnswer)
	OnFinalJudged      func(Envelope, FinalJudged)
}

func (h Handlers) dispatch(ev Event) {
	switch p := ev.Body.(type) {
	case QuestionSelected:
		if h.OnQuestionSelected != nil {
			h.OnQuestionSelected(ev.Envelope, p)
		}
	case Buzz:
		if h.OnBuzz != nil {
			h.OnBuzz(ev.Envelope, p)
		}
	case BuzzersCleared:
		if h.OnClear != nil {
			h.OnClear(ev.Envelope, p)
		}
	case TeamChosen:
		if h.OnTeamChosen != nil {
			h.OnTeamChosen(ev.Envelope, p)
		}
	case WagerSubmitted:
		if h.OnWager != nil {
			h.OnWager(ev.Envelope, p)
		}
	case AnswerJudged:
		if h.OnJudged != nil {
			h.OnJudged(ev.Envelope, p)
		}
	case QuestionClosed:
		if h.OnQuestionClosed != nil {
			h.OnQuestionClosed(ev.Envelope, p)
		}
	case FinalOpened:
		if h.OnFinalOpened != nil {
			h.OnFinalOpened(ev.Envelope, p)
		}
	case FinalWager:
		if h.OnFinalWager != nil {
			h.OnFinalWager(ev.Envelope, p)
		}
	case FinalAnswer:
		if h.OnFinalAnswer != nil {
			h.OnFinalAnswer(ev.Envelope, p)
		}
	case FinalJudged:
		if h.OnFinalJudged != nil {
			h.OnFinalJudged(ev.Envelope, p)
		}
	}
}

// Channel binds game topics on a Transport to typed handlers.
type Channel struct {
	transport Transport
	clock     clockwork.Clock

	mu   sync.Mutex
	subs map[subKey]*Subscription
}

type subKey struct {
	gameID   string
	clientID string
}

// Subscription is one client's registration on a game topic.
type Subscription struct {
	channel     *Channel
	key         subKey
	unsubscribe func() error
	once        sync.Once
}

func NewChannel(transport Transport, clock clockwork.Clock) *Channel {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Channel{
		transport: transport,
		clock:     clock,
		subs:      make(map[subKey]*Subscription),
	}
}

// Topic is the pub/sub topic name for a game.
func Topic(gameID string) string {
	return "game." + gameID
}

// GameID reverses Topic.
func GameID(topic string) (string, bool) {
	id, ok := strings.CutPrefix(topic, "game.")
	return id, ok && id != ""
}

// Subscribe registers handlers for gameID on behalf of clientID. Subscribing again with the
// same pair replaces the earlier registration, so a reconnect never doubles delivery.
func (c *Channel) Subscribe(gameID, clientID string, h Handlers) (*Subscription, error) {
	key := subKey{gameID: gameID, clientID: clientID}

	c.mu.Lock()
	defer c.mu.Unlock()

	if prev, ok := c.subs[key]; ok {
		delete(c.subs, key)
		if err := prev.release(); err != nil {
			log.Warn().Err(err).Str("game_id", gameID).Str("client_id", clientID).Msg("releasing previous subscription")
		}
	}

	deliver := func(data []byte) {
		ev, err := Decode(data)
		if err != nil {
			log.Warn().Err(err).Str("game_id", gameID).Str("client_id", clientID).Msg("dropping malformed broadcast event")
			return
		}
		if ev.GameID != gameID {
			log.Warn().Str("game_id", gameID).Str("event_game_id", ev.GameID).Msg("dropping event for another game")
			return
		}
		h.dispatch(ev)
	}

	unsubscribe, err := c.transport.Subscribe(Topic(gameID), deliver)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", Topic(gameID), err)
	}
	sub := &Subscription{channel: c, key: key, unsubscribe: unsubscribe}
	c.subs[key] = sub

	log.Debug().Str("game_id", gameID).Str("client_id", clientID).Msg("subscribed to game topic")
	return sub, nil
}

// Send publishes payload on the game topic and returns the envelope that went out.
func (c *Channel) Send(ctx context.Context, gameID, origin string, payload Payload) (Envelope, error) {
	if err := payload.Validate(); err != nil {
		return Envelope{}, fmt.Errorf("invalid %s payload: %w", payload.EventType(), err)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal payload: %w", err)
	}
	env := Envelope{
		ID:      uuid.New().String(),
		GameID:  gameID,
		Type:    payload.EventType(),
		Origin:  origin,
		SentAt:  c.clock.Now().UTC(),
		Payload: body,
	}
	data, err := json.Marshal(env)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal envelope: %w", err)
	}
	if err := c.transport.Publish(ctx, Topic(gameID), data); err != nil {
		return Envelope{}, fmt.Errorf("publish %s: %w", env.Type, err)
	}
	log.Debug().
		Str("game_id", gameID).
		Str("event_id", env.ID).
		Str("event_type", string(env.Type)).
		Str("origin", origin).
		Msg("event published")
	return env, nil
}

// Close removes the subscription. Closing a subscription that was already replaced is a no-op.
func (s *Subscription) Close() error {
	s.channel.mu.Lock()
	if cur, ok := s.channel.subs[s.key]; ok && cur == s {
		delete(s.channel.subs, s.key)
	}
	s.channel.mu.Unlock()
	return s.release()
}

func (s *Subscription) release() error {
	var err error
	s.once.Do(func() {
		err = s.unsubscribe()
	})
	return err
}
