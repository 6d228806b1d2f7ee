package broadcast

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"trivia-board-service/internal/domain"
)

// EventType names a game event on the wire.
type EventType string

const (
	EventQuestionSelected EventType = "question_selected"
	EventBuzz             EventType = "buzz"
	EventBuzzersCleared   EventType = "buzzers_cleared"
	EventTeamChosen       EventType = "team_chosen"
	EventWagerSubmitted   EventType = "wager_submitted"
	EventAnswerJudged     EventType = "answer_judged"
	EventQuestionClosed   EventType = "question_closed"
	EventFinalOpened      EventType = "final_opened"
	EventFinalWager       EventType = "final_wager"
	EventFinalAnswer      EventType = "final_answer"
	EventFinalJudged      EventType = "final_judged"
)

// Envelope wraps every event published on a game topic.
type Envelope struct {
	ID      string          `json:"id"`
	GameID  string          `json:"gameId"`
	Type    EventType       `json:"type"`
	Origin  string          `json:"origin"`
	SentAt  time.Time       `json:"sentAt"`
	Payload json.RawMessage `json:"payload"`
}

// Payload is a typed event body.
type Payload interface {
	EventType() EventType
	Validate() error
}

// Event is a decoded, validated inbound event.
type Event struct {
	Envelope
	Body Payload
}

var errMissing = errors.New("missing required field")

func required(field, value string) error {
	if value == "" {
		return fmt.Errorf("%s: %w", field, errMissing)
	}
	return nil
}

type QuestionSelected struct {
	QuestionID string `json:"questionId"`
}

func (QuestionSelected) EventType() EventType { return EventQuestionSelected }
func (p QuestionSelected) Validate() error    { return required("questionId", p.QuestionID) }

type Buzz struct {
	QuestionID string `json:"questionId"`
	TeamID     string `json:"teamId"`
	Timestamp  int64  `json:"timestamp"`
}

func (Buzz) EventType() EventType { return EventBuzz }
func (p Buzz) Validate() error {
	if err := required("questionId", p.QuestionID); err != nil {
		return err
	}
	if err := required("teamId", p.TeamID); err != nil {
		return err
	}
	if p.Timestamp <= 0 {
		return fmt.Errorf("timestamp: must be positive, got %d", p.Timestamp)
	}
	return nil
}

type BuzzersCleared struct {
	QuestionID string `json:"questionId"`
}

func (BuzzersCleared) EventType() EventType { return EventBuzzersCleared }
func (p BuzzersCleared) Validate() error    { return required("questionId", p.QuestionID) }

type TeamChosen struct {
	QuestionID string `json:"questionId"`
	TeamID     string `json:"teamId"`
}

func (TeamChosen) EventType() EventType { return EventTeamChosen }
func (p TeamChosen) Validate() error {
	if err := required("questionId", p.QuestionID); err != nil {
		return err
	}
	return required("teamId", p.TeamID)
}

type WagerSubmitted struct {
	QuestionID string `json:"questionId"`
	TeamID     string `json:"teamId"`
	Amount     int    `json:"amount"`
}

func (WagerSubmitted) EventType() EventType { return EventWagerSubmitted }
func (p WagerSubmitted) Validate() error {
	if err := required("questionId", p.QuestionID); err != nil {
		return err
	}
	if err := required("teamId", p.TeamID); err != nil {
		return err
	}
	if p.Amount < 0 {
		return fmt.Errorf("amount: must not be negative, got %d", p.Amount)
	}
	return nil
}

type AnswerJudged struct {
	QuestionID string          `json:"questionId"`
	TeamID     string          `json:"teamId"`
	Judgment   domain.Judgment `json:"judgment"`
	Delta      int             `json:"delta"`
}

func (AnswerJudged) EventType() EventType { return EventAnswerJudged }
func (p AnswerJudged) Validate() error {
	if err := required("questionId", p.QuestionID); err != nil {
		return err
	}
	if err := required("teamId", p.TeamID); err != nil {
		return err
	}
	return validJudgment(p.Judgment, p.Delta)
}

type QuestionClosed struct {
	QuestionID string `json:"questionId"`
}

func (QuestionClosed) EventType() EventType { return EventQuestionClosed }
func (p QuestionClosed) Validate() error    { return required("questionId", p.QuestionID) }

type FinalOpened struct {
	Category string `json:"category,omitempty"`
}

func (FinalOpened) EventType() EventType { return EventFinalOpened }
func (FinalOpened) Validate() error      { return nil }

type FinalWager struct {
	TeamID string `json:"teamId"`
	Amount int    `json:"amount"`
}

func (FinalWager) EventType() EventType { return EventFinalWager }
func (p FinalWager) Validate() error {
	if err := required("teamId", p.TeamID); err != nil {
		return err
	}
	if p.Amount < 0 {
		return fmt.Errorf("amount: must not be negative, got %d", p.Amount)
	}
	return nil
}

type FinalAnswer struct {
	TeamID      string    `json:"teamId"`
	Answer      string    `json:"answer"`
	SubmittedAt time.Time `json:"submittedAt"`
}

func (FinalAnswer) EventType() EventType { return EventFinalAnswer }
func (p FinalAnswer) Validate() error {
	if err := required("teamId", p.TeamID); err != nil {
		return err
	}
	if p.SubmittedAt.IsZero() {
		return fmt.Errorf("submittedAt: %w", errMissing)
	}
	return nil
}

type FinalJudged struct {
	TeamID   string          `json:"teamId"`
	Judgment domain.Judgment `json:"judgment"`
	Delta    int             `json:"delta"`
}

func (FinalJudged) EventType() EventType { return EventFinalJudged }
func (p FinalJudged) Validate() error {
	if err := required("teamId", p.TeamID); err != nil {
		return err
	}
	return validJudgment(p.Judgment, p.Delta)
}

func validJudgment(j domain.Judgment, delta int) error {
	switch j {
	case domain.JudgmentCorrect:
		if delta < 0 {
			return fmt.Errorf("delta: correct judgment with negative delta %d", delta)
		}
	case domain.JudgmentIncorrect:
		if delta > 0 {
			return fmt.Errorf("delta: incorrect judgment with positive delta %d", delta)
		}
	default:
		return fmt.Errorf("judgment: unknown value %q", j)
	}
	return nil
}

func newPayload(t EventType) (Payload, bool) {
	switch t {
	case EventQuestionSelected:
		return &QuestionSelected{}, true
	case EventBuzz:
		return &Buzz{}, true
	case EventBuzzersCleared:
		return &BuzzersCleared{}, true
	case EventTeamChosen:
		return &TeamChosen{}, true
	case EventWagerSubmitted:
		return &WagerSubmitted{}, true
	case EventAnswerJudged:
		return &AnswerJudged{}, true
	case EventQuestionClosed:
		return &QuestionClosed{}, true
	case EventFinalOpened:
		return &FinalOpened{}, true
	case EventFinalWager:
		return &FinalWager{}, true
	case EventFinalAnswer:
		return &FinalAnswer{}, true
	case EventFinalJudged:
		return &FinalJudged{}, true
	}
	return nil, false
}

// Decode parses and validates a wire event. Nothing is returned for partially valid input.
func Decode(data []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Event{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.ID == "" || env.GameID == "" {
		return Event{}, fmt.Errorf("envelope: %w", errMissing)
	}
	ptr, ok := newPayload(env.Type)
	if !ok {
		return Event{}, fmt.Errorf("unknown event type %q", env.Type)
	}
	if len(env.Payload) == 0 || string(env.Payload) == "null" {
		return Event{}, fmt.Errorf("payload: %w", errMissing)
	}
	if err := json.Unmarshal(env.Payload, ptr); err != nil {
		return Event{}, fmt.Errorf("decode %s payload: %w", env.Type, err)
	}
	body := deref(ptr)
	if err := body.Validate(); err != nil {
		return Event{}, fmt.Errorf("invalid %s payload: %w", env.Type, err)
	}
	return Event{Envelope: env, Body: body}, nil
}

// deref turns the decoding pointer back into the value type handlers switch on.
func deref(p Payload) Payload {
	switch v := p.(type) {
	case *QuestionSelected:
		return *v
	case *Buzz:
		return *v
	case *BuzzersCleared:
		return *v
	case *TeamChosen:
		return *v
	case *WagerSubmitted:
		return *v
	case *AnswerJudged:
		return *v
	case *QuestionClosed:
		return *v
	case *FinalOpened:
		return *v
	case *FinalWager:
		return *v
	case *FinalAnswer:
		return *v
	case *FinalJudged:
		return *v
	}
	return p
}
