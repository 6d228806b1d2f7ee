package domain

import (
	"strings"
	"time"
)

// Phase is the cursor of the active-question state machine.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseOpened    Phase = "opened"
	PhaseWagering  Phase = "wagering"
	PhaseAnswering Phase = "answering"
)

// Judgment is the host's verdict on an answer.
type Judgment string

const (
	JudgmentCorrect   Judgment = "correct"
	JudgmentIncorrect Judgment = "incorrect"
)

// JudgmentFor maps a boolean verdict to a Judgment.
func JudgmentFor(correct bool) Judgment {
	if correct {
		return JudgmentCorrect
	}
	return JudgmentIncorrect
}

// FinalQuestionID is the ledger question id used for the final round.
const FinalQuestionID = "final"

// Role identifies what a connected participant is allowed to do.
type Role string

const (
	RoleHost   Role = "host"
	RolePlayer Role = "player"
	RoleBoard  Role = "board"
)

// Question is immutable board content. Used state lives on the session, not here.
type Question struct {
	ID       string `json:"id"`
	Category string `json:"category"`
	Value    int    `json:"value"`
	Prompt   string `json:"prompt"`
	Answer   string `json:"answer,omitempty"`
	Wagered  bool   `json:"wagered"` // daily double
}

// Board is the question grid of one game.
type Board struct {
	GameID    string     `json:"gameId"`
	Questions []Question `json:"questions"`
}

// Question returns the board question with the given id.
func (b Board) Question(id string) (Question, bool) {
	for _, q := range b.Questions {
		if q.ID == id {
			return q, true
		}
	}
	return Question{}, false
}

// Team is a scoring unit. Score may go negative.
type Team struct {
	ID    string     `json:"id"`
	Name  string     `json:"name"`
	Score int        `json:"score"`
	Final FinalEntry `json:"final"`
}

// FinalEntry holds a team's final-round submission.
type FinalEntry struct {
	Wager       *int       `json:"wager,omitempty"`
	Answer      string     `json:"answer,omitempty"`
	SubmittedAt *time.Time `json:"submittedAt,omitempty"`
	Judgment    Judgment   `json:"judgment,omitempty"`
}

// BuzzEntry is one team's buzz-in for the open question. Timestamp is unix milliseconds.
type BuzzEntry struct {
	TeamID    string `json:"teamId"`
	Timestamp int64  `json:"timestamp"`
}

// ActiveQuestionState is the live state-machine cursor. Nil on a session means idle.
type ActiveQuestionState struct {
	QuestionID     string `json:"questionId"`
	Phase          Phase  `json:"phase"`
	AnsweringTeam  string `json:"answeringTeam,omitempty"`
	Wager          int    `json:"wager,omitempty"`
	WagerSubmitted bool   `json:"wagerSubmitted"`
}

// AuthoritativeState is the persisted view of a game consumed by reconciliation.
type AuthoritativeState struct {
	GameID            string
	HostID            string
	SelectedQuestions []string
	ActiveQuestionID  string
	Teams             []Team
	// AppliedScores lists the score keys already included in the team scores.
	AppliedScores []ScoreKey
}

// ScoreSheet is the ledger's view of a game: current scores and the keys that produced them.
// Both are read at the same point in time.
type ScoreSheet struct {
	Scores  map[string]int
	Applied []ScoreKey
}

// ScoreKey makes a score mutation idempotent.
type ScoreKey struct {
	QuestionID string
	TeamID     string
	Judgment   Judgment
}

func (k ScoreKey) String() string {
	return k.QuestionID + ":" + k.TeamID + ":" + string(k.Judgment)
}

// ParseScoreKey reverses ScoreKey.String. Team ids may contain colons; question ids and
// judgments may not.
func ParseScoreKey(s string) (ScoreKey, bool) {
	first := strings.Index(s, ":")
	last := strings.LastIndex(s, ":")
	if first < 0 || first == last {
		return ScoreKey{}, false
	}
	key := ScoreKey{QuestionID: s[:first], TeamID: s[first+1 : last], Judgment: Judgment(s[last+1:])}
	if key.QuestionID == "" || key.TeamID == "" || key.Judgment == "" {
		return ScoreKey{}, false
	}
	return key, true
}

// ScoreDelta is one request to the score ledger.
type ScoreDelta struct {
	GameID string
	TeamID string
	HostID string
	Delta  int
	Key    ScoreKey
}

// ScoreResult is the ledger's answer. Applied is false when the key was already used.
type ScoreResult struct {
	TeamID   string `json:"teamId"`
	NewScore int    `json:"newScore"`
	Applied  bool   `json:"applied"`
}

// Participant identifies a connected client.
type Participant struct {
	ClientID    string
	DisplayName string
	Role        Role
	TeamID      string
	HostID      string
}

// TeamStanding is a snapshot-friendly view of a team.
type TeamStanding struct {
	TeamID string      `json:"teamId"`
	Name   string      `json:"name"`
	Score  int         `json:"score"`
	Final  *FinalEntry `json:"final,omitempty"`
}

// Resolution describes the last judged answer, for score animation.
type Resolution struct {
	QuestionID string   `json:"questionId"`
	TeamID     string   `json:"teamId"`
	Judgment   Judgment `json:"judgment"`
	Delta      int      `json:"delta"`
}

// GameView is the snapshot pushed to participants after every transition.
type GameView struct {
	GameID         string               `json:"gameId"`
	Phase          Phase                `json:"phase"`
	Active         *ActiveQuestionState `json:"active,omitempty"`
	Question       *Question            `json:"question,omitempty"`
	Queue          []BuzzEntry          `json:"queue"`
	UsedQuestions  []string             `json:"usedQuestions"`
	Teams          []TeamStanding       `json:"teams"`
	FinalOpen      bool                 `json:"finalOpen"`
	LastResolution *Resolution          `json:"lastResolution,omitempty"`
	Stale          bool                 `json:"stale"`
	Warning        string               `json:"warning,omitempty"`
	UpdatedAt      time.Time            `json:"updatedAt"`
}
