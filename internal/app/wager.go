package app

import (
	"fmt"

	"trivia-board-service/internal/domain"
)

// WagerPolicyKind selects how the maximum wager is derived from a team's score.
type WagerPolicyKind string

const (
	// WagerCapped allows up to the team's score, never above Cap.
	WagerCapped WagerPolicyKind = "capped"
	// WagerBoardMax allows up to the larger of the team's score and BoardMax.
	WagerBoardMax WagerPolicyKind = "board_max"
)

// WagerPolicy bounds wagers on wagered (daily double) questions.
type WagerPolicy struct {
	Kind     WagerPolicyKind
	Floor    int
	Cap      int
	BoardMax int
}

func DefaultWagerPolicy() WagerPolicy {
	return WagerPolicy{Kind: WagerCapped, Floor: 5, Cap: 500, BoardMax: 1000}
}

// ParseWagerPolicyKind accepts the configured policy name; empty means capped.
func ParseWagerPolicyKind(raw string) (WagerPolicyKind, error) {
	switch WagerPolicyKind(raw) {
	case "", WagerCapped:
		return WagerCapped, nil
	case WagerBoardMax:
		return WagerBoardMax, nil
	}
	return "", fmt.Errorf("unknown wager policy %q", raw)
}

// Min is the floor, or the score itself when positive and below the floor.
func (p WagerPolicy) Min(score int) int {
	if score > 0 && score < p.Floor {
		return score
	}
	return p.Floor
}

// Max is the largest accepted wager for a team with the given score.
func (p WagerPolicy) Max(score int) int {
	if p.Kind == WagerBoardMax {
		if score > p.BoardMax {
			return score
		}
		return p.BoardMax
	}
	switch {
	case score <= 0:
		return p.Floor
	case score > p.Cap:
		return p.Cap
	default:
		return score
	}
}

// Validate accepts wager iff Min(score) <= wager <= Max(score). Out-of-range wagers are
// rejected, never clamped.
func (p WagerPolicy) Validate(score, wager int) error {
	lo, hi := p.Min(score), p.Max(score)
	if wager < lo || wager > hi {
		return domain.Invalid("wager", "must be between %d and %d, got %d", lo, hi, wager)
	}
	return nil
}

// validateFinalWager bounds final-round wagers to what the team has, at least zero.
func validateFinalWager(score, wager int) error {
	hi := score
	if hi < 0 {
		hi = 0
	}
	if wager < 0 || wager > hi {
		return domain.Invalid("wager", "must be between 0 and %d, got %d", hi, wager)
	}
	return nil
}
