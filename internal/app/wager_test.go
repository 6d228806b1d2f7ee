package app

import (
	"testing"

	"trivia-board-service/internal/domain"
)

func TestWagerBounds(t *testing.T) {
	capped := DefaultWagerPolicy()
	boardMax := WagerPolicy{Kind: WagerBoardMax, Floor: 5, Cap: 500, BoardMax: 1000}

	tests := []struct {
		name   string
		policy WagerPolicy
		score  int
		min    int
		max    int
	}{
		{"capped, modest score", capped, 40, 5, 40},
		{"capped, tiny score", capped, 3, 3, 3},
		{"capped, rich team", capped, 2000, 5, 500},
		{"capped, zero score", capped, 0, 5, 5},
		{"capped, negative score", capped, -200, 5, 5},
		{"board max, modest score", boardMax, 40, 5, 1000},
		{"board max, rich team", boardMax, 2400, 5, 2400},
		{"board max, negative score", boardMax, -100, 5, 1000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.policy.Min(tt.score); got != tt.min {
				t.Fatalf("min(%d) = %d, want %d", tt.score, got, tt.min)
			}
			if got := tt.policy.Max(tt.score); got != tt.max {
				t.Fatalf("max(%d) = %d, want %d", tt.score, got, tt.max)
			}
			for w := tt.min - 2; w <= tt.max+2; w++ {
				err := tt.policy.Validate(tt.score, w)
				accepted := w >= tt.min && w <= tt.max
				if accepted && err != nil {
					t.Fatalf("wager %d rejected: %v", w, err)
				}
				if !accepted && !domain.IsValidation(err) {
					t.Fatalf("wager %d accepted outside [%d, %d]", w, tt.min, tt.max)
				}
			}
		})
	}
}

func TestFinalWagerBounds(t *testing.T) {
	if err := validateFinalWager(300, 300); err != nil {
		t.Fatalf("expected full wager allowed: %v", err)
	}
	if err := validateFinalWager(300, 301); !domain.IsValidation(err) {
		t.Fatalf("expected wager above score rejected, got %v", err)
	}
	if err := validateFinalWager(-50, 0); err != nil {
		t.Fatalf("expected zero wager allowed for negative score: %v", err)
	}
	if err := validateFinalWager(-50, 1); !domain.IsValidation(err) {
		t.Fatalf("expected positive wager rejected for negative score, got %v", err)
	}
}

func TestParsePolicies(t *testing.T) {
	if kind, err := ParseWagerPolicyKind(""); err != nil || kind != WagerCapped {
		t.Fatalf("expected capped default, got %q %v", kind, err)
	}
	if _, err := ParseWagerPolicyKind("unlimited"); err == nil {
		t.Fatalf("expected unknown policy rejected")
	}
	if src, err := ParseTimestampSource("server"); err != nil || src != TimestampServer {
		t.Fatalf("expected server source, got %q %v", src, err)
	}
	if _, err := ParseTimestampSource("gps"); err == nil {
		t.Fatalf("expected unknown timestamp source rejected")
	}
}
