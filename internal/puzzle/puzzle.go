// Package puzzle holds the pure rules for authoring and solving rhythm
// locks: validation, matching, scoring and the hint policy.
package puzzle

import "github.com/DoyleJ11/beat-escape-backend/internal/room"

const (
	WrongPenalty  = 15
	HintPenalty   = 20
	MaxLockScore  = 100
	HintThreshold = 3
)

func CountActiveNotes(g room.Grid) int {
	return g.ActiveNotes()
}

// ValidatePattern reports whether g has at least minNotes active cells.
func ValidatePattern(g room.Grid, minNotes int) bool {
	return CountActiveNotes(g) >= minNotes
}

// PatternsMatch is exact positional equality over every instrument and beat.
// A missing row compares as all-off.
func PatternsMatch(a, b room.Grid) bool {
	return a.Equal(b)
}

func ScoreLock(wrongAttempts, hintsRevealed int) int {
	return max(MaxLockScore-WrongPenalty*wrongAttempts-HintPenalty*hintsRevealed, 0)
}
