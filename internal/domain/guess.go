package domain

import (
	"fmt"

	json "github.com/goccy/go-json"
)

// Game constants: a puzzle has four categories and a game ends after four mistakes
const (
	NumCategories = 4
	MaxMistakes   = 4
	WordsPerGuess = 4
)

// Guess is one submitted grouping attempt. Difficulty is the category rank
// (0 easiest to 3 hardest) and is only meaningful when the guess is correct.
// WordDifficulties carries the per-word category rank and is only populated
// once the submitting player's game is complete, so unsolved categories are
// not spoiled mid-game.
type Guess struct {
	Words            []string `json:"words"`
	Correct          bool     `json:"correct"`
	Difficulty       *int     `json:"difficulty"`
	WordDifficulties []int    `json:"wordDifficulties,omitempty"`
	Timestamp        int64    `json:"timestamp,omitempty"`
}

// GuessHistory is the ordered sequence of a player's guesses, oldest first.
type GuessHistory []Guess

// CorrectCount returns the number of solved categories, capped at NumCategories
func (h GuessHistory) CorrectCount() int {
	n := 0
	for _, g := range h {
		if g.Correct {
			n++
		}
	}
	// Tolerate historical overflow from a misbehaving client
	if n > NumCategories {
		n = NumCategories
	}
	return n
}

// MistakeCount returns the number of incorrect guesses
func (h GuessHistory) MistakeCount() int {
	n := 0
	for _, g := range h {
		if !g.Correct {
			n++
		}
	}
	return n
}

// Complete reports whether this history ends the game: all categories solved
// or the mistake limit reached
func (h GuessHistory) Complete() bool {
	return h.CorrectCount() == NumCategories || h.MistakeCount() >= MaxMistakes
}

// SolvedDifficulties returns the category ranks solved so far, in guess order
func (h GuessHistory) SolvedDifficulties() []int {
	var out []int
	for _, g := range h {
		if g.Correct && g.Difficulty != nil {
			out = append(out, *g.Difficulty)
		}
	}
	return out
}

// EncodeHistory serializes a guess history to JSON for storage and transport
func EncodeHistory(h GuessHistory) ([]byte, error) {
	if h == nil {
		h = GuessHistory{}
	}
	return json.Marshal(h)
}

// DecodeHistory parses a stored guess history. A nil or empty payload decodes
// to an empty history rather than an error.
func DecodeHistory(data []byte) (GuessHistory, error) {
	if len(data) == 0 {
		return GuessHistory{}, nil
	}
	var h GuessHistory
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("decoding guess history: %w", err)
	}
	return h, nil
}
