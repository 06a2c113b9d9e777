package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func historyWithSolves(difficulties ...int) GuessHistory {
	var h GuessHistory
	for _, d := range difficulties {
		h = append(h, correctGuess(d))
	}
	return h
}

func TestTiebreakScoreRewardsHardAndEarly(t *testing.T) {
	// Purple first beats purple last
	early := historyWithSolves(3, 2, 1, 0)
	late := historyWithSolves(0, 1, 2, 3)
	assert.Greater(t, TiebreakScore(early), TiebreakScore(late))

	// A mistake before a solve lowers its positional multiplier
	clean := historyWithSolves(3)
	delayed := GuessHistory{wrongGuess(), correctGuess(3)}
	assert.Greater(t, TiebreakScore(clean), TiebreakScore(delayed))
}

func TestTiebreakScoreIgnoresJunk(t *testing.T) {
	bad := 7
	h := GuessHistory{
		{Correct: true, Difficulty: &bad},
		{Correct: true}, // no difficulty recorded
		wrongGuess(),
	}
	assert.Equal(t, 0, TiebreakScore(h))
}

func TestRankResultsOrder(t *testing.T) {
	results := []GameResult{
		{UserID: "c", Score: 3, Mistakes: 2},
		{UserID: "a", Score: 4, Mistakes: 0},
		{UserID: "b", Score: 4, Mistakes: 1},
	}
	RankResults(results)

	// Score descending first, then mistakes ascending regardless of input order
	assert.Equal(t, "a", results[0].UserID)
	assert.Equal(t, "b", results[1].UserID)
	assert.Equal(t, "c", results[2].UserID)
}

func TestRankResultsTiebreak(t *testing.T) {
	results := []GameResult{
		{UserID: "slow", Score: 4, Mistakes: 0, GuessHistory: historyWithSolves(0, 1, 2, 3)},
		{UserID: "fast", Score: 4, Mistakes: 0, GuessHistory: historyWithSolves(3, 2, 1, 0)},
	}
	RankResults(results)
	assert.Equal(t, "fast", results[0].UserID)
	assert.Equal(t, "slow", results[1].UserID)
}

func TestRankResultsReturnsRankedSlice(t *testing.T) {
	results := []GameResult{
		{UserID: "b", Score: 3, Mistakes: 1},
		{UserID: "a", Score: 4, Mistakes: 0},
	}
	ranked := RankResults(results)
	assert.Equal(t, "a", ranked[0].UserID)
	assert.Equal(t, "b", ranked[1].UserID)
}

func TestRankResultsStable(t *testing.T) {
	results := []GameResult{
		{UserID: "first", Score: 2, Mistakes: 4},
		{UserID: "second", Score: 2, Mistakes: 4},
	}
	RankResults(results)
	assert.Equal(t, "first", results[0].UserID)
}
