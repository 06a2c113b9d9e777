package domain

import (
	"sort"
	"time"
)

// GameResult is the durable record of a finished player outcome. One row per
// (guild, user, game date); retried completions overwrite.
type GameResult struct {
	GuildID      string       `json:"guildId"`
	UserID       string       `json:"userId"`
	Username     string       `json:"username"`
	Avatar       string       `json:"avatar,omitempty"`
	GameDate     string       `json:"gameDate"`
	Score        int          `json:"score"`
	Mistakes     int          `json:"mistakes"`
	GuessHistory GuessHistory `json:"guessHistory"`
	CompletedAt  time.Time    `json:"completedAt"`
}

// difficultyWeights reward solving harder categories: purple (3) dominates
// blue (2) dominates green (1) dominates yellow (0)
var difficultyWeights = [NumCategories]int{1, 10, 100, 1000}

// TiebreakScore accumulates weight(difficulty) x (10 - index) over the correct
// guesses, so solving hard categories with fewer preceding guesses scores
// higher. Used as the final recap tie-break.
func TiebreakScore(h GuessHistory) int {
	score := 0
	for i, g := range h {
		if !g.Correct || g.Difficulty == nil {
			continue
		}
		d := *g.Difficulty
		if d < 0 || d >= NumCategories {
			continue
		}
		score += difficultyWeights[d] * (10 - i)
	}
	return score
}

// RankResults sorts results into recap order: score descending, then mistakes
// ascending, then tiebreak score descending. The sort is stable so equal
// tuples keep their input order. Returns the slice for call-site chaining.
func RankResults(results []GameResult) []GameResult {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Mistakes != b.Mistakes {
			return a.Mistakes < b.Mistakes
		}
		return TiebreakScore(a.GuessHistory) > TiebreakScore(b.GuessHistory)
	})
	return results
}
