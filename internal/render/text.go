// Package render turns session and result state into the messages the
// bot posts: emoji guess grids, the live progress message, and the daily
// recap.
package render

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ernie/synapse/internal/domain"
)

// difficultyEmoji maps category difficulty to the familiar square colors
var difficultyEmoji = [domain.NumCategories]string{"🟨", "🟩", "🟦", "🟪"}

const unknownEmoji = "⬜"

// GuessRow renders one guess as four colored squares. Correct guesses
// show the solved category's color; wrong guesses show each word's
// category when known.
func GuessRow(g domain.Guess) string {
	var row strings.Builder
	for i := 0; i < domain.WordsPerGuess; i++ {
		row.WriteString(wordEmoji(g, i))
	}
	return row.String()
}

func wordEmoji(g domain.Guess, i int) string {
	if g.Correct && g.Difficulty != nil && *g.Difficulty >= 0 && *g.Difficulty < domain.NumCategories {
		return difficultyEmoji[*g.Difficulty]
	}
	if i < len(g.WordDifficulties) {
		d := g.WordDifficulties[i]
		if d >= 0 && d < domain.NumCategories {
			return difficultyEmoji[d]
		}
	}
	return unknownEmoji
}

// EmojiGrid renders a whole guess history, one row per guess
func EmojiGrid(history domain.GuessHistory) string {
	rows := make([]string, 0, len(history))
	for _, g := range history {
		rows = append(rows, GuessRow(g))
	}
	return strings.Join(rows, "\n")
}

func statusEmoji(history domain.GuessHistory) string {
	switch {
	case history.CorrectCount() >= domain.NumCategories:
		return "✅"
	case history.MistakeCount() >= domain.MaxMistakes:
		return "❌"
	default:
		return "🧩"
	}
}

// ProgressMessage is the shared message body the bot keeps edited while
// a session is live
func ProgressMessage(sess *domain.MessageSession) string {
	var b strings.Builder
	fmt.Fprintf(&b, "**Connections #%d** · %s\n", domain.PuzzleNumber(sess.GameDate), sess.GameDate)

	if len(sess.Players) == 0 {
		b.WriteString("\nNo one has joined yet. Press the button to play!")
		return b.String()
	}

	for _, p := range sortedPlayers(sess) {
		fmt.Fprintf(&b, "\n%s **%s** · %d/%d found · %d mistake%s\n",
			statusEmoji(p.GuessHistory), p.Username,
			p.GuessHistory.CorrectCount(), domain.NumCategories,
			p.GuessHistory.MistakeCount(), plural(p.GuessHistory.MistakeCount()))
		if grid := EmojiGrid(p.GuessHistory); grid != "" {
			b.WriteString(grid)
			b.WriteString("\n")
		}
	}
	return b.String()
}

// RecapMessage renders the end-of-day summary: the winner first, then
// numbered runners-up, then anyone who started but never finished in the
// order given.
func RecapMessage(gameDate string, results []domain.GameResult, starters []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "**Connections #%d Recap** · %s\n", domain.PuzzleNumber(gameDate), gameDate)

	if len(results) == 0 && len(starters) == 0 {
		b.WriteString("\nNobody played yesterday's puzzle.")
		return b.String()
	}

	ranked := domain.RankResults(results)
	for i, res := range ranked {
		if i == 0 {
			fmt.Fprintf(&b, "\n🏆 **%s** · %d/%d · %d mistake%s%s\n",
				res.Username, res.Score, domain.NumCategories,
				res.Mistakes, plural(res.Mistakes), perfect(res))
		} else {
			fmt.Fprintf(&b, "\n%d. **%s** · %d/%d · %d mistake%s\n",
				i+1, res.Username, res.Score, domain.NumCategories,
				res.Mistakes, plural(res.Mistakes))
		}
		if grid := EmojiGrid(res.GuessHistory); grid != "" {
			b.WriteString(grid)
			b.WriteString("\n")
		}
	}

	if len(starters) > 0 {
		fmt.Fprintf(&b, "\nStarted but didn't finish: %s\n", strings.Join(starters, ", "))
	}
	return b.String()
}

func perfect(res domain.GameResult) string {
	if res.Score == domain.NumCategories && res.Mistakes == 0 {
		return " · Perfect!"
	}
	return ""
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}

// sortedPlayers returns players in a stable order so edits do not
// shuffle the message
func sortedPlayers(sess *domain.MessageSession) []*domain.Player {
	ids := make([]string, 0, len(sess.Players))
	for id := range sess.Players {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	players := make([]*domain.Player, 0, len(ids))
	for _, id := range ids {
		players = append(players, sess.Players[id])
	}
	return players
}
