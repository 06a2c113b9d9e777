package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int { return &v }

func correctGuess(difficulty int) Guess {
	return Guess{
		Words:      []string{"A", "B", "C", "D"},
		Correct:    true,
		Difficulty: intPtr(difficulty),
	}
}

func wrongGuess() Guess {
	return Guess{Words: []string{"A", "B", "C", "E"}, Correct: false}
}

func TestGuessHistoryCounts(t *testing.T) {
	h := GuessHistory{correctGuess(0), wrongGuess(), correctGuess(2)}
	assert.Equal(t, 2, h.CorrectCount())
	assert.Equal(t, 1, h.MistakeCount())
	assert.False(t, h.Complete())

	// Solved plus remaining categories always totals four
	assert.Equal(t, NumCategories, h.CorrectCount()+(NumCategories-h.CorrectCount()))
}

func TestCompleteByWin(t *testing.T) {
	h := GuessHistory{correctGuess(0), correctGuess(1), correctGuess(2), correctGuess(3)}
	assert.True(t, h.Complete())
}

func TestCompleteByMistakes(t *testing.T) {
	h := GuessHistory{wrongGuess(), wrongGuess(), wrongGuess()}
	assert.False(t, h.Complete())
	h = append(h, wrongGuess())
	assert.True(t, h.Complete())
}

func TestCompletionMonotonic(t *testing.T) {
	// Once complete, appending further guesses never makes it incomplete
	h := GuessHistory{wrongGuess(), wrongGuess(), wrongGuess(), wrongGuess()}
	require.True(t, h.Complete())
	h = append(h, correctGuess(0), correctGuess(1))
	assert.True(t, h.Complete())
}

func TestCorrectCountToleratesOverflow(t *testing.T) {
	// A broken client could submit past game over; counts stay bounded
	var h GuessHistory
	for i := 0; i < 6; i++ {
		h = append(h, correctGuess(i%NumCategories))
	}
	assert.Equal(t, NumCategories, h.CorrectCount())
	assert.True(t, h.Complete())
}

func TestHistoryCodecRoundTrip(t *testing.T) {
	h := GuessHistory{correctGuess(3), wrongGuess()}
	h[0].WordDifficulties = []int{3, 3, 3, 3}

	data, err := EncodeHistory(h)
	require.NoError(t, err)

	got, err := DecodeHistory(data)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, h[0].Words, got[0].Words)
	require.NotNil(t, got[0].Difficulty)
	assert.Equal(t, 3, *got[0].Difficulty)
	assert.Equal(t, []int{3, 3, 3, 3}, got[0].WordDifficulties)
	assert.False(t, got[1].Correct)
}

func TestDecodeHistoryEmpty(t *testing.T) {
	got, err := DecodeHistory(nil)
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = DecodeHistory([]byte("{not json"))
	assert.Error(t, err)
}

func TestEncodeNilHistory(t *testing.T) {
	data, err := EncodeHistory(nil)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(data))
}
