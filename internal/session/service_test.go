package session

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ernie/synapse/internal/domain"
	"github.com/ernie/synapse/internal/storage"
)

const testDate = "2026-03-10"

func newTestService(t *testing.T) (*Service, *storage.Store) {
	t.Helper()
	store, err := storage.New(filepath.Join(t.TempDir(), "synapse.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return NewService(store), store
}

func intPtr(v int) *int { return &v }

func history(correct, wrong int) domain.GuessHistory {
	var h domain.GuessHistory
	for i := 0; i < correct; i++ {
		h = append(h, domain.Guess{Words: []string{"A", "B", "C", "D"}, Correct: true, Difficulty: intPtr(i % 4)})
	}
	for i := 0; i < wrong; i++ {
		h = append(h, domain.Guess{Words: []string{"A", "B", "C", "E"}})
	}
	return h
}

func TestCreateIdempotent(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, "msg1", "g1", "c1", testDate)
	require.NoError(t, err)
	_, err = svc.Join(ctx, "msg1", "u1", "alice", "", "g1", testDate)
	require.NoError(t, err)

	// Creating again keeps the player
	sess, err := svc.Create(ctx, "msg1", "g1", "c1", testDate)
	require.NoError(t, err)
	assert.Contains(t, sess.Players, "u1")
}

func TestJoinUnknownSession(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Join(context.Background(), "ghost", "u1", "alice", "", "g1", testDate)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestJoinIdempotentPlayerIdentity(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, "msg1", "g1", "c1", testDate)
	require.NoError(t, err)

	us1, err := svc.Join(ctx, "msg1", "u1", "alice", "a.png", "g1", testDate)
	require.NoError(t, err)

	_, _, err = svc.UpdateGuesses(ctx, us1, history(2, 0))
	require.NoError(t, err)

	// Re-join must not produce a second record or reset guesses
	us2, err := svc.Join(ctx, "msg1", "u1", "alice-renamed", "b.png", "g1", testDate)
	require.NoError(t, err)
	assert.Equal(t, us1, us2)

	sess, err := svc.Get(ctx, "msg1")
	require.NoError(t, err)
	require.Len(t, sess.Players, 1)
	assert.Equal(t, "alice", sess.Players["u1"].Username)
	assert.Len(t, sess.Players["u1"].GuessHistory, 2)
}

func TestUpdateGuessesLastWriterWins(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, "msg1", "g1", "c1", testDate)
	require.NoError(t, err)
	userSession, err := svc.Join(ctx, "msg1", "u1", "alice", "", "g1", testDate)
	require.NoError(t, err)

	_, _, err = svc.UpdateGuesses(ctx, userSession, history(3, 0))
	require.NoError(t, err)
	sessionID, userID, err := svc.UpdateGuesses(ctx, userSession, history(4, 1))
	require.NoError(t, err)
	assert.Equal(t, "msg1", sessionID)
	assert.Equal(t, "u1", userID)

	sess, err := svc.Get(ctx, "msg1")
	require.NoError(t, err)
	assert.Len(t, sess.Players["u1"].GuessHistory, 5)
}

func TestUpdateGuessesNoMapping(t *testing.T) {
	svc, _ := newTestService(t)
	_, _, err := svc.UpdateGuesses(context.Background(), "g1_u1_"+testDate, history(1, 0))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateGuessesPlayerNotInSession(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, "msg1", "g1", "c1", testDate)
	require.NoError(t, err)
	// Mapping points at the session but the user never joined it
	require.NoError(t, store.SaveMapping(ctx, domain.UserSessionID("g1", "intruder", testDate), "msg1"))

	_, _, err = svc.UpdateGuesses(ctx, domain.UserSessionID("g1", "intruder", testDate), history(1, 0))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetLazyLoadsFromStore(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	// Session exists only durably, as after a coordinator restart
	require.NoError(t, store.UpsertSession(ctx, "msg1", "g1", "c1", testDate))
	require.NoError(t, store.UpsertSessionPlayer(ctx, "msg1", "g1", testDate, &domain.Player{
		UserID: "u1", Username: "alice", GuessHistory: history(2, 1),
	}))

	sess, err := svc.Get(ctx, "msg1")
	require.NoError(t, err)
	require.Contains(t, sess.Players, "u1")
	assert.Len(t, sess.Players["u1"].GuessHistory, 3)

	// The lazy load also restores the user mapping
	_, _, err = svc.UpdateGuesses(ctx, domain.UserSessionID("g1", "u1", testDate), history(4, 0))
	require.NoError(t, err)
}

func TestRehydrate(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, "msg1", "g1", "c1", testDate)
	require.NoError(t, err)
	userSession, err := svc.Join(ctx, "msg1", "u1", "alice", "", "g1", testDate)
	require.NoError(t, err)
	_, _, err = svc.UpdateGuesses(ctx, userSession, history(2, 0))
	require.NoError(t, err)

	// Fresh service over the same store simulates a restart
	restarted := NewService(store)
	require.NoError(t, restarted.Rehydrate(ctx, testDate))

	sess, err := restarted.Get(ctx, "msg1")
	require.NoError(t, err)
	assert.Len(t, sess.Players["u1"].GuessHistory, 2)

	_, _, err = restarted.UpdateGuesses(ctx, userSession, history(3, 0))
	require.NoError(t, err)
}

func TestEndIdempotent(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, "msg1", "g1", "c1", testDate)
	require.NoError(t, err)
	require.NoError(t, svc.End(ctx, "msg1"))
	require.NoError(t, svc.End(ctx, "msg1"))

	_, err = svc.Get(ctx, "msg1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLookupFiltersByDate(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, "old", "g1", "c1", "2026-03-09")
	require.NoError(t, err)
	_, err = svc.Join(ctx, "old", "u1", "alice", "", "g1", "2026-03-09")
	require.NoError(t, err)

	_, _, found, err := svc.Lookup(ctx, "c1", "u1", testDate)
	require.NoError(t, err)
	assert.False(t, found)

	_, err = svc.Create(ctx, "current", "g1", "c1", testDate)
	require.NoError(t, err)
	_, err = svc.Join(ctx, "current", "u1", "alice", "", "g1", testDate)
	require.NoError(t, err)

	sessionID, _, found, err := svc.Lookup(ctx, "c1", "u1", testDate)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "current", sessionID)
}

func TestClearUserDropsEmptySession(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, "msg1", "g1", "c1", testDate)
	require.NoError(t, err)
	_, err = svc.Join(ctx, "msg1", "u1", "alice", "", "g1", testDate)
	require.NoError(t, err)

	require.NoError(t, svc.ClearUser(ctx, "g1", "u1", testDate))

	_, err = svc.Get(ctx, "msg1")
	assert.ErrorIs(t, err, ErrNotFound)

	// Clearing an unmapped user is a no-op
	require.NoError(t, svc.ClearUser(ctx, "g1", "stranger", testDate))
}
