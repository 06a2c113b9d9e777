// Package bot runs the chat-side half of the system: the tracked-session
// cache, the poll loop that reconciles against the coordinator, the
// interaction router, and the recap scheduler.
package bot

import (
	"sync"
	"time"

	"github.com/ernie/synapse/internal/chat"
)

// TrackedSession is the bot's local view of one live progress message
type TrackedSession struct {
	SessionID string
	GuildID   string
	ChannelID string
	GameDate  string
	Handle    chat.Handle
	CreatedAt time.Time

	// remembered guess counts per player, owned by the poll loop
	lastCounts map[string]int
}

// SeedGuessCounts primes the per-player delta baseline, so a session
// restored after a restart does not re-edit its message for guesses the
// poll loop already reported
func (s *TrackedSession) SeedGuessCounts(counts map[string]int) {
	if s.lastCounts == nil {
		s.lastCounts = make(map[string]int, len(counts))
	}
	for userID, n := range counts {
		s.lastCounts[userID] = n
	}
}

// Tracker is the active poll set. Retired sessions are remembered for a
// grace period so a trailing tick or a late button press does not
// resurrect them.
type Tracker struct {
	mu      sync.Mutex
	active  map[string]*TrackedSession
	retired map[string]time.Time
	grace   time.Duration
}

func NewTracker(grace time.Duration) *Tracker {
	return &Tracker{
		active:  make(map[string]*TrackedSession),
		retired: make(map[string]time.Time),
		grace:   grace,
	}
}

// Track adds a session to the poll set. Returns false when the session
// is already tracked or still within its retirement grace.
func (t *Tracker) Track(sess *TrackedSession) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.active[sess.SessionID]; ok {
		return false
	}
	if _, ok := t.retired[sess.SessionID]; ok {
		return false
	}
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now()
	}
	if sess.lastCounts == nil {
		sess.lastCounts = make(map[string]int)
	}
	t.active[sess.SessionID] = sess
	return true
}

// Tracked reports whether a session is active or in retirement grace
func (t *Tracker) Tracked(sessionID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.active[sessionID]; ok {
		return true
	}
	_, ok := t.retired[sessionID]
	return ok
}

// Active returns a snapshot of the poll set
func (t *Tracker) Active() []*TrackedSession {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*TrackedSession, 0, len(t.active))
	for _, sess := range t.active {
		out = append(out, sess)
	}
	return out
}

// Retire removes a session from the poll set but keeps its id until the
// grace period elapses
func (t *Tracker) Retire(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.active[sessionID]; !ok {
		return
	}
	delete(t.active, sessionID)
	t.retired[sessionID] = time.Now()
}

// Drop removes a session immediately with no grace tracking. Used for
// defensive eviction of sessions that keep failing.
func (t *Tracker) Drop(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.active, sessionID)
}

// Sweep forgets retired sessions whose grace has elapsed
func (t *Tracker) Sweep(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, retiredAt := range t.retired {
		if now.Sub(retiredAt) > t.grace {
			delete(t.retired, id)
		}
	}
}

func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.active)
}
