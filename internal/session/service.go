// Package session implements the coordinator's session store: an in-memory
// cache of active message sessions over the durable store. Memory is strictly
// a cache; every observable mutation is mirrored to storage first, and an
// unknown session is lazily rehydrated before being declared missing.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ernie/synapse/internal/domain"
	"github.com/ernie/synapse/internal/storage"
)

// ErrNotFound is the routine outcome for a session, mapping, or player that
// does not exist. Callers branch on it rather than treating it as a failure.
var ErrNotFound = errors.New("session not found")

// Service owns the authoritative mapping from user-session identities to
// message sessions and resolves which session an interaction belongs to
type Service struct {
	store *storage.Store

	mu            sync.RWMutex
	active        map[string]*domain.MessageSession
	userToSession map[string]string
}

// NewService creates the coordinator session service
func NewService(store *storage.Store) *Service {
	return &Service{
		store:         store,
		active:        make(map[string]*domain.MessageSession),
		userToSession: make(map[string]string),
	}
}

// Rehydrate rebuilds the in-memory cache from durable storage for the given
// game date. Called once at startup; a process restart must not lose state.
func (s *Service) Rehydrate(ctx context.Context, gameDate string) error {
	sessions, err := s.store.GetSessionsByDate(ctx, gameDate)
	if err != nil {
		return fmt.Errorf("loading sessions for %s: %w", gameDate, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range sessions {
		s.active[sess.SessionID] = sess
		for userID := range sess.Players {
			key := domain.UserSessionID(sess.GuildID, userID, sess.GameDate)
			s.userToSession[key] = sess.SessionID
		}
	}
	log.Printf("Rehydrated %d active session(s) for %s", len(sessions), gameDate)
	return nil
}

// Create registers a message session. Idempotent: re-creating an existing
// session keeps its players and only bumps the update timestamp.
func (s *Service) Create(ctx context.Context, sessionID, guildID, channelID, gameDate string) (*domain.MessageSession, error) {
	if err := s.store.UpsertSession(ctx, sessionID, guildID, channelID, gameDate); err != nil {
		return nil, fmt.Errorf("persisting session %s: %w", sessionID, err)
	}

	s.mu.RLock()
	sess, ok := s.active[sessionID]
	s.mu.RUnlock()
	if ok {
		sess.LastUpdate = time.Now().UTC()
		return sess, nil
	}

	// Not cached: load through the store so a re-create after a restart picks
	// up previously joined players instead of an empty session
	sess, err := s.resolve(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	log.Printf("Created message session %s (guild %s, channel %s, date %s)", sessionID, guildID, channelID, gameDate)
	return sess, nil
}

// Join attaches a user to a session and establishes the user-session mapping
// for (guild, user, date). First join wins for player metadata; re-joining
// refreshes the mapping but never resets guess history.
func (s *Service) Join(ctx context.Context, sessionID, userID, username, avatarURL, guildID, gameDate string) (userSessionID string, err error) {
	sess, err := s.resolve(ctx, sessionID)
	if err != nil {
		return "", err
	}

	userSessionID = domain.UserSessionID(guildID, userID, gameDate)
	if err := s.store.SaveMapping(ctx, userSessionID, sessionID); err != nil {
		return "", fmt.Errorf("persisting mapping %s: %w", userSessionID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.userToSession[userSessionID] = sessionID

	if _, ok := sess.Players[userID]; !ok {
		player := &domain.Player{
			UserID:       userID,
			Username:     username,
			AvatarURL:    avatarURL,
			GuessHistory: domain.GuessHistory{},
		}
		if err := s.store.UpsertSessionPlayer(ctx, sessionID, guildID, gameDate, player); err != nil {
			return "", fmt.Errorf("persisting player %s: %w", userID, err)
		}
		sess.Players[userID] = player
		log.Printf("User %s (%s) joined session %s (%d players)", username, userID, sessionID, len(sess.Players))
	}
	return userSessionID, nil
}

// UpdateGuesses replaces a player's guess history wholesale. The client always
// sends its full cumulative history, so last writer wins; no merging.
func (s *Service) UpdateGuesses(ctx context.Context, userSessionID string, history domain.GuessHistory) (sessionID, userID string, err error) {
	s.mu.RLock()
	sessionID, mapped := s.userToSession[userSessionID]
	s.mu.RUnlock()

	if !mapped {
		var found bool
		sessionID, found, err = s.store.GetMapping(ctx, userSessionID)
		if err != nil {
			return "", "", fmt.Errorf("loading mapping %s: %w", userSessionID, err)
		}
		if !found {
			log.Printf("No message session mapped for user session %s", userSessionID)
			return "", "", ErrNotFound
		}
		s.mu.Lock()
		s.userToSession[userSessionID] = sessionID
		s.mu.Unlock()
	}

	sess, err := s.resolve(ctx, sessionID)
	if err != nil {
		return "", "", err
	}

	_, userID, _, err = domain.ParseUserSessionID(userSessionID)
	if err != nil {
		return "", "", fmt.Errorf("parsing user session id: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	player, ok := sess.Players[userID]
	if !ok {
		// Stale or mis-routed mapping; same not-found kind but logged apart
		// so routing bugs stay diagnosable
		log.Printf("Player %s not in message session %s (mapping %s)", userID, sessionID, userSessionID)
		return "", "", ErrNotFound
	}

	player.GuessHistory = history
	sess.LastUpdate = time.Now().UTC()

	if err := s.store.UpsertSessionPlayer(ctx, sessionID, sess.GuildID, sess.GameDate, player); err != nil {
		return "", "", fmt.Errorf("persisting guesses for %s: %w", userID, err)
	}
	if err := s.store.TouchSession(ctx, sessionID); err != nil {
		return "", "", fmt.Errorf("touching session %s: %w", sessionID, err)
	}
	return sessionID, userID, nil
}

// Lookup recovers the session a user belongs to in a channel on an exact game
// date, for clients rejoining without a session identity
func (s *Service) Lookup(ctx context.Context, channelID, userID, gameDate string) (sessionID string, history domain.GuessHistory, found bool, err error) {
	return s.store.LookupUserSession(ctx, channelID, userID, gameDate)
}

// Get returns a session by ID, lazily loading it from durable storage
func (s *Service) Get(ctx context.Context, sessionID string) (*domain.MessageSession, error) {
	return s.resolve(ctx, sessionID)
}

// End removes a session from active tracking and durable storage. Idempotent.
func (s *Service) End(ctx context.Context, sessionID string) error {
	if err := s.store.DeleteSession(ctx, sessionID); err != nil {
		return fmt.Errorf("deleting session %s: %w", sessionID, err)
	}
	s.mu.Lock()
	delete(s.active, sessionID)
	s.mu.Unlock()
	return nil
}

// ClearUser detaches a user from their session for a date, removing the
// mapping and the participation row. An emptied session is dropped entirely.
func (s *Service) ClearUser(ctx context.Context, guildID, userID, gameDate string) error {
	userSessionID := domain.UserSessionID(guildID, userID, gameDate)

	s.mu.RLock()
	sessionID, mapped := s.userToSession[userSessionID]
	s.mu.RUnlock()
	if !mapped {
		var found bool
		var err error
		sessionID, found, err = s.store.GetMapping(ctx, userSessionID)
		if err != nil {
			return err
		}
		if !found {
			return nil
		}
	}

	if err := s.store.DeleteSessionPlayer(ctx, sessionID, userID); err != nil {
		return err
	}
	if err := s.store.DeleteMapping(ctx, userSessionID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.userToSession, userSessionID)
	sess, ok := s.active[sessionID]
	if !ok {
		return nil
	}
	delete(sess.Players, userID)
	if len(sess.Players) == 0 {
		delete(s.active, sessionID)
		if err := s.store.DeleteSession(ctx, sessionID); err != nil {
			return err
		}
		log.Printf("Removed emptied session %s", sessionID)
	}
	return nil
}

// resolve finds a session in memory or falls back to durable storage, caching
// on success
func (s *Service) resolve(ctx context.Context, sessionID string) (*domain.MessageSession, error) {
	s.mu.RLock()
	sess, ok := s.active[sessionID]
	s.mu.RUnlock()
	if ok {
		return sess, nil
	}

	stored, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("loading session %s: %w", sessionID, err)
	}
	if stored == nil {
		return nil, ErrNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.active[sessionID]; ok {
		return existing, nil
	}
	if stored.Players == nil {
		stored.Players = make(map[string]*domain.Player)
	}
	s.active[sessionID] = stored
	for userID := range stored.Players {
		key := domain.UserSessionID(stored.GuildID, userID, stored.GameDate)
		s.userToSession[key] = sessionID
	}
	return stored, nil
}
