package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/ernie/synapse/internal/domain"
	_ "modernc.org/sqlite"
)

// formatTimestamp converts time.Time to SQLite-compatible UTC ISO8601 string
// The Z suffix ensures the Go sqlite driver parses it back as UTC
func formatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05Z")
}

//go:embed schema.sql
var schema string

// Store provides database access. The coordinator and the bot open the same
// file; WAL mode plus the busy timeout keeps concurrent access safe.
type Store struct {
	db *sql.DB
}

// New creates a new Store with the given database path
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	// Enable foreign keys, WAL mode for better performance, and busy timeout for concurrency
	if _, err := db.Exec("PRAGMA foreign_keys = ON; PRAGMA journal_mode = WAL; PRAGMA busy_timeout = 5000;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting pragmas: %w", err)
	}

	// Create tables
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// --- Session methods ---

// UpsertSession creates or refreshes a message session row. Re-creating an
// existing session only bumps last_update; game_date is immutable and players
// are untouched.
func (s *Store) UpsertSession(ctx context.Context, sessionID, guildID, channelID, gameDate string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO active_sessions (session_id, guild_id, channel_id, game_date, puzzle_number)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			last_update = strftime('%Y-%m-%dT%H:%M:%SZ', 'now')
	`, sessionID, guildID, channelID, gameDate, domain.PuzzleNumber(gameDate))
	return err
}

// TouchSession bumps a session's last_update timestamp
func (s *Store) TouchSession(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE active_sessions SET last_update = strftime('%Y-%m-%dT%H:%M:%SZ', 'now')
		WHERE session_id = ?
	`, sessionID)
	return err
}

// GetSession loads a session with its players. Returns nil without error when
// the session does not exist.
func (s *Store) GetSession(ctx context.Context, sessionID string) (*domain.MessageSession, error) {
	var sess domain.MessageSession
	err := s.db.QueryRowContext(ctx, `
		SELECT session_id, guild_id, channel_id, game_date, last_update
		FROM active_sessions WHERE session_id = ?
	`, sessionID).Scan(&sess.SessionID, &sess.GuildID, &sess.ChannelID, &sess.GameDate, &sess.LastUpdate)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	players, err := s.getSessionPlayers(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	sess.Players = players
	return &sess, nil
}

// GetSessionsByDate loads every session for a game date, players included.
// Used for startup rehydration of the in-memory caches.
func (s *Store) GetSessionsByDate(ctx context.Context, gameDate string) ([]*domain.MessageSession, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, guild_id, channel_id, game_date, last_update
		FROM active_sessions WHERE game_date = ? ORDER BY created_at
	`, gameDate)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*domain.MessageSession
	for rows.Next() {
		var sess domain.MessageSession
		if err := rows.Scan(&sess.SessionID, &sess.GuildID, &sess.ChannelID, &sess.GameDate, &sess.LastUpdate); err != nil {
			return nil, err
		}
		sessions = append(sessions, &sess)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, sess := range sessions {
		players, err := s.getSessionPlayers(ctx, sess.SessionID)
		if err != nil {
			return nil, err
		}
		sess.Players = players
	}
	return sessions, nil
}

// DeleteSession removes a session row. Deleting twice is not an error. Player
// participation rows deliberately survive so the recap can still list who
// started that day; PurgeSessionPlayersBefore collects them later.
func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM active_sessions WHERE session_id = ?`, sessionID)
	return err
}

// --- Session player methods ---

// UpsertSessionPlayer writes a player row, replacing guess history wholesale
func (s *Store) UpsertSessionPlayer(ctx context.Context, sessionID, guildID, gameDate string, p *domain.Player) error {
	history, err := domain.EncodeHistory(p.GuessHistory)
	if err != nil {
		return fmt.Errorf("encoding guess history: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO session_players (session_id, user_id, guild_id, game_date, username, avatar_url, guess_history, last_guess_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id, user_id) DO UPDATE SET
			username = excluded.username,
			avatar_url = excluded.avatar_url,
			guess_history = excluded.guess_history,
			last_guess_count = excluded.last_guess_count
	`, sessionID, p.UserID, guildID, gameDate, p.Username, p.AvatarURL, string(history), p.LastGuessCount)
	return err
}

// DeleteSessionPlayer removes one player's participation row; idempotent
func (s *Store) DeleteSessionPlayer(ctx context.Context, sessionID, userID string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM session_players WHERE session_id = ? AND user_id = ?
	`, sessionID, userID)
	return err
}

// PurgeSessionPlayersBefore garbage-collects participation rows for game
// dates strictly before the given one. The recap only ever reads yesterday's
// rows, so anything older is unreachable.
func (s *Store) PurgeSessionPlayersBefore(ctx context.Context, gameDate string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM session_players WHERE game_date < ?`, gameDate)
	return err
}

func (s *Store) getSessionPlayers(ctx context.Context, sessionID string) (map[string]*domain.Player, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, username, avatar_url, guess_history, last_guess_count
		FROM session_players WHERE session_id = ? ORDER BY joined_at
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	players := make(map[string]*domain.Player)
	for rows.Next() {
		p, err := scanPlayer(rows)
		if err != nil {
			return nil, err
		}
		players[p.UserID] = p
	}
	return players, rows.Err()
}

// GetGuildDatePlayers returns every player who joined any session for a guild
// and date, including sessions already retired. Used to find "started but
// didn't finish" players for the recap.
func (s *Store) GetGuildDatePlayers(ctx context.Context, guildID, gameDate string) ([]*domain.Player, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, username, avatar_url, guess_history, last_guess_count
		FROM session_players
		WHERE guild_id = ? AND game_date = ?
		ORDER BY joined_at, rowid
	`, guildID, gameDate)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	seen := make(map[string]bool)
	var players []*domain.Player
	for rows.Next() {
		p, err := scanPlayer(rows)
		if err != nil {
			return nil, err
		}
		if seen[p.UserID] {
			continue
		}
		seen[p.UserID] = true
		players = append(players, p)
	}
	return players, rows.Err()
}

// --- User session mapping methods ---

// SaveMapping routes a per-user-per-day identity to a message session. A new
// session for the same identity supersedes the old mapping.
func (s *Store) SaveMapping(ctx context.Context, userSessionID, messageSessionID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_session_mappings (user_session_id, message_session_id)
		VALUES (?, ?)
		ON CONFLICT(user_session_id) DO UPDATE SET
			message_session_id = excluded.message_session_id
	`, userSessionID, messageSessionID)
	return err
}

// GetMapping resolves a user session identity. found is false when no mapping exists.
func (s *Store) GetMapping(ctx context.Context, userSessionID string) (messageSessionID string, found bool, err error) {
	err = s.db.QueryRowContext(ctx, `
		SELECT message_session_id FROM user_session_mappings WHERE user_session_id = ?
	`, userSessionID).Scan(&messageSessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return messageSessionID, true, nil
}

// DeleteMapping removes a routing entry; idempotent
func (s *Store) DeleteMapping(ctx context.Context, userSessionID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM user_session_mappings WHERE user_session_id = ?`, userSessionID)
	return err
}

// LookupUserSession finds the session a user belongs to in a channel on an
// exact game date, so a rejoining client never resumes a stale prior-day
// session. The newest matching session wins; created_at has one-second
// granularity, so rowid breaks ties between back-to-back creations.
func (s *Store) LookupUserSession(ctx context.Context, channelID, userID, gameDate string) (sessionID string, history domain.GuessHistory, found bool, err error) {
	var raw string
	err = s.db.QueryRowContext(ctx, `
		SELECT a.session_id, sp.guess_history
		FROM active_sessions a
		JOIN session_players sp ON sp.session_id = a.session_id
		WHERE a.channel_id = ? AND sp.user_id = ? AND a.game_date = ?
		ORDER BY a.created_at DESC, a.rowid DESC LIMIT 1
	`, channelID, userID, gameDate).Scan(&sessionID, &raw)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil, false, nil
	}
	if err != nil {
		return "", nil, false, err
	}
	history, err = domain.DecodeHistory([]byte(raw))
	if err != nil {
		return "", nil, false, err
	}
	return sessionID, history, true, nil
}

// --- Game result methods ---

// UpsertGameResult records a finished outcome. Retried completions for the
// same (guild, user, date) overwrite.
func (s *Store) UpsertGameResult(ctx context.Context, r *domain.GameResult) error {
	history, err := domain.EncodeHistory(r.GuessHistory)
	if err != nil {
		return fmt.Errorf("encoding guess history: %w", err)
	}
	completedAt := r.CompletedAt
	if completedAt.IsZero() {
		completedAt = time.Now()
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO game_results (guild_id, user_id, username, avatar, game_date, score, mistakes, guess_history, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(guild_id, user_id, game_date) DO UPDATE SET
			username = excluded.username,
			avatar = excluded.avatar,
			score = excluded.score,
			mistakes = excluded.mistakes,
			guess_history = excluded.guess_history,
			completed_at = excluded.completed_at
	`, r.GuildID, r.UserID, r.Username, r.Avatar, r.GameDate, r.Score, r.Mistakes, string(history), formatTimestamp(completedAt))
	return err
}

// GetGameResults returns all finished outcomes for a guild and date, oldest
// completion first
func (s *Store) GetGameResults(ctx context.Context, guildID, gameDate string) ([]domain.GameResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT guild_id, user_id, username, avatar, game_date, score, mistakes, guess_history, completed_at
		FROM game_results
		WHERE guild_id = ? AND game_date = ?
		ORDER BY completed_at ASC
	`, guildID, gameDate)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []domain.GameResult
	for rows.Next() {
		var r domain.GameResult
		var raw string
		if err := rows.Scan(&r.GuildID, &r.UserID, &r.Username, &r.Avatar, &r.GameDate,
			&r.Score, &r.Mistakes, &raw, &r.CompletedAt); err != nil {
			return nil, err
		}
		if r.GuessHistory, err = domain.DecodeHistory([]byte(raw)); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// DeleteGameResult removes a player's recorded outcome; idempotent
func (s *Store) DeleteGameResult(ctx context.Context, guildID, userID, gameDate string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM game_results WHERE guild_id = ? AND user_id = ? AND game_date = ?
	`, guildID, userID, gameDate)
	return err
}

// --- Pending recap methods ---

// TrackPendingRecap marks that a recap is owed for a channel/day. Concurrent
// completion triggers collapse into the one row.
func (s *Store) TrackPendingRecap(ctx context.Context, channelID, guildID, gameDate string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pending_recaps (channel_id, guild_id, game_date, recap_posted)
		VALUES (?, ?, ?, 0)
		ON CONFLICT(channel_id, game_date) DO NOTHING
	`, channelID, guildID, gameDate)
	return err
}

// PendingRecaps returns unposted recap markers for a date
func (s *Store) PendingRecaps(ctx context.Context, gameDate string) ([]domain.PendingRecap, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT channel_id, guild_id, game_date
		FROM pending_recaps
		WHERE game_date = ? AND recap_posted = 0
	`, gameDate)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pending []domain.PendingRecap
	for rows.Next() {
		var p domain.PendingRecap
		if err := rows.Scan(&p.ChannelID, &p.GuildID, &p.GameDate); err != nil {
			return nil, err
		}
		pending = append(pending, p)
	}
	return pending, rows.Err()
}

// MarkRecapPosted flips the consumed flag after a successful send
func (s *Store) MarkRecapPosted(ctx context.Context, channelID, gameDate string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE pending_recaps SET recap_posted = 1, posted_at = ?
		WHERE channel_id = ? AND game_date = ?
	`, formatTimestamp(time.Now()), channelID, gameDate)
	return err
}
