package domain

import (
	"fmt"
	"strings"
	"time"
)

// MessageSession is one shared chat message tracking a puzzle in progress for
// possibly multiple players. Its identity is the chat message ID, which is
// externally assigned and stable.
type MessageSession struct {
	SessionID  string             `json:"sessionId"`
	GuildID    string             `json:"guildId"`
	ChannelID  string             `json:"channelId"`
	GameDate   string             `json:"gameDate"`
	LastUpdate time.Time          `json:"lastUpdate"`
	Players    map[string]*Player `json:"players"`
}

// Player is one user's participation record within a session
type Player struct {
	UserID       string       `json:"userId"`
	Username     string       `json:"username"`
	AvatarURL    string       `json:"avatarUrl"`
	GuessHistory GuessHistory `json:"guessHistory"`
	// LastGuessCount is bot-side bookkeeping (last observed history length),
	// never authoritative
	LastGuessCount int `json:"lastGuessCount,omitempty"`
}

// Complete reports whether this player's game is over
func (p *Player) Complete() bool {
	return p.GuessHistory.Complete()
}

// AllComplete reports whether every player in the session has finished.
// A session with no players is never complete.
func (s *MessageSession) AllComplete() bool {
	if len(s.Players) == 0 {
		return false
	}
	for _, p := range s.Players {
		if !p.Complete() {
			return false
		}
	}
	return true
}

// UserSessionID builds the per-user-per-day routing key
func UserSessionID(guildID, userID, gameDate string) string {
	return fmt.Sprintf("%s_%s_%s", guildID, userID, gameDate)
}

// ParseUserSessionID splits a routing key back into its parts
func ParseUserSessionID(id string) (guildID, userID, gameDate string, err error) {
	parts := strings.SplitN(id, "_", 3)
	if len(parts) != 3 {
		return "", "", "", fmt.Errorf("malformed user session id: %q", id)
	}
	return parts[0], parts[1], parts[2], nil
}
