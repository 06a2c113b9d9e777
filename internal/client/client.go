// Package client wraps the session coordinator's HTTP API for the bot
// process. The coordinator is the single source of truth for session and
// game state; the bot never touches the store directly.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	json "github.com/goccy/go-json"

	"github.com/ernie/synapse/internal/domain"
)

// ErrNotFound is returned for 404 responses
var ErrNotFound = errors.New("not found")

type Client struct {
	baseURL      string
	serviceToken string
	http         *http.Client
}

func New(baseURL, serviceToken string) *Client {
	return &Client{
		baseURL:      baseURL,
		serviceToken: serviceToken,
		http:         &http.Client{Timeout: 10 * time.Second},
	}
}

// GameStatePlayer is one finished player in a guild's daily game state
type GameStatePlayer struct {
	Username     string              `json:"username"`
	Avatar       string              `json:"avatar"`
	Score        int                 `json:"score"`
	Mistakes     int                 `json:"mistakes"`
	GuessHistory domain.GuessHistory `json:"guessHistory"`
	CompletedAt  time.Time           `json:"completedAt"`
}

type GameState struct {
	Date    string                     `json:"date"`
	Players map[string]GameStatePlayer `json:"players"`
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if method == http.MethodDelete && c.serviceToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.serviceToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s returned %d: %s", method, path, resp.StatusCode, bytes.TrimSpace(data))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", path, err)
	}
	return nil
}

// FetchSession returns the current session snapshot, or ErrNotFound when
// the coordinator no longer knows the session
func (c *Client) FetchSession(ctx context.Context, sessionID string) (*domain.MessageSession, error) {
	var sess domain.MessageSession
	if err := c.do(ctx, http.MethodGet, "/sessions/"+sessionID, nil, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

func (c *Client) StartSession(ctx context.Context, sessionID, guildID, channelID, gameDate string) (*domain.MessageSession, error) {
	body := map[string]string{
		"sessionId": sessionID,
		"guildId":   guildID,
		"channelId": channelID,
		"gameDate":  gameDate,
	}
	var out struct {
		Success bool                   `json:"success"`
		Session *domain.MessageSession `json:"session"`
	}
	if err := c.do(ctx, http.MethodPost, "/sessions/start", body, &out); err != nil {
		return nil, err
	}
	if !out.Success || out.Session == nil {
		return nil, fmt.Errorf("coordinator rejected session %s", sessionID)
	}
	return out.Session, nil
}

// JoinSession registers a player and returns their per-user session id
func (c *Client) JoinSession(ctx context.Context, sessionID, userID, username, avatarURL, guildID, gameDate string) (string, error) {
	body := map[string]string{
		"userId":    userID,
		"username":  username,
		"avatarUrl": avatarURL,
		"guildId":   guildID,
		"gameDate":  gameDate,
	}
	var out struct {
		Success       bool   `json:"success"`
		UserSessionID string `json:"userSessionId"`
	}
	if err := c.do(ctx, http.MethodPost, "/sessions/"+sessionID+"/join", body, &out); err != nil {
		return "", err
	}
	if !out.Success {
		return "", fmt.Errorf("join rejected for %s in %s", userID, sessionID)
	}
	return out.UserSessionID, nil
}

// LookupSession finds a user's existing session in a channel for a given day
func (c *Client) LookupSession(ctx context.Context, channelID, userID, gameDate string) (sessionID string, history domain.GuessHistory, found bool, err error) {
	var out struct {
		Found        bool                `json:"found"`
		SessionID    string              `json:"sessionId"`
		GuessHistory domain.GuessHistory `json:"guessHistory"`
	}
	path := fmt.Sprintf("/sessions/lookup/%s/%s?date=%s", channelID, userID, gameDate)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return "", nil, false, err
	}
	return out.SessionID, out.GuessHistory, out.Found, nil
}

// EndSession retires a finished session. Ending an unknown session is not
// an error.
func (c *Client) EndSession(ctx context.Context, sessionID string) error {
	err := c.do(ctx, http.MethodDelete, "/sessions/"+sessionID, nil, nil)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

func (c *Client) GameState(ctx context.Context, guildID, gameDate string) (*GameState, error) {
	var state GameState
	path := fmt.Sprintf("/gamestate/%s/%s", guildID, gameDate)
	if err := c.do(ctx, http.MethodGet, path, nil, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// CompleteGame records a player's finished puzzle and returns the updated
// guild game state
func (c *Client) CompleteGame(ctx context.Context, guildID, gameDate string, result *domain.GameResult) (*GameState, error) {
	body := map[string]interface{}{
		"userId":       result.UserID,
		"username":     result.Username,
		"avatar":       result.Avatar,
		"score":        result.Score,
		"mistakes":     result.Mistakes,
		"guessHistory": result.GuessHistory,
	}
	var out struct {
		Success   bool       `json:"success"`
		GameState *GameState `json:"gameState"`
	}
	path := fmt.Sprintf("/gamestate/%s/%s/complete", guildID, gameDate)
	if err := c.do(ctx, http.MethodPost, path, body, &out); err != nil {
		return nil, err
	}
	if !out.Success {
		return nil, fmt.Errorf("coordinator rejected result for %s on %s", result.UserID, gameDate)
	}
	return out.GameState, nil
}

// DeleteGameResult wipes a player's recorded result so they can replay
func (c *Client) DeleteGameResult(ctx context.Context, guildID, gameDate, userID string) (*GameState, error) {
	var out struct {
		Success   bool       `json:"success"`
		GameState *GameState `json:"gameState"`
	}
	path := fmt.Sprintf("/gamestate/%s/%s/%s", guildID, gameDate, userID)
	if err := c.do(ctx, http.MethodDelete, path, nil, &out); err != nil {
		return nil, err
	}
	return out.GameState, nil
}
