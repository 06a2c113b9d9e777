package api

import (
	"errors"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/ernie/synapse/internal/domain"
	"github.com/ernie/synapse/internal/puzzle"
	"github.com/ernie/synapse/internal/session"
)

// writeJSON writes a JSON response
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// decodeBody parses a JSON request body into dst
func decodeBody(req *http.Request, dst interface{}) error {
	defer req.Body.Close()
	return json.NewDecoder(req.Body).Decode(dst)
}

// --- Session handlers ---

type startSessionRequest struct {
	SessionID string `json:"sessionId"`
	GuildID   string `json:"guildId"`
	ChannelID string `json:"channelId"`
	GameDate  string `json:"gameDate"`
}

func (r *Router) handleStartSession(w http.ResponseWriter, req *http.Request) {
	var body startSessionRequest
	if err := decodeBody(req, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.SessionID == "" || body.ChannelID == "" || !domain.ValidDate(body.GameDate) {
		writeError(w, http.StatusBadRequest, "sessionId, channelId and gameDate are required")
		return
	}

	sess, err := r.sessions.Create(req.Context(), body.SessionID, body.GuildID, body.ChannelID, body.GameDate)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "session": sess})
}

type joinSessionRequest struct {
	UserID    string `json:"userId"`
	Username  string `json:"username"`
	AvatarURL string `json:"avatarUrl"`
	GuildID   string `json:"guildId"`
	GameDate  string `json:"gameDate"`
}

func (r *Router) handleJoinSession(w http.ResponseWriter, req *http.Request) {
	sessionID := req.PathValue("sessionId")

	var body joinSessionRequest
	if err := decodeBody(req, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.UserID == "" || !domain.ValidDate(body.GameDate) {
		writeError(w, http.StatusBadRequest, "userId and gameDate are required")
		return
	}

	userSessionID, err := r.sessions.Join(req.Context(), sessionID, body.UserID, body.Username, body.AvatarURL, body.GuildID, body.GameDate)
	if errors.Is(err, session.ErrNotFound) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		// Transient store failure: logged, degraded response, the client
		// keeps playing locally
		log.Printf("Join failed for %s in %s: %v", body.UserID, sessionID, err)
		writeJSON(w, http.StatusOK, map[string]interface{}{"success": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":          true,
		"userSessionId":    userSessionID,
		"messageSessionId": sessionID,
	})
}

type updateGuessesRequest struct {
	GuessHistory domain.GuessHistory `json:"guessHistory"`
}

func (r *Router) handleUpdateGuesses(w http.ResponseWriter, req *http.Request) {
	userSessionID := req.PathValue("userSessionId")

	var body updateGuessesRequest
	if err := decodeBody(req, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sessionID, userID, err := r.sessions.UpdateGuesses(req.Context(), userSessionID, body.GuessHistory)
	if errors.Is(err, session.ErrNotFound) {
		writeError(w, http.StatusNotFound, "user session not found")
		return
	}
	if err != nil {
		log.Printf("Guess update failed for %s: %v", userSessionID, err)
		writeJSON(w, http.StatusOK, map[string]interface{}{"success": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":          true,
		"messageSessionId": sessionID,
		"userId":           userID,
	})
}

func (r *Router) handleLookupSession(w http.ResponseWriter, req *http.Request) {
	channelID := req.PathValue("channelId")
	userID := req.PathValue("userId")
	date := req.URL.Query().Get("date")
	if !domain.ValidDate(date) {
		writeError(w, http.StatusBadRequest, "date query parameter is required")
		return
	}

	sessionID, history, found, err := r.sessions.Lookup(req.Context(), channelID, userID, date)
	if err != nil {
		log.Printf("Session lookup failed for %s/%s: %v", channelID, userID, err)
		writeJSON(w, http.StatusOK, map[string]interface{}{"found": false})
		return
	}
	if !found {
		writeJSON(w, http.StatusOK, map[string]interface{}{"found": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"found":        true,
		"sessionId":    sessionID,
		"guessHistory": history,
	})
}

func (r *Router) handleGetSession(w http.ResponseWriter, req *http.Request) {
	sess, err := r.sessions.Get(req.Context(), req.PathValue("sessionId"))
	if errors.Is(err, session.ErrNotFound) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (r *Router) handleDeleteSession(w http.ResponseWriter, req *http.Request) {
	if err := r.sessions.End(req.Context(), req.PathValue("sessionId")); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// --- Game state handlers ---

type gameStatePlayer struct {
	Username     string              `json:"username"`
	Avatar       string              `json:"avatar,omitempty"`
	Score        int                 `json:"score"`
	Mistakes     int                 `json:"mistakes"`
	GuessHistory domain.GuessHistory `json:"guessHistory"`
	CompletedAt  time.Time           `json:"completedAt"`
}

func gameStateResponse(date string, results []domain.GameResult) map[string]interface{} {
	players := make(map[string]gameStatePlayer, len(results))
	for _, res := range results {
		players[res.UserID] = gameStatePlayer{
			Username:     res.Username,
			Avatar:       res.Avatar,
			Score:        res.Score,
			Mistakes:     res.Mistakes,
			GuessHistory: res.GuessHistory,
			CompletedAt:  res.CompletedAt,
		}
	}
	return map[string]interface{}{"date": date, "players": players}
}

func (r *Router) handleGetGameState(w http.ResponseWriter, req *http.Request) {
	guildID := req.PathValue("guildId")
	date := req.PathValue("date")
	if !domain.ValidDate(date) {
		writeError(w, http.StatusBadRequest, "invalid date")
		return
	}

	results, err := r.store.GetGameResults(req.Context(), guildID, date)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to fetch game state")
		return
	}
	writeJSON(w, http.StatusOK, gameStateResponse(date, results))
}

type completeGameRequest struct {
	UserID       string              `json:"userId"`
	Username     string              `json:"username"`
	Avatar       string              `json:"avatar"`
	Score        int                 `json:"score"`
	Mistakes     int                 `json:"mistakes"`
	GuessHistory domain.GuessHistory `json:"guessHistory"`
}

func (r *Router) handleCompleteGame(w http.ResponseWriter, req *http.Request) {
	guildID := req.PathValue("guildId")
	date := req.PathValue("date")
	if !domain.ValidDate(date) {
		writeError(w, http.StatusBadRequest, "invalid date")
		return
	}

	var body completeGameRequest
	if err := decodeBody(req, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.UserID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}

	result := &domain.GameResult{
		GuildID:      guildID,
		UserID:       body.UserID,
		Username:     body.Username,
		Avatar:       body.Avatar,
		GameDate:     date,
		Score:        body.Score,
		Mistakes:     body.Mistakes,
		GuessHistory: body.GuessHistory,
		CompletedAt:  time.Now(),
	}
	if err := r.store.UpsertGameResult(req.Context(), result); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to save game result")
		return
	}

	results, err := r.store.GetGameResults(req.Context(), guildID, date)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to fetch game state")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"gameState": gameStateResponse(date, results),
	})
}

func (r *Router) handleDeleteGameResult(w http.ResponseWriter, req *http.Request) {
	guildID := req.PathValue("guildId")
	date := req.PathValue("date")
	userID := req.PathValue("userId")
	if !domain.ValidDate(date) {
		writeError(w, http.StatusBadRequest, "invalid date")
		return
	}

	// Detach from any live session first so the poller stops seeing the player
	if err := r.sessions.ClearUser(req.Context(), guildID, userID, date); err != nil {
		log.Printf("Clearing user %s from sessions failed: %v", userID, err)
	}
	if err := r.store.DeleteGameResult(req.Context(), guildID, userID, date); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete game result")
		return
	}

	results, err := r.store.GetGameResults(req.Context(), guildID, date)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to fetch game state")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"gameState": gameStateResponse(date, results),
	})
}

// --- Activity client handlers ---

func (r *Router) handleGetPuzzle(w http.ResponseWriter, req *http.Request) {
	date := req.PathValue("date")
	if !domain.ValidDate(date) {
		writeError(w, http.StatusBadRequest, "invalid date")
		return
	}

	data, err := r.puzzles.Get(req.Context(), date)
	if errors.Is(err, puzzle.ErrNotFound) {
		writeError(w, http.StatusNotFound, "game not found for this date")
		return
	}
	if err != nil {
		log.Printf("Puzzle fetch failed for %s: %v", date, err)
		writeError(w, http.StatusInternalServerError, "failed to fetch game data")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

type tokenRequest struct {
	Code string `json:"code"`
}

// handleTokenExchange trades an OAuth authorization code for an access token
// on behalf of the embedded activity client
func (r *Router) handleTokenExchange(w http.ResponseWriter, req *http.Request) {
	var body tokenRequest
	if err := decodeBody(req, &body); err != nil || body.Code == "" {
		writeError(w, http.StatusBadRequest, "code is required")
		return
	}

	form := url.Values{
		"client_id":     {r.oauth.ClientID},
		"client_secret": {r.oauth.ClientSecret},
		"grant_type":    {"authorization_code"},
		"code":          {body.Code},
	}
	upstream, err := http.Post(r.oauth.TokenURL, "application/x-www-form-urlencoded", strings.NewReader(form.Encode()))
	if err != nil {
		log.Printf("Token exchange failed: %v", err)
		writeError(w, http.StatusBadGateway, "token exchange failed")
		return
	}
	defer upstream.Body.Close()

	var payload struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(upstream.Body).Decode(&payload); err != nil || payload.AccessToken == "" {
		log.Printf("Token exchange returned no access token (status %d)", upstream.StatusCode)
		writeError(w, http.StatusBadGateway, "token exchange failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"access_token": payload.AccessToken})
}
