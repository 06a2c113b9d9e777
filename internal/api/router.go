package api

import (
	"net/http"

	"github.com/ernie/synapse/internal/auth"
	"github.com/ernie/synapse/internal/puzzle"
	"github.com/ernie/synapse/internal/session"
	"github.com/ernie/synapse/internal/storage"
)

// OAuthConfig holds what the token-exchange endpoint needs to trade an
// authorization code for a chat-platform access token
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
}

// Router holds the HTTP routes and dependencies for the session coordinator
type Router struct {
	mux      *http.ServeMux
	sessions *session.Service
	store    *storage.Store
	puzzles  *puzzle.Cache
	auth     *auth.Service
	oauth    OAuthConfig
}

// NewRouter creates a new HTTP router
func NewRouter(sessions *session.Service, store *storage.Store, puzzles *puzzle.Cache, authService *auth.Service, oauth OAuthConfig) *Router {
	r := &Router{
		mux:      http.NewServeMux(),
		sessions: sessions,
		store:    store,
		puzzles:  puzzles,
		auth:     authService,
		oauth:    oauth,
	}

	// Session routes
	r.mux.HandleFunc("POST /sessions/start", r.handleStartSession)
	r.mux.HandleFunc("POST /sessions/{sessionId}/join", r.handleJoinSession)
	r.mux.HandleFunc("POST /sessions/{userSessionId}/update", r.handleUpdateGuesses)
	r.mux.HandleFunc("GET /sessions/lookup/{channelId}/{userId}", r.handleLookupSession)
	r.mux.HandleFunc("GET /sessions/{sessionId}", r.handleGetSession)
	r.mux.HandleFunc("DELETE /sessions/{sessionId}", r.requireService(r.handleDeleteSession))

	// Game state routes
	r.mux.HandleFunc("GET /gamestate/{guildId}/{date}", r.handleGetGameState)
	r.mux.HandleFunc("POST /gamestate/{guildId}/{date}/complete", r.handleCompleteGame)
	r.mux.HandleFunc("DELETE /gamestate/{guildId}/{date}/{userId}", r.requireService(r.handleDeleteGameResult))

	// Activity client routes
	r.mux.HandleFunc("GET /puzzle/{date}", r.handleGetPuzzle)
	r.mux.HandleFunc("POST /token", r.handleTokenExchange)

	r.mux.HandleFunc("GET /healthz", r.handleHealth)

	return r
}

// ServeHTTP implements http.Handler, applying the cross-cutting middleware
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	corsAndSecurity(withRequestLog(r.mux)).ServeHTTP(w, req)
}

func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
