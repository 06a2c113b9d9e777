package api

import (
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// allowedOrigins are the activity-client origins the coordinator accepts
var allowedOrigins = map[string]bool{
	"https://discord.com":        true,
	"https://canary.discord.com": true,
	"https://ptb.discord.com":    true,
	"null":                       true,
}

// corsAndSecurity applies the CORS and framing headers the embedded activity
// client needs, and short-circuits preflight requests
func corsAndSecurity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		origin := req.Header.Get("Origin")
		if allowedOrigins[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
		} else if origin == "" {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Credentials", "true")
		w.Header().Set("Content-Security-Policy", "frame-ancestors https://discord.com https://*.discord.com;")

		if req.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, req)
	})
}

// statusRecorder captures the response status for logging
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// withRequestLog tags each request with a short ID and logs its outcome
func withRequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		requestID := uuid.NewString()[:8]
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, req)

		log.Printf("[%s] %s %s -> %d (%v)", requestID, req.Method, req.URL.Path, rec.status, time.Since(start).Round(time.Millisecond))
	})
}

// requireService guards destructive routes behind a bearer service token
func (r *Router) requireService(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		header := req.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			writeError(w, http.StatusUnauthorized, "missing service token")
			return
		}
		if _, err := r.auth.ValidateToken(token); err != nil {
			writeError(w, http.StatusUnauthorized, "invalid service token")
			return
		}
		next(w, req)
	}
}
