// Package server middleware for authentication and rate limiting
package server

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

// authConfig holds admin authentication configuration
type authConfig struct {
	adminUsername string
	adminPassword string
	adminToken    string
	enabled       bool
}

func newAuthConfig(opts Options) *authConfig {
	// Auth is enabled if either basic auth (username+password) or token auth is configured
	enabled := (opts.AdminUsername != "" && opts.AdminPassword != "") || opts.AdminToken != ""

	if !enabled {
		slog.Warn("Admin authentication not configured - admin endpoints are UNPROTECTED. Set ADMIN_USERNAME+ADMIN_PASSWORD or ADMIN_TOKEN for production")
	}

	return &authConfig{
		adminUsername: opts.AdminUsername,
		adminPassword: opts.AdminPassword,
		adminToken:    opts.AdminToken,
		enabled:       enabled,
	}
}

// adminAuth is a middleware that protects admin endpoints with Basic Auth or token-based auth
func adminAuth(next http.Handler, cfg *authConfig) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Skip auth if not configured (dev mode)
		if !cfg.enabled {
			next.ServeHTTP(w, r)
			return
		}

		// Try token-based auth first (X-Admin-Token header)
		if cfg.adminToken != "" {
			token := r.Header.Get("X-Admin-Token")
			if token != "" && subtle.ConstantTimeCompare([]byte(token), []byte(cfg.adminToken)) == 1 {
				next.ServeHTTP(w, r)
				return
			}
		}

		// Try Basic Auth
		if cfg.adminUsername != "" && cfg.adminPassword != "" {
			username, password, ok := r.BasicAuth()
			if ok {
				usernameMatch := subtle.ConstantTimeCompare([]byte(username), []byte(cfg.adminUsername)) == 1
				passwordMatch := subtle.ConstantTimeCompare([]byte(password), []byte(cfg.adminPassword)) == 1
				if usernameMatch && passwordMatch {
					next.ServeHTTP(w, r)
					return
				}
			}
		}

		w.Header().Set("WWW-Authenticate", `Basic realm="obs-commander admin"`)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		slog.Warn("admin auth failed", slog.String("path", r.URL.Path), slog.String("remote_addr", r.RemoteAddr))
	})
}

// newReconnectLimiter returns the token bucket shared by all manual reconnects.
func newReconnectLimiter(burst int, every time.Duration) *rate.Limiter {
	if burst <= 0 {
		burst = 3
	}
	if every <= 0 {
		every = 10 * time.Second
	}
	return rate.NewLimiter(rate.Every(every), burst)
}

// rateLimitMiddleware rejects requests with 429 while the limiter is empty.
func rateLimitMiddleware(next http.Handler, limiter *rate.Limiter) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		res := limiter.Reserve()
		if delay := res.Delay(); delay > 0 {
			res.Cancel()
			w.Header().Set("Retry-After", strconv.Itoa(int(delay.Seconds())+1))
			http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
			slog.Warn("rate limit exceeded", slog.String("path", r.URL.Path), slog.String("remote_addr", r.RemoteAddr))
			return
		}
		next.ServeHTTP(w, r)
	})
}
