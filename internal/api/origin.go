// internal/api/origin.go
// Single-origin CORS policy shared by the REST routes and the websocket upgrader.
package api

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/erilali/chathub/internal/logger"
)

// OriginPolicy admits browser requests from exactly one configured origin.
type OriginPolicy struct {
	allowed string
	logger  *logger.Logger
}

// NewOriginPolicy normalizes origin; it returns false when it is not scheme://host.
func NewOriginPolicy(origin string, log *logger.Logger) (*OriginPolicy, bool) {
	if log == nil {
		log = logger.Nop()
	}
	normalized, ok := normalizeOrigin(strings.TrimSpace(origin))
	if !ok {
		return nil, false
	}
	return &OriginPolicy{allowed: normalized, logger: log}, true
}

func normalizeOrigin(origin string) (string, bool) {
	parsed, err := url.Parse(origin)
	if err != nil {
		return "", false
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", false
	}
	return strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host), true
}

func (p *OriginPolicy) allows(origin string) bool {
	normalized, ok := normalizeOrigin(origin)
	return ok && normalized == p.allowed
}

// CheckOrigin is the websocket upgrader hook. Non-browser clients send no
// Origin header and are let through; the token still gates the upgrade.
func (p *OriginPolicy) CheckOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || p.allows(origin) {
		return true
	}
	p.logger.Warnf("Blocked WebSocket connection from disallowed origin: %q", origin)
	return false
}

// Middleware sets credentialed CORS headers for the allowed origin and
// answers preflight requests.
func (p *OriginPolicy) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		allowed := origin != "" && p.allows(origin)
		if allowed {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Requested-With, X-SignalR-User-Agent")
			h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			h.Add("Vary", "Origin")
		}

		if r.Method == http.MethodOptions {
			if !allowed {
				p.logger.Warnf("Rejected preflight from origin %q", origin)
				w.WriteHeader(http.StatusForbidden)
				return
			}
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
