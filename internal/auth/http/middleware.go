package http

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/dottirhealth/dottir/internal/auth/service"
	"github.com/dottirhealth/dottir/pkg/httpx"
	"github.com/dottirhealth/dottir/pkg/slogx"
)

// Session expiry is surfaced to clients on every authenticated response so
// the frontend can show its "about to sign you out" warning.
const (
	headerSessionExpiresAt = "X-Session-Expires-At"
	headerSessionWarning   = "X-Session-Warning"
)

// AuthnMiddleware validates the Bearer session token on each request. A
// valid token counts as activity: the middleware touches the session, which
// slides its inactivity window, and injects the identity into the request
// context. Expired and unknown tokens both end the request with 401.
func AuthnMiddleware(sessions *service.SessionService) httpx.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log := slogx.FromContext(r.Context())

			token, ok := bearerToken(r)
			if !ok {
				httpx.WriteError(w, http.StatusUnauthorized, "invalid_token", "Missing or malformed Authorization header")
				return
			}

			res, err := sessions.Touch(r.Context(), token)
			if err != nil {
				switch {
				case errors.Is(err, service.ErrSessionExpiredInactivity):
					httpx.WriteError(w, http.StatusUnauthorized, "session_expired", "Session expired due to inactivity")
				case errors.Is(err, service.ErrSessionExpiredAbsolute):
					httpx.WriteError(w, http.StatusUnauthorized, "session_expired", "Session reached its maximum lifetime")
				case errors.Is(err, service.ErrSessionNotFound):
					httpx.WriteError(w, http.StatusUnauthorized, "invalid_token", "Unknown or revoked session token")
				default:
					log.Error("failed to touch session", "err", err)
					httpx.WriteError(w, http.StatusInternalServerError, "server_error", "Internal server error")
				}
				return
			}

			w.Header().Set(headerSessionExpiresAt, res.ExpiresAt.UTC().Format(time.RFC3339))
			if res.Warning {
				w.Header().Set(headerSessionWarning, "expiring_soon")
			}

			ctx := r.Context()
			ctx = context.WithValue(ctx, httpx.CtxKeyIdentityID, res.Session.IdentityID)
			ctx = context.WithValue(ctx, httpx.CtxKeySessionID, res.Session.ID)
			ctx = context.WithValue(ctx, httpx.CtxKeySessionToken, token)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(header[len(prefix):]), true
}
