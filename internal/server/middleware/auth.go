package middleware

import (
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"care-platform/backend/internal/audit"
	auditdomain "care-platform/backend/internal/audit/domain"
	"care-platform/backend/internal/identity/service"
	"care-platform/backend/internal/policy/engine"
	"care-platform/backend/internal/server/respond"
	"care-platform/backend/internal/signingkey"
)

// Cookie names used by the session transport.
const (
	SessionCookie   = "session"
	ChallengeCookie = "mfa_pending"
)

const bearerPrefix = "bearer "

// TokenValidator validates signed tokens.
type TokenValidator interface {
	ValidateToken(token string) (*signingkey.Claims, error)
}

// Authenticate validates the session token from the Authorization header or the session cookie and sets the
// caller identity in the context. Requests without a token pass through anonymously. A token that fails
// validation is recorded as SESSION_REJECTED and the request continues anonymously, so public routes keep
// working with a stale cookie.
func Authenticate(tokens TokenValidator, rec audit.Recorder, log *zap.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := SessionToken(r)
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}
			claims, err := tokens.ValidateToken(token)
			if err == nil && claims.Purpose != signingkey.PurposeSession {
				err = signingkey.ErrTokenInvalid
			}
			if err != nil {
				reason := "invalid session token"
				if errors.Is(err, signingkey.ErrKeyNotFound) {
					reason = "session token signed by unknown key"
				}
				log.Debug("session rejected", zap.String("path", r.URL.Path), zap.Error(err))
				if rec != nil {
					rec.Record(r.Context(), auditdomain.Event{
						Type:     auditdomain.EventSessionRejected,
						Severity: auditdomain.SeverityLow,
						Outcome:  auditdomain.OutcomeDenied,
						Message:  reason,
					})
				}
				next.ServeHTTP(w, r)
				return
			}
			ctx := WithIdentity(r.Context(), Identity{
				AccountID:  claims.Subject,
				Role:       claims.Role,
				Scope:      claims.Scope,
				RememberMe: claims.RememberMe,
				TokenID:    claims.ID,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireSession rejects anonymous requests with 401 and sessions whose scope is not in allowed with 403.
// With no allowed scopes any session passes.
func RequireSession(allowed ...engine.Scope) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := GetIdentity(r.Context())
			if !ok {
				w.Header().Set("WWW-Authenticate", "Bearer")
				respond.Error(w, http.StatusUnauthorized, "authentication required")
				return
			}
			if len(allowed) > 0 {
				switch err := service.CheckScope(id.Scope, allowed...); {
				case errors.Is(err, service.ErrPasswordChangeRequired):
					respond.ErrorCode(w, http.StatusForbidden, err.Error(), "password_change_required")
					return
				case err != nil:
					respond.ErrorCode(w, http.StatusForbidden, err.Error(), "mfa_enrollment_required")
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// SessionToken returns the Bearer token, else the session cookie value, else "".
func SessionToken(r *http.Request) string {
	if t := bearerToken(r); t != "" {
		return t
	}
	if c, err := r.Cookie(SessionCookie); err == nil {
		return c.Value
	}
	return ""
}

func bearerToken(r *http.Request) string {
	v := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(v) < len(bearerPrefix) || !strings.EqualFold(v[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(v[len(bearerPrefix):])
}
