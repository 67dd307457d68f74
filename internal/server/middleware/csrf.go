package middleware

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"care-platform/backend/internal/security"
	"care-platform/backend/internal/server/respond"
)

// Double-submit CSRF names.
const (
	CSRFCookie = "csrf_token"
	CSRFHeader = "X-CSRF-Token"
)

var csrfKey = contextKey{"csrf_token"}

// CSRFToken returns the token issued or accepted for this request.
func CSRFToken(ctx context.Context) string {
	v, _ := ctx.Value(csrfKey).(string)
	return v
}

// CSRF implements the double-submit cookie check. Responses to requests lacking the csrf_token cookie get a new
// one. Every request other than GET, HEAD and OPTIONS must echo the cookie value in X-CSRF-Token.
func CSRF(secureCookie bool, log *zap.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var token string
			if c, err := r.Cookie(CSRFCookie); err == nil && c.Value != "" {
				token = c.Value
			}

			switch r.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
			default:
				if !security.TokensEqual(token, r.Header.Get(CSRFHeader)) {
					respond.ErrorCode(w, http.StatusForbidden, "invalid csrf token", "csrf")
					return
				}
			}

			if token == "" {
				t, err := security.RandomToken(32)
				if err != nil {
					log.Error("csrf: generate token", zap.Error(err))
					respond.Error(w, http.StatusInternalServerError, "internal error")
					return
				}
				token = t
				http.SetCookie(w, &http.Cookie{
					Name:     CSRFCookie,
					Value:    token,
					Path:     "/",
					Secure:   secureCookie,
					SameSite: http.SameSiteStrictMode,
				})
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), csrfKey, token)))
		})
	}
}
