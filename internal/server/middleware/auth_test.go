package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	auditdomain "care-platform/backend/internal/audit/domain"
	"care-platform/backend/internal/policy/engine"
	"care-platform/backend/internal/signingkey"
)

type fakeValidator map[string]*signingkey.Claims

func (f fakeValidator) ValidateToken(token string) (*signingkey.Claims, error) {
	if token == "unknown-kid" {
		return nil, signingkey.ErrKeyNotFound
	}
	c, ok := f[token]
	if !ok {
		return nil, signingkey.ErrTokenInvalid
	}
	return c, nil
}

type recorder struct {
	mu     sync.Mutex
	events []auditdomain.Event
}

func (r *recorder) Record(_ context.Context, e auditdomain.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func claims(sub, scope, purpose string) *signingkey.Claims {
	return &signingkey.Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: sub, ID: "jti-" + sub},
		Role:             "provider",
		Scope:            scope,
		Purpose:          purpose,
	}
}

func identityEcho(t *testing.T, got *Identity) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id, ok := GetIdentity(r.Context()); ok {
			*got = id
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestAuthenticate(t *testing.T) {
	v := fakeValidator{
		"good":      claims("acct-1", "full", signingkey.PurposeSession),
		"challenge": claims("acct-2", "", signingkey.PurposeMFA),
	}

	tests := []struct {
		name       string
		setup      func(r *http.Request)
		wantID     string
		wantReject bool
	}{
		{"anonymous", func(r *http.Request) {}, "", false},
		{"bearer", func(r *http.Request) { r.Header.Set("Authorization", "Bearer good") }, "acct-1", false},
		{"bearer lowercase", func(r *http.Request) { r.Header.Set("Authorization", "bearer good") }, "acct-1", false},
		{"cookie", func(r *http.Request) { r.AddCookie(&http.Cookie{Name: SessionCookie, Value: "good"}) }, "acct-1", false},
		{"invalid", func(r *http.Request) { r.Header.Set("Authorization", "Bearer nope") }, "", true},
		{"unknown kid", func(r *http.Request) { r.Header.Set("Authorization", "Bearer unknown-kid") }, "", true},
		{"challenge token", func(r *http.Request) { r.Header.Set("Authorization", "Bearer challenge") }, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recorder{}
			var got Identity
			h := Authenticate(v, rec, nil)(identityEcho(t, &got))
			req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
			tt.setup(req)
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			assert.Equal(t, http.StatusNoContent, w.Code)
			assert.Equal(t, tt.wantID, got.AccountID)
			if tt.wantReject {
				require.Len(t, rec.events, 1)
				assert.Equal(t, auditdomain.EventSessionRejected, rec.events[0].Type)
			} else {
				assert.Empty(t, rec.events)
			}
		})
	}
}

func TestRequireSession(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	tests := []struct {
		name     string
		identity *Identity
		allowed  []engine.Scope
		want     int
		wantCode string
	}{
		{"anonymous", nil, nil, http.StatusUnauthorized, ""},
		{"any scope", &Identity{AccountID: "a", Scope: "mfa_enrollment"}, nil, http.StatusOK, ""},
		{"full allowed", &Identity{AccountID: "a", Scope: "full"}, []engine.Scope{engine.ScopeFull}, http.StatusOK, ""},
		{"password change blocked", &Identity{AccountID: "a", Scope: "password_change"}, []engine.Scope{engine.ScopeFull}, http.StatusForbidden, "password_change_required"},
		{"enrollment blocked", &Identity{AccountID: "a", Scope: "mfa_enrollment"}, []engine.Scope{engine.ScopeFull}, http.StatusForbidden, "mfa_enrollment_required"},
		{"enrollment allowed", &Identity{AccountID: "a", Scope: "mfa_enrollment"}, []engine.Scope{engine.ScopeFull, engine.ScopeMFAEnrollment}, http.StatusOK, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/x", nil)
			if tt.identity != nil {
				req = req.WithContext(WithIdentity(req.Context(), *tt.identity))
			}
			w := httptest.NewRecorder()
			RequireSession(tt.allowed...)(ok).ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
			if tt.wantCode != "" {
				assert.Contains(t, w.Body.String(), tt.wantCode)
			}
		})
	}
}
