package handler

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"care-platform/backend/internal/account/domain"
	"care-platform/backend/internal/identity/service"
	"care-platform/backend/internal/policy/engine"
	"care-platform/backend/internal/server/httperr"
	"care-platform/backend/internal/server/middleware"
	"care-platform/backend/internal/server/respond"
)

// Handler serves the /api/auth routes.
type Handler struct {
	auth         *service.Authenticator
	secureCookie bool
	log          *zap.Logger
}

// NewHandler returns a Handler. secureCookie sets the Secure flag on session cookies.
func NewHandler(auth *service.Authenticator, secureCookie bool, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{auth: auth, secureCookie: secureCookie, log: log}
}

// RegisterRoutes mounts the auth routes on r, which is expected to be the /api subrouter. throttle wraps the
// unauthenticated credential endpoints.
func (h *Handler) RegisterRoutes(r *mux.Router, throttle func(http.Handler) http.Handler) {
	anySession := middleware.RequireSession()
	passwordScopes := middleware.RequireSession(engine.ScopeFull, engine.ScopePasswordChange)

	r.HandleFunc("/auth/csrf", h.CSRF).Methods(http.MethodGet)
	r.Handle("/auth/register", throttle(http.HandlerFunc(h.Register))).Methods(http.MethodPost)
	r.Handle("/auth/login", throttle(http.HandlerFunc(h.Login))).Methods(http.MethodPost)
	r.Handle("/auth/verify-mfa", throttle(http.HandlerFunc(h.VerifyMFA))).Methods(http.MethodPost)
	r.Handle("/auth/logout", anySession(http.HandlerFunc(h.Logout))).Methods(http.MethodPost)
	r.Handle("/auth/me", anySession(http.HandlerFunc(h.Me))).Methods(http.MethodGet)
	r.Handle("/auth/change-password", passwordScopes(http.HandlerFunc(h.ChangePassword))).Methods(http.MethodPost)
}

type accountView struct {
	ID                     string          `json:"id"`
	Email                  string          `json:"email"`
	Role                   domain.Role     `json:"role"`
	IsSuperadmin           bool            `json:"isSuperadmin"`
	MFAEnabled             bool            `json:"mfaEnabled"`
	MFARequired            bool            `json:"mfaRequired"`
	MFAState               domain.MFAState `json:"mfaState"`
	ChangePasswordRequired bool            `json:"changePasswordRequired"`
}

func newAccountView(a *domain.Account) accountView {
	return accountView{
		ID:                     a.ID,
		Email:                  a.Email,
		Role:                   a.Role,
		IsSuperadmin:           a.IsSuperadmin,
		MFAEnabled:             a.MFAEnabled,
		MFARequired:            a.MFARequired,
		MFAState:               a.MFAState(),
		ChangePasswordRequired: a.ChangePasswordRequired,
	}
}

// SessionResponse is returned whenever a session token is issued.
type SessionResponse struct {
	AccountID            string       `json:"userId"`
	Email                string       `json:"email"`
	Role                 domain.Role  `json:"role"`
	Token                string       `json:"token"`
	ExpiresAt            time.Time    `json:"expiresAt"`
	Scope                engine.Scope `json:"scope"`
	RemainingBackupCodes *int         `json:"remainingBackupCodes,omitempty"`
}

type challengeResponse struct {
	MFARequired    bool      `json:"mfaRequired"`
	ChallengeToken string    `json:"challengeToken"`
	ExpiresAt      time.Time `json:"expiresAt"`
}

// CSRF returns the double-submit token so clients without cookie access can echo it.
func (h *Handler) CSRF(w http.ResponseWriter, r *http.Request) {
	respond.JSON(w, http.StatusOK, map[string]string{"csrfToken": middleware.CSRFToken(r.Context())})
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Register creates a patient account.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := respond.Decode(r, &req); err != nil {
		respond.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	a, err := h.auth.Register(r.Context(), req.Email, req.Password, domain.RolePatient)
	if err != nil {
		httperr.Write(w, r, err, h.log)
		return
	}
	respond.JSON(w, http.StatusCreated, newAccountView(a))
}

type loginRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	RememberMe bool   `json:"rememberMe"`
}

// Login verifies credentials and either starts a session or returns an MFA challenge.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := respond.Decode(r, &req); err != nil {
		respond.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	res, err := h.auth.Authenticate(r.Context(), req.Email, req.Password, req.RememberMe)
	if err != nil {
		httperr.Write(w, r, err, h.log)
		return
	}
	if res.Outcome == service.OutcomeChallengeRequired {
		http.SetCookie(w, &http.Cookie{
			Name:     middleware.ChallengeCookie,
			Value:    res.ChallengeToken,
			Path:     "/api/auth",
			Expires:  res.ChallengeExpiresAt,
			HttpOnly: true,
			Secure:   h.secureCookie,
			SameSite: http.SameSiteStrictMode,
		})
		respond.JSON(w, http.StatusOK, challengeResponse{
			MFARequired:    true,
			ChallengeToken: res.ChallengeToken,
			ExpiresAt:      res.ChallengeExpiresAt,
		})
		return
	}
	h.writeSession(w, res)
}

type verifyMFARequest struct {
	Code           string `json:"code"`
	BackupCode     string `json:"backupCode"`
	ChallengeToken string `json:"challengeToken"`
}

// VerifyMFA completes a login with a TOTP code or a backup code.
func (h *Handler) VerifyMFA(w http.ResponseWriter, r *http.Request) {
	var req verifyMFARequest
	if err := respond.Decode(r, &req); err != nil {
		respond.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	token := req.ChallengeToken
	if token == "" {
		if c, err := r.Cookie(middleware.ChallengeCookie); err == nil {
			token = c.Value
		}
	}
	if token == "" {
		httperr.Write(w, r, service.ErrChallengeExpired, h.log)
		return
	}
	code, useBackup := req.Code, false
	if req.BackupCode != "" {
		code, useBackup = req.BackupCode, true
	}
	res, err := h.auth.CompleteMFAChallenge(r.Context(), token, code, useBackup)
	if err != nil {
		httperr.Write(w, r, err, h.log)
		return
	}
	http.SetCookie(w, h.expiredCookie(middleware.ChallengeCookie, "/api/auth"))
	h.writeSession(w, res)
}

// Logout clears the session cookie.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	id, _ := middleware.GetIdentity(r.Context())
	h.auth.Logout(r.Context(), id.AccountID)
	http.SetCookie(w, h.expiredCookie(middleware.SessionCookie, "/"))
	w.WriteHeader(http.StatusNoContent)
}

// Me returns the calling account and its session scope.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	id, _ := middleware.GetIdentity(r.Context())
	a, err := h.auth.Account(r.Context(), id.AccountID)
	if err != nil {
		httperr.Write(w, r, err, h.log)
		return
	}
	respond.JSON(w, http.StatusOK, struct {
		accountView
		Scope string `json:"scope"`
	}{newAccountView(a), id.Scope})
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

// ChangePassword replaces the password and reissues the session with a re-evaluated scope.
func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if err := respond.Decode(r, &req); err != nil {
		respond.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	id, _ := middleware.GetIdentity(r.Context())
	if err := h.auth.ChangePassword(r.Context(), id.AccountID, req.CurrentPassword, req.NewPassword); err != nil {
		httperr.Write(w, r, err, h.log)
		return
	}
	res, err := h.auth.Reissue(r.Context(), id.AccountID, id.RememberMe)
	if err != nil {
		httperr.Write(w, r, err, h.log)
		return
	}
	h.writeSession(w, res)
}

func (h *Handler) writeSession(w http.ResponseWriter, res *service.LoginResult) {
	WriteSession(w, res, h.secureCookie)
}

// WriteSession sets the session cookie and writes the SessionResponse.
func WriteSession(w http.ResponseWriter, res *service.LoginResult, secureCookie bool) {
	respond.JSON(w, http.StatusOK, SetSessionCookie(w, res, secureCookie))
}

// SetSessionCookie sets the session cookie for res and returns the response body describing it. A remember-me
// session gets a persistent cookie; otherwise the cookie ends with the browser session.
func SetSessionCookie(w http.ResponseWriter, res *service.LoginResult, secureCookie bool) SessionResponse {
	c := &http.Cookie{
		Name:     middleware.SessionCookie,
		Value:    res.Token,
		Path:     "/",
		HttpOnly: true,
		Secure:   secureCookie,
		SameSite: http.SameSiteStrictMode,
	}
	if res.RememberMe {
		c.Expires = res.ExpiresAt
	}
	http.SetCookie(w, c)
	return SessionResponse{
		AccountID:            res.AccountID,
		Email:                res.Email,
		Role:                 res.Role,
		Token:                res.Token,
		ExpiresAt:            res.ExpiresAt,
		Scope:                res.Scope,
		RemainingBackupCodes: res.RemainingBackupCodes,
	}
}

func (h *Handler) expiredCookie(name, path string) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     path,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteStrictMode,
	}
}
