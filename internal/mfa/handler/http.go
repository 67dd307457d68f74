package handler

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	identityhandler "care-platform/backend/internal/identity/handler"
	"care-platform/backend/internal/identity/service"
	"care-platform/backend/internal/mfa"
	"care-platform/backend/internal/policy/engine"
	"care-platform/backend/internal/server/httperr"
	"care-platform/backend/internal/server/middleware"
	"care-platform/backend/internal/server/respond"
)

// Handler serves the self-service /api/mfa routes.
type Handler struct {
	enrollment   *mfa.Enrollment
	verifier     *mfa.Verifier
	auth         *service.Authenticator
	secureCookie bool
	log          *zap.Logger
}

// NewHandler returns a Handler.
func NewHandler(enrollment *mfa.Enrollment, verifier *mfa.Verifier, auth *service.Authenticator, secureCookie bool, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{enrollment: enrollment, verifier: verifier, auth: auth, secureCookie: secureCookie, log: log}
}

// RegisterRoutes mounts the MFA routes on the /api subrouter.
func (h *Handler) RegisterRoutes(r *mux.Router) {
	enrollScopes := middleware.RequireSession(engine.ScopeFull, engine.ScopeMFAEnrollment)
	full := middleware.RequireSession(engine.ScopeFull)

	r.Handle("/mfa/status", enrollScopes(http.HandlerFunc(h.Status))).Methods(http.MethodGet)
	r.Handle("/mfa/setup", enrollScopes(http.HandlerFunc(h.Setup))).Methods(http.MethodPost)
	r.Handle("/mfa/verify", enrollScopes(http.HandlerFunc(h.Verify))).Methods(http.MethodPost)
	r.Handle("/mfa/disable", full(http.HandlerFunc(h.Disable))).Methods(http.MethodPost)
}

type statusResponse struct {
	State                string `json:"state"`
	MFARequired          bool   `json:"mfaRequired"`
	RemainingBackupCodes int    `json:"remainingBackupCodes"`
}

// Status reports the caller's enrollment state.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	id, _ := middleware.GetIdentity(r.Context())
	a, err := h.auth.Account(r.Context(), id.AccountID)
	if err != nil {
		httperr.Write(w, r, err, h.log)
		return
	}
	resp := statusResponse{State: string(a.MFAState()), MFARequired: a.MFARequired}
	if a.MFAEnabled {
		n, err := h.verifier.RemainingBackupCodes(r.Context(), a.ID)
		if err != nil {
			httperr.Write(w, r, err, h.log)
			return
		}
		resp.RemainingBackupCodes = n
	}
	respond.JSON(w, http.StatusOK, resp)
}

// Setup starts enrollment and returns the secret, the otpauth URI and the QR code.
func (h *Handler) Setup(w http.ResponseWriter, r *http.Request) {
	id, _ := middleware.GetIdentity(r.Context())
	res, err := h.enrollment.BeginSetup(r.Context(), id.AccountID)
	if err != nil {
		httperr.Write(w, r, err, h.log)
		return
	}
	respond.JSON(w, http.StatusOK, res)
}

type codeRequest struct {
	Code string `json:"code"`
}

type verifyResponse struct {
	BackupCodes []string                         `json:"backupCodes"`
	Session     *identityhandler.SessionResponse `json:"session,omitempty"`
}

// Verify confirms enrollment, returns the backup codes once and reissues the session so a restricted
// mfa_enrollment scope is lifted.
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	var req codeRequest
	if err := respond.Decode(r, &req); err != nil {
		respond.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	id, _ := middleware.GetIdentity(r.Context())
	codes, err := h.enrollment.VerifySetup(r.Context(), id.AccountID, req.Code)
	if err != nil {
		httperr.Write(w, r, err, h.log)
		return
	}
	resp := verifyResponse{BackupCodes: codes}
	res, err := h.auth.Reissue(r.Context(), id.AccountID, id.RememberMe)
	if err != nil {
		h.log.Warn("mfa: reissue session after enrollment", zap.String("account_id", id.AccountID), zap.Error(err))
	} else {
		session := identityhandler.SetSessionCookie(w, res, h.secureCookie)
		resp.Session = &session
	}
	respond.JSON(w, http.StatusOK, resp)
}

// Disable turns MFA off after checking a current TOTP code.
func (h *Handler) Disable(w http.ResponseWriter, r *http.Request) {
	var req codeRequest
	if err := respond.Decode(r, &req); err != nil {
		respond.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	id, _ := middleware.GetIdentity(r.Context())
	if err := h.enrollment.DisableWithCode(r.Context(), id.AccountID, req.Code); err != nil {
		httperr.Write(w, r, err, h.log)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
