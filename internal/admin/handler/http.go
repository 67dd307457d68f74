package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"care-platform/backend/internal/account/domain"
	"care-platform/backend/internal/audit"
	auditdomain "care-platform/backend/internal/audit/domain"
	"care-platform/backend/internal/lockout"
	"care-platform/backend/internal/mfa"
	"care-platform/backend/internal/platform/rbac"
	"care-platform/backend/internal/policy/engine"
	"care-platform/backend/internal/server/httperr"
	"care-platform/backend/internal/server/middleware"
	"care-platform/backend/internal/server/respond"
	"care-platform/backend/internal/signingkey"
)

// AccountGetter loads accounts by ID. Getters return (nil, nil) when no account matches.
type AccountGetter interface {
	GetByID(ctx context.Context, id string) (*domain.Account, error)
}

// EventLister reads the security event log.
type EventLister interface {
	List(ctx context.Context, f auditdomain.Filter) ([]*auditdomain.Event, error)
}

// Deps holds the services behind the admin console.
type Deps struct {
	Accounts   AccountGetter
	Policy     engine.Evaluator
	Lockout    *lockout.Engine
	Enrollment *mfa.Enrollment
	Keys       *signingkey.Manager
	Events     EventLister
	Audit      audit.Recorder
}

// Handler serves the /api/admin routes. Every route resolves the caller and target, then asks the access
// policy before acting.
type Handler struct {
	deps Deps
	log  *zap.Logger
}

// NewHandler returns a Handler.
func NewHandler(deps Deps, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{deps: deps, log: log}
}

// RegisterRoutes mounts the admin routes on the /api subrouter.
func (h *Handler) RegisterRoutes(r *mux.Router) {
	s := r.PathPrefix("/admin").Subrouter()
	s.Use(middleware.RequireSession(engine.ScopeFull))

	s.HandleFunc("/unlock-account", h.Unlock).Methods(http.MethodPost)
	s.HandleFunc("/accounts/unlock", h.Unlock).Methods(http.MethodPost)
	s.HandleFunc("/reset-failed-attempts", h.ResetFailedAttempts).Methods(http.MethodPost)
	s.HandleFunc("/accounts/locked", h.ListLocked).Methods(http.MethodGet)
	s.HandleFunc("/rotate-secret", h.RotateSecret).Methods(http.MethodPost)
	s.HandleFunc("/secret-status", h.SecretStatus).Methods(http.MethodGet)
	s.HandleFunc("/sweep-keys", h.SweepKeys).Methods(http.MethodPost)
	s.HandleFunc("/security-events", h.SecurityEvents).Methods(http.MethodGet)
	s.HandleFunc("/update-mfa-requirement", h.UpdateMFARequirement).Methods(http.MethodPatch)
	s.HandleFunc("/reset-mfa", h.ResetMFA).Methods(http.MethodPost)
}

type targetRequest struct {
	UserID string `json:"userId"`
}

// Unlock clears a lock and the failed-attempt counter.
func (h *Handler) Unlock(w http.ResponseWriter, r *http.Request) {
	h.withTarget(w, r, engine.ActionUnlock, func(ctx context.Context, actor, target *domain.Account) error {
		return h.deps.Lockout.AdminUnlock(ctx, target.ID, actor.ID)
	})
}

// ResetFailedAttempts zeroes the failed-attempt counter without touching the lock.
func (h *Handler) ResetFailedAttempts(w http.ResponseWriter, r *http.Request) {
	h.withTarget(w, r, engine.ActionResetAttempts, func(ctx context.Context, actor, target *domain.Account) error {
		return h.deps.Lockout.AdminResetFailedAttempts(ctx, target.ID, actor.ID)
	})
}

// ResetMFA disables MFA for another account.
func (h *Handler) ResetMFA(w http.ResponseWriter, r *http.Request) {
	h.withTarget(w, r, engine.ActionResetMFA, func(ctx context.Context, actor, target *domain.Account) error {
		return h.deps.Enrollment.Disable(ctx, target.ID, actor.ID)
	})
}

type mfaRequirementRequest struct {
	UserID     string `json:"userId"`
	RequireMFA *bool  `json:"requireMfa"`
}

// UpdateMFARequirement sets whether an account must enroll in MFA.
func (h *Handler) UpdateMFARequirement(w http.ResponseWriter, r *http.Request) {
	var req mfaRequirementRequest
	if err := respond.Decode(r, &req); err != nil || req.UserID == "" || req.RequireMFA == nil {
		respond.Error(w, http.StatusBadRequest, "userId and requireMfa are required")
		return
	}
	actor, target, ok := h.authorizeTarget(w, r, engine.ActionSetMFARequirement, req.UserID)
	if !ok {
		return
	}
	if err := h.deps.Enrollment.SetRequirement(r.Context(), target.ID, *req.RequireMFA, actor.ID); err != nil {
		httperr.Write(w, r, err, h.log)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]any{"success": true, "userId": target.ID, "requireMfa": *req.RequireMFA})
}

type lockedAccountView struct {
	ID                  string      `json:"id"`
	Email               string      `json:"email"`
	Role                domain.Role `json:"role"`
	FailedLoginAttempts int         `json:"failedLoginAttempts"`
	LockExpiresAt       *time.Time  `json:"lockExpiresAt"`
	LastFailedLogin     *time.Time  `json:"lastFailedLogin,omitempty"`
}

// ListLocked returns the accounts currently locked.
func (h *Handler) ListLocked(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.authorize(w, r, engine.ActionListLocked, nil); !ok {
		return
	}
	accounts, err := h.deps.Lockout.ListLocked(r.Context())
	if err != nil {
		httperr.Write(w, r, err, h.log)
		return
	}
	out := make([]lockedAccountView, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, lockedAccountView{
			ID:                  a.ID,
			Email:               a.Email,
			Role:                a.Role,
			FailedLoginAttempts: a.FailedLoginAttempts,
			LockExpiresAt:       a.LockExpiresAt,
			LastFailedLogin:     a.LastFailedLogin,
		})
	}
	respond.JSON(w, http.StatusOK, map[string]any{"accounts": out})
}

type rotateRequest struct {
	ExpiryDays int `json:"expiryDays"`
}

// RotateSecret creates a new signing key and keeps the old one valid for expiryDays.
func (h *Handler) RotateSecret(w http.ResponseWriter, r *http.Request) {
	var req rotateRequest
	if err := respond.Decode(r, &req); err != nil {
		respond.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	actor, ok := h.authorize(w, r, engine.ActionRotateKeys, nil)
	if !ok {
		return
	}
	newKeyID, err := h.deps.Keys.Rotate(r.Context(), req.ExpiryDays, actor.ID)
	if err != nil {
		httperr.Write(w, r, err, h.log)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]any{"newKeyId": newKeyID, "status": h.deps.Keys.Status()})
}

// SecretStatus reports the key ring state without secret material.
func (h *Handler) SecretStatus(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.authorize(w, r, engine.ActionViewKeys, nil); !ok {
		return
	}
	respond.JSON(w, http.StatusOK, h.deps.Keys.Status())
}

// SweepKeys retires grace keys past their expiry.
func (h *Handler) SweepKeys(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.authorize(w, r, engine.ActionSweepKeys, nil); !ok {
		return
	}
	n, err := h.deps.Keys.Sweep(r.Context())
	if err != nil {
		httperr.Write(w, r, err, h.log)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]int{"retired": n})
}

// SecurityEvents lists the audit log, newest first.
func (h *Handler) SecurityEvents(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.authorize(w, r, engine.ActionViewEvents, nil); !ok {
		return
	}
	f, err := parseFilter(r)
	if err != nil {
		respond.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	events, err := h.deps.Events.List(r.Context(), f)
	if err != nil {
		httperr.Write(w, r, err, h.log)
		return
	}
	if events == nil {
		events = []*auditdomain.Event{}
	}
	respond.JSON(w, http.StatusOK, map[string]any{"events": events, "limit": f.Limit, "offset": f.Offset})
}

func parseFilter(r *http.Request) (auditdomain.Filter, error) {
	q := r.URL.Query()
	f := auditdomain.Filter{
		EventType: auditdomain.EventType(strings.ToUpper(q.Get("eventType"))),
		UserID:    q.Get("userId"),
	}
	if s := q.Get("severity"); s != "" {
		f.Severity = auditdomain.Severity(strings.ToUpper(s))
		if !f.Severity.Valid() {
			return f, errors.New("invalid severity")
		}
	}
	for _, p := range []struct {
		name string
		dst  **time.Time
	}{{"from", &f.From}, {"to", &f.To}} {
		v := q.Get(p.name)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, errors.New(p.name + " must be an RFC 3339 timestamp")
		}
		*p.dst = &t
	}
	for _, p := range []struct {
		name string
		dst  *int
	}{{"limit", &f.Limit}, {"offset", &f.Offset}} {
		v := q.Get(p.name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, errors.New(p.name + " must be a non-negative integer")
		}
		*p.dst = n
	}
	return f, nil
}

func (h *Handler) withTarget(w http.ResponseWriter, r *http.Request, action engine.Action, fn func(ctx context.Context, actor, target *domain.Account) error) {
	var req targetRequest
	if err := respond.Decode(r, &req); err != nil || req.UserID == "" {
		respond.Error(w, http.StatusBadRequest, "userId is required")
		return
	}
	actor, target, ok := h.authorizeTarget(w, r, action, req.UserID)
	if !ok {
		return
	}
	if err := fn(r.Context(), actor, target); err != nil {
		httperr.Write(w, r, err, h.log)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]any{"success": true, "userId": target.ID})
}

// authorizeTarget runs the target-less check before looking the target up, so callers who may not
// perform action on any account cannot tell existing IDs from unknown ones.
func (h *Handler) authorizeTarget(w http.ResponseWriter, r *http.Request, action engine.Action, targetID string) (*domain.Account, *domain.Account, bool) {
	if _, ok := h.authorize(w, r, action, nil); !ok {
		return nil, nil, false
	}
	target, ok := h.loadTarget(w, r, targetID)
	if !ok {
		return nil, nil, false
	}
	actor, ok := h.authorize(w, r, action, target)
	if !ok {
		return nil, nil, false
	}
	return actor, target, true
}

func (h *Handler) loadTarget(w http.ResponseWriter, r *http.Request, id string) (*domain.Account, bool) {
	target, err := h.deps.Accounts.GetByID(r.Context(), id)
	if err != nil {
		httperr.Write(w, r, err, h.log)
		return nil, false
	}
	if target == nil {
		httperr.Write(w, r, domain.ErrNotFound, h.log)
		return nil, false
	}
	return target, true
}

// authorize checks the access policy and records UNAUTHORIZED_ACCESS on denial.
func (h *Handler) authorize(w http.ResponseWriter, r *http.Request, action engine.Action, target *domain.Account) (*domain.Account, bool) {
	actor, err := rbac.RequireAdmin(r.Context(), h.deps.Accounts, h.deps.Policy, action, target)
	if err == nil {
		return actor, true
	}
	if errors.Is(err, rbac.ErrUnauthorized) && h.deps.Audit != nil {
		ev := auditdomain.Event{
			Type:     auditdomain.EventUnauthorizedAccess,
			Severity: auditdomain.SeverityHigh,
			Outcome:  auditdomain.OutcomeDenied,
			Message:  "admin action denied: " + string(action),
		}
		if id, ok := middleware.GetIdentity(r.Context()); ok {
			ev.UserID = id.AccountID
		}
		if target != nil {
			ev.TargetUserID = target.ID
		}
		h.deps.Audit.Record(r.Context(), ev)
	}
	httperr.Write(w, r, err, h.log)
	return nil, false
}
