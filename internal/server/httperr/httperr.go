// Package httperr maps service errors to HTTP responses.
package httperr

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	accountdomain "care-platform/backend/internal/account/domain"
	"care-platform/backend/internal/identity/service"
	"care-platform/backend/internal/mfa"
	"care-platform/backend/internal/platform/rbac"
	"care-platform/backend/internal/server/respond"
	"care-platform/backend/internal/signingkey"
)

type mapping struct {
	err    error
	status int
	msg    string // overrides err.Error() when set
}

// Order matters: the first match wins.
var table = []mapping{
	{service.ErrInvalidCredentials, http.StatusUnauthorized, ""},
	{service.ErrAccountLocked, http.StatusLocked, ""},
	{service.ErrMFARequired, http.StatusForbidden, ""},
	{service.ErrPasswordChangeRequired, http.StatusForbidden, ""},
	{service.ErrChallengeExpired, http.StatusBadRequest, "invalid code"},
	{mfa.ErrInvalidMFACode, http.StatusBadRequest, "invalid code"},
	{mfa.ErrInvalidBackupCode, http.StatusBadRequest, "invalid code"},
	{rbac.ErrUnauthorized, http.StatusForbidden, ""},
	{signingkey.ErrKeyNotFound, http.StatusUnauthorized, "invalid session"},
	{signingkey.ErrTokenInvalid, http.StatusUnauthorized, "invalid session"},
	{signingkey.ErrRotationInProgress, http.StatusConflict, ""},
	{signingkey.ErrInvalidGracePeriod, http.StatusBadRequest, ""},
	{accountdomain.ErrNotFound, http.StatusNotFound, ""},
	{service.ErrEmailAlreadyRegistered, http.StatusConflict, ""},
	{service.ErrRoleNotSelfRegistrable, http.StatusBadRequest, ""},
	{mfa.ErrMFAAlreadyEnabled, http.StatusConflict, ""},
	{mfa.ErrMFANotEnabled, http.StatusBadRequest, ""},
	{mfa.ErrSetupNotStarted, http.StatusBadRequest, ""},
}

// Status returns the HTTP status and client message for err. Unknown errors map to 500.
func Status(err error) (int, string) {
	for _, m := range table {
		if errors.Is(err, m.err) {
			if m.msg != "" {
				return m.status, m.msg
			}
			return m.status, m.err.Error()
		}
	}
	if errors.Is(err, service.ErrInvalidInput) {
		// Validation errors carry the reason after the sentinel.
		return http.StatusBadRequest, err.Error()
	}
	return http.StatusInternalServerError, "internal error"
}

// Write sends the mapped error response. 500s are logged with the underlying error.
func Write(w http.ResponseWriter, r *http.Request, err error, log *zap.Logger) {
	status, msg := Status(err)
	if status == http.StatusInternalServerError && log != nil {
		log.Error("request failed", zap.String("method", r.Method), zap.String("path", r.URL.Path), zap.Error(err))
	}
	respond.Error(w, status, msg)
}
