package engine

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/open-policy-agent/opa/v1/rego"
	"go.uber.org/zap"

	"care-platform/backend/internal/account/domain"
)

const policyPackage = "care.access"

// DefaultRegoPolicy holds the built-in access rules. ACCESS_POLICY_FILE replaces it.
const DefaultRegoPolicy = `package care.access

default session_scope = "full"

session_scope = "password_change" if {
	input.account.change_password_required
}

session_scope = "mfa_enrollment" if {
	not input.account.change_password_required
	input.account.mfa_required
	not input.account.mfa_enabled
	input.now_ns >= input.account.mfa_required_at_ns + input.mfa_grace_ns
}

default allow = false

lockout_actions := {"list_locked", "unlock", "reset_attempts"}

console_actions := {"view_events", "view_keys", "rotate_keys", "sweep_keys"}

target_privileged if {
	input.target.is_superadmin
}

target_privileged if {
	input.target.role == "admin"
}

allow if {
	input.actor.is_superadmin
}

allow if {
	input.actor.role == "admin"
	console_actions[input.action]
}

allow if {
	input.actor.role == "admin"
	not target_privileged
}

allow if {
	input.actor.role == "admin"
	lockout_actions[input.action]
	not input.target.is_superadmin
}

allow if {
	input.actor.role == "it_support"
	lockout_actions[input.action]
	not target_privileged
}
`

// OPAEvaluator evaluates the access policy with OPA Rego. Queries are prepared once at construction.
type OPAEvaluator struct {
	scopeQuery rego.PreparedEvalQuery
	allowQuery rego.PreparedEvalQuery
	grace      time.Duration
	log        *zap.Logger
}

// LoadPolicy returns the contents of path, or DefaultRegoPolicy when path is empty.
func LoadPolicy(path string) (string, error) {
	if path == "" {
		return DefaultRegoPolicy, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("policy: read %s: %w", path, err)
	}
	return string(b), nil
}

// NewOPAEvaluator compiles policy (DefaultRegoPolicy when empty). grace is the MFA enrollment grace period.
func NewOPAEvaluator(ctx context.Context, policy string, grace time.Duration, log *zap.Logger) (*OPAEvaluator, error) {
	if policy == "" {
		policy = DefaultRegoPolicy
	}
	if log == nil {
		log = zap.NewNop()
	}
	prepare := func(rule string) (rego.PreparedEvalQuery, error) {
		return rego.New(
			rego.Query("data."+policyPackage+"."+rule),
			rego.Module("access.rego", policy),
		).PrepareForEval(ctx)
	}
	scopeQuery, err := prepare("session_scope")
	if err != nil {
		return nil, fmt.Errorf("policy: compile session_scope: %w", err)
	}
	allowQuery, err := prepare("allow")
	if err != nil {
		return nil, fmt.Errorf("policy: compile allow: %w", err)
	}
	return &OPAEvaluator{scopeQuery: scopeQuery, allowQuery: allowQuery, grace: grace, log: log}, nil
}

// HealthCheck evaluates the prepared queries against a minimal input. Returns nil on success.
func (e *OPAEvaluator) HealthCheck(ctx context.Context) error {
	probe := &domain.Account{ID: "health", Role: domain.RolePatient}
	v, err := e.eval(ctx, e.scopeQuery, map[string]any{
		"account":      accountInput(probe),
		"now_ns":       time.Now().UnixNano(),
		"mfa_grace_ns": int64(e.grace),
	})
	if err != nil {
		return fmt.Errorf("eval session_scope: %w", err)
	}
	if _, ok := v.(string); !ok {
		return fmt.Errorf("session_scope returned %T", v)
	}
	return nil
}

// SessionScope evaluates session_scope. On evaluation failure it logs and falls back to DefaultSessionScope.
func (e *OPAEvaluator) SessionScope(ctx context.Context, a *domain.Account, now time.Time) Scope {
	input := map[string]any{
		"account":      accountInput(a),
		"now_ns":       now.UnixNano(),
		"mfa_grace_ns": int64(e.grace),
	}
	v, err := e.eval(ctx, e.scopeQuery, input)
	if err == nil {
		if s, ok := v.(string); ok {
			switch Scope(s) {
			case ScopeFull, ScopePasswordChange, ScopeMFAEnrollment:
				return Scope(s)
			}
		}
		err = fmt.Errorf("unexpected session_scope %v", v)
	}
	e.log.Warn("policy: session_scope evaluation failed, using built-in rule", zap.String("account_id", a.ID), zap.Error(err))
	return DefaultSessionScope(a, now, e.grace)
}

// Allow evaluates allow. Any evaluation error denies.
func (e *OPAEvaluator) Allow(ctx context.Context, actor, target *domain.Account, action Action) bool {
	if actor == nil {
		return false
	}
	input := map[string]any{
		"actor":  accountInput(actor),
		"action": string(action),
	}
	if target != nil {
		input["target"] = accountInput(target)
	}
	v, err := e.eval(ctx, e.allowQuery, input)
	if err != nil {
		e.log.Error("policy: allow evaluation failed, denying", zap.String("action", string(action)), zap.Error(err))
		return false
	}
	allowed, _ := v.(bool)
	return allowed
}

func (e *OPAEvaluator) eval(ctx context.Context, q rego.PreparedEvalQuery, input map[string]any) (any, error) {
	rs, err := q.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, err
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return nil, fmt.Errorf("policy query returned no result")
	}
	return rs[0].Expressions[0].Value, nil
}

func accountInput(a *domain.Account) map[string]any {
	var requiredAt int64
	if a.MFARequiredAt != nil {
		requiredAt = a.MFARequiredAt.UnixNano()
	}
	return map[string]any{
		"id":                       a.ID,
		"role":                     string(a.Role),
		"is_superadmin":            a.IsSuperadmin,
		"mfa_enabled":              a.MFAEnabled,
		"mfa_required":             a.MFARequired,
		"mfa_required_at_ns":       requiredAt,
		"change_password_required": a.ChangePasswordRequired,
	}
}
