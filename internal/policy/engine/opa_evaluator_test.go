package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"care-platform/backend/internal/account/domain"
)

const testGrace = 72 * time.Hour

func newTestEvaluator(t *testing.T) *OPAEvaluator {
	t.Helper()
	e, err := NewOPAEvaluator(context.Background(), "", testGrace, nil)
	if err != nil {
		t.Fatalf("NewOPAEvaluator: %v", err)
	}
	return e
}

func TestOPAEvaluator_HealthCheck(t *testing.T) {
	e := newTestEvaluator(t)
	if err := e.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}
}

func TestNewOPAEvaluator_InvalidPolicy(t *testing.T) {
	_, err := NewOPAEvaluator(context.Background(), "package care.access\n\nallow if {", testGrace, nil)
	if err == nil {
		t.Fatal("expected compile error")
	}
}

func TestOPAEvaluator_SessionScope(t *testing.T) {
	e := newTestEvaluator(t)
	now := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	recent := now.Add(-time.Hour)
	old := now.Add(-testGrace - time.Minute)

	tests := []struct {
		name string
		acct domain.Account
		want Scope
	}{
		{"plain", domain.Account{ID: "a"}, ScopeFull},
		{"password change wins", domain.Account{ID: "a", ChangePasswordRequired: true, MFARequired: true, MFARequiredAt: &old}, ScopePasswordChange},
		{"mfa required within grace", domain.Account{ID: "a", MFARequired: true, MFARequiredAt: &recent}, ScopeFull},
		{"mfa required past grace", domain.Account{ID: "a", MFARequired: true, MFARequiredAt: &old}, ScopeMFAEnrollment},
		{"mfa required without timestamp", domain.Account{ID: "a", MFARequired: true}, ScopeMFAEnrollment},
		{"mfa required and enabled", domain.Account{ID: "a", MFARequired: true, MFAEnabled: true, MFARequiredAt: &old}, ScopeFull},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := e.SessionScope(context.Background(), &tt.acct, now)
			if got != tt.want {
				t.Errorf("SessionScope = %q, want %q", got, tt.want)
			}
			if fb := DefaultSessionScope(&tt.acct, now, testGrace); fb != tt.want {
				t.Errorf("DefaultSessionScope = %q, want %q", fb, tt.want)
			}
		})
	}
}

func TestOPAEvaluator_Allow(t *testing.T) {
	e := newTestEvaluator(t)
	super := &domain.Account{ID: "s", Role: domain.RoleAdmin, IsSuperadmin: true}
	admin := &domain.Account{ID: "a", Role: domain.RoleAdmin}
	otherAdmin := &domain.Account{ID: "a2", Role: domain.RoleAdmin}
	support := &domain.Account{ID: "it", Role: domain.RoleITSupport}
	patient := &domain.Account{ID: "p", Role: domain.RolePatient}
	provider := &domain.Account{ID: "d", Role: domain.RoleProvider}

	tests := []struct {
		name   string
		actor  *domain.Account
		target *domain.Account
		action Action
		want   bool
	}{
		{"superadmin resets admin mfa", super, admin, ActionResetMFA, true},
		{"superadmin unlocks superadmin", super, super, ActionUnlock, true},
		{"admin resets patient mfa", admin, patient, ActionResetMFA, true},
		{"admin sets provider requirement", admin, provider, ActionSetMFARequirement, true},
		{"admin resets admin mfa", admin, otherAdmin, ActionResetMFA, false},
		{"admin changes admin requirement", admin, otherAdmin, ActionSetMFARequirement, false},
		{"admin unlocks admin", admin, otherAdmin, ActionUnlock, true},
		{"admin resets admin attempts", admin, otherAdmin, ActionResetAttempts, true},
		{"admin unlocks superadmin", admin, super, ActionUnlock, false},
		{"admin rotates keys", admin, nil, ActionRotateKeys, true},
		{"admin views events", admin, nil, ActionViewEvents, true},
		{"admin lists locked", admin, nil, ActionListLocked, true},
		{"support unlocks patient", support, patient, ActionUnlock, true},
		{"support lists locked", support, nil, ActionListLocked, true},
		{"support unlocks admin", support, admin, ActionUnlock, false},
		{"support resets mfa", support, patient, ActionResetMFA, false},
		{"support rotates keys", support, nil, ActionRotateKeys, false},
		{"patient unlocks patient", patient, patient, ActionUnlock, false},
		{"provider views events", provider, nil, ActionViewEvents, false},
		{"nil actor", nil, patient, ActionUnlock, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := e.Allow(context.Background(), tt.actor, tt.target, tt.action); got != tt.want {
				t.Errorf("Allow = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestOPAEvaluator_ConflictingPolicyFallsBack(t *testing.T) {
	// Both scope rules match, which makes the complete rule conflict at eval time.
	policy := `package care.access

default session_scope = "full"

session_scope = "password_change" if {
	input.account.id
}

session_scope = "mfa_enrollment" if {
	input.account.id
}

default allow = false
`
	e, err := NewOPAEvaluator(context.Background(), policy, testGrace, nil)
	if err != nil {
		t.Fatalf("NewOPAEvaluator: %v", err)
	}
	a := &domain.Account{ID: "a", ChangePasswordRequired: true}
	if got := e.SessionScope(context.Background(), a, time.Now()); got != ScopePasswordChange {
		t.Fatalf("fallback scope = %q, want %q", got, ScopePasswordChange)
	}
}

func TestLoadPolicy(t *testing.T) {
	got, err := LoadPolicy("")
	if err != nil || got != DefaultRegoPolicy {
		t.Fatalf("LoadPolicy(\"\") = %q, %v", got, err)
	}

	path := filepath.Join(t.TempDir(), "access.rego")
	custom := "package care.access\n\ndefault session_scope = \"full\"\n\ndefault allow = true\n"
	if err := os.WriteFile(path, []byte(custom), 0o600); err != nil {
		t.Fatal(err)
	}
	got, err = LoadPolicy(path)
	if err != nil || got != custom {
		t.Fatalf("LoadPolicy(file) = %q, %v", got, err)
	}
	e, err := NewOPAEvaluator(context.Background(), got, testGrace, nil)
	if err != nil {
		t.Fatalf("NewOPAEvaluator: %v", err)
	}
	if !e.Allow(context.Background(), &domain.Account{ID: "p", Role: domain.RolePatient}, nil, ActionRotateKeys) {
		t.Fatal("custom policy should allow")
	}

	if _, err := LoadPolicy(filepath.Join(t.TempDir(), "missing.rego")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
