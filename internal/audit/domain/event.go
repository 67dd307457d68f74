package domain

import "time"

// EventType names a security-relevant occurrence.
type EventType string

const (
	EventLoginSuccess          EventType = "LOGIN_SUCCESS"
	EventLoginFailure          EventType = "LOGIN_FAILURE"
	EventAccountLocked         EventType = "ACCOUNT_LOCKED"
	EventAccountUnlocked       EventType = "ACCOUNT_UNLOCKED"
	EventFailedAttemptsReset   EventType = "FAILED_ATTEMPTS_RESET"
	EventMFASetupStarted       EventType = "MFA_SETUP_STARTED"
	EventMFAEnabled            EventType = "MFA_ENABLED"
	EventMFADisabled           EventType = "MFA_DISABLED"
	EventMFAVerifyFailure      EventType = "MFA_VERIFY_FAILURE"
	EventMFARequirementChanged EventType = "MFA_REQUIREMENT_CHANGED"
	EventKeyRotated            EventType = "KEY_ROTATED"
	EventKeyRotationFailed     EventType = "KEY_ROTATION_FAILED"
	EventKeyRetired            EventType = "KEY_RETIRED"
	EventSessionRejected       EventType = "SESSION_REJECTED"
	EventUnauthorizedAccess    EventType = "UNAUTHORIZED_ACCESS"
	EventAccountRegistered     EventType = "ACCOUNT_REGISTERED"
	EventPasswordChanged       EventType = "PASSWORD_CHANGED"
	EventLogout                EventType = "LOGOUT"
)

// Severity ranks an event for triage.
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	switch s {
	case SeverityInfo, SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// Outcome is the result of the audited operation.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeDenied  Outcome = "denied"
	OutcomeWarning Outcome = "warning"
)

// Event is an immutable record of a security-relevant action.
type Event struct {
	ID           string    `json:"id"`
	Type         EventType `json:"eventType"`
	Severity     Severity  `json:"severity"`
	Outcome      Outcome   `json:"outcome"`
	UserID       string    `json:"userId,omitempty"`
	TargetUserID string    `json:"targetUserId,omitempty"`
	Message      string    `json:"message"`
	IPAddress    string    `json:"ipAddress"`
	Timestamp    time.Time `json:"timestamp"`
}

// Filter selects events for the admin console. Zero values match everything.
// UserID matches either the actor or the target.
type Filter struct {
	Severity  Severity
	EventType EventType
	UserID    string
	From      *time.Time
	To        *time.Time
	Limit     int
	Offset    int
}
