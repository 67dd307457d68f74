package domain

import (
	"errors"
	"time"
)

// ErrActiveKeyExists is returned when creating a second active key.
var ErrActiveKeyExists = errors.New("an active signing key already exists")

// Status is the lifecycle state of a signing key.
type Status string

const (
	StatusActive  Status = "active"
	StatusGrace   Status = "grace"
	StatusRetired Status = "retired"
)

// Key is an HMAC secret used to sign session tokens. Secret is held only in memory;
// SealedSecret is the at-rest form.
type Key struct {
	ID             string
	Secret         []byte
	SealedSecret   string
	Status         Status
	CreatedAt      time.Time
	GraceExpiresAt *time.Time
	RetiredAt      *time.Time
}

// VerifiesAt reports whether tokens signed with k are still accepted at now.
// Grace keys stop verifying at their expiry even before a sweep retires them.
func (k *Key) VerifiesAt(now time.Time) bool {
	switch k.Status {
	case StatusActive:
		return true
	case StatusGrace:
		return k.GraceExpiresAt != nil && now.Before(*k.GraceExpiresAt)
	default:
		return false
	}
}

// Demoted returns a copy of k in grace until expiresAt. k itself is left untouched so readers
// holding it never observe a partial update.
func (k *Key) Demoted(expiresAt time.Time) *Key {
	c := *k
	c.Status = StatusGrace
	c.GraceExpiresAt = &expiresAt
	return &c
}

// Retire marks k retired at now and drops its secret.
func (k *Key) Retire(now time.Time) {
	k.Status = StatusRetired
	k.RetiredAt = &now
	k.GraceExpiresAt = nil
	k.Secret = nil
	k.SealedSecret = ""
}
