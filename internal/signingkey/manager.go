// Package signingkey owns the HMAC key ring that signs session and MFA challenge tokens,
// and its rotation lifecycle (active → grace → retired).
package signingkey

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"care-platform/backend/internal/audit"
	auditdomain "care-platform/backend/internal/audit/domain"
	"care-platform/backend/internal/security"
	"care-platform/backend/internal/signingkey/domain"
	"care-platform/backend/internal/signingkey/repository"
	"care-platform/backend/internal/telemetry/metrics"
)

var (
	// ErrKeyNotFound is returned when a token names a kid the ring does not hold.
	ErrKeyNotFound = errors.New("signing key not found")
	// ErrTokenInvalid is returned for bad signatures, expired tokens and tokens signed by retired keys.
	ErrTokenInvalid = errors.New("invalid token")
	// ErrRotationInProgress is returned when another rotation holds the rotation lock.
	ErrRotationInProgress = errors.New("key rotation already in progress")
	// ErrInvalidGracePeriod is returned when the grace period is outside 1..90 days.
	ErrInvalidGracePeriod = errors.New("grace period must be between 1 and 90 days")
	// ErrNoActiveKey is returned by IssueToken before Bootstrap has run.
	ErrNoActiveKey = errors.New("no active signing key")
)

// Grace period bounds for Rotate, in days.
const (
	MinGraceDays = 1
	MaxGraceDays = 90
)

const secretSize = 32

// Token purposes.
const (
	PurposeSession = "session"
	PurposeMFA     = "mfa"
)

// Claims are the session token claims.
type Claims struct {
	jwt.RegisteredClaims
	Role       string `json:"role"`
	Scope      string `json:"scope,omitempty"`
	Purpose    string `json:"purpose"`
	RememberMe bool   `json:"rmb,omitempty"`
}

// IssueOptions shape one token.
type IssueOptions struct {
	TTL        time.Duration
	Scope      string
	Purpose    string
	RememberMe bool
}

// GraceKey identifies the grace key that expires next.
type GraceKey struct {
	KeyID     string    `json:"keyId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Status summarizes the ring for the admin console. It never carries secret material.
type Status struct {
	ActiveKeyID          string        `json:"activeKeyId"`
	ActiveKeyCreatedAt   time.Time     `json:"activeKeyCreatedAt"`
	ActiveKeyAge         time.Duration `json:"-"`
	ActiveKeyAgeSeconds  int64         `json:"activeKeyAgeSeconds"`
	KeyCount             int           `json:"keyCount"`
	RetiredCount         int           `json:"retiredCount"`
	NextExpiringGraceKey *GraceKey     `json:"nextExpiringGraceKey,omitempty"`
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithLogger sets the zap logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

// Manager holds the in-memory key ring. Reads take the read lock; rotation, sweep and reload take the
// write lock. Ring entries are never mutated in place: writers swap in new *domain.Key values.
// rotateMu serializes rotations and lets a second caller detect one in flight.
type Manager struct {
	repo     repository.Repository
	box      *security.SecretBox
	audit    audit.Recorder
	log      *zap.Logger
	issuer   string
	audience string
	now      func() time.Time

	mu         sync.RWMutex
	keys       map[string]*domain.Key
	retiredIDs map[string]struct{}
	activeID   string

	rotateMu sync.Mutex
}

// NewManager returns a Manager. Call Bootstrap before issuing tokens.
func NewManager(repo repository.Repository, box *security.SecretBox, rec audit.Recorder, issuer, audience string, opts ...Option) *Manager {
	m := &Manager{
		repo:       repo,
		box:        box,
		audit:      rec,
		log:        zap.NewNop(),
		issuer:     issuer,
		audience:   audience,
		now:        func() time.Time { return time.Now().UTC() },
		keys:       make(map[string]*domain.Key),
		retiredIDs: make(map[string]struct{}),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Bootstrap loads the ring and creates the first active key when storage holds none.
func (m *Manager) Bootstrap(ctx context.Context) error {
	if err := m.Reload(ctx); err != nil {
		return err
	}
	m.mu.RLock()
	hasActive := m.activeID != ""
	m.mu.RUnlock()
	if hasActive {
		return nil
	}
	k, err := m.newKey()
	if err != nil {
		return err
	}
	if err := m.repo.Create(ctx, k); err != nil && !errors.Is(err, domain.ErrActiveKeyExists) {
		return fmt.Errorf("signingkey: create initial key: %w", err)
	}
	// Another replica may have won the race; reload picks up whichever key is active.
	if err := m.Reload(ctx); err != nil {
		return err
	}
	m.log.Info("signingkey: ring bootstrapped", zap.String("active_key_id", m.Status().ActiveKeyID))
	return nil
}

// Reload re-reads the ring from storage so replicas converge after a rotation elsewhere.
func (m *Manager) Reload(ctx context.Context) error {
	stored, err := m.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("signingkey: list keys: %w", err)
	}
	keys := make(map[string]*domain.Key, len(stored))
	retired := make(map[string]struct{})
	var activeID string
	for _, k := range stored {
		if k.Status == domain.StatusRetired {
			retired[k.ID] = struct{}{}
			continue
		}
		secret, err := m.box.Open(k.SealedSecret, []byte(k.ID))
		if err != nil {
			return fmt.Errorf("signingkey: open key %s: %w", k.ID, err)
		}
		k.Secret = secret
		keys[k.ID] = k
		if k.Status == domain.StatusActive {
			activeID = k.ID
		}
	}
	m.mu.Lock()
	m.keys = keys
	m.activeID = activeID
	m.retiredIDs = retired
	m.mu.Unlock()
	return nil
}

// IssueToken signs a token for accountID with the active key.
func (m *Manager) IssueToken(accountID, role string, opts IssueOptions) (string, time.Time, error) {
	m.mu.RLock()
	active := m.keys[m.activeID]
	m.mu.RUnlock()
	if active == nil {
		return "", time.Time{}, ErrNoActiveKey
	}
	jti, err := security.RandomToken(16)
	if err != nil {
		return "", time.Time{}, err
	}
	if opts.Purpose == "" {
		opts.Purpose = PurposeSession
	}
	now := m.now()
	expiresAt := now.Add(opts.TTL)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   accountID,
			Issuer:    m.issuer,
			Audience:  jwt.ClaimStrings{m.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Role:       role,
		Scope:      opts.Scope,
		Purpose:    opts.Purpose,
		RememberMe: opts.RememberMe,
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	t.Header["kid"] = active.ID
	signed, err := t.SignedString(active.Secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// ValidateToken verifies signature, kid, exp, iss and aud.
func (m *Manager) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, m.keyFunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(m.issuer),
		jwt.WithAudience(m.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return nil, ErrKeyNotFound
		}
		return nil, ErrTokenInvalid
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

func (m *Manager) keyFunc(t *jwt.Token) (any, error) {
	kid, _ := t.Header["kid"].(string)
	m.mu.RLock()
	var snap domain.Key
	k, known := m.keys[kid]
	if known {
		snap = *k
	}
	_, retired := m.retiredIDs[kid]
	m.mu.RUnlock()
	if retired {
		return nil, ErrTokenInvalid
	}
	if !known {
		return nil, ErrKeyNotFound
	}
	if !snap.VerifiesAt(m.now()) {
		return nil, ErrTokenInvalid
	}
	return snap.Secret, nil
}

// Rotate creates a new active key and demotes the current one to grace for graceDays.
func (m *Manager) Rotate(ctx context.Context, graceDays int, adminID string) (string, error) {
	if graceDays < MinGraceDays || graceDays > MaxGraceDays {
		m.rotationFailed(ctx, adminID, ErrInvalidGracePeriod)
		return "", ErrInvalidGracePeriod
	}
	if !m.rotateMu.TryLock() {
		m.rotationFailed(ctx, adminID, ErrRotationInProgress)
		return "", ErrRotationInProgress
	}
	defer m.rotateMu.Unlock()

	next, err := m.newKey()
	if err != nil {
		m.rotationFailed(ctx, adminID, err)
		return "", err
	}
	graceExpiresAt := next.CreatedAt.Add(time.Duration(graceDays) * 24 * time.Hour)
	demoted, err := m.repo.Rotate(ctx, next, graceExpiresAt)
	if err != nil {
		m.rotationFailed(ctx, adminID, err)
		return "", fmt.Errorf("signingkey: rotate: %w", err)
	}

	m.mu.Lock()
	if old := m.keys[demoted]; old != nil {
		m.keys[demoted] = old.Demoted(graceExpiresAt)
	}
	if cur := m.keys[m.activeID]; cur != nil && cur.ID != demoted {
		// The ring was stale (rotation on another replica); storage has already demoted it.
		m.keys[cur.ID] = cur.Demoted(graceExpiresAt)
	}
	m.keys[next.ID] = next
	m.activeID = next.ID
	m.mu.Unlock()

	metrics.KeyRotationsTotal.WithLabelValues("success").Inc()
	m.record(ctx, auditdomain.Event{
		Type:     auditdomain.EventKeyRotated,
		Severity: auditdomain.SeverityMedium,
		Outcome:  auditdomain.OutcomeSuccess,
		UserID:   adminID,
		Message:  fmt.Sprintf("signing key rotated: previous=%s new=%s grace_days=%d", demoted, next.ID, graceDays),
	})
	m.log.Info("signingkey: rotated",
		zap.String("previous_key_id", demoted),
		zap.String("active_key_id", next.ID),
		zap.Int("grace_days", graceDays))
	return next.ID, nil
}

func (m *Manager) rotationFailed(ctx context.Context, adminID string, err error) {
	metrics.KeyRotationsTotal.WithLabelValues("failure").Inc()
	m.record(ctx, auditdomain.Event{
		Type:     auditdomain.EventKeyRotationFailed,
		Severity: auditdomain.SeverityHigh,
		Outcome:  auditdomain.OutcomeFailure,
		UserID:   adminID,
		Message:  "signing key rotation failed: " + err.Error(),
	})
	m.log.Warn("signingkey: rotation failed", zap.String("admin_id", adminID), zap.Error(err))
}

// Sweep retires grace keys past expiry and returns how many it retired. Safe to call concurrently.
func (m *Manager) Sweep(ctx context.Context) (int, error) {
	now := m.now()
	ids, err := m.repo.RetireExpired(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("signingkey: sweep: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}
	m.mu.Lock()
	for _, id := range ids {
		delete(m.keys, id)
		m.retiredIDs[id] = struct{}{}
	}
	m.mu.Unlock()

	metrics.KeysRetiredTotal.Add(float64(len(ids)))
	for _, id := range ids {
		m.record(ctx, auditdomain.Event{
			Type:     auditdomain.EventKeyRetired,
			Severity: auditdomain.SeverityInfo,
			Outcome:  auditdomain.OutcomeSuccess,
			UserID:   audit.SystemActor,
			Message:  "signing key retired: " + id,
		})
	}
	m.log.Info("signingkey: swept grace keys", zap.Strings("retired_key_ids", ids))
	return len(ids), nil
}

// Status reports the ring. Grace keys past expiry that await a sweep still count toward KeyCount.
func (m *Manager) Status() Status {
	now := m.now()
	m.mu.RLock()
	defer m.mu.RUnlock()
	st := Status{KeyCount: len(m.keys), RetiredCount: len(m.retiredIDs)}
	if active := m.keys[m.activeID]; active != nil {
		st.ActiveKeyID = active.ID
		st.ActiveKeyCreatedAt = active.CreatedAt
		st.ActiveKeyAge = now.Sub(active.CreatedAt)
		st.ActiveKeyAgeSeconds = int64(st.ActiveKeyAge / time.Second)
	}
	var grace []*domain.Key
	for _, k := range m.keys {
		if k.Status == domain.StatusGrace && k.GraceExpiresAt != nil {
			grace = append(grace, k)
		}
	}
	if len(grace) > 0 {
		sort.Slice(grace, func(i, j int) bool { return grace[i].GraceExpiresAt.Before(*grace[j].GraceExpiresAt) })
		st.NextExpiringGraceKey = &GraceKey{KeyID: grace[0].ID, ExpiresAt: *grace[0].GraceExpiresAt}
	}
	return st
}

func (m *Manager) record(ctx context.Context, e auditdomain.Event) {
	if m.audit != nil {
		m.audit.Record(ctx, e)
	}
}

func (m *Manager) newKey() (*domain.Key, error) {
	secret := make([]byte, secretSize)
	if _, err := rand.Read(secret); err != nil {
		return nil, err
	}
	id := uuid.NewString()
	sealed, err := m.box.Seal(secret, []byte(id))
	if err != nil {
		return nil, err
	}
	return &domain.Key{
		ID:           id,
		Secret:       secret,
		SealedSecret: sealed,
		Status:       domain.StatusActive,
		CreatedAt:    m.now(),
	}, nil
}
