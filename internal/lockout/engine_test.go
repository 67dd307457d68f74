package lockout

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"care-platform/backend/internal/account/domain"
	"care-platform/backend/internal/account/repository"
	"care-platform/backend/internal/audit"
	auditdomain "care-platform/backend/internal/audit/domain"
	auditrepo "care-platform/backend/internal/audit/repository"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type harness struct {
	engine   *Engine
	accounts *repository.MemoryRepository
	events   *auditrepo.MemoryRepository
	clock    *testClock
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		accounts: repository.NewMemoryRepository(),
		events:   auditrepo.NewMemoryRepository(),
		clock:    &testClock{t: time.Date(2026, 4, 2, 14, 0, 0, 0, time.UTC)},
	}
	rec := audit.NewLogger(h.events, nil, nil)
	h.engine = New(h.accounts, rec, WithClock(h.clock.now))
	err := h.accounts.Create(context.Background(), &domain.Account{
		ID:           "acct-1",
		Email:        "pat@example.com",
		PasswordHash: "hash",
		Role:         domain.RolePatient,
	})
	if err != nil {
		t.Fatalf("create account: %v", err)
	}
	return h
}

func (h *harness) count(typ auditdomain.EventType) int {
	n := 0
	for _, e := range h.events.Events() {
		if e.Type == typ {
			n++
		}
	}
	return n
}

func TestRecordFailure_LocksAtThreshold(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for i := 1; i <= 4; i++ {
		st, err := h.engine.RecordFailure(ctx, "acct-1")
		if err != nil {
			t.Fatalf("RecordFailure %d: %v", i, err)
		}
		if st.Locked {
			t.Fatalf("locked after %d failures", i)
		}
	}
	st, err := h.engine.RecordFailure(ctx, "acct-1")
	if err != nil {
		t.Fatalf("RecordFailure 5: %v", err)
	}
	if !st.Locked || !st.LockedNow {
		t.Fatalf("state after 5 failures = %+v, want locked now", st)
	}
	want := h.clock.now().Add(DefaultLockDuration)
	if st.LockExpiresAt == nil || !st.LockExpiresAt.Equal(want) {
		t.Errorf("LockExpiresAt = %v, want %v", st.LockExpiresAt, want)
	}
	locked, err := h.engine.IsLocked(ctx, "acct-1")
	if err != nil || !locked {
		t.Fatalf("IsLocked = %v, %v; want true", locked, err)
	}
	if n := h.count(auditdomain.EventAccountLocked); n != 1 {
		t.Errorf("ACCOUNT_LOCKED events = %d, want 1", n)
	}
	ev := h.events.Events()[0]
	if ev.Severity != auditdomain.SeverityHigh || ev.TargetUserID != "acct-1" {
		t.Errorf("lock event = %+v", ev)
	}
}

func TestRecordFailure_CustomThreshold(t *testing.T) {
	h := newHarness(t)
	h.engine = New(h.accounts, nil, WithThreshold(2), WithLockDuration(time.Minute), WithClock(h.clock.now))
	ctx := context.Background()
	_, _ = h.engine.RecordFailure(ctx, "acct-1")
	st, _ := h.engine.RecordFailure(ctx, "acct-1")
	if !st.LockedNow {
		t.Fatal("want lock at custom threshold 2")
	}
	if h.engine.Threshold() != 2 {
		t.Errorf("Threshold = %d", h.engine.Threshold())
	}
}

func TestRecordFailure_ConcurrentLocksOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = h.engine.RecordFailure(ctx, "acct-1")
		}()
	}
	wg.Wait()
	if n := h.count(auditdomain.EventAccountLocked); n != 1 {
		t.Errorf("ACCOUNT_LOCKED events = %d, want exactly 1", n)
	}
}

func TestIsLocked_ExpiredLockClearedLazily(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for i := 0; i < DefaultThreshold; i++ {
		_, _ = h.engine.RecordFailure(ctx, "acct-1")
	}
	h.clock.advance(DefaultLockDuration + time.Second)

	locked, err := h.engine.IsLocked(ctx, "acct-1")
	if err != nil || locked {
		t.Fatalf("IsLocked after expiry = %v, %v; want false", locked, err)
	}
	a, _ := h.accounts.GetByID(ctx, "acct-1")
	if a.AccountLocked || a.FailedLoginAttempts != 0 || a.LockExpiresAt != nil {
		t.Errorf("account after lazy unlock = locked %v attempts %d expiry %v", a.AccountLocked, a.FailedLoginAttempts, a.LockExpiresAt)
	}
	// Second check does not record another unlock.
	_, _ = h.engine.IsLocked(ctx, "acct-1")
	if n := h.count(auditdomain.EventAccountUnlocked); n != 1 {
		t.Errorf("ACCOUNT_UNLOCKED events = %d, want 1", n)
	}
	for _, e := range h.events.Events() {
		if e.Type == auditdomain.EventAccountUnlocked && e.UserID != audit.SystemActor {
			t.Errorf("lazy unlock actor = %q, want system", e.UserID)
		}
	}
}

func TestRecordSuccess_DoesNotUnlock(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for i := 0; i < DefaultThreshold; i++ {
		_, _ = h.engine.RecordFailure(ctx, "acct-1")
	}
	if err := h.engine.RecordSuccess(ctx, "acct-1"); err != nil {
		t.Fatalf("RecordSuccess: %v", err)
	}
	locked, _ := h.engine.IsLocked(ctx, "acct-1")
	if !locked {
		t.Error("RecordSuccess must not unlock")
	}
	a, _ := h.accounts.GetByID(ctx, "acct-1")
	if a.FailedLoginAttempts != 0 {
		t.Errorf("attempts = %d, want 0", a.FailedLoginAttempts)
	}
}

func TestAdminUnlock(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for i := 0; i < DefaultThreshold; i++ {
		_, _ = h.engine.RecordFailure(ctx, "acct-1")
	}
	locked, _ := h.engine.ListLocked(ctx)
	if len(locked) != 1 {
		t.Fatalf("ListLocked = %d accounts, want 1", len(locked))
	}
	if err := h.engine.AdminUnlock(ctx, "acct-1", "admin-9"); err != nil {
		t.Fatalf("AdminUnlock: %v", err)
	}
	if isLocked, _ := h.engine.IsLocked(ctx, "acct-1"); isLocked {
		t.Error("account still locked")
	}
	if locked, _ := h.engine.ListLocked(ctx); len(locked) != 0 {
		t.Errorf("ListLocked after unlock = %d", len(locked))
	}
	var found bool
	for _, e := range h.events.Events() {
		if e.Type == auditdomain.EventAccountUnlocked && e.UserID == "admin-9" && e.TargetUserID == "acct-1" {
			found = true
		}
	}
	if !found {
		t.Error("missing ACCOUNT_UNLOCKED with admin actor")
	}
}

func TestAdminResetFailedAttempts_KeepsLock(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for i := 0; i < DefaultThreshold; i++ {
		_, _ = h.engine.RecordFailure(ctx, "acct-1")
	}
	if err := h.engine.AdminResetFailedAttempts(ctx, "acct-1", "admin-9"); err != nil {
		t.Fatalf("AdminResetFailedAttempts: %v", err)
	}
	a, _ := h.accounts.GetByID(ctx, "acct-1")
	if a.FailedLoginAttempts != 0 || !a.AccountLocked {
		t.Errorf("attempts %d locked %v, want 0 and true", a.FailedLoginAttempts, a.AccountLocked)
	}
	if h.count(auditdomain.EventFailedAttemptsReset) != 1 {
		t.Error("missing FAILED_ATTEMPTS_RESET")
	}
}

func TestUnknownAccount(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if _, err := h.engine.RecordFailure(ctx, "nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("RecordFailure err = %v, want ErrNotFound", err)
	}
	if _, err := h.engine.IsLocked(ctx, "nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("IsLocked err = %v, want ErrNotFound", err)
	}
	if err := h.engine.AdminUnlock(ctx, "nope", "admin"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("AdminUnlock err = %v, want ErrNotFound", err)
	}
}
