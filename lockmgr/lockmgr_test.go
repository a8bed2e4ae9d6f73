package lockmgr

import (
	"errors"
	"testing"
	"time"

	"github.com/btcbuilder/txbuilder/txerrors"
)

func newTestManager(t *testing.T) (*Manager, *time.Time) {
	t.Helper()
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m := New()
	m.now = func() time.Time { return clock }
	return m, &clock
}

func TestLockAndIsLocked(t *testing.T) {
	m, _ := newTestManager(t)

	id, err := m.Lock("tx1:0", "selection", time.Minute)
	if err != nil {
		t.Fatalf("Lock() error = %v", err)
	}
	if id == "" {
		t.Fatal("Lock() returned empty id")
	}
	if !m.IsLocked("tx1:0") {
		t.Error("IsLocked() = false, want true")
	}
}

func TestLockRejectsDuplicate(t *testing.T) {
	m, _ := newTestManager(t)

	if _, err := m.Lock("tx1:0", "selection", time.Minute); err != nil {
		t.Fatalf("first Lock() error = %v", err)
	}

	_, err := m.Lock("tx1:0", "selection", time.Minute)
	if !errors.Is(err, txerrors.ErrAlreadyLocked) {
		t.Fatalf("error = %v, want ErrAlreadyLocked", err)
	}
}

func TestLockSucceedsAfterExpiry(t *testing.T) {
	m, clock := newTestManager(t)

	if _, err := m.Lock("tx1:0", "selection", time.Minute); err != nil {
		t.Fatalf("Lock() error = %v", err)
	}

	*clock = clock.Add(2 * time.Minute)

	id, err := m.Lock("tx1:0", "rbf", time.Minute)
	if err != nil {
		t.Fatalf("Lock() after expiry error = %v", err)
	}
	if id == "" {
		t.Fatal("expected new lock id")
	}
}

func TestUnlockReleasesOutpoint(t *testing.T) {
	m, _ := newTestManager(t)

	id, _ := m.Lock("tx1:0", "selection", time.Minute)

	if !m.Unlock(id) {
		t.Fatal("Unlock() = false, want true")
	}
	if m.IsLocked("tx1:0") {
		t.Error("IsLocked() = true after Unlock")
	}
	if m.Unlock(id) {
		t.Error("Unlock() of already-released id = true, want false")
	}
}

func TestLockManyAllOrNothing(t *testing.T) {
	m, _ := newTestManager(t)

	if _, err := m.Lock("tx2:0", "selection", time.Minute); err != nil {
		t.Fatalf("Lock() error = %v", err)
	}

	_, err := m.LockMany([]string{"tx1:0", "tx2:0", "tx3:0"}, "rbf", time.Minute)
	if !errors.Is(err, txerrors.ErrAlreadyLocked) {
		t.Fatalf("error = %v, want ErrAlreadyLocked", err)
	}
	if m.IsLocked("tx1:0") {
		t.Error("tx1:0 should not be locked after a failed LockMany")
	}
	if m.IsLocked("tx3:0") {
		t.Error("tx3:0 should not be locked after a failed LockMany")
	}
}

func TestLockManyMultipleConflicts(t *testing.T) {
	m, _ := newTestManager(t)

	m.Lock("tx1:0", "selection", time.Minute)
	m.Lock("tx2:0", "selection", time.Minute)

	_, err := m.LockMany([]string{"tx1:0", "tx2:0", "tx3:0"}, "rbf", time.Minute)
	if !errors.Is(err, txerrors.ErrMultipleConflicts) {
		t.Fatalf("error = %v, want ErrMultipleConflicts", err)
	}
}

func TestLockManySucceedsAtomically(t *testing.T) {
	m, _ := newTestManager(t)

	ids, err := m.LockMany([]string{"tx1:0", "tx2:0"}, "rbf", time.Minute)
	if err != nil {
		t.Fatalf("LockMany() error = %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("len(ids) = %d, want 2", len(ids))
	}
	if !m.IsLocked("tx1:0") || !m.IsLocked("tx2:0") {
		t.Error("both outpoints should be locked")
	}
}

func TestExtendPushesExpiry(t *testing.T) {
	m, clock := newTestManager(t)

	id, _ := m.Lock("tx1:0", "selection", time.Minute)

	*clock = clock.Add(30 * time.Second)
	if err := m.Extend(id, time.Minute); err != nil {
		t.Fatalf("Extend() error = %v", err)
	}

	*clock = clock.Add(45 * time.Second) // would have expired without the extend
	if !m.IsLocked("tx1:0") {
		t.Error("lock should still be live after Extend")
	}
}

func TestExtendFailsForUnknownID(t *testing.T) {
	m, _ := newTestManager(t)

	err := m.Extend("nonexistent", time.Minute)
	if !errors.Is(err, txerrors.ErrLockNotFound) {
		t.Fatalf("error = %v, want ErrLockNotFound", err)
	}
}

func TestForceUnlock(t *testing.T) {
	m, _ := newTestManager(t)

	m.Lock("tx1:0", "selection", time.Minute)
	if !m.ForceUnlock("tx1:0") {
		t.Fatal("ForceUnlock() = false, want true")
	}
	if m.IsLocked("tx1:0") {
		t.Error("outpoint should be unlocked after ForceUnlock")
	}
}

func TestGetByPurpose(t *testing.T) {
	m, _ := newTestManager(t)

	m.Lock("tx1:0", "selection", time.Minute)
	m.Lock("tx2:0", "selection", time.Minute)
	m.Lock("tx3:0", "rbf", time.Minute)

	locks := m.GetByPurpose("selection")
	if len(locks) != 2 {
		t.Errorf("len(locks) = %d, want 2", len(locks))
	}
}

func TestExpireSweep(t *testing.T) {
	m, clock := newTestManager(t)

	m.Lock("tx1:0", "selection", time.Minute)
	m.Lock("tx2:0", "selection", time.Hour)

	*clock = clock.Add(2 * time.Minute)

	swept := m.ExpireSweep()
	if swept != 1 {
		t.Errorf("ExpireSweep() = %d, want 1", swept)
	}
	if m.IsLocked("tx1:0") {
		t.Error("tx1:0 should have been swept")
	}
	if !m.IsLocked("tx2:0") {
		t.Error("tx2:0 should still be live")
	}
}

func TestLockWithZeroTTLNeverExpires(t *testing.T) {
	m, clock := newTestManager(t)

	m.Lock("tx1:0", "manual", 0)
	*clock = clock.Add(24 * time.Hour)

	if !m.IsLocked("tx1:0") {
		t.Error("zero-ttl lock should never expire")
	}
}
