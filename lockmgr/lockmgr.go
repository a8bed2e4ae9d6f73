// Package lockmgr reserves UTXOs for the duration of an in-flight build so
// two concurrent requests can't both spend the same output. It generalizes
// the reference wallet's cache manager's double-checked-locking map
// pattern into a two-way map so a lock can be looked up by either the
// outpoint it holds or the id it was issued under.
package lockmgr

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/btcbuilder/txbuilder/txerrors"
)

// Lock is a single outpoint reservation.
type Lock struct {
	ID       string
	Outpoint string
	Purpose  string
	Expires  time.Time
}

func (l Lock) expired(now time.Time) bool {
	return !l.Expires.IsZero() && now.After(l.Expires)
}

// Manager owns the live set of outpoint locks. The zero value is not
// usable; construct with New.
type Manager struct {
	mu         sync.RWMutex
	byOutpoint map[string]*Lock
	byID       map[string]*Lock
	now        func() time.Time
}

// New returns an empty Manager.
func New() *Manager {
	return &Manager{
		byOutpoint: make(map[string]*Lock),
		byID:       make(map[string]*Lock),
		now:        time.Now,
	}
}

// Lock reserves outpoint for purpose until ttl elapses (zero ttl means no
// expiry), returning a lock id the caller must present to Unlock. Fails
// with AlreadyLocked if the outpoint is already held by a live lock.
func (m *Manager) Lock(outpoint, purpose string, ttl time.Duration) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.byOutpoint[outpoint]; ok && !existing.expired(m.now()) {
		return "", txerrors.New(txerrors.KindAlreadyLocked, "outpoint %s is already locked (purpose=%s)", outpoint, existing.Purpose).WithOutpoint(outpoint)
	}

	lock := m.newLock(outpoint, purpose, ttl)
	m.install(lock)
	return lock.ID, nil
}

// LockMany reserves every outpoint atomically: if any is already held, none
// are locked and AlreadyLocked/MultipleConflicts is returned naming the
// first or all conflicts found.
func (m *Manager) LockMany(outpoints []string, purpose string, ttl time.Duration) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var conflicts []string
	for _, o := range outpoints {
		if existing, ok := m.byOutpoint[o]; ok && !existing.expired(now) {
			conflicts = append(conflicts, o)
		}
	}
	if len(conflicts) == 1 {
		return nil, txerrors.New(txerrors.KindAlreadyLocked, "outpoint %s is already locked", conflicts[0]).WithOutpoint(conflicts[0])
	}
	if len(conflicts) > 1 {
		return nil, txerrors.New(txerrors.KindMultipleConflicts, "%d outpoints already locked: %v", len(conflicts), conflicts)
	}

	ids := make([]string, len(outpoints))
	for i, o := range outpoints {
		lock := m.newLock(o, purpose, ttl)
		m.install(lock)
		ids[i] = lock.ID
	}
	return ids, nil
}

// Unlock releases the lock identified by id, reporting whether a live lock
// was actually found and removed.
func (m *Manager) Unlock(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	lock, ok := m.byID[id]
	if !ok {
		return false
	}
	m.remove(lock)
	return !lock.expired(m.now())
}

// ForceUnlock releases whatever lock currently holds outpoint, regardless
// of its id, used to clear a stuck reservation administratively.
func (m *Manager) ForceUnlock(outpoint string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	lock, ok := m.byOutpoint[outpoint]
	if !ok {
		return false
	}
	m.remove(lock)
	return true
}

// Extend pushes a lock's expiry out by extra, measured from now rather than
// from its original expiry, so repeated extensions don't compound drift.
func (m *Manager) Extend(id string, extra time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	lock, ok := m.byID[id]
	if !ok {
		return txerrors.New(txerrors.KindLockNotFound, "no lock with id %s", id)
	}
	if lock.expired(m.now()) {
		m.remove(lock)
		return txerrors.New(txerrors.KindLockNotFound, "lock %s already expired", id)
	}

	lock.Expires = m.now().Add(extra)
	return nil
}

// IsLocked reports whether outpoint currently has a live (unexpired) lock.
func (m *Manager) IsLocked(outpoint string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	lock, ok := m.byOutpoint[outpoint]
	return ok && !lock.expired(m.now())
}

// GetByPurpose returns every live lock tagged with purpose.
func (m *Manager) GetByPurpose(purpose string) []Lock {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := m.now()
	var out []Lock
	for _, lock := range m.byOutpoint {
		if lock.Purpose == purpose && !lock.expired(now) {
			out = append(out, *lock)
		}
	}
	return out
}

// ExpireSweep removes every lock whose ttl has elapsed and returns how many
// were swept.
func (m *Manager) ExpireSweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	swept := 0
	for _, lock := range m.byOutpoint {
		if lock.expired(now) {
			m.remove(lock)
			swept++
		}
	}
	return swept
}

func (m *Manager) newLock(outpoint, purpose string, ttl time.Duration) *Lock {
	var expires time.Time
	if ttl > 0 {
		expires = m.now().Add(ttl)
	}
	return &Lock{ID: uuid.NewString(), Outpoint: outpoint, Purpose: purpose, Expires: expires}
}

// install replaces any (necessarily expired, by the caller's contract)
// existing lock on the same outpoint, clearing its stale id entry so an
// old lock id can't be used to act on the new lock.
func (m *Manager) install(lock *Lock) {
	if old, ok := m.byOutpoint[lock.Outpoint]; ok && old.ID != lock.ID {
		delete(m.byID, old.ID)
	}
	m.byOutpoint[lock.Outpoint] = lock
	m.byID[lock.ID] = lock
}

// remove must be called with m.mu held for writing.
func (m *Manager) remove(lock *Lock) {
	delete(m.byOutpoint, lock.Outpoint)
	delete(m.byID, lock.ID)
}
