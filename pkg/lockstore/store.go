// Package lockstore is the authoritative, in-memory lock table applied by
// the Raft state machine. Locks are only granted, extended and released by
// FSM.Apply; the lock service also allocates fencing tokens (NextToken)
// and reads holders (Check) directly. A single RWMutex guards every
// operation.
package lockstore

import (
	"sync"
	"time"

	"github.com/cuemby/lockring/pkg/metrics"
	"github.com/cuemby/lockring/pkg/types"
)

// Store holds every currently-known lock, plus a monotonic fencing-token
// counter per lock id that survives the lock's own expiry.
type Store struct {
	mu      sync.RWMutex
	locks   map[string]*types.Lock
	tokens  map[string]uint64
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		locks:  make(map[string]*types.Lock),
		tokens: make(map[string]uint64),
	}
}

// NextToken allocates the next fencing token for lock_id without granting
// the lock. The lock service calls this before proposing an ACQUIRE entry
// so every replica that applies the entry agrees on the token.
func (s *Store) NextToken(lockID string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[lockID]++
	return s.tokens[lockID]
}

// PeekToken returns the last token handed out for lock_id without
// allocating a new one.
func (s *Store) PeekToken(lockID string) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tokens[lockID]
}

// expireLocked drops lock_id's entry if it has lazily expired. Callers
// must hold s.mu for writing.
func (s *Store) expireLocked(lockID string, now time.Time) {
	l, ok := s.locks[lockID]
	if ok && !l.Held(now) {
		delete(s.locks, lockID)
		metrics.LockExpirationsTotal.Inc()
	}
}

// AcquireWithToken grants lock_id to client_id (attributed to regionID)
// under the given pre-assigned token, unless it is already held by a
// different client. Re-entrant acquisition by the same client that
// already holds the lock refreshes the expiry and returns the lock's
// existing token unchanged, never increments it, keeping retries
// idempotent.
func (s *Store) AcquireWithToken(lockID, clientID, regionID string, token uint64, timeout time.Duration, now time.Time) (types.LockStatus, *types.Lock) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if token > s.tokens[lockID] {
		s.tokens[lockID] = token
	}

	s.expireLocked(lockID, now)

	existing, held := s.locks[lockID]
	if held {
		if existing.ClientID == clientID {
			existing.ExpiresAt = now.Add(timeout)
			return types.StatusOK, cloneLock(existing)
		}
		return types.StatusAlreadyLocked, cloneLock(existing)
	}

	l := &types.Lock{
		LockID:     lockID,
		ClientID:   clientID,
		RegionID:   regionID,
		Token:      token,
		AcquiredAt: now,
		ExpiresAt:  now.Add(timeout),
	}
	s.locks[lockID] = l
	return types.StatusOK, cloneLock(l)
}

// ReleaseByToken releases lock_id if it is currently held under the given
// token. A mismatched or stale token is rejected so a client that lost a
// lock to expiry (and fencing) cannot release someone else's lock.
func (s *Store) ReleaseByToken(lockID string, token uint64, now time.Time) types.LockStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.expireLocked(lockID, now)

	existing, held := s.locks[lockID]
	if !held {
		return types.StatusNotFound
	}
	if existing.Token != token {
		return types.StatusInvalidToken
	}
	delete(s.locks, lockID)
	return types.StatusOK
}

// ExtendByToken pushes lock_id's expiry forward by timeout from now, if it
// is currently held under the given token.
func (s *Store) ExtendByToken(lockID string, token uint64, timeout time.Duration, now time.Time) (types.LockStatus, *types.Lock) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.expireLocked(lockID, now)

	existing, held := s.locks[lockID]
	if !held {
		return types.StatusNotFound, nil
	}
	if existing.Token != token {
		return types.StatusInvalidToken, cloneLock(existing)
	}
	existing.ExpiresAt = now.Add(timeout)
	return types.StatusOK, cloneLock(existing)
}

// Check reports the current holder of lock_id, if any, under the read
// lock. It mutates nothing: an expired entry is reported as not held and
// is dropped by the next acquire, release or extend that touches it.
func (s *Store) Check(lockID string, now time.Time) (held bool, lock *types.Lock) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.locks[lockID]
	if !ok || !l.Held(now) {
		return false, nil
	}
	return true, cloneLock(l)
}

// Count returns the number of locks currently tracked, including any that
// have lazily expired but not yet been touched.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.locks)
}

// Clear removes every lock. The per-lock token counters are kept.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locks = make(map[string]*types.Lock)
}

// All returns a snapshot copy of every currently held lock, used when
// building a Raft FSM snapshot.
func (s *Store) All() map[string]*types.Lock {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]*types.Lock, len(s.locks))
	for k, v := range s.locks {
		out[k] = cloneLock(v)
	}
	return out
}

// AllTokens returns a snapshot copy of the per-lock token counters.
func (s *Store) AllTokens() map[string]uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]uint64, len(s.tokens))
	for k, v := range s.tokens {
		out[k] = v
	}
	return out
}

// Restore replaces the store's contents wholesale, used when loading a
// Raft FSM snapshot.
func (s *Store) Restore(locks map[string]*types.Lock, tokens map[string]uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.locks = make(map[string]*types.Lock, len(locks))
	for k, v := range locks {
		s.locks[k] = cloneLock(v)
	}
	s.tokens = make(map[string]uint64, len(tokens))
	for k, v := range tokens {
		s.tokens[k] = v
	}
}

func cloneLock(l *types.Lock) *types.Lock {
	if l == nil {
		return nil
	}
	cp := *l
	return &cp
}
