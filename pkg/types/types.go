// Package types holds the data shapes shared across lockring's packages:
// the lock itself, the status codes returned on every RPC, and the
// Raft log command envelope applied by the state machine.
package types

import "time"

// LockStatus is the flat result code returned on every lock operation,
// both over the client-facing RPCs and internally between components.
type LockStatus string

const (
	StatusOK            LockStatus = "OK"
	StatusAlreadyLocked LockStatus = "ALREADY_LOCKED"
	StatusNotFound      LockStatus = "NOT_FOUND"
	StatusInvalidToken  LockStatus = "INVALID_TOKEN"
	// StatusExpired is part of the closed wire vocabulary but never
	// returned by this implementation: both the lock store and the front
	// end report an expired lock as StatusNotFound (spec.md §4.1, §4.4).
	StatusExpired      LockStatus = "EXPIRED"
	StatusQuorumFailed LockStatus = "QUORUM_FAILED"
	StatusNotLeader    LockStatus = "NOT_LEADER"
	StatusTimeout      LockStatus = "TIMEOUT"
	StatusError        LockStatus = "ERROR"
)

// Lock is the authoritative record for one named lock.
type Lock struct {
	LockID     string    `json:"lock_id"`
	ClientID   string    `json:"client_id"`
	RegionID   string    `json:"region_id"`
	Token      uint64    `json:"token"`
	AcquiredAt time.Time `json:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Held reports whether the lock is currently held as of now.
func (l *Lock) Held(now time.Time) bool {
	return l != nil && now.Before(l.ExpiresAt)
}

// Op names the kind of mutation carried by a Command.
type Op string

const (
	OpNoop    Op = "noop"
	OpAcquire Op = "acquire"
	OpRelease Op = "release"
	OpExtend  Op = "extend"
)

// AcquirePayload is the Data field of a Command with Op == OpAcquire.
type AcquirePayload struct {
	LockID    string `json:"lock_id"`
	ClientID  string `json:"client_id"`
	RegionID  string `json:"region_id"`
	Token     uint64 `json:"token"`
	TimeoutMs int64  `json:"timeout_ms"`
}

// ReleasePayload is the Data field of a Command with Op == OpRelease.
type ReleasePayload struct {
	LockID string `json:"lock_id"`
	Token  uint64 `json:"token"`
}

// ExtendPayload is the Data field of a Command with Op == OpExtend.
type ExtendPayload struct {
	LockID    string `json:"lock_id"`
	Token     uint64 `json:"token"`
	TimeoutMs int64  `json:"timeout_ms"`
}

// ApplyResult is returned from the FSM's Apply for ACQUIRE/RELEASE/EXTEND,
// and is what callers unwrap from the raft.ApplyFuture's Response().
type ApplyResult struct {
	Status LockStatus `json:"status"`
	Lock   *Lock      `json:"lock,omitempty"`
	Err    string     `json:"err,omitempty"`
}

// AcquireRequest is the client-facing request for AcquireLock.
type AcquireRequest struct {
	LockID    string
	ClientID  string
	TimeoutMs int64
}

// AcquireResponse is the client-facing response for AcquireLock.
type AcquireResponse struct {
	Status     LockStatus
	Token      uint64
	ExpiresAt  time.Time
	LeaderHint string
}

// ReleaseRequest is the client-facing request for ReleaseLock.
type ReleaseRequest struct {
	LockID   string
	ClientID string
	Token    uint64
}

// ReleaseResponse is the client-facing response for ReleaseLock.
type ReleaseResponse struct {
	Status     LockStatus
	LeaderHint string
}

// CheckRequest is the client-facing request for CheckLock.
type CheckRequest struct {
	LockID string
}

// CheckResponse is the client-facing response for CheckLock.
type CheckResponse struct {
	Status     LockStatus
	Held       bool
	ClientID   string
	RegionID   string
	Token      uint64
	ExpiresAt  time.Time
	LeaderHint string
}
