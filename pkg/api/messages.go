package api

import (
	"github.com/cuemby/lockring/pkg/types"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// AcquireLockRequest is the wire message for AcquireLock.
type AcquireLockRequest struct {
	LockID    string
	ClientID  string
	TimeoutMs int64
}

// AcquireLockReply is the wire message for AcquireLock.
type AcquireLockReply struct {
	Status     string
	Token      uint64
	ExpiresAt  *timestamppb.Timestamp
	LeaderHint string
}

// ReleaseLockRequest is the wire message for ReleaseLock.
type ReleaseLockRequest struct {
	LockID   string
	ClientID string
	Token    uint64
}

// ReleaseLockReply is the wire message for ReleaseLock.
type ReleaseLockReply struct {
	Status     string
	LeaderHint string
}

// CheckLockRequest is the wire message for CheckLock.
type CheckLockRequest struct {
	LockID string
}

// CheckLockReply is the wire message for CheckLock.
type CheckLockReply struct {
	Status     string
	Held       bool
	ClientID   string
	RegionID   string
	Token      uint64
	ExpiresAt  *timestamppb.Timestamp
	LeaderHint string
}

func toAcquireReply(r types.AcquireResponse) *AcquireLockReply {
	reply := &AcquireLockReply{Status: string(r.Status), Token: r.Token, LeaderHint: r.LeaderHint}
	if !r.ExpiresAt.IsZero() {
		reply.ExpiresAt = timestamppb.New(r.ExpiresAt)
	}
	return reply
}

func toReleaseReply(r types.ReleaseResponse) *ReleaseLockReply {
	return &ReleaseLockReply{Status: string(r.Status), LeaderHint: r.LeaderHint}
}

func toCheckReply(r types.CheckResponse) *CheckLockReply {
	reply := &CheckLockReply{
		Status: string(r.Status), Held: r.Held, ClientID: r.ClientID,
		RegionID: r.RegionID, Token: r.Token, LeaderHint: r.LeaderHint,
	}
	if !r.ExpiresAt.IsZero() {
		reply.ExpiresAt = timestamppb.New(r.ExpiresAt)
	}
	return reply
}
