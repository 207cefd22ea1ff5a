// Package client is the Go SDK for lockring's AcquireLock/ReleaseLock/
// CheckLock RPCs.
package client

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/lockring/pkg/api"
	"github.com/cuemby/lockring/pkg/types"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const defaultCallTimeout = 10 * time.Second

// Client wraps a gRPC connection to one lock manager node.
type Client struct {
	conn *grpc.ClientConn
	addr string
}

// NewClient dials addr over a plain (non-TLS) gRPC connection using the
// gob wire codec registered by pkg/api.
func NewClient(addr string) (*Client, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return &Client{conn: conn, addr: addr}, nil
}

// Close tears down the underlying gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// AcquireLock attempts to acquire lockID for clientID; timeout is the
// requested lease duration, after which the lock expires. If the contacted node is
// not the Raft leader, Status is types.StatusNotLeader and LeaderHint
// names the current leader for the caller to retry against.
func (c *Client) AcquireLock(lockID, clientID string, timeout time.Duration) (types.AcquireResponse, error) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultCallTimeout)
	defer cancel()

	req := &api.AcquireLockRequest{LockID: lockID, ClientID: clientID, TimeoutMs: timeout.Milliseconds()}
	reply := new(api.AcquireLockReply)
	if err := c.conn.Invoke(ctx, "/lockring.LockService/AcquireLock", req, reply, grpc.CallContentSubtype("gob")); err != nil {
		return types.AcquireResponse{}, err
	}

	resp := types.AcquireResponse{
		Status:     types.LockStatus(reply.Status),
		Token:      reply.Token,
		LeaderHint: reply.LeaderHint,
	}
	if reply.ExpiresAt != nil {
		resp.ExpiresAt = reply.ExpiresAt.AsTime()
	}
	return resp, nil
}

// ReleaseLock releases lockID, which must currently be held under token.
func (c *Client) ReleaseLock(lockID, clientID string, token uint64) (types.ReleaseResponse, error) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultCallTimeout)
	defer cancel()

	req := &api.ReleaseLockRequest{LockID: lockID, ClientID: clientID, Token: token}
	reply := new(api.ReleaseLockReply)
	if err := c.conn.Invoke(ctx, "/lockring.LockService/ReleaseLock", req, reply, grpc.CallContentSubtype("gob")); err != nil {
		return types.ReleaseResponse{}, err
	}
	return types.ReleaseResponse{Status: types.LockStatus(reply.Status), LeaderHint: reply.LeaderHint}, nil
}

// CheckLock reports the current holder of lockID, if any. Like
// AcquireLock and ReleaseLock this must be served by the Raft leader: if
// the contacted node is a follower, Status is types.StatusNotLeader and
// LeaderHint names the current leader for the caller to retry against.
func (c *Client) CheckLock(lockID string) (types.CheckResponse, error) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultCallTimeout)
	defer cancel()

	req := &api.CheckLockRequest{LockID: lockID}
	reply := new(api.CheckLockReply)
	if err := c.conn.Invoke(ctx, "/lockring.LockService/CheckLock", req, reply, grpc.CallContentSubtype("gob")); err != nil {
		return types.CheckResponse{}, err
	}

	resp := types.CheckResponse{
		Status:     types.LockStatus(reply.Status),
		Held:       reply.Held,
		ClientID:   reply.ClientID,
		RegionID:   reply.RegionID,
		Token:      reply.Token,
		LeaderHint: reply.LeaderHint,
	}
	if reply.ExpiresAt != nil {
		resp.ExpiresAt = reply.ExpiresAt.AsTime()
	}
	return resp, nil
}
