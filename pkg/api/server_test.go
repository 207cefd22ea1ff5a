package api

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/cuemby/lockring/pkg/config"
	"github.com/cuemby/lockring/pkg/events"
	"github.com/cuemby/lockring/pkg/lockservice"
	"github.com/cuemby/lockring/pkg/raftnode"
	"github.com/cuemby/lockring/pkg/region"
	"github.com/hashicorp/raft"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func newTestServer(t *testing.T) (*Server, func()) {
	t.Helper()

	addr, transport := raft.NewInmemTransport("")
	node, err := raftnode.New(raftnode.Config{
		NodeID:            "node-1",
		ElectionTimeout:   100 * time.Millisecond,
		HeartbeatInterval: 30 * time.Millisecond,
		Transport:         transport,
	}, nil)
	require.NoError(t, err)
	require.NoError(t, node.Bootstrap(map[string]string{"node-1": string(addr)}))
	require.Eventually(t, func() bool { return node.IsLeader() }, 2*time.Second, 10*time.Millisecond)

	cfg := &config.Config{}
	cfg.ApplyDefaults()
	advisory := region.NewAdvisoryStore()
	svc := lockservice.New(node, cfg, events.NewBroker(), nil, nil, advisory)

	srv := NewServer(svc, node.Store(), advisory, cfg.RegionID)

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv.lis = lis

	go srv.grpc.Serve(lis)

	return srv, func() {
		srv.Stop()
	}
}

func dialTestServer(t *testing.T, srv *Server) *grpc.ClientConn {
	t.Helper()
	conn, err := grpc.NewClient(srv.lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	return conn
}

func TestServerAcquireReleaseCheckRoundTrip(t *testing.T) {
	srv, stop := newTestServer(t)
	defer stop()

	conn := dialTestServer(t, srv)
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	acquireReply := new(AcquireLockReply)
	err := conn.Invoke(ctx, "/lockring.LockService/AcquireLock",
		&AcquireLockRequest{LockID: "res-1", ClientID: "c1", TimeoutMs: 30000},
		acquireReply, grpc.CallContentSubtype("gob"))
	require.NoError(t, err)
	require.Equal(t, "OK", acquireReply.Status)
	require.NotZero(t, acquireReply.Token)

	checkReply := new(CheckLockReply)
	err = conn.Invoke(ctx, "/lockring.LockService/CheckLock",
		&CheckLockRequest{LockID: "res-1"}, checkReply, grpc.CallContentSubtype("gob"))
	require.NoError(t, err)
	require.True(t, checkReply.Held)
	require.Equal(t, "c1", checkReply.ClientID)

	releaseReply := new(ReleaseLockReply)
	err = conn.Invoke(ctx, "/lockring.LockService/ReleaseLock",
		&ReleaseLockRequest{LockID: "res-1", ClientID: "c1", Token: acquireReply.Token},
		releaseReply, grpc.CallContentSubtype("gob"))
	require.NoError(t, err)
	require.Equal(t, "OK", releaseReply.Status)
}

func TestServerProposeCrossRegionReflectsLocalStore(t *testing.T) {
	srv, stop := newTestServer(t)
	defer stop()

	conn := dialTestServer(t, srv)
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	acquireReply := new(AcquireLockReply)
	err := conn.Invoke(ctx, "/lockring.LockService/AcquireLock",
		&AcquireLockRequest{LockID: "res-2", ClientID: "c1", TimeoutMs: 30000},
		acquireReply, grpc.CallContentSubtype("gob"))
	require.NoError(t, err)

	proposeReply := new(region.ProposalReply)
	proposal := &region.Proposal{LockID: "res-2", ClientID: "c2", OriginRegion: "us-west", Token: 999, ExpiresAt: time.Now().Add(time.Minute)}
	err = conn.Invoke(ctx, "/lockring.Region/ProposeCrossRegion", proposal, proposeReply, grpc.CallContentSubtype("gob"))
	require.NoError(t, err)
	require.Equal(t, region.VoteConflict, proposeReply.Vote)
	require.Equal(t, "c1", proposeReply.KnownHolder)
}

// TestServerConfirmCrossRegionRecordsAdvisoryHold exercises spec.md §8
// scenario S6: once a peer region commits a cross-region proposal here,
// a subsequent local AcquireLock for the same lock_id by a different
// client/region must be rejected with ALREADY_LOCKED.
func TestServerConfirmCrossRegionRecordsAdvisoryHold(t *testing.T) {
	srv, stop := newTestServer(t)
	defer stop()

	conn := dialTestServer(t, srv)
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	commitAck := new(region.CommitAck)
	commit := &region.Commit{
		LockID: "res-3", ClientID: "c1", OriginRegion: "us-east",
		Token: 42, ExpiresAt: time.Now().Add(time.Minute), Decision: region.DecisionCommit,
	}
	err := conn.Invoke(ctx, "/lockring.Region/ConfirmCrossRegion", commit, commitAck, grpc.CallContentSubtype("gob"))
	require.NoError(t, err)

	acquireReply := new(AcquireLockReply)
	err = conn.Invoke(ctx, "/lockring.LockService/AcquireLock",
		&AcquireLockRequest{LockID: "res-3", ClientID: "c2", TimeoutMs: 30000},
		acquireReply, grpc.CallContentSubtype("gob"))
	require.NoError(t, err)
	require.Equal(t, "ALREADY_LOCKED", acquireReply.Status)
}
