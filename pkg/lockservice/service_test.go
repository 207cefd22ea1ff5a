package lockservice

import (
	"testing"
	"time"

	"github.com/cuemby/lockring/pkg/config"
	"github.com/cuemby/lockring/pkg/events"
	"github.com/cuemby/lockring/pkg/raftnode"
	"github.com/cuemby/lockring/pkg/types"
	"github.com/hashicorp/raft"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newSingleNodeService builds a lockservice.Service wired to a single
// bootstrapped Raft node over an in-memory transport, acting as its own
// leader — enough to exercise every lockservice code path without a
// multi-node cluster.
func newSingleNodeService(t *testing.T) *Service {
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

	return New(node, cfg, events.NewBroker(), nil, nil, nil)
}

func TestAcquireThenAnotherClientIsRejected(t *testing.T) {
	svc := newSingleNodeService(t)

	resp := svc.AcquireLock(types.AcquireRequest{LockID: "res-1", ClientID: "c1", TimeoutMs: 30000})
	require.Equal(t, types.StatusOK, resp.Status)
	assert.NotZero(t, resp.Token)

	resp2 := svc.AcquireLock(types.AcquireRequest{LockID: "res-1", ClientID: "c2", TimeoutMs: 30000})
	assert.Equal(t, types.StatusAlreadyLocked, resp2.Status)
}

func TestReleaseThenReacquireBySecondClient(t *testing.T) {
	svc := newSingleNodeService(t)

	resp := svc.AcquireLock(types.AcquireRequest{LockID: "res-1", ClientID: "c1", TimeoutMs: 30000})
	require.Equal(t, types.StatusOK, resp.Status)

	rel := svc.ReleaseLock(types.ReleaseRequest{LockID: "res-1", ClientID: "c1", Token: resp.Token})
	require.Equal(t, types.StatusOK, rel.Status)

	resp2 := svc.AcquireLock(types.AcquireRequest{LockID: "res-1", ClientID: "c2", TimeoutMs: 30000})
	require.Equal(t, types.StatusOK, resp2.Status)
	assert.Greater(t, resp2.Token, resp.Token)
}

func TestCheckLockReportsCurrentHolder(t *testing.T) {
	svc := newSingleNodeService(t)

	check := svc.CheckLock(types.CheckRequest{LockID: "res-1"})
	require.Equal(t, types.StatusNotFound, check.Status)
	assert.False(t, check.Held)

	resp := svc.AcquireLock(types.AcquireRequest{LockID: "res-1", ClientID: "c1", TimeoutMs: 30000})
	require.Equal(t, types.StatusOK, resp.Status)

	check2 := svc.CheckLock(types.CheckRequest{LockID: "res-1"})
	require.True(t, check2.Held)
	assert.Equal(t, "c1", check2.ClientID)
	assert.Equal(t, resp.Token, check2.Token)
}

func TestRetriedAcquireBySameClientIsIdempotent(t *testing.T) {
	svc := newSingleNodeService(t)

	first := svc.AcquireLock(types.AcquireRequest{LockID: "res-1", ClientID: "c1", TimeoutMs: 30000})
	require.Equal(t, types.StatusOK, first.Status)

	retry := svc.AcquireLock(types.AcquireRequest{LockID: "res-1", ClientID: "c1", TimeoutMs: 30000})
	require.Equal(t, types.StatusOK, retry.Status)
	assert.Equal(t, first.Token, retry.Token)
}

func TestExpiredLockCanBeAcquiredByAnotherClient(t *testing.T) {
	svc := newSingleNodeService(t)

	resp := svc.AcquireLock(types.AcquireRequest{LockID: "res-1", ClientID: "c1", TimeoutMs: 1000})
	require.Equal(t, types.StatusOK, resp.Status)

	require.Eventually(t, func() bool {
		check := svc.CheckLock(types.CheckRequest{LockID: "res-1"})
		return !check.Held
	}, 3*time.Second, 50*time.Millisecond)

	resp2 := svc.AcquireLock(types.AcquireRequest{LockID: "res-1", ClientID: "c2", TimeoutMs: 30000})
	require.Equal(t, types.StatusOK, resp2.Status)
	assert.Greater(t, resp2.Token, resp.Token)
}

func TestInvalidRequestsAreRejected(t *testing.T) {
	svc := newSingleNodeService(t)

	resp := svc.AcquireLock(types.AcquireRequest{LockID: "", ClientID: "c1"})
	assert.Equal(t, types.StatusError, resp.Status)

	resp2 := svc.AcquireLock(types.AcquireRequest{LockID: "res-1", ClientID: ""})
	assert.Equal(t, types.StatusError, resp2.Status)
}

func TestReleaseWithWrongTokenIsRejected(t *testing.T) {
	svc := newSingleNodeService(t)

	resp := svc.AcquireLock(types.AcquireRequest{LockID: "res-1", ClientID: "c1", TimeoutMs: 30000})
	require.Equal(t, types.StatusOK, resp.Status)

	rel := svc.ReleaseLock(types.ReleaseRequest{LockID: "res-1", ClientID: "c1", Token: resp.Token + 1})
	assert.Equal(t, types.StatusInvalidToken, rel.Status)
}
