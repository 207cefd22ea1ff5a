package raftnode

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/cuemby/lockring/pkg/lockfsm"
	"github.com/cuemby/lockring/pkg/types"
	"github.com/hashicorp/raft"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newCluster builds n Nodes wired together over raft.NewInmemTransport and
// bootstraps them as a single cluster, returning the nodes once a leader
// has been elected.
func newCluster(t *testing.T, n int) []*Node {
	t.Helper()

	type wired struct {
		addr      raft.ServerAddress
		transport *raft.InmemTransport
	}
	wires := make([]wired, n)
	peers := make(map[string]string, n)
	ids := make([]string, n)

	for i := 0; i < n; i++ {
		addr, transport := raft.NewInmemTransport("")
		wires[i] = wired{addr: addr, transport: transport}
		ids[i] = idFor(i)
		peers[ids[i]] = string(addr)
	}

	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if i != j {
				wires[i].transport.Connect(wires[j].addr, wires[j].transport)
			}
		}
	}

	nodes := make([]*Node, n)
	for i := 0; i < n; i++ {
		node, err := New(Config{
			NodeID:            ids[i],
			ElectionTimeout:   150 * time.Millisecond,
			HeartbeatInterval: 50 * time.Millisecond,
			Transport:         wires[i].transport,
		}, nil)
		require.NoError(t, err)
		require.NoError(t, node.Bootstrap(peers))
		nodes[i] = node
	}

	require.Eventually(t, func() bool {
		return countLeaders(nodes) == 1
	}, 5*time.Second, 20*time.Millisecond)

	return nodes
}

func idFor(i int) string {
	return "node-" + string(rune('1'+i))
}

func countLeaders(nodes []*Node) int {
	count := 0
	for _, n := range nodes {
		if n.IsLeader() {
			count++
		}
	}
	return count
}

func leaderOf(nodes []*Node) *Node {
	for _, n := range nodes {
		if n.IsLeader() {
			return n
		}
	}
	return nil
}

func TestClusterElectsExactlyOneLeader(t *testing.T) {
	nodes := newCluster(t, 3)
	assert.Equal(t, 1, countLeaders(nodes))
}

func TestApplyReplicatesAcrossAllNodes(t *testing.T) {
	nodes := newCluster(t, 3)
	leader := leaderOf(nodes)
	require.NotNil(t, leader)

	data, err := jsonMarshalAcquire("res-1", "client-a", 1, 60000)
	require.NoError(t, err)

	result, err := leader.Apply(lockfsm.Command{Op: types.OpAcquire, Data: data}, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, types.StatusOK, result.Status)

	require.Eventually(t, func() bool {
		for _, n := range nodes {
			held, _ := n.Store().Check("res-1", time.Now())
			if !held {
				return false
			}
		}
		return true
	}, 2*time.Second, 20*time.Millisecond)
}

func TestFailoverElectsNewLeaderAfterShutdown(t *testing.T) {
	nodes := newCluster(t, 3)
	firstLeader := leaderOf(nodes)
	require.NotNil(t, firstLeader)
	require.NoError(t, firstLeader.Shutdown())

	require.Eventually(t, func() bool {
		count := 0
		var newLeader *Node
		for _, n := range nodes {
			if n == firstLeader {
				continue
			}
			if n.IsLeader() {
				count++
				newLeader = n
			}
		}
		return count == 1 && newLeader != firstLeader
	}, 10*time.Second, 50*time.Millisecond)
}

func jsonMarshalAcquire(lockID, clientID string, token uint64, timeoutMs int64) ([]byte, error) {
	return json.Marshal(types.AcquirePayload{
		LockID: lockID, ClientID: clientID, Token: token, TimeoutMs: timeoutMs,
	})
}
