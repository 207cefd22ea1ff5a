// Package raftnode wraps a hashicorp/raft consensus group for a single
// lockring region: cluster lifecycle (bootstrap, join, membership
// changes), leadership introspection, and committing lockfsm.Command
// entries.
package raftnode

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/cuemby/lockring/pkg/events"
	"github.com/cuemby/lockring/pkg/lockfsm"
	"github.com/cuemby/lockring/pkg/lockstore"
	"github.com/cuemby/lockring/pkg/log"
	"github.com/cuemby/lockring/pkg/metrics"
	"github.com/cuemby/lockring/pkg/types"
	"github.com/hashicorp/raft"
)

// Config configures a Node's Raft transport and timing.
type Config struct {
	NodeID   string
	BindAddr string
	DataDir  string

	// ElectionTimeout and HeartbeatInterval come from the cluster
	// configuration table; HeartbeatInterval defaults to a third of
	// ElectionTimeout.
	ElectionTimeout   time.Duration
	HeartbeatInterval time.Duration

	// Transport/LogStore/StableStore/SnapshotStore are only set directly in tests, to
	// wire an in-memory transport/log/snapshot store across a cluster of
	// Nodes created in the same process. Production callers leave these
	// nil and get a real TCP transport plus in-memory log/snapshot
	// storage (persistent Raft log storage is out of scope).
	Transport     raft.Transport
	LogStore      raft.LogStore
	StableStore   raft.StableStore
	SnapshotStore raft.SnapshotStore
}

// Node wraps a *raft.Raft and the lockfsm.FSM it drives.
type Node struct {
	cfg    Config
	raft   *raft.Raft
	fsm    *lockfsm.FSM
	store  *lockstore.Store
	broker *events.Broker
}

// New constructs a Node without starting or joining a cluster.
func New(cfg Config, broker *events.Broker) (*Node, error) {
	store := lockstore.New()
	fsm := lockfsm.New(store)

	n := &Node{
		cfg:    cfg,
		fsm:    fsm,
		store:  store,
		broker: broker,
	}
	return n, nil
}

// Store exposes the node's backing lock store for read-only checks that
// don't need to go through the Raft log.
func (n *Node) Store() *lockstore.Store {
	return n.store
}

// Bootstrap starts a brand-new single- or multi-node cluster with voters
// drawn from peers (including this node). peers maps node id to address.
func (n *Node) Bootstrap(peers map[string]string) error {
	r, err := n.newRaft()
	if err != nil {
		return err
	}
	n.raft = r

	var servers []raft.Server
	for id, addr := range peers {
		servers = append(servers, raft.Server{
			ID:      raft.ServerID(id),
			Address: raft.ServerAddress(addr),
		})
	}

	future := r.BootstrapCluster(raft.Configuration{Servers: servers})
	if err := future.Error(); err != nil && err != raft.ErrCantBootstrap {
		return fmt.Errorf("bootstrap cluster: %w", err)
	}

	n.watchLeadership()
	return nil
}

// Join starts this node's Raft instance without bootstrapping a new
// configuration, so it can join an already-running cluster. The caller
// is still responsible for getting the existing leader to accept this
// node as a voter, e.g. by calling AddVoter against the leader with
// this node's id and addr.
func (n *Node) Join() error {
	r, err := n.newRaft()
	if err != nil {
		return err
	}
	n.raft = r

	n.watchLeadership()
	return nil
}

// newRaft builds a *raft.Raft over this node's configured (or default
// in-memory) transport/log/stable/snapshot stores, without touching
// cluster membership.
func (n *Node) newRaft() (*raft.Raft, error) {
	raftCfg := n.baseConfig()

	transport := n.cfg.Transport
	var err error
	if transport == nil {
		transport, err = n.newTCPTransport()
		if err != nil {
			return nil, fmt.Errorf("create transport: %w", err)
		}
	}

	logStore := n.cfg.LogStore
	if logStore == nil {
		logStore = raft.NewInmemStore()
	}
	stableStore := n.cfg.StableStore
	if stableStore == nil {
		stableStore = raft.NewInmemStore()
	}
	snapStore := n.cfg.SnapshotStore
	if snapStore == nil {
		snapStore = raft.NewInmemSnapshotStore()
	}

	r, err := raft.NewRaft(raftCfg, n.fsm, logStore, stableStore, snapStore, transport)
	if err != nil {
		return nil, fmt.Errorf("create raft: %w", err)
	}
	return r, nil
}

func (n *Node) baseConfig() *raft.Config {
	raftCfg := raft.DefaultConfig()
	raftCfg.LocalID = raft.ServerID(n.cfg.NodeID)

	election := n.cfg.ElectionTimeout
	if election == 0 {
		election = 150 * time.Millisecond
	}
	heartbeat := n.cfg.HeartbeatInterval
	if heartbeat == 0 {
		heartbeat = election / 3
	}

	raftCfg.HeartbeatTimeout = heartbeat
	raftCfg.ElectionTimeout = election
	raftCfg.LeaderLeaseTimeout = heartbeat
	raftCfg.CommitTimeout = heartbeat / 2
	if raftCfg.CommitTimeout <= 0 {
		raftCfg.CommitTimeout = 10 * time.Millisecond
	}
	return raftCfg
}

func (n *Node) newTCPTransport() (raft.Transport, error) {
	addr, err := net.ResolveTCPAddr("tcp", n.cfg.BindAddr)
	if err != nil {
		return nil, err
	}
	return raft.NewTCPTransport(n.cfg.BindAddr, addr, 3, 10*time.Second, os.Stderr)
}

// watchLeadership publishes events.EventLeaderElected/EventLeaderLost
// whenever this node's leadership status flips.
func (n *Node) watchLeadership() {
	go func() {
		for isLeader := range n.raft.LeaderCh() {
			metrics.LeadershipChangesTotal.Inc()
			if isLeader {
				metrics.RaftLeader.Set(1)
				if n.broker != nil {
					n.broker.Publish(&events.Event{Type: events.EventLeaderElected, Message: n.cfg.NodeID})
				}
				log.WithNodeID(n.cfg.NodeID).Info("became raft leader")
			} else {
				metrics.RaftLeader.Set(0)
				if n.broker != nil {
					n.broker.Publish(&events.Event{Type: events.EventLeaderLost, Message: n.cfg.NodeID})
				}
				log.WithNodeID(n.cfg.NodeID).Info("lost raft leadership")
			}
		}
	}()
}

// IsLeader reports whether this node currently believes it is the leader.
func (n *Node) IsLeader() bool {
	return n.raft.State() == raft.Leader
}

// LeaderAddress returns the current leader's advertised address, or "" if
// no leader is known.
func (n *Node) LeaderAddress() string {
	addr, _ := n.raft.LeaderWithID()
	return string(addr)
}

// AddVoter adds a new voting member to the cluster. Must be called on the
// leader.
func (n *Node) AddVoter(id, addr string, timeout time.Duration) error {
	future := n.raft.AddVoter(raft.ServerID(id), raft.ServerAddress(addr), 0, timeout)
	return future.Error()
}

// RemoveServer removes a member from the cluster. Must be called on the
// leader.
func (n *Node) RemoveServer(id string, timeout time.Duration) error {
	future := n.raft.RemoveServer(raft.ServerID(id), 0, timeout)
	return future.Error()
}

// Stats returns hashicorp/raft's own diagnostic stats map (log indices,
// peer counts, term, state, and more).
func (n *Node) Stats() map[string]string {
	return n.raft.Stats()
}

// Apply marshals cmd and proposes it to the Raft log, blocking up to
// timeout for it to commit, then unwraps the FSM's ApplyResult.
func (n *Node) Apply(cmd lockfsm.Command, timeout time.Duration) (types.ApplyResult, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.RaftCommitDuration)

	data, err := json.Marshal(cmd)
	if err != nil {
		return types.ApplyResult{}, fmt.Errorf("marshal command: %w", err)
	}

	future := n.raft.Apply(data, timeout)
	if err := future.Error(); err != nil {
		return types.ApplyResult{}, err
	}

	resp := future.Response()
	result, ok := resp.(types.ApplyResult)
	if !ok {
		return types.ApplyResult{}, fmt.Errorf("unexpected apply response type %T", resp)
	}
	return result, nil
}

// Shutdown gracefully stops the Raft subsystem.
func (n *Node) Shutdown() error {
	if n.raft == nil {
		return nil
	}
	return n.raft.Shutdown().Error()
}
