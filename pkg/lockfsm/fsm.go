// Package lockfsm implements the Raft finite state machine that applies
// committed lock operations to a lockstore.Store.
package lockfsm

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/cuemby/lockring/pkg/lockstore"
	"github.com/cuemby/lockring/pkg/types"
	"github.com/hashicorp/raft"
)

// Command is the JSON envelope carried in every Raft log entry.
type Command struct {
	Op   types.Op        `json:"op"`
	Data json.RawMessage `json:"data"`
}

// FSM applies committed Command entries to an in-memory lockstore.Store.
// hashicorp/raft guarantees Apply is only ever called for an index past
// the last one this FSM instance has already applied, so no separate
// "already applied" bookkeeping is needed here.
type FSM struct {
	store *lockstore.Store
}

// New returns an FSM backed by store.
func New(store *lockstore.Store) *FSM {
	return &FSM{store: store}
}

// Store exposes the backing lockstore.Store so the lock service can run
// read-only Check calls without going through the Raft log.
func (f *FSM) Store() *lockstore.Store {
	return f.store
}

// Apply applies one committed Raft log entry.
func (f *FSM) Apply(log *raft.Log) interface{} {
	var cmd Command
	if err := json.Unmarshal(log.Data, &cmd); err != nil {
		return types.ApplyResult{Status: types.StatusError, Err: fmt.Sprintf("unmarshal command: %v", err)}
	}

	now := log.AppendedAt
	if now.IsZero() {
		now = time.Now()
	}

	switch cmd.Op {
	case types.OpNoop:
		return types.ApplyResult{Status: types.StatusOK}

	case types.OpAcquire:
		var p types.AcquirePayload
		if err := json.Unmarshal(cmd.Data, &p); err != nil {
			return types.ApplyResult{Status: types.StatusError, Err: err.Error()}
		}
		status, lock := f.store.AcquireWithToken(p.LockID, p.ClientID, p.RegionID, p.Token, time.Duration(p.TimeoutMs)*time.Millisecond, now)
		return types.ApplyResult{Status: status, Lock: lock}

	case types.OpRelease:
		var p types.ReleasePayload
		if err := json.Unmarshal(cmd.Data, &p); err != nil {
			return types.ApplyResult{Status: types.StatusError, Err: err.Error()}
		}
		status := f.store.ReleaseByToken(p.LockID, p.Token, now)
		return types.ApplyResult{Status: status}

	case types.OpExtend:
		var p types.ExtendPayload
		if err := json.Unmarshal(cmd.Data, &p); err != nil {
			return types.ApplyResult{Status: types.StatusError, Err: err.Error()}
		}
		status, lock := f.store.ExtendByToken(p.LockID, p.Token, time.Duration(p.TimeoutMs)*time.Millisecond, now)
		return types.ApplyResult{Status: status, Lock: lock}

	default:
		return types.ApplyResult{Status: types.StatusError, Err: fmt.Sprintf("unknown command: %s", cmd.Op)}
	}
}

// Snapshot captures the full lock table and token counters.
func (f *FSM) Snapshot() (raft.FSMSnapshot, error) {
	return &snapshot{
		Locks:  f.store.All(),
		Tokens: f.store.AllTokens(),
	}, nil
}

// Restore replaces the FSM's state with a previously persisted snapshot.
func (f *FSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()

	var snap snapshot
	if err := json.NewDecoder(rc).Decode(&snap); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}

	f.store.Restore(snap.Locks, snap.Tokens)
	return nil
}

type snapshot struct {
	Locks  map[string]*types.Lock `json:"locks"`
	Tokens map[string]uint64      `json:"tokens"`
}

// Persist writes the snapshot to sink.
func (s *snapshot) Persist(sink raft.SnapshotSink) error {
	err := func() error {
		if err := json.NewEncoder(sink).Encode(s); err != nil {
			return err
		}
		return sink.Close()
	}()
	if err != nil {
		sink.Cancel()
	}
	return err
}

// Release is a no-op; the snapshot holds no external resources.
func (s *snapshot) Release() {}
