// Package lockservice is the lock manager's client-facing front-end (C4):
// preflight validation, leader redirection, fencing-token assignment,
// commit through Raft, cross-region quorum delegation, and the ambient
// event/audit/metric side-effects of a successful operation.
package lockservice

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/cuemby/lockring/pkg/config"
	"github.com/cuemby/lockring/pkg/events"
	"github.com/cuemby/lockring/pkg/lockfsm"
	"github.com/cuemby/lockring/pkg/log"
	"github.com/cuemby/lockring/pkg/metrics"
	"github.com/cuemby/lockring/pkg/raftnode"
	"github.com/cuemby/lockring/pkg/storage"
	"github.com/cuemby/lockring/pkg/types"
)

const maxIDLength = 256

// applyTimeout bounds how long a single Raft proposal is allowed to take
// before the caller gets back types.StatusTimeout.
const applyTimeout = 5 * time.Second

// QuorumProposer is implemented by pkg/region's client for the
// cross-region quorum step of AcquireLock and the best-effort release
// fan-out of ReleaseLock. A nil QuorumProposer means this deployment has
// no region peers configured, so quorum trivially passes (a
// single-region cluster is self-quorate) and release fan-out is a no-op.
type QuorumProposer interface {
	ProposeCrossRegion(lockID, clientID string, token uint64, expiresAt time.Time) (bool, error)
	ReleaseCrossRegion(lockID string, token uint64)
}

// AdvisoryChecker is implemented by pkg/region's AdvisoryStore: the
// record of locks a peer region's cross-region quorum has committed
// against this region. AcquireLock must not grant a lock_id another
// region already holds advisory over.
type AdvisoryChecker interface {
	Held(lockID string, now time.Time) (held bool, clientID string, regionID string)
}

// Service implements AcquireLock/ReleaseLock/CheckLock.
type Service struct {
	node     *raftnode.Node
	cfg      *config.Config
	broker   *events.Broker
	audit    *storage.AuditStore
	quorum   QuorumProposer
	advisory AdvisoryChecker
}

// New constructs a Service. audit, quorum, and advisory may all be nil:
// audit logging and cross-region quorum are both optional ambient
// behaviors of a single-region deployment.
func New(node *raftnode.Node, cfg *config.Config, broker *events.Broker, audit *storage.AuditStore, quorum QuorumProposer, advisory AdvisoryChecker) *Service {
	return &Service{node: node, cfg: cfg, broker: broker, audit: audit, quorum: quorum, advisory: advisory}
}

func validateID(id string) types.LockStatus {
	if id == "" || len(id) > maxIDLength {
		return types.StatusError
	}
	return ""
}

// AcquireLock attempts to grant req.LockID to req.ClientID.
func (s *Service) AcquireLock(req types.AcquireRequest) types.AcquireResponse {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDurationVec(metrics.LockOperationDuration, string(types.OpAcquire))
	}()

	if st := validateID(req.LockID); st != "" {
		return types.AcquireResponse{Status: st}
	}
	if st := validateID(req.ClientID); st != "" {
		return types.AcquireResponse{Status: st}
	}

	if !s.node.IsLeader() {
		resp := types.AcquireResponse{Status: types.StatusNotLeader, LeaderHint: s.node.LeaderAddress()}
		metrics.LockOperationsTotal.WithLabelValues(string(types.OpAcquire), string(resp.Status)).Inc()
		return resp
	}

	if s.advisory != nil {
		if held, clientID, regionID := s.advisory.Held(req.LockID, time.Now()); held {
			if clientID != req.ClientID || regionID != s.cfg.RegionID {
				resp := types.AcquireResponse{Status: types.StatusAlreadyLocked}
				metrics.LockOperationsTotal.WithLabelValues(string(types.OpAcquire), string(resp.Status)).Inc()
				return resp
			}
		}
	}

	timeoutMs := s.cfg.ClampTimeout(req.TimeoutMs)
	token := s.node.Store().NextToken(req.LockID)

	payload, err := json.Marshal(types.AcquirePayload{
		LockID: req.LockID, ClientID: req.ClientID, RegionID: s.cfg.RegionID, Token: token, TimeoutMs: timeoutMs,
	})
	if err != nil {
		return types.AcquireResponse{Status: types.StatusError}
	}

	result, err := s.node.Apply(lockfsm.Command{Op: types.OpAcquire, Data: payload}, applyTimeout)
	if err != nil {
		log.WithLockID(req.LockID).Error("acquire apply failed: " + err.Error())
		resp := types.AcquireResponse{Status: types.StatusTimeout}
		metrics.LockOperationsTotal.WithLabelValues(string(types.OpAcquire), string(resp.Status)).Inc()
		return resp
	}

	if result.Status != types.StatusOK {
		metrics.LockOperationsTotal.WithLabelValues(string(types.OpAcquire), string(result.Status)).Inc()
		return types.AcquireResponse{Status: result.Status}
	}

	if s.quorum != nil {
		ok, err := s.quorum.ProposeCrossRegion(req.LockID, req.ClientID, result.Lock.Token, result.Lock.ExpiresAt)
		if err != nil || !ok {
			if s.broker != nil {
				s.broker.Publish(&events.Event{Type: events.EventQuorumFailed, Message: req.LockID})
			}
			metrics.LockOperationsTotal.WithLabelValues(string(types.OpAcquire), string(types.StatusQuorumFailed)).Inc()
			s.releaseInternal(req.LockID, result.Lock.Token)
			return types.AcquireResponse{Status: types.StatusQuorumFailed}
		}
		if s.broker != nil {
			s.broker.Publish(&events.Event{Type: events.EventQuorumReached, Message: req.LockID})
		}
	}

	s.recordAudit(types.OpAcquire, req.LockID, req.ClientID, result.Status)
	if s.broker != nil {
		s.broker.Publish(&events.Event{Type: events.EventLockAcquired, Message: req.LockID, Metadata: map[string]string{"client_id": req.ClientID}})
	}
	metrics.LockOperationsTotal.WithLabelValues(string(types.OpAcquire), string(types.StatusOK)).Inc()

	return types.AcquireResponse{
		Status:    types.StatusOK,
		Token:     result.Lock.Token,
		ExpiresAt: result.Lock.ExpiresAt,
	}
}

// ReleaseLock releases req.LockID if it is held under req.Token.
func (s *Service) ReleaseLock(req types.ReleaseRequest) types.ReleaseResponse {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDurationVec(metrics.LockOperationDuration, string(types.OpRelease))
	}()

	if st := validateID(req.LockID); st != "" {
		return types.ReleaseResponse{Status: st}
	}

	if !s.node.IsLeader() {
		return types.ReleaseResponse{Status: types.StatusNotLeader, LeaderHint: s.node.LeaderAddress()}
	}

	status, err := s.releaseInternal(req.LockID, req.Token)
	if err != nil {
		metrics.LockOperationsTotal.WithLabelValues(string(types.OpRelease), string(types.StatusTimeout)).Inc()
		return types.ReleaseResponse{Status: types.StatusTimeout}
	}

	metrics.LockOperationsTotal.WithLabelValues(string(types.OpRelease), string(status)).Inc()
	if status == types.StatusOK {
		s.recordAudit(types.OpRelease, req.LockID, req.ClientID, status)
		if s.broker != nil {
			s.broker.Publish(&events.Event{Type: events.EventLockReleased, Message: req.LockID})
		}
		if s.quorum != nil {
			s.quorum.ReleaseCrossRegion(req.LockID, req.Token)
		}
	}
	return types.ReleaseResponse{Status: status}
}

func (s *Service) releaseInternal(lockID string, token uint64) (types.LockStatus, error) {
	payload, err := json.Marshal(types.ReleasePayload{LockID: lockID, Token: token})
	if err != nil {
		return types.StatusError, err
	}
	result, err := s.node.Apply(lockfsm.Command{Op: types.OpRelease, Data: payload}, applyTimeout)
	if err != nil {
		return "", err
	}
	return result.Status, nil
}

// CheckLock reports the current holder of req.LockID, if any. Per
// spec.md §4.4 this is still gated on leadership — a read served by a
// follower returns NOT_LEADER — even though it is answered from the
// local lock store without a Raft log entry; stale reads on the leader
// itself remain possible between commit and local apply, which the spec
// explicitly permits.
func (s *Service) CheckLock(req types.CheckRequest) types.CheckResponse {
	if st := validateID(req.LockID); st != "" {
		return types.CheckResponse{Status: st}
	}

	if !s.node.IsLeader() {
		return types.CheckResponse{Status: types.StatusNotLeader, LeaderHint: s.node.LeaderAddress()}
	}

	held, lock := s.node.Store().Check(req.LockID, time.Now())
	if !held {
		return types.CheckResponse{Status: types.StatusNotFound, Held: false}
	}
	return types.CheckResponse{
		Status:    types.StatusOK,
		Held:      true,
		ClientID:  lock.ClientID,
		RegionID:  lock.RegionID,
		Token:     lock.Token,
		ExpiresAt: lock.ExpiresAt,
	}
}

func (s *Service) recordAudit(op types.Op, lockID, clientID string, status types.LockStatus) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Append(storage.AuditEntry{Op: op, LockID: lockID, ClientID: clientID, Status: status}); err != nil {
		log.WithLockID(lockID).Error(fmt.Sprintf("audit append failed: %v", err))
	}
}
