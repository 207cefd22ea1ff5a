// Package region implements the cross-region quorum protocol: a lock
// acquired by one region's leader is only considered durable once a
// strict majority of configured regional leaders have confirmed it, via
// a two-phase ProposeCrossRegion/ConfirmCrossRegion exchange.
package region

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/lockring/pkg/log"
	"github.com/cuemby/lockring/pkg/metrics"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Peer is one other region's leader endpoint, as seen from this region.
type Peer struct {
	RegionID string
	Addr     string
}

// Vote is a peer region's answer to a Proposal.
type Vote string

const (
	VoteYes      Vote = "YES"
	VoteNo       Vote = "NO"
	VoteConflict Vote = "CONFLICT"
)

// Decision is the proposer's final outcome, carried to peers in the
// confirm phase so they can commit or discard any advisory record.
type Decision string

const (
	DecisionCommit Decision = "COMMIT"
	DecisionAbort  Decision = "ABORT"
)

// Proposal is phase one: "would you object to this region holding
// lock_id?"
type Proposal struct {
	LockID       string
	ClientID     string
	OriginRegion string
	Token        uint64
	ExpiresAt    time.Time
}

// ProposalReply is a single peer region's vote on a Proposal.
type ProposalReply struct {
	Vote        Vote
	KnownHolder string
}

// Commit is phase two: the proposer's final decision, sent to every
// peer regardless of how it voted. On DecisionCommit, the peer records
// lock_id as held elsewhere (an advisory entry — see AdvisoryStore); on
// DecisionAbort it discards any such record.
type Commit struct {
	LockID       string
	ClientID     string
	OriginRegion string
	Token        uint64
	ExpiresAt    time.Time
	Decision     Decision
}

// CommitAck acknowledges a Commit. It carries no data; its only purpose
// is to give the RPC a typed reply.
type CommitAck struct{}

// Dialer opens a client connection to a region peer's quorum endpoint.
// Production code dials with grpc.NewClient against Peer.Addr using the
// gob codec registered in pkg/api; tests substitute an in-process fake.
type Dialer func(ctx context.Context, peer Peer) (Confirmer, error)

// Confirmer is the client-side RPC surface for one region peer.
type Confirmer interface {
	ProposeCrossRegion(ctx context.Context, p Proposal) (ProposalReply, error)
	ConfirmCrossRegion(ctx context.Context, c Commit) (CommitAck, error)
	Close() error
}

// Client proposes cross-region quorum confirmations to a fixed set of
// peer regions, including this region's own vote (it always counts as an
// implicit "yes" since the proposal originates from its own leader,
// which has already committed the lock locally via Raft).
type Client struct {
	selfRegionID string
	peers        []Peer
	dial         Dialer
	timeout      time.Duration
}

// NewClient builds a quorum client for selfRegionID with the given peer
// regions and dial function.
func NewClient(selfRegionID string, peers []Peer, dial Dialer, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Client{selfRegionID: selfRegionID, peers: peers, dial: dial, timeout: timeout}
}

// ProposeCrossRegion runs the full two-phase exchange: it fans the
// proposal out to every peer region concurrently, and once a strict
// majority (including this region's own implicit vote) has voted YES,
// fans out a COMMIT so every peer records lock_id as an advisory hold.
// If quorum is not reached, an ABORT is fanned out instead so any peer
// that already voted YES does not wrongly believe the lock landed.
func (c *Client) ProposeCrossRegion(lockID, clientID string, token uint64, expiresAt time.Time) (bool, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.QuorumProposalDuration)

	total := len(c.peers) + 1
	majority := total/2 + 1

	if len(c.peers) == 0 {
		metrics.QuorumProposalsTotal.WithLabelValues("trivial").Inc()
		return true, nil
	}

	p := Proposal{LockID: lockID, ClientID: clientID, OriginRegion: c.selfRegionID, Token: token, ExpiresAt: expiresAt}

	var mu sync.Mutex
	accepted := 1 // this region's own vote
	var wg sync.WaitGroup

	for _, peer := range c.peers {
		wg.Add(1)
		go func(peer Peer) {
			defer wg.Done()

			ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
			defer cancel()

			reply, err := c.proposeOne(ctx, peer, p)
			if err != nil {
				log.WithComponent("region").Warn(fmt.Sprintf("quorum propose to %s failed: %v", peer.RegionID, err))
				return
			}
			if reply.Vote == VoteYes {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}(peer)
	}
	wg.Wait()

	ok := accepted >= majority
	if ok {
		metrics.QuorumProposalsTotal.WithLabelValues("accepted").Inc()
	} else {
		metrics.QuorumProposalsTotal.WithLabelValues("rejected").Inc()
	}

	decision := DecisionAbort
	if ok {
		decision = DecisionCommit
	}
	c.fanOutCommit(Commit{
		LockID: lockID, ClientID: clientID, OriginRegion: c.selfRegionID,
		Token: token, ExpiresAt: expiresAt, Decision: decision,
	})

	return ok, nil
}

// ReleaseCrossRegion best-effort notifies every peer region that lock_id
// was released locally, so they can drop their advisory record instead
// of waiting for it to expire. Failures are logged, never surfaced — the
// lock is already free in this region regardless.
func (c *Client) ReleaseCrossRegion(lockID string, token uint64) {
	if len(c.peers) == 0 {
		return
	}
	c.fanOutCommit(Commit{LockID: lockID, OriginRegion: c.selfRegionID, Token: token, Decision: DecisionAbort})
}

func (c *Client) fanOutCommit(commit Commit) {
	for _, peer := range c.peers {
		go func(peer Peer) {
			ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
			defer cancel()

			conn, err := c.dial(ctx, peer)
			if err != nil {
				log.WithComponent("region").Warn(fmt.Sprintf("quorum confirm dial %s failed: %v", peer.RegionID, err))
				return
			}
			defer conn.Close()

			if _, err := conn.ConfirmCrossRegion(ctx, commit); err != nil {
				log.WithComponent("region").Warn(fmt.Sprintf("quorum confirm to %s failed: %v", peer.RegionID, err))
			}
		}(peer)
	}
}

func (c *Client) proposeOne(ctx context.Context, peer Peer, p Proposal) (ProposalReply, error) {
	conn, err := c.dial(ctx, peer)
	if err != nil {
		return ProposalReply{}, err
	}
	defer conn.Close()
	return conn.ProposeCrossRegion(ctx, p)
}

// GRPCDialer is the production Dialer: it dials peer.Addr over a plain
// (non-TLS) gRPC connection using the gob wire codec registered by
// pkg/api, and wraps it in a confirmerClient.
func GRPCDialer(ctx context.Context, peer Peer) (Confirmer, error) {
	conn, err := grpc.NewClient(peer.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dial region peer %s: %w", peer.RegionID, err)
	}
	return &confirmerClient{conn: conn}, nil
}

type confirmerClient struct {
	conn *grpc.ClientConn
}

func (c *confirmerClient) ProposeCrossRegion(ctx context.Context, p Proposal) (ProposalReply, error) {
	var reply ProposalReply
	err := c.conn.Invoke(ctx, "/lockring.Region/ProposeCrossRegion", &p, &reply, grpc.CallContentSubtype("gob"))
	return reply, err
}

func (c *confirmerClient) ConfirmCrossRegion(ctx context.Context, commit Commit) (CommitAck, error) {
	var ack CommitAck
	err := c.conn.Invoke(ctx, "/lockring.Region/ConfirmCrossRegion", &commit, &ack, grpc.CallContentSubtype("gob"))
	return ack, err
}

func (c *confirmerClient) Close() error {
	return c.conn.Close()
}
