package api

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/cuemby/lockring/pkg/lockservice"
	"github.com/cuemby/lockring/pkg/log"
	"github.com/cuemby/lockring/pkg/region"
	"github.com/cuemby/lockring/pkg/types"
	"google.golang.org/grpc"
)

// Server is the gRPC front door onto a lockservice.Service. It also
// answers ProposeCrossRegion/ConfirmCrossRegion on behalf of the local
// node's region, for peer regions running their own cross-region quorum.
type Server struct {
	service      *lockservice.Service
	store        lockStoreChecker
	advisory     *region.AdvisoryStore
	selfRegionID string
	grpc         *grpc.Server
	lis          net.Listener
}

// lockStoreChecker is the narrow slice of lockstore.Store that
// ProposeCrossRegion needs to vote on a peer's proposal.
type lockStoreChecker interface {
	Check(lockID string, now time.Time) (bool, *types.Lock)
}

// NewServer builds a Server around service, registering the lock
// service and the region quorum endpoints. advisory may be nil for a
// single-region deployment with no cross-region RPCs to answer.
func NewServer(service *lockservice.Service, store lockStoreChecker, advisory *region.AdvisoryStore, selfRegionID string) *Server {
	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(MetricsInterceptor()))
	s := &Server{service: service, store: store, advisory: advisory, selfRegionID: selfRegionID, grpc: grpcServer}
	grpcServer.RegisterService(&lockServiceDesc, s)
	grpcServer.RegisterService(&regionServiceDesc, s)
	return s
}

// Start listens on addr and blocks serving gRPC until Stop is called.
func (s *Server) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	s.lis = lis
	log.Logger.Info().Str("addr", addr).Msg("lock service gRPC listening")
	return s.grpc.Serve(lis)
}

// Stop gracefully stops the gRPC server.
func (s *Server) Stop() {
	s.grpc.GracefulStop()
}

// AcquireLock is the gRPC handler for AcquireLock.
func (s *Server) AcquireLock(ctx context.Context, req *AcquireLockRequest) (*AcquireLockReply, error) {
	resp := s.service.AcquireLock(types.AcquireRequest{
		LockID: req.LockID, ClientID: req.ClientID, TimeoutMs: req.TimeoutMs,
	})
	return toAcquireReply(resp), nil
}

// ReleaseLock is the gRPC handler for ReleaseLock.
func (s *Server) ReleaseLock(ctx context.Context, req *ReleaseLockRequest) (*ReleaseLockReply, error) {
	resp := s.service.ReleaseLock(types.ReleaseRequest{
		LockID: req.LockID, ClientID: req.ClientID, Token: req.Token,
	})
	return toReleaseReply(resp), nil
}

// CheckLock is the gRPC handler for CheckLock.
func (s *Server) CheckLock(ctx context.Context, req *CheckLockRequest) (*CheckLockReply, error) {
	resp := s.service.CheckLock(types.CheckRequest{LockID: req.LockID})
	return toCheckReply(resp), nil
}

// ProposeCrossRegion votes on a peer region's cross-region quorum
// proposal (phase one). It votes YES unless this region's own
// authoritative lock store, or an existing advisory record, already
// reflects a different holder for lock_id; the same origin_region and
// client_id as the existing holder is treated as re-entrant and always
// gets YES.
func (s *Server) ProposeCrossRegion(ctx context.Context, p *region.Proposal) (*region.ProposalReply, error) {
	now := time.Now()

	if held, lock := s.store.Check(p.LockID, now); held {
		if lock.ClientID == p.ClientID && lock.RegionID == p.OriginRegion {
			return &region.ProposalReply{Vote: region.VoteYes}, nil
		}
		return &region.ProposalReply{Vote: region.VoteConflict, KnownHolder: lock.ClientID}, nil
	}

	if s.advisory != nil {
		if held, clientID, regionID := s.advisory.Held(p.LockID, now); held {
			if clientID == p.ClientID && regionID == p.OriginRegion {
				return &region.ProposalReply{Vote: region.VoteYes}, nil
			}
			return &region.ProposalReply{Vote: region.VoteNo, KnownHolder: clientID}, nil
		}
	}

	return &region.ProposalReply{Vote: region.VoteYes}, nil
}

// ConfirmCrossRegion applies the proposer's final decision (phase two).
// On DecisionCommit it records lock_id as an advisory hold so a future
// local AcquireLock in this region is rejected with ALREADY_LOCKED; on
// DecisionAbort it discards any such record.
func (s *Server) ConfirmCrossRegion(ctx context.Context, c *region.Commit) (*region.CommitAck, error) {
	if s.advisory == nil {
		return &region.CommitAck{}, nil
	}
	switch c.Decision {
	case region.DecisionCommit:
		s.advisory.Record(c.LockID, c.ClientID, c.OriginRegion, c.ExpiresAt)
	case region.DecisionAbort:
		s.advisory.Clear(c.LockID)
	}
	return &region.CommitAck{}, nil
}

// lockServiceDesc is a hand-written grpc.ServiceDesc, standing in for
// what protoc-gen-go-grpc would otherwise generate from a .proto file.
// Handlers decode with the gob codec registered in codec.go.
var lockServiceDesc = grpc.ServiceDesc{
	ServiceName: "lockring.LockService",
	HandlerType: (*Server)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "AcquireLock",
			Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
				req := new(AcquireLockRequest)
				if err := dec(req); err != nil {
					return nil, err
				}
				if interceptor == nil {
					return srv.(*Server).AcquireLock(ctx, req)
				}
				info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/lockring.LockService/AcquireLock"}
				handler := func(ctx context.Context, req interface{}) (interface{}, error) {
					return srv.(*Server).AcquireLock(ctx, req.(*AcquireLockRequest))
				}
				return interceptor(ctx, req, info, handler)
			},
		},
		{
			MethodName: "ReleaseLock",
			Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
				req := new(ReleaseLockRequest)
				if err := dec(req); err != nil {
					return nil, err
				}
				if interceptor == nil {
					return srv.(*Server).ReleaseLock(ctx, req)
				}
				info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/lockring.LockService/ReleaseLock"}
				handler := func(ctx context.Context, req interface{}) (interface{}, error) {
					return srv.(*Server).ReleaseLock(ctx, req.(*ReleaseLockRequest))
				}
				return interceptor(ctx, req, info, handler)
			},
		},
		{
			MethodName: "CheckLock",
			Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
				req := new(CheckLockRequest)
				if err := dec(req); err != nil {
					return nil, err
				}
				if interceptor == nil {
					return srv.(*Server).CheckLock(ctx, req)
				}
				info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/lockring.LockService/CheckLock"}
				handler := func(ctx context.Context, req interface{}) (interface{}, error) {
					return srv.(*Server).CheckLock(ctx, req.(*CheckLockRequest))
				}
				return interceptor(ctx, req, info, handler)
			},
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "lockring/lockservice.proto",
}

// regionServiceDesc exposes ProposeCrossRegion/ConfirmCrossRegion, the
// two-phase RPC surface a peer region's pkg/region.confirmerClient
// dials into.
var regionServiceDesc = grpc.ServiceDesc{
	ServiceName: "lockring.Region",
	HandlerType: (*Server)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "ProposeCrossRegion",
			Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
				req := new(region.Proposal)
				if err := dec(req); err != nil {
					return nil, err
				}
				if interceptor == nil {
					return srv.(*Server).ProposeCrossRegion(ctx, req)
				}
				info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/lockring.Region/ProposeCrossRegion"}
				handler := func(ctx context.Context, req interface{}) (interface{}, error) {
					return srv.(*Server).ProposeCrossRegion(ctx, req.(*region.Proposal))
				}
				return interceptor(ctx, req, info, handler)
			},
		},
		{
			MethodName: "ConfirmCrossRegion",
			Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
				req := new(region.Commit)
				if err := dec(req); err != nil {
					return nil, err
				}
				if interceptor == nil {
					return srv.(*Server).ConfirmCrossRegion(ctx, req)
				}
				info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/lockring.Region/ConfirmCrossRegion"}
				handler := func(ctx context.Context, req interface{}) (interface{}, error) {
					return srv.(*Server).ConfirmCrossRegion(ctx, req.(*region.Commit))
				}
				return interceptor(ctx, req, info, handler)
			},
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "lockring/region.proto",
}
