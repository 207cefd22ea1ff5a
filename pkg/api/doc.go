/*
Package api exposes lockring's lock service as a gRPC server.

Server wraps a pkg/lockservice.Service and handles AcquireLock,
ReleaseLock, and CheckLock over a hand-written grpc.ServiceDesc (no
protoc in the build), plus ProposeCrossRegion and ConfirmCrossRegion so
peer regions can run the two-phase cross-region quorum protocol against
this region's leader. Messages are plain Go structs
(messages.go) carried by a gob encoding.Codec (codec.go) rather than
generated protobuf marshal code. MetricsInterceptor tags every call
with a request ID and records Prometheus counters/histograms.
HealthServer answers liveness/readiness over plain HTTP for external
orchestration.
*/
package api
