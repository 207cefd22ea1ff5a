package api

import (
	"context"
	"strings"

	"github.com/cuemby/lockring/pkg/log"
	"github.com/cuemby/lockring/pkg/metrics"
	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

type requestIDKey struct{}

// MetricsInterceptor tags every unary call with a request id and records
// its outcome and duration into APIRequestsTotal/APIRequestDuration — the
// two metrics the teacher's catalog defined but never wired up anywhere.
func MetricsInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		method := methodName(info.FullMethod)
		reqID := uuid.New().String()
		ctx = context.WithValue(ctx, requestIDKey{}, reqID)

		timer := metrics.NewTimer()
		resp, err := handler(ctx, req)
		timer.ObserveDurationVec(metrics.APIRequestDuration, method)

		statusLabel := "ok"
		if err != nil {
			statusLabel = status.Code(err).String()
		}
		metrics.APIRequestsTotal.WithLabelValues(method, statusLabel).Inc()

		if err != nil {
			log.Logger.Error().Str("request_id", reqID).Str("method", method).Err(err).Msg("rpc failed")
		}
		return resp, err
	}
}

func methodName(fullMethod string) string {
	parts := strings.Split(fullMethod, "/")
	if len(parts) < 2 {
		return fullMethod
	}
	return parts[len(parts)-1]
}

// requestIDFromContext reads the request id set by MetricsInterceptor, if
// any.
func requestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
