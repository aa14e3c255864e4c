package server

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/joseph-ayodele/ticket-tracker/internal/common"
)

const requestIDHeader = "x-request-id"

// UnaryInterceptor tags each call with a request id, logs it, and maps
// application errors onto gRPC status codes.
func UnaryInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		reqID := ""
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if v := md.Get(requestIDHeader); len(v) > 0 {
				reqID = v[0]
			}
		}
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx = common.WithRequestID(ctx, reqID)
		_ = grpc.SetHeader(ctx, metadata.Pairs(requestIDHeader, reqID))

		start := time.Now()
		resp, err := handler(ctx, req)
		err = common.ToStatus(err)

		fields := []zap.Field{
			zap.String("method", info.FullMethod),
			zap.String("request_id", reqID),
			zap.Duration("took", time.Since(start)),
		}
		if err != nil {
			st := status.Convert(err)
			fields = append(fields, zap.String("code", st.Code().String()), zap.String("error", st.Message()))
			logger.Warn("grpc call failed", fields...)
			return nil, err
		}
		logger.Info("grpc call", fields...)
		return resp, nil
	}
}
