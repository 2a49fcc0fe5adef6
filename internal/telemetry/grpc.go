package telemetry

import (
	"context"
	stderrors "errors"
	"log/slog"

	"github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/logging"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"

	"github.com/victornm/livequiz/internal/errors"
)

func GRPCServerInterceptor() grpc.ServerOption {
	opts := []logging.Option{
		logging.WithLogOnEvents(logging.StartCall, logging.FinishCall),
	}

	return grpc.ChainUnaryInterceptor(
		logging.UnaryServerInterceptor(grpcServerLogger(slog.Default()), opts...),
		grpcErrorInterceptor,
	)
}

// grpcErrorInterceptor turns handler errors into coded statuses. Errors without a code are
// reported as internal and their cause is only logged.
func grpcErrorInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	resp, err := handler(ctx, req)
	if err == nil {
		return resp, nil
	}

	var e *errors.Error
	if !stderrors.As(err, &e) {
		if _, ok := status.FromError(err); ok {
			return nil, err
		}
		e = errors.Internal(err)
		slog.ErrorContext(ctx, "grpc: call failed", "method", info.FullMethod, "error", err)
	}
	return nil, e.GRPCStatus().Err()
}

func grpcServerLogger(l *slog.Logger) logging.Logger {
	return logging.LoggerFunc(func(ctx context.Context, lvl logging.Level, msg string, fields ...any) {
		l.Log(ctx, slog.Level(lvl), msg, fields...)
	})
}
