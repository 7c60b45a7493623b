// Package errmap maps gateway errors onto wire protocols: HTTP statuses for
// rejected upgrades, WebSocket close codes for terminated sessions, and gRPC
// status codes for the admin port.
package errmap

import (
	"context"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/aelexs/connection-gateway/internal/domain"
)

// grpcMappings maps gateway errors to gRPC status codes.
// Order matters: first match wins (via errors.Is).
var grpcMappings = []struct {
	err  error
	code codes.Code
}{
	{domain.ErrConnectionNotFound, codes.NotFound},
	{domain.ErrAlreadyAttached, codes.AlreadyExists},
	{domain.ErrOriginNotAllowed, codes.PermissionDenied},
	{domain.ErrInvalidInput, codes.InvalidArgument},
	{domain.ErrMessageTooLarge, codes.InvalidArgument},
	{domain.ErrEmptyID, codes.InvalidArgument},
	{domain.ErrInvalidID, codes.InvalidArgument},
	{domain.ErrConnectionClosed, codes.FailedPrecondition},
	{domain.ErrRateLimited, codes.ResourceExhausted},
	{domain.ErrSlowConsumer, codes.ResourceExhausted},
	{domain.ErrShuttingDown, codes.Unavailable},
	{domain.ErrUnavailable, codes.Unavailable},
}

// ToGRPCStatus converts a gateway error to a gRPC status.
func ToGRPCStatus(err error) *status.Status {
	if err == nil {
		return status.New(codes.OK, "")
	}
	if st, ok := status.FromError(err); ok {
		return st
	}
	for _, m := range grpcMappings {
		if errors.Is(err, m.err) {
			return status.New(m.code, err.Error())
		}
	}
	// Never expose internal error details to clients
	return status.New(codes.Internal, "internal error")
}

// ToGRPCError converts a gateway error to a gRPC error.
func ToGRPCError(err error) error {
	return ToGRPCStatus(err).Err()
}

// FromGRPCError extracts the gRPC status code from an error.
// Returns codes.Unknown if the error is not a gRPC status error.
func FromGRPCError(err error) codes.Code {
	if err == nil {
		return codes.OK
	}
	if st, ok := status.FromError(err); ok {
		return st.Code()
	}
	return codes.Unknown
}

// UnaryServerInterceptor translates handler errors into gRPC statuses so
// services registered on the admin port never leak raw error strings.
func UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		resp, err := handler(ctx, req)
		if err != nil {
			return resp, ToGRPCError(err)
		}
		return resp, nil
	}
}
