package grpcapi

import (
	"context"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"chatarra.io/internal/auth"
)

const publicPrefix = "/grpc.health.v1.Health/"

func isPublic(fullMethod string) bool {
	return strings.HasPrefix(fullMethod, publicPrefix)
}

// UnaryAuth attaches the caller's principal to the context or fails with
// Unauthenticated.
func UnaryAuth(authn Authenticator) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if isPublic(info.FullMethod) {
			return handler(ctx, req)
		}
		ctx, err := authenticate(ctx, authn)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// StreamAuth is UnaryAuth for streaming calls.
func StreamAuth(authn Authenticator) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if isPublic(info.FullMethod) {
			return handler(srv, ss)
		}
		ctx, err := authenticate(ss.Context(), authn)
		if err != nil {
			return err
		}
		return handler(srv, &wrappedStream{ServerStream: ss, ctx: ctx})
	}
}

// RequirePermission returns PermissionDenied unless the principal in ctx
// holds key.
func RequirePermission(ctx context.Context, key string) error {
	p, ok := auth.PrincipalFromContext(ctx)
	if !ok {
		return status.Error(codes.Unauthenticated, "authentication required")
	}
	if !p.HasPermission(key) {
		return status.Error(codes.PermissionDenied, "forbidden")
	}
	return nil
}

func authenticate(ctx context.Context, authn Authenticator) (context.Context, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	values := md.Get("authorization")
	if len(values) == 0 {
		return nil, status.Error(codes.Unauthenticated, "missing bearer token")
	}
	header := strings.TrimSpace(values[0])
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return nil, status.Error(codes.Unauthenticated, "invalid authorization scheme")
	}
	token := strings.TrimSpace(header[7:])
	if token == "" {
		return nil, status.Error(codes.Unauthenticated, "missing bearer token")
	}
	p, err := authn.Authenticate(ctx, token)
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, "invalid token")
	}
	return auth.ContextWithPrincipal(ctx, p), nil
}

type wrappedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (w *wrappedStream) Context() context.Context { return w.ctx }
