package grpcapi

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"chatarra.io/internal/auth"
	"chatarra.io/internal/ids"
)

const bufSize = 1024 * 1024

type tokenAuth struct{ issuer *auth.TokenIssuer }

func (a tokenAuth) Authenticate(_ context.Context, token string) (auth.Principal, error) {
	claims, err := a.issuer.Validate(token)
	if err != nil {
		return auth.Principal{}, err
	}
	return auth.NewPrincipal(claims), nil
}

func newTokenAuth(t *testing.T) (tokenAuth, string) {
	t.Helper()
	issuer, err := auth.NewTokenIssuer("grpc-test-secret-grpc-test-secret!!")
	require.NoError(t, err)
	tok, err := issuer.Issue(auth.TokenRequest{
		SubjectID:   ids.NewString(),
		Username:    "admin",
		UserID:      ids.New(),
		TenantID:    ids.New(),
		Permissions: []string{"users.read"},
	})
	require.NoError(t, err)
	return tokenAuth{issuer: issuer}, tok.Token
}

type readiness struct{ fail atomic.Bool }

func (r *readiness) Ready(context.Context) error {
	if r.fail.Load() {
		return errors.New("db down")
	}
	return nil
}

func startBufGRPC(t *testing.T, srv *Server) *grpc.ClientConn {
	t.Helper()
	listener := bufconn.Listen(bufSize)
	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			t.Logf("grpc serve error: %v", err)
		}
	}()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(context.Context, string) (net.Conn, error) { return listener.Dial() }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = conn.Close()
		srv.Stop()
		_ = listener.Close()
	})
	return conn
}

func TestHealthFollowsReadiness(t *testing.T) {
	authn, _ := newTokenAuth(t)
	ready := &readiness{}
	srv := NewServer(authn, ready)
	conn := startBufGRPC(t, srv)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.WatchReadiness(ctx, 10*time.Millisecond)

	client := healthpb.NewHealthClient(conn)
	statusOf := func() healthpb.HealthCheckResponse_ServingStatus {
		resp, err := client.Check(context.Background(), &healthpb.HealthCheckRequest{Service: ServiceName})
		if err != nil {
			return healthpb.HealthCheckResponse_UNKNOWN
		}
		return resp.GetStatus()
	}

	require.Eventually(t, func() bool { return statusOf() == healthpb.HealthCheckResponse_SERVING }, 2*time.Second, 10*time.Millisecond)
	ready.fail.Store(true)
	require.Eventually(t, func() bool { return statusOf() == healthpb.HealthCheckResponse_NOT_SERVING }, 2*time.Second, 10*time.Millisecond)
}

func TestUnaryAuth(t *testing.T) {
	authn, token := newTokenAuth(t)
	interceptor := UnaryAuth(authn)
	info := &grpc.UnaryServerInfo{FullMethod: "/chatarra.v1.Users/List"}

	var got auth.Principal
	handler := func(ctx context.Context, _ any) (any, error) {
		p, ok := auth.PrincipalFromContext(ctx)
		require.True(t, ok)
		got = p
		return "ok", RequirePermission(ctx, "users.read")
	}

	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Bearer "+token))
	resp, err := interceptor(ctx, nil, info, handler)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp)
	assert.Equal(t, "admin", got.Username)

	for name, md := range map[string]metadata.MD{
		"missing": metadata.MD{},
		"scheme":  metadata.Pairs("authorization", "Basic abc"),
		"garbage": metadata.Pairs("authorization", "Bearer nope"),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := interceptor(metadata.NewIncomingContext(context.Background(), md), nil, info, handler)
			assert.Equal(t, codes.Unauthenticated, status.Code(err))
		})
	}
}

func TestUnaryAuthSkipsHealth(t *testing.T) {
	authn, _ := newTokenAuth(t)
	called := false
	_, err := UnaryAuth(authn)(context.Background(), nil,
		&grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"},
		func(context.Context, any) (any, error) { called = true; return nil, nil })
	require.NoError(t, err)
	assert.True(t, called)
}

type fakeStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (f fakeStream) Context() context.Context { return f.ctx }

func TestStreamAuthWrapsContext(t *testing.T) {
	authn, token := newTokenAuth(t)
	info := &grpc.StreamServerInfo{FullMethod: "/chatarra.v1.Audit/Tail"}
	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Bearer "+token))

	err := StreamAuth(authn)(nil, fakeStream{ctx: ctx}, info, func(_ any, ss grpc.ServerStream) error {
		return RequirePermission(ss.Context(), "audit.read")
	})
	assert.Equal(t, codes.PermissionDenied, status.Code(err))

	err = StreamAuth(authn)(nil, fakeStream{ctx: context.Background()}, info, func(any, grpc.ServerStream) error {
		t.Fatal("handler must not run")
		return nil
	})
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
}
