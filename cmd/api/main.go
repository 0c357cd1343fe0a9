package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"chatarra.io/internal/audit"
	"chatarra.io/internal/auth"
	"chatarra.io/internal/config"
	"chatarra.io/internal/grpcapi"
	"chatarra.io/internal/httpapi"
	"chatarra.io/internal/obs"
	"chatarra.io/internal/store/memory"
	"chatarra.io/internal/store/pg"
	"chatarra.io/internal/throttle"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

const serviceName = "chatarra-auth"

// backend is what both storage drivers provide.
type backend interface {
	auth.Store
	audit.Store
}

func main() {
	configPath := flag.String("config", os.Getenv("CHATARRA_CONFIG"), "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := obs.NewLogger(obs.LogConfig{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		Service:     serviceName,
		Environment: cfg.Environment,
	})
	if err != nil {
		log.Fatalf("build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()
	obs.SetLogger(logger)

	// Инициализация observability
	obs.Init()
	bi := obs.ReadBuildInfo(version, commit)
	obs.InitBuildInfo(bi)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := obs.InitTracing(ctx, obs.TracingConfig{
		Endpoint:    cfg.Tracing.Endpoint,
		Insecure:    cfg.Tracing.Insecure,
		SampleRatio: cfg.Tracing.SampleRatio,
		Service:     serviceName,
		Version:     version,
	})
	if err != nil {
		logger.Fatal("init tracing", zap.Error(err))
	}

	store, closeStore := openStore(cfg, logger)
	defer closeStore()

	limiter, closeLimiter := openLimiter(ctx, cfg, logger)
	defer closeLimiter()

	tokens, err := auth.NewTokenIssuer(cfg.Auth.Secret,
		auth.WithIssuer(cfg.Auth.Issuer),
		auth.WithSessionLifetime(cfg.Auth.SessionLifetime),
	)
	if err != nil {
		logger.Fatal("token issuer", zap.Error(err))
	}
	svc, err := auth.NewService(store, tokens,
		auth.WithPasswordHasher(auth.NewBcryptHasher(cfg.Auth.BcryptCost)),
		auth.WithLogger(logger.Named("auth")),
	)
	if err != nil {
		logger.Fatal("auth service", zap.Error(err))
	}
	recorder := audit.NewRecorder(store, audit.WithLogger(logger.Named("audit")))

	opts := []httpapi.Option{
		httpapi.WithLogger(logger.Named("http")),
		httpapi.WithVersion(version),
		httpapi.WithMaxBodyBytes(cfg.Server.MaxBodyBytes),
	}
	if limiter != nil {
		opts = append(opts, httpapi.WithLimiter(limiter))
	}
	api := httpapi.New(svc, recorder, opts...)

	srv := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("http listening", zap.String("addr", srv.Addr), zap.String("version", bi.Version), zap.String("commit", bi.Commit))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var grpcSrv *grpcapi.Server
	if cfg.Server.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
		if err != nil {
			logger.Fatal("grpc listen", zap.String("addr", cfg.Server.GRPCAddr), zap.Error(err))
		}
		grpcSrv = grpcapi.NewServer(svc, svc, grpcapi.WithLogger(logger.Named("grpc")))
		go grpcSrv.WatchReadiness(ctx, 5*time.Second)
		go func() {
			logger.Info("grpc listening", zap.String("addr", cfg.Server.GRPCAddr))
			if err := grpcSrv.Serve(lis); err != nil {
				errCh <- err
			}
		}()
	}

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		logger.Error("server failed", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	if grpcSrv != nil {
		grpcSrv.Stop()
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("tracing shutdown", zap.Error(err))
	}
	logger.Info("stopped")
}

func openStore(cfg *config.Config, logger *zap.Logger) (backend, func()) {
	switch cfg.Storage.Driver {
	case "memory":
		logger.Warn("using empty in-memory storage; logins fail until it is seeded and data is lost on restart")
		return memory.New(), func() {}
	default:
		s, err := pg.Open(cfg.Storage.DSN, pg.PoolConfig{
			MaxOpenConns:    cfg.Storage.MaxOpenConns,
			MaxIdleConns:    cfg.Storage.MaxIdleConns,
			ConnMaxLifetime: cfg.Storage.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.Storage.ConnMaxIdleTime,
		})
		if err != nil {
			logger.Fatal("open postgres", zap.Error(err))
		}
		return s, func() { _ = s.Close() }
	}
}

// openLimiter prefers the shared Redis limiter and falls back to the
// in-process one.
func openLimiter(ctx context.Context, cfg *config.Config, logger *zap.Logger) (throttle.Limiter, func()) {
	if !cfg.Throttle.Enabled {
		return nil, func() {}
	}
	client, err := throttle.OpenRedis(ctx, throttle.RedisOptions{
		URL:          cfg.Redis.URL,
		PoolSize:     cfg.Redis.PoolSize,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
	})
	if err != nil {
		logger.Warn("redis unavailable, using in-process login throttle", zap.Error(err))
	}
	if client != nil {
		return throttle.NewRedisLimiter(client, int64(cfg.Throttle.Burst), cfg.Throttle.Window), func() { _ = client.Close() }
	}
	return throttle.NewMemoryLimiter(cfg.Throttle.PerSecond, cfg.Throttle.Burst, cfg.Throttle.Window), func() {}
}
