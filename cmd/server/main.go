// Command lotus-server starts the student admin gRPC server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/and161185/lotus-core/internal/config"
	"github.com/and161185/lotus-core/internal/crypto"
	"github.com/and161185/lotus-core/internal/dedup"
	"github.com/and161185/lotus-core/internal/migrate"
	"github.com/and161185/lotus-core/internal/projection"
	"github.com/and161185/lotus-core/internal/repository"
	"github.com/and161185/lotus-core/internal/repository/memory"
	"github.com/and161185/lotus-core/internal/repository/postgres"
	"github.com/and161185/lotus-core/internal/search"
	grpcserver "github.com/and161185/lotus-core/internal/server/grpc"
	"github.com/and161185/lotus-core/internal/service"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

// main loads configuration, opens the stores and serves gRPC until signaled.
func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	cfg.RegisterFlags(flag.CommandLine)
	flag.Parse()

	logger, _ := zap.NewProduction()
	defer func() { _ = logger.Sync() }()
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("addr", cfg.Addr),
		zap.String("store", cfg.Store),
	)

	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid config", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server error", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

type stores struct {
	log   repository.EventLog
	table repository.StudentStore
	close func()
}

func openStores(ctx context.Context, cfg config.Config, logger *zap.Logger) (stores, error) {
	if cfg.Store == config.StoreMemory {
		logger.Warn("using in-memory event log; state is lost on restart")
		return stores{log: memory.NewEventLog(), table: memory.NewStudentStore(), close: func() {}}, nil
	}
	if cfg.Migrate {
		if err := migrate.Up(ctx, cfg.DSN); err != nil {
			return stores{}, fmt.Errorf("migrate up: %w", err)
		}
	}
	db, err := postgres.New(ctx, cfg.DSN)
	if err != nil {
		return stores{}, err
	}
	return stores{log: postgres.NewEventLog(db), table: postgres.NewStudentStore(db), close: db.Close}, nil
}

func openDeduper(ctx context.Context, cfg config.Config) (dedup.Deduper, func(), error) {
	if cfg.RedisAddr == "" {
		return dedup.NewMemory(cfg.IdempotencyTTL), func() {}, nil
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("redis ping: %w", err)
	}
	return dedup.NewRedis(client, cfg.IdempotencyTTL), func() { _ = client.Close() }, nil
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.close()

	idx, err := search.Open(ctx, cfg.SearchPath)
	if err != nil {
		return err
	}
	defer func() { _ = idx.Close() }()

	dd, closeDedup, err := openDeduper(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeDedup()

	engine := projection.New(st.log, logger,
		projection.Config{MaxRetries: cfg.ProjectionRetries, Backoff: cfg.ProjectionBackoff},
		st.table, idx,
	)
	defer engine.Close()

	// Sinks may lag the log after a crash or restart with a fresh index.
	if gaps, err := engine.Reconcile(ctx); err != nil {
		logger.Warn("startup reconcile", zap.Error(err))
	} else if len(gaps) > 0 {
		logger.Info("startup reconcile repaired gaps", zap.Int("gaps", len(gaps)))
	}
	go reconcileLoop(ctx, engine, cfg.ReconcileInterval, logger)

	hasher := crypto.NewHasher(crypto.DefaultParams)
	opts := []service.RouterOption{service.WithDeduper(dd), service.WithSealer(hasher.Seal)}
	if cfg.SnapshotCache > 0 {
		opts = append(opts, service.WithSnapshotCache(service.NewSnapshotCache(cfg.SnapshotCache)))
	}
	router := service.NewCommandRouter(st.log, engine, logger, opts...)
	queries := service.NewQueryService(st.table, idx)

	serverOpts := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(
			grpcserver.RecoverUnary(logger),
			grpcserver.LoggingUnary(logger),
			grpcserver.TenantUnary(&grpcserver.TenantResolver{
				SignKey:    []byte(cfg.JWTKey),
				BaseDomain: cfg.BaseDomain,
			}, logger),
		),
	}
	if cfg.TLSCert != "" {
		creds, err := credentials.NewServerTLSFromFile(cfg.TLSCert, cfg.TLSKey)
		if err != nil {
			return fmt.Errorf("load TLS cert/key: %w", err)
		}
		serverOpts = append(serverOpts, grpc.Creds(creds))
	} else {
		logger.Warn("TLS disabled; serving plaintext gRPC")
	}
	s := grpc.NewServer(serverOpts...)
	grpcserver.RegisterStudentAdminServer(s, grpcserver.New(router, queries, engine, logger))

	hs := health.NewServer()
	healthpb.RegisterHealthServer(s, hs)
	if cfg.Dev {
		reflection.Register(s)
	}

	lis, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.Addr), zap.Bool("tls", cfg.TLSCert != ""))
		errCh <- s.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		hs.Shutdown()
		done := make(chan struct{})
		go func() {
			s.GracefulStop()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(cfg.ShutdownTimeout):
			s.Stop()
		}
	case err := <-errCh:
		if err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return err
		}
	}

	// Drain published events before the sinks close.
	flushCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := engine.Flush(flushCtx); err != nil {
		logger.Warn("projection flush on shutdown", zap.Error(err))
	}
	return nil
}

func reconcileLoop(ctx context.Context, engine *projection.Engine, every time.Duration, logger *zap.Logger) {
	if every <= 0 {
		return
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			gaps, err := engine.Reconcile(ctx)
			if err != nil && ctx.Err() == nil {
				logger.Warn("reconcile", zap.Error(err))
				continue
			}
			if len(gaps) > 0 {
				logger.Info("reconcile repaired gaps", zap.Int("gaps", len(gaps)))
			}
		}
	}
}
