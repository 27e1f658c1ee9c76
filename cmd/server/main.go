package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/rl1809/pos-engine/internal/adapter/handler"
	"github.com/rl1809/pos-engine/internal/adapter/notify"
	"github.com/rl1809/pos-engine/internal/adapter/storage"
	"github.com/rl1809/pos-engine/internal/config"
	"github.com/rl1809/pos-engine/internal/core/domain"
	"github.com/rl1809/pos-engine/internal/core/service"
	"github.com/rl1809/pos-engine/internal/platform/observability"
	"github.com/rl1809/pos-engine/internal/port"
)

// store is what the engine needs from a backing store.
type store interface {
	port.OrderRepository
	port.InventoryRepository
	port.Catalog
	port.StaffDirectory
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel, cfg.IsProduction())
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := observability.SetupTracing(ctx, cfg.OTelEndpoint)
	if err != nil {
		logger.Error("tracing disabled", zap.Error(err))
		shutdownTracing = func(context.Context) error { return nil }
	}

	// Store
	var st store
	var db *sql.DB
	switch cfg.StoreDriver {
	case config.StoreMySQL:
		db, err = sql.Open("mysql", cfg.MySQLDSN)
		if err != nil {
			logger.Fatal("failed to connect mysql", zap.Error(err))
		}
		db.SetMaxOpenConns(50)
		db.SetMaxIdleConns(25)
		db.SetConnMaxLifetime(5 * time.Minute)
		if err := db.PingContext(ctx); err != nil {
			logger.Fatal("failed to ping mysql", zap.Error(err))
		}
		logger.Info("connected to mysql")
		st = storage.NewMySQLAdapter(db)
	case config.StoreMemory:
		mem := storage.NewMemoryStore()
		seedDemo(mem)
		logger.Warn("using in-memory store, data is lost on exit")
		st = mem
	}

	// Redis
	var rdb *redis.Client
	var redisAdapter *storage.RedisAdapter
	var idempotency port.IdempotencyCache = storage.NewMemoryIdempotency()
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			PoolSize: 100,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Fatal("failed to connect redis", zap.Error(err))
		}
		logger.Info("connected to redis")
		redisAdapter = storage.NewRedisAdapter(rdb, cfg.IdempotencyTTL)
		idempotency = redisAdapter
	}

	var allocator service.OrderNumberAllocator = service.NewStoreSequenceAllocator()
	if cfg.OrderSequence == config.SequenceRedis {
		allocator = service.NewCounterAllocator(redisAdapter)
	}

	// Notifications
	hub := notify.NewHub(originChecker(cfg.CORSAllowedOrigins), logger)
	sinks := []port.NotificationSink{hub}
	var kafkaSink *notify.KafkaSink
	if len(cfg.KafkaBrokers) > 0 {
		kafkaSink = notify.NewKafkaSink(notify.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaNotifyTopic))
		sinks = append(sinks, kafkaSink)
		logger.Info("kafka notifications enabled", zap.Strings("brokers", cfg.KafkaBrokers), zap.String("topic", cfg.KafkaNotifyTopic))
	}
	dispatcher := service.NewDispatcher(st, notify.NewMultiSink(sinks...), cfg.NotifyQueueSize, logger)

	dispatcherDone := make(chan struct{})
	go func() {
		defer close(dispatcherDone)
		dispatcher.Run(ctx, cfg.NotifyWorkers)
	}()
	logger.Info("started notification workers", zap.Int("workers", cfg.NotifyWorkers))

	// Services
	opts := []service.Option{
		service.WithLogger(logger),
		service.WithLocation(cfg.Timezone),
		service.WithIdempotency(idempotency),
	}
	orders := service.NewOrderService(st, st, allocator, dispatcher, opts...)
	svc := handler.Services{
		Orders:    orders,
		Payments:  service.NewPaymentService(orders, opts...),
		Inventory: service.NewInventoryService(st, opts...),
	}
	auth := handler.NewAuthenticator(cfg.JWTSecret)

	// gRPC server
	grpcServer := grpc.NewServer()
	handler.RegisterOrderEngineServer(grpcServer, handler.NewGRPCHandler(svc, auth, logger))

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		logger.Fatal("failed to listen", zap.Error(err))
	}

	go func() {
		logger.Info("gRPC server listening", zap.String("addr", cfg.GRPCAddr))
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error("gRPC server error", zap.Error(err))
		}
	}()

	// HTTP server
	httpHandler := handler.NewHTTPHandler(svc, auth, hub, cfg.Timezone, logger)
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpHandler.Router(cfg.CORSAllowedOrigins),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("HTTP server listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	httpServer.Shutdown(shutdownCtx)
	hub.Close()
	logger.Info("HTTP server stopped")

	grpcServer.GracefulStop()
	logger.Info("gRPC server stopped")

	// No request can publish any more; let the workers drain the queue.
	dispatcher.Close()
	select {
	case <-dispatcherDone:
		logger.Info("notification workers stopped")
	case <-shutdownCtx.Done():
		cancel()
		<-dispatcherDone
		logger.Warn("notification queue not drained before deadline")
	}

	if kafkaSink != nil {
		if err := kafkaSink.Close(); err != nil {
			logger.Error("failed to close kafka writer", zap.Error(err))
		}
	}
	if rdb != nil {
		rdb.Close()
	}
	if db != nil {
		db.Close()
	}
	if err := shutdownTracing(context.Background()); err != nil {
		logger.Error("failed to flush traces", zap.Error(err))
	}
	logger.Info("connections closed")
}

func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || slices.Contains(allowed, "*") || slices.Contains(allowed, origin)
	}
}

// seedDemo gives the in-memory store a small menu and staff list so the API
// is usable without a database.
func seedDemo(mem *storage.MemoryStore) {
	mem.PutMenuItem(domain.MenuItem{ID: 1, RestaurantID: 1, Name: "Nasi Goreng", Price: decimal.NewFromInt(25000), IsAvailable: true})
	mem.PutMenuItem(domain.MenuItem{ID: 2, RestaurantID: 1, Name: "Mie Ayam", Price: decimal.NewFromInt(20000), IsAvailable: true})
	mem.PutMenuItem(domain.MenuItem{ID: 3, RestaurantID: 1, Name: "Es Teh", Price: decimal.NewFromInt(10000), IsAvailable: true})
	mem.AddStaff(1, 2, domain.RoleWaiter, true)
	mem.AddStaff(1, 3, domain.RoleKitchen, true)
}
