// cmd/inventory-service/main.go
package main

import (
	"context"

	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"serialstock/internal/pkg/bootstrap"
	"serialstock/internal/pkg/config"
	"serialstock/internal/pkg/logger"
	"serialstock/internal/pkg/mq"
	"serialstock/internal/pkg/redis"
	"serialstock/internal/service/inventory/application"
	"serialstock/internal/service/inventory/domain"
	"serialstock/internal/service/inventory/infrastructure"
	"serialstock/internal/service/inventory/infrastructure/adapter"
	"serialstock/internal/service/inventory/interfaces"
	"serialstock/internal/zookeeper"
)

const serviceName = "inventory-service"

func main() {
	logger.Init(serviceName)

	cfg, err := config.Load("")
	if err != nil {
		logger.Logger.Fatal().Err(err).Msg("failed to load config")
	}

	db, err := infrastructure.OpenMySQL(cfg.Infra.MySQL.DSN)
	if err != nil {
		logger.Logger.Fatal().Err(err).Msg("failed to open mysql")
	}
	units := infrastructure.NewGormUnitRepository(db)
	audits := infrastructure.NewGormAuditRepository(db)

	locker, cleanup := buildLocker(cfg)
	defer cleanup()

	policy, err := adapter.NewCelPolicyAdapter(cfg.Reservation.FallbackPolicy)
	if err != nil {
		logger.Logger.Fatal().Err(err).Msg("invalid fallback policy expression")
	}

	writer := mq.NewKafkaWriter(cfg.Infra.Kafka.Brokers, adapter.StockEventsTopic)
	events := adapter.NewStockKafkaAdapter(writer)
	defer events.Close()

	tracer := otel.Tracer(serviceName)
	reservations := application.NewReservationService(units, audits, locker, policy, events, tracer, cfg.Reservation.MaxRetries)
	fulfillment := application.NewFulfillmentService(units, audits, events, tracer, cfg.Reservation.MaxRetries)
	bulk := application.NewBulkService(units, audits, locker, events, tracer, cfg.Reservation.MaxRetries)
	queries := application.NewQueryService(units, audits, tracer)
	sweeper := application.NewExpirySweeper(units, audits, events, tracer, cfg.Reservation.Timeout)

	hub := interfaces.NewStockEventHub()
	handler := interfaces.NewStockHandler(reservations, fulfillment, bulk, queries)

	bootstrap.StartService(bootstrap.AppInfo{
		ServiceName: serviceName,
		RegisterHandlers: func(appCtx bootstrap.AppCtx) {
			handler.RegisterRoutes(appCtx.Mux)
			appCtx.Mux.HandleFunc("/ws/stock", hub.ServeWs)
		},
		Background: func(ctx context.Context) error {
			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				sweeper.Run(gctx, cfg.Sweeper.Interval)
				return nil
			})
			g.Go(func() error {
				hub.Run(gctx)
				return nil
			})
			g.Go(func() error {
				reader := mq.NewKafkaReader(cfg.Infra.Kafka.Brokers, adapter.StockEventsTopic, serviceName+"-ws-group")
				return hub.ConsumeEvents(gctx, reader)
			})
			return g.Wait()
		},
	})
}

// buildLocker 按配置选择锁实现：多实例部署必须用 zookeeper 或 redis
func buildLocker(cfg *config.Config) (domain.Locker, func()) {
	switch cfg.Reservation.Locker {
	case "zookeeper":
		conn, err := zookeeper.NewConn(cfg.Infra.Zookeeper.Servers, cfg.Infra.Zookeeper.SessionTimeout)
		if err != nil {
			logger.Logger.Fatal().Err(err).Msg("failed to connect to zookeeper")
		}
		return adapter.NewZkLocker(conn, cfg.Reservation.LockWait), conn.Close
	case "redis":
		client, err := redis.NewClient(context.Background(), cfg.Infra.Redis.Addr, cfg.Infra.Redis.Password, cfg.Infra.Redis.DB)
		if err != nil {
			logger.Logger.Fatal().Err(err).Msg("failed to connect to redis")
		}
		// 锁的 TTL 给到等待时长的三倍，临界区内过期会破坏互斥
		locker, err := adapter.NewRedisLocker(client, cfg.Reservation.LockWait*3, cfg.Reservation.LockWait)
		if err != nil {
			logger.Logger.Fatal().Err(err).Msg("failed to build redis locker")
		}
		return locker, func() { _ = client.Close() }
	default:
		logger.Logger.Warn().Str("locker", cfg.Reservation.Locker).Msg("using in-process locker, not safe for multi-instance deployments")
		return adapter.NewLocalLocker(), func() {}
	}
}
