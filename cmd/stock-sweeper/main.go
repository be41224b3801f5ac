// cmd/stock-sweeper/main.go
package main

import (
	"context"
	"os/signal"
	"syscall"

	"go.opentelemetry.io/otel"

	"serialstock/internal/pkg/config"
	"serialstock/internal/pkg/logger"
	"serialstock/internal/pkg/mq"
	"serialstock/internal/service/inventory/application"
	"serialstock/internal/service/inventory/infrastructure"
	"serialstock/internal/service/inventory/infrastructure/adapter"
	"serialstock/internal/tracing"
)

const serviceName = "stock-sweeper"

// 独立清扫进程：把过期回收与请求流量隔离的部署形态。
// 与服务内嵌的清扫共用同一条释放路径，二者并发运行也是安全的。
func main() {
	logger.Init(serviceName)

	cfg, err := config.Load("")
	if err != nil {
		logger.Logger.Fatal().Err(err).Msg("failed to load config")
	}

	tp, err := tracing.InitTracerProvider(serviceName, cfg.Infra.Jaeger.Endpoint)
	if err != nil {
		logger.Logger.Fatal().Err(err).Msg("failed to initialize tracer provider")
	}
	defer func() {
		_ = tp.Shutdown(context.Background())
	}()

	db, err := infrastructure.OpenMySQL(cfg.Infra.MySQL.DSN)
	if err != nil {
		logger.Logger.Fatal().Err(err).Msg("failed to open mysql")
	}
	units := infrastructure.NewGormUnitRepository(db)
	audits := infrastructure.NewGormAuditRepository(db)

	writer := mq.NewKafkaWriter(cfg.Infra.Kafka.Brokers, adapter.StockEventsTopic)
	events := adapter.NewStockKafkaAdapter(writer)
	defer events.Close()

	sweeper := application.NewExpirySweeper(units, audits, events, otel.Tracer(serviceName), cfg.Reservation.Timeout)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	sweeper.Run(ctx, cfg.Sweeper.Interval)
}
