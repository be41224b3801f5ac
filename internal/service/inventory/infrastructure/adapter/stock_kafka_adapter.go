// internal/service/inventory/infrastructure/adapter/stock_kafka_adapter.go
package adapter

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/segmentio/kafka-go"

	"serialstock/internal/pkg/mq"
	"serialstock/internal/service/inventory/domain"
)

// StockEventsTopic 是状态流转事件的广播主题
const StockEventsTopic = "stock-events-topic"

// StockKafkaAdapter 是 domain.EventPublisher 的 Kafka 实现。
// 以变体 id 作为分区键，同一变体的事件保序。
type StockKafkaAdapter struct {
	writer *kafka.Writer
}

// NewStockKafkaAdapter 创建事件发布适配器
func NewStockKafkaAdapter(writer *kafka.Writer) *StockKafkaAdapter {
	return &StockKafkaAdapter{writer: writer}
}

func (a *StockKafkaAdapter) Publish(ctx context.Context, event *domain.StockEvent) error {
	value, err := json.Marshal(event)
	if err != nil {
		return err
	}
	key := []byte(strconv.FormatUint(event.VariantID, 10))
	return mq.ProduceMessage(ctx, a.writer, key, value)
}

// Close 关闭底层 writer
func (a *StockKafkaAdapter) Close() error {
	return a.writer.Close()
}
