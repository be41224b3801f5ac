// internal/pkg/logger/logger.go
package logger

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// Logger 是全局日志实例，Init 之前即可安全使用
var Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()

// Init 绑定服务名并设置全局日志级别
func Init(serviceName string) {
	zerolog.TimeFieldFormat = time.RFC3339
	level := zerolog.InfoLevel
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		if parsed, err := zerolog.ParseLevel(v); err == nil {
			level = parsed
		}
	}
	Logger = zerolog.New(os.Stdout).Level(level).With().
		Timestamp().
		Str("service", serviceName).
		Logger()
}

// Ctx 返回带当前 trace/span id 的子 logger，便于日志与链路互查
func Ctx(ctx context.Context) *zerolog.Logger {
	span := trace.SpanFromContext(ctx)
	if sc := span.SpanContext(); sc.IsValid() {
		l := Logger.With().
			Str("trace_id", sc.TraceID().String()).
			Str("span_id", sc.SpanID().String()).
			Logger()
		return &l
	}
	return &Logger
}
