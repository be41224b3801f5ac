// internal/service/inventory/application/query_service.go
package application

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"serialstock/internal/service/inventory/domain"
)

// QueryService 提供只读查询：可用量和审计轨迹。
// 可用量永远来自即时查询，不走进程内缓存，避免旧读导致的错配。
type QueryService struct {
	units  domain.UnitRepository
	audits domain.AuditRepository
	tracer trace.Tracer
}

// NewQueryService 创建只读查询服务
func NewQueryService(units domain.UnitRepository, audits domain.AuditRepository, tracer trace.Tracer) *QueryService {
	return &QueryService{units: units, audits: audits, tracer: tracer}
}

// AvailableCount 返回某变体当前的 AVAILABLE 单元数
func (s *QueryService) AvailableCount(ctx context.Context, variantID uint64) (int, error) {
	ctx, span := s.tracer.Start(ctx, "inventory.AvailableCount", trace.WithAttributes(
		attribute.Int64("variant.id", int64(variantID)),
	))
	defer span.End()
	return s.units.CountAvailable(ctx, variantID)
}

// AuditTrail 按时间升序返回某单元的完整历史
func (s *QueryService) AuditTrail(ctx context.Context, unitID uint64) ([]*domain.AuditEntry, error) {
	ctx, span := s.tracer.Start(ctx, "inventory.AuditTrail", trace.WithAttributes(
		attribute.Int64("unit.id", int64(unitID)),
	))
	defer span.End()
	return s.audits.FindByUnit(ctx, unitID)
}
