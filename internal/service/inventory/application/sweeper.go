// internal/service/inventory/application/sweeper.go
package application

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"serialstock/internal/pkg/logger"
	"serialstock/internal/pkg/metrics"
	"serialstock/internal/service/inventory/domain"
)

// ExpirySweeper 周期性回收超时预留：一条集合更新把过期的 RESERVED 单元
// 批量还原为 AVAILABLE，每个被清扫的单元补一条系统署名的审计。
// 清扫只命中已越过超时阈值的行，与在线预留/确认并发运行是安全的：
// 在超时前被确认或续期的预留会被时间谓词排除。
type ExpirySweeper struct {
	units   domain.UnitRepository
	audits  domain.AuditRepository
	events  domain.EventPublisher
	tracer  trace.Tracer
	timeout time.Duration

	now func() time.Time
}

// NewExpirySweeper 创建清扫器，timeout 是预留的存活时长
func NewExpirySweeper(
	units domain.UnitRepository,
	audits domain.AuditRepository,
	events domain.EventPublisher,
	tracer trace.Tracer,
	timeout time.Duration,
) *ExpirySweeper {
	if timeout <= 0 {
		timeout = 15 * time.Minute
	}
	return &ExpirySweeper{
		units:   units,
		audits:  audits,
		events:  events,
		tracer:  tracer,
		timeout: timeout,
		now:     time.Now,
	}
}

// Run 以 interval 为周期驱动清扫，直到 ctx 结束。独立于任何单次请求。
func (s *ExpirySweeper) Run(ctx context.Context, interval time.Duration) {
	logger.Logger.Info().
		Dur("interval", interval).
		Dur("timeout", s.timeout).
		Msg("expiry sweeper started")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil {
				logger.Ctx(ctx).Error().Err(err).Msg("expiry sweep failed")
			}
		case <-ctx.Done():
			logger.Logger.Info().Msg("expiry sweeper shutting down")
			return
		}
	}
}

// SweepOnce 执行一轮清扫，返回被还原的单元数
func (s *ExpirySweeper) SweepOnce(ctx context.Context) (int, error) {
	ctx, span := s.tracer.Start(ctx, "inventory.ExpirySweep")
	defer span.End()
	metrics.SweepRuns.Inc()

	deadline := s.now().Add(-s.timeout)
	swept, err := s.units.ReleaseExpired(ctx, deadline)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "bulk release failed")
		return 0, err
	}
	if len(swept) == 0 {
		return 0, nil
	}

	entries := make([]*domain.AuditEntry, 0, len(swept))
	for _, before := range swept {
		// ReleaseExpired 返回还原前的快照，还原后的状态是确定的
		after := before
		afterCopy := *after
		if changed, rerr := afterCopy.Release(s.now()); rerr != nil || !changed {
			// 快照与集合更新的谓词不一致，属于仓储实现缺陷
			logger.Ctx(ctx).Error().Uint64("unit_id", before.ID).Msg("swept unit snapshot was not reserved")
		}
		entries = append(entries, &domain.AuditEntry{
			UnitID:    before.ID,
			Action:    domain.ActionRelease,
			Actor:     domain.SystemActor,
			Reason:    "reservation expired",
			Before:    marshalSnapshot(domain.Snapshot(before)),
			After:     marshalSnapshot(domain.Snapshot(&afterCopy)),
			OrderID:   before.OrderID,
			Channel:   before.ReservedChannel,
			CreatedAt: s.now(),
		})
		publishEvent(ctx, s.events, &afterCopy, domain.ActionRelease, domain.SystemActor)
	}
	if err := s.audits.AppendBatch(ctx, entries); err != nil {
		logger.Ctx(ctx).Error().Err(err).Int("entries", len(entries)).Msg("failed to append sweep audit entries")
	}

	metrics.UnitsSwept.Add(float64(len(swept)))
	span.SetAttributes(attribute.Int("units.swept", len(swept)))
	logger.Ctx(ctx).Info().Int("units", len(swept)).Time("deadline", deadline).Msg("expired reservations reclaimed")
	return len(swept), nil
}
