// internal/service/inventory/application/fulfillment_service.go
package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"serialstock/internal/pkg/logger"
	"serialstock/internal/service/inventory/domain"
)

// errSettledElsewhere 表示冲突重读后发现目标状态已被其他执行者达成
var errSettledElsewhere = errors.New("unit already settled by another actor")

// FulfillmentService 负责预留的终局处理：确认售出或显式释放。
// 两个路径都以已知订单号为作用域。
type FulfillmentService struct {
	units  domain.UnitRepository
	audits domain.AuditRepository
	events domain.EventPublisher
	tracer trace.Tracer

	maxRetries int
	now        func() time.Time
}

// NewFulfillmentService 创建终局处理服务
func NewFulfillmentService(
	units domain.UnitRepository,
	audits domain.AuditRepository,
	events domain.EventPublisher,
	tracer trace.Tracer,
	maxRetries int,
) *FulfillmentService {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &FulfillmentService{
		units:      units,
		audits:     audits,
		events:     events,
		tracer:     tracer,
		maxRetries: maxRetries,
		now:        time.Now,
	}
}

// ConfirmSale 把一组 RESERVED 单元流转为 SOLD。
// 前置条件：每个单元当前的预留订单号必须等于调用方订单号，
// 任何一个不匹配都中止整个调用且不产生任何写入。
func (s *FulfillmentService) ConfirmSale(ctx context.Context, unitIDs []uint64, orderID, actor string) error {
	ctx, span := s.tracer.Start(ctx, "inventory.ConfirmSale", trace.WithAttributes(
		attribute.String("order.id", orderID),
		attribute.Int("units", len(unitIDs)),
	))
	defer span.End()

	if orderID == "" || len(unitIDs) == 0 {
		return errors.New("confirm sale requires order id and unit ids")
	}

	units, err := s.loadAll(ctx, unitIDs)
	if err != nil {
		span.RecordError(err)
		return err
	}

	// 先整体校验归属，再统一写入：校验阶段零副作用
	for _, u := range units {
		if !u.BelongsToOrder(orderID) {
			err := &domain.OwnershipMismatchError{UnitID: u.ID, UnitOrderID: u.OrderID, CallerOrder: orderID}
			span.RecordError(err)
			span.SetStatus(codes.Error, "ownership check failed")
			return err
		}
	}

	for i, u := range units {
		before := domain.Snapshot(u)
		if err := u.ConfirmSale(s.now()); err != nil {
			s.revertConfirmed(ctx, units[:i], orderID, actor)
			return err
		}
		if err := s.saveWithRetry(ctx, u, func(fresh *domain.Unit) error {
			if !fresh.BelongsToOrder(orderID) {
				return &domain.OwnershipMismatchError{UnitID: fresh.ID, UnitOrderID: fresh.OrderID, CallerOrder: orderID}
			}
			return fresh.ConfirmSale(s.now())
		}); err != nil {
			s.revertConfirmed(ctx, units[:i], orderID, actor)
			span.RecordError(err)
			return err
		}
		s.append(ctx, u, domain.ActionConfirmSale, actor, "", before, orderID)
	}

	logger.Ctx(ctx).Info().Str("order_id", orderID).Int("units", len(units)).Msg("sale confirmed")
	return nil
}

// Release 把一组单元从 RESERVED 还原为 AVAILABLE。
// 幂等：已经是 AVAILABLE 的单元跳过而不报错，过期清扫与显式取消可以并发触发。
func (s *FulfillmentService) Release(ctx context.Context, unitIDs []uint64, reason, actor string) error {
	ctx, span := s.tracer.Start(ctx, "inventory.Release", trace.WithAttributes(
		attribute.Int("units", len(unitIDs)),
	))
	defer span.End()

	if len(unitIDs) == 0 {
		return nil
	}

	units, err := s.loadAll(ctx, unitIDs)
	if err != nil {
		span.RecordError(err)
		return err
	}

	for _, u := range units {
		before := domain.Snapshot(u)
		changed, err := u.Release(s.now())
		if err != nil {
			span.RecordError(err)
			return err
		}
		if !changed {
			continue
		}
		orderID := before.OrderID
		if err := s.saveWithRetry(ctx, u, func(fresh *domain.Unit) error {
			ch, rerr := fresh.Release(s.now())
			if rerr != nil {
				return rerr
			}
			if !ch {
				return errSettledElsewhere
			}
			return nil
		}); err != nil {
			// 冲突重读发现别人已经释放：保持幂等，不补写也不补审计
			if errors.Is(err, errSettledElsewhere) {
				continue
			}
			span.RecordError(err)
			return err
		}
		s.append(ctx, u, domain.ActionRelease, actor, reason, before, orderID)
	}

	logger.Ctx(ctx).Info().Int("units", len(units)).Str("reason", reason).Msg("units released")
	return nil
}

// loadAll 加载全部单元，任何缺失 id 都让整个调用失败
func (s *FulfillmentService) loadAll(ctx context.Context, unitIDs []uint64) ([]*domain.Unit, error) {
	units, err := s.units.FindByIDs(ctx, unitIDs)
	if err != nil {
		return nil, err
	}
	if len(units) != len(unitIDs) {
		found := make(map[uint64]bool, len(units))
		for _, u := range units {
			found[u.ID] = true
		}
		for _, id := range unitIDs {
			if !found[id] {
				return nil, fmt.Errorf("unit %d: %w", id, domain.ErrUnitNotFound)
			}
		}
	}
	return units, nil
}

// saveWithRetry 带乐观重试地保存：冲突时重读、用 revalidate 在新版本上重放流转
func (s *FulfillmentService) saveWithRetry(ctx context.Context, unit *domain.Unit, revalidate func(*domain.Unit) error) error {
	var err error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		err = s.units.Save(ctx, unit)
		if err == nil {
			return nil
		}
		if !errors.Is(err, domain.ErrConcurrentModification) {
			return err
		}
		fresh, ferr := s.units.FindByID(ctx, unit.ID)
		if ferr != nil {
			return ferr
		}
		if rerr := revalidate(fresh); rerr != nil {
			return rerr
		}
		*unit = *fresh
	}
	return err
}

// revertConfirmed 把确认途中失败前已 SOLD 的单元回退为 RESERVED 状态不可行，
// 只能记日志并依赖人工干预；通过先校验后写入把这种窗口压到并发冲突一种情形。
func (s *FulfillmentService) revertConfirmed(ctx context.Context, units []*domain.Unit, orderID, actor string) {
	for _, u := range units {
		logger.Ctx(ctx).Error().
			Uint64("unit_id", u.ID).
			Str("order_id", orderID).
			Str("actor", actor).
			Msg("partial sale confirmation detected, manual reconciliation required")
	}
}

func (s *FulfillmentService) append(ctx context.Context, unit *domain.Unit, action domain.Action, actor, reason string, before domain.UnitSnapshot, orderID string) {
	entry := &domain.AuditEntry{
		UnitID:    unit.ID,
		Action:    action,
		Actor:     actor,
		Reason:    reason,
		Before:    marshalSnapshot(before),
		After:     marshalSnapshot(domain.Snapshot(unit)),
		OrderID:   orderID,
		CreatedAt: s.now(),
	}
	if err := s.audits.Append(ctx, entry); err != nil {
		logger.Ctx(ctx).Error().Err(err).Uint64("unit_id", unit.ID).Msg("failed to append audit entry")
	}
	publishEvent(ctx, s.events, unit, action, actor)
}
