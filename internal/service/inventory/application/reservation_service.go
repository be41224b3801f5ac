// internal/service/inventory/application/reservation_service.go
package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"serialstock/internal/pkg/logger"
	"serialstock/internal/pkg/metrics"
	"serialstock/internal/service/inventory/domain"
)

// ReservationService 是预留协调器：按变体聚合需求、加锁、选货、流转、记审计。
// 整个调用全有或全无，任何变体失败都会回滚本次已持有的单元。
type ReservationService struct {
	units  domain.UnitRepository
	audits domain.AuditRepository
	locker domain.Locker
	policy domain.SubstitutionPolicy
	events domain.EventPublisher
	tracer trace.Tracer

	maxRetries int
	now        func() time.Time
}

// NewReservationService 创建预留协调器。events 可以为 nil（不广播）。
func NewReservationService(
	units domain.UnitRepository,
	audits domain.AuditRepository,
	locker domain.Locker,
	policy domain.SubstitutionPolicy,
	events domain.EventPublisher,
	tracer trace.Tracer,
	maxRetries int,
) *ReservationService {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &ReservationService{
		units:      units,
		audits:     audits,
		locker:     locker,
		policy:     policy,
		events:     events,
		tracer:     tracer,
		maxRetries: maxRetries,
		now:        time.Now,
	}
}

// variantLockKey 是按变体互斥的锁键
func variantLockKey(variantID uint64) string {
	return fmt.Sprintf("stock-variant-%d", variantID)
}

// Reserve 为一个订单持有一批单元。
// 返回本次实际锁定的单元 id 列表；失败时保证不留下任何半成品预留。
func (s *ReservationService) Reserve(ctx context.Context, cmd *ReserveCommand) (*ReserveResult, error) {
	ctx, span := s.tracer.Start(ctx, "inventory.Reserve", trace.WithAttributes(
		attribute.String("order.id", cmd.OrderID),
		attribute.String("channel", string(cmd.Channel)),
		attribute.Int("line_items", len(cmd.Items)),
	))
	defer span.End()

	start := s.now()
	defer func() {
		metrics.ReservationDuration.Observe(s.now().Sub(start).Seconds())
	}()

	if cmd.OrderID == "" || len(cmd.Items) == 0 {
		return nil, errors.New("reserve command requires order id and at least one line item")
	}

	pinned, demands, err := s.aggregate(cmd.Items)
	if err != nil {
		return nil, err
	}

	var held []*domain.Unit
	fail := func(cause error, outcome string) (*ReserveResult, error) {
		metrics.ReservationsTotal.WithLabelValues(outcome).Inc()
		span.RecordError(cause)
		span.SetStatus(codes.Error, "reservation failed")
		s.rollback(ctx, held, cmd)
		return nil, cause
	}

	// 钉定单元绕过聚合，逐一校验 AVAILABLE 后直接流转
	for _, unitID := range pinned {
		unit, err := s.reservePinned(ctx, unitID, cmd)
		if err != nil {
			return fail(err, outcomeOf(err))
		}
		held = append(held, unit)
	}

	// 变体按 id 排序，使并发调用的加锁顺序可预测
	keys := make([]uint64, 0, len(demands))
	for v := range demands {
		keys = append(keys, v)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	for _, variantID := range keys {
		units, err := s.reserveVariant(ctx, demands[variantID], cmd)
		// 失败路径也要把该变体内已流转的单元并入回滚集合
		held = append(held, units...)
		if err != nil {
			return fail(err, outcomeOf(err))
		}
	}

	ids := make([]uint64, len(held))
	for i, u := range held {
		ids[i] = u.ID
	}
	metrics.ReservationsTotal.WithLabelValues("success").Inc()
	span.SetAttributes(attribute.Int("units.held", len(ids)))
	logger.Ctx(ctx).Info().
		Str("order_id", cmd.OrderID).
		Int("units", len(ids)).
		Msg("reservation completed")
	return &ReserveResult{OrderID: cmd.OrderID, UnitIDs: ids}, nil
}

// aggregate 实现聚合不变式：同一变体的多行需求先求和，再发起唯一一次候选查询。
// 两行各要 1 台的同变体请求必须被当作“该变体要 2 台”处理，
// 按行独立查询会在并发和替代候选上产生重叠选择，这是一个历史缺陷的根源。
func (s *ReservationService) aggregate(items []LineItem) (pinned []uint64, demands map[uint64]*variantDemand, err error) {
	demands = make(map[uint64]*variantDemand)
	for _, item := range items {
		if item.UnitID != 0 {
			pinned = append(pinned, item.UnitID)
			continue
		}
		if item.VariantID == 0 || item.Quantity <= 0 {
			return nil, nil, fmt.Errorf("invalid line item: variant %d quantity %d", item.VariantID, item.Quantity)
		}
		d, ok := demands[item.VariantID]
		if !ok {
			d = &variantDemand{variantID: item.VariantID}
			demands[item.VariantID] = d
		}
		d.quantity += item.Quantity
		d.allowSubstitution = d.allowSubstitution || item.AllowSubstitution
	}
	return pinned, demands, nil
}

// reserveVariant 在变体锁内完成选货与流转。锁的作用域只覆盖这一个变体。
func (s *ReservationService) reserveVariant(ctx context.Context, d *variantDemand, cmd *ReserveCommand) ([]*domain.Unit, error) {
	release, err := s.locker.Acquire(ctx, variantLockKey(d.variantID))
	if err != nil {
		return nil, err
	}
	defer release()

	// 精确变体候选，FIFO：最老的库存先出，避免旧货滞留
	candidates, err := s.units.FindAvailableByVariant(ctx, d.variantID, d.quantity)
	if err != nil {
		return nil, err
	}

	// 缺口走同规格兄弟变体补齐，前提是调用方允许且策略放行
	if len(candidates) < d.quantity && d.allowSubstitution {
		shortfall := d.quantity - len(candidates)
		allowed, perr := s.policy.AllowFallback(ctx, domain.PolicyInput{
			Channel:   cmd.Channel,
			VariantID: d.variantID,
			Requested: d.quantity,
			Shortfall: shortfall,
		})
		if perr != nil {
			return nil, perr
		}
		if allowed {
			variant, verr := s.units.FindVariant(ctx, d.variantID)
			if verr != nil {
				return nil, verr
			}
			siblings, serr := s.units.FindAvailableBySpec(ctx, variant.ProductID, variant.Spec, d.variantID, shortfall)
			if serr != nil {
				return nil, serr
			}
			candidates = append(candidates, siblings...)
		}
	}

	// 精确加替代仍不够量，对该变体整体报缺，调用级回滚由上层完成
	if len(candidates) < d.quantity {
		return nil, &domain.InsufficientStockError{
			VariantID: d.variantID,
			Requested: d.quantity,
			Available: len(candidates),
		}
	}

	reserved := make([]*domain.Unit, 0, d.quantity)
	for _, unit := range candidates[:d.quantity] {
		u, err := s.reserveUnit(ctx, unit, cmd)
		if err != nil {
			// 同一变体内已流转的单元交给调用级回滚
			return reserved, err
		}
		reserved = append(reserved, u)
	}
	return reserved, nil
}

// reservePinned 校验并流转调用方钉定的单元
func (s *ReservationService) reservePinned(ctx context.Context, unitID uint64, cmd *ReserveCommand) (*domain.Unit, error) {
	unit, err := s.units.FindByID(ctx, unitID)
	if err != nil {
		return nil, err
	}

	release, err := s.locker.Acquire(ctx, variantLockKey(unit.VariantID))
	if err != nil {
		return nil, err
	}
	defer release()

	// 锁内重读，锁外的读不作数
	unit, err = s.units.FindByID(ctx, unitID)
	if err != nil {
		return nil, err
	}
	if unit.Status != domain.StatusAvailable {
		return nil, &domain.InvalidTransitionError{UnitID: unit.ID, From: unit.Status, To: domain.StatusReserved}
	}
	return s.reserveUnit(ctx, unit, cmd)
}

// reserveUnit 执行单元级流转与乐观重试：版本冲突时重读、复验 AVAILABLE、
// 有界次数内重试，超限后以瞬时错误上抛，调用方可整体重试。
func (s *ReservationService) reserveUnit(ctx context.Context, unit *domain.Unit, cmd *ReserveCommand) (*domain.Unit, error) {
	at := s.now()
	for attempt := 0; ; attempt++ {
		before := domain.Snapshot(unit)
		if err := unit.Reserve(at, cmd.Channel, cmd.OrderID); err != nil {
			return nil, err
		}
		err := s.units.Save(ctx, unit)
		if err == nil {
			s.record(ctx, unit, domain.ActionReserve, cmd.Actor, "", before, cmd)
			metrics.UnitsReserved.Inc()
			return unit, nil
		}
		if !errors.Is(err, domain.ErrConcurrentModification) {
			return nil, err
		}
		metrics.OptimisticConflicts.Inc()
		if attempt >= s.maxRetries {
			logger.Ctx(ctx).Error().
				Uint64("unit_id", unit.ID).
				Int("attempts", attempt+1).
				Str("order_id", cmd.OrderID).
				Msg("optimistic retry budget exhausted")
			return nil, fmt.Errorf("unit %d: %w", unit.ID, domain.ErrConcurrentModification)
		}
		fresh, ferr := s.units.FindByID(ctx, unit.ID)
		if ferr != nil {
			return nil, ferr
		}
		if fresh.Status != domain.StatusAvailable {
			return nil, fmt.Errorf("unit %d taken by another writer: %w", unit.ID, domain.ErrConcurrentModification)
		}
		unit = fresh
	}
}

// rollback 释放本次调用已持有的单元。回滚失败只能记日志，留给过期清扫兜底。
func (s *ReservationService) rollback(ctx context.Context, held []*domain.Unit, cmd *ReserveCommand) {
	for _, unit := range held {
		before := domain.Snapshot(unit)
		changed, err := unit.Release(s.now())
		if err == nil && changed {
			err = s.units.Save(ctx, unit)
		}
		if err != nil {
			logger.Ctx(ctx).Error().Err(err).
				Uint64("unit_id", unit.ID).
				Str("order_id", cmd.OrderID).
				Msg("rollback failed, expiry sweep will reclaim the hold")
			continue
		}
		if changed {
			s.record(ctx, unit, domain.ActionRelease, cmd.Actor, "reservation rolled back", before, cmd)
		}
	}
}

// record 写入一条审计并广播事件。审计失败视为调用失败之外的严重事件，只记日志。
func (s *ReservationService) record(ctx context.Context, unit *domain.Unit, action domain.Action, actor, reason string, before domain.UnitSnapshot, cmd *ReserveCommand) {
	entry := &domain.AuditEntry{
		UnitID:    unit.ID,
		Action:    action,
		Actor:     actor,
		Reason:    reason,
		Before:    marshalSnapshot(before),
		After:     marshalSnapshot(domain.Snapshot(unit)),
		OrderID:   cmd.OrderID,
		Channel:   cmd.Channel,
		CreatedAt: s.now(),
	}
	if err := s.audits.Append(ctx, entry); err != nil {
		logger.Ctx(ctx).Error().Err(err).Uint64("unit_id", unit.ID).Msg("failed to append audit entry")
	}
	publishEvent(ctx, s.events, unit, action, actor)
}

func marshalSnapshot(s domain.UnitSnapshot) string {
	b, err := json.Marshal(s)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// publishEvent 尽力而为地广播状态流转，失败不影响调用结果
func publishEvent(ctx context.Context, events domain.EventPublisher, unit *domain.Unit, action domain.Action, actor string) {
	if events == nil {
		return
	}
	evt := &domain.StockEvent{
		UnitID:    unit.ID,
		Serial:    unit.Serial,
		VariantID: unit.VariantID,
		Action:    action,
		Status:    unit.Status,
		OrderID:   unit.OrderID,
		Channel:   unit.ReservedChannel,
		Actor:     actor,
		At:        time.Now(),
	}
	if err := events.Publish(ctx, evt); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Uint64("unit_id", unit.ID).Msg("failed to publish stock event")
	}
}

// outcomeOf 把错误映射为指标标签
func outcomeOf(err error) string {
	var insufficient *domain.InsufficientStockError
	switch {
	case errors.As(err, &insufficient):
		return "insufficient"
	case errors.Is(err, domain.ErrConcurrentModification):
		return "conflict"
	case errors.Is(err, domain.ErrLockTimeout):
		return "lock_timeout"
	default:
		return "error"
	}
}
