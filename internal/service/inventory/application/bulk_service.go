// internal/service/inventory/application/bulk_service.go
package application

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"serialstock/internal/pkg/logger"
	"serialstock/internal/service/inventory/domain"
)

// BulkService 是批量操作引擎：生成、导入、导出、批量流转。
// 复用协调器的变体锁与审计原语，但输入是显式 id 列表而非按量请求；
// 管理类批量编辑容忍部分生效，逐项失败累积进 BatchResult。
type BulkService struct {
	units  domain.UnitRepository
	audits domain.AuditRepository
	locker domain.Locker
	events domain.EventPublisher
	tracer trace.Tracer

	maxRetries int
	now        func() time.Time
}

// NewBulkService 创建批量操作引擎
func NewBulkService(
	units domain.UnitRepository,
	audits domain.AuditRepository,
	locker domain.Locker,
	events domain.EventPublisher,
	tracer trace.Tracer,
	maxRetries int,
) *BulkService {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &BulkService{
		units:      units,
		audits:     audits,
		locker:     locker,
		events:     events,
		tracer:     tracer,
		maxRetries: maxRetries,
		now:        time.Now,
	}
}

// Generate 按命名模式为一个变体生成 count 个 AVAILABLE 单元，
// 序列号连续编号并共享同一个批次 id。
// 任何一个生成的序列号与现存序列号冲突，整批拒绝。
func (s *BulkService) Generate(ctx context.Context, variantID uint64, count int, pattern, actor string) ([]uint64, error) {
	ctx, span := s.tracer.Start(ctx, "inventory.BulkGenerate", trace.WithAttributes(
		attribute.Int64("variant.id", int64(variantID)),
		attribute.Int("count", count),
	))
	defer span.End()

	if count <= 0 {
		return nil, errors.New("generate count must be positive")
	}
	if !strings.Contains(pattern, "%") {
		return nil, fmt.Errorf("pattern %q has no sequence placeholder", pattern)
	}
	if _, err := s.units.FindVariant(ctx, variantID); err != nil {
		return nil, err
	}

	release, err := s.locker.Acquire(ctx, variantLockKey(variantID))
	if err != nil {
		return nil, err
	}
	defer release()

	batchID := uuid.New().String()
	at := s.now()
	units := make([]*domain.Unit, 0, count)
	for i := 1; i <= count; i++ {
		serial := fmt.Sprintf(pattern, i)
		exists, err := s.units.ExistsSerial(ctx, serial)
		if err != nil {
			return nil, err
		}
		if exists {
			span.RecordError(domain.ErrDuplicateSerial)
			return nil, fmt.Errorf("serial %q: %w", serial, domain.ErrDuplicateSerial)
		}
		units = append(units, &domain.Unit{
			Serial:    serial,
			VariantID: variantID,
			Status:    domain.StatusAvailable,
			BatchID:   batchID,
			CreatedAt: at,
			UpdatedAt: at,
		})
	}

	// 单事务整批插入，唯一键冲突整批回滚，兜住检查与插入之间的窗口
	if err := s.units.CreateBatch(ctx, units); err != nil {
		return nil, err
	}

	entries := make([]*domain.AuditEntry, len(units))
	ids := make([]uint64, len(units))
	for i, u := range units {
		ids[i] = u.ID
		entries[i] = &domain.AuditEntry{
			UnitID:    u.ID,
			Action:    domain.ActionCreate,
			Actor:     actor,
			Reason:    "bulk generation",
			After:     marshalSnapshot(domain.Snapshot(u)),
			BatchID:   batchID,
			CreatedAt: at,
		}
	}
	if err := s.audits.AppendBatch(ctx, entries); err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("batch_id", batchID).Msg("failed to append generation audit entries")
	}

	logger.Ctx(ctx).Info().
		Str("batch_id", batchID).
		Int("count", count).
		Uint64("variant_id", variantID).
		Msg("units generated")
	return ids, nil
}

// Transition 对显式 id 列表逐个应用目标状态，逐项累积成败。
// 与全有或全无的预留调用刻意不同：单个坏行不应拖垮整批管理编辑。
func (s *BulkService) Transition(ctx context.Context, unitIDs []uint64, target domain.Status, reason, actor string) *BatchResult {
	ctx, span := s.tracer.Start(ctx, "inventory.BulkTransition", trace.WithAttributes(
		attribute.String("target", string(target)),
		attribute.Int("units", len(unitIDs)),
	))
	defer span.End()

	result := &BatchResult{Attempted: len(unitIDs)}
	batchOpID := uuid.New().String()
	for _, id := range unitIDs {
		if err := s.transitionOne(ctx, id, target, reason, actor, batchOpID); err != nil {
			result.fail(ItemFailure{UnitID: id, Reason: err.Error()})
			continue
		}
		result.Succeeded++
	}

	span.SetAttributes(attribute.Int("succeeded", result.Succeeded), attribute.Int("failed", result.Failed))
	logger.Ctx(ctx).Info().
		Str("batch_op_id", batchOpID).
		Str("target", string(target)).
		Int("succeeded", result.Succeeded).
		Int("failed", result.Failed).
		Msg("bulk transition finished")
	return result
}

// transitionOne 与预留路径共用锁和乐观版本纪律
func (s *BulkService) transitionOne(ctx context.Context, unitID uint64, target domain.Status, reason, actor, batchOpID string) error {
	unit, err := s.units.FindByID(ctx, unitID)
	if err != nil {
		return err
	}

	release, err := s.locker.Acquire(ctx, variantLockKey(unit.VariantID))
	if err != nil {
		return err
	}
	defer release()

	unit, err = s.units.FindByID(ctx, unitID)
	if err != nil {
		return err
	}

	for attempt := 0; ; attempt++ {
		before := domain.Snapshot(unit)
		if err := unit.TransitionTo(target, s.now()); err != nil {
			return err
		}
		err := s.units.Save(ctx, unit)
		if err == nil {
			s.appendEntry(ctx, unit, domain.ActionStatusChange, actor, reason, before, batchOpID)
			return nil
		}
		if !errors.Is(err, domain.ErrConcurrentModification) || attempt >= s.maxRetries {
			return err
		}
		fresh, ferr := s.units.FindByID(ctx, unitID)
		if ferr != nil {
			return ferr
		}
		unit = fresh
	}
}

// Import 解析外部表格流并逐行建档。
// 坏行（格式、未知变体、重复序列号）单独拒绝，不影响其余行。
func (s *BulkService) Import(ctx context.Context, r io.Reader, actor string) *BatchResult {
	ctx, span := s.tracer.Start(ctx, "inventory.BulkImport")
	defer span.End()

	result := &BatchResult{}
	rows, failures, err := ReadUnitRows(r)
	if err != nil {
		result.fail(ItemFailure{Reason: err.Error()})
		return result
	}
	result.Attempted = len(rows) + len(failures)
	for _, f := range failures {
		result.fail(f)
	}

	batchOpID := uuid.New().String()
	at := s.now()
	for _, row := range rows {
		if err := s.importRow(ctx, row, actor, batchOpID, at); err != nil {
			result.fail(ItemFailure{Serial: row.Serial, Reason: err.Error()})
			continue
		}
		result.Succeeded++
	}

	span.SetAttributes(attribute.Int("succeeded", result.Succeeded), attribute.Int("failed", result.Failed))
	logger.Ctx(ctx).Info().
		Str("batch_op_id", batchOpID).
		Int("succeeded", result.Succeeded).
		Int("failed", result.Failed).
		Msg("import finished")
	return result
}

func (s *BulkService) importRow(ctx context.Context, row UnitRow, actor, batchOpID string, at time.Time) error {
	if _, err := s.units.FindVariant(ctx, row.VariantID); err != nil {
		return err
	}
	batchID := row.BatchID
	if batchID == "" {
		batchID = batchOpID
	}
	unit := &domain.Unit{
		Serial:       row.Serial,
		VariantID:    row.VariantID,
		Status:       domain.StatusAvailable,
		BatchID:      batchID,
		Supplier:     row.Supplier,
		WarrantyFrom: row.WarrantyFrom,
		WarrantyTo:   row.WarrantyTo,
		CreatedAt:    at,
		UpdatedAt:    at,
	}
	if err := s.units.Create(ctx, unit); err != nil {
		return err
	}
	entry := &domain.AuditEntry{
		UnitID:    unit.ID,
		Action:    domain.ActionCreate,
		Actor:     actor,
		Reason:    "import",
		After:     marshalSnapshot(domain.Snapshot(unit)),
		BatchID:   batchOpID,
		CreatedAt: at,
	}
	if err := s.audits.Append(ctx, entry); err != nil {
		logger.Ctx(ctx).Error().Err(err).Uint64("unit_id", unit.ID).Msg("failed to append import audit entry")
	}
	return nil
}

// Export 把给定 id 列表序列化为外部表格格式
func (s *BulkService) Export(ctx context.Context, unitIDs []uint64, w io.Writer) error {
	ctx, span := s.tracer.Start(ctx, "inventory.BulkExport", trace.WithAttributes(
		attribute.Int("units", len(unitIDs)),
	))
	defer span.End()

	units, err := s.units.FindByIDs(ctx, unitIDs)
	if err != nil {
		return err
	}
	rows := make([]UnitRow, len(units))
	for i, u := range units {
		rows[i] = UnitRow{
			Serial:       u.Serial,
			VariantID:    u.VariantID,
			BatchID:      u.BatchID,
			Supplier:     u.Supplier,
			WarrantyFrom: u.WarrantyFrom,
			WarrantyTo:   u.WarrantyTo,
		}
	}
	return WriteUnitRows(w, rows)
}

func (s *BulkService) appendEntry(ctx context.Context, unit *domain.Unit, action domain.Action, actor, reason string, before domain.UnitSnapshot, batchOpID string) {
	entry := &domain.AuditEntry{
		UnitID:    unit.ID,
		Action:    action,
		Actor:     actor,
		Reason:    reason,
		Before:    marshalSnapshot(before),
		After:     marshalSnapshot(domain.Snapshot(unit)),
		BatchID:   batchOpID,
		CreatedAt: s.now(),
	}
	if err := s.audits.Append(ctx, entry); err != nil {
		logger.Ctx(ctx).Error().Err(err).Uint64("unit_id", unit.ID).Msg("failed to append audit entry")
	}
	publishEvent(ctx, s.events, unit, action, actor)
}
